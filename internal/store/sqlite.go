package store

/*
blockcrack — recovers obfuscated domains from Mastodon instance block lists
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const createObjectsTable = `
CREATE TABLE IF NOT EXISTS objects (
    namespace  TEXT NOT NULL,
    kind       TEXT NOT NULL,
    id         TEXT NOT NULL,
    value      TEXT NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (namespace, kind, id)
);
`

// SQLiteStore keeps one row per object. Every Set commits on its own, so
// Save has nothing left to flush.
type SQLiteStore struct {
	db        *sql.DB
	path      string
	namespace string
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path, namespace string) (*SQLiteStore, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store %s: %w", path, err)
	}
	// One writer; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA encoding = 'UTF-8'",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		createObjectsTable,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialise sqlite store %s: %w", path, err)
		}
	}
	return &SQLiteStore{db: db, path: path, namespace: namespace}, nil
}

func (s *SQLiteStore) Namespace() string { return s.namespace }

func (s *SQLiteStore) Get(kind, id string, out any) (bool, error) {
	if _, err := ObjectKey(kind, id); err != nil {
		return false, err
	}
	var raw string
	err := s.db.QueryRow(
		"SELECT value FROM objects WHERE namespace = ? AND kind = ? AND id = ?",
		s.namespace, kind, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s:%s: %w", kind, id, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return true, fmt.Errorf("failed to decode %s:%s: %w", kind, id, err)
	}
	return true, nil
}

func (s *SQLiteStore) Set(kind, id string, value any) (bool, error) {
	if _, err := ObjectKey(kind, id); err != nil {
		return false, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to encode %s:%s: %w", kind, id, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRow(
		"SELECT COUNT(*) FROM objects WHERE namespace = ? AND kind = ? AND id = ?",
		s.namespace, kind, id,
	).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to look up %s:%s: %w", kind, id, err)
	}

	if _, err := tx.Exec(`
INSERT INTO objects (namespace, kind, id, value, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(namespace, kind, id) DO UPDATE SET
    value = excluded.value,
    updated_at = excluded.updated_at;
`, s.namespace, kind, id, string(raw), time.Now().Unix()); err != nil {
		return false, fmt.Errorf("failed to write %s:%s: %w", kind, id, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit %s:%s: %w", kind, id, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) IDs(kind string) ([]string, error) {
	if _, err := ObjectKey(kind, "_"); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(
		"SELECT id FROM objects WHERE namespace = ? AND kind = ? ORDER BY id",
		s.namespace, kind,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Save is a no-op: rows are durable once Set returns.
func (s *SQLiteStore) Save() error { return nil }

func (s *SQLiteStore) Close() error { return s.db.Close() }

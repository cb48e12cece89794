/*
Package store persists namespaced objects for blockcrack. Objects are addressed by
a kind and an id and stored as JSON. Two backends are provided: a single JSON
document loaded and saved wholesale, and a SQLite database.
*/
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
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultNamespace scopes every object written by blockcrack.
const DefaultNamespace = "mastodon-blocks"

// KeySeparator joins kind and id into the composite object key.
const KeySeparator = ":"

// Backend names accepted by Open.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

var (
	// ErrInvalidKey is returned for an empty kind or id, or a kind containing KeySeparator.
	ErrInvalidKey = errors.New("invalid object key")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
)

// Store is a namespaced object store. Values are encoded as JSON on Set and
// decoded into out on Get. IDs are returned sorted.
//
// Implementations are safe for concurrent use, though blockcrack only ever
// has a single writer.
type Store interface {
	// Get decodes the object into out. It reports false when there is none.
	Get(kind, id string, out any) (bool, error)
	// Set stores value and reports whether an object was replaced.
	Set(kind, id string, value any) (bool, error)
	// IDs lists the ids stored under kind, in lexical order.
	IDs(kind string) ([]string, error)
	// Save makes every Set so far durable.
	Save() error
	Close() error
	Namespace() string
}

// ObjectKey returns the composite key "kind:id". Kinds may not contain the
// separator so that the split back into kind and id is unambiguous. Ids may:
// instance names carry a port ("host:8080").
func ObjectKey(kind, id string) (string, error) {
	switch {
	case kind == "":
		return "", fmt.Errorf("%w: empty kind", ErrInvalidKey)
	case strings.Contains(kind, KeySeparator):
		return "", fmt.Errorf("%w: kind %q contains %q", ErrInvalidKey, kind, KeySeparator)
	case id == "":
		return "", fmt.Errorf("%w: empty id for kind %q", ErrInvalidKey, kind)
	}
	return kind + KeySeparator + id, nil
}

// SplitKey is the inverse of ObjectKey.
func SplitKey(key string) (kind, id string, ok bool) {
	kind, id, ok = strings.Cut(key, KeySeparator)
	if !ok || kind == "" || id == "" {
		return "", "", false
	}
	return kind, id, true
}

// Open opens the store at path. An empty backend is inferred from the file
// extension: ".db", ".sqlite" and ".sqlite3" select SQLite, anything else JSON.
func Open(backend, path, namespace string) (Store, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if backend == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".db", ".sqlite", ".sqlite3":
			backend = BackendSQLite
		default:
			backend = BackendJSON
		}
	}

	switch backend {
	case BackendJSON:
		return OpenJSON(path, namespace)
	case BackendSQLite:
		return OpenSQLite(path, namespace)
	default:
		return nil, fmt.Errorf("unknown store backend %q (want %s or %s)", backend, BackendJSON, BackendSQLite)
	}
}

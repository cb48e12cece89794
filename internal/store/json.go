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
	"encoding/json"
	"errors"
	"fmt"
	stdio "io"
	"log"
	"os"
	"sort"
	"sync"

	bcio "github.com/x-stp/blockcrack/internal/io"
)

// document is the on-disk shape: {namespace: {"kind:id": value}}.
type document map[string]map[string]json.RawMessage

// JSONStore keeps the whole document in memory. Save rewrites the file
// atomically; other namespaces in the file are carried through unchanged.
type JSONStore struct {
	path      string
	namespace string

	mu      sync.RWMutex
	doc     document
	objects map[string]json.RawMessage // doc[namespace]
	closed  bool
}

var _ Store = (*JSONStore)(nil)

// OpenJSON loads the document at path. A missing file is an empty store.
// Paths ending in ".gz" are read and written gzip-compressed.
func OpenJSON(path, namespace string) (*JSONStore, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	s := &JSONStore{path: path, namespace: namespace, doc: document{}}

	rc, err := bcio.OpenReader(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Printf("Store %s does not exist yet, starting empty.", path)
	case err != nil:
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	default:
		defer rc.Close()
		if err := json.NewDecoder(rc).Decode(&s.doc); err != nil && !errors.Is(err, stdio.EOF) {
			return nil, fmt.Errorf("failed to decode store %s: %w", path, err)
		}
	}

	s.objects = s.doc[namespace]
	if s.objects == nil {
		s.objects = map[string]json.RawMessage{}
		s.doc[namespace] = s.objects
	}
	return s, nil
}

func (s *JSONStore) Namespace() string { return s.namespace }

// Path is the file backing the store.
func (s *JSONStore) Path() string { return s.path }

func (s *JSONStore) Get(kind, id string, out any) (bool, error) {
	key, err := ObjectKey(kind, id)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	raw, ok := s.objects[key]
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return false, ErrClosed
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (s *JSONStore) Set(kind, id string, value any) (bool, error) {
	key, err := ObjectKey(kind, id)
	if err != nil {
		return false, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to encode %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	_, existed := s.objects[key]
	s.objects[key] = raw
	return existed, nil
}

func (s *JSONStore) IDs(kind string) ([]string, error) {
	if _, err := ObjectKey(kind, "_"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var ids []string
	for key := range s.objects {
		// Keys written by hand without a kind or id are not listed.
		if k, id, ok := SplitKey(key); ok && k == kind {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Save writes the whole document. encoding/json sorts map keys, so equal
// contents produce byte-identical files.
func (s *JSONStore) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return bcio.WriteFileAtomic(s.path, "store_save", func(w stdio.Writer) error {
		if err := json.NewEncoder(w).Encode(s.doc); err != nil {
			return fmt.Errorf("failed to encode store: %w", err)
		}
		return nil
	})
}

// Close releases the store without saving.
func (s *JSONStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

package blocklist

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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	bcio "github.com/x-stp/blockcrack/internal/io"
	"github.com/x-stp/blockcrack/internal/util"
)

// SaveSnapshot writes bl to dir as a timestamped JSON file and returns its path.
func SaveSnapshot(dir string, bl *BlockList, compress bool) (string, error) {
	at := bl.FetchedAt
	if at.IsZero() {
		at = time.Now()
	}
	path := filepath.Join(dir, util.SnapshotFilename(bl.Source, at, compress))
	err := bcio.WriteFileAtomic(path, "snapshot", func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(bl)
	})
	if err != nil {
		return "", fmt.Errorf("failed to write snapshot of %s: %w", bl.Source, err)
	}
	return path, nil
}

// LoadSnapshot reads one snapshot file.
func LoadSnapshot(path string) (*BlockList, error) {
	rc, err := bcio.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	bl := &BlockList{}
	if err := json.NewDecoder(rc).Decode(bl); err != nil {
		return nil, fmt.Errorf("error parsing snapshot %s: %w", path, err)
	}
	if bl.Source == "" {
		return nil, fmt.Errorf("snapshot %s names no source", path)
	}
	return bl, nil
}

// LoadSnapshots reads every snapshot in dir. When a source has several, only
// the most recent (by FetchedAt) is returned. Results are ordered by source.
func LoadSnapshots(dir string) ([]*BlockList, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading snapshot directory: %w", err)
	}

	latest := make(map[string]*BlockList)
	for _, e := range entries {
		if e.IsDir() || !util.IsSnapshotFilename(e.Name()) {
			continue
		}
		bl, err := LoadSnapshot(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if prev, ok := latest[bl.Source]; !ok || bl.FetchedAt.After(prev.FetchedAt) {
			latest[bl.Source] = bl
		}
	}

	out := make([]*BlockList, 0, len(latest))
	for _, bl := range latest {
		out = append(out, bl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}

package util

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
	"strings"
	"time"
)

// SnapshotSuffix ends every block-list snapshot file name.
const SnapshotSuffix = "_blocklist.json"

// SanitizeFilename makes a filesystem-safe name from a host or other string.
// Problematic characters become underscores; the result is capped at 100 bytes.
func SanitizeFilename(input string) string {
	replaced := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, input)
	if len(replaced) > 100 {
		return replaced[:100]
	}
	return replaced
}

// SnapshotFilename names the snapshot of source taken at t, e.g.
// "mastodon.social_20250102T150405Z_blocklist.json". Names of one source sort
// chronologically. compress appends ".gz".
func SnapshotFilename(source string, t time.Time, compress bool) string {
	name := SanitizeFilename(source) + "_" + t.UTC().Format("20060102T150405Z") + SnapshotSuffix
	if compress {
		name += ".gz"
	}
	return name
}

// IsSnapshotFilename reports whether name looks like a snapshot file.
func IsSnapshotFilename(name string) bool {
	name = strings.TrimSuffix(name, ".gz")
	return strings.HasSuffix(name, SnapshotSuffix)
}

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
	"path/filepath"
	"testing"
	"time"
)

func TestNormalizeSource(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{"Plain host", "mastodon.social", "mastodon.social", false},
		{"Uppercase and spaces", "  Mastodon.Social ", "mastodon.social", false},
		{"URL with path", "https://mstdn.jp/about", "mstdn.jp", false},
		{"Trailing dot", "mas.to.", "mas.to", false},
		{"Path without scheme", "home.social/explore", "home.social", false},
		{"Port kept", "127.0.0.1:8080", "127.0.0.1:8080", false},
		{"IDN", "bücher.example", "xn--bcher-kva.example", false},
		{"Empty", "   ", "", true},
		{"Scheme only", "https://", "", true},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeSource(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("NormalizeSource(%q) = %q, expected error", tc.input, got)
				}
				return
			}
			if err != nil || got != tc.expected {
				t.Fatalf("NormalizeSource(%q) = %q, %v; want %q", tc.input, got, err, tc.expected)
			}
		})
	}
}

func TestNormalizeSourcesDropsDuplicates(t *testing.T) {
	t.Parallel()

	got, err := NormalizeSources([]string{"mas.to", "MAS.TO", "https://mstdn.jp/", "mas.to."})
	if err != nil {
		t.Fatalf("NormalizeSources: %v", err)
	}
	if len(got) != 2 || got[0] != "mas.to" || got[1] != "mstdn.jp" {
		t.Fatalf("NormalizeSources = %v", got)
	}
}

func TestSnapshotsKeepLatestPerSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	lists := []*BlockList{
		{Source: "mas.to", FetchedAt: t0, Entries: []DomainBlock{{Domain: "old.example"}}},
		{Source: "mas.to", FetchedAt: t0.Add(time.Hour), Entries: []DomainBlock{{Domain: "new.example", Severity: SeveritySuspend}}},
		{Source: "mstdn.jp", FetchedAt: t0, Entries: []DomainBlock{{Domain: "j*.example"}}},
	}
	for i, bl := range lists {
		if _, err := SaveSnapshot(dir, bl, i%2 == 0); err != nil {
			t.Fatalf("SaveSnapshot: %v", err)
		}
	}

	got, err := LoadSnapshots(dir)
	if err != nil {
		t.Fatalf("LoadSnapshots: %v", err)
	}
	if len(got) != 2 || got[0].Source != "mas.to" || got[1].Source != "mstdn.jp" {
		t.Fatalf("LoadSnapshots returned %d lists", len(got))
	}
	if got[0].Entries[0].Domain != "new.example" || !got[0].FetchedAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("expected latest mas.to snapshot, got %+v", got[0])
	}

	if _, err := LoadSnapshots(filepath.Join(dir, "missing")); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}

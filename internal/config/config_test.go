package config

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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/x-stp/blockcrack/internal/blocklist"
	"github.com/x-stp/blockcrack/internal/core"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blockcrack.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Database != DefaultDatabase || c.Namespace != "mastodon-blocks" {
		t.Fatalf("unexpected store defaults: %q %q", c.Database, c.Namespace)
	}
	if len(c.Sources) != len(blocklist.DefaultSources) {
		t.Fatalf("expected default sources, got %v", c.Sources)
	}
	if c.Crack.MaxCombinations != core.DefaultMaxCombinations || c.Crack.Workers != 0 {
		t.Fatalf("unexpected crack defaults: %+v", c.Crack)
	}
	if fc := c.FetcherConfig(); fc.Retries != blocklist.DefaultRetries || fc.UserAgent != blocklist.DefaultUserAgent {
		t.Fatalf("unexpected fetcher config: %+v", fc)
	}

	// Defaults do not share the package-level source slice.
	c.Sources[0] = "changed"
	if blocklist.DefaultSources[0] == "changed" {
		t.Fatalf("Default aliases DefaultSources")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
database: state.db
store: sqlite
sources: [mas.to, home.social]
fetch:
  timeout: 5s
  retries: 0
crack:
  workers: 3
  max_combinations: 1000
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Database != "state.db" || c.Store != "sqlite" || len(c.Sources) != 2 {
		t.Fatalf("overrides not applied: %+v", c)
	}
	if time.Duration(c.Fetch.Timeout) != 5*time.Second || c.Crack.Workers != 3 || c.Crack.MaxCombinations != 1000 {
		t.Fatalf("nested overrides not applied: %+v %+v", c.Fetch, c.Crack)
	}
	// Untouched keys keep their defaults.
	if c.Namespace != "mastodon-blocks" || c.Fetch.Concurrency != blocklist.DefaultConcurrency {
		t.Fatalf("defaults lost: %+v", c)
	}
	if fc := c.FetcherConfig(); fc.Retries != -1 {
		t.Fatalf("retries: 0 should disable retries, got %d", fc.Retries)
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		body string
		want string
	}{
		{"Unknown key", "databse: x.json\n", "databse"},
		{"Bad duration", "fetch:\n  timeout: soon\n", "invalid duration"},
		{"Bad store", "store: bolt\n", "store must be"},
		{"Too many workers", "crack:\n  workers: 100000\n", "crack.workers"},
		{"Bad source", "sources: ['  ']\n", "sources"},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	t.Parallel()

	c := Default()
	c.Crack.Verbose = true
	out, err := c.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(out), "timeout: 30s") {
		t.Fatalf("durations not rendered as text:\n%s", out)
	}

	back, err := Load(writeConfig(t, string(out)))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !back.Crack.Verbose || back.Fetch.Timeout != c.Fetch.Timeout || len(back.Sources) != len(c.Sources) {
		t.Fatalf("round trip lost values: %+v", back)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for a missing config file")
	}
}

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

/*
Package config loads the blockcrack YAML configuration. Values resolve in the
order defaults, then config file, then command-line flags; the flag layer is
applied by the CLI.
*/

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/x-stp/blockcrack/internal/blocklist"
	"github.com/x-stp/blockcrack/internal/core"
	"github.com/x-stp/blockcrack/internal/store"

	"gopkg.in/yaml.v3"
)

// DefaultDatabase is the store file used when none is configured.
const DefaultDatabase = "database.json"

// Duration is a time.Duration written as "30s" in YAML.
type Duration time.Duration

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", node.Line, node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the full configuration.
type Config struct {
	Database    string   `yaml:"database"`
	Namespace   string   `yaml:"namespace"`
	Store       string   `yaml:"store"` // "json", "sqlite" or empty to infer from Database.
	MetricsAddr string   `yaml:"metrics_addr"`
	Sources     []string `yaml:"sources"`

	Fetch struct {
		Timeout       Duration `yaml:"timeout"`
		RatePerSecond float64  `yaml:"rate_per_second"`
		Burst         int      `yaml:"burst"`
		Retries       int      `yaml:"retries"`
		RetryDelay    Duration `yaml:"retry_delay"`
		Concurrency   int      `yaml:"concurrency"`
		UserAgent     string   `yaml:"user_agent"`
		SnapshotDir   string   `yaml:"snapshot_dir"`
	} `yaml:"fetch"`

	Crack struct {
		Workers         int    `yaml:"workers"` // 0 means one per CPU.
		MaxCombinations uint64 `yaml:"max_combinations"`
		Verbose         bool   `yaml:"verbose"`
	} `yaml:"crack"`
}

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{
		Database:  DefaultDatabase,
		Namespace: store.DefaultNamespace,
		Sources:   append([]string(nil), blocklist.DefaultSources...),
	}
	c.Fetch.Timeout = Duration(blocklist.DefaultTimeout)
	c.Fetch.RatePerSecond = blocklist.DefaultRatePerSecond
	c.Fetch.Burst = blocklist.DefaultBurst
	c.Fetch.Retries = blocklist.DefaultRetries
	c.Fetch.RetryDelay = Duration(blocklist.DefaultRetryDelay)
	c.Fetch.Concurrency = blocklist.DefaultConcurrency
	c.Fetch.UserAgent = blocklist.DefaultUserAgent
	c.Crack.MaxCombinations = core.DefaultMaxCombinations
	return c
}

// Load reads path over the defaults. An empty path returns the defaults.
// Unknown keys are rejected so that typos do not go unnoticed.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

// Validate checks values a run cannot start with.
func (c *Config) Validate() error {
	switch {
	case c.Database == "":
		return errors.New("database must not be empty")
	case c.Store != "" && c.Store != store.BackendJSON && c.Store != store.BackendSQLite:
		return fmt.Errorf("store must be %q or %q, got %q", store.BackendJSON, store.BackendSQLite, c.Store)
	case c.Crack.Workers < 0 || c.Crack.Workers > core.MaxWorkers:
		return fmt.Errorf("crack.workers must be between 0 and %d", core.MaxWorkers)
	case c.Fetch.RatePerSecond < 0:
		return errors.New("fetch.rate_per_second must not be negative")
	case c.Fetch.Concurrency < 0:
		return errors.New("fetch.concurrency must not be negative")
	}
	if _, err := blocklist.NormalizeSources(c.Sources); err != nil {
		return fmt.Errorf("sources: %w", err)
	}
	return nil
}

// FetcherConfig maps the fetch section onto the fetcher's settings.
// retries: 0 in the file means no retries.
func (c *Config) FetcherConfig() blocklist.FetcherConfig {
	retries := c.Fetch.Retries
	if retries == 0 {
		retries = -1
	}
	return blocklist.FetcherConfig{
		UserAgent:     c.Fetch.UserAgent,
		Retries:       retries,
		RetryDelay:    time.Duration(c.Fetch.RetryDelay),
		RatePerSecond: c.Fetch.RatePerSecond,
		Burst:         c.Fetch.Burst,
		Concurrency:   c.Fetch.Concurrency,
		Timeout:       time.Duration(c.Fetch.Timeout),
	}
}

// Marshal renders c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

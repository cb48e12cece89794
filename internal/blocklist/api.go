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
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/x-stp/blockcrack/internal/client"
	"github.com/x-stp/blockcrack/internal/metrics"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Fetch defaults.
const (
	DefaultRetries       = 3
	DefaultRetryDelay    = 500 * time.Millisecond
	DefaultRatePerSecond = 2.0
	DefaultBurst         = 2
	DefaultConcurrency   = 4
	DefaultTimeout       = 30 * time.Second
	// MaxRetryAfter caps how long a 429 Retry-After can stall a fetch.
	MaxRetryAfter = 30 * time.Second
	// MaxBodySize bounds a block-list response.
	MaxBodySize = 64 << 20
)

// StatusError reports a non-200 response from an instance.
type StatusError struct {
	Source     string
	StatusCode int
	retryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error %d fetching block list of %s", e.StatusCode, e.Source)
}

// Retryable reports whether the status is worth another attempt: 429 and 5xx.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// FetcherConfig configures a Fetcher. Zero fields take the defaults above.
type FetcherConfig struct {
	Scheme        string // "https" unless testing.
	UserAgent     string
	Retries       int // Retries after the first attempt; negative disables.
	RetryDelay    time.Duration
	RatePerSecond float64 // Requests per second across all sources.
	Burst         int
	Concurrency   int
	Timeout       time.Duration
	Client        *http.Client // Overrides the client built from the fields above.
}

func (c *FetcherConfig) applyDefaults() {
	if c.Scheme == "" {
		c.Scheme = "https"
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Retries == 0 {
		c.Retries = DefaultRetries
	} else if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = DefaultRatePerSecond
	}
	if c.Burst <= 0 {
		c.Burst = DefaultBurst
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

// Fetcher retrieves published block lists from Mastodon instances.
type Fetcher struct {
	cfg     FetcherConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewFetcher returns a Fetcher. Its rate limiter is shared by every request
// the Fetcher makes, FetchAll included.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	cfg.applyDefaults()
	httpClient := cfg.Client
	if httpClient == nil {
		cc := client.DefaultConfig(cfg.UserAgent)
		cc.RequestTimeout = cfg.Timeout
		httpClient = client.New(cc)
	}
	return &Fetcher{
		cfg:     cfg,
		client:  httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
	}
}

// URL is the endpoint queried for source.
func (f *Fetcher) URL(source string) string {
	return fmt.Sprintf("%s://%s%s", f.cfg.Scheme, source, DomainBlocksPath)
}

// Fetch downloads and decodes the block list of source. Network errors, 429
// and 5xx responses are retried with exponential backoff; other failures
// return immediately.
func (f *Fetcher) Fetch(ctx context.Context, source string) (*BlockList, error) {
	m := metrics.GetMetrics()
	defer metrics.MeasureDuration(m.FetchDuration.WithLabelValues(source))()

	delay := f.cfg.RetryDelay
	attempts := f.cfg.Retries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			m.FetchRetriesTotal.WithLabelValues(source).Inc()
			wait := delay
			var se *StatusError
			if errors.As(lastErr, &se) && se.retryAfter > wait {
				wait = se.retryAfter
			}
			log.Printf("Retrying block list of %s after error: %v (attempt %d/%d)", source, lastErr, attempt+1, attempts)
			select {
			case <-time.After(wait):
				delay *= 2
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		body, err := f.get(ctx, source)
		if err == nil {
			entries, err := decodeEntries(body)
			if err != nil {
				return nil, fmt.Errorf("block list of %s: %w", source, err)
			}
			m.FetchEntriesTotal.WithLabelValues(source).Add(float64(len(entries)))
			log.Printf("Loaded %d blocklist items from %s", len(entries), source)
			return &BlockList{Source: source, Entries: entries, FetchedAt: time.Now().UTC()}, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return nil, err
		}
	}
	return nil, fmt.Errorf("error fetching block list of %s after %d attempts: %w", source, attempts, lastErr)
}

// get performs one rate-limited request and returns the body of a 200 response.
func (f *Fetcher) get(ctx context.Context, source string) ([]byte, error) {
	m := metrics.GetMetrics()
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL(source), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	// mstdn.jp serves a 404 without a browser user agent.
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		m.FetchRequestsTotal.WithLabelValues(source, "error").Inc()
		return nil, err
	}
	defer resp.Body.Close()
	m.FetchRequestsTotal.WithLabelValues(source, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{Source: source, StatusCode: resp.StatusCode, retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("error reading block list body: %w", err)
	}
	if len(body) > MaxBodySize {
		return nil, fmt.Errorf("block list of %s exceeds %d bytes", source, MaxBodySize)
	}
	return body, nil
}

// parseRetryAfter reads a delay-seconds Retry-After value, capped at MaxRetryAfter.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > MaxRetryAfter {
		return MaxRetryAfter
	}
	return d
}

// FetchResult is the outcome of fetching one source.
type FetchResult struct {
	Source string
	List   *BlockList
	Err    error
}

// FetchAll fetches sources concurrently, at most Concurrency at a time. A
// failing source does not affect the others; results are in source order.
func (f *Fetcher) FetchAll(ctx context.Context, sources []string) []FetchResult {
	results := make([]FetchResult, len(sources))
	var g errgroup.Group
	g.SetLimit(f.cfg.Concurrency)

	for i, source := range sources {
		i, source := i, source
		g.Go(func() error {
			bl, err := f.Fetch(ctx, source)
			if err != nil {
				log.Printf("Error while trying to load blocklist from %s: %v", source, err)
			}
			results[i] = FetchResult{Source: source, List: bl, Err: err}
			return nil
		})
	}
	g.Wait()
	return results
}

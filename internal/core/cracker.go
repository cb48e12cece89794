package core

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
	"log"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/x-stp/blockcrack/internal/metrics"
	"github.com/x-stp/blockcrack/internal/store"
)

// CrackStats holds runtime statistics for a crack run. Fields are atomic so
// a stats display can read them while the run is in progress.
type CrackStats struct {
	StartTime  time.Time
	Total      atomic.Int64 // Records in the store.
	Pending    atomic.Int64 // Unresolved records queued for searching.
	Processed  atomic.Int64 // Records whose masks were all tried, or that resolved.
	Resolved   atomic.Int64
	Exhausted  atomic.Int64 // Masks searched fully without a match.
	Infeasible atomic.Int64 // Masks over the ceiling.
	Tested     atomic.Uint64
}

func (s *CrackStats) GetStartTime() time.Time { return s.StartTime }
func (s *CrackStats) GetPending() int64       { return s.Pending.Load() }
func (s *CrackStats) GetProcessed() int64     { return s.Processed.Load() }
func (s *CrackStats) GetResolved() int64      { return s.Resolved.Load() }
func (s *CrackStats) GetRate() float64 {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.Tested.Load()) / elapsed
}

// Cracker drives the Searcher over every unresolved Record of a store.
type Cracker struct {
	store    store.Store
	searcher *Searcher
	stats    *CrackStats
	verbose  bool
}

// NewCracker returns a Cracker over st. verbose adds a timing line per mask.
func NewCracker(st store.Store, searcher *Searcher, verbose bool) *Cracker {
	return &Cracker{
		store:    st,
		searcher: searcher,
		stats:    &CrackStats{StartTime: time.Now()},
		verbose:  verbose,
	}
}

// GetStats returns the live statistics of the run.
func (c *Cracker) GetStats() *CrackStats { return c.stats }

// OrderForCracking returns the unresolved Records that have at least one
// mask, cheapest first: ascending minimum wildcard count, ties by digest hex.
func OrderForCracking(records []*Record) []*Record {
	out := make([]*Record, 0, len(records))
	for _, r := range records {
		if !r.Resolved() && len(r.PartialDomains) > 0 {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		wi, wj := out[i].MinWildcards(), out[j].MinWildcards()
		if wi != wj {
			return wi < wj
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// masksByCost orders the masks of r by wildcard count, then lexically.
func masksByCost(r *Record) []string {
	masks := r.PartialDomains.Sorted()
	sort.SliceStable(masks, func(i, j int) bool {
		return strings.Count(masks[i], string(WildcardMarker)) < strings.Count(masks[j], string(WildcardMarker))
	})
	return masks
}

// Run searches every unresolved Record in cost order. Each hit is written to
// the store and saved before the next Record starts, so an interrupted run
// keeps everything it found. Cancelling ctx stops the run between Records
// (and inside a search); Run then returns ctx.Err(). A ConfigurationError
// aborts the run.
func (c *Cracker) Run(ctx context.Context) (*CrackStats, error) {
	records, err := LoadRecords(c.store)
	if err != nil {
		return c.stats, err
	}
	queue := OrderForCracking(records)
	c.stats.Total.Store(int64(len(records)))
	c.stats.Pending.Store(int64(len(queue)))

	resolved, unresolved := CountRecords(records)
	log.Printf("Found %d/%d entries with no fully known domain", unresolved, len(records))
	if skipped := unresolved - len(queue); skipped > 0 {
		log.Printf("%d unresolved entries carry no mask and are skipped", skipped)
	}

	for _, r := range queue {
		if err := ctx.Err(); err != nil {
			return c.stats, err
		}
		found, err := c.crackRecord(ctx, r)
		if err != nil {
			return c.stats, err
		}
		c.stats.Processed.Add(1)
		c.stats.Pending.Add(-1)
		if found {
			resolved++
			unresolved--
			metrics.GetMetrics().UpdateRecordCounts(resolved, unresolved)
		}
	}

	log.Printf("Crack finished: %d/%d resolved, %d masks exhausted, %d infeasible",
		c.stats.Resolved.Load(), len(queue), c.stats.Exhausted.Load(), c.stats.Infeasible.Load())
	return c.stats, nil
}

// crackRecord tries the masks of r cheapest first and stops at the first hit.
func (c *Cracker) crackRecord(ctx context.Context, r *Record) (bool, error) {
	id := r.ID()
	exhausted := false
	for _, mask := range masksByCost(r) {
		if c.verbose {
			log.Printf("%s: %s", id, mask)
		}
		res, err := c.searcher.Search(ctx, mask, r.Digest)
		if err != nil {
			var cerr *ConfigurationError
			if errors.As(err, &cerr) {
				return false, fmt.Errorf("aborting crack at record %s: %w", id, err)
			}
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, fmt.Errorf("search of %s for record %s failed: %w", mask, id, err)
		}
		c.stats.Tested.Add(res.Tested)

		switch res.Outcome {
		case OutcomeFound:
			log.Printf("%s: %s > Found: %s in %v", id, mask, res.Domain, res.Elapsed)
			if err := c.checkpoint(id, res.Domain); err != nil {
				return false, err
			}
			c.stats.Resolved.Add(1)
			return true, nil
		case OutcomeExhausted:
			exhausted = true
			c.stats.Exhausted.Add(1)
			if c.verbose {
				log.Printf("%s: %s > Not found after %d candidates in %v", id, mask, res.Tested, res.Elapsed)
			}
		case OutcomeInfeasible:
			c.stats.Infeasible.Add(1)
			log.Printf("%s: %s > Skipped: %d wildcards exceed the limit of %d combinations",
				id, mask, strings.Count(mask, string(WildcardMarker)), c.searcher.MaxCombinations())
		}
	}
	if exhausted {
		log.Printf("%s: no mask matched over [a-z0-9]; a hidden '.' or '-' cannot be recovered", id)
	}
	return false, nil
}

// checkpoint re-reads the Record, sets its known domain and saves the store.
func (c *Cracker) checkpoint(id, domain string) error {
	m := metrics.GetMetrics()
	done := metrics.MeasureDuration(m.CheckpointDuration)

	r, ok, err := GetRecord(c.store, id)
	if err != nil {
		m.CheckpointsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("checkpoint of %s: %w", id, err)
	}
	if !ok {
		m.CheckpointsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("checkpoint of %s: record disappeared from the store", id)
	}
	r.SetKnown(domain)
	if err := PutRecord(c.store, r); err != nil {
		m.CheckpointsTotal.WithLabelValues("error").Inc()
		return err
	}
	if err := c.store.Save(); err != nil {
		m.CheckpointsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("checkpoint of %s: %w", id, err)
	}
	done()
	m.CheckpointsTotal.WithLabelValues("ok").Inc()
	return nil
}

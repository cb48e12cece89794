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
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/x-stp/blockcrack/internal/metrics"
)

// Outcome is how a search ended when it did not fail.
type Outcome int

const (
	// OutcomeFound means a candidate matched the digest.
	OutcomeFound Outcome = iota
	// OutcomeExhausted means every candidate was tested without a match.
	OutcomeExhausted
	// OutcomeInfeasible means the space exceeds the ceiling and was not searched.
	OutcomeInfeasible
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeInfeasible:
		return "infeasible"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// SearchResult describes one finished mask search.
type SearchResult struct {
	Mask         string
	Outcome      Outcome
	Domain       string // Set when Outcome is OutcomeFound.
	Combinations uint64 // Size of the candidate space; 0 when it overflows.
	Tested       uint64 // Candidates hashed. Exceeds the hit index by at most one poll interval per worker.
	Elapsed      time.Duration
}

// Searcher runs mask searches on a shared Scheduler.
type Searcher struct {
	scheduler       *Scheduler
	maxCombinations uint64
}

// NewSearcher returns a Searcher that refuses spaces larger than
// maxCombinations. Zero selects DefaultMaxCombinations.
func NewSearcher(s *Scheduler, maxCombinations uint64) *Searcher {
	if maxCombinations == 0 {
		maxCombinations = DefaultMaxCombinations
	}
	return &Searcher{scheduler: s, maxCombinations: maxCombinations}
}

// MaxCombinations is the ceiling in effect.
func (s *Searcher) MaxCombinations() uint64 { return s.maxCombinations }

// search is the state shared by the ranges of one Search call.
type search struct {
	ctx    context.Context
	mask   *Mask
	target Digest

	found  atomic.Bool
	once   sync.Once
	domain string

	tested atomic.Uint64
	wg     sync.WaitGroup
}

// record stores the first hit. Later hits (only possible on a collision) are ignored.
func (st *search) record(candidate []byte) {
	st.once.Do(func() {
		st.domain = string(candidate)
	})
	st.found.Store(true)
}

// scan is the work callback: it tests the range [Start, End) with its own cursor.
func (st *search) scan(item *WorkItem) error {
	defer st.wg.Done()
	if item.Ctx != nil && item.Ctx.Err() != nil {
		return nil
	}

	c := newCursor(st.mask, item.Start)
	var batch uint64
	for i := item.Start; i < item.End; i++ {
		if batch == CancelCheckInterval {
			st.tested.Add(batch)
			batch = 0
			if st.found.Load() || st.ctx.Err() != nil {
				return nil
			}
		}
		batch++
		if verify(c.buf, st.target) {
			st.tested.Add(batch)
			st.record(c.buf)
			return nil
		}
		c.next()
	}
	st.tested.Add(batch)
	return nil
}

// Search recovers the domain behind mask whose SHA-256 equals target.
//
// The candidate space is split into one disjoint range per worker. The first
// worker to hit sets the found flag; the others notice within
// CancelCheckInterval candidates. Cancelling ctx stops the search and Search
// returns ctx.Err(). Masks longer than MaxMaskLength fail with
// *ConfigurationError.
func (s *Searcher) Search(ctx context.Context, mask string, target Digest) (*SearchResult, error) {
	m, err := ParseMask(mask)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	res := &SearchResult{Mask: mask}
	finish := func() (*SearchResult, error) {
		res.Elapsed = time.Since(start)
		mt := metrics.GetMetrics()
		mt.SearchesTotal.WithLabelValues(res.Outcome.String()).Inc()
		mt.SearchDuration.WithLabelValues(res.Outcome.String()).Observe(res.Elapsed.Seconds())
		mt.SearchCandidatesTotal.Add(float64(res.Tested))
		return res, nil
	}

	total, ok := m.Combinations()
	if ok {
		res.Combinations = total
	}
	if !ok || total > s.maxCombinations {
		res.Outcome = OutcomeInfeasible
		return finish()
	}

	// No wildcard: the mask is its own only candidate.
	if m.Wildcards() == 0 {
		res.Tested = 1
		res.Outcome = OutcomeExhausted
		if verify(m.pattern, target) {
			res.Outcome = OutcomeFound
			res.Domain = m.String()
		}
		return finish()
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	st := &search{ctx: sctx, mask: m, target: target}

	ranges := uint64(s.scheduler.NumWorkers())
	if ranges > total {
		ranges = total
	}
	chunk, rem := total/ranges, total%ranges

	st.wg.Add(int(ranges))
	var lo uint64
	for k := uint64(0); k < ranges; k++ {
		hi := lo + chunk
		if k < rem {
			hi++
		}
		if err := s.submit(sctx, mask, int(k), lo, hi, st.scan); err != nil {
			// Ranges not handed out never run; release them and stop the rest.
			cancel()
			for j := k; j < ranges; j++ {
				st.wg.Done()
			}
			s.join(st)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to submit range %d of %q: %w", k, mask, err)
		}
		lo = hi
	}

	if err := s.join(st); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	res.Tested = st.tested.Load()
	switch {
	case st.found.Load():
		res.Outcome = OutcomeFound
		res.Domain = st.domain
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		res.Outcome = OutcomeExhausted
	}
	return finish()
}

// submit hands one range to the scheduler, backing off while the target queue is full.
func (s *Searcher) submit(ctx context.Context, mask string, shard int, lo, hi uint64, cb WorkCallback) error {
	for attempt := 0; ; attempt++ {
		err := s.scheduler.SubmitWork(ctx, mask, shard, lo, hi, cb)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt >= MaxSubmitRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(SubmitRetryDelay):
		}
	}
}

// join waits for every range of st. It logs progress while waiting and
// returns early with ErrSchedulerShutdown if the scheduler goes away. Ranges
// still queued at that point are released by Shutdown, which ends the waiting
// goroutine.
func (s *Searcher) join(st *search) error {
	done := make(chan struct{})
	go func() {
		st.wg.Wait()
		close(done)
	}()

	total, _ := st.mask.Combinations()
	ticker := time.NewTicker(ProgressLogInterval)
	defer ticker.Stop()
	started := time.Now()

	for {
		select {
		case <-done:
			return nil
		case <-s.scheduler.Done():
			select {
			case <-done:
				return nil
			default:
				return ErrSchedulerShutdown
			}
		case <-ticker.C:
			tested := st.tested.Load()
			elapsed := time.Since(started).Seconds()
			log.Printf("Searching %s: %d/%d candidates (%.1f%%), %.0f/s",
				st.mask, tested, total, 100*float64(tested)/float64(total), float64(tested)/elapsed)
		}
	}
}

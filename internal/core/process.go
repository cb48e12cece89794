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
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/x-stp/blockcrack/internal/metrics"
	"github.com/x-stp/blockcrack/internal/store"
)

// ProcessStats summarises one Process run.
type ProcessStats struct {
	Lists      int // Block lists read.
	Entries    int // Entries seen across all lists.
	Created    int // Records that did not exist before.
	Merged     int // Entries folded into an existing Record.
	Skipped    int // Entries rejected with a ValidationError.
	Mismatched int // Known domains whose digest does not match.
	Conflicts  int // Masks that disagree with their Record's known domain.
	Resolved   int // Records with a known domain after the run.
	Unresolved int
	Elapsed    time.Duration
}

// Process folds every stored block list into the domain Records.
//
// Each entry is built into a Record and merged with what the store holds for
// its digest as Merge(built, existing), so a plain domain published by a
// source overrides a previously recorded known domain. Invalid entries are
// logged and skipped; with strict set the first one aborts the run instead.
// Nothing is saved here; the caller decides when to Save.
func Process(st store.Store, strict bool) (*ProcessStats, error) {
	start := time.Now()
	m := metrics.GetMetrics()
	stats := &ProcessStats{}

	lists, err := LoadBlockLists(st)
	if err != nil {
		return nil, err
	}
	stats.Lists = len(lists)

	// Working set, flushed to the store once every list is folded in.
	pending := make(map[string]*Record)
	var order []string

	for _, bl := range lists {
		for _, entry := range bl.Entries {
			stats.Entries++

			built, err := NewRecord(bl.Source, entry)
			if err != nil {
				var verr *ValidationError
				if strict || !errors.As(err, &verr) {
					return stats, fmt.Errorf("error processing block list of %s: %w", bl.Source, err)
				}
				log.Printf("Skipping entry: %v", err)
				stats.Skipped++
				m.ProcessEntriesTotal.WithLabelValues("skipped").Inc()
				continue
			}

			if built.Resolved() && HashDomain(built.Known()) != built.Digest {
				log.Printf("Warning: %s publishes %q with digest %s, which does not hash to it", bl.Source, built.Known(), built.ID())
				stats.Mismatched++
				m.ProcessDigestMismatchTotal.Inc()
			}

			id := built.ID()
			existing, ok := pending[id]
			if !ok {
				existing, ok, err = GetRecord(st, id)
				if err != nil {
					return stats, err
				}
				order = append(order, id)
			}
			if ok {
				pending[id] = Merge(built, existing)
				stats.Merged++
				m.ProcessEntriesTotal.WithLabelValues("merged").Inc()
			} else {
				pending[id] = built
				stats.Created++
				m.ProcessEntriesTotal.WithLabelValues("created").Inc()
			}
		}
	}

	for _, id := range order {
		r := pending[id]
		if n := checkMasks(r); n > 0 {
			stats.Conflicts += n
			m.ProcessMaskConflictTotal.Add(float64(n))
		}
		if err := PutRecord(st, r); err != nil {
			return stats, err
		}
	}

	records, err := LoadRecords(st)
	if err != nil {
		return stats, err
	}
	stats.Resolved, stats.Unresolved = CountRecords(records)
	m.UpdateRecordCounts(stats.Resolved, stats.Unresolved)
	stats.Elapsed = time.Since(start)

	log.Printf("Processed %d entries from %d block lists: %d new, %d merged, %d skipped (%d resolved, %d unresolved)",
		stats.Entries, stats.Lists, stats.Created, stats.Merged, stats.Skipped, stats.Resolved, stats.Unresolved)
	return stats, nil
}

// checkMasks logs every mask of r that the known domain does not fit (other
// length, or a differing non-wildcard byte) and returns how many there are.
// Such masks stay on the Record.
func checkMasks(r *Record) int {
	if !r.Resolved() {
		return 0
	}
	known := r.Known()
	conflicts := 0
	for _, mask := range r.PartialDomains.Sorted() {
		pm, err := ParseMask(mask)
		if err == nil && pm.Matches(known) {
			continue
		}
		log.Printf("Warning: mask %q of %s does not fit its known domain %q", mask, r.ID(), known)
		conflicts++
	}
	return conflicts
}

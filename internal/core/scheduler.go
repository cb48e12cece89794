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

package core

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/x-stp/blockcrack/internal/metrics"

	"github.com/zeebo/xxh3"
)

// WorkItem is one unit of work: an index range of some search.
// It is pooled via sync.Pool to keep allocations off the dispatch path.
type WorkItem struct {
	Key       string          // Routing key; searches use the mask.
	Shard     int             // Offset added to the key hash; spreads the ranges of one search.
	Start     uint64          // First index of the range.
	End       uint64          // One past the last index.
	Callback  WorkCallback    // Function executed by the worker.
	Ctx       context.Context // Context of the submitting operation.
	CreatedAt time.Time
}

// WorkCallback is the function signature for work item callbacks.
// When item.Ctx is already done the callback must return without doing the
// work; Shutdown hands queued items back that way.
type WorkCallback func(item *WorkItem) error

// Scheduler owns a fixed pool of worker goroutines, pins them to CPU cores
// where the platform allows it, and routes WorkItems to per-worker queues.
// It is created once per run and shared by every search of that run.
type Scheduler struct {
	numWorkers   int
	workers      []*worker
	ctx          context.Context
	cancel       context.CancelFunc
	shutdown     atomic.Bool
	workItemPool sync.Pool
	running      sync.WaitGroup // Worker goroutines still alive.
}

// worker is a single goroutine with its own queue.
type worker struct {
	id          int
	label       string
	cpuAffinity int
	queue       chan *WorkItem
	scheduler   *Scheduler
	processed   atomic.Int64
}

// NewScheduler starts numWorkers workers. numWorkers <= 0 selects
// runtime.NumCPU() * WorkerMultiplier.
func NewScheduler(parentCtx context.Context, numWorkers int) (*Scheduler, error) {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU() * WorkerMultiplier
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if numWorkers > MaxWorkers {
		return nil, fmt.Errorf("worker count %d exceeds maximum %d", numWorkers, MaxWorkers)
	}

	sctx, cancel := context.WithCancel(parentCtx)
	s := &Scheduler{
		numWorkers: numWorkers,
		workers:    make([]*worker, numWorkers),
		ctx:        sctx,
		cancel:     cancel,
		workItemPool: sync.Pool{
			New: func() interface{} {
				return &WorkItem{}
			},
		},
	}

	for i := 0; i < numWorkers; i++ {
		w := &worker{
			id:          i,
			label:       strconv.Itoa(i),
			cpuAffinity: i % runtime.NumCPU(), // Round-robin core assignment.
			queue:       make(chan *WorkItem, MaxShardQueueSize),
			scheduler:   s,
		}
		s.workers[i] = w
		s.running.Add(1)
		go w.run()
	}

	log.Printf("Scheduler initialized with %d workers (%s).", numWorkers, affinityMode)
	return s, nil
}

// NumWorkers is the size of the pool.
func (s *Scheduler) NumWorkers() int { return s.numWorkers }

// Done is closed once the scheduler starts shutting down.
func (s *Scheduler) Done() <-chan struct{} { return s.ctx.Done() }

// run is the main loop of a worker goroutine.
func (w *worker) run() {
	defer w.scheduler.running.Done()
	setAffinity(w.id, w.cpuAffinity)

	m := metrics.GetMetrics()
	for {
		select {
		case <-w.scheduler.ctx.Done():
			return
		case item := <-w.queue:
			if item == nil {
				continue
			}
			m.SetWorkerBusy(w.id, true)
			w.execute(item)
			m.SetWorkerBusy(w.id, false)
			m.WorkerProcessed.WithLabelValues(w.label).Inc()
			w.processed.Add(1)
			w.scheduler.release(item)
		}
	}
}

// execute runs one callback, converting a panic into a logged failure so a
// bad item cannot take the worker down.
func (w *worker) execute(item *WorkItem) {
	defer func() {
		if r := recover(); r != nil {
			metrics.GetMetrics().WorkerPanics.WithLabelValues(w.label).Inc()
			log.Printf("Panic recovered in worker %d processing %q [%d, %d): %v", w.id, item.Key, item.Start, item.End, r)
		}
	}()

	if err := item.Callback(item); err != nil {
		log.Printf("Error processing %q [%d, %d) on worker %d: %v", item.Key, item.Start, item.End, w.id, err)
	}
}

// release resets a WorkItem and returns it to the pool.
func (s *Scheduler) release(item *WorkItem) {
	item.Key = ""
	item.Callback = nil
	item.Ctx = nil
	s.workItemPool.Put(item)
}

// shardFor maps a routing key and offset onto a worker. Consecutive offsets of
// the same key land on distinct workers.
func (s *Scheduler) shardFor(key string, shard int) int {
	return int((xxh3.HashString(key) + uint64(shard)) % uint64(s.numWorkers))
}

// SubmitWork routes a range to a worker queue. The send never blocks: a full
// queue yields ErrQueueFull so the caller can back off and retry.
func (s *Scheduler) SubmitWork(ctx context.Context, key string, shard int, start, end uint64, callback WorkCallback) error {
	if s.shutdown.Load() {
		return ErrSchedulerShutdown
	}
	target := s.workers[s.shardFor(key, shard)]

	item := s.workItemPool.Get().(*WorkItem)
	item.Key = key
	item.Shard = shard
	item.Start = start
	item.End = end
	item.Callback = callback
	item.Ctx = ctx
	item.CreatedAt = time.Now()

	select {
	case target.queue <- item:
		return nil
	default:
		s.release(item)
		metrics.GetMetrics().QueueBackpressureHit.WithLabelValues(target.label).Inc()
		return fmt.Errorf("worker %d for %q: %w", target.id, key, ErrQueueFull)
	}
}

// Shutdown stops the workers and waits for running callbacks to return.
// Items still queued are handed to their callbacks with the cancelled
// scheduler context, so every submitted item sees its callback exactly once.
func (s *Scheduler) Shutdown() {
	if !s.shutdown.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
	s.running.Wait()

	dropped := 0
	for _, w := range s.workers {
	drain:
		for {
			select {
			case item := <-w.queue:
				if item != nil {
					item.Ctx = s.ctx
					w.execute(item)
					s.release(item)
					dropped++
				}
			default:
				break drain
			}
		}
	}
	if dropped > 0 {
		log.Printf("Scheduler shut down, %d queued items released unrun.", dropped)
	}
}

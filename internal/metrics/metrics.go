package metrics

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
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry           = prometheus.NewRegistry()
	defaultRegisterer  = promauto.With(registry)
	metricsInitialized sync.Once
	metricsEnabled     bool
	metricsServer      *http.Server
)

// Metrics contains all the Prometheus metrics for the application
type Metrics struct {
	// Block-list fetch metrics
	FetchDuration      *prometheus.HistogramVec
	FetchRequestsTotal *prometheus.CounterVec
	FetchRetriesTotal  *prometheus.CounterVec
	FetchEntriesTotal  *prometheus.CounterVec

	// Record processing metrics
	ProcessEntriesTotal        *prometheus.CounterVec
	ProcessDigestMismatchTotal prometheus.Counter
	ProcessMaskConflictTotal   prometheus.Counter
	Records                    *prometheus.GaugeVec

	// Search metrics
	SearchDuration        *prometheus.HistogramVec
	SearchesTotal         *prometheus.CounterVec
	SearchCandidatesTotal prometheus.Counter

	// Checkpoint metrics
	CheckpointDuration prometheus.Histogram
	CheckpointsTotal   *prometheus.CounterVec

	// Worker metrics
	WorkerBusy           *prometheus.GaugeVec
	WorkerProcessed      *prometheus.CounterVec
	WorkerPanics         *prometheus.CounterVec
	QueueBackpressureHit *prometheus.CounterVec

	// Disk I/O metrics
	DiskWriteDuration *prometheus.HistogramVec
	DiskWriteBytes    *prometheus.HistogramVec
	DiskErrors        *prometheus.CounterVec
}

// Global instance of metrics
var globalMetrics *Metrics
var metricsOnce sync.Once

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = newMetrics()
	})
	return globalMetrics
}

// EnableMetrics enables the metrics endpoint
func EnableMetrics() {
	metricsEnabled = true
}

// IsMetricsEnabled returns whether the metrics endpoint is enabled
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// newMetrics creates and registers all metrics
func newMetrics() *Metrics {
	buckets := []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}
	// Searches range from microseconds (no wildcard) to hours.
	searchBuckets := []float64{.001, .01, .1, 1, 10, 60, 300, 900, 3600, 4 * 3600}
	byteBuckets := []float64{1024, 10 * 1024, 50 * 1024, 100 * 1024, 500 * 1024, 1000 * 1024, 5000 * 1024, 10000 * 1024}

	m := &Metrics{
		FetchDuration: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blockcrack_fetch_duration_seconds",
				Help:    "Time spent fetching a block list, including retries",
				Buckets: buckets,
			},
			[]string{"source"},
		),
		FetchRequestsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockcrack_fetch_requests_total",
				Help: "Total number of block-list HTTP requests",
			},
			[]string{"source", "status"},
		),
		FetchRetriesTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockcrack_fetch_retries_total",
				Help: "Total number of block-list request retries",
			},
			[]string{"source"},
		),
		FetchEntriesTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockcrack_fetch_entries_total",
				Help: "Total number of block-list entries received",
			},
			[]string{"source"},
		),

		ProcessEntriesTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockcrack_process_entries_total",
				Help: "Block-list entries folded into records, by outcome",
			},
			[]string{"outcome"},
		),
		ProcessDigestMismatchTotal: defaultRegisterer.NewCounter(
			prometheus.CounterOpts{
				Name: "blockcrack_process_digest_mismatch_total",
				Help: "Known domains whose SHA-256 differs from the published digest",
			},
		),
		ProcessMaskConflictTotal: defaultRegisterer.NewCounter(
			prometheus.CounterOpts{
				Name: "blockcrack_process_mask_conflict_total",
				Help: "Masks whose length or visible characters disagree with the known domain",
			},
		),
		Records: defaultRegisterer.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "blockcrack_records",
				Help: "Number of records in the store, by state",
			},
			[]string{"state"},
		),

		SearchDuration: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blockcrack_search_duration_seconds",
				Help:    "Time spent searching a single mask",
				Buckets: searchBuckets,
			},
			[]string{"outcome"},
		),
		SearchesTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockcrack_searches_total",
				Help: "Total number of mask searches, by outcome",
			},
			[]string{"outcome"},
		),
		SearchCandidatesTotal: defaultRegisterer.NewCounter(
			prometheus.CounterOpts{
				Name: "blockcrack_search_candidates_total",
				Help: "Total number of candidates hashed",
			},
		),

		CheckpointDuration: defaultRegisterer.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "blockcrack_checkpoint_duration_seconds",
				Help:    "Time spent committing a recovered record",
				Buckets: buckets,
			},
		),
		CheckpointsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockcrack_checkpoints_total",
				Help: "Total number of checkpoints, by status",
			},
			[]string{"status"},
		),

		WorkerBusy: defaultRegisterer.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "blockcrack_worker_busy",
				Help: "Whether a worker is currently busy (1) or idle (0)",
			},
			[]string{"worker_id"},
		),
		WorkerProcessed: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockcrack_worker_processed_total",
				Help: "Total number of work items processed by a worker",
			},
			[]string{"worker_id"},
		),
		WorkerPanics: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockcrack_worker_panics_total",
				Help: "Total number of panics recovered by a worker",
			},
			[]string{"worker_id"},
		),
		QueueBackpressureHit: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockcrack_queue_backpressure_hits_total",
				Help: "Number of times a submission found the worker queue full",
			},
			[]string{"worker_id"},
		),

		DiskWriteDuration: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blockcrack_disk_write_duration_seconds",
				Help:    "Time spent writing and syncing files",
				Buckets: buckets,
			},
			[]string{"operation"},
		),
		DiskWriteBytes: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blockcrack_disk_write_bytes",
				Help:    "Bytes written per committed file",
				Buckets: byteBuckets,
			},
			[]string{"operation"},
		),
		DiskErrors: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockcrack_disk_errors_total",
				Help: "Total number of disk errors",
			},
			[]string{"operation", "error_type"},
		),
	}

	return m
}

// StartMetricsServer starts an HTTP server to expose Prometheus metrics
func StartMetricsServer(addr string) error {
	if !metricsEnabled {
		return nil
	}

	// Only start once
	metricsInitialized.Do(func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

		metricsServer = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.Printf("Starting metrics server on %s", addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	})

	return nil
}

// ShutdownMetricsServer gracefully shuts down the metrics server
func ShutdownMetricsServer(ctx context.Context) error {
	if metricsServer != nil {
		log.Println("Shutting down metrics server...")
		return metricsServer.Shutdown(ctx)
	}
	return nil
}

// MeasureDuration starts a timer and returns the function that observes it.
func MeasureDuration(observer prometheus.Observer) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		d := time.Since(start)
		observer.Observe(d.Seconds())
		return d
	}
}

// SetWorkerBusy flips the busy gauge of a worker.
func (m *Metrics) SetWorkerBusy(workerID int, busy bool) {
	v := 0.0
	if busy {
		v = 1
	}
	m.WorkerBusy.WithLabelValues(strconv.Itoa(workerID)).Set(v)
}

// UpdateRecordCounts sets the record gauges.
func (m *Metrics) UpdateRecordCounts(resolved, unresolved int) {
	m.Records.WithLabelValues("resolved").Set(float64(resolved))
	m.Records.WithLabelValues("unresolved").Set(float64(unresolved))
}

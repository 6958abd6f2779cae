// Package metrics provides Prometheus metrics for the storage engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the engine exposes.
type Metrics struct {
	// Buffer pool
	BufferHitsTotal      prometheus.Counter
	BufferMissesTotal    prometheus.Counter
	BufferEvictionsTotal prometheus.Counter

	// Page I/O
	PageReadsTotal    prometheus.Counter
	PageWritesTotal    prometheus.Counter
	PageSplitsTotal    prometheus.Counter
	PageMergesTotal    prometheus.Counter

	// Journal
	JournalBytesWrittenTotal prometheus.Counter
	JournalFlushesTotal      prometheus.Counter
	JournalFlushDuration     prometheus.Histogram
	CopierSweepsTotal        prometheus.Counter

	// Checkpointing
	CheckpointsTotal    prometheus.Counter
	CheckpointDuration  prometheus.Histogram

	// Transactions
	TxCommitsTotal   prometheus.Counter
	TxAbortsTotal    prometheus.Counter
	TxConflictsTotal prometheus.Counter

	// Server
	EngineUptimeSeconds prometheus.Gauge
	EngineStartTime     time.Time
}

// NewMetrics creates and registers every engine metric.
func NewMetrics() *Metrics {
	m := &Metrics{
		EngineStartTime: time.Now(),
	}

	m.BufferHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "persistit_buffer_hits_total",
		Help: "Total number of buffer pool pin requests served from cache",
	})
	m.BufferMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "persistit_buffer_misses_total",
		Help: "Total number of buffer pool pin requests that required a page read",
	})
	m.BufferEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "persistit_buffer_evictions_total",
		Help: "Total number of CLOCK evictions performed by the buffer pool",
	})

	m.PageReadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "persistit_page_reads_total",
		Help: "Total number of pages read from a volume",
	})
	m.PageWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "persistit_page_writes_total",
		Help: "Total number of pages written back to a volume",
	})
	m.PageSplitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "persistit_page_splits_total",
		Help: "Total number of B+-Tree node splits",
	})
	m.PageMergesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "persistit_page_merges_total",
		Help: "Total number of B+-Tree node merges",
	})

	m.JournalBytesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "persistit_journal_bytes_written_total",
		Help: "Total number of bytes appended to the journal",
	})
	m.JournalFlushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "persistit_journal_flushes_total",
		Help: "Total number of journal fsync calls",
	})
	m.JournalFlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "persistit_journal_flush_duration_seconds",
		Help:    "Duration of journal fsync calls",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5},
	})
	m.CopierSweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "persistit_copier_sweeps_total",
		Help: "Total number of dirty-page copier sweeps",
	})

	m.CheckpointsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "persistit_checkpoints_total",
		Help: "Total number of checkpoints written",
	})
	m.CheckpointDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "persistit_checkpoint_duration_seconds",
		Help:    "Duration of a checkpoint pass",
		Buckets: prometheus.DefBuckets,
	})

	m.TxCommitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "persistit_tx_commits_total",
		Help: "Total number of transactions committed",
	})
	m.TxAbortsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "persistit_tx_aborts_total",
		Help: "Total number of transactions rolled back, explicitly or by a failed commit",
	})
	m.TxConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "persistit_tx_conflicts_total",
		Help: "Total number of transactions aborted due to a write-write conflict",
	})

	m.EngineUptimeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "persistit_engine_uptime_seconds",
		Help: "Engine uptime in seconds",
	})

	go m.updateUptime()
	return m
}

func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		m.EngineUptimeSeconds.Set(time.Since(m.EngineStartTime).Seconds())
	}
}

// RecordCheckpoint records one checkpoint pass's duration.
func (m *Metrics) RecordCheckpoint(duration time.Duration) {
	m.CheckpointsTotal.Inc()
	m.CheckpointDuration.Observe(duration.Seconds())
}

// RecordJournalFlush records one journal fsync's duration.
func (m *Metrics) RecordJournalFlush(duration time.Duration) {
	m.JournalFlushesTotal.Inc()
	m.JournalFlushDuration.Observe(duration.Seconds())
}

// RecordTx records a transaction's terminal outcome.
func (m *Metrics) RecordTx(outcome string) {
	switch outcome {
	case "commit":
		m.TxCommitsTotal.Inc()
	case "abort":
		m.TxAbortsTotal.Inc()
	case "conflict":
		m.TxConflictsTotal.Inc()
	}
}

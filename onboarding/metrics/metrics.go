// Package metrics exports Prometheus metrics for the onboarding engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stream outcomes.
const (
	StreamCompleted = "completed"
	StreamNoContent = "no_content"
	StreamFailed    = "failed"
	StreamAborted   = "aborted"
)

// Commit statuses.
const (
	CommitSuccess    = "success"
	CommitValidation = "validation"
	CommitBackend    = "backend_error"
)

// Recorder collects onboarding engine metrics into its own registry.
type Recorder struct {
	registry *prometheus.Registry

	turns        *prometheus.CounterVec
	turnLatency  *prometheus.HistogramVec
	streams      *prometheus.CounterVec
	streamTime   *prometheus.HistogramVec
	commits      *prometheus.CounterVec
	resets       prometheus.Counter
	slotsMerged  *prometheus.CounterVec
	memoryWrites *prometheus.CounterVec
	active       prometheus.Gauge
}

// Config configures the recorder.
type Config struct {
	// Registry to use; a fresh one is created when nil.
	Registry *prometheus.Registry

	// Buckets for latency histograms, in seconds.
	LatencyBuckets []float64
}

func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}
}

// NewRecorder creates and registers all onboarding metrics.
func NewRecorder(cfg Config) *Recorder {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	r := &Recorder{registry: registry}

	r.turns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hearth",
			Subsystem: "onboarding",
			Name:      "turns_total",
			Help:      "Completed conversation turns",
		},
		[]string{"step", "source"},
	)

	r.turnLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hearth",
			Subsystem: "onboarding",
			Name:      "turn_duration_seconds",
			Help:      "Wall time from user message to finalized reply",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"source"},
	)

	r.streams = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hearth",
			Subsystem: "onboarding",
			Name:      "assistant_streams_total",
			Help:      "Assistant stream attempts by outcome",
		},
		[]string{"outcome"},
	)

	r.streamTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hearth",
			Subsystem: "onboarding",
			Name:      "assistant_stream_duration_seconds",
			Help:      "Assistant stream duration by outcome",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"outcome"},
	)

	r.commits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hearth",
			Subsystem: "onboarding",
			Name:      "commits_total",
			Help:      "Commit attempts by status",
		},
		[]string{"status"},
	)

	r.resets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hearth",
			Subsystem: "onboarding",
			Name:      "resets_total",
			Help:      "Accepted conversation resets",
		},
	)

	r.slotsMerged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hearth",
			Subsystem: "onboarding",
			Name:      "slots_merged_total",
			Help:      "Slot values merged into conversations",
		},
		[]string{"slot"},
	)

	r.memoryWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hearth",
			Subsystem: "onboarding",
			Name:      "memory_upserts_total",
			Help:      "Memory upserts by status",
		},
		[]string{"status"},
	)

	r.active = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hearth",
			Subsystem: "onboarding",
			Name:      "active_conversations",
			Help:      "Conversations currently held in memory",
		},
	)

	registry.MustRegister(
		r.turns,
		r.turnLatency,
		r.streams,
		r.streamTime,
		r.commits,
		r.resets,
		r.slotsMerged,
		r.memoryWrites,
		r.active,
	)

	return r
}

func (r *Recorder) RecordTurn(step, source string, d time.Duration) {
	r.turns.WithLabelValues(step, source).Inc()
	r.turnLatency.WithLabelValues(source).Observe(d.Seconds())
}

func (r *Recorder) RecordStream(outcome string, d time.Duration) {
	r.streams.WithLabelValues(outcome).Inc()
	r.streamTime.WithLabelValues(outcome).Observe(d.Seconds())
}

func (r *Recorder) RecordCommit(status string) {
	r.commits.WithLabelValues(status).Inc()
}

func (r *Recorder) RecordReset() {
	r.resets.Inc()
}

func (r *Recorder) RecordSlotMerge(slot string, count int) {
	if count > 0 {
		r.slotsMerged.WithLabelValues(slot).Add(float64(count))
	}
}

func (r *Recorder) RecordMemoryUpsert(ok bool) {
	status := "success"
	if !ok {
		status = "error"
	}
	r.memoryWrites.WithLabelValues(status).Inc()
}

func (r *Recorder) SetActiveConversations(n int) {
	r.active.Set(float64(n))
}

// Handler serves the registry in Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

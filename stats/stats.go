// Package stats exposes prometheus-backed counters and gauges for the
// dispatcher queue, the plan pipeline, and the aggregation engine
// (SPEC_FULL §3 domain-stack wiring). Replaces the teacher's
// proxy_stats.go/target_stats.go/common_statsd.go (those report on
// aistore's REST data path — bucket/object counters, latency histograms
// keyed by HTTP verb — which has no equivalent here); the registration
// pattern (one struct of metric handles, a constructor that registers them
// all against a single registry) is kept from the teacher's coreStats
// shape.
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/model"
)

// Metrics is the full set of gauges/counters a server process exposes.
// Grounded on the teacher's target_stats.go Trunner field set (counters for
// accepted/dropped/queued work) narrowed to this module's own concerns:
// dispatcher queue depth, per-plan dispatch latency, and aggregation
// outcomes.
type Metrics struct {
	QueueDepth prometheus.Gauge

	MessagesReceived  *prometheus.CounterVec // label "tag"
	FieldsAggregated  prometheus.Counter
	DuplicateParts    prometheus.Counter
	LatePartsDropped  prometheus.Counter
	IncompleteFlushes prometheus.Counter

	PlanDispatchSeconds *prometheus.HistogramVec // label "plan"
}

// NewMetrics constructs and registers Metrics against reg. The server
// process passes its own prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "multio", Subsystem: "listener", Name: "queue_depth",
			Help: "Number of messages queued for dispatch.",
		}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "multio", Subsystem: "transport", Name: "messages_received_total",
			Help: "Messages received, by tag.",
		}, []string{"tag"}),
		FieldsAggregated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "multio", Subsystem: "aggregation", Name: "fields_completed_total",
			Help: "Global fields successfully assembled and forwarded.",
		}),
		DuplicateParts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "multio", Subsystem: "aggregation", Name: "duplicate_parts_total",
			Help: "Partial contributions discarded because their peer already contributed.",
		}),
		LatePartsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "multio", Subsystem: "aggregation", Name: "late_parts_total",
			Help: "Partial contributions received after their field had already been forwarded.",
		}),
		IncompleteFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "multio", Subsystem: "aggregation", Name: "incomplete_at_flush_total",
			Help: "Fields discarded at flush because not every peer had contributed.",
		}),
		PlanDispatchSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "multio", Subsystem: "plan", Name: "dispatch_seconds",
			Help:    "Time spent processing one message through a plan's action chain.",
			Buckets: prometheus.DefBuckets,
		}, []string{"plan"}),
	}

	reg.MustRegister(
		m.QueueDepth, m.MessagesReceived, m.FieldsAggregated,
		m.DuplicateParts, m.LatePartsDropped, m.IncompleteFlushes,
		m.PlanDispatchSeconds,
	)
	return m
}

// SanitizeLabel returns v unchanged when it is a valid Prometheus label
// value and the placeholder "invalid" otherwise, using the same
// model.LabelValue check the teacher's indirect
// prometheus/common dependency already provides (kept as a direct import
// here rather than hand-rolling the check, per SPEC_FULL's domain-stack
// wiring table).
func SanitizeLabel(v string) string {
	lv := model.LabelValue(v)
	if lv.IsValid() {
		return v
	}
	return "invalid"
}

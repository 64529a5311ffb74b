// Package metrics exposes the prometheus collectors the pipeline reports into.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Delivery outcome labels recorded on the latency histogram.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// PipelineMetrics records delivery latency, terminal outcome counters and the
// retry queue depth gauge. The zero value is a no-op which keeps construction
// optional in tests.
type PipelineMetrics struct {
	latency      *prometheus.HistogramVec
	sent         prometheus.Counter
	retries      prometheus.Counter
	deadLettered prometheus.Counter
	queueDepth   prometheus.Gauge
}

// NewPipelineMetrics registers the pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "email_delivery_duration_seconds",
		Help:    "Round-trip latency of delivery attempts.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	sent := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "email_sent_total",
		Help: "Messages confirmed delivered.",
	})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "email_retries_scheduled_total",
		Help: "Retry records published to the retry topic.",
	})
	deadLettered := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "email_dead_lettered_total",
		Help: "Messages routed to the dead-letter topic.",
	})
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "email_retry_queue_depth",
		Help: "Messages currently waiting in the retry cycle.",
	})
	reg.MustRegister(latency, sent, retries, deadLettered, queueDepth)
	return &PipelineMetrics{
		latency:      latency,
		sent:         sent,
		retries:      retries,
		deadLettered: deadLettered,
		queueDepth:   queueDepth,
	}
}

// ObserveDeliveryLatency records a delivery round trip under the given outcome.
func (m *PipelineMetrics) ObserveDeliveryLatency(outcome string, d time.Duration) {
	if m == nil || m.latency == nil {
		return
	}
	m.latency.WithLabelValues(normalizeOutcome(outcome)).Observe(d.Seconds())
}

// IncSent increments the confirmed-delivery counter.
func (m *PipelineMetrics) IncSent() {
	if m == nil || m.sent == nil {
		return
	}
	m.sent.Inc()
}

// IncRetryScheduled increments the retry counter.
func (m *PipelineMetrics) IncRetryScheduled() {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Inc()
}

// IncDeadLettered increments the dead-letter counter.
func (m *PipelineMetrics) IncDeadLettered() {
	if m == nil || m.deadLettered == nil {
		return
	}
	m.deadLettered.Inc()
}

// RetryQueueDepthInc raises the retry queue depth gauge by one.
func (m *PipelineMetrics) RetryQueueDepthInc() {
	if m == nil || m.queueDepth == nil {
		return
	}
	m.queueDepth.Inc()
}

// RetryQueueDepthDec lowers the retry queue depth gauge by one.
func (m *PipelineMetrics) RetryQueueDepthDec() {
	if m == nil || m.queueDepth == nil {
		return
	}
	m.queueDepth.Dec()
}

func normalizeOutcome(outcome string) string {
	switch outcome {
	case OutcomeSuccess, OutcomeFailure:
		return outcome
	default:
		return "unknown"
	}
}

package dispatch

import "time"

// Collector is the metrics surface the pipeline reports into. It is injected
// at construction so components carry no global state and tests can observe
// every emission. *metrics.PipelineMetrics satisfies it.
type Collector interface {
	ObserveDeliveryLatency(outcome string, d time.Duration)
	IncSent()
	IncRetryScheduled()
	IncDeadLettered()
	RetryQueueDepthInc()
	RetryQueueDepthDec()
}

// nopCollector keeps the collector optional in tests and tooling.
type nopCollector struct{}

func (nopCollector) ObserveDeliveryLatency(string, time.Duration) {}
func (nopCollector) IncSent()                                     {}
func (nopCollector) IncRetryScheduled()                           {}
func (nopCollector) IncDeadLettered()                             {}
func (nopCollector) RetryQueueDepthInc()                          {}
func (nopCollector) RetryQueueDepthDec()                          {}

package dispatch

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/email-dispatcher/internal/delivery"
	"github.com/example/email-dispatcher/internal/envelope"
	"github.com/example/email-dispatcher/internal/metrics"
)

// Result carries the provider confirmation and the measured round trip of a
// successful attempt.
type Result struct {
	ProviderID string
	Latency    time.Duration
}

// Runner executes a single delivery attempt against the external client,
// measures latency and reports it to the collector regardless of outcome.
type Runner struct {
	client    delivery.Client
	collector Collector
	timeout   time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// NewRunner constructs a Runner.
func NewRunner(client delivery.Client, collector Collector, timeout time.Duration, logger zerolog.Logger) (*Runner, error) {
	if client == nil {
		return nil, errors.New("dispatch: delivery client is required")
	}
	if collector == nil {
		collector = nopCollector{}
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Runner{
		client:    client,
		collector: collector,
		timeout:   timeout,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Attempt delivers the envelope once. The attempt runs detached from the
// caller's cancellation: once delivery has started it is never abandoned
// mid-flight, because an interrupted send plus broker redelivery would risk a
// double delivery with no benefit. Result.Latency is populated on failures
// too.
func (r *Runner) Attempt(ctx context.Context, env *envelope.Envelope) (Result, error) {
	attemptCtx := context.WithoutCancel(ctx)
	if r.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(attemptCtx, r.timeout)
		defer cancel()
	}

	start := r.now()
	receipt, err := r.client.Send(attemptCtx, env)
	latency := r.now().Sub(start)

	res := Result{Latency: latency}
	if err != nil {
		r.collector.ObserveDeliveryLatency(metrics.OutcomeFailure, latency)
		r.logger.Debug().
			Str("message_id", env.ID).
			Dur("latency", latency).
			Err(err).
			Msg("delivery attempt failed")
		return res, err
	}

	r.collector.ObserveDeliveryLatency(metrics.OutcomeSuccess, latency)
	if receipt != nil {
		res.ProviderID = receipt.ProviderID
	}
	return res, nil
}

// Package dispatch implements the delivery pipeline: attempt execution,
// retry scheduling, dead-letter forwarding and status reporting, driven by a
// broker-agnostic record handler.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/email-dispatcher/internal/envelope"
	"github.com/example/email-dispatcher/internal/status"
)

// Record is one broker message handed to the engine. Commit acknowledges the
// record with the broker; it must only be called after a terminal routing
// decision.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte

	Commit func(ctx context.Context) error
}

// Engine drives one record at a time through decode, scheduled-time wait,
// delivery and routing. Records sharing a partition are processed in order
// because the consumer invokes HandleRecord sequentially per partition.
type Engine struct {
	runner      *Runner
	scheduler   *Scheduler
	forwarder   *Forwarder
	reporter    *Reporter
	collector   Collector
	maxAttempts int
	maxBytes    int
	logger      zerolog.Logger
	now         func() time.Time
	wait        func(ctx context.Context, d time.Duration) bool
}

// EngineParams collects the engine's dependencies.
type EngineParams struct {
	Runner      *Runner
	Scheduler   *Scheduler
	Forwarder   *Forwarder
	Reporter    *Reporter
	Collector   Collector
	MaxAttempts int
	MaxBytes    int
	Logger      zerolog.Logger
}

// NewEngine constructs an Engine.
func NewEngine(p EngineParams) (*Engine, error) {
	if p.Runner == nil {
		return nil, errors.New("dispatch: runner is required")
	}
	if p.Scheduler == nil {
		return nil, errors.New("dispatch: scheduler is required")
	}
	if p.Forwarder == nil {
		return nil, errors.New("dispatch: forwarder is required")
	}
	if p.MaxAttempts < 1 {
		return nil, fmt.Errorf("dispatch: max attempts %d out of range", p.MaxAttempts)
	}
	if p.Collector == nil {
		p.Collector = nopCollector{}
	}
	if reflect.ValueOf(p.Logger).IsZero() {
		p.Logger = zerolog.Nop()
	}
	return &Engine{
		runner:      p.Runner,
		scheduler:   p.Scheduler,
		forwarder:   p.Forwarder,
		reporter:    p.Reporter,
		collector:   p.Collector,
		maxAttempts: p.MaxAttempts,
		maxBytes:    p.MaxBytes,
		logger:      p.Logger,
		now:         time.Now,
		wait:        wait,
	}, nil
}

// HandleRecord processes one record end to end and commits it once routed.
// The returned error is fatal for the consumer: it only fires when a retry or
// dead-letter publish fails, where continuing would drop the message.
// Returning nil without committing (context cancelled mid-wait) leaves the
// record to broker redelivery.
func (e *Engine) HandleRecord(ctx context.Context, rec *Record) error {
	if rec == nil {
		return errors.New("dispatch: record is required")
	}

	if e.maxBytes > 0 && len(rec.Value) > e.maxBytes {
		reason := fmt.Sprintf("payload of %d bytes exceeds limit of %d", len(rec.Value), e.maxBytes)
		if err := e.forwarder.ForwardRaw(rec.Value, rec.Key, reason); err != nil {
			return err
		}
		return e.commit(ctx, rec)
	}

	env, err := envelope.Decode(rec.Value)
	if err != nil {
		e.logger.Warn().
			Str("topic", rec.Topic).
			Int32("partition", rec.Partition).
			Int64("offset", rec.Offset).
			Err(err).
			Msg("undecodable record routed to dead-letter topic")
		if ferr := e.forwarder.ForwardRaw(rec.Value, rec.Key, err.Error()); ferr != nil {
			return ferr
		}
		return e.commit(ctx, rec)
	}

	key := rec.Key
	if len(key) == 0 {
		key = []byte(env.ID)
	}
	fromRetry := env.Retry != nil

	if fromRetry {
		if delay := env.Retry.ScheduledAt.Sub(e.now()); delay > 0 {
			if !e.wait(ctx, delay) {
				// Shutting down; leave the record uncommitted so the
				// next assignee picks it up.
				return nil
			}
		}
	}

	attempt := env.Attempt()
	res, deliveryErr := e.runner.Attempt(ctx, env)

	upd := status.Update{
		MessageID:  env.ID,
		Attempt:    attempt,
		DurationMs: res.Latency.Milliseconds(),
		Timestamp:  e.now().UTC(),
	}

	switch Decide(deliveryErr, attempt, e.maxAttempts) {
	case ActionDone:
		e.collector.IncSent()
		if fromRetry {
			e.collector.RetryQueueDepthDec()
		}
		upd.Status = status.Sent
		upd.ProviderID = res.ProviderID
		e.report(ctx, upd)
		e.logger.Info().
			Str("message_id", env.ID).
			Int("attempt", attempt).
			Str("provider_id", res.ProviderID).
			Msg("email delivered")

	case ActionRetry:
		if err := e.scheduler.Schedule(env, key, attempt, deliveryErr); err != nil {
			return err
		}
		if fromRetry {
			e.collector.RetryQueueDepthDec()
		}
		upd.Status = status.Retry
		upd.Error = deliveryErr.Error()
		e.report(ctx, upd)

	case ActionDeadLetter:
		if err := e.forwarder.Forward(env, key, deliveryErr.Error(), attempt); err != nil {
			return err
		}
		upd.Status = status.Failed
		upd.Error = deliveryErr.Error()
		e.report(ctx, upd)
	}

	return e.commit(ctx, rec)
}

func (e *Engine) commit(ctx context.Context, rec *Record) error {
	if rec.Commit == nil {
		return nil
	}
	if err := rec.Commit(ctx); err != nil {
		return fmt.Errorf("commit offset %d on %s/%d: %w", rec.Offset, rec.Topic, rec.Partition, err)
	}
	return nil
}

func (e *Engine) report(ctx context.Context, upd status.Update) {
	if e.reporter != nil {
		e.reporter.Report(ctx, upd)
	}
}

// wait sleeps for d and reports whether the full duration elapsed.
func wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

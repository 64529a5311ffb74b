package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/email-dispatcher/internal/delivery"
	"github.com/example/email-dispatcher/internal/envelope"
	"github.com/example/email-dispatcher/internal/metrics"
)

type stubClient struct {
	send func(ctx context.Context, env *envelope.Envelope) (*delivery.Receipt, error)
}

func (s *stubClient) Send(ctx context.Context, env *envelope.Envelope) (*delivery.Receipt, error) {
	return s.send(ctx, env)
}

type latencySample struct {
	outcome string
	d       time.Duration
}

type recordingCollector struct {
	mu               sync.Mutex
	latencies        []latencySample
	sent             int
	retriesScheduled int
	deadLettered     int
	queueDepth       int
}

func (c *recordingCollector) ObserveDeliveryLatency(outcome string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latencies = append(c.latencies, latencySample{outcome: outcome, d: d})
}

func (c *recordingCollector) IncSent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent++
}

func (c *recordingCollector) IncRetryScheduled() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retriesScheduled++
}

func (c *recordingCollector) IncDeadLettered() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadLettered++
}

func (c *recordingCollector) RetryQueueDepthInc() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueDepth++
}

func (c *recordingCollector) RetryQueueDepthDec() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueDepth--
}

func fixedClock(start time.Time, step time.Duration) func() time.Time {
	current := start
	return func() time.Time {
		t := current
		current = current.Add(step)
		return t
	}
}

func TestRunnerAttemptSuccess(t *testing.T) {
	client := &stubClient{
		send: func(_ context.Context, _ *envelope.Envelope) (*delivery.Receipt, error) {
			return &delivery.Receipt{ProviderID: "prov-42"}, nil
		},
	}
	collector := &recordingCollector{}

	runner, err := NewRunner(client, collector, 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	runner.now = fixedClock(time.Unix(1000, 0), 250*time.Millisecond)

	res, err := runner.Attempt(context.Background(), &envelope.Envelope{ID: "m-1"})
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if res.ProviderID != "prov-42" {
		t.Fatalf("provider id = %q, want prov-42", res.ProviderID)
	}
	if res.Latency != 250*time.Millisecond {
		t.Fatalf("latency = %v, want 250ms", res.Latency)
	}
	if len(collector.latencies) != 1 || collector.latencies[0].outcome != metrics.OutcomeSuccess {
		t.Fatalf("latency samples = %+v, want one success", collector.latencies)
	}
}

func TestRunnerAttemptFailureStillObservesLatency(t *testing.T) {
	sendErr := errors.New("connection refused")
	client := &stubClient{
		send: func(_ context.Context, _ *envelope.Envelope) (*delivery.Receipt, error) {
			return nil, sendErr
		},
	}
	collector := &recordingCollector{}

	runner, err := NewRunner(client, collector, 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	runner.now = fixedClock(time.Unix(1000, 0), 100*time.Millisecond)

	res, err := runner.Attempt(context.Background(), &envelope.Envelope{ID: "m-1"})
	if !errors.Is(err, sendErr) {
		t.Fatalf("Attempt error = %v, want %v", err, sendErr)
	}
	if res.Latency != 100*time.Millisecond {
		t.Fatalf("latency = %v, want 100ms", res.Latency)
	}
	if len(collector.latencies) != 1 || collector.latencies[0].outcome != metrics.OutcomeFailure {
		t.Fatalf("latency samples = %+v, want one failure", collector.latencies)
	}
}

func TestRunnerAttemptDetachedFromCallerCancellation(t *testing.T) {
	var sawCancelled bool
	var sawDeadline bool
	client := &stubClient{
		send: func(ctx context.Context, _ *envelope.Envelope) (*delivery.Receipt, error) {
			sawCancelled = ctx.Err() != nil
			_, sawDeadline = ctx.Deadline()
			return &delivery.Receipt{}, nil
		},
	}

	runner, err := NewRunner(client, nil, 30*time.Second, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := runner.Attempt(ctx, &envelope.Envelope{ID: "m-1"}); err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if sawCancelled {
		t.Fatal("delivery context inherited caller cancellation")
	}
	if !sawDeadline {
		t.Fatal("delivery context missing the configured timeout deadline")
	}
}

package delivery

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/email-dispatcher/internal/envelope"
)

// Scenario enumerates the supported mock behaviours. The default scenario is
// success unless overridden per message via the recipient's plus-tag, e.g.
// `user+reject@example.com` always fails.
type Scenario string

const (
	ScenarioSuccess Scenario = "success"
	ScenarioReject  Scenario = "reject"
	ScenarioTimeout Scenario = "timeout"
)

// MockOption customizes the behaviour of the mock client at construction time.
type MockOption func(*MockClient)

// WithMockLatency overrides the simulated delivery latency range.
func WithMockLatency(min, max time.Duration) MockOption {
	return func(c *MockClient) {
		if min < 0 {
			min = 0
		}
		if max < min {
			max = min
		}
		c.minLatency = min
		c.maxLatency = max
	}
}

// WithMockScenario configures the default behaviour for messages that carry no
// scenario tag.
func WithMockScenario(s Scenario) MockOption {
	return func(c *MockClient) {
		c.defaultScenario = s
	}
}

// WithMockClock overrides the clock used for receipt timestamps.
func WithMockClock(now func() time.Time) MockOption {
	return func(c *MockClient) {
		if now != nil {
			c.now = now
		}
	}
}

// MockClient is a deterministic delivery client for local development and
// tests. It makes no network calls.
type MockClient struct {
	logger          zerolog.Logger
	minLatency      time.Duration
	maxLatency      time.Duration
	defaultScenario Scenario
	now             func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewMockClient constructs a mock delivery client. By default it succeeds with
// a latency between 25ms and 75ms.
func NewMockClient(logger zerolog.Logger, opts ...MockOption) *MockClient {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	c := &MockClient{
		logger:          logger,
		minLatency:      25 * time.Millisecond,
		maxLatency:      75 * time.Millisecond,
		defaultScenario: ScenarioSuccess,
		now:             time.Now,
		rnd:             rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- simulation only.
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}

// Send simulates a delivery attempt for the supplied envelope.
func (c *MockClient) Send(ctx context.Context, env *envelope.Envelope) (*Receipt, error) {
	if env == nil {
		return nil, errors.New("mock client: envelope is required")
	}
	if strings.TrimSpace(env.Recipient) == "" {
		return nil, errors.New("mock client: recipient is required")
	}

	if latency := c.sampleLatency(); latency > 0 {
		if err := sleep(ctx, latency); err != nil {
			return nil, err
		}
	}

	scenario := c.resolveScenario(env.Recipient)
	c.logger.Debug().
		Str("scenario", string(scenario)).
		Str("message_id", env.ID).
		Msg("mock delivery client invoked")

	switch scenario {
	case ScenarioReject:
		return nil, fmt.Errorf("mock client: smtp 550: mailbox unavailable for %s", env.Recipient)
	case ScenarioTimeout:
		if err := sleep(ctx, c.maxLatency+c.minLatency); err != nil {
			return nil, err
		}
		return nil, context.DeadlineExceeded
	default:
		return &Receipt{
			ProviderID: uuid.NewString(),
			Code:       250,
			Detail:     "mock: message queued",
			Timestamp:  c.now(),
		}, nil
	}
}

func (c *MockClient) resolveScenario(recipient string) Scenario {
	local, _, ok := strings.Cut(recipient, "@")
	if !ok {
		return c.defaultScenario
	}
	_, tag, ok := strings.Cut(local, "+")
	if !ok {
		return c.defaultScenario
	}
	switch strings.ToLower(tag) {
	case string(ScenarioReject):
		return ScenarioReject
	case string(ScenarioTimeout):
		return ScenarioTimeout
	case string(ScenarioSuccess):
		return ScenarioSuccess
	default:
		return c.defaultScenario
	}
}

func (c *MockClient) sampleLatency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxLatency <= c.minLatency {
		return c.minLatency
	}
	span := int64(c.maxLatency - c.minLatency)
	return c.minLatency + time.Duration(c.rnd.Int63n(span+1))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

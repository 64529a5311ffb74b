package dispatch

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/email-dispatcher/internal/backoff"
	"github.com/example/email-dispatcher/internal/envelope"
)

// Publisher abstracts the producer side of the pipeline. Publish must block
// until the broker acknowledges the record.
type Publisher interface {
	Publish(topic string, key []byte, payload []byte) error
}

// Scheduler republishes failed envelopes onto the retry topic with backoff
// metadata attached. The consumer of that topic honours scheduledAt, so the
// scheduler itself never sleeps.
type Scheduler struct {
	producer  Publisher
	topic     string
	baseDelay time.Duration
	maxDelay  time.Duration
	collector Collector
	logger    zerolog.Logger
	now       func() time.Time
	delay     func(attempt int, base, cap time.Duration) time.Duration
}

// NewScheduler constructs a Scheduler publishing to topic.
func NewScheduler(producer Publisher, topic string, baseDelay, maxDelay time.Duration, collector Collector, logger zerolog.Logger) (*Scheduler, error) {
	if producer == nil {
		return nil, errors.New("dispatch: producer is required")
	}
	if topic == "" {
		return nil, errors.New("dispatch: retry topic is required")
	}
	if collector == nil {
		collector = nopCollector{}
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Scheduler{
		producer:  producer,
		topic:     topic,
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		collector: collector,
		logger:    logger,
		now:       time.Now,
		delay:     backoff.Delay,
	}, nil
}

// Schedule publishes env onto the retry topic for attempt currentAttempt+1.
// The record keeps the original partition key so ordering per recipient
// survives the detour. The returned error is a broker publish failure; the
// caller decides how severe that is.
func (s *Scheduler) Schedule(env *envelope.Envelope, key []byte, currentAttempt int, cause error) error {
	delay := s.delay(currentAttempt, s.baseDelay, s.maxDelay)
	scheduledAt := s.now().Add(delay)

	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	meta := &envelope.RetryMetadata{
		Attempt:       currentAttempt + 1,
		PreviousError: reason,
		ScheduledAt:   scheduledAt,
		BackoffDelay:  delay.Milliseconds(),
		OriginChannel: env.Channel(),
	}

	payload, err := env.Encode(meta)
	if err != nil {
		return fmt.Errorf("encode retry envelope: %w", err)
	}
	if err := s.producer.Publish(s.topic, key, payload); err != nil {
		return fmt.Errorf("publish retry envelope: %w", err)
	}

	s.collector.IncRetryScheduled()
	s.collector.RetryQueueDepthInc()
	s.logger.Info().
		Str("message_id", env.ID).
		Int("next_attempt", meta.Attempt).
		Dur("backoff_delay", delay).
		Time("scheduled_at", scheduledAt).
		Msg("retry scheduled")
	return nil
}

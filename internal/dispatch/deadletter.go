package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/email-dispatcher/internal/envelope"
)

// Forwarder publishes terminally failed records to the dead-letter topic with
// their complete failure context attached.
type Forwarder struct {
	producer      Publisher
	topic         string
	consumerGroup string
	maxAttempts   int
	collector     Collector
	logger        zerolog.Logger
	now           func() time.Time
}

// NewForwarder constructs a Forwarder publishing to topic.
func NewForwarder(producer Publisher, topic, consumerGroup string, maxAttempts int, collector Collector, logger zerolog.Logger) (*Forwarder, error) {
	if producer == nil {
		return nil, errors.New("dispatch: producer is required")
	}
	if topic == "" {
		return nil, errors.New("dispatch: dead-letter topic is required")
	}
	if collector == nil {
		collector = nopCollector{}
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Forwarder{
		producer:      producer,
		topic:         topic,
		consumerGroup: consumerGroup,
		maxAttempts:   maxAttempts,
		collector:     collector,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// Forward dead-letters a decoded envelope after totalAttempts exhausted
// deliveries. The returned error is a broker publish failure.
func (f *Forwarder) Forward(env *envelope.Envelope, key []byte, reason string, totalAttempts int) error {
	record, err := envelope.NewDeadLetter(env, envelope.DeadLetterMetadata{
		FailureReason:         reason,
		FailedAt:              f.now().UTC(),
		TotalAttempts:         totalAttempts,
		MaxAttemptsConfigured: f.maxAttempts,
		OriginChannel:         env.Channel(),
		ConsumerGroup:         f.consumerGroup,
	})
	if err != nil {
		return err
	}
	if err := f.publish(key, record); err != nil {
		return err
	}

	f.collector.IncDeadLettered()
	if env.Retry != nil {
		f.collector.RetryQueueDepthDec()
	}
	f.logger.Warn().
		Str("message_id", env.ID).
		Int("total_attempts", totalAttempts).
		Str("reason", reason).
		Msg("message dead-lettered")
	return nil
}

// ForwardRaw dead-letters a payload that never decoded. Such a record consumed
// every configured attempt by definition, since retrying a parse failure can
// never succeed.
func (f *Forwarder) ForwardRaw(raw []byte, key []byte, reason string) error {
	record, err := envelope.NewDeadLetterRaw(raw, envelope.DeadLetterMetadata{
		FailureReason:         reason,
		FailedAt:              f.now().UTC(),
		TotalAttempts:         f.maxAttempts,
		MaxAttemptsConfigured: f.maxAttempts,
		OriginChannel:         envelope.ChannelPrimary,
		ConsumerGroup:         f.consumerGroup,
	})
	if err != nil {
		return err
	}
	if err := f.publish(key, record); err != nil {
		return err
	}

	f.collector.IncDeadLettered()
	f.logger.Warn().
		Str("reason", reason).
		Int("payload_bytes", len(raw)).
		Msg("unparseable message dead-lettered")
	return nil
}

func (f *Forwarder) publish(key []byte, record *envelope.DeadLetterRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode dead-letter record: %w", err)
	}
	if err := f.producer.Publish(f.topic, key, payload); err != nil {
		return fmt.Errorf("publish dead-letter record: %w", err)
	}
	return nil
}

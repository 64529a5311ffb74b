package dispatch

import (
	"context"

	"github.com/example/email-dispatcher/internal/kafka/consumer"
)

// KafkaHandler adapts the engine to the consumer's handler contract.
func KafkaHandler(engine *Engine, cons *consumer.Consumer) consumer.Handler {
	return func(ctx context.Context, rec *consumer.Record) error {
		return engine.HandleRecord(ctx, &Record{
			Topic:     rec.Topic,
			Partition: rec.Partition,
			Offset:    rec.Offset,
			Key:       rec.Key,
			Value:     rec.Value,
			Commit: func(ctx context.Context) error {
				return cons.Commit(ctx, rec)
			},
		})
	}
}

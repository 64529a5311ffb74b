package envelope

import (
	"encoding/json"
	"fmt"
	"time"
)

// DeadLetterRecord is the immutable terminal shape published to the
// dead-letter topic. Once written it is never mutated or reprocessed
// automatically; recovery is an operator action.
type DeadLetterRecord struct {
	OriginalData json.RawMessage    `json:"originalData"`
	Metadata     DeadLetterMetadata `json:"dlqMetadata"`
}

// DeadLetterMetadata captures the full failure context for a dead-lettered
// record.
type DeadLetterMetadata struct {
	FailureReason         string    `json:"failureReason"`
	FailedAt              time.Time `json:"failedAt"`
	TotalAttempts         int       `json:"totalAttempts"`
	MaxAttemptsConfigured int       `json:"maxAttemptsConfigured"`
	OriginChannel         string    `json:"originChannel"`
	ConsumerGroup         string    `json:"consumerGroup"`
}

// NewDeadLetter builds a dead-letter record from a decoded envelope. Any retry
// block is stripped so originalData carries the producer's primary shape.
func NewDeadLetter(env *Envelope, meta DeadLetterMetadata) (*DeadLetterRecord, error) {
	original, err := env.Encode(nil)
	if err != nil {
		return nil, fmt.Errorf("envelope: dead-letter original data: %w", err)
	}
	return &DeadLetterRecord{OriginalData: original, Metadata: meta}, nil
}

// NewDeadLetterRaw builds a dead-letter record for a payload that never
// decoded. The raw bytes are embedded as a JSON string so the record itself
// stays parseable.
func NewDeadLetterRaw(raw []byte, meta DeadLetterMetadata) (*DeadLetterRecord, error) {
	original, err := json.Marshal(string(raw))
	if err != nil {
		return nil, fmt.Errorf("envelope: dead-letter raw data: %w", err)
	}
	return &DeadLetterRecord{OriginalData: original, Metadata: meta}, nil
}

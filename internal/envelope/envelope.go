// Package envelope defines the wire shapes exchanged over the primary, retry
// and dead-letter topics, and the codec that moves between them.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrParse marks payloads that cannot be interpreted as a delivery request.
// Such records are structurally unretriable: callers route them straight to
// the dead-letter topic with the attempt count forced to the configured
// maximum.
var ErrParse = errors.New("envelope: unparseable payload")

// Channel names recorded in retry metadata and dead-letter records.
const (
	ChannelPrimary = "primary"
	ChannelRetry   = "retry"
)

// Envelope is the unit of work flowing through the pipeline. The id is stable
// across retries and doubles as the partition key and the correlation key in
// the status ledger. Unknown producer fields are preserved verbatim so the
// original payload survives every hop.
type Envelope struct {
	ID         string
	Recipient  string
	Subject    string
	Body       string
	EnqueuedAt time.Time

	// Retry is nil for records consumed from the primary topic.
	Retry *RetryMetadata

	extra map[string]json.RawMessage
}

// RetryMetadata enriches an envelope republished for retry.
type RetryMetadata struct {
	Attempt       int       `json:"attempt"`
	PreviousError string    `json:"previousError"`
	ScheduledAt   time.Time `json:"scheduledAt"`
	BackoffDelay  int64     `json:"backoffDelayMs"`
	OriginChannel string    `json:"originChannel"`
}

// Attempt reports the attempt number about to be made for this envelope.
// Primary records are always attempt 1.
func (e *Envelope) Attempt() int {
	if e.Retry == nil || e.Retry.Attempt < 1 {
		return 1
	}
	return e.Retry.Attempt
}

// Channel names the topic family the envelope last travelled on.
func (e *Envelope) Channel() string {
	if e.Retry != nil {
		return ChannelRetry
	}
	return ChannelPrimary
}

// Decode parses raw bytes from either the primary or the retry topic. Any
// structural failure is reported wrapped in ErrParse.
func Decode(raw []byte) (*Envelope, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrParse)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	env := &Envelope{extra: fields}

	id, err := takeString(fields, "id")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: missing id", ErrParse)
	}
	env.ID = id

	if env.Recipient, err = takeString(fields, "recipient"); err != nil {
		return nil, err
	}
	if env.Subject, err = takeString(fields, "subject"); err != nil {
		return nil, err
	}
	if env.Body, err = takeString(fields, "body"); err != nil {
		return nil, err
	}

	if rawTS, ok := fields["enqueuedAt"]; ok {
		delete(fields, "enqueuedAt")
		if err := json.Unmarshal(rawTS, &env.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("%w: enqueuedAt: %v", ErrParse, err)
		}
	}

	if rawRetry, ok := fields["retry"]; ok {
		delete(fields, "retry")
		meta := &RetryMetadata{}
		if err := json.Unmarshal(rawRetry, meta); err != nil {
			return nil, fmt.Errorf("%w: retry metadata: %v", ErrParse, err)
		}
		if meta.Attempt < 1 {
			return nil, fmt.Errorf("%w: retry attempt %d out of range", ErrParse, meta.Attempt)
		}
		env.Retry = meta
	}

	return env, nil
}

// Encode serializes the envelope back to the primary wire shape, optionally
// attaching retry metadata. Passing nil strips any retry block so the output
// matches what the producer originally sent, extra fields included.
func (e *Envelope) Encode(retry *RetryMetadata) ([]byte, error) {
	out := make(map[string]json.RawMessage, len(e.extra)+6)
	for k, v := range e.extra {
		out[k] = v
	}

	if err := putJSON(out, "id", e.ID); err != nil {
		return nil, err
	}
	if err := putJSON(out, "recipient", e.Recipient); err != nil {
		return nil, err
	}
	if err := putJSON(out, "subject", e.Subject); err != nil {
		return nil, err
	}
	if err := putJSON(out, "body", e.Body); err != nil {
		return nil, err
	}
	if !e.EnqueuedAt.IsZero() {
		if err := putJSON(out, "enqueuedAt", e.EnqueuedAt); err != nil {
			return nil, err
		}
	}
	if retry != nil {
		if err := putJSON(out, "retry", retry); err != nil {
			return nil, err
		}
	}

	return json.Marshal(out)
}

func takeString(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok {
		return "", nil
	}
	delete(fields, key)
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrParse, key, err)
	}
	return s, nil
}

func putJSON(out map[string]json.RawMessage, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("envelope: encode %s: %w", key, err)
	}
	out[key] = raw
	return nil
}

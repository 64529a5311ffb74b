package envelope_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/example/email-dispatcher/internal/envelope"
)

func TestDecodePrimaryRecord(t *testing.T) {
	raw := []byte(`{"id":"m1","recipient":"a@x.com","subject":"s","body":"b","enqueuedAt":"2026-08-01T10:00:00Z","templateId":"welcome","campaign":"q3"}`)

	env, err := envelope.Decode(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.ID != "m1" || env.Recipient != "a@x.com" || env.Subject != "s" || env.Body != "b" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.Retry != nil {
		t.Fatal("primary record should carry no retry metadata")
	}
	if env.Attempt() != 1 {
		t.Fatalf("primary record attempt should be 1, got %d", env.Attempt())
	}
	want := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	if !env.EnqueuedAt.Equal(want) {
		t.Fatalf("unexpected enqueuedAt: %s", env.EnqueuedAt)
	}
}

func TestDecodeRetryRecord(t *testing.T) {
	raw := []byte(`{"id":"m1","recipient":"a@x.com","subject":"s","body":"b","retry":{"attempt":3,"previousError":"smtp 451","scheduledAt":"2026-08-01T10:00:05Z","backoffDelayMs":4000,"originChannel":"primary"}}`)

	env, err := envelope.Decode(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Retry == nil {
		t.Fatal("expected retry metadata")
	}
	if env.Attempt() != 3 {
		t.Fatalf("expected attempt 3, got %d", env.Attempt())
	}
	if env.Retry.PreviousError != "smtp 451" || env.Retry.BackoffDelay != 4000 {
		t.Fatalf("unexpected retry metadata: %+v", env.Retry)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	cases := map[string][]byte{
		"empty":           nil,
		"not json":        []byte("definitely not json"),
		"array":           []byte(`[1,2,3]`),
		"missing id":      []byte(`{"recipient":"a@x.com"}`),
		"blank id":        []byte(`{"id":"  "}`),
		"non-string id":   []byte(`{"id":42}`),
		"bad retry block": []byte(`{"id":"m1","retry":"soon"}`),
		"zero attempt":    []byte(`{"id":"m1","retry":{"attempt":0}}`),
	}

	for name, raw := range cases {
		if _, err := envelope.Decode(raw); !errors.Is(err, envelope.ErrParse) {
			t.Fatalf("%s: expected ErrParse, got %v", name, err)
		}
	}
}

func TestEncodePreservesUnknownFields(t *testing.T) {
	raw := []byte(`{"id":"m1","recipient":"a@x.com","subject":"s","body":"b","templateId":"welcome","templateData":{"name":"Ada"}}`)

	env, err := envelope.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	out, err := env.Encode(&envelope.RetryMetadata{
		Attempt:       2,
		PreviousError: "timeout",
		ScheduledAt:   time.Date(2026, 8, 1, 10, 0, 2, 0, time.UTC),
		BackoffDelay:  2000,
		OriginChannel: envelope.ChannelPrimary,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var round map[string]json.RawMessage
	if err := json.Unmarshal(out, &round); err != nil {
		t.Fatalf("round trip unmarshal: %v", err)
	}
	if string(round["templateId"]) != `"welcome"` {
		t.Fatalf("templateId not preserved: %s", round["templateId"])
	}
	if _, ok := round["templateData"]; !ok {
		t.Fatal("templateData not preserved")
	}
	if _, ok := round["retry"]; !ok {
		t.Fatal("retry block missing from retry encoding")
	}

	// Re-decoding the retry shape and stripping the block must restore the
	// producer's primary shape.
	env2, err := envelope.Decode(out)
	if err != nil {
		t.Fatalf("decode retry shape: %v", err)
	}
	primary, err := env2.Encode(nil)
	if err != nil {
		t.Fatalf("encode primary shape: %v", err)
	}
	if strings.Contains(string(primary), "retry") {
		t.Fatalf("primary encoding should not contain retry block: %s", primary)
	}
}

func TestNewDeadLetterCarriesOriginalShape(t *testing.T) {
	raw := []byte(`{"id":"m1","recipient":"a@x.com","subject":"s","body":"b","templateId":"welcome","retry":{"attempt":5,"scheduledAt":"2026-08-01T10:00:05Z","backoffDelayMs":16000,"originChannel":"primary"}}`)
	env, err := envelope.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec, err := envelope.NewDeadLetter(env, envelope.DeadLetterMetadata{
		FailureReason:         "smtp 550",
		FailedAt:              time.Date(2026, 8, 1, 10, 1, 0, 0, time.UTC),
		TotalAttempts:         5,
		MaxAttemptsConfigured: 5,
		OriginChannel:         envelope.ChannelRetry,
		ConsumerGroup:         "email-dispatch",
	})
	if err != nil {
		t.Fatalf("new dead letter: %v", err)
	}

	var original map[string]json.RawMessage
	if err := json.Unmarshal(rec.OriginalData, &original); err != nil {
		t.Fatalf("original data unmarshal: %v", err)
	}
	if _, ok := original["retry"]; ok {
		t.Fatal("dead-letter original data must not include retry metadata")
	}
	if string(original["templateId"]) != `"welcome"` {
		t.Fatal("opaque field lost on the way to the dead-letter record")
	}
}

func TestNewDeadLetterRawRoundTrips(t *testing.T) {
	raw := []byte("not json at all {{{")
	rec, err := envelope.NewDeadLetterRaw(raw, envelope.DeadLetterMetadata{
		FailureReason: "unparseable payload",
		TotalAttempts: 5,
	})
	if err != nil {
		t.Fatalf("new dead letter raw: %v", err)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}

	var round envelope.DeadLetterRecord
	if err := json.Unmarshal(payload, &round); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	var originalStr string
	if err := json.Unmarshal(round.OriginalData, &originalStr); err != nil {
		t.Fatalf("unmarshal original data: %v", err)
	}
	if originalStr != string(raw) {
		t.Fatalf("raw payload not recoverable: %q", originalStr)
	}
}

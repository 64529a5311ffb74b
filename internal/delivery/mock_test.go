package delivery_test

import (
	"context"
	"testing"
	"time"

	"github.com/example/email-dispatcher/internal/delivery"
	"github.com/example/email-dispatcher/internal/envelope"
)

func testEnvelope(recipient string) *envelope.Envelope {
	env, err := envelope.Decode([]byte(`{"id":"m1","recipient":"` + recipient + `","subject":"s","body":"b"}`))
	if err != nil {
		panic(err)
	}
	return env
}

func newFastMock(opts ...delivery.MockOption) *delivery.MockClient {
	base := []delivery.MockOption{delivery.WithMockLatency(0, 0)}
	return delivery.NewMockClient(nopLogger(), append(base, opts...)...)
}

func TestMockClientSuccess(t *testing.T) {
	fixed := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	client := newFastMock(delivery.WithMockClock(func() time.Time { return fixed }))

	receipt, err := client.Send(context.Background(), testEnvelope("a@x.com"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.ProviderID == "" {
		t.Fatal("expected a provider id")
	}
	if receipt.Code != 250 {
		t.Fatalf("expected code 250, got %d", receipt.Code)
	}
	if !receipt.Timestamp.Equal(fixed) {
		t.Fatalf("expected fixed timestamp, got %s", receipt.Timestamp)
	}
}

func TestMockClientRejectTag(t *testing.T) {
	client := newFastMock()

	if _, err := client.Send(context.Background(), testEnvelope("user+reject@x.com")); err == nil {
		t.Fatal("expected rejection for +reject tag")
	}
}

func TestMockClientDefaultScenario(t *testing.T) {
	client := newFastMock(delivery.WithMockScenario(delivery.ScenarioReject))

	if _, err := client.Send(context.Background(), testEnvelope("a@x.com")); err == nil {
		t.Fatal("expected failure when default scenario is reject")
	}
	if _, err := client.Send(context.Background(), testEnvelope("user+success@x.com")); err != nil {
		t.Fatalf("tag should override default scenario: %v", err)
	}
}

func TestMockClientHonoursCancellation(t *testing.T) {
	client := delivery.NewMockClient(nopLogger(), delivery.WithMockLatency(time.Minute, time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.Send(ctx, testEnvelope("a@x.com")); err == nil {
		t.Fatal("expected context error")
	}
}

func TestMockClientRequiresRecipient(t *testing.T) {
	client := newFastMock()
	env, err := envelope.Decode([]byte(`{"id":"m1","subject":"s"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if _, err := client.Send(context.Background(), env); err == nil {
		t.Fatal("expected error for missing recipient")
	}
}

package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/example/email-dispatcher/internal/status"
)

type mockCmdable struct {
	hsetCalls   []hsetCall
	expireCalls []string
	failWrites  bool
}

type hsetCall struct {
	key    string
	values []any
}

func (m *mockCmdable) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) HSet(ctx context.Context, key string, values ...any) *redis.IntCmd {
	if m.failWrites {
		cmd := redis.NewIntCmd(ctx)
		cmd.SetErr(errors.New("connection refused"))
		return cmd
	}
	m.hsetCalls = append(m.hsetCalls, hsetCall{key: key, values: values})
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func (m *mockCmdable) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	m.expireCalls = append(m.expireCalls, key)
	return redis.NewBoolResult(true, nil)
}

func TestSetStatusWritesRecord(t *testing.T) {
	mock := &mockCmdable{}
	ledger := newWithStore(mock, time.Hour, zerolog.Nop())

	ledger.SetStatus(context.Background(), status.Update{
		MessageID: "m1",
		Status:    status.Retry,
		Attempt:   2,
		Error:     "smtp 451",
		Timestamp: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	})

	if len(mock.hsetCalls) != 1 {
		t.Fatalf("expected one HSET, got %d", len(mock.hsetCalls))
	}
	call := mock.hsetCalls[0]
	if call.key != "email:status:m1" {
		t.Fatalf("unexpected key %q", call.key)
	}
	fields := map[string]any{}
	for i := 0; i+1 < len(call.values); i += 2 {
		fields[call.values[i].(string)] = call.values[i+1]
	}
	if fields["status"] != status.Retry {
		t.Fatalf("unexpected status field: %v", fields["status"])
	}
	if fields["lastError"] != "smtp 451" {
		t.Fatalf("unexpected lastError field: %v", fields["lastError"])
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expected TTL to be applied, got %d expire calls", len(mock.expireCalls))
	}
}

func TestSetStatusSwallowsWriteFailures(t *testing.T) {
	mock := &mockCmdable{failWrites: true}
	ledger := newWithStore(mock, 0, zerolog.Nop())

	// Must not panic or propagate anything.
	ledger.SetStatus(context.Background(), status.Update{
		MessageID: "m1",
		Status:    status.Sent,
		Attempt:   1,
		Timestamp: time.Now(),
	})

	if len(mock.expireCalls) != 0 {
		t.Fatal("expire should not run after a failed write")
	}
}

func TestSetStatusIgnoresEmptyMessageID(t *testing.T) {
	mock := &mockCmdable{}
	ledger := newWithStore(mock, time.Hour, zerolog.Nop())

	ledger.SetStatus(context.Background(), status.Update{Status: status.Sent})

	if len(mock.hsetCalls) != 0 {
		t.Fatal("expected no writes for empty message id")
	}
}

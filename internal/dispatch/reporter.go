package dispatch

import (
	"context"
	"time"

	"github.com/example/email-dispatcher/internal/status"
)

// AuditSink receives the append-only delivery history. Implementations absorb
// their own failures; Append never blocks the pipeline on an error.
type AuditSink interface {
	Append(ctx context.Context, upd status.Update)
}

// LedgerSink holds the latest known status per message id.
type LedgerSink interface {
	SetStatus(ctx context.Context, upd status.Update)
}

// Reporter fans a status update out to the configured sinks. Both sinks are
// optional and strictly best effort: a reporting failure never changes the
// outcome of the message that triggered it.
type Reporter struct {
	audit   AuditSink
	ledger  LedgerSink
	timeout time.Duration
}

// NewReporter constructs a Reporter. Either sink may be nil.
func NewReporter(audit AuditSink, ledger LedgerSink, timeout time.Duration) *Reporter {
	return &Reporter{audit: audit, ledger: ledger, timeout: timeout}
}

// Report records upd in every configured sink.
func (r *Reporter) Report(ctx context.Context, upd status.Update) {
	if r == nil || (r.audit == nil && r.ledger == nil) {
		return
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if r.audit != nil {
		r.audit.Append(ctx, upd)
	}
	if r.ledger != nil {
		r.ledger.SetStatus(ctx, upd)
	}
}

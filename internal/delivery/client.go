// Package delivery contains the client-side of the external delivery channel.
package delivery

import (
	"context"
	"time"

	"github.com/example/email-dispatcher/internal/envelope"
)

// Receipt is the low level delivery confirmation clients return on success.
type Receipt struct {
	ProviderID string
	Code       int
	Detail     string
	Timestamp  time.Time
}

// Client is the contract the pipeline delivers through. Implementations either
// confirm delivery with a receipt or raise an error; the pipeline treats every
// error as retriable and relies solely on the attempt counter to bound
// retries.
type Client interface {
	Send(ctx context.Context, env *envelope.Envelope) (*Receipt, error)
}

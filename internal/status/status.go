// Package status defines the lifecycle updates reported for each message.
package status

import "time"

// Lifecycle states reported to the audit log and the status ledger.
const (
	Sent   = "sent"
	Retry  = "retry"
	Failed = "failed"
)

// Update describes one lifecycle transition for a message. The message id is
// the correlation key across broker traffic, the ledger and the audit log.
type Update struct {
	MessageID  string    `json:"messageId"`
	Status     string    `json:"status"`
	Attempt    int       `json:"attempt"`
	Error      string    `json:"error,omitempty"`
	ProviderID string    `json:"providerId,omitempty"`
	DurationMs int64     `json:"durationMs,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

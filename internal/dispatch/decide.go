package dispatch

// Action is the routing decision for a finished delivery attempt.
type Action int

const (
	// ActionDone means the message was delivered and processing is complete.
	ActionDone Action = iota
	// ActionRetry means the message must be republished to the retry topic.
	ActionRetry
	// ActionDeadLetter means the message leaves the retry cycle for good.
	ActionDeadLetter
)

func (a Action) String() string {
	switch a {
	case ActionDone:
		return "done"
	case ActionRetry:
		return "retry"
	case ActionDeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

// Decide maps a delivery outcome and the attempt number onto the action the
// consumer loop must execute. Every delivery failure is treated as retriable;
// only the attempt counter bounds retries, so a permanent provider failure
// consumes retry budget exactly like a transient one.
func Decide(deliveryErr error, attempt, maxAttempts int) Action {
	if deliveryErr == nil {
		return ActionDone
	}
	if attempt < maxAttempts {
		return ActionRetry
	}
	return ActionDeadLetter
}

package domain

import "fmt"

// Status is the lifecycle status shared by Queues and OrderLogs.
type Status string

const (
	StatusPending    Status = "pending"
	StatusFailed     Status = "failed"
	StatusOnHold     Status = "on_hold"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCanceled   Status = "canceled"
	StatusSkipped    Status = "skipped"
)

// allowedPrior maps each target status to the set of statuses it may be
// entered from. Terminal statuses allow an idempotent self-loop only where
// listed (failed, canceled).
var allowedPrior = map[Status]map[Status]bool{
	StatusOnHold:     {StatusPending: true},
	StatusProcessing: {StatusOnHold: true, StatusProcessing: true},
	StatusCompleted:  {StatusProcessing: true},
	StatusFailed:     {StatusOnHold: true, StatusProcessing: true, StatusFailed: true},
	StatusCanceled:   {StatusPending: true, StatusOnHold: true, StatusProcessing: true, StatusCanceled: true},
	StatusSkipped:    {StatusOnHold: true},
}

// terminalStatuses have no further inbound transitions except the
// idempotent self-loops listed in allowedPrior.
var terminalStatuses = map[Status]bool{
	StatusFailed:    true,
	StatusCompleted: true,
	StatusCanceled:  true,
	StatusSkipped:   true,
}

// IsTerminal reports whether s is a terminal lifecycle status.
func (s Status) IsTerminal() bool {
	return terminalStatuses[s]
}

// Valid reports whether s is a known lifecycle status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusFailed, StatusOnHold, StatusProcessing,
		StatusCompleted, StatusCanceled, StatusSkipped:
		return true
	}
	return false
}

// Transition validates a status change. It is pure: persistence and
// child-row cascades are the caller's responsibility after a nil return.
// An illegal transition is a programming error and returns
// ErrInvalidTransition.
func Transition(current, target Status) error {
	if !current.Valid() {
		return fmt.Errorf("%w: unknown current status %q", ErrInvalidTransition, current)
	}
	if !target.Valid() {
		return fmt.Errorf("%w: unknown target status %q", ErrInvalidTransition, target)
	}
	priors, ok := allowedPrior[target]
	if !ok || !priors[current] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
	}
	return nil
}

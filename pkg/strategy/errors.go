package strategy

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable marks a transient backend outage. The orchestrator
	// excludes the strategy; workers re-throw so the queue retries.
	ErrUnavailable = errors.New("strategy unavailable")

	// ErrIndexNotFound marks a read, delete, or purge against an index
	// that does not exist yet. Treated as empty result / no-op.
	ErrIndexNotFound = errors.New("index not found")
)

// Error wraps an operation failure with the strategy that produced it
type Error struct {
	Strategy string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("strategy %s: %s failed: %v", e.Strategy, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as a strategy operation failure
func NewError(strategyID, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Strategy: strategyID, Op: op, Err: err}
}

// IsUnavailable reports whether err stems from a backend outage
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsIndexNotFound reports whether err is a missing-index condition
func IsIndexNotFound(err error) bool {
	return errors.Is(err, ErrIndexNotFound)
}

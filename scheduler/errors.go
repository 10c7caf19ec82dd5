package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTarget is returned for an ID that was never registered or has been unregistered.
	ErrUnknownTarget = errors.New("scheduler: unknown fetcher")

	// ErrShuttingDown is returned once Shutdown has been called.
	ErrShuttingDown = errors.New("scheduler: shutting down")

	// ErrThrottled is returned by Trigger when the previous tick is less than one interval old.
	ErrThrottled = errors.New("scheduler: tick rate exceeded")
)

// ValidationError represents an invalid registration.
// Messages follow the format "scheduler: <field> <message>".
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("scheduler: %s %s", e.Field, e.Message)
}

package workflow

import (
	"fmt"
	"strings"
)

// ValidationError carries the complete list of schema violations found
// in a submission. It is never partial: callers can surface every
// offending field in one round trip.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("form validation failed: %s", strings.Join(e.Errors, "; "))
}

// NotFoundError is returned when a request, step, or pending approval
// for an approver does not exist.
type NotFoundError struct {
	Kind string // "request", "step", "approval", "request type"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ConfigurationError indicates a broken workflow template: no steps
// defined, or a step whose approver rule resolves to zero identities.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "workflow configuration error: " + e.Reason
}

// ConflictError indicates an optimistic-concurrency mismatch: the
// request changed underneath a conditional update.
type ConflictError struct {
	RequestID int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("request %d was modified concurrently", e.RequestID)
}

// StateError is returned when an operation is invalid for the
// request's current status. It names both so a client can explain
// why the action was refused.
type StateError struct {
	Status Status
	Action string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s request in status %q", e.Action, e.Status)
}

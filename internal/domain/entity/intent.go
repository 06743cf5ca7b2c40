package entity

import "github.com/garyjia/portal-workflow/internal/domain/workflow"

// IntentKind names the abstract notification events the engine emits.
// Delivery (push, mail, chat) is the dispatcher's concern.
type IntentKind string

const (
	IntentRequestSubmitted IntentKind = "request.submitted"
	IntentRequestAdvanced  IntentKind = "request.advanced"
	IntentApprovalRecorded IntentKind = "approval.recorded"
	IntentRequestClosed    IntentKind = "request.closed"
)

// NotificationIntent is the engine's fire-and-forget record of a
// state change. Emission is at-least-once; the dispatcher is
// responsible for idempotent delivery.
type NotificationIntent struct {
	Kind      IntentKind
	RequestID int64
	Status    workflow.Status
	StepID    *int64
	Payload   map[string]interface{}
}

package entity

import "time"

// ApprovalStatus is the state of one approver's record at one step.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	// ApprovalCancelled marks rows voided when the request was
	// rejected or cancelled before the approver acted.
	ApprovalCancelled ApprovalStatus = "cancelled"
)

// Decided reports whether the approver has recorded a decision.
func (s ApprovalStatus) Decided() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

// SystemApproverID is the approver recorded on synthetic decisions the
// engine writes itself, e.g. when a step resolves to no approvers.
const SystemApproverID = "system"

// Approval is one approver's recorded decision at one step of one
// request. At most one row exists per (request, step, approver).
// Rows are created eagerly when a step becomes current and are
// immutable once decided, except for Comments.
type Approval struct {
	ID         int64
	RequestID  int64
	StepID     int64
	ApproverID string
	Status     ApprovalStatus
	Comments   string
	CreatedAt  time.Time
	DecidedAt  *time.Time
}

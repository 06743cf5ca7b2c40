package workflow

// Status represents a request's position in the approval lifecycle
type Status string

const (
	StatusDraft      Status = "draft"
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusCancelled  Status = "cancelled"
)

var validStatuses = map[Status]bool{
	StatusDraft:      true,
	StatusPending:    true,
	StatusInProgress: true,
	StatusApproved:   true,
	StatusRejected:   true,
	StatusCancelled:  true,
}

var terminalStatuses = map[Status]bool{
	StatusApproved:  true,
	StatusRejected:  true,
	StatusCancelled: true,
}

// transitions lists the permitted status changes. A terminal status has
// no outgoing edges; the reconciler relies on this table as well.
var transitions = map[Status][]Status{
	StatusDraft:      {StatusPending},
	StatusPending:    {StatusInProgress, StatusApproved, StatusRejected, StatusCancelled},
	StatusInProgress: {StatusApproved, StatusRejected, StatusCancelled},
}

// IsTerminal returns true if the status is terminal (no further transitions allowed)
func (s Status) IsTerminal() bool {
	return terminalStatuses[s]
}

// IsActive returns true if the request still has a current step
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusInProgress
}

// IsValid returns true if the status is a known lifecycle status
func (s Status) IsValid() bool {
	return validStatuses[s]
}

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// CanTransition reports whether moving from s to next is a legal
// lifecycle transition.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

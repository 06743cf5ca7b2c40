package entity

import (
	"time"

	"github.com/garyjia/portal-workflow/internal/domain/workflow"
)

// Request is one instance of a submitted workflow execution.
//
// Invariant: a terminal status implies CurrentStepID == nil; an active
// status implies CurrentStepID references a step of the request type's
// workflow template.
type Request struct {
	ID            int64
	Type          string
	SubmitterID   string
	Status        workflow.Status
	CurrentStepID *int64
	FormData      map[string]interface{}
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

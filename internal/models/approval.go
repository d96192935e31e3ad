package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Approval request statuses. "pending" is the only non-terminal status.
const (
	RequestStatusPending   = "pending"
	RequestStatusApproved  = "approved"
	RequestStatusRejected  = "rejected"
	RequestStatusCancelled = "cancelled"
)

// Approval decisions recorded against a step.
const (
	ActionApproved = "approved"
	ActionRejected = "rejected"
)

// ApprovalWorkflow is a named, ordered approval process for one entity type.
type ApprovalWorkflow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	EntityType  string    `json:"entity_type"` // e.g. "deal"
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Steps []*WorkflowStep `json:"steps,omitempty"`
}

// WorkflowStep is one ordered stage of a workflow with a designated approver.
// StepOrder is unique within a workflow and defines the traversal sequence.
type WorkflowStep struct {
	ID          string    `json:"id"`
	WorkflowID  string    `json:"workflow_id"`
	StepOrder   int       `json:"step_order"`
	ApproverID  string    `json:"approver_id"`
	RequiresAll bool      `json:"requires_all"` // stored, not exercised by transitions
	CreatedAt   time.Time `json:"created_at"`
}

// ApprovalRequest is an instance of a workflow applied to a business entity.
// CurrentStepID is meaningful only while status is pending; CompletedAt is set
// iff the status is terminal.
type ApprovalRequest struct {
	ID            string      `json:"id"`
	WorkflowID    string      `json:"workflow_id"`
	EntityType    string      `json:"entity_type"`
	EntityID      string      `json:"entity_id"` // opaque reference, not validated
	RequesterID   string      `json:"requester_id"`
	CurrentStepID *string     `json:"current_step_id,omitempty"`
	Status        string      `json:"status"`
	RequestData   RequestData `json:"request_data,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the request accepts no further actions.
func (r *ApprovalRequest) IsTerminal() bool {
	switch r.Status {
	case RequestStatusApproved, RequestStatusRejected, RequestStatusCancelled:
		return true
	}
	return false
}

// ApprovalAction is one immutable decision recorded against a request.
type ApprovalAction struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id"`
	StepID     string    `json:"step_id"`
	ApproverID string    `json:"approver_id"`
	Action     string    `json:"action"` // "approved" or "rejected"
	Comments   string    `json:"comments,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// RequestData holds the arbitrary payload attached to a request
type RequestData map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (rd *RequestData) Scan(value interface{}) error {
	if value == nil {
		*rd = make(RequestData)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*rd = RequestData(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (rd RequestData) Value() (driver.Value, error) {
	if rd == nil {
		return nil, nil
	}
	return json.Marshal(rd)
}

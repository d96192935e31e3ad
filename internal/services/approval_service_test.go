package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycrm/relay/internal/models"
)

type approvalServiceDeps struct {
	workflows *MockWorkflowStore
	requests  *MockApprovalRequestStore
	users     *MockUserStore
	audits    *MockAuditLogStore
}

func newTestApprovalService(deps *approvalServiceDeps) *ApprovalService {
	if deps.workflows == nil {
		deps.workflows = &MockWorkflowStore{}
	}
	if deps.requests == nil {
		deps.requests = &MockApprovalRequestStore{}
	}
	if deps.users == nil {
		deps.users = &MockUserStore{}
	}
	if deps.audits == nil {
		deps.audits = &MockAuditLogStore{}
	}

	return NewApprovalService(
		&MockTxManager{},
		deps.workflows,
		deps.requests,
		deps.users,
		deps.audits,
		newTestLogger(),
		newTestAuditLogger(),
	)
}

func threeStepWorkflow() (*models.ApprovalWorkflow, []*models.WorkflowStep) {
	steps := []*models.WorkflowStep{
		{ID: "step-1", WorkflowID: "wf-1", StepOrder: 1, ApproverID: "approver-1"},
		{ID: "step-2", WorkflowID: "wf-1", StepOrder: 2, ApproverID: "approver-2"},
		{ID: "step-3", WorkflowID: "wf-1", StepOrder: 3, ApproverID: "approver-3"},
	}
	wf := &models.ApprovalWorkflow{
		ID:         "wf-1",
		Name:       "Discount approval",
		EntityType: "deal",
		IsActive:   true,
		Steps:      steps,
	}
	return wf, steps
}

func pendingRequestAt(stepID string) *models.ApprovalRequest {
	return &models.ApprovalRequest{
		ID:            "req-1",
		WorkflowID:    "wf-1",
		EntityType:    "deal",
		EntityID:      "deal-42",
		RequesterID:   "requester-1",
		CurrentStepID: &stepID,
		Status:        models.RequestStatusPending,
		CreatedAt:     time.Now(),
	}
}

// stepLookup wires GetStep and NextStep against a fixed step list.
func stepLookup(m *MockWorkflowStore, steps []*models.WorkflowStep) {
	m.GetStepFunc = func(ctx context.Context, stepID string) (*models.WorkflowStep, error) {
		for _, s := range steps {
			if s.ID == stepID {
				return s, nil
			}
		}
		return nil, models.ErrNotFound
	}
	m.NextStepFunc = func(ctx context.Context, workflowID string, afterOrder int) (*models.WorkflowStep, error) {
		for _, s := range steps {
			if s.StepOrder > afterOrder {
				return s, nil
			}
		}
		return nil, models.ErrNotFound
	}
}

func TestCreateWorkflow_Success(t *testing.T) {
	svc := newTestApprovalService(&approvalServiceDeps{})

	wf, err := svc.CreateWorkflow(context.Background(), "Discount approval", "big discounts", "deal")
	require.NoError(t, err)
	assert.True(t, wf.IsActive)
	assert.Equal(t, "deal", wf.EntityType)
}

func TestCreateWorkflow_RequiresNameAndEntityType(t *testing.T) {
	svc := newTestApprovalService(&approvalServiceDeps{})

	_, err := svc.CreateWorkflow(context.Background(), "  ", "", "deal")
	assert.ErrorIs(t, err, models.ErrBadRequest)

	_, err = svc.CreateWorkflow(context.Background(), "name", "", "  ")
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestAddStep_Success(t *testing.T) {
	wf, _ := threeStepWorkflow()
	deps := &approvalServiceDeps{
		workflows: &MockWorkflowStore{
			GetByIDFunc: func(ctx context.Context, id string) (*models.ApprovalWorkflow, error) {
				return wf, nil
			},
		},
		users: &MockUserStore{
			GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
				return &models.User{ID: id}, nil
			},
		},
	}
	svc := newTestApprovalService(deps)

	step, err := svc.AddStep(context.Background(), "wf-1", 4, "approver-4", false)
	require.NoError(t, err)
	assert.Equal(t, 4, step.StepOrder)
}

func TestAddStep_DuplicateOrderRejected(t *testing.T) {
	wf, _ := threeStepWorkflow()
	deps := &approvalServiceDeps{
		workflows: &MockWorkflowStore{
			GetByIDFunc: func(ctx context.Context, id string) (*models.ApprovalWorkflow, error) {
				return wf, nil
			},
			AddStepFunc: func(ctx context.Context, step *models.WorkflowStep) (*models.WorkflowStep, error) {
				return nil, models.ErrConflict
			},
		},
		users: &MockUserStore{
			GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
				return &models.User{ID: id}, nil
			},
		},
	}
	svc := newTestApprovalService(deps)

	_, err := svc.AddStep(context.Background(), "wf-1", 2, "approver-4", false)
	assert.ErrorIs(t, err, models.ErrDuplicateStep)
}

func TestAddStep_UnknownApproverRejected(t *testing.T) {
	wf, _ := threeStepWorkflow()
	deps := &approvalServiceDeps{
		workflows: &MockWorkflowStore{
			GetByIDFunc: func(ctx context.Context, id string) (*models.ApprovalWorkflow, error) {
				return wf, nil
			},
		},
	}
	svc := newTestApprovalService(deps)

	_, err := svc.AddStep(context.Background(), "wf-1", 4, "ghost", false)
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestAddStep_InvalidOrderRejected(t *testing.T) {
	svc := newTestApprovalService(&approvalServiceDeps{})

	_, err := svc.AddStep(context.Background(), "wf-1", 0, "approver-1", false)
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestCreateRequest_StartsAtFirstStep(t *testing.T) {
	wf, _ := threeStepWorkflow()
	deps := &approvalServiceDeps{
		workflows: &MockWorkflowStore{
			GetWithStepsFunc: func(ctx context.Context, id string) (*models.ApprovalWorkflow, error) {
				return wf, nil
			},
		},
	}
	svc := newTestApprovalService(deps)

	req, err := svc.CreateRequest(context.Background(), "wf-1", "deal-42", "requester-1", models.RequestData{"amount": 1200}, testMeta)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPending, req.Status)
	require.NotNil(t, req.CurrentStepID)
	assert.Equal(t, "step-1", *req.CurrentStepID)
}

func TestCreateRequest_InactiveWorkflowRejected(t *testing.T) {
	wf, _ := threeStepWorkflow()
	wf.IsActive = false
	deps := &approvalServiceDeps{
		workflows: &MockWorkflowStore{
			GetWithStepsFunc: func(ctx context.Context, id string) (*models.ApprovalWorkflow, error) {
				return wf, nil
			},
		},
	}
	svc := newTestApprovalService(deps)

	_, err := svc.CreateRequest(context.Background(), "wf-1", "deal-42", "requester-1", nil, testMeta)
	assert.ErrorIs(t, err, models.ErrWorkflowInactive)
}

func TestCreateRequest_EmptyWorkflowRejected(t *testing.T) {
	wf, _ := threeStepWorkflow()
	wf.Steps = nil
	deps := &approvalServiceDeps{
		workflows: &MockWorkflowStore{
			GetWithStepsFunc: func(ctx context.Context, id string) (*models.ApprovalWorkflow, error) {
				return wf, nil
			},
		},
	}
	svc := newTestApprovalService(deps)

	_, err := svc.CreateRequest(context.Background(), "wf-1", "deal-42", "requester-1", nil, testMeta)
	assert.ErrorIs(t, err, models.ErrWorkflowEmpty)
}

func TestProcessAction_ApprovalAdvancesSteps(t *testing.T) {
	_, steps := threeStepWorkflow()
	req := pendingRequestAt("step-1")

	workflows := &MockWorkflowStore{}
	stepLookup(workflows, steps)

	var insertedActions []*models.ApprovalAction
	deps := &approvalServiceDeps{
		workflows: workflows,
		requests: &MockApprovalRequestStore{
			GetByIDForUpdateFunc: func(ctx context.Context, id string) (*models.ApprovalRequest, error) {
				return req, nil
			},
			InsertActionFunc: func(ctx context.Context, action *models.ApprovalAction) (*models.ApprovalAction, error) {
				action.ID = "action_1"
				insertedActions = append(insertedActions, action)
				return action, nil
			},
		},
	}
	svc := newTestApprovalService(deps)

	// Step 1 of 3: approve moves the pointer to step 2 and stays pending.
	result, err := svc.ProcessAction(context.Background(), "req-1", "approver-1", "step-1", models.ActionApproved, "lgtm", testMeta)
	require.NoError(t, err)
	require.NotNil(t, result.Action)
	assert.Equal(t, models.ActionApproved, result.Action.Action)
	assert.Equal(t, "lgtm", result.Action.Comments)
	assert.Equal(t, models.RequestStatusPending, result.Request.Status)
	require.NotNil(t, result.Request.CurrentStepID)
	assert.Equal(t, "step-2", *result.Request.CurrentStepID)
	assert.Nil(t, result.Request.CompletedAt)

	// Step 2 of 3.
	result, err = svc.ProcessAction(context.Background(), "req-1", "approver-2", "step-2", models.ActionApproved, "", testMeta)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPending, result.Request.Status)
	assert.Equal(t, "step-3", *result.Request.CurrentStepID)

	// Final step: approval terminalizes the request.
	result, err = svc.ProcessAction(context.Background(), "req-1", "approver-3", "step-3", models.ActionApproved, "", testMeta)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, result.Request.Status)
	assert.Nil(t, result.Request.CurrentStepID)
	require.NotNil(t, result.Request.CompletedAt)

	assert.Len(t, insertedActions, 3)
}

func TestProcessAction_RejectionShortCircuits(t *testing.T) {
	_, steps := threeStepWorkflow()
	req := pendingRequestAt("step-1")

	workflows := &MockWorkflowStore{}
	stepLookup(workflows, steps)

	deps := &approvalServiceDeps{
		workflows: workflows,
		requests: &MockApprovalRequestStore{
			GetByIDForUpdateFunc: func(ctx context.Context, id string) (*models.ApprovalRequest, error) {
				return req, nil
			},
		},
	}
	svc := newTestApprovalService(deps)

	result, err := svc.ProcessAction(context.Background(), "req-1", "approver-1", "step-1", models.ActionRejected, "over budget", testMeta)
	require.NoError(t, err)
	require.NotNil(t, result.Action)
	assert.Equal(t, models.ActionRejected, result.Action.Action)
	assert.Equal(t, models.RequestStatusRejected, result.Request.Status)
	assert.Nil(t, result.Request.CurrentStepID)
	require.NotNil(t, result.Request.CompletedAt)
}

func TestProcessAction_WrongApproverForbidden(t *testing.T) {
	_, steps := threeStepWorkflow()
	req := pendingRequestAt("step-1")

	workflows := &MockWorkflowStore{}
	stepLookup(workflows, steps)

	deps := &approvalServiceDeps{
		workflows: workflows,
		requests: &MockApprovalRequestStore{
			GetByIDForUpdateFunc: func(ctx context.Context, id string) (*models.ApprovalRequest, error) {
				return req, nil
			},
		},
	}
	svc := newTestApprovalService(deps)

	_, err := svc.ProcessAction(context.Background(), "req-1", "approver-2", "step-1", models.ActionApproved, "", testMeta)
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestProcessAction_TerminalRequestRejected(t *testing.T) {
	req := pendingRequestAt("step-1")
	req.Status = models.RequestStatusApproved
	req.CurrentStepID = nil

	deps := &approvalServiceDeps{
		requests: &MockApprovalRequestStore{
			GetByIDForUpdateFunc: func(ctx context.Context, id string) (*models.ApprovalRequest, error) {
				return req, nil
			},
		},
	}
	svc := newTestApprovalService(deps)

	_, err := svc.ProcessAction(context.Background(), "req-1", "approver-1", "step-1", models.ActionApproved, "", testMeta)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestProcessAction_StaleStepRejected(t *testing.T) {
	req := pendingRequestAt("step-2")

	deps := &approvalServiceDeps{
		requests: &MockApprovalRequestStore{
			GetByIDForUpdateFunc: func(ctx context.Context, id string) (*models.ApprovalRequest, error) {
				return req, nil
			},
		},
	}
	svc := newTestApprovalService(deps)

	// The caller still believes the request sits at step 1.
	_, err := svc.ProcessAction(context.Background(), "req-1", "approver-1", "step-1", models.ActionApproved, "", testMeta)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestProcessAction_InvalidActionRejected(t *testing.T) {
	svc := newTestApprovalService(&approvalServiceDeps{})

	_, err := svc.ProcessAction(context.Background(), "req-1", "approver-1", "step-1", "maybe", "", testMeta)
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestProcessAction_MissingStepIDRejected(t *testing.T) {
	svc := newTestApprovalService(&approvalServiceDeps{})

	_, err := svc.ProcessAction(context.Background(), "req-1", "approver-1", "", models.ActionApproved, "", testMeta)
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestProcessAction_RetriedDecisionNotAppliedToNextStep(t *testing.T) {
	// The same approver owns both steps. A retry of the step-1 decision after
	// the request advanced to step-2 must not drive a second transition.
	steps := []*models.WorkflowStep{
		{ID: "step-1", WorkflowID: "wf-1", StepOrder: 1, ApproverID: "approver-1"},
		{ID: "step-2", WorkflowID: "wf-1", StepOrder: 2, ApproverID: "approver-1"},
	}
	req := pendingRequestAt("step-2")

	workflows := &MockWorkflowStore{}
	stepLookup(workflows, steps)

	var insertedActions []*models.ApprovalAction
	deps := &approvalServiceDeps{
		workflows: workflows,
		requests: &MockApprovalRequestStore{
			GetByIDForUpdateFunc: func(ctx context.Context, id string) (*models.ApprovalRequest, error) {
				return req, nil
			},
			InsertActionFunc: func(ctx context.Context, action *models.ApprovalAction) (*models.ApprovalAction, error) {
				insertedActions = append(insertedActions, action)
				return action, nil
			},
		},
	}
	svc := newTestApprovalService(deps)

	_, err := svc.ProcessAction(context.Background(), "req-1", "approver-1", "step-1", models.ActionApproved, "", testMeta)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	assert.Empty(t, insertedActions)
	assert.Equal(t, models.RequestStatusPending, req.Status)
	assert.Equal(t, "step-2", *req.CurrentStepID)
}

func TestCancelRequest_RequesterCancelsPending(t *testing.T) {
	req := pendingRequestAt("step-2")

	var auditedEvents []string
	deps := &approvalServiceDeps{
		requests: &MockApprovalRequestStore{
			GetByIDForUpdateFunc: func(ctx context.Context, id string) (*models.ApprovalRequest, error) {
				return req, nil
			},
		},
		audits: &MockAuditLogStore{
			CreateFunc: func(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
				auditedEvents = append(auditedEvents, log.Event)
				return log, nil
			},
		},
	}
	svc := newTestApprovalService(deps)

	result, err := svc.CancelRequest(context.Background(), "req-1", "requester-1", testMeta)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCancelled, result.Status)
	assert.Nil(t, result.CurrentStepID)
	require.NotNil(t, result.CompletedAt)

	// Cancellation is a terminal transition and lands in the audit trail.
	assert.Contains(t, auditedEvents, models.AuditEventRequestCancelled)
}

func TestCancelRequest_NonRequesterForbidden(t *testing.T) {
	req := pendingRequestAt("step-1")

	deps := &approvalServiceDeps{
		requests: &MockApprovalRequestStore{
			GetByIDForUpdateFunc: func(ctx context.Context, id string) (*models.ApprovalRequest, error) {
				return req, nil
			},
		},
	}
	svc := newTestApprovalService(deps)

	_, err := svc.CancelRequest(context.Background(), "req-1", "someone-else", testMeta)
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestCancelRequest_TerminalRequestRejected(t *testing.T) {
	req := pendingRequestAt("step-1")
	req.Status = models.RequestStatusRejected
	req.CurrentStepID = nil

	deps := &approvalServiceDeps{
		requests: &MockApprovalRequestStore{
			GetByIDForUpdateFunc: func(ctx context.Context, id string) (*models.ApprovalRequest, error) {
				return req, nil
			},
		},
	}
	svc := newTestApprovalService(deps)

	_, err := svc.CancelRequest(context.Background(), "req-1", "requester-1", testMeta)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestGetRequest_IncludesActions(t *testing.T) {
	req := pendingRequestAt("step-2")
	actions := []*models.ApprovalAction{
		{ID: "action-1", RequestID: "req-1", StepID: "step-1", ApproverID: "approver-1", Action: models.ActionApproved},
	}

	deps := &approvalServiceDeps{
		requests: &MockApprovalRequestStore{
			GetByIDFunc: func(ctx context.Context, id string) (*models.ApprovalRequest, error) {
				return req, nil
			},
			ListActionsFunc: func(ctx context.Context, requestID string) ([]*models.ApprovalAction, error) {
				return actions, nil
			},
		},
	}
	svc := newTestApprovalService(deps)

	detail, err := svc.GetRequest(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", detail.Request.ID)
	assert.Len(t, detail.Actions, 1)
}

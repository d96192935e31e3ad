package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycrm/relay/internal/models"
	"github.com/relaycrm/relay/internal/services"
	pkghttp "github.com/relaycrm/relay/pkg/http"
)

func newApprovalHandler(svc ApprovalServiceInterface) *ApprovalHandler {
	return NewApprovalHandler(svc, &pkghttp.IPConfig{})
}

// withURLParam attaches a chi route parameter without a full router.
func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func jsonBody(t *testing.T, body interface{}) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	return &buf
}

func pendingRequest(stepID string) *models.ApprovalRequest {
	return &models.ApprovalRequest{
		ID:            "req-1",
		WorkflowID:    "wf-1",
		EntityType:    "deal",
		EntityID:      "deal-9",
		RequesterID:   "user-1",
		CurrentStepID: &stepID,
		Status:        models.RequestStatusPending,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestCreateWorkflow_Success(t *testing.T) {
	svc := &MockApprovalService{
		CreateWorkflowFunc: func(ctx context.Context, name, description, entityType string) (*models.ApprovalWorkflow, error) {
			assert.Equal(t, "Discount approval", name)
			assert.Equal(t, "deal", entityType)
			return &models.ApprovalWorkflow{
				ID:         "wf-1",
				Name:       name,
				EntityType: entityType,
				IsActive:   true,
				CreatedAt:  time.Now().UTC(),
			}, nil
		},
	}
	h := newApprovalHandler(svc)

	rec := postJSON(t, h.CreateWorkflow, "/workflows", CreateWorkflowRequest{
		Name:       "Discount approval",
		EntityType: "deal",
	})

	assert.Equal(t, http.StatusCreated, rec.Code)

	var resp WorkflowResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "wf-1", resp.ID)
	assert.True(t, resp.IsActive)
}

func TestCreateWorkflow_MissingFieldsRejected(t *testing.T) {
	h := newApprovalHandler(&MockApprovalService{})

	rec := postJSON(t, h.CreateWorkflow, "/workflows", CreateWorkflowRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "validation_failed", resp.Error)
	assert.Len(t, resp.Details, 2)
}

func TestGetWorkflow_IncludesSteps(t *testing.T) {
	svc := &MockApprovalService{
		GetWorkflowFunc: func(ctx context.Context, id string) (*models.ApprovalWorkflow, error) {
			assert.Equal(t, "wf-1", id)
			return &models.ApprovalWorkflow{
				ID:         "wf-1",
				Name:       "Discount approval",
				EntityType: "deal",
				IsActive:   true,
				CreatedAt:  time.Now().UTC(),
				Steps: []*models.WorkflowStep{
					{ID: "step-1", WorkflowID: "wf-1", StepOrder: 1, ApproverID: "approver-1"},
					{ID: "step-2", WorkflowID: "wf-1", StepOrder: 2, ApproverID: "approver-2"},
				},
			}, nil
		},
	}
	h := newApprovalHandler(svc)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/workflows/wf-1", nil), "id", "wf-1")
	rec := httptest.NewRecorder()
	h.GetWorkflow(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp WorkflowResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Steps, 2)
	assert.Equal(t, 1, resp.Steps[0].StepOrder)
	assert.Equal(t, "approver-2", resp.Steps[1].ApproverID)
}

func TestGetWorkflow_NotFound(t *testing.T) {
	h := newApprovalHandler(&MockApprovalService{})

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/workflows/missing", nil), "id", "missing")
	rec := httptest.NewRecorder()
	h.GetWorkflow(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddStep_Success(t *testing.T) {
	svc := &MockApprovalService{
		AddStepFunc: func(ctx context.Context, workflowID string, stepOrder int, approverID string, requiresAll bool) (*models.WorkflowStep, error) {
			assert.Equal(t, "wf-1", workflowID)
			assert.Equal(t, 2, stepOrder)
			return &models.WorkflowStep{ID: "step-2", WorkflowID: workflowID, StepOrder: stepOrder, ApproverID: approverID}, nil
		},
	}
	h := newApprovalHandler(svc)

	req := withURLParam(
		httptest.NewRequest(http.MethodPost, "/workflows/wf-1/steps", jsonBody(t, AddStepRequest{
			StepOrder:  2,
			ApproverID: "approver-2",
		})),
		"id", "wf-1",
	)
	rec := httptest.NewRecorder()
	h.AddStep(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAddStep_DuplicateOrderConflicts(t *testing.T) {
	svc := &MockApprovalService{
		AddStepFunc: func(ctx context.Context, workflowID string, stepOrder int, approverID string, requiresAll bool) (*models.WorkflowStep, error) {
			return nil, models.ErrDuplicateStep
		},
	}
	h := newApprovalHandler(svc)

	req := withURLParam(
		httptest.NewRequest(http.MethodPost, "/workflows/wf-1/steps", jsonBody(t, AddStepRequest{
			StepOrder:  1,
			ApproverID: "approver-1",
		})),
		"id", "wf-1",
	)
	rec := httptest.NewRecorder()
	h.AddStep(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Step order already in use", decodeError(t, rec).Message)
}

func TestAddStep_InvalidOrderRejected(t *testing.T) {
	h := newApprovalHandler(&MockApprovalService{})

	req := withURLParam(
		httptest.NewRequest(http.MethodPost, "/workflows/wf-1/steps", jsonBody(t, AddStepRequest{
			StepOrder:  -3,
			ApproverID: "approver-1",
		})),
		"id", "wf-1",
	)
	rec := httptest.NewRecorder()
	h.AddStep(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateWorkflow_TogglesActive(t *testing.T) {
	var gotActive *bool
	svc := &MockApprovalService{
		SetWorkflowActiveFunc: func(ctx context.Context, id string, active bool) error {
			gotActive = &active
			return nil
		},
	}
	h := newApprovalHandler(svc)

	inactive := false
	req := withURLParam(
		httptest.NewRequest(http.MethodPatch, "/workflows/wf-1", jsonBody(t, UpdateWorkflowRequest{IsActive: &inactive})),
		"id", "wf-1",
	)
	rec := httptest.NewRecorder()
	h.UpdateWorkflow(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, gotActive)
	assert.False(t, *gotActive)
}

func TestUpdateWorkflow_MissingIsActiveRejected(t *testing.T) {
	h := newApprovalHandler(&MockApprovalService{})

	req := withURLParam(
		httptest.NewRequest(http.MethodPatch, "/workflows/wf-1", jsonBody(t, map[string]string{})),
		"id", "wf-1",
	)
	rec := httptest.NewRecorder()
	h.UpdateWorkflow(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRequest_Success(t *testing.T) {
	svc := &MockApprovalService{
		CreateRequestFunc: func(ctx context.Context, workflowID, entityID, requesterID string, data models.RequestData, meta pkghttp.ClientMeta) (*models.ApprovalRequest, error) {
			assert.Equal(t, "wf-1", workflowID)
			assert.Equal(t, "user-1", requesterID)
			assert.Equal(t, float64(1500), data["amount"])
			return pendingRequest("step-1"), nil
		},
	}
	h := newApprovalHandler(svc)

	claims := &models.TokenClaims{UserID: "user-1"}
	req := authedRequest(http.MethodPost, "/approval-requests", jsonBody(t, CreateApprovalRequest{
		WorkflowID:  "wf-1",
		EntityID:    "deal-9",
		RequestData: models.RequestData{"amount": 1500},
	}), claims)
	rec := httptest.NewRecorder()
	h.CreateRequest(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)

	var resp RequestResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, models.RequestStatusPending, resp.Status)
	require.NotNil(t, resp.CurrentStepID)
	assert.Equal(t, "step-1", *resp.CurrentStepID)
}

func TestCreateRequest_RequiresAuthentication(t *testing.T) {
	h := newApprovalHandler(&MockApprovalService{})

	req := authedRequest(http.MethodPost, "/approval-requests", jsonBody(t, CreateApprovalRequest{
		WorkflowID: "wf-1",
		EntityID:   "deal-9",
	}), nil)
	rec := httptest.NewRecorder()
	h.CreateRequest(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateRequest_InactiveWorkflowConflicts(t *testing.T) {
	svc := &MockApprovalService{
		CreateRequestFunc: func(ctx context.Context, workflowID, entityID, requesterID string, data models.RequestData, meta pkghttp.ClientMeta) (*models.ApprovalRequest, error) {
			return nil, models.ErrWorkflowInactive
		},
	}
	h := newApprovalHandler(svc)

	claims := &models.TokenClaims{UserID: "user-1"}
	req := authedRequest(http.MethodPost, "/approval-requests", jsonBody(t, CreateApprovalRequest{
		WorkflowID: "wf-1",
		EntityID:   "deal-9",
	}), claims)
	rec := httptest.NewRecorder()
	h.CreateRequest(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Workflow is not active", decodeError(t, rec).Message)
}

func TestCreateRequest_EmptyWorkflowConflicts(t *testing.T) {
	svc := &MockApprovalService{
		CreateRequestFunc: func(ctx context.Context, workflowID, entityID, requesterID string, data models.RequestData, meta pkghttp.ClientMeta) (*models.ApprovalRequest, error) {
			return nil, models.ErrWorkflowEmpty
		},
	}
	h := newApprovalHandler(svc)

	claims := &models.TokenClaims{UserID: "user-1"}
	req := authedRequest(http.MethodPost, "/approval-requests", jsonBody(t, CreateApprovalRequest{
		WorkflowID: "wf-1",
		EntityID:   "deal-9",
	}), claims)
	rec := httptest.NewRecorder()
	h.CreateRequest(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestProcessAction_ApproveSucceeds(t *testing.T) {
	svc := &MockApprovalService{
		ProcessActionFunc: func(ctx context.Context, requestID, approverID, stepID, action, comments string, meta pkghttp.ClientMeta) (*services.ActionResult, error) {
			assert.Equal(t, "req-1", requestID)
			assert.Equal(t, "approver-1", approverID)
			assert.Equal(t, models.ActionApproved, action)
			return &services.ActionResult{
				Action: &models.ApprovalAction{
					ID:         "action-1",
					RequestID:  requestID,
					StepID:     "step-1",
					ApproverID: approverID,
					Action:     action,
				},
				Request: pendingRequest("step-2"),
			}, nil
		},
	}
	h := newApprovalHandler(svc)

	claims := &models.TokenClaims{UserID: "approver-1"}
	req := withURLParam(
		authedRequest(http.MethodPost, "/approval-requests/req-1/actions", jsonBody(t, ActionRequest{
			Action: models.ActionApproved,
			StepID: "step-1",
		}), claims),
		"id", "req-1",
	)
	rec := httptest.NewRecorder()
	h.ProcessAction(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ActionResultResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "action-1", resp.Action.ID)
	assert.Equal(t, models.ActionApproved, resp.Action.Action)
	require.NotNil(t, resp.Request.CurrentStepID)
	assert.Equal(t, "step-2", *resp.Request.CurrentStepID)
}

func TestProcessAction_InvalidActionRejected(t *testing.T) {
	h := newApprovalHandler(&MockApprovalService{})

	claims := &models.TokenClaims{UserID: "approver-1"}
	req := withURLParam(
		authedRequest(http.MethodPost, "/approval-requests/req-1/actions", jsonBody(t, ActionRequest{
			Action: "maybe",
			StepID: "step-1",
		}), claims),
		"id", "req-1",
	)
	rec := httptest.NewRecorder()
	h.ProcessAction(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "validation_failed", resp.Error)
}

func TestProcessAction_MissingStepIDRejected(t *testing.T) {
	called := false
	svc := &MockApprovalService{
		ProcessActionFunc: func(ctx context.Context, requestID, approverID, stepID, action, comments string, meta pkghttp.ClientMeta) (*services.ActionResult, error) {
			called = true
			return nil, models.ErrNotFound
		},
	}
	h := newApprovalHandler(svc)

	claims := &models.TokenClaims{UserID: "approver-1"}
	req := withURLParam(
		authedRequest(http.MethodPost, "/approval-requests/req-1/actions", jsonBody(t, ActionRequest{
			Action: models.ActionApproved,
		}), claims),
		"id", "req-1",
	)
	rec := httptest.NewRecorder()
	h.ProcessAction(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "validation_failed", resp.Error)
	require.Len(t, resp.Details, 1)
	assert.Contains(t, resp.Details[0], "StepID")
	assert.False(t, called)
}

func TestProcessAction_WrongApproverForbidden(t *testing.T) {
	svc := &MockApprovalService{
		ProcessActionFunc: func(ctx context.Context, requestID, approverID, stepID, action, comments string, meta pkghttp.ClientMeta) (*services.ActionResult, error) {
			return nil, models.ErrForbidden
		},
	}
	h := newApprovalHandler(svc)

	claims := &models.TokenClaims{UserID: "intruder"}
	req := withURLParam(
		authedRequest(http.MethodPost, "/approval-requests/req-1/actions", jsonBody(t, ActionRequest{
			Action: models.ActionApproved,
			StepID: "step-1",
		}), claims),
		"id", "req-1",
	)
	rec := httptest.NewRecorder()
	h.ProcessAction(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestProcessAction_TerminalRequestConflicts(t *testing.T) {
	svc := &MockApprovalService{
		ProcessActionFunc: func(ctx context.Context, requestID, approverID, stepID, action, comments string, meta pkghttp.ClientMeta) (*services.ActionResult, error) {
			return nil, models.ErrInvalidTransition
		},
	}
	h := newApprovalHandler(svc)

	claims := &models.TokenClaims{UserID: "approver-1"}
	req := withURLParam(
		authedRequest(http.MethodPost, "/approval-requests/req-1/actions", jsonBody(t, ActionRequest{
			Action: models.ActionRejected,
			StepID: "step-2",
		}), claims),
		"id", "req-1",
	)
	rec := httptest.NewRecorder()
	h.ProcessAction(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decodeError(t, rec).Error)
}

func TestCancelRequest_Success(t *testing.T) {
	svc := &MockApprovalService{
		CancelRequestFunc: func(ctx context.Context, requestID, actorID string, meta pkghttp.ClientMeta) (*models.ApprovalRequest, error) {
			assert.Equal(t, "req-1", requestID)
			assert.Equal(t, "user-1", actorID)
			now := time.Now().UTC()
			cancelled := pendingRequest("step-1")
			cancelled.Status = models.RequestStatusCancelled
			cancelled.CurrentStepID = nil
			cancelled.CompletedAt = &now
			return cancelled, nil
		},
	}
	h := newApprovalHandler(svc)

	claims := &models.TokenClaims{UserID: "user-1"}
	req := withURLParam(
		authedRequest(http.MethodPost, "/approval-requests/req-1/cancel", nil, claims),
		"id", "req-1",
	)
	rec := httptest.NewRecorder()
	h.CancelRequest(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp RequestResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, models.RequestStatusCancelled, resp.Status)
	assert.NotNil(t, resp.CompletedAt)
}

func TestCancelRequest_NonRequesterForbidden(t *testing.T) {
	svc := &MockApprovalService{
		CancelRequestFunc: func(ctx context.Context, requestID, actorID string, meta pkghttp.ClientMeta) (*models.ApprovalRequest, error) {
			return nil, models.ErrForbidden
		},
	}
	h := newApprovalHandler(svc)

	claims := &models.TokenClaims{UserID: "someone-else"}
	req := withURLParam(
		authedRequest(http.MethodPost, "/approval-requests/req-1/cancel", nil, claims),
		"id", "req-1",
	)
	rec := httptest.NewRecorder()
	h.CancelRequest(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetRequest_IncludesActionHistory(t *testing.T) {
	now := time.Now().UTC()
	svc := &MockApprovalService{
		GetRequestFunc: func(ctx context.Context, id string) (*services.RequestDetail, error) {
			return &services.RequestDetail{
				Request: pendingRequest("step-2"),
				Actions: []*models.ApprovalAction{
					{ID: "action-1", RequestID: "req-1", StepID: "step-1", ApproverID: "approver-1", Action: models.ActionApproved, CreatedAt: now},
				},
			}, nil
		},
	}
	h := newApprovalHandler(svc)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/approval-requests/req-1", nil), "id", "req-1")
	rec := httptest.NewRecorder()
	h.GetRequest(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp RequestDetailResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "req-1", resp.Request.ID)
	require.Len(t, resp.Actions, 1)
	assert.Equal(t, models.ActionApproved, resp.Actions[0].Action)
}

func TestListMyRequests_UsesClaims(t *testing.T) {
	svc := &MockApprovalService{
		ListRequestsByRequesterFunc: func(ctx context.Context, requesterID string, limit, offset int) ([]*models.ApprovalRequest, error) {
			assert.Equal(t, "user-1", requesterID)
			assert.Equal(t, defaultPageLimit, limit)
			return []*models.ApprovalRequest{pendingRequest("step-1")}, nil
		},
	}
	h := newApprovalHandler(svc)

	claims := &models.TokenClaims{UserID: "user-1"}
	req := authedRequest(http.MethodGet, "/approval-requests", nil, claims)
	rec := httptest.NewRecorder()
	h.ListMyRequests(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp []RequestResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp, 1)
}

func TestListPendingApprovals_ClampsPagination(t *testing.T) {
	svc := &MockApprovalService{
		ListPendingForApproverFunc: func(ctx context.Context, approverID string, limit, offset int) ([]*models.ApprovalRequest, error) {
			assert.Equal(t, maxPageLimit, limit)
			assert.Equal(t, 10, offset)
			return []*models.ApprovalRequest{}, nil
		},
	}
	h := newApprovalHandler(svc)

	claims := &models.TokenClaims{UserID: "approver-1"}
	req := authedRequest(http.MethodGet, "/approval-requests/pending?limit=9999&offset=10", nil, claims)
	rec := httptest.NewRecorder()
	h.ListPendingApprovals(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

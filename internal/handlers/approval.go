package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/relaycrm/relay/internal/auth"
	"github.com/relaycrm/relay/internal/models"
	"github.com/relaycrm/relay/internal/services"
	pkghttp "github.com/relaycrm/relay/pkg/http"
)

const timeFormat = time.RFC3339

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// ApprovalServiceInterface defines the interface for approval workflow logic
type ApprovalServiceInterface interface {
	CreateWorkflow(ctx context.Context, name, description, entityType string) (*models.ApprovalWorkflow, error)
	AddStep(ctx context.Context, workflowID string, stepOrder int, approverID string, requiresAll bool) (*models.WorkflowStep, error)
	GetWorkflow(ctx context.Context, id string) (*models.ApprovalWorkflow, error)
	ListWorkflows(ctx context.Context, limit, offset int) ([]*models.ApprovalWorkflow, error)
	SetWorkflowActive(ctx context.Context, id string, active bool) error
	CreateRequest(ctx context.Context, workflowID, entityID, requesterID string, data models.RequestData, meta pkghttp.ClientMeta) (*models.ApprovalRequest, error)
	ProcessAction(ctx context.Context, requestID, approverID, stepID, action, comments string, meta pkghttp.ClientMeta) (*services.ActionResult, error)
	CancelRequest(ctx context.Context, requestID, actorID string, meta pkghttp.ClientMeta) (*models.ApprovalRequest, error)
	GetRequest(ctx context.Context, id string) (*services.RequestDetail, error)
	ListRequestsByRequester(ctx context.Context, requesterID string, limit, offset int) ([]*models.ApprovalRequest, error)
	ListPendingForApprover(ctx context.Context, approverID string, limit, offset int) ([]*models.ApprovalRequest, error)
}

// ApprovalHandler handles workflow and approval request HTTP endpoints
type ApprovalHandler struct {
	service  ApprovalServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewApprovalHandler creates a new ApprovalHandler
func NewApprovalHandler(service ApprovalServiceInterface, ipConfig *pkghttp.IPConfig) *ApprovalHandler {
	return &ApprovalHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// CreateWorkflowRequest represents the request body for workflow creation
type CreateWorkflowRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=200"`
	Description string `json:"description" validate:"max=2000"`
	EntityType  string `json:"entity_type" validate:"required,min=1,max=100"`
}

// AddStepRequest represents the request body for adding a workflow step
type AddStepRequest struct {
	StepOrder   int    `json:"step_order" validate:"required,gte=1"`
	ApproverID  string `json:"approver_id" validate:"required"`
	RequiresAll bool   `json:"requires_all"`
}

// UpdateWorkflowRequest represents the request body for workflow updates
type UpdateWorkflowRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

// CreateApprovalRequest represents the request body for opening a request
type CreateApprovalRequest struct {
	WorkflowID  string             `json:"workflow_id" validate:"required"`
	EntityID    string             `json:"entity_id" validate:"required"`
	RequestData models.RequestData `json:"request_data"`
}

// ActionRequest represents the request body for an approval decision
type ActionRequest struct {
	Action   string `json:"action" validate:"required,oneof=approved rejected"`
	StepID   string `json:"step_id" validate:"required"`
	Comments string `json:"comments" validate:"max=2000"`
}

// Response DTOs

// StepResponse represents a workflow step in the HTTP response
type StepResponse struct {
	ID          string `json:"id"`
	StepOrder   int    `json:"step_order"`
	ApproverID  string `json:"approver_id"`
	RequiresAll bool   `json:"requires_all"`
}

// WorkflowResponse represents a workflow in the HTTP response
type WorkflowResponse struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	EntityType  string         `json:"entity_type"`
	IsActive    bool           `json:"is_active"`
	Steps       []StepResponse `json:"steps,omitempty"`
	CreatedAt   string         `json:"created_at"`
}

// RequestResponse represents an approval request in the HTTP response
type RequestResponse struct {
	ID            string             `json:"id"`
	WorkflowID    string             `json:"workflow_id"`
	EntityType    string             `json:"entity_type"`
	EntityID      string             `json:"entity_id"`
	RequesterID   string             `json:"requester_id"`
	CurrentStepID *string            `json:"current_step_id"`
	Status        string             `json:"status"`
	RequestData   models.RequestData `json:"request_data,omitempty"`
	CreatedAt     string             `json:"created_at"`
	CompletedAt   *string            `json:"completed_at,omitempty"`
}

// ActionResponse represents a recorded decision in the HTTP response
type ActionResponse struct {
	ID         string `json:"id"`
	StepID     string `json:"step_id"`
	ApproverID string `json:"approver_id"`
	Action     string `json:"action"`
	Comments   string `json:"comments,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// RequestDetailResponse bundles a request with its decision history
type RequestDetailResponse struct {
	Request RequestResponse  `json:"request"`
	Actions []ActionResponse `json:"actions"`
}

// ActionResultResponse pairs a recorded decision with the resulting request state
type ActionResultResponse struct {
	Action  ActionResponse  `json:"action"`
	Request RequestResponse `json:"request"`
}

// CreateWorkflow handles workflow creation
func (h *ApprovalHandler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if details := ValidateRequest(req); details != nil {
		pkghttp.WriteValidationError(w, "Validation failed", details)
		return
	}

	wf, err := h.service.CreateWorkflow(r.Context(), req.Name, req.Description, req.EntityType)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid request")
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "Workflow already exists")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, workflowToResponse(wf))
}

// ListWorkflows returns workflow definitions
func (h *ApprovalHandler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	workflows, err := h.service.ListWorkflows(r.Context(), limit, offset)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	resp := make([]WorkflowResponse, 0, len(workflows))
	for _, wf := range workflows {
		resp = append(resp, workflowToResponse(wf))
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// GetWorkflow returns a workflow with its steps
func (h *ApprovalHandler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.service.GetWorkflow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Workflow not found")
		} else {
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, workflowToResponse(wf))
}

// AddStep appends a step to a workflow
func (h *ApprovalHandler) AddStep(w http.ResponseWriter, r *http.Request) {
	var req AddStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if details := ValidateRequest(req); details != nil {
		pkghttp.WriteValidationError(w, "Validation failed", details)
		return
	}

	step, err := h.service.AddStep(r.Context(), chi.URLParam(r, "id"), req.StepOrder, req.ApproverID, req.RequiresAll)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrDuplicateStep):
			pkghttp.WriteConflict(w, "Step order already in use")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "Workflow not found")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Unknown approver or invalid step")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, stepToResponse(step))
}

// UpdateWorkflow enables or disables a workflow
func (h *ApprovalHandler) UpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req UpdateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if req.IsActive == nil {
		pkghttp.WriteBadRequest(w, "is_active is required")
		return
	}

	if err := h.service.SetWorkflowActive(r.Context(), chi.URLParam(r, "id"), *req.IsActive); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Workflow not found")
		} else {
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CreateRequest opens an approval request
func (h *ApprovalHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req CreateApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if details := ValidateRequest(req); details != nil {
		pkghttp.WriteValidationError(w, "Validation failed", details)
		return
	}

	meta := pkghttp.ExtractClientMeta(r, h.ipConfig)
	request, err := h.service.CreateRequest(r.Context(), req.WorkflowID, req.EntityID, claims.UserID, req.RequestData, meta)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "Workflow not found")
		case errors.Is(err, models.ErrWorkflowInactive):
			pkghttp.WriteConflict(w, "Workflow is not active")
		case errors.Is(err, models.ErrWorkflowEmpty):
			pkghttp.WriteConflict(w, "Workflow has no steps")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid request")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, requestToResponse(request))
}

// GetRequest returns a request with its decision history
func (h *ApprovalHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.GetRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Request not found")
		} else {
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	resp := RequestDetailResponse{
		Request: requestToResponse(detail.Request),
		Actions: make([]ActionResponse, 0, len(detail.Actions)),
	}
	for _, a := range detail.Actions {
		resp.Actions = append(resp.Actions, actionToResponse(a))
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// ListMyRequests returns the authenticated user's requests
func (h *ApprovalHandler) ListMyRequests(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	limit, offset := parsePagination(r)
	requests, err := h.service.ListRequestsByRequester(r.Context(), claims.UserID, limit, offset)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, requestsToResponse(requests))
}

// ListPendingApprovals returns requests waiting on the authenticated user
func (h *ApprovalHandler) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	limit, offset := parsePagination(r)
	requests, err := h.service.ListPendingForApprover(r.Context(), claims.UserID, limit, offset)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, requestsToResponse(requests))
}

// ProcessAction records an approve or reject decision
func (h *ApprovalHandler) ProcessAction(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if details := ValidateRequest(req); details != nil {
		pkghttp.WriteValidationError(w, "Validation failed", details)
		return
	}

	meta := pkghttp.ExtractClientMeta(r, h.ipConfig)
	result, err := h.service.ProcessAction(r.Context(), chi.URLParam(r, "id"), claims.UserID, req.StepID, req.Action, req.Comments, meta)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "Request not found")
		case errors.Is(err, models.ErrForbidden):
			pkghttp.WriteForbidden(w, "Not the approver for the current step")
		case errors.Is(err, models.ErrInvalidTransition):
			pkghttp.WriteInvalidTransition(w, "Request is not pending at that step")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid action")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, ActionResultResponse{
		Action:  actionToResponse(result.Action),
		Request: requestToResponse(result.Request),
	})
}

// CancelRequest lets the requester withdraw a pending request
func (h *ApprovalHandler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	meta := pkghttp.ExtractClientMeta(r, h.ipConfig)
	request, err := h.service.CancelRequest(r.Context(), chi.URLParam(r, "id"), claims.UserID, meta)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "Request not found")
		case errors.Is(err, models.ErrForbidden):
			pkghttp.WriteForbidden(w, "Only the requester can cancel a request")
		case errors.Is(err, models.ErrInvalidTransition):
			pkghttp.WriteInvalidTransition(w, "Request is already completed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, requestToResponse(request))
}

func workflowToResponse(wf *models.ApprovalWorkflow) WorkflowResponse {
	resp := WorkflowResponse{
		ID:          wf.ID,
		Name:        wf.Name,
		Description: wf.Description,
		EntityType:  wf.EntityType,
		IsActive:    wf.IsActive,
		CreatedAt:   wf.CreatedAt.Format(timeFormat),
	}
	for _, step := range wf.Steps {
		resp.Steps = append(resp.Steps, stepToResponse(step))
	}
	return resp
}

func stepToResponse(step *models.WorkflowStep) StepResponse {
	return StepResponse{
		ID:          step.ID,
		StepOrder:   step.StepOrder,
		ApproverID:  step.ApproverID,
		RequiresAll: step.RequiresAll,
	}
}

func actionToResponse(a *models.ApprovalAction) ActionResponse {
	return ActionResponse{
		ID:         a.ID,
		StepID:     a.StepID,
		ApproverID: a.ApproverID,
		Action:     a.Action,
		Comments:   a.Comments,
		CreatedAt:  a.CreatedAt.Format(timeFormat),
	}
}

func requestToResponse(req *models.ApprovalRequest) RequestResponse {
	resp := RequestResponse{
		ID:            req.ID,
		WorkflowID:    req.WorkflowID,
		EntityType:    req.EntityType,
		EntityID:      req.EntityID,
		RequesterID:   req.RequesterID,
		CurrentStepID: req.CurrentStepID,
		Status:        req.Status,
		RequestData:   req.RequestData,
		CreatedAt:     req.CreatedAt.Format(timeFormat),
	}
	if req.CompletedAt != nil {
		completed := req.CompletedAt.Format(timeFormat)
		resp.CompletedAt = &completed
	}
	return resp
}

func requestsToResponse(requests []*models.ApprovalRequest) []RequestResponse {
	resp := make([]RequestResponse, 0, len(requests))
	for _, req := range requests {
		resp = append(resp, requestToResponse(req))
	}
	return resp
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit = defaultPageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
			if limit > maxPageLimit {
				limit = maxPageLimit
			}
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}

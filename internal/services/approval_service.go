package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/relaycrm/relay/internal/models"
	"github.com/relaycrm/relay/internal/repositories"
	pkghttp "github.com/relaycrm/relay/pkg/http"
	pkglogger "github.com/relaycrm/relay/pkg/logger"
)

// ApprovalService drives multi-step approval workflows: definitions, request
// intake and the transactional decision state machine.
type ApprovalService struct {
	db          TxManager
	workflows   repositories.WorkflowStore
	requests    repositories.ApprovalRequestStore
	users       repositories.UserStore
	audits      repositories.AuditLogStore
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewApprovalService creates a new ApprovalService
func NewApprovalService(
	db TxManager,
	workflows repositories.WorkflowStore,
	requests repositories.ApprovalRequestStore,
	users repositories.UserStore,
	audits repositories.AuditLogStore,
	log *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *ApprovalService {
	return &ApprovalService{
		db:          db,
		workflows:   workflows,
		requests:    requests,
		users:       users,
		audits:      audits,
		logger:      log,
		auditLogger: auditLogger,
	}
}

// RequestDetail bundles a request with its decision history.
type RequestDetail struct {
	Request *models.ApprovalRequest
	Actions []*models.ApprovalAction
}

// ActionResult pairs a recorded decision with the request state it produced.
type ActionResult struct {
	Action  *models.ApprovalAction
	Request *models.ApprovalRequest
}

// CreateWorkflow defines a new workflow. Workflows start active but cannot
// accept requests until at least one step is added.
func (s *ApprovalService) CreateWorkflow(ctx context.Context, name, description, entityType string) (*models.ApprovalWorkflow, error) {
	name = strings.TrimSpace(name)
	entityType = strings.TrimSpace(entityType)
	if name == "" || entityType == "" {
		return nil, models.ErrBadRequest
	}

	wf, err := s.workflows.Create(ctx, &models.ApprovalWorkflow{
		Name:        name,
		Description: strings.TrimSpace(description),
		EntityType:  entityType,
		IsActive:    true,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create workflow", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("workflow created",
		slog.String("workflow_id", wf.ID), slog.String("entity_type", wf.EntityType))
	return wf, nil
}

// AddStep appends an approval step to a workflow. Step orders must be unique
// within the workflow; a reused order is rejected.
func (s *ApprovalService) AddStep(ctx context.Context, workflowID string, stepOrder int, approverID string, requiresAll bool) (*models.WorkflowStep, error) {
	if stepOrder < 1 {
		return nil, models.ErrBadRequest
	}

	if _, err := s.workflows.GetByID(ctx, workflowID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get workflow", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if _, err := s.users.GetByID(ctx, approverID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrBadRequest
		}
		s.logger.Error("failed to get approver", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	step, err := s.workflows.AddStep(ctx, &models.WorkflowStep{
		WorkflowID:  workflowID,
		StepOrder:   stepOrder,
		ApproverID:  approverID,
		RequiresAll: requiresAll,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrDuplicateStep
		}
		s.logger.Error("failed to add workflow step",
			slog.String("workflow_id", workflowID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("workflow step added",
		slog.String("workflow_id", workflowID),
		slog.Int("step_order", step.StepOrder))
	return step, nil
}

// GetWorkflow returns a workflow with its ordered steps.
func (s *ApprovalService) GetWorkflow(ctx context.Context, id string) (*models.ApprovalWorkflow, error) {
	wf, err := s.workflows.GetWithSteps(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get workflow", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return wf, nil
}

// ListWorkflows returns workflow definitions, newest first.
func (s *ApprovalService) ListWorkflows(ctx context.Context, limit, offset int) ([]*models.ApprovalWorkflow, error) {
	workflows, err := s.workflows.List(ctx, limit, offset)
	if err != nil {
		s.logger.Error("failed to list workflows", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return workflows, nil
}

// SetWorkflowActive enables or disables a workflow for new requests.
// Requests already in flight keep moving.
func (s *ApprovalService) SetWorkflowActive(ctx context.Context, id string, active bool) error {
	if err := s.workflows.SetActive(ctx, id, active); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to update workflow", slog.Any("error", err))
		return models.ErrInternalServer
	}
	return nil
}

// CreateRequest opens an approval request against a workflow. The request
// starts at the workflow's lowest-ordered step.
func (s *ApprovalService) CreateRequest(ctx context.Context, workflowID, entityID, requesterID string, data models.RequestData, meta pkghttp.ClientMeta) (*models.ApprovalRequest, error) {
	if strings.TrimSpace(entityID) == "" {
		return nil, models.ErrBadRequest
	}

	wf, err := s.workflows.GetWithSteps(ctx, workflowID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get workflow", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if !wf.IsActive {
		return nil, models.ErrWorkflowInactive
	}
	if len(wf.Steps) == 0 {
		return nil, models.ErrWorkflowEmpty
	}

	firstStepID := wf.Steps[0].ID
	req, err := s.requests.Create(ctx, &models.ApprovalRequest{
		WorkflowID:    wf.ID,
		EntityType:    wf.EntityType,
		EntityID:      entityID,
		RequesterID:   requesterID,
		CurrentStepID: &firstStepID,
		Status:        models.RequestStatusPending,
		RequestData:   data,
	})
	if err != nil {
		s.logger.Error("failed to create approval request",
			slog.String("workflow_id", workflowID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.recordAudit(ctx, models.AuditEventRequestCreated, &requesterID, meta, true, "", models.AuditDetail{
		"request_id":  req.ID,
		"workflow_id": wf.ID,
		"entity_id":   entityID,
	})
	s.logger.Info("approval request created",
		slog.String("request_id", req.ID),
		slog.String("workflow_id", wf.ID))
	return req, nil
}

// ProcessAction records an approve or reject decision. The whole state
// transition runs in one transaction under a row lock, so two approvers
// racing on the same request serialize and the loser gets
// ErrInvalidTransition.
//
// stepID is the step the caller believes it is deciding and must match the
// request's current step, which rejects decisions made against a stale view
// of the request. Without that assertion a retried decision would silently
// apply to whatever step the request advanced to in the meantime.
func (s *ApprovalService) ProcessAction(ctx context.Context, requestID, approverID, stepID, action, comments string, meta pkghttp.ClientMeta) (*ActionResult, error) {
	if action != models.ActionApproved && action != models.ActionRejected {
		return nil, models.ErrBadRequest
	}
	if stepID == "" {
		return nil, models.ErrBadRequest
	}

	var result ActionResult
	err := s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		txRequests := s.requests.WithTx(tx)
		txWorkflows := s.workflows.WithTx(tx)

		req, err := txRequests.GetByIDForUpdate(ctx, requestID)
		if err != nil {
			return err
		}

		if req.Status != models.RequestStatusPending || req.CurrentStepID == nil {
			return models.ErrInvalidTransition
		}
		if stepID != *req.CurrentStepID {
			return models.ErrInvalidTransition
		}

		step, err := txWorkflows.GetStep(ctx, *req.CurrentStepID)
		if err != nil {
			return err
		}
		if step.ApproverID != approverID {
			return models.ErrForbidden
		}

		recorded, err := txRequests.InsertAction(ctx, &models.ApprovalAction{
			RequestID:  req.ID,
			StepID:     step.ID,
			ApproverID: approverID,
			Action:     action,
			Comments:   comments,
		})
		if err != nil {
			return err
		}

		status, nextStepID, completedAt, err := s.nextState(ctx, txWorkflows, req, step, action)
		if err != nil {
			return err
		}

		if err := txRequests.UpdateState(ctx, req.ID, status, nextStepID, completedAt); err != nil {
			return err
		}

		req.Status = status
		req.CurrentStepID = nextStepID
		req.CompletedAt = completedAt
		result = ActionResult{Action: recorded, Request: req}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound),
			errors.Is(err, models.ErrForbidden),
			errors.Is(err, models.ErrInvalidTransition):
			return nil, err
		default:
			s.logger.Error("failed to process approval action",
				slog.String("request_id", requestID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
	}

	s.recordAudit(ctx, models.AuditEventActionRecorded, &approverID, meta, true, "", models.AuditDetail{
		"request_id": result.Request.ID,
		"action":     action,
		"status":     result.Request.Status,
	})
	s.logger.Info("approval action recorded",
		slog.String("request_id", result.Request.ID),
		slog.String("action", action),
		slog.String("status", result.Request.Status))
	return &result, nil
}

// nextState computes the request's state after a decision. Rejection is
// terminal immediately; approval either advances to the next step or, at the
// last step, terminalizes the request as approved.
func (s *ApprovalService) nextState(ctx context.Context, workflows repositories.WorkflowStore, req *models.ApprovalRequest, step *models.WorkflowStep, action string) (string, *string, *time.Time, error) {
	now := time.Now()

	if action == models.ActionRejected {
		return models.RequestStatusRejected, nil, &now, nil
	}

	next, err := workflows.NextStep(ctx, req.WorkflowID, step.StepOrder)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.RequestStatusApproved, nil, &now, nil
		}
		return "", nil, nil, err
	}

	return models.RequestStatusPending, &next.ID, nil, nil
}

// CancelRequest lets the requester withdraw a pending request.
func (s *ApprovalService) CancelRequest(ctx context.Context, requestID, actorID string, meta pkghttp.ClientMeta) (*models.ApprovalRequest, error) {
	var result *models.ApprovalRequest
	err := s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		txRequests := s.requests.WithTx(tx)

		req, err := txRequests.GetByIDForUpdate(ctx, requestID)
		if err != nil {
			return err
		}

		if req.RequesterID != actorID {
			return models.ErrForbidden
		}
		if req.IsTerminal() {
			return models.ErrInvalidTransition
		}

		now := time.Now()
		if err := txRequests.UpdateState(ctx, req.ID, models.RequestStatusCancelled, nil, &now); err != nil {
			return err
		}

		req.Status = models.RequestStatusCancelled
		req.CurrentStepID = nil
		req.CompletedAt = &now
		result = req
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound),
			errors.Is(err, models.ErrForbidden),
			errors.Is(err, models.ErrInvalidTransition):
			return nil, err
		default:
			s.logger.Error("failed to cancel approval request",
				slog.String("request_id", requestID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
	}

	s.recordAudit(ctx, models.AuditEventRequestCancelled, &actorID, meta, true, "", models.AuditDetail{
		"request_id":  result.ID,
		"workflow_id": result.WorkflowID,
	})
	s.logger.Info("approval request cancelled", slog.String("request_id", result.ID))
	return result, nil
}

// GetRequest returns a request with its full decision history.
func (s *ApprovalService) GetRequest(ctx context.Context, id string) (*RequestDetail, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get approval request", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	actions, err := s.requests.ListActions(ctx, id)
	if err != nil {
		s.logger.Error("failed to list approval actions", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &RequestDetail{Request: req, Actions: actions}, nil
}

// ListRequestsByRequester returns the requests a user has opened.
func (s *ApprovalService) ListRequestsByRequester(ctx context.Context, requesterID string, limit, offset int) ([]*models.ApprovalRequest, error) {
	requests, err := s.requests.ListByRequester(ctx, requesterID, limit, offset)
	if err != nil {
		s.logger.Error("failed to list approval requests", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return requests, nil
}

// ListPendingForApprover returns requests waiting on the given approver.
func (s *ApprovalService) ListPendingForApprover(ctx context.Context, approverID string, limit, offset int) ([]*models.ApprovalRequest, error) {
	requests, err := s.requests.ListPendingForApprover(ctx, approverID, limit, offset)
	if err != nil {
		s.logger.Error("failed to list pending approvals", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return requests, nil
}

func (s *ApprovalService) recordAudit(ctx context.Context, event string, userID *string, meta pkghttp.ClientMeta, success bool, reason string, detail models.AuditDetail) {
	if _, err := s.audits.Create(ctx, &models.AuditLog{
		UserID:    userID,
		Event:     event,
		Detail:    detail,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}); err != nil {
		s.logger.Error("failed to persist audit log",
			slog.String("event", event), slog.Any("error", err))
	}

	logEvent := pkglogger.AuditEvent{
		Event:         event,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		Success:       success,
		FailureReason: reason,
	}
	if userID != nil {
		logEvent.UserID = *userID
	}
	s.auditLogger.LogEvent(logEvent)
}

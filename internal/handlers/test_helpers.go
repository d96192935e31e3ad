package handlers

import (
	"context"

	"github.com/relaycrm/relay/internal/models"
	"github.com/relaycrm/relay/internal/services"
	pkghttp "github.com/relaycrm/relay/pkg/http"
)

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	RegisterFunc             func(ctx context.Context, email, password string, meta pkghttp.ClientMeta) (*services.UserResponse, error)
	LoginFunc                func(ctx context.Context, email, password string, meta pkghttp.ClientMeta) (*services.AuthResponse, error)
	RefreshFunc              func(ctx context.Context, refreshToken string, meta pkghttp.ClientMeta) (*services.AuthResponse, error)
	LogoutFunc               func(ctx context.Context, refreshToken string, meta pkghttp.ClientMeta) error
	LogoutAllFunc            func(ctx context.Context, userID string, meta pkghttp.ClientMeta) error
	VerifyEmailFunc          func(ctx context.Context, token string, meta pkghttp.ClientMeta) error
	RequestPasswordResetFunc func(ctx context.Context, email string, meta pkghttp.ClientMeta) error
	ResetPasswordFunc        func(ctx context.Context, token, newPassword string, meta pkghttp.ClientMeta) error
	ListSessionsFunc         func(ctx context.Context, userID string) ([]*models.RefreshToken, error)
}

func (m *MockAuthService) Register(ctx context.Context, email, password string, meta pkghttp.ClientMeta) (*services.UserResponse, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, email, password, meta)
	}
	return &services.UserResponse{ID: "user-1", Email: email}, nil
}

func (m *MockAuthService) Login(ctx context.Context, email, password string, meta pkghttp.ClientMeta) (*services.AuthResponse, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, email, password, meta)
	}
	return nil, models.ErrUnauthorized
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string, meta pkghttp.ClientMeta) (*services.AuthResponse, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken, meta)
	}
	return nil, models.ErrUnauthorized
}

func (m *MockAuthService) Logout(ctx context.Context, refreshToken string, meta pkghttp.ClientMeta) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, refreshToken, meta)
	}
	return nil
}

func (m *MockAuthService) LogoutAll(ctx context.Context, userID string, meta pkghttp.ClientMeta) error {
	if m.LogoutAllFunc != nil {
		return m.LogoutAllFunc(ctx, userID, meta)
	}
	return nil
}

func (m *MockAuthService) VerifyEmail(ctx context.Context, token string, meta pkghttp.ClientMeta) error {
	if m.VerifyEmailFunc != nil {
		return m.VerifyEmailFunc(ctx, token, meta)
	}
	return nil
}

func (m *MockAuthService) RequestPasswordReset(ctx context.Context, email string, meta pkghttp.ClientMeta) error {
	if m.RequestPasswordResetFunc != nil {
		return m.RequestPasswordResetFunc(ctx, email, meta)
	}
	return nil
}

func (m *MockAuthService) ResetPassword(ctx context.Context, token, newPassword string, meta pkghttp.ClientMeta) error {
	if m.ResetPasswordFunc != nil {
		return m.ResetPasswordFunc(ctx, token, newPassword, meta)
	}
	return nil
}

func (m *MockAuthService) ListSessions(ctx context.Context, userID string) ([]*models.RefreshToken, error) {
	if m.ListSessionsFunc != nil {
		return m.ListSessionsFunc(ctx, userID)
	}
	return []*models.RefreshToken{}, nil
}

// MockApprovalService implements ApprovalServiceInterface for testing
type MockApprovalService struct {
	CreateWorkflowFunc          func(ctx context.Context, name, description, entityType string) (*models.ApprovalWorkflow, error)
	AddStepFunc                 func(ctx context.Context, workflowID string, stepOrder int, approverID string, requiresAll bool) (*models.WorkflowStep, error)
	GetWorkflowFunc             func(ctx context.Context, id string) (*models.ApprovalWorkflow, error)
	ListWorkflowsFunc           func(ctx context.Context, limit, offset int) ([]*models.ApprovalWorkflow, error)
	SetWorkflowActiveFunc       func(ctx context.Context, id string, active bool) error
	CreateRequestFunc           func(ctx context.Context, workflowID, entityID, requesterID string, data models.RequestData, meta pkghttp.ClientMeta) (*models.ApprovalRequest, error)
	ProcessActionFunc           func(ctx context.Context, requestID, approverID, stepID, action, comments string, meta pkghttp.ClientMeta) (*services.ActionResult, error)
	CancelRequestFunc           func(ctx context.Context, requestID, actorID string, meta pkghttp.ClientMeta) (*models.ApprovalRequest, error)
	GetRequestFunc              func(ctx context.Context, id string) (*services.RequestDetail, error)
	ListRequestsByRequesterFunc func(ctx context.Context, requesterID string, limit, offset int) ([]*models.ApprovalRequest, error)
	ListPendingForApproverFunc  func(ctx context.Context, approverID string, limit, offset int) ([]*models.ApprovalRequest, error)
}

func (m *MockApprovalService) CreateWorkflow(ctx context.Context, name, description, entityType string) (*models.ApprovalWorkflow, error) {
	if m.CreateWorkflowFunc != nil {
		return m.CreateWorkflowFunc(ctx, name, description, entityType)
	}
	return &models.ApprovalWorkflow{ID: "wf-1", Name: name, EntityType: entityType, IsActive: true}, nil
}

func (m *MockApprovalService) AddStep(ctx context.Context, workflowID string, stepOrder int, approverID string, requiresAll bool) (*models.WorkflowStep, error) {
	if m.AddStepFunc != nil {
		return m.AddStepFunc(ctx, workflowID, stepOrder, approverID, requiresAll)
	}
	return &models.WorkflowStep{ID: "step-1", WorkflowID: workflowID, StepOrder: stepOrder, ApproverID: approverID}, nil
}

func (m *MockApprovalService) GetWorkflow(ctx context.Context, id string) (*models.ApprovalWorkflow, error) {
	if m.GetWorkflowFunc != nil {
		return m.GetWorkflowFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockApprovalService) ListWorkflows(ctx context.Context, limit, offset int) ([]*models.ApprovalWorkflow, error) {
	if m.ListWorkflowsFunc != nil {
		return m.ListWorkflowsFunc(ctx, limit, offset)
	}
	return []*models.ApprovalWorkflow{}, nil
}

func (m *MockApprovalService) SetWorkflowActive(ctx context.Context, id string, active bool) error {
	if m.SetWorkflowActiveFunc != nil {
		return m.SetWorkflowActiveFunc(ctx, id, active)
	}
	return nil
}

func (m *MockApprovalService) CreateRequest(ctx context.Context, workflowID, entityID, requesterID string, data models.RequestData, meta pkghttp.ClientMeta) (*models.ApprovalRequest, error) {
	if m.CreateRequestFunc != nil {
		return m.CreateRequestFunc(ctx, workflowID, entityID, requesterID, data, meta)
	}
	return nil, models.ErrNotFound
}

func (m *MockApprovalService) ProcessAction(ctx context.Context, requestID, approverID, stepID, action, comments string, meta pkghttp.ClientMeta) (*services.ActionResult, error) {
	if m.ProcessActionFunc != nil {
		return m.ProcessActionFunc(ctx, requestID, approverID, stepID, action, comments, meta)
	}
	return nil, models.ErrNotFound
}

func (m *MockApprovalService) CancelRequest(ctx context.Context, requestID, actorID string, meta pkghttp.ClientMeta) (*models.ApprovalRequest, error) {
	if m.CancelRequestFunc != nil {
		return m.CancelRequestFunc(ctx, requestID, actorID, meta)
	}
	return nil, models.ErrNotFound
}

func (m *MockApprovalService) GetRequest(ctx context.Context, id string) (*services.RequestDetail, error) {
	if m.GetRequestFunc != nil {
		return m.GetRequestFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockApprovalService) ListRequestsByRequester(ctx context.Context, requesterID string, limit, offset int) ([]*models.ApprovalRequest, error) {
	if m.ListRequestsByRequesterFunc != nil {
		return m.ListRequestsByRequesterFunc(ctx, requesterID, limit, offset)
	}
	return []*models.ApprovalRequest{}, nil
}

func (m *MockApprovalService) ListPendingForApprover(ctx context.Context, approverID string, limit, offset int) ([]*models.ApprovalRequest, error) {
	if m.ListPendingForApproverFunc != nil {
		return m.ListPendingForApproverFunc(ctx, approverID, limit, offset)
	}
	return []*models.ApprovalRequest{}, nil
}

// MockAdminService implements AdminServiceInterface for testing
type MockAdminService struct {
	ListUsersFunc     func(ctx context.Context, limit, offset int) ([]*models.User, error)
	DeleteUserFunc    func(ctx context.Context, id, actorID string) error
	ListAuditLogsFunc func(ctx context.Context, userID, event string, limit, offset int) ([]*models.AuditLog, error)
}

func (m *MockAdminService) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error) {
	if m.ListUsersFunc != nil {
		return m.ListUsersFunc(ctx, limit, offset)
	}
	return []*models.User{}, nil
}

func (m *MockAdminService) DeleteUser(ctx context.Context, id, actorID string) error {
	if m.DeleteUserFunc != nil {
		return m.DeleteUserFunc(ctx, id, actorID)
	}
	return nil
}

func (m *MockAdminService) ListAuditLogs(ctx context.Context, userID, event string, limit, offset int) ([]*models.AuditLog, error) {
	if m.ListAuditLogsFunc != nil {
		return m.ListAuditLogsFunc(ctx, userID, event, limit, offset)
	}
	return []*models.AuditLog{}, nil
}

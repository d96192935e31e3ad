package services

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/relaycrm/relay/internal/models"
	"github.com/relaycrm/relay/internal/repositories"
	pkglogger "github.com/relaycrm/relay/pkg/logger"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAuditLogger() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(newTestLogger())
}

// MockTxManager implements TxManager for testing. The callback runs with a
// nil transaction; mock stores ignore WithTx anyway.
type MockTxManager struct {
	WithTransactionFunc func(ctx context.Context, fn func(pgx.Tx) error) error
}

func (m *MockTxManager) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(nil)
}

// MockUserStore implements repositories.UserStore for testing
type MockUserStore struct {
	CreateFunc            func(ctx context.Context, user *models.User) (*models.User, error)
	GetByIDFunc           func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc        func(ctx context.Context, email string) (*models.User, error)
	ListFunc              func(ctx context.Context, limit, offset int) ([]*models.User, error)
	RecordFailedLoginFunc func(ctx context.Context, id string, maxFailures int, lockedUntil time.Time) (*models.User, error)
	ResetLoginStateFunc   func(ctx context.Context, id string) error
	UpdatePasswordFunc    func(ctx context.Context, id, passwordHash string) error
	SetEmailVerifiedFunc  func(ctx context.Context, id string) error
	DeleteFunc            func(ctx context.Context, id string) error
}

func (m *MockUserStore) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserStore) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, limit, offset)
	}
	return []*models.User{}, nil
}

func (m *MockUserStore) RecordFailedLogin(ctx context.Context, id string, maxFailures int, lockedUntil time.Time) (*models.User, error) {
	if m.RecordFailedLoginFunc != nil {
		return m.RecordFailedLoginFunc(ctx, id, maxFailures, lockedUntil)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserStore) ResetLoginState(ctx context.Context, id string) error {
	if m.ResetLoginStateFunc != nil {
		return m.ResetLoginStateFunc(ctx, id)
	}
	return nil
}

func (m *MockUserStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	return nil
}

func (m *MockUserStore) SetEmailVerified(ctx context.Context, id string) error {
	if m.SetEmailVerifiedFunc != nil {
		return m.SetEmailVerifiedFunc(ctx, id)
	}
	return nil
}

func (m *MockUserStore) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

func (m *MockUserStore) WithTx(tx pgx.Tx) repositories.UserStore { return m }

// MockRefreshTokenStore implements repositories.RefreshTokenStore for testing
type MockRefreshTokenStore struct {
	CreateFunc            func(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error)
	GetByTokenHashFunc    func(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	RevokeFunc            func(ctx context.Context, id string, replacedBy *string) error
	RevokeAllForUserFunc  func(ctx context.Context, userID string) (int64, error)
	ListActiveForUserFunc func(ctx context.Context, userID string) ([]*models.RefreshToken, error)
	CleanupExpiredFunc    func(ctx context.Context) (int64, error)
}

func (m *MockRefreshTokenStore) Create(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, token)
	}
	token.ID = "token_1"
	return token, nil
}

func (m *MockRefreshTokenStore) GetByTokenHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	if m.GetByTokenHashFunc != nil {
		return m.GetByTokenHashFunc(ctx, tokenHash)
	}
	return nil, models.ErrNotFound
}

func (m *MockRefreshTokenStore) Revoke(ctx context.Context, id string, replacedBy *string) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, id, replacedBy)
	}
	return nil
}

func (m *MockRefreshTokenStore) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	if m.RevokeAllForUserFunc != nil {
		return m.RevokeAllForUserFunc(ctx, userID)
	}
	return 0, nil
}

func (m *MockRefreshTokenStore) ListActiveForUser(ctx context.Context, userID string) ([]*models.RefreshToken, error) {
	if m.ListActiveForUserFunc != nil {
		return m.ListActiveForUserFunc(ctx, userID)
	}
	return []*models.RefreshToken{}, nil
}

func (m *MockRefreshTokenStore) CleanupExpired(ctx context.Context) (int64, error) {
	if m.CleanupExpiredFunc != nil {
		return m.CleanupExpiredFunc(ctx)
	}
	return 0, nil
}

func (m *MockRefreshTokenStore) WithTx(tx pgx.Tx) repositories.RefreshTokenStore { return m }

// MockVerificationTokenStore implements repositories.VerificationTokenStore for testing
type MockVerificationTokenStore struct {
	CreateFunc            func(ctx context.Context, token *models.VerificationToken) (*models.VerificationToken, error)
	GetByTokenHashFunc    func(ctx context.Context, tokenHash, purpose string) (*models.VerificationToken, error)
	MarkUsedFunc          func(ctx context.Context, id string) error
	InvalidateForUserFunc func(ctx context.Context, userID, purpose string) error
	CleanupExpiredFunc    func(ctx context.Context) (int64, error)
}

func (m *MockVerificationTokenStore) Create(ctx context.Context, token *models.VerificationToken) (*models.VerificationToken, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, token)
	}
	token.ID = "verification_1"
	return token, nil
}

func (m *MockVerificationTokenStore) GetByTokenHash(ctx context.Context, tokenHash, purpose string) (*models.VerificationToken, error) {
	if m.GetByTokenHashFunc != nil {
		return m.GetByTokenHashFunc(ctx, tokenHash, purpose)
	}
	return nil, models.ErrNotFound
}

func (m *MockVerificationTokenStore) MarkUsed(ctx context.Context, id string) error {
	if m.MarkUsedFunc != nil {
		return m.MarkUsedFunc(ctx, id)
	}
	return nil
}

func (m *MockVerificationTokenStore) InvalidateForUser(ctx context.Context, userID, purpose string) error {
	if m.InvalidateForUserFunc != nil {
		return m.InvalidateForUserFunc(ctx, userID, purpose)
	}
	return nil
}

func (m *MockVerificationTokenStore) CleanupExpired(ctx context.Context) (int64, error) {
	if m.CleanupExpiredFunc != nil {
		return m.CleanupExpiredFunc(ctx)
	}
	return 0, nil
}

func (m *MockVerificationTokenStore) WithTx(tx pgx.Tx) repositories.VerificationTokenStore { return m }

// MockAuditLogStore implements repositories.AuditLogStore for testing
type MockAuditLogStore struct {
	CreateFunc      func(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error)
	ListByUserFunc  func(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error)
	ListByEventFunc func(ctx context.Context, event string, limit, offset int) ([]*models.AuditLog, error)
	CleanupFunc     func(ctx context.Context, olderThan time.Duration) (int64, error)
}

func (m *MockAuditLogStore) Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, log)
	}
	log.ID = "audit_1"
	return log, nil
}

func (m *MockAuditLogStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error) {
	if m.ListByUserFunc != nil {
		return m.ListByUserFunc(ctx, userID, limit, offset)
	}
	return []*models.AuditLog{}, nil
}

func (m *MockAuditLogStore) ListByEvent(ctx context.Context, event string, limit, offset int) ([]*models.AuditLog, error) {
	if m.ListByEventFunc != nil {
		return m.ListByEventFunc(ctx, event, limit, offset)
	}
	return []*models.AuditLog{}, nil
}

func (m *MockAuditLogStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if m.CleanupFunc != nil {
		return m.CleanupFunc(ctx, olderThan)
	}
	return 0, nil
}

func (m *MockAuditLogStore) WithTx(tx pgx.Tx) repositories.AuditLogStore { return m }

// MockWorkflowStore implements repositories.WorkflowStore for testing
type MockWorkflowStore struct {
	CreateFunc       func(ctx context.Context, wf *models.ApprovalWorkflow) (*models.ApprovalWorkflow, error)
	GetByIDFunc      func(ctx context.Context, id string) (*models.ApprovalWorkflow, error)
	GetWithStepsFunc func(ctx context.Context, id string) (*models.ApprovalWorkflow, error)
	ListFunc         func(ctx context.Context, limit, offset int) ([]*models.ApprovalWorkflow, error)
	SetActiveFunc    func(ctx context.Context, id string, active bool) error
	AddStepFunc      func(ctx context.Context, step *models.WorkflowStep) (*models.WorkflowStep, error)
	ListStepsFunc    func(ctx context.Context, workflowID string) ([]*models.WorkflowStep, error)
	GetStepFunc      func(ctx context.Context, stepID string) (*models.WorkflowStep, error)
	NextStepFunc     func(ctx context.Context, workflowID string, afterOrder int) (*models.WorkflowStep, error)
}

func (m *MockWorkflowStore) Create(ctx context.Context, wf *models.ApprovalWorkflow) (*models.ApprovalWorkflow, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, wf)
	}
	wf.ID = "workflow_1"
	return wf, nil
}

func (m *MockWorkflowStore) GetByID(ctx context.Context, id string) (*models.ApprovalWorkflow, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockWorkflowStore) GetWithSteps(ctx context.Context, id string) (*models.ApprovalWorkflow, error) {
	if m.GetWithStepsFunc != nil {
		return m.GetWithStepsFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockWorkflowStore) List(ctx context.Context, limit, offset int) ([]*models.ApprovalWorkflow, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, limit, offset)
	}
	return []*models.ApprovalWorkflow{}, nil
}

func (m *MockWorkflowStore) SetActive(ctx context.Context, id string, active bool) error {
	if m.SetActiveFunc != nil {
		return m.SetActiveFunc(ctx, id, active)
	}
	return nil
}

func (m *MockWorkflowStore) AddStep(ctx context.Context, step *models.WorkflowStep) (*models.WorkflowStep, error) {
	if m.AddStepFunc != nil {
		return m.AddStepFunc(ctx, step)
	}
	step.ID = "step_1"
	return step, nil
}

func (m *MockWorkflowStore) ListSteps(ctx context.Context, workflowID string) ([]*models.WorkflowStep, error) {
	if m.ListStepsFunc != nil {
		return m.ListStepsFunc(ctx, workflowID)
	}
	return []*models.WorkflowStep{}, nil
}

func (m *MockWorkflowStore) GetStep(ctx context.Context, stepID string) (*models.WorkflowStep, error) {
	if m.GetStepFunc != nil {
		return m.GetStepFunc(ctx, stepID)
	}
	return nil, models.ErrNotFound
}

func (m *MockWorkflowStore) NextStep(ctx context.Context, workflowID string, afterOrder int) (*models.WorkflowStep, error) {
	if m.NextStepFunc != nil {
		return m.NextStepFunc(ctx, workflowID, afterOrder)
	}
	return nil, models.ErrNotFound
}

func (m *MockWorkflowStore) WithTx(tx pgx.Tx) repositories.WorkflowStore { return m }

// MockApprovalRequestStore implements repositories.ApprovalRequestStore for testing
type MockApprovalRequestStore struct {
	CreateFunc                 func(ctx context.Context, req *models.ApprovalRequest) (*models.ApprovalRequest, error)
	GetByIDFunc                func(ctx context.Context, id string) (*models.ApprovalRequest, error)
	GetByIDForUpdateFunc       func(ctx context.Context, id string) (*models.ApprovalRequest, error)
	UpdateStateFunc            func(ctx context.Context, id, status string, currentStepID *string, completedAt *time.Time) error
	ListByRequesterFunc        func(ctx context.Context, requesterID string, limit, offset int) ([]*models.ApprovalRequest, error)
	ListPendingForApproverFunc func(ctx context.Context, approverID string, limit, offset int) ([]*models.ApprovalRequest, error)
	InsertActionFunc           func(ctx context.Context, action *models.ApprovalAction) (*models.ApprovalAction, error)
	ListActionsFunc            func(ctx context.Context, requestID string) ([]*models.ApprovalAction, error)
}

func (m *MockApprovalRequestStore) Create(ctx context.Context, req *models.ApprovalRequest) (*models.ApprovalRequest, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, req)
	}
	req.ID = "request_1"
	return req, nil
}

func (m *MockApprovalRequestStore) GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockApprovalRequestStore) GetByIDForUpdate(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	if m.GetByIDForUpdateFunc != nil {
		return m.GetByIDForUpdateFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockApprovalRequestStore) UpdateState(ctx context.Context, id, status string, currentStepID *string, completedAt *time.Time) error {
	if m.UpdateStateFunc != nil {
		return m.UpdateStateFunc(ctx, id, status, currentStepID, completedAt)
	}
	return nil
}

func (m *MockApprovalRequestStore) ListByRequester(ctx context.Context, requesterID string, limit, offset int) ([]*models.ApprovalRequest, error) {
	if m.ListByRequesterFunc != nil {
		return m.ListByRequesterFunc(ctx, requesterID, limit, offset)
	}
	return []*models.ApprovalRequest{}, nil
}

func (m *MockApprovalRequestStore) ListPendingForApprover(ctx context.Context, approverID string, limit, offset int) ([]*models.ApprovalRequest, error) {
	if m.ListPendingForApproverFunc != nil {
		return m.ListPendingForApproverFunc(ctx, approverID, limit, offset)
	}
	return []*models.ApprovalRequest{}, nil
}

func (m *MockApprovalRequestStore) InsertAction(ctx context.Context, action *models.ApprovalAction) (*models.ApprovalAction, error) {
	if m.InsertActionFunc != nil {
		return m.InsertActionFunc(ctx, action)
	}
	action.ID = "action_1"
	return action, nil
}

func (m *MockApprovalRequestStore) ListActions(ctx context.Context, requestID string) ([]*models.ApprovalAction, error) {
	if m.ListActionsFunc != nil {
		return m.ListActionsFunc(ctx, requestID)
	}
	return []*models.ApprovalAction{}, nil
}

func (m *MockApprovalRequestStore) WithTx(tx pgx.Tx) repositories.ApprovalRequestStore { return m }

// MockEmailSender implements EmailSender for testing
type MockEmailSender struct {
	SendVerificationEmailFunc  func(ctx context.Context, email, token string) error
	SendPasswordResetEmailFunc func(ctx context.Context, email, token string) error
}

func (m *MockEmailSender) SendVerificationEmail(ctx context.Context, email, token string) error {
	if m.SendVerificationEmailFunc != nil {
		return m.SendVerificationEmailFunc(ctx, email, token)
	}
	return nil
}

func (m *MockEmailSender) SendPasswordResetEmail(ctx context.Context, email, token string) error {
	if m.SendPasswordResetEmailFunc != nil {
		return m.SendPasswordResetEmailFunc(ctx, email, token)
	}
	return nil
}

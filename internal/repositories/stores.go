package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/relaycrm/relay/internal/models"
)

// Store interfaces consumed by the service layer. Each WithTx returns a copy
// bound to the given transaction so multi-statement operations commit or roll
// back as a unit.

type UserStore interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context, limit, offset int) ([]*models.User, error)
	RecordFailedLogin(ctx context.Context, id string, maxFailures int, lockedUntil time.Time) (*models.User, error)
	ResetLoginState(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetEmailVerified(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	WithTx(tx pgx.Tx) UserStore
}

type RefreshTokenStore interface {
	Create(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	Revoke(ctx context.Context, id string, replacedBy *string) error
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	ListActiveForUser(ctx context.Context, userID string) ([]*models.RefreshToken, error)
	CleanupExpired(ctx context.Context) (int64, error)
	WithTx(tx pgx.Tx) RefreshTokenStore
}

type VerificationTokenStore interface {
	Create(ctx context.Context, token *models.VerificationToken) (*models.VerificationToken, error)
	GetByTokenHash(ctx context.Context, tokenHash, purpose string) (*models.VerificationToken, error)
	MarkUsed(ctx context.Context, id string) error
	InvalidateForUser(ctx context.Context, userID, purpose string) error
	CleanupExpired(ctx context.Context) (int64, error)
	WithTx(tx pgx.Tx) VerificationTokenStore
}

type AuditLogStore interface {
	Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error)
	ListByEvent(ctx context.Context, event string, limit, offset int) ([]*models.AuditLog, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
	WithTx(tx pgx.Tx) AuditLogStore
}

type WorkflowStore interface {
	Create(ctx context.Context, wf *models.ApprovalWorkflow) (*models.ApprovalWorkflow, error)
	GetByID(ctx context.Context, id string) (*models.ApprovalWorkflow, error)
	GetWithSteps(ctx context.Context, id string) (*models.ApprovalWorkflow, error)
	List(ctx context.Context, limit, offset int) ([]*models.ApprovalWorkflow, error)
	SetActive(ctx context.Context, id string, active bool) error
	AddStep(ctx context.Context, step *models.WorkflowStep) (*models.WorkflowStep, error)
	ListSteps(ctx context.Context, workflowID string) ([]*models.WorkflowStep, error)
	GetStep(ctx context.Context, stepID string) (*models.WorkflowStep, error)
	NextStep(ctx context.Context, workflowID string, afterOrder int) (*models.WorkflowStep, error)
	WithTx(tx pgx.Tx) WorkflowStore
}

type ApprovalRequestStore interface {
	Create(ctx context.Context, req *models.ApprovalRequest) (*models.ApprovalRequest, error)
	GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error)
	GetByIDForUpdate(ctx context.Context, id string) (*models.ApprovalRequest, error)
	UpdateState(ctx context.Context, id, status string, currentStepID *string, completedAt *time.Time) error
	ListByRequester(ctx context.Context, requesterID string, limit, offset int) ([]*models.ApprovalRequest, error)
	ListPendingForApprover(ctx context.Context, approverID string, limit, offset int) ([]*models.ApprovalRequest, error)
	InsertAction(ctx context.Context, action *models.ApprovalAction) (*models.ApprovalAction, error)
	ListActions(ctx context.Context, requestID string) ([]*models.ApprovalAction, error)
	WithTx(tx pgx.Tx) ApprovalRequestStore
}

var (
	_ UserStore              = (*UserRepository)(nil)
	_ RefreshTokenStore      = (*RefreshTokenRepository)(nil)
	_ VerificationTokenStore = (*VerificationTokenRepository)(nil)
	_ AuditLogStore          = (*AuditLogRepository)(nil)
	_ WorkflowStore          = (*WorkflowRepository)(nil)
	_ ApprovalRequestStore   = (*ApprovalRequestRepository)(nil)
)

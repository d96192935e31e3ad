package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/relaycrm/relay/internal/database"
	"github.com/relaycrm/relay/internal/models"
)

// ApprovalRequestRepository manages approval requests and their append-only
// action history.
type ApprovalRequestRepository struct {
	db database.Querier
}

func NewApprovalRequestRepository(db *database.DB) *ApprovalRequestRepository {
	return &ApprovalRequestRepository{db: db.Pool}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *ApprovalRequestRepository) WithTx(tx pgx.Tx) ApprovalRequestStore {
	return &ApprovalRequestRepository{db: tx}
}

const approvalRequestColumns = `id, workflow_id, entity_type, entity_id, requester_id, current_step_id, status, request_data, created_at, completed_at`
const approvalActionColumns = `id, request_id, step_id, approver_id, action, comments, created_at`

func scanApprovalRequestRow(scanner rowScanner) (*models.ApprovalRequest, error) {
	var req models.ApprovalRequest

	err := scanner.Scan(
		&req.ID, &req.WorkflowID, &req.EntityType, &req.EntityID,
		&req.RequesterID, &req.CurrentStepID, &req.Status, &req.RequestData,
		&req.CreatedAt, &req.CompletedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &req, nil
}

func scanApprovalRequestRows(rows pgx.Rows) ([]*models.ApprovalRequest, error) {
	defer rows.Close()

	requests := make([]*models.ApprovalRequest, 0)

	for rows.Next() {
		req, err := scanApprovalRequestRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval request: %w", err)
		}
		requests = append(requests, req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating approval request rows: %w", err)
	}

	return requests, nil
}

func scanApprovalActionRow(scanner rowScanner) (*models.ApprovalAction, error) {
	var action models.ApprovalAction

	err := scanner.Scan(
		&action.ID, &action.RequestID, &action.StepID, &action.ApproverID,
		&action.Action, &action.Comments, &action.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &action, nil
}

func (r *ApprovalRequestRepository) Create(ctx context.Context, req *models.ApprovalRequest) (*models.ApprovalRequest, error) {
	req.ID = uuid.New().String()
	req.CreatedAt = time.Now()
	if req.Status == "" {
		req.Status = models.RequestStatusPending
	}

	query := `
		INSERT INTO approval_requests (id, workflow_id, entity_type, entity_id, requester_id, current_step_id, status, request_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + approvalRequestColumns

	return scanApprovalRequestRow(r.db.QueryRow(ctx, query,
		req.ID, req.WorkflowID, req.EntityType, req.EntityID,
		req.RequesterID, req.CurrentStepID, req.Status, req.RequestData,
		req.CreatedAt,
	))
}

func (r *ApprovalRequestRepository) GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalRequestColumns + ` FROM approval_requests WHERE id = $1`

	return scanApprovalRequestRow(r.db.QueryRow(ctx, query, id))
}

// GetByIDForUpdate loads a request under a row lock. Call inside a
// transaction; concurrent decisions on the same request serialize here.
func (r *ApprovalRequestRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalRequestColumns + ` FROM approval_requests WHERE id = $1 FOR UPDATE`

	return scanApprovalRequestRow(r.db.QueryRow(ctx, query, id))
}

// UpdateState moves a request to a new status and step. A nil currentStepID
// clears the pointer; terminal statuses also stamp completed_at.
func (r *ApprovalRequestRepository) UpdateState(ctx context.Context, id, status string, currentStepID *string, completedAt *time.Time) error {
	query := `
		UPDATE approval_requests
		SET status = $2, current_step_id = $3, completed_at = $4
		WHERE id = $1
	`

	result, err := r.db.Exec(ctx, query, id, status, currentStepID, completedAt)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (r *ApprovalRequestRepository) ListByRequester(ctx context.Context, requesterID string, limit, offset int) ([]*models.ApprovalRequest, error) {
	query := `
		SELECT ` + approvalRequestColumns + `
		FROM approval_requests
		WHERE requester_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, requesterID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query approval requests: %w", err)
	}

	return scanApprovalRequestRows(rows)
}

// ListPendingForApprover returns pending requests whose current step names
// the given user as approver.
func (r *ApprovalRequestRepository) ListPendingForApprover(ctx context.Context, approverID string, limit, offset int) ([]*models.ApprovalRequest, error) {
	query := `
		SELECT ar.id, ar.workflow_id, ar.entity_type, ar.entity_id, ar.requester_id,
		       ar.current_step_id, ar.status, ar.request_data, ar.created_at, ar.completed_at
		FROM approval_requests ar
		JOIN workflow_steps ws ON ws.id = ar.current_step_id
		WHERE ar.status = $1 AND ws.approver_id = $2
		ORDER BY ar.created_at ASC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Query(ctx, query, models.RequestStatusPending, approverID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending approvals: %w", err)
	}

	return scanApprovalRequestRows(rows)
}

// InsertAction appends a decision to the request's history.
func (r *ApprovalRequestRepository) InsertAction(ctx context.Context, action *models.ApprovalAction) (*models.ApprovalAction, error) {
	action.ID = uuid.New().String()
	action.CreatedAt = time.Now()

	query := `
		INSERT INTO approval_actions (id, request_id, step_id, approver_id, action, comments, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + approvalActionColumns

	return scanApprovalActionRow(r.db.QueryRow(ctx, query,
		action.ID, action.RequestID, action.StepID, action.ApproverID,
		action.Action, action.Comments, action.CreatedAt,
	))
}

func (r *ApprovalRequestRepository) ListActions(ctx context.Context, requestID string) ([]*models.ApprovalAction, error) {
	query := `
		SELECT ` + approvalActionColumns + `
		FROM approval_actions
		WHERE request_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query approval actions: %w", err)
	}
	defer rows.Close()

	actions := make([]*models.ApprovalAction, 0)
	for rows.Next() {
		action, err := scanApprovalActionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval action: %w", err)
		}
		actions = append(actions, action)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating approval action rows: %w", err)
	}

	return actions, nil
}

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

// WorkflowRepository manages approval workflow definitions and their ordered
// steps.
type WorkflowRepository struct {
	db database.Querier
}

func NewWorkflowRepository(db *database.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db.Pool}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *WorkflowRepository) WithTx(tx pgx.Tx) WorkflowStore {
	return &WorkflowRepository{db: tx}
}

const workflowColumns = `id, name, description, entity_type, is_active, created_at, updated_at`
const workflowStepColumns = `id, workflow_id, step_order, approver_id, requires_all, created_at`

func scanWorkflowRow(scanner rowScanner) (*models.ApprovalWorkflow, error) {
	var wf models.ApprovalWorkflow

	err := scanner.Scan(
		&wf.ID, &wf.Name, &wf.Description, &wf.EntityType,
		&wf.IsActive, &wf.CreatedAt, &wf.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &wf, nil
}

func scanWorkflowStepRow(scanner rowScanner) (*models.WorkflowStep, error) {
	var step models.WorkflowStep

	err := scanner.Scan(
		&step.ID, &step.WorkflowID, &step.StepOrder, &step.ApproverID,
		&step.RequiresAll, &step.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &step, nil
}

func scanWorkflowStepRows(rows pgx.Rows) ([]*models.WorkflowStep, error) {
	defer rows.Close()

	steps := make([]*models.WorkflowStep, 0)

	for rows.Next() {
		step, err := scanWorkflowStepRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow step: %w", err)
		}
		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow step rows: %w", err)
	}

	return steps, nil
}

func (r *WorkflowRepository) Create(ctx context.Context, wf *models.ApprovalWorkflow) (*models.ApprovalWorkflow, error) {
	wf.ID = uuid.New().String()

	now := time.Now()
	wf.CreatedAt = now
	wf.UpdatedAt = now

	query := `
		INSERT INTO approval_workflows (id, name, description, entity_type, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + workflowColumns

	return scanWorkflowRow(r.db.QueryRow(ctx, query,
		wf.ID, wf.Name, wf.Description, wf.EntityType, wf.IsActive,
		wf.CreatedAt, wf.UpdatedAt,
	))
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.ApprovalWorkflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM approval_workflows WHERE id = $1`

	return scanWorkflowRow(r.db.QueryRow(ctx, query, id))
}

// GetWithSteps loads a workflow together with its steps ordered by
// step_order.
func (r *WorkflowRepository) GetWithSteps(ctx context.Context, id string) (*models.ApprovalWorkflow, error) {
	wf, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	steps, err := r.ListSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	wf.Steps = steps

	return wf, nil
}

func (r *WorkflowRepository) List(ctx context.Context, limit, offset int) ([]*models.ApprovalWorkflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM approval_workflows ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer rows.Close()

	workflows := make([]*models.ApprovalWorkflow, 0)
	for rows.Next() {
		wf, err := scanWorkflowRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, wf)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow rows: %w", err)
	}

	return workflows, nil
}

func (r *WorkflowRepository) SetActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE approval_workflows SET is_active = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, active)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// AddStep appends a step to a workflow. The UNIQUE(workflow_id, step_order)
// constraint surfaces as ErrConflict when an order is reused.
func (r *WorkflowRepository) AddStep(ctx context.Context, step *models.WorkflowStep) (*models.WorkflowStep, error) {
	step.ID = uuid.New().String()
	step.CreatedAt = time.Now()

	query := `
		INSERT INTO workflow_steps (id, workflow_id, step_order, approver_id, requires_all, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + workflowStepColumns

	return scanWorkflowStepRow(r.db.QueryRow(ctx, query,
		step.ID, step.WorkflowID, step.StepOrder, step.ApproverID,
		step.RequiresAll, step.CreatedAt,
	))
}

func (r *WorkflowRepository) ListSteps(ctx context.Context, workflowID string) ([]*models.WorkflowStep, error) {
	query := `
		SELECT ` + workflowStepColumns + `
		FROM workflow_steps
		WHERE workflow_id = $1
		ORDER BY step_order ASC
	`

	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow steps: %w", err)
	}

	return scanWorkflowStepRows(rows)
}

func (r *WorkflowRepository) GetStep(ctx context.Context, stepID string) (*models.WorkflowStep, error) {
	query := `SELECT ` + workflowStepColumns + ` FROM workflow_steps WHERE id = $1`

	return scanWorkflowStepRow(r.db.QueryRow(ctx, query, stepID))
}

// NextStep returns the step directly after the given order within a
// workflow, or ErrNotFound when the given order is the last.
func (r *WorkflowRepository) NextStep(ctx context.Context, workflowID string, afterOrder int) (*models.WorkflowStep, error) {
	query := `
		SELECT ` + workflowStepColumns + `
		FROM workflow_steps
		WHERE workflow_id = $1 AND step_order > $2
		ORDER BY step_order ASC
		LIMIT 1
	`

	return scanWorkflowStepRow(r.db.QueryRow(ctx, query, workflowID, afterOrder))
}

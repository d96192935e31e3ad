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

// AuditLogRepository is the append-only persistence for security and workflow
// audit events. There is deliberately no update or single-row delete.
type AuditLogRepository struct {
	db database.Querier
}

func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db.Pool}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *AuditLogRepository) WithTx(tx pgx.Tx) AuditLogStore {
	return &AuditLogRepository{db: tx}
}

const auditLogColumns = `id, user_id, event, detail, ip_address, user_agent, created_at`

func scanAuditLogRow(scanner rowScanner) (*models.AuditLog, error) {
	var log models.AuditLog

	err := scanner.Scan(
		&log.ID, &log.UserID, &log.Event, &log.Detail,
		&log.IPAddress, &log.UserAgent, &log.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &log, nil
}

func scanAuditLogRows(rows pgx.Rows) ([]*models.AuditLog, error) {
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)

	for rows.Next() {
		log, err := scanAuditLogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}

	return logs, nil
}

func (r *AuditLogRepository) Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
	log.ID = uuid.New().String()

	query := `
		INSERT INTO audit_logs (id, user_id, event, detail, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + auditLogColumns

	result, err := scanAuditLogRow(r.db.QueryRow(ctx, query,
		log.ID, log.UserID, log.Event, log.Detail, log.IPAddress, log.UserAgent,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create audit log: %w", err)
	}

	return result, nil
}

func (r *AuditLogRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error) {
	query := `
		SELECT ` + auditLogColumns + `
		FROM audit_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}

	return scanAuditLogRows(rows)
}

func (r *AuditLogRepository) ListByEvent(ctx context.Context, event string, limit, offset int) ([]*models.AuditLog, error) {
	query := `
		SELECT ` + auditLogColumns + `
		FROM audit_logs
		WHERE event = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, event, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}

	return scanAuditLogRows(rows)
}

// Cleanup removes audit logs older than the retention window.
func (r *AuditLogRepository) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `DELETE FROM audit_logs WHERE created_at < $1`

	result, err := r.db.Exec(ctx, query, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit logs: %w", err)
	}

	return result.RowsAffected(), nil
}

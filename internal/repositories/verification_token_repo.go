package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/relaycrm/relay/internal/database"
	"github.com/relaycrm/relay/internal/models"
)

// VerificationTokenRepository stores single-use tokens for email verification
// and password reset. Like refresh tokens, only hashes are persisted.
type VerificationTokenRepository struct {
	db database.Querier
}

func NewVerificationTokenRepository(db *database.DB) *VerificationTokenRepository {
	return &VerificationTokenRepository{db: db.Pool}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *VerificationTokenRepository) WithTx(tx pgx.Tx) VerificationTokenStore {
	return &VerificationTokenRepository{db: tx}
}

const verificationTokenColumns = `id, user_id, token_hash, purpose, expires_at, used_at, created_at`

func scanVerificationTokenRow(scanner rowScanner) (*models.VerificationToken, error) {
	var token models.VerificationToken

	err := scanner.Scan(
		&token.ID, &token.UserID, &token.TokenHash, &token.Purpose,
		&token.ExpiresAt, &token.UsedAt, &token.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &token, nil
}

func (r *VerificationTokenRepository) Create(ctx context.Context, token *models.VerificationToken) (*models.VerificationToken, error) {
	token.ID = uuid.New().String()
	token.CreatedAt = time.Now()

	query := `
		INSERT INTO verification_tokens (id, user_id, token_hash, purpose, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + verificationTokenColumns

	return scanVerificationTokenRow(r.db.QueryRow(ctx, query,
		token.ID, token.UserID, token.TokenHash, token.Purpose,
		token.ExpiresAt, token.CreatedAt,
	))
}

func (r *VerificationTokenRepository) GetByTokenHash(ctx context.Context, tokenHash, purpose string) (*models.VerificationToken, error) {
	query := `
		SELECT ` + verificationTokenColumns + `
		FROM verification_tokens
		WHERE token_hash = $1 AND purpose = $2
	`

	return scanVerificationTokenRow(r.db.QueryRow(ctx, query, tokenHash, purpose))
}

// MarkUsed consumes a token. A token already used reports ErrNotFound, so a
// replayed link cannot succeed twice.
func (r *VerificationTokenRepository) MarkUsed(ctx context.Context, id string) error {
	query := `
		UPDATE verification_tokens
		SET used_at = NOW()
		WHERE id = $1 AND used_at IS NULL
	`

	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// InvalidateForUser consumes all outstanding tokens of a purpose for a user.
// Issuing a fresh reset link kills any earlier ones.
func (r *VerificationTokenRepository) InvalidateForUser(ctx context.Context, userID, purpose string) error {
	query := `
		UPDATE verification_tokens
		SET used_at = NOW()
		WHERE user_id = $1 AND purpose = $2 AND used_at IS NULL
	`

	_, err := r.db.Exec(ctx, query, userID, purpose)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

// CleanupExpired removes tokens past their expiry (call periodically)
func (r *VerificationTokenRepository) CleanupExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM verification_tokens WHERE expires_at < $1`

	result, err := r.db.Exec(ctx, query, time.Now())
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}

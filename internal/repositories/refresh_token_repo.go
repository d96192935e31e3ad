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

// RefreshTokenRepository stores the server-side record of issued refresh
// tokens. Only the SHA-256 hash of a token ever reaches the database.
type RefreshTokenRepository struct {
	db database.Querier
}

func NewRefreshTokenRepository(db *database.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db.Pool}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *RefreshTokenRepository) WithTx(tx pgx.Tx) RefreshTokenStore {
	return &RefreshTokenRepository{db: tx}
}

const refreshTokenColumns = `id, user_id, token_hash, user_agent, ip_address, issued_at, expires_at, revoked_at, replaced_by`

func scanRefreshTokenRow(scanner rowScanner) (*models.RefreshToken, error) {
	var token models.RefreshToken

	err := scanner.Scan(
		&token.ID, &token.UserID, &token.TokenHash, &token.UserAgent,
		&token.IPAddress, &token.IssuedAt, &token.ExpiresAt,
		&token.RevokedAt, &token.ReplacedBy,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &token, nil
}

func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error) {
	token.ID = uuid.New().String()
	if token.IssuedAt.IsZero() {
		token.IssuedAt = time.Now()
	}

	query := `
		INSERT INTO refresh_tokens (id, user_id, token_hash, user_agent, ip_address, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + refreshTokenColumns

	return scanRefreshTokenRow(r.db.QueryRow(ctx, query,
		token.ID, token.UserID, token.TokenHash, token.UserAgent,
		token.IPAddress, token.IssuedAt, token.ExpiresAt,
	))
}

func (r *RefreshTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token_hash = $1`

	return scanRefreshTokenRow(r.db.QueryRow(ctx, query, tokenHash))
}

// Revoke marks a token revoked, optionally recording the ID of the token
// that replaced it during rotation. Already revoked tokens are left alone so
// the original revocation evidence survives.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id string, replacedBy *string) error {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = NOW(), replaced_by = $2
		WHERE id = $1 AND revoked_at IS NULL
	`

	result, err := r.db.Exec(ctx, query, id, replacedBy)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// RevokeAllForUser revokes every live token a user holds. Used by logout-all
// and password reset.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = NOW()
		WHERE user_id = $1 AND revoked_at IS NULL
	`

	result, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}

// ListActiveForUser returns the user's unrevoked, unexpired sessions.
func (r *RefreshTokenRepository) ListActiveForUser(ctx context.Context, userID string) ([]*models.RefreshToken, error) {
	query := `
		SELECT ` + refreshTokenColumns + `
		FROM refresh_tokens
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > NOW()
		ORDER BY issued_at DESC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query refresh tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]*models.RefreshToken, 0)
	for rows.Next() {
		token, err := scanRefreshTokenRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refresh token: %w", err)
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating refresh token rows: %w", err)
	}

	return tokens, nil
}

// CleanupExpired removes tokens past their expiry (call periodically)
func (r *RefreshTokenRepository) CleanupExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at < $1`

	result, err := r.db.Exec(ctx, query, time.Now())
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}

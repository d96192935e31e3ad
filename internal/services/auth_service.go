package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/relaycrm/relay/internal/auth"
	"github.com/relaycrm/relay/internal/models"
	"github.com/relaycrm/relay/internal/repositories"
	pkgauth "github.com/relaycrm/relay/pkg/auth"
	pkghttp "github.com/relaycrm/relay/pkg/http"
	pkglogger "github.com/relaycrm/relay/pkg/logger"
)

// TxManager runs a function inside a database transaction.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error
}

// AuthPolicy carries the tunable knobs of the authentication lifecycle.
type AuthPolicy struct {
	MaxFailedLogins    int
	LockoutDuration    time.Duration
	VerificationExpiry time.Duration
	ResetTokenExpiry   time.Duration
}

// AuthService handles registration, login, token rotation and the account
// recovery flows.
type AuthService struct {
	db            TxManager
	users         repositories.UserStore
	tokens        repositories.RefreshTokenStore
	verifications repositories.VerificationTokenStore
	audits        repositories.AuditLogStore
	tm            *auth.TokenManager
	email         EmailSender
	policy        AuthPolicy
	logger        *slog.Logger
	auditLogger   *pkglogger.AuditLogger
}

// NewAuthService creates a new AuthService
func NewAuthService(
	db TxManager,
	users repositories.UserStore,
	tokens repositories.RefreshTokenStore,
	verifications repositories.VerificationTokenStore,
	audits repositories.AuditLogStore,
	tm *auth.TokenManager,
	email EmailSender,
	policy AuthPolicy,
	log *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AuthService {
	return &AuthService{
		db:            db,
		users:         users,
		tokens:        tokens,
		verifications: verifications,
		audits:        audits,
		tm:            tm,
		email:         email,
		policy:        policy,
		logger:        log,
		auditLogger:   auditLogger,
	}
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"email_verified"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// AuthResponse represents the response from login and refresh operations
type AuthResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	User         *UserResponse `json:"user"`
}

// Register creates a new user account and sends a verification email. The
// new account must log in separately; registration never issues tokens.
func (s *AuthService) Register(ctx context.Context, email, password string, meta pkghttp.ClientMeta) (*UserResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, models.ErrBadRequest
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, err
	}

	hashedPassword, err := pkgauth.HashPassword(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	user, err := s.users.Create(ctx, &models.User{
		Email:        email,
		PasswordHash: hashedPassword,
		Role:         models.RoleUser,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			s.logger.Info("registration failed: email already registered")
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.issueVerificationToken(ctx, user, models.VerificationPurposeEmail, s.policy.VerificationExpiry); err != nil {
		// The account exists; verification can be re-requested later.
		s.logger.Error("failed to issue verification token",
			slog.String("user_id", user.ID), slog.Any("error", err))
	}

	s.recordAudit(ctx, models.AuditEventRegister, &user.ID, meta, true, "", nil)
	s.logger.Info("user registered", slog.String("user_id", user.ID))

	return userModelToResponse(user), nil
}

// Login authenticates a user and returns a token pair. The lock gate runs
// before password verification so a locked account rejects even the correct
// password without resetting its counter.
func (s *AuthService) Login(ctx context.Context, email, password string, meta pkghttp.ClientMeta) (*AuthResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, models.ErrUnauthorized
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Same failure shape as a bad password; no account enumeration.
			s.recordAudit(ctx, models.AuditEventLoginFailed, nil, meta, false, "invalid_credentials", nil)
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if user.IsLocked() {
		s.recordAudit(ctx, models.AuditEventLoginFailed, &user.ID, meta, false, "account_locked", nil)
		return nil, models.ErrAccountLocked
	}

	if !pkgauth.VerifyPassword(user.PasswordHash, password) {
		return nil, s.handleFailedLogin(ctx, user, meta)
	}

	if err := s.users.ResetLoginState(ctx, user.ID); err != nil {
		s.logger.Error("failed to reset login state",
			slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	pair, err := s.issueTokenPair(ctx, s.tokens, user, meta)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, models.AuditEventLogin, &user.ID, meta, true, "", nil)
	s.logger.Info("user logged in", slog.String("user_id", user.ID))

	return &AuthResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         userModelToResponse(user),
	}, nil
}

func (s *AuthService) handleFailedLogin(ctx context.Context, user *models.User, meta pkghttp.ClientMeta) error {
	lockedUntil := time.Now().Add(s.policy.LockoutDuration)

	updated, err := s.users.RecordFailedLogin(ctx, user.ID, s.policy.MaxFailedLogins, lockedUntil)
	if err != nil {
		s.logger.Error("failed to record login failure",
			slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.recordAudit(ctx, models.AuditEventLoginFailed, &user.ID, meta, false, "invalid_credentials", models.AuditDetail{
		"failed_login_count": updated.FailedLoginCount,
	})

	if updated.IsLocked() {
		s.recordAudit(ctx, models.AuditEventLockout, &user.ID, meta, false, "too_many_failures", models.AuditDetail{
			"locked_until": updated.LockedUntil.UTC().Format(time.RFC3339),
		})
		s.logger.Warn("account locked after repeated failures",
			slog.String("user_id", user.ID))
	}

	return models.ErrUnauthorized
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued in one transaction. Presenting an already revoked token is
// treated as theft and kills every session the user holds.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta pkghttp.ClientMeta) (*AuthResponse, error) {
	claims, err := s.tm.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, models.ErrUnauthorized
	}

	record, err := s.tokens.GetByTokenHash(ctx, pkgauth.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to look up refresh token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if record.RevokedAt != nil {
		if _, err := s.tokens.RevokeAllForUser(ctx, record.UserID); err != nil {
			s.logger.Error("failed to revoke user sessions after token reuse",
				slog.String("user_id", record.UserID), slog.Any("error", err))
		}
		s.recordAudit(ctx, models.AuditEventTokenRefresh, &record.UserID, meta, false, "token_reuse", nil)
		s.logger.Warn("revoked refresh token presented, all sessions revoked",
			slog.String("user_id", record.UserID))
		return nil, models.ErrUnauthorized
	}

	if !record.IsValid() {
		return nil, models.ErrUnauthorized
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for token refresh",
			slog.String("user_id", claims.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if user.IsLocked() {
		return nil, models.ErrUnauthorized
	}

	var pair *models.TokenPair
	err = s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		txTokens := s.tokens.WithTx(tx)

		newPair, newRecord, err := s.createTokenPair(ctx, txTokens, user, meta)
		if err != nil {
			return err
		}

		if err := txTokens.Revoke(ctx, record.ID, &newRecord.ID); err != nil {
			return err
		}

		pair = newPair
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Lost a race with a concurrent refresh of the same token.
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to rotate refresh token",
			slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.recordAudit(ctx, models.AuditEventTokenRefresh, &user.ID, meta, true, "", nil)

	return &AuthResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         userModelToResponse(user),
	}, nil
}

// Logout revokes the session behind a refresh token. Unknown tokens succeed
// silently; logout is idempotent.
func (s *AuthService) Logout(ctx context.Context, refreshToken string, meta pkghttp.ClientMeta) error {
	record, err := s.tokens.GetByTokenHash(ctx, pkgauth.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		s.logger.Error("failed to look up refresh token for logout", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.tokens.Revoke(ctx, record.ID, nil); err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to revoke refresh token",
			slog.String("user_id", record.UserID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.recordAudit(ctx, models.AuditEventLogout, &record.UserID, meta, true, "", nil)
	return nil
}

// LogoutAll revokes every session a user holds.
func (s *AuthService) LogoutAll(ctx context.Context, userID string, meta pkghttp.ClientMeta) error {
	revoked, err := s.tokens.RevokeAllForUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to revoke all sessions",
			slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.recordAudit(ctx, models.AuditEventLogoutAll, &userID, meta, true, "", models.AuditDetail{
		"sessions_revoked": revoked,
	})
	s.logger.Info("user logged out from all devices",
		slog.String("user_id", userID), slog.Int64("sessions_revoked", revoked))
	return nil
}

// VerifyEmail consumes a verification token and marks the account verified.
func (s *AuthService) VerifyEmail(ctx context.Context, token string, meta pkghttp.ClientMeta) error {
	record, err := s.verifications.GetByTokenHash(ctx, pkgauth.HashToken(token), models.VerificationPurposeEmail)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrBadRequest
		}
		s.logger.Error("failed to look up verification token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if !record.IsValid() {
		return models.ErrBadRequest
	}

	err = s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := s.verifications.WithTx(tx).MarkUsed(ctx, record.ID); err != nil {
			return err
		}
		err := s.users.WithTx(tx).SetEmailVerified(ctx, record.UserID)
		if errors.Is(err, models.ErrNotFound) {
			// Already verified; consuming the token is enough.
			return nil
		}
		return err
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrBadRequest
		}
		s.logger.Error("failed to verify email",
			slog.String("user_id", record.UserID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.recordAudit(ctx, models.AuditEventEmailVerified, &record.UserID, meta, true, "", nil)
	return nil
}

// RequestPasswordReset issues a reset token when the email matches an
// account. The caller always gets success so the endpoint cannot be used to
// probe for registered addresses.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string, meta pkghttp.ClientMeta) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to get user for password reset", slog.Any("error", err))
		}
		return nil
	}

	if err := s.verifications.InvalidateForUser(ctx, user.ID, models.VerificationPurposePasswordReset); err != nil {
		s.logger.Error("failed to invalidate old reset tokens",
			slog.String("user_id", user.ID), slog.Any("error", err))
		return nil
	}

	if err := s.issueResetToken(ctx, user); err != nil {
		s.logger.Error("failed to issue reset token",
			slog.String("user_id", user.ID), slog.Any("error", err))
		return nil
	}

	s.recordAudit(ctx, models.AuditEventPasswordResetRequested, &user.ID, meta, true, "", nil)
	return nil
}

// ResetPassword consumes a reset token, replaces the password and revokes
// every live session in one transaction.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string, meta pkghttp.ClientMeta) error {
	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return err
	}

	record, err := s.verifications.GetByTokenHash(ctx, pkgauth.HashToken(token), models.VerificationPurposePasswordReset)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrBadRequest
		}
		s.logger.Error("failed to look up reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if !record.IsValid() {
		return models.ErrBadRequest
	}

	hashedPassword, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	err = s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := s.verifications.WithTx(tx).MarkUsed(ctx, record.ID); err != nil {
			return err
		}
		if err := s.users.WithTx(tx).UpdatePassword(ctx, record.UserID, hashedPassword); err != nil {
			return err
		}
		_, err := s.tokens.WithTx(tx).RevokeAllForUser(ctx, record.UserID)
		return err
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrBadRequest
		}
		s.logger.Error("failed to reset password",
			slog.String("user_id", record.UserID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.recordAudit(ctx, models.AuditEventPasswordReset, &record.UserID, meta, true, "", nil)
	s.logger.Info("password reset completed", slog.String("user_id", record.UserID))
	return nil
}

// ListSessions returns the user's active sessions.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]*models.RefreshToken, error) {
	sessions, err := s.tokens.ListActiveForUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list sessions",
			slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return sessions, nil
}

func (s *AuthService) issueTokenPair(ctx context.Context, tokens repositories.RefreshTokenStore, user *models.User, meta pkghttp.ClientMeta) (*models.TokenPair, error) {
	pair, _, err := s.createTokenPair(ctx, tokens, user, meta)
	if err != nil {
		s.logger.Error("failed to issue token pair",
			slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return pair, nil
}

func (s *AuthService) createTokenPair(ctx context.Context, tokens repositories.RefreshTokenStore, user *models.User, meta pkghttp.ClientMeta) (*models.TokenPair, *models.RefreshToken, error) {
	accessToken, err := s.tm.GenerateAccessToken(user)
	if err != nil {
		return nil, nil, err
	}

	refreshToken, err := s.tm.GenerateRefreshToken(user)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	record, err := tokens.Create(ctx, &models.RefreshToken{
		UserID:    user.ID,
		TokenHash: pkgauth.HashToken(refreshToken),
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.tm.RefreshExpiry()),
	})
	if err != nil {
		return nil, nil, err
	}

	return &models.TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, record, nil
}

func (s *AuthService) issueVerificationToken(ctx context.Context, user *models.User, purpose string, expiry time.Duration) error {
	token, err := pkgauth.GenerateToken()
	if err != nil {
		return err
	}

	if _, err := s.verifications.Create(ctx, &models.VerificationToken{
		UserID:    user.ID,
		TokenHash: pkgauth.HashToken(token),
		Purpose:   purpose,
		ExpiresAt: time.Now().Add(expiry),
	}); err != nil {
		return err
	}

	return s.email.SendVerificationEmail(ctx, user.Email, token)
}

func (s *AuthService) issueResetToken(ctx context.Context, user *models.User) error {
	token, err := pkgauth.GenerateToken()
	if err != nil {
		return err
	}

	if _, err := s.verifications.Create(ctx, &models.VerificationToken{
		UserID:    user.ID,
		TokenHash: pkgauth.HashToken(token),
		Purpose:   models.VerificationPurposePasswordReset,
		ExpiresAt: time.Now().Add(s.policy.ResetTokenExpiry),
	}); err != nil {
		return err
	}

	return s.email.SendPasswordResetEmail(ctx, user.Email, token)
}

// recordAudit persists an audit row and emits the matching log event. Audit
// write failures never fail the guarded operation.
func (s *AuthService) recordAudit(ctx context.Context, event string, userID *string, meta pkghttp.ClientMeta, success bool, reason string, detail models.AuditDetail) {
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

// userModelToResponse converts a user model to a response DTO
func userModelToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:            user.ID,
		Email:         user.Email,
		Role:          user.Role,
		EmailVerified: user.EmailVerified(),
		CreatedAt:     user.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     user.UpdatedAt.Format(time.RFC3339),
	}
}

package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycrm/relay/internal/auth"
	"github.com/relaycrm/relay/internal/models"
	pkgauth "github.com/relaycrm/relay/pkg/auth"
	pkghttp "github.com/relaycrm/relay/pkg/http"
)

const testPassword = "Sup3r-Secret!"

var testMeta = pkghttp.ClientMeta{IPAddress: "203.0.113.7", UserAgent: "go-test"}

func newTestTokenManager() *auth.TokenManager {
	return auth.NewTokenManager(
		"test-access-secret-at-least-32-chars!!",
		"test-refresh-secret-at-least-32-chars!",
		"relay-test",
		"relay-api",
		15*time.Minute,
		720*time.Hour,
	)
}

func defaultTestPolicy() AuthPolicy {
	return AuthPolicy{
		MaxFailedLogins:    5,
		LockoutDuration:    30 * time.Minute,
		VerificationExpiry: 24 * time.Hour,
		ResetTokenExpiry:   time.Hour,
	}
}

type authServiceDeps struct {
	users         *MockUserStore
	tokens        *MockRefreshTokenStore
	verifications *MockVerificationTokenStore
	audits        *MockAuditLogStore
	email         *MockEmailSender
	tm            *auth.TokenManager
}

func newTestAuthService(deps *authServiceDeps) *AuthService {
	if deps.users == nil {
		deps.users = &MockUserStore{}
	}
	if deps.tokens == nil {
		deps.tokens = &MockRefreshTokenStore{}
	}
	if deps.verifications == nil {
		deps.verifications = &MockVerificationTokenStore{}
	}
	if deps.audits == nil {
		deps.audits = &MockAuditLogStore{}
	}
	if deps.email == nil {
		deps.email = &MockEmailSender{}
	}
	if deps.tm == nil {
		deps.tm = newTestTokenManager()
	}

	return NewAuthService(
		&MockTxManager{},
		deps.users,
		deps.tokens,
		deps.verifications,
		deps.audits,
		deps.tm,
		deps.email,
		defaultTestPolicy(),
		newTestLogger(),
		newTestAuditLogger(),
	)
}

func hashedTestUser(t *testing.T) *models.User {
	t.Helper()
	hash, err := pkgauth.HashPassword(testPassword)
	require.NoError(t, err)

	now := time.Now()
	return &models.User{
		ID:           "user-1",
		Email:        "alice@example.com",
		PasswordHash: hash,
		Role:         models.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestRegister_Success(t *testing.T) {
	var sentEmail string
	var createdToken *models.VerificationToken

	deps := &authServiceDeps{
		users: &MockUserStore{
			CreateFunc: func(ctx context.Context, user *models.User) (*models.User, error) {
				user.ID = "user-1"
				user.CreatedAt = time.Now()
				user.UpdatedAt = time.Now()
				return user, nil
			},
		},
		verifications: &MockVerificationTokenStore{
			CreateFunc: func(ctx context.Context, token *models.VerificationToken) (*models.VerificationToken, error) {
				createdToken = token
				token.ID = "verification_1"
				return token, nil
			},
		},
		email: &MockEmailSender{
			SendVerificationEmailFunc: func(ctx context.Context, email, token string) error {
				sentEmail = email
				return nil
			},
		},
	}
	svc := newTestAuthService(deps)

	resp, err := svc.Register(context.Background(), "Alice@Example.com ", testPassword, testMeta)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", resp.Email)
	assert.Equal(t, models.RoleUser, resp.Role)
	assert.False(t, resp.EmailVerified)

	assert.Equal(t, "alice@example.com", sentEmail)
	require.NotNil(t, createdToken)
	assert.Equal(t, models.VerificationPurposeEmail, createdToken.Purpose)
	// The stored value is a hash, not the raw token.
	assert.Len(t, createdToken.TokenHash, 64)
}

func TestRegister_WeakPasswordListsAllViolations(t *testing.T) {
	svc := newTestAuthService(&authServiceDeps{})

	_, err := svc.Register(context.Background(), "bob@example.com", "short", testMeta)
	require.Error(t, err)

	var validationErr *pkgauth.PasswordValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Len(t, validationErr.Errors, 4)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	deps := &authServiceDeps{
		users: &MockUserStore{
			CreateFunc: func(ctx context.Context, user *models.User) (*models.User, error) {
				return nil, models.ErrConflict
			},
		},
	}
	svc := newTestAuthService(deps)

	_, err := svc.Register(context.Background(), "alice@example.com", testPassword, testMeta)
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestLogin_Success(t *testing.T) {
	user := hashedTestUser(t)
	resetCalled := false
	var storedToken *models.RefreshToken

	deps := &authServiceDeps{
		users: &MockUserStore{
			GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
				return user, nil
			},
			ResetLoginStateFunc: func(ctx context.Context, id string) error {
				resetCalled = true
				return nil
			},
		},
		tokens: &MockRefreshTokenStore{
			CreateFunc: func(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error) {
				storedToken = token
				token.ID = "token_1"
				return token, nil
			},
		},
	}
	svc := newTestAuthService(deps)

	resp, err := svc.Login(context.Background(), user.Email, testPassword, testMeta)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.True(t, resetCalled, "successful login must reset the failure counter")

	require.NotNil(t, storedToken)
	assert.Equal(t, user.ID, storedToken.UserID)
	assert.Equal(t, testMeta.IPAddress, storedToken.IPAddress)
	assert.Equal(t, testMeta.UserAgent, storedToken.UserAgent)
	assert.Equal(t, pkgauth.HashToken(resp.RefreshToken), storedToken.TokenHash)
}

func TestLogin_UnknownEmailIsGenericUnauthorized(t *testing.T) {
	svc := newTestAuthService(&authServiceDeps{})

	_, err := svc.Login(context.Background(), "nobody@example.com", testPassword, testMeta)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestLogin_WrongPasswordRecordsFailure(t *testing.T) {
	user := hashedTestUser(t)
	var recordedMax int

	deps := &authServiceDeps{
		users: &MockUserStore{
			GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
				return user, nil
			},
			RecordFailedLoginFunc: func(ctx context.Context, id string, maxFailures int, lockedUntil time.Time) (*models.User, error) {
				recordedMax = maxFailures
				updated := *user
				updated.FailedLoginCount = 1
				return &updated, nil
			},
		},
	}
	svc := newTestAuthService(deps)

	_, err := svc.Login(context.Background(), user.Email, "wrong-password", testMeta)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Equal(t, 5, recordedMax)
}

func TestLogin_FifthFailureLocksAccount(t *testing.T) {
	user := hashedTestUser(t)
	var lockoutAudited bool

	deps := &authServiceDeps{
		users: &MockUserStore{
			GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
				return user, nil
			},
			RecordFailedLoginFunc: func(ctx context.Context, id string, maxFailures int, lockedUntil time.Time) (*models.User, error) {
				updated := *user
				updated.FailedLoginCount = 5
				updated.LockedUntil = &lockedUntil
				return &updated, nil
			},
		},
		audits: &MockAuditLogStore{
			CreateFunc: func(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
				if log.Event == models.AuditEventLockout {
					lockoutAudited = true
				}
				log.ID = "audit_1"
				return log, nil
			},
		},
	}
	svc := newTestAuthService(deps)

	_, err := svc.Login(context.Background(), user.Email, "wrong-password", testMeta)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.True(t, lockoutAudited, "reaching the failure threshold must audit a lockout")
}

func TestLogin_LockedAccountRejectsCorrectPassword(t *testing.T) {
	user := hashedTestUser(t)
	lockedUntil := time.Now().Add(10 * time.Minute)
	user.LockedUntil = &lockedUntil
	recordCalled := false

	deps := &authServiceDeps{
		users: &MockUserStore{
			GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
				return user, nil
			},
			RecordFailedLoginFunc: func(ctx context.Context, id string, maxFailures int, lockedUntil time.Time) (*models.User, error) {
				recordCalled = true
				return user, nil
			},
		},
	}
	svc := newTestAuthService(deps)

	_, err := svc.Login(context.Background(), user.Email, testPassword, testMeta)
	assert.ErrorIs(t, err, models.ErrAccountLocked)
	assert.False(t, recordCalled, "the lock gate runs before password verification")
}

func TestLogin_ExpiredLockAdmitsCorrectPassword(t *testing.T) {
	user := hashedTestUser(t)
	expired := time.Now().Add(-time.Minute)
	user.LockedUntil = &expired
	user.FailedLoginCount = 5

	deps := &authServiceDeps{
		users: &MockUserStore{
			GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
				return user, nil
			},
		},
	}
	svc := newTestAuthService(deps)

	resp, err := svc.Login(context.Background(), user.Email, testPassword, testMeta)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
}

func TestRefresh_RotatesToken(t *testing.T) {
	user := hashedTestUser(t)
	tm := newTestTokenManager()
	refreshToken, err := tm.GenerateRefreshToken(user)
	require.NoError(t, err)

	oldRecord := &models.RefreshToken{
		ID:        "old-token",
		UserID:    user.ID,
		TokenHash: pkgauth.HashToken(refreshToken),
		IssuedAt:  time.Now().Add(-time.Hour),
		ExpiresAt: time.Now().Add(time.Hour),
	}

	var newRecordID string
	var revokedID string
	var replacedBy *string

	deps := &authServiceDeps{
		tm: tm,
		users: &MockUserStore{
			GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
				return user, nil
			},
		},
		tokens: &MockRefreshTokenStore{
			GetByTokenHashFunc: func(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
				return oldRecord, nil
			},
			CreateFunc: func(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error) {
				token.ID = "new-token"
				newRecordID = token.ID
				return token, nil
			},
			RevokeFunc: func(ctx context.Context, id string, rb *string) error {
				revokedID = id
				replacedBy = rb
				return nil
			},
		},
	}
	svc := newTestAuthService(deps)

	resp, err := svc.Refresh(context.Background(), refreshToken, testMeta)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEqual(t, refreshToken, resp.RefreshToken)

	assert.Equal(t, "old-token", revokedID)
	require.NotNil(t, replacedBy)
	assert.Equal(t, newRecordID, *replacedBy)
}

func TestRefresh_ReuseRevokesAllSessions(t *testing.T) {
	user := hashedTestUser(t)
	tm := newTestTokenManager()
	refreshToken, err := tm.GenerateRefreshToken(user)
	require.NoError(t, err)

	revokedAt := time.Now().Add(-time.Minute)
	record := &models.RefreshToken{
		ID:        "stolen-token",
		UserID:    user.ID,
		TokenHash: pkgauth.HashToken(refreshToken),
		ExpiresAt: time.Now().Add(time.Hour),
		RevokedAt: &revokedAt,
	}

	var revokedAllFor string
	deps := &authServiceDeps{
		tm: tm,
		tokens: &MockRefreshTokenStore{
			GetByTokenHashFunc: func(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
				return record, nil
			},
			RevokeAllForUserFunc: func(ctx context.Context, userID string) (int64, error) {
				revokedAllFor = userID
				return 3, nil
			},
		},
	}
	svc := newTestAuthService(deps)

	_, err = svc.Refresh(context.Background(), refreshToken, testMeta)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Equal(t, user.ID, revokedAllFor, "reusing a rotated token kills every session")
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	user := hashedTestUser(t)
	tm := newTestTokenManager()
	accessToken, err := tm.GenerateAccessToken(user)
	require.NoError(t, err)

	svc := newTestAuthService(&authServiceDeps{tm: tm})

	_, err = svc.Refresh(context.Background(), accessToken, testMeta)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestRefresh_UnknownRecordRejected(t *testing.T) {
	user := hashedTestUser(t)
	tm := newTestTokenManager()
	refreshToken, err := tm.GenerateRefreshToken(user)
	require.NoError(t, err)

	// Signed correctly but no stored row: a forged or purged token.
	svc := newTestAuthService(&authServiceDeps{tm: tm})

	_, err = svc.Refresh(context.Background(), refreshToken, testMeta)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestRefresh_ExpiredRecordRejected(t *testing.T) {
	user := hashedTestUser(t)
	tm := newTestTokenManager()
	refreshToken, err := tm.GenerateRefreshToken(user)
	require.NoError(t, err)

	record := &models.RefreshToken{
		ID:        "expired-token",
		UserID:    user.ID,
		TokenHash: pkgauth.HashToken(refreshToken),
		ExpiresAt: time.Now().Add(-time.Minute),
	}

	deps := &authServiceDeps{
		tm: tm,
		tokens: &MockRefreshTokenStore{
			GetByTokenHashFunc: func(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
				return record, nil
			},
		},
	}
	svc := newTestAuthService(deps)

	_, err = svc.Refresh(context.Background(), refreshToken, testMeta)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestLogout_IsIdempotent(t *testing.T) {
	svc := newTestAuthService(&authServiceDeps{})

	err := svc.Logout(context.Background(), "unknown-token", testMeta)
	assert.NoError(t, err)
}

func TestLogoutAll_RevokesSessions(t *testing.T) {
	var revokedFor string
	deps := &authServiceDeps{
		tokens: &MockRefreshTokenStore{
			RevokeAllForUserFunc: func(ctx context.Context, userID string) (int64, error) {
				revokedFor = userID
				return 2, nil
			},
		},
	}
	svc := newTestAuthService(deps)

	err := svc.LogoutAll(context.Background(), "user-1", testMeta)
	require.NoError(t, err)
	assert.Equal(t, "user-1", revokedFor)
}

func TestVerifyEmail_Success(t *testing.T) {
	record := &models.VerificationToken{
		ID:        "verification_1",
		UserID:    "user-1",
		Purpose:   models.VerificationPurposeEmail,
		ExpiresAt: time.Now().Add(time.Hour),
	}

	markedUsed := false
	verified := false
	deps := &authServiceDeps{
		verifications: &MockVerificationTokenStore{
			GetByTokenHashFunc: func(ctx context.Context, tokenHash, purpose string) (*models.VerificationToken, error) {
				assert.Equal(t, models.VerificationPurposeEmail, purpose)
				return record, nil
			},
			MarkUsedFunc: func(ctx context.Context, id string) error {
				markedUsed = true
				return nil
			},
		},
		users: &MockUserStore{
			SetEmailVerifiedFunc: func(ctx context.Context, id string) error {
				verified = true
				return nil
			},
		},
	}
	svc := newTestAuthService(deps)

	err := svc.VerifyEmail(context.Background(), "raw-token", testMeta)
	require.NoError(t, err)
	assert.True(t, markedUsed)
	assert.True(t, verified)
}

func TestVerifyEmail_UsedTokenRejected(t *testing.T) {
	usedAt := time.Now().Add(-time.Minute)
	record := &models.VerificationToken{
		ID:        "verification_1",
		UserID:    "user-1",
		Purpose:   models.VerificationPurposeEmail,
		ExpiresAt: time.Now().Add(time.Hour),
		UsedAt:    &usedAt,
	}

	deps := &authServiceDeps{
		verifications: &MockVerificationTokenStore{
			GetByTokenHashFunc: func(ctx context.Context, tokenHash, purpose string) (*models.VerificationToken, error) {
				return record, nil
			},
		},
	}
	svc := newTestAuthService(deps)

	err := svc.VerifyEmail(context.Background(), "raw-token", testMeta)
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestRequestPasswordReset_UnknownEmailSucceedsSilently(t *testing.T) {
	emailSent := false
	deps := &authServiceDeps{
		email: &MockEmailSender{
			SendPasswordResetEmailFunc: func(ctx context.Context, email, token string) error {
				emailSent = true
				return nil
			},
		},
	}
	svc := newTestAuthService(deps)

	err := svc.RequestPasswordReset(context.Background(), "nobody@example.com", testMeta)
	assert.NoError(t, err)
	assert.False(t, emailSent)
}

func TestRequestPasswordReset_InvalidatesOldTokens(t *testing.T) {
	user := hashedTestUser(t)
	invalidated := false
	emailSent := false

	deps := &authServiceDeps{
		users: &MockUserStore{
			GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
				return user, nil
			},
		},
		verifications: &MockVerificationTokenStore{
			InvalidateForUserFunc: func(ctx context.Context, userID, purpose string) error {
				invalidated = true
				assert.Equal(t, models.VerificationPurposePasswordReset, purpose)
				return nil
			},
		},
		email: &MockEmailSender{
			SendPasswordResetEmailFunc: func(ctx context.Context, email, token string) error {
				emailSent = true
				return nil
			},
		},
	}
	svc := newTestAuthService(deps)

	err := svc.RequestPasswordReset(context.Background(), user.Email, testMeta)
	require.NoError(t, err)
	assert.True(t, invalidated)
	assert.True(t, emailSent)
}

func TestResetPassword_Success(t *testing.T) {
	record := &models.VerificationToken{
		ID:        "reset_1",
		UserID:    "user-1",
		Purpose:   models.VerificationPurposePasswordReset,
		ExpiresAt: time.Now().Add(time.Hour),
	}

	passwordUpdated := false
	sessionsRevoked := false
	deps := &authServiceDeps{
		verifications: &MockVerificationTokenStore{
			GetByTokenHashFunc: func(ctx context.Context, tokenHash, purpose string) (*models.VerificationToken, error) {
				return record, nil
			},
		},
		users: &MockUserStore{
			UpdatePasswordFunc: func(ctx context.Context, id, passwordHash string) error {
				passwordUpdated = true
				assert.NotEqual(t, testPassword, passwordHash)
				return nil
			},
		},
		tokens: &MockRefreshTokenStore{
			RevokeAllForUserFunc: func(ctx context.Context, userID string) (int64, error) {
				sessionsRevoked = true
				return 1, nil
			},
		},
	}
	svc := newTestAuthService(deps)

	err := svc.ResetPassword(context.Background(), "raw-token", testPassword, testMeta)
	require.NoError(t, err)
	assert.True(t, passwordUpdated)
	assert.True(t, sessionsRevoked, "a password reset invalidates every session")
}

func TestResetPassword_WeakPasswordRejected(t *testing.T) {
	svc := newTestAuthService(&authServiceDeps{})

	err := svc.ResetPassword(context.Background(), "raw-token", "weak", testMeta)

	var validationErr *pkgauth.PasswordValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestResetPassword_InvalidTokenRejected(t *testing.T) {
	svc := newTestAuthService(&authServiceDeps{})

	err := svc.ResetPassword(context.Background(), "raw-token", testPassword, testMeta)
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

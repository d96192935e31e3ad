package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/relaycrm/relay/internal/models"
)

// TokenManager handles JWT token generation and validation. Access and
// refresh tokens are signed with separate secrets: an access secret cannot
// forge a refresh token and vice versa.
type TokenManager struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	audience      string
	accessExpiry  time.Duration
	refreshExpiry time.Duration
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(accessSecret, refreshSecret, issuer, audience string, accessExpiry, refreshExpiry time.Duration) *TokenManager {
	return &TokenManager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		issuer:        issuer,
		audience:      audience,
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
	}
}

// AccessExpiry returns the configured access token lifetime.
func (tm *TokenManager) AccessExpiry() time.Duration { return tm.accessExpiry }

// RefreshExpiry returns the configured refresh token lifetime.
func (tm *TokenManager) RefreshExpiry() time.Duration { return tm.refreshExpiry }

// GenerateAccessToken creates a short-lived access token for a user.
func (tm *TokenManager) GenerateAccessToken(user *models.User) (string, error) {
	return tm.generate(user, models.TokenTypeAccess, tm.accessExpiry, tm.accessSecret)
}

// GenerateRefreshToken creates a long-lived refresh token for a user. The
// caller is responsible for persisting the token's hash so it can be revoked.
func (tm *TokenManager) GenerateRefreshToken(user *models.User) (string, error) {
	return tm.generate(user, models.TokenTypeRefresh, tm.refreshExpiry, tm.refreshSecret)
}

func (tm *TokenManager) generate(user *models.User, tokenType string, expiry time.Duration, secret []byte) (string, error) {
	now := time.Now()
	claims := &models.TokenClaims{
		Type:   tokenType,
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    tm.issuer,
			Audience:  jwt.ClaimStrings{tm.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}

	return tokenString, nil
}

// ValidateAccessToken verifies signature, issuer, audience, expiry and the
// type claim of an access token. Any failure is reported as ErrUnauthorized;
// tokens fail closed.
func (tm *TokenManager) ValidateAccessToken(tokenString string) (*models.TokenClaims, error) {
	return tm.validate(tokenString, models.TokenTypeAccess, tm.accessSecret)
}

// ValidateRefreshToken is the refresh-side counterpart of ValidateAccessToken.
// Signature validity alone does not authorize a refresh: the caller must also
// confirm the token's stored record is present and unrevoked.
func (tm *TokenManager) ValidateRefreshToken(tokenString string) (*models.TokenClaims, error) {
	return tm.validate(tokenString, models.TokenTypeRefresh, tm.refreshSecret)
}

func (tm *TokenManager) validate(tokenString, wantType string, secret []byte) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tm.issuer),
		jwt.WithAudience(tm.audience),
		jwt.WithExpirationRequired(),
	)

	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type != wantType {
		return nil, models.ErrUnauthorized
	}

	return claims, nil
}

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/relaycrm/relay/internal/auth"
	"github.com/relaycrm/relay/internal/config"
	"github.com/relaycrm/relay/internal/database"
	"github.com/relaycrm/relay/internal/handlers"
	middlewareCustom "github.com/relaycrm/relay/internal/middleware"
	"github.com/relaycrm/relay/internal/repositories"
	"github.com/relaycrm/relay/internal/routes"
	"github.com/relaycrm/relay/internal/services"
	pkghttp "github.com/relaycrm/relay/pkg/http"
	pkglogger "github.com/relaycrm/relay/pkg/logger"
)

// SentEmail represents a captured email message
type SentEmail struct {
	To    string
	Kind  string // "verification" or "password_reset"
	Token string
}

// MockEmailService captures sent emails for test assertions
type MockEmailService struct {
	SentEmails []SentEmail
	mu         sync.Mutex
}

func (m *MockEmailService) SendVerificationEmail(ctx context.Context, email, token string) error {
	m.record(SentEmail{To: email, Kind: "verification", Token: token})
	return nil
}

func (m *MockEmailService) SendPasswordResetEmail(ctx context.Context, email, token string) error {
	m.record(SentEmail{To: email, Kind: "password_reset", Token: token})
	return nil
}

func (m *MockEmailService) record(e SentEmail) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentEmails = append(m.SentEmails, e)
}

// GetLastEmail returns the most recent email sent
func (m *MockEmailService) GetLastEmail() *SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.SentEmails) == 0 {
		return nil
	}
	return &m.SentEmails[len(m.SentEmails)-1]
}

// TestServer wraps httptest.Server with database and all dependencies
type TestServer struct {
	Server       *httptest.Server
	DB           *database.DB
	EmailService *MockEmailService
	Config       *config.Config
	TokenManager *auth.TokenManager
}

// NewTestServer initializes a complete HTTP server with real database + mocked email
func NewTestServer(db *database.DB) *TestServer {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	cfg := &config.Config{
		Auth: config.AuthConfig{
			AccessTokenSecret:  "test-access-secret-32-chars-long!",
			RefreshTokenSecret: "test-refresh-secret-32-chars-ok!!",
			Issuer:             "relay-test",
			Audience:           "relay-api",
			AccessTokenExpiry:  15 * time.Minute,
			RefreshTokenExpiry: 7 * 24 * time.Hour,
			MaxFailedLogins:    5,
			LockoutDuration:    30 * time.Minute,
			VerificationExpiry: 24 * time.Hour,
			ResetTokenExpiry:   1 * time.Hour,
			CleanupInterval:    1 * time.Hour,
		},
		Email: config.EmailConfig{
			Enabled:     false,
			FromAddress: "noreply@test.local",
			BaseURL:     "http://localhost:3000",
		},
		Server: config.ServerConfig{
			Port:           "0",
			Env:            "test",
			AllowedOrigins: []string{},
			TrustedProxies: []string{},
		},
	}

	userRepo := repositories.NewUserRepository(db)
	refreshTokenRepo := repositories.NewRefreshTokenRepository(db)
	verificationTokenRepo := repositories.NewVerificationTokenRepository(db)
	auditLogRepo := repositories.NewAuditLogRepository(db)
	workflowRepo := repositories.NewWorkflowRepository(db)
	approvalRequestRepo := repositories.NewApprovalRequestRepository(db)

	mockEmail := &MockEmailService{}

	tokenManager := auth.NewTokenManager(
		cfg.Auth.AccessTokenSecret,
		cfg.Auth.RefreshTokenSecret,
		cfg.Auth.Issuer,
		cfg.Auth.Audience,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)

	auditLogger := pkglogger.NewAuditLogger(logger)

	authPolicy := services.AuthPolicy{
		MaxFailedLogins:    cfg.Auth.MaxFailedLogins,
		LockoutDuration:    cfg.Auth.LockoutDuration,
		VerificationExpiry: cfg.Auth.VerificationExpiry,
		ResetTokenExpiry:   cfg.Auth.ResetTokenExpiry,
	}
	authService := services.NewAuthService(
		db, userRepo, refreshTokenRepo, verificationTokenRepo, auditLogRepo,
		tokenManager, mockEmail, authPolicy, logger, auditLogger,
	)
	approvalService := services.NewApprovalService(
		db, workflowRepo, approvalRequestRepo, userRepo, auditLogRepo,
		logger, auditLogger,
	)
	adminService := services.NewAdminService(userRepo, auditLogRepo, logger)

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(authService, ipConfig)
	approvalHandler := handlers.NewApprovalHandler(approvalService, ipConfig)
	adminHandler := handlers.NewAdminHandler(adminService)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(r, authHandler, approvalHandler, adminHandler, tokenManager)

	return &TestServer{
		Server:       httptest.NewServer(r),
		DB:           db,
		EmailService: mockEmail,
		Config:       cfg,
		TokenManager: tokenManager,
	}
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	url := ts.Server.URL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an authenticated HTTP request with access token
func (ts *TestServer) RequestWithAuth(method, path, accessToken string, body interface{}) (*http.Response, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + accessToken,
	}
	return ts.Request(method, path, body, headers)
}

// ParseJSONResponse parses JSON response body into target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// ExtractTokensFromResponse extracts access/refresh tokens from auth response
func ExtractTokensFromResponse(resp *http.Response) (accessToken, refreshToken string, err error) {
	defer resp.Body.Close()

	var authResp map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		return "", "", err
	}

	if access, ok := authResp["access_token"].(string); ok {
		accessToken = access
	}
	if refresh, ok := authResp["refresh_token"].(string); ok {
		refreshToken = refresh
	}

	return accessToken, refreshToken, nil
}

// GetErrorCode extracts the machine-readable error code from an error response
func GetErrorCode(resp *http.Response) (string, error) {
	defer resp.Body.Close()

	var errResp map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return "", err
	}
	if code, ok := errResp["error"].(string); ok {
		return code, nil
	}
	return "", nil
}

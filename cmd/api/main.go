package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/relaycrm/relay/internal/auth"
	"github.com/relaycrm/relay/internal/background"
	"github.com/relaycrm/relay/internal/config"
	"github.com/relaycrm/relay/internal/database"
	"github.com/relaycrm/relay/internal/handlers"
	middlewareCustom "github.com/relaycrm/relay/internal/middleware"
	"github.com/relaycrm/relay/internal/models"
	"github.com/relaycrm/relay/internal/repositories"
	"github.com/relaycrm/relay/internal/routes"
	"github.com/relaycrm/relay/internal/services"
	pkgauth "github.com/relaycrm/relay/pkg/auth"
	pkghttp "github.com/relaycrm/relay/pkg/http"
	pkglogger "github.com/relaycrm/relay/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	refreshTokenRepo := repositories.NewRefreshTokenRepository(db)
	verificationTokenRepo := repositories.NewVerificationTokenRepository(db)
	auditLogRepo := repositories.NewAuditLogRepository(db)
	workflowRepo := repositories.NewWorkflowRepository(db)
	approvalRequestRepo := repositories.NewApprovalRequestRepository(db)

	// Initialize token manager
	tokenManager := auth.NewTokenManager(
		cfg.Auth.AccessTokenSecret,
		cfg.Auth.RefreshTokenSecret,
		cfg.Auth.Issuer,
		cfg.Auth.Audience,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Email delivery. Disabled environments log instead of sending.
	var emailSender services.EmailSender
	if cfg.Email.Enabled {
		sesSender, err := services.NewAWSSESEmailSender(cfg.Email.Region, cfg.Email.FromAddress, cfg.Email.BaseURL, logger)
		if err != nil {
			logger.Error("failed to initialize email sender", slog.Any("error", err))
			os.Exit(1)
		}
		emailSender = sesSender
	} else {
		emailSender = services.NewLogEmailSender(logger)
	}

	// Initialize services
	authPolicy := services.AuthPolicy{
		MaxFailedLogins:    cfg.Auth.MaxFailedLogins,
		LockoutDuration:    cfg.Auth.LockoutDuration,
		VerificationExpiry: cfg.Auth.VerificationExpiry,
		ResetTokenExpiry:   cfg.Auth.ResetTokenExpiry,
	}
	authService := services.NewAuthService(
		db, userRepo, refreshTokenRepo, verificationTokenRepo, auditLogRepo,
		tokenManager, emailSender, authPolicy, logger, auditLogger,
	)
	approvalService := services.NewApprovalService(
		db, workflowRepo, approvalRequestRepo, userRepo, auditLogRepo,
		logger, auditLogger,
	)
	adminService := services.NewAdminService(userRepo, auditLogRepo, logger)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(authService, ipConfig)
	approvalHandler := handlers.NewApprovalHandler(approvalService, ipConfig)
	adminHandler := handlers.NewAdminHandler(adminService)

	// Bootstrap first admin user if configured
	bootstrapCtx, bootstrapCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(bootstrapCtx, userRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	bootstrapCancel()

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.RequestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, authHandler, approvalHandler, adminHandler, tokenManager)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(
		refreshTokenRepo, verificationTokenRepo, auditLogRepo,
		logger, cfg.Auth.CleanupInterval,
	)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	// Check if admin already exists
	_, err := userRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := &models.User{
		Email:        adminEmail,
		PasswordHash: hashedPassword,
		Role:         models.RoleAdmin,
	}

	created, err := userRepo.Create(ctx, admin)
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	if err := userRepo.SetEmailVerified(ctx, created.ID); err != nil {
		return fmt.Errorf("failed to mark admin verified: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}

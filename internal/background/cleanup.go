package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaycrm/relay/internal/repositories"
)

// Audit rows older than this are eligible for removal.
const auditRetention = 90 * 24 * time.Hour

// CleanupManager periodically removes expired refresh tokens, expired
// verification tokens, and aged-out audit rows.
type CleanupManager struct {
	tokens        repositories.RefreshTokenStore
	verifications repositories.VerificationTokenStore
	audits        repositories.AuditLogStore
	logger        *slog.Logger
	interval      time.Duration
	stopCh        chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	tokens repositories.RefreshTokenStore,
	verifications repositories.VerificationTokenStore,
	audits repositories.AuditLogStore,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		tokens:        tokens,
		verifications: verifications,
		audits:        audits,
		logger:        logger,
		interval:      interval,
		stopCh:        make(chan struct{}),
	}
}

// Start begins the periodic cleanup task. It blocks until Stop is called or
// the context is cancelled.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if deleted, err := cm.tokens.CleanupExpired(cleanupCtx); err != nil {
		cm.logger.Error("refresh token cleanup failed", slog.Any("error", err))
	} else if deleted > 0 {
		cm.logger.Info("expired refresh tokens removed", slog.Int64("rows_deleted", deleted))
	}

	if deleted, err := cm.verifications.CleanupExpired(cleanupCtx); err != nil {
		cm.logger.Error("verification token cleanup failed", slog.Any("error", err))
	} else if deleted > 0 {
		cm.logger.Info("expired verification tokens removed", slog.Int64("rows_deleted", deleted))
	}

	if deleted, err := cm.audits.Cleanup(cleanupCtx, auditRetention); err != nil {
		cm.logger.Error("audit log cleanup failed", slog.Any("error", err))
	} else if deleted > 0 {
		cm.logger.Info("aged audit rows removed", slog.Int64("rows_deleted", deleted))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}

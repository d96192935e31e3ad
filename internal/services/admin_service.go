package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/relaycrm/relay/internal/models"
	"github.com/relaycrm/relay/internal/repositories"
)

// AdminService backs the administrative surface: user inventory and the
// persisted audit trail.
type AdminService struct {
	users  repositories.UserStore
	audits repositories.AuditLogStore
	logger *slog.Logger
}

// NewAdminService creates a new AdminService
func NewAdminService(users repositories.UserStore, audits repositories.AuditLogStore, log *slog.Logger) *AdminService {
	return &AdminService{
		users:  users,
		audits: audits,
		logger: log,
	}
}

// ListUsers returns accounts ordered newest first.
func (s *AdminService) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error) {
	users, err := s.users.List(ctx, limit, offset)
	if err != nil {
		s.logger.Error("failed to list users", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return users, nil
}

// DeleteUser removes an account. Admins cannot delete themselves, and
// accounts still referenced by workflow steps or approval requests are
// reported as a conflict rather than removed.
func (s *AdminService) DeleteUser(ctx context.Context, id, actorID string) error {
	if id == actorID {
		return models.ErrBadRequest
	}

	if err := s.users.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			return models.ErrNotFound
		case errors.Is(err, models.ErrBadRequest):
			return models.ErrConflict
		default:
			s.logger.Error("failed to delete user",
				slog.String("user_id", id), slog.Any("error", err))
			return models.ErrInternalServer
		}
	}

	s.logger.Info("user deleted",
		slog.String("user_id", id), slog.String("deleted_by", actorID))
	return nil
}

// ListAuditLogs returns audit rows filtered by user or by event, newest
// first. Exactly one filter must be supplied; the table is too large to page
// through unfiltered.
func (s *AdminService) ListAuditLogs(ctx context.Context, userID, event string, limit, offset int) ([]*models.AuditLog, error) {
	var (
		logs []*models.AuditLog
		err  error
	)
	switch {
	case userID != "":
		logs, err = s.audits.ListByUser(ctx, userID, limit, offset)
	case event != "":
		logs, err = s.audits.ListByEvent(ctx, event, limit, offset)
	default:
		return nil, models.ErrBadRequest
	}
	if err != nil {
		s.logger.Error("failed to list audit logs", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return logs, nil
}

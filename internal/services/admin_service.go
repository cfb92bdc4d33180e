package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/ks-hl/snailpoints/internal/models"
	pkgauth "github.com/ks-hl/snailpoints/pkg/auth"
	pkglogger "github.com/ks-hl/snailpoints/pkg/logger"
)

// BanRemover lifts a durable ban on a source address
type BanRemover interface {
	Unban(ctx context.Context, sourceAddress string) error
}

// AdminService handles administrative account operations
type AdminService struct {
	repo        AccountRepository
	guard       *LoginGuard
	bans        BanRemover
	bcryptCost  int
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAdminService creates a new AdminService
func NewAdminService(repo AccountRepository, guard *LoginGuard, bans BanRemover, bcryptCost int, logger *slog.Logger) *AdminService {
	return &AdminService{
		repo:        repo,
		guard:       guard,
		bans:        bans,
		bcryptCost:  bcryptCost,
		logger:      logger,
		auditLogger: pkglogger.NewAuditLogger(logger),
	}
}

// SetPassword overwrites the password of a non-admin account and lifts the login throttling
// that may have locked its owner out. The owner's address is unknown here, so every source
// window is cleared along with the username window.
func (s *AdminService) SetPassword(ctx context.Context, adminID, username, newPassword string) error {
	target, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to look up account", slog.Any("error", err))
		return fmt.Errorf("%w: look up account: %v", models.ErrServiceBusy, err)
	}

	if target.Admin {
		s.logger.Warn("refused to set password of an admin account",
			slog.String("admin_id", adminID),
			slog.String("target_id", target.ID))
		return fmt.Errorf("%w: can't set passwords for admins", models.ErrForbidden)
	}

	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return err
	}

	hashedPassword, err := pkgauth.HashPasswordWithCost(newPassword, s.bcryptCost)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.repo.UpdatePassword(ctx, target.ID, hashedPassword); err != nil {
		s.logger.Error("failed to update password", slog.String("target_id", target.ID), slog.Any("error", err))
		return fmt.Errorf("%w: update password: %v", models.ErrServiceBusy, err)
	}

	if err := s.guard.ClearAllSources(ctx); err != nil {
		return err
	}
	if err := s.guard.ClearUsername(ctx, target.Username); err != nil {
		return err
	}

	s.auditLogger.LogAccountAction(ctx, pkglogger.EventAdminPasswordSet, target.ID, "",
		map[string]string{"admin_id": adminID})
	return nil
}

// UnbanAddress lifts the ban on a source address and zeroes its failure window and persistent
// attempt count, so its next failed login does not ban it again
func (s *AdminService) UnbanAddress(ctx context.Context, adminID, address string) error {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return fmt.Errorf("%w: invalid address", models.ErrBadRequest)
	}
	source := addr.Unmap().String()

	if err := s.bans.Unban(ctx, source); err != nil {
		s.logger.Error("failed to lift ban", slog.String("ip_address", source), slog.Any("error", err))
		return fmt.Errorf("%w: unban: %v", models.ErrServiceBusy, err)
	}
	if err := s.guard.ClearSource(ctx, source); err != nil {
		return err
	}

	s.auditLogger.LogAccountAction(ctx, pkglogger.EventSourceUnbanned, adminID, source, nil)
	return nil
}

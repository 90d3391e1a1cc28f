package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/constants"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/models"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/redis"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/repository"
)

// VersionSource reads and advances the page cache version.
type VersionSource interface {
	CacheInvalidator
	Version(ctx context.Context) string
}

// AdminService defines the interface for edge administration.
type AdminService interface {
	// GetEdgeStats summarizes the cache, rate-limit and session state.
	GetEdgeStats(ctx context.Context) (*models.EdgeStats, error)

	// InvalidateCache advances the page cache version.
	InvalidateCache(ctx context.Context) (*models.CacheInvalidateResponse, error)

	// ForceLogoutUser deletes every session of a user.
	ForceLogoutUser(ctx context.Context, userID int64) (*models.ForceLogoutResponse, error)

	// PurgeExpired deletes expired sessions and magic-link tokens.
	PurgeExpired(ctx context.Context) (*models.PurgeResponse, error)
}

// adminService implements the AdminService interface.
type adminService struct {
	store   redis.Store
	repo    repository.AuthRepository
	cache   VersionSource
	janitor *Janitor
	logger  *logrus.Logger
}

// NewAdminService creates a new admin service instance with the provided dependencies.
func NewAdminService(
	store redis.Store,
	repo repository.AuthRepository,
	cache VersionSource,
	janitor *Janitor,
	logger *logrus.Logger,
) AdminService {
	return &adminService{
		store:   store,
		repo:    repo,
		cache:   cache,
		janitor: janitor,
		logger:  logger,
	}
}

// GetEdgeStats counts page entries and rate-limit windows in the key-value store
// and sessions in the relational store.
func (s *adminService) GetEdgeStats(ctx context.Context) (*models.EdgeStats, error) {
	s.logger.Info("Retrieving edge statistics")

	pageKeys, err := s.store.ScanKeys(ctx, constants.KeyPagePrefix+"*")
	if err != nil {
		s.logger.WithError(err).Error("Failed to scan page cache keys")
		return nil, fmt.Errorf("failed to scan page keys: %w", err)
	}

	windows, err := s.store.ScanKeys(ctx, constants.KeyRateLimitPrefix+"*")
	if err != nil {
		s.logger.WithError(err).Error("Failed to scan rate limit keys")
		return nil, fmt.Errorf("failed to scan rate limit keys: %w", err)
	}

	sessions, err := s.repo.CountSessions(ctx, time.Now())
	if err != nil {
		s.logger.WithError(err).Error("Failed to count sessions")
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}

	pages := 0
	for _, key := range pageKeys {
		if !strings.HasSuffix(key, constants.KeyPageHeadersSuffix) {
			pages++
		}
	}

	stats := &models.EdgeStats{
		CacheVersion:     s.cache.Version(ctx),
		PageEntries:      pages,
		RateLimitWindows: len(windows),
		MemoryUsage:      s.store.MemoryUsage(ctx),
		Sessions:         sessions,
	}

	s.logger.WithFields(logrus.Fields{
		"cache_version":   stats.CacheVersion,
		"page_entries":    stats.PageEntries,
		"active_sessions": stats.Sessions.ActiveSessions,
	}).Info("Edge statistics retrieved successfully")

	return stats, nil
}

// InvalidateCache advances the page cache version.
func (s *adminService) InvalidateCache(ctx context.Context) (*models.CacheInvalidateResponse, error) {
	tag, err := s.cache.Invalidate(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to invalidate page cache")
		return nil, err
	}

	return &models.CacheInvalidateResponse{
		Success:      true,
		CacheVersion: tag,
	}, nil
}

// ForceLogoutUser deletes every session of userID. It returns
// repository.ErrNotFound for an unknown user.
func (s *adminService) ForceLogoutUser(ctx context.Context, userID int64) (*models.ForceLogoutResponse, error) {
	s.logger.WithField("user_id", userID).Info("Force logging out user")

	if _, err := s.repo.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}

	count, err := s.repo.DeleteUserSessions(ctx, userID)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Error("Failed to delete user sessions")
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"sessions_deleted": count,
		"user_id":          userID,
	}).Info("User sessions deleted successfully")

	return &models.ForceLogoutResponse{
		Success:         true,
		Message:         fmt.Sprintf("Successfully logged out user and deleted %d sessions", count),
		SessionsDeleted: int(count),
	}, nil
}

// PurgeExpired runs one janitor sweep on demand.
func (s *adminService) PurgeExpired(ctx context.Context) (*models.PurgeResponse, error) {
	s.logger.Warn("Purging expired sessions and tokens")

	result, err := s.janitor.Sweep(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to purge expired rows")
		return nil, err
	}

	return &models.PurgeResponse{
		Success:         true,
		SessionsDeleted: int(result.Sessions),
		TokensDeleted:   int(result.Tokens),
	}, nil
}

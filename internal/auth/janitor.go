package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/metrics"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/repository"
)

// SweepResult counts the rows removed by one sweep.
type SweepResult struct {
	Sessions int64
	Tokens   int64
}

// Janitor removes expired sessions and magic-link tokens. Expiry is already
// enforced when rows are read; sweeping only keeps the tables small.
type Janitor struct {
	repo     repository.AuthRepository
	interval time.Duration
	now      func() time.Time
	metrics  *metrics.Metrics
	logger   *logrus.Logger
}

// NewJanitor creates a janitor sweeping every interval.
func NewJanitor(repo repository.AuthRepository, interval time.Duration, m *metrics.Metrics, logger *logrus.Logger) *Janitor {
	return &Janitor{
		repo:     repo,
		interval: interval,
		now:      time.Now,
		metrics:  m,
		logger:   logger,
	}
}

// Run sweeps on every tick until ctx is cancelled. It returns immediately when
// the interval is not positive.
func (j *Janitor) Run(ctx context.Context) {
	if j.interval <= 0 {
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.WithField("interval", j.interval.String()).Info("Session janitor started")

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("Session janitor stopped")
			return
		case <-ticker.C:
			if _, err := j.Sweep(ctx); err != nil {
				j.logger.WithError(err).Warn("Session janitor sweep failed")
			}
		}
	}
}

// Sweep deletes every session and token that expired before now.
func (j *Janitor) Sweep(ctx context.Context) (*SweepResult, error) {
	runID := uuid.NewString()
	now := j.now()

	sessions, err := j.repo.DeleteExpiredSessions(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	j.metrics.JanitorDeleted("sessions", int(sessions))

	tokens, err := j.repo.DeleteExpiredAuthTokens(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to delete expired auth tokens: %w", err)
	}
	j.metrics.JanitorDeleted("auth_tokens", int(tokens))

	j.logger.WithFields(logrus.Fields{
		"run_id":           runID,
		"sessions_deleted": sessions,
		"tokens_deleted":   tokens,
	}).Info("Expired sessions and tokens purged")

	return &SweepResult{Sessions: sessions, Tokens: tokens}, nil
}

package integration_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/config"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/database"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/models"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/repository"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/pkg/logger"
)

func TestPostgresIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("harmonie"),
		postgres.WithUsername("harmonie"),
		postgres.WithPassword("harmonie"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)

	defer func() {
		if err = pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Database.Driver = config.DriverPostgres
	cfg.Database.AutoMigrate = true
	cfg.PostgresDatabase = config.DatabaseConfig{
		Host:              host,
		Port:              port.Int(),
		Database:          "harmonie",
		Schema:            "public",
		User:              "harmonie",
		Password:          "harmonie",
		SSLMode:           "disable",
		MaxConn:           5,
		MinConn:           1,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
		ConnectTimeout:    10 * time.Second,
	}

	log := logger.New("warn", "json", "stdout")
	dbMgr, err := database.NewManager(cfg, log)
	require.NoError(t, err)
	defer dbMgr.Close()

	require.True(t, dbMgr.IsAvailable())
	require.NoError(t, dbMgr.Migrate(ctx))
	require.NoError(t, dbMgr.Migrate(ctx), "migrations must be idempotent")

	repo := repository.NewPostgresRepository(dbMgr.Postgres().Pool)

	t.Run("Users", func(t *testing.T) {
		testUsers(ctx, t, repo)
	})

	t.Run("MagicLinkTokens", func(t *testing.T) {
		testMagicLinkTokens(ctx, t, repo)
	})

	t.Run("Sessions", func(t *testing.T) {
		testSessions(ctx, t, repo)
	})
}

func testUsers(ctx context.Context, t *testing.T, repo repository.Repository) {
	user, err := repo.CreateUser(ctx, "Clarinette@Example.com", models.RoleMusician, true)
	require.NoError(t, err)
	assert.Positive(t, user.ID)
	assert.Equal(t, "clarinette@example.com", user.Email)

	_, err = repo.CreateUser(ctx, "clarinette@example.com", models.RoleAdmin, true)
	assert.ErrorIs(t, err, repository.ErrDuplicateEmail)

	found, err := repo.GetUserByEmail(ctx, "CLARINETTE@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
	assert.Nil(t, found.LastLogin)

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.UpdateLastLogin(ctx, user.ID, at))
	require.NoError(t, repo.SetUserRole(ctx, user.Email, models.RoleAdmin))
	require.NoError(t, repo.SetUserActive(ctx, user.Email, false))

	found, err = repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, found.LastLogin)
	assert.True(t, at.Equal(found.LastLogin.UTC()))
	assert.Equal(t, models.RoleAdmin, found.Role)
	assert.False(t, found.IsActive)

	_, err = repo.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, repo.SetUserActive(ctx, "nobody@example.com", true), repository.ErrNotFound)
}

func testMagicLinkTokens(ctx context.Context, t *testing.T, repo repository.Repository) {
	now := time.Now()

	require.NoError(t, repo.CreateAuthToken(ctx, &models.AuthToken{
		Token:     "live-token",
		Email:     "clarinette@example.com",
		ExpiresAt: now.Add(15 * time.Minute),
	}))
	require.NoError(t, repo.CreateAuthToken(ctx, &models.AuthToken{
		Token:     "stale-token",
		Email:     "clarinette@example.com",
		ExpiresAt: now.Add(-time.Minute),
	}))

	token, err := repo.GetUnusedAuthToken(ctx, "live-token")
	require.NoError(t, err)
	assert.Equal(t, "clarinette@example.com", token.Email)
	assert.False(t, token.IsExpired(now))

	won, err := repo.MarkAuthTokenUsed(ctx, "live-token")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.MarkAuthTokenUsed(ctx, "live-token")
	require.NoError(t, err)
	assert.False(t, won, "a token can only be consumed once")

	_, err = repo.GetUnusedAuthToken(ctx, "live-token")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	removed, err := repo.DeleteExpiredAuthTokens(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func testSessions(ctx context.Context, t *testing.T, repo repository.Repository) {
	now := time.Now()

	user, err := repo.CreateUser(ctx, "timbales@example.com", models.RoleMusician, true)
	require.NoError(t, err)

	for id, expires := range map[string]time.Time{
		"session-a": now.Add(time.Hour),
		"session-b": now.Add(time.Hour),
		"session-c": now.Add(-time.Hour),
	} {
		require.NoError(t, repo.CreateSession(ctx, &models.Session{SessionID: id, UserID: user.ID, ExpiresAt: expires}))
	}

	session, owner, err := repo.GetSessionWithUser(ctx, "session-a")
	require.NoError(t, err)
	assert.Equal(t, user.ID, session.UserID)
	assert.Equal(t, "timbales@example.com", owner.Email)

	stats, err := repo.CountSessions(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalSessions)
	assert.Equal(t, 2, stats.ActiveSessions)

	expired, err := repo.DeleteExpiredSessions(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	require.NoError(t, repo.DeleteSession(ctx, "session-a"))
	require.NoError(t, repo.DeleteSession(ctx, "session-a"))

	_, _, err = repo.GetSessionWithUser(ctx, "session-a")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	n, err := repo.DeleteUserSessions(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

package database

import (
	"context"
	"io"
	"io/fs"
	"strings"
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/config"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestEmbeddedMigrations(t *testing.T) {
	for _, driver := range []string{config.DriverPostgres, config.DriverMySQL} {
		t.Run(driver, func(t *testing.T) {
			raw, err := fs.ReadFile(migrationsFS, "migrations/"+driver+"/00001_auth_tables.sql")
			require.NoError(t, err)

			sql := string(raw)
			assert.True(t, strings.HasPrefix(sql, "-- +goose Up"))
			assert.Contains(t, sql, "-- +goose Down")
			for _, table := range []string{"users", "auth_tokens", "sessions"} {
				assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS "+table)
			}
		})
	}
}

func TestDialectFor(t *testing.T) {
	dialect, err := dialectFor(config.DriverPostgres)
	require.NoError(t, err)
	assert.Equal(t, goose.DialectPostgres, dialect)

	dialect, err = dialectFor(config.DriverMySQL)
	require.NoError(t, err)
	assert.Equal(t, goose.DialectMySQL, dialect)

	_, err = dialectFor(config.DriverMemory)
	assert.Error(t, err)
}

func TestNewManager_Memory(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseSelection{Driver: config.DriverMemory}}

	m, err := NewManager(cfg, quietLogger())
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, config.DriverMemory, m.Driver())
	assert.True(t, m.IsAvailable())
	assert.NoError(t, m.Ping(context.Background()))
	assert.NoError(t, m.Migrate(context.Background()))
	assert.Nil(t, m.Postgres())
	assert.Nil(t, m.MySQL())
}

func TestNewManager_RequiresCredentials(t *testing.T) {
	for _, driver := range []string{config.DriverPostgres, config.DriverMySQL} {
		cfg := &config.Config{Database: config.DatabaseSelection{Driver: driver}}

		_, err := NewManager(cfg, quietLogger())
		assert.ErrorIs(t, err, ErrNotConfigured, driver)
	}

	_, err := NewManager(&config.Config{Database: config.DatabaseSelection{Driver: "sqlite"}}, quietLogger())
	assert.Error(t, err)
}

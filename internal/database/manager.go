// Package database owns the relational connection for the selected driver and the
// schema migrations of the auth tables.
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/config"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/database/mysql"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/database/postgres"
)

// ErrNotConfigured is returned when the selected driver has no credentials.
var ErrNotConfigured = errors.New("database is not configured")

// Manager fronts the connection manager of the configured driver. With the memory
// driver it holds no connection and always reports healthy.
type Manager struct {
	driver   string
	postgres *postgres.Manager
	mysql    *mysql.Manager
	logger   *logrus.Logger
}

// NewManager connects to the configured driver. Connection failures are not fatal:
// the driver managers keep retrying in the background.
func NewManager(cfg *config.Config, logger *logrus.Logger) (*Manager, error) {
	m := &Manager{driver: cfg.Database.Driver, logger: logger}

	switch cfg.Database.Driver {
	case config.DriverPostgres:
		if !cfg.IsPostgresDatabaseConfigured() {
			return nil, fmt.Errorf("%w: POSTGRES_USER and POSTGRES_PASSWORD are required", ErrNotConfigured)
		}
		pg, err := postgres.NewManager(cfg, logger)
		if err != nil {
			return nil, err
		}
		m.postgres = pg
	case config.DriverMySQL:
		if !cfg.IsMySQLDatabaseConfigured() {
			return nil, fmt.Errorf("%w: MYSQL_USER and MYSQL_PASSWORD are required", ErrNotConfigured)
		}
		my, err := mysql.NewManager(cfg, logger)
		if err != nil {
			return nil, err
		}
		m.mysql = my
	case config.DriverMemory:
		logger.Warn("Using in-memory database: users, sessions and tokens are lost on restart")
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}

	return m, nil
}

// Driver returns the configured driver name.
func (m *Manager) Driver() string {
	return m.driver
}

// Postgres returns the PostgreSQL manager, or nil for other drivers.
func (m *Manager) Postgres() *postgres.Manager {
	return m.postgres
}

// MySQL returns the MySQL manager, or nil for other drivers.
func (m *Manager) MySQL() *mysql.Manager {
	return m.mysql
}

// Ping checks connectivity of the active driver.
func (m *Manager) Ping(ctx context.Context) error {
	switch {
	case m.postgres != nil:
		return m.postgres.Ping(ctx)
	case m.mysql != nil:
		return m.mysql.Ping(ctx)
	default:
		return nil
	}
}

// IsAvailable reports whether the active driver currently holds a live connection.
func (m *Manager) IsAvailable() bool {
	switch {
	case m.postgres != nil:
		return m.postgres.IsAvailable()
	case m.mysql != nil:
		return m.mysql.IsAvailable()
	default:
		return true
	}
}

// Migrate applies pending migrations on the active driver. It is a no-op for the
// memory driver.
func (m *Manager) Migrate(ctx context.Context) error {
	switch {
	case m.postgres != nil:
		db, err := m.postgres.SQLDB()
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		return Migrate(ctx, db, config.DriverPostgres, m.logger)
	case m.mysql != nil:
		db, err := m.mysql.SQLDB()
		if err != nil {
			return err
		}
		return Migrate(ctx, db, config.DriverMySQL, m.logger)
	default:
		return nil
	}
}

// Close releases the active connection and stops health monitoring.
func (m *Manager) Close() {
	if m.postgres != nil {
		m.postgres.Close()
	}
	if m.mysql != nil {
		m.mysql.Close()
	}
}

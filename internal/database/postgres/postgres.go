// Package postgres manages the pgx connection pool backing users, sessions and
// magic-link tokens when the postgres driver is selected.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/config"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/database/conn"
)

// ApplicationName is reported to the server in pg_stat_activity.
const ApplicationName = "harmonie-edge"

// ErrDatabaseUnavailable is returned while no pool is connected.
var ErrDatabaseUnavailable = errors.New("database is not available")

// Manager owns the pool and re-creates it when the server goes away.
type Manager struct {
	poolConfig *pgxpool.Config
	cfg        *config.DatabaseConfig
	monitor    *conn.Monitor

	mu   sync.RWMutex
	pool *pgxpool.Pool
}

// NewManager parses the pool configuration and starts connecting. An unreachable
// server is not an error; a malformed configuration is.
func NewManager(cfg *config.Config, logger *logrus.Logger) (*Manager, error) {
	m := &Manager{cfg: &cfg.PostgresDatabase}

	if !cfg.IsPostgresDatabaseConfigured() {
		logger.Info("PostgreSQL database not configured, running without PostgreSQL")
		return m, nil
	}

	poolConfig, err := newPoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	m.poolConfig = poolConfig

	m.monitor = conn.NewMonitor(config.DriverPostgres, m.cfg.HealthCheckPeriod, logger, m.dial, m.ping)
	m.monitor.Start()
	return m, nil
}

func newPoolConfig(cfg *config.Config) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.PostgresDatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL configuration: %w", err)
	}

	db := cfg.PostgresDatabase
	if db.MaxConn > 0 {
		poolConfig.MaxConns = db.MaxConn
	}
	poolConfig.MinConns = db.MinConn
	poolConfig.MaxConnLifetime = db.MaxConnLifetime
	poolConfig.MaxConnIdleTime = db.MaxConnIdleTime
	poolConfig.ConnConfig.ConnectTimeout = db.ConnectTimeout
	poolConfig.ConnConfig.RuntimeParams["application_name"] = ApplicationName
	return poolConfig, nil
}

func (m *Manager) dial(ctx context.Context) error {
	if m.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(ctx, m.poolConfig.Copy())
	if err != nil {
		return err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return err
	}

	m.mu.Lock()
	old := m.pool
	m.pool = pool
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

func (m *Manager) ping(ctx context.Context) error {
	m.mu.RLock()
	pool := m.pool
	m.mu.RUnlock()

	if pool == nil {
		return ErrDatabaseUnavailable
	}
	return pool.Ping(ctx)
}

// IsAvailable reports whether the last health check succeeded.
func (m *Manager) IsAvailable() bool {
	return m.monitor != nil && m.monitor.Available()
}

// Pool returns the live pool, or nil while the database is unavailable.
// Repositories call it per query so they pick up a reconnected pool.
func (m *Manager) Pool() *pgxpool.Pool {
	if !m.IsAvailable() {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pool
}

// SQLDB opens a database/sql handle over the current pool, for tools that only
// speak database/sql such as the migration runner. Closing it does not close the pool.
func (m *Manager) SQLDB() (*sql.DB, error) {
	pool := m.Pool()
	if pool == nil {
		return nil, ErrDatabaseUnavailable
	}
	return stdlib.OpenDBFromPool(pool), nil
}

// Ping checks the live pool.
func (m *Manager) Ping(ctx context.Context) error {
	pool := m.Pool()
	if pool == nil {
		return m.unavailable()
	}
	return pool.Ping(ctx)
}

func (m *Manager) unavailable() error {
	if m.monitor != nil {
		if err := m.monitor.LastError(); err != nil {
			return fmt.Errorf("%w: %w", ErrDatabaseUnavailable, err)
		}
	}
	return ErrDatabaseUnavailable
}

// Close stops health checks and closes the pool.
func (m *Manager) Close() {
	if m.monitor != nil {
		m.monitor.Stop()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pool != nil {
		m.pool.Close()
		m.pool = nil
	}
}

// Package mysql manages the database/sql pool used when the mysql driver is selected.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/config"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/database/conn"
)

// ErrDatabaseUnavailable is returned while no connection is open.
var ErrDatabaseUnavailable = errors.New("database is not available")

// Manager owns the *sql.DB and re-opens it when the server goes away.
type Manager struct {
	connector *mysql.Config
	cfg       *config.MySQLConfig
	monitor   *conn.Monitor

	mu sync.RWMutex
	db *sql.DB
}

// NewManager starts connecting to MySQL. An unreachable server is not an error.
func NewManager(cfg *config.Config, logger *logrus.Logger) (*Manager, error) {
	m := &Manager{cfg: &cfg.MySQLDatabase}

	if !cfg.IsMySQLDatabaseConfigured() {
		logger.Info("MySQL database not configured, running without MySQL")
		return m, nil
	}

	m.connector = DriverConfig(m.cfg)
	m.monitor = conn.NewMonitor(config.DriverMySQL, m.cfg.HealthCheckPeriod, logger, m.dial, m.ping)
	m.monitor.Start()
	return m, nil
}

// DriverConfig builds the go-sql-driver configuration. Times are read and written
// in UTC so expiry comparisons agree with the application clock.
func DriverConfig(c *config.MySQLConfig) *mysql.Config {
	dc := mysql.NewConfig()
	dc.User = c.User
	dc.Passwd = c.Password
	dc.Net = "tcp"
	dc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	dc.DBName = c.Database
	dc.ParseTime = true
	dc.Loc = time.UTC
	dc.Timeout = c.ConnectTimeout
	dc.Params = map[string]string{"time_zone": "'+00:00'"}
	return dc
}

func (m *Manager) dial(ctx context.Context) error {
	connector, err := mysql.NewConnector(m.connector)
	if err != nil {
		return fmt.Errorf("invalid MySQL configuration: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(m.cfg.MaxConn)
	db.SetMaxIdleConns(m.cfg.MinConn)
	db.SetConnMaxLifetime(m.cfg.MaxConnLifetime)
	db.SetConnMaxIdleTime(m.cfg.MaxConnIdleTime)

	if m.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	m.mu.Lock()
	old := m.db
	m.db = db
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (m *Manager) ping(ctx context.Context) error {
	m.mu.RLock()
	db := m.db
	m.mu.RUnlock()

	if db == nil {
		return ErrDatabaseUnavailable
	}
	return db.PingContext(ctx)
}

// IsAvailable reports whether the last health check succeeded.
func (m *Manager) IsAvailable() bool {
	return m.monitor != nil && m.monitor.Available()
}

// DB returns the live connection, or nil while the database is unavailable.
func (m *Manager) DB() *sql.DB {
	if !m.IsAvailable() {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db
}

// SQLDB returns the current connection for the migration runner.
func (m *Manager) SQLDB() (*sql.DB, error) {
	db := m.DB()
	if db == nil {
		return nil, ErrDatabaseUnavailable
	}
	return db, nil
}

// Ping checks the live connection.
func (m *Manager) Ping(ctx context.Context) error {
	db := m.DB()
	if db == nil {
		if m.monitor != nil && m.monitor.LastError() != nil {
			return fmt.Errorf("%w: %w", ErrDatabaseUnavailable, m.monitor.LastError())
		}
		return ErrDatabaseUnavailable
	}
	return db.PingContext(ctx)
}

// Close stops health checks and closes the connection.
func (m *Manager) Close() {
	if m.monitor != nil {
		m.monitor.Stop()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db != nil {
		_ = m.db.Close()
		m.db = nil
	}
}

// Package conn keeps a database handle alive: it dials on startup, pings on a
// fixed period and re-dials after a failed ping. Drivers supply the dial and
// ping functions and own the handle itself.
package conn

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultCheckPeriod is used when no positive period is configured.
	DefaultCheckPeriod = 30 * time.Second

	pingTimeout = 5 * time.Second
)

// Func dials or pings a handle.
type Func func(ctx context.Context) error

// Monitor tracks whether a handle is usable.
type Monitor struct {
	driver string
	period time.Duration
	dial   Func
	ping   Func
	logger *logrus.Entry

	mu        sync.RWMutex
	available bool
	everUp    bool
	lastErr   error
	failures  int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor for driver. Nothing runs until Start.
func NewMonitor(driver string, period time.Duration, logger *logrus.Logger, dial, ping Func) *Monitor {
	if period <= 0 {
		period = DefaultCheckPeriod
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Monitor{
		driver: driver,
		period: period,
		dial:   dial,
		ping:   ping,
		logger: logger.WithField("driver", driver),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start dials once and then checks the handle every period until Stop.
// A failed first dial is not fatal.
func (m *Monitor) Start() {
	if err := m.dial(m.ctx); err != nil {
		m.setState(false, err)
		m.logger.WithError(err).Warn("Failed to connect to database on startup, will retry periodically")
	} else {
		m.setState(true, nil)
	}

	m.done = make(chan struct{})
	go m.loop()
}

func (m *Monitor) loop() {
	defer close(m.done)

	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// Check pings the handle and re-dials when the ping fails.
func (m *Monitor) Check() {
	ctx, cancel := context.WithTimeout(m.ctx, pingTimeout)
	err := m.ping(ctx)
	cancel()

	if err == nil {
		m.setState(true, nil)
		return
	}
	m.setState(false, err)

	if dialErr := m.dial(m.ctx); dialErr != nil {
		m.logger.WithError(dialErr).WithField("failures", m.Failures()).Debug("Database reconnection attempt failed")
		m.setState(false, dialErr)
		return
	}
	m.setState(true, nil)
}

func (m *Monitor) setState(up bool, err error) {
	m.mu.Lock()
	was := m.available
	first := !m.everUp
	m.available = up
	m.lastErr = err
	if up {
		m.everUp = true
		m.failures = 0
	} else {
		m.failures++
	}
	m.mu.Unlock()

	switch {
	case up && !was && first:
		m.logger.Info("Connected to database")
	case up && !was:
		m.logger.Info("Database connection restored")
	case !up && was:
		m.logger.WithError(err).Warn("Database connection lost, attempting reconnection")
	}
}

// Available reports whether the last dial or ping succeeded.
func (m *Monitor) Available() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.available
}

// LastError returns the error of the last failed dial or ping, nil while up.
func (m *Monitor) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Failures counts consecutive failed dials and pings.
func (m *Monitor) Failures() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failures
}

// Stop ends the check loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.cancel()
	if m.done != nil {
		<-m.done
	}

	m.mu.Lock()
	m.available = false
	m.mu.Unlock()
}

package conn

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHandle stands in for a pool: dial succeeds unless dialErr is set, ping
// fails while the handle is down.
type fakeHandle struct {
	dialErr atomic.Pointer[error]
	up      atomic.Bool
	dials   atomic.Int32
}

func (f *fakeHandle) dial(context.Context) error {
	f.dials.Add(1)
	if p := f.dialErr.Load(); p != nil {
		return *p
	}
	f.up.Store(true)
	return nil
}

func (f *fakeHandle) ping(context.Context) error {
	if !f.up.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeHandle) failDials(err error) {
	f.dialErr.Store(&err)
}

func newTestLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

func TestMonitor_StartConnects(t *testing.T) {
	logger, hook := newTestLogger()
	h := &fakeHandle{}

	m := NewMonitor("postgres", time.Hour, logger, h.dial, h.ping)
	m.Start()
	defer m.Stop()

	assert.True(t, m.Available())
	assert.NoError(t, m.LastError())
	assert.Equal(t, int32(1), h.dials.Load())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "Connected to database", hook.LastEntry().Message)
	assert.Equal(t, "postgres", hook.LastEntry().Data["driver"])
}

func TestMonitor_StartFailureIsNotFatal(t *testing.T) {
	logger, hook := newTestLogger()
	h := &fakeHandle{}
	h.failDials(errors.New("no route to host"))

	m := NewMonitor("mysql", time.Hour, logger, h.dial, h.ping)
	m.Start()
	defer m.Stop()

	assert.False(t, m.Available())
	assert.EqualError(t, m.LastError(), "no route to host")
	assert.Equal(t, 1, m.Failures())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestMonitor_CheckReconnects(t *testing.T) {
	logger, hook := newTestLogger()
	h := &fakeHandle{}

	m := NewMonitor("postgres", time.Hour, logger, h.dial, h.ping)
	m.Start()
	defer m.Stop()

	// Healthy ping: no re-dial.
	m.Check()
	assert.Equal(t, int32(1), h.dials.Load())

	// Connection drops and the server is still down.
	h.up.Store(false)
	h.failDials(errors.New("connection refused"))
	m.Check()
	assert.False(t, m.Available())
	assert.Equal(t, 2, m.Failures())
	assert.Equal(t, int32(2), h.dials.Load())

	// Server comes back.
	h.dialErr.Store(nil)
	m.Check()
	assert.True(t, m.Available())
	assert.Zero(t, m.Failures())
	assert.Equal(t, "Database connection restored", hook.LastEntry().Message)
}

func TestMonitor_StopEndsLoop(t *testing.T) {
	logger, _ := newTestLogger()
	h := &fakeHandle{}

	m := NewMonitor("postgres", 5*time.Millisecond, logger, h.dial, h.ping)
	m.Start()

	h.up.Store(false)
	assert.Eventually(t, func() bool { return h.dials.Load() >= 2 }, time.Second, 5*time.Millisecond)

	m.Stop()
	assert.False(t, m.Available())

	dials := h.dials.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, dials, h.dials.Load())
}

func TestNewMonitor_DefaultPeriod(t *testing.T) {
	logger, _ := newTestLogger()
	m := NewMonitor("mysql", 0, logger, func(context.Context) error { return nil }, func(context.Context) error { return nil })
	assert.Equal(t, DefaultCheckPeriod, m.period)
}

package mysql

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/config"
)

func TestDriverConfig(t *testing.T) {
	dc := DriverConfig(&config.MySQLConfig{
		Host:           "mysql",
		Port:           3306,
		Database:       "harmonie",
		User:           "edge",
		Password:       "secret",
		ConnectTimeout: 3 * time.Second,
	})

	assert.Equal(t, "mysql:3306", dc.Addr)
	assert.Equal(t, "tcp", dc.Net)
	assert.True(t, dc.ParseTime)
	assert.Equal(t, time.UTC, dc.Loc)
	assert.Equal(t, 3*time.Second, dc.Timeout)
	assert.Contains(t, dc.FormatDSN(), "edge:secret@tcp(mysql:3306)/harmonie?")
}

func TestNewManager_Unconfigured(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	m, err := NewManager(&config.Config{}, logger)
	require.NoError(t, err)
	defer m.Close()

	assert.False(t, m.IsAvailable())
	assert.Nil(t, m.DB())
	assert.ErrorIs(t, m.Ping(context.Background()), ErrDatabaseUnavailable)

	_, err = m.SQLDB()
	assert.ErrorIs(t, err, ErrDatabaseUnavailable)
}

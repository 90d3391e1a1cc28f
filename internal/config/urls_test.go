package config_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/config"
)

func TestConfig_GetServiceURLs(t *testing.T) {
	tests := []struct {
		name        string
		environment config.Environment
		want        string
	}{
		{
			name:        "local uses the mailpit relay",
			environment: config.Local,
			want:        "http://localhost:8025/api/v1",
		},
		{
			name:        "nonprod uses the staging relay",
			environment: config.NonProd,
			want:        "https://mail-relay.staging.amis-harmonie-sucy.fr/api/v1",
		},
		{
			name:        "prod uses the production relay",
			environment: config.Prod,
			want:        "https://mail-relay.amis-harmonie-sucy.fr/api/v1",
		},
		{
			name:        "unknown environment defaults to local",
			environment: config.Environment("UNKNOWN"),
			want:        "http://localhost:8025/api/v1",
		},
		{
			name:        "empty environment defaults to local",
			environment: config.Environment(""),
			want:        "http://localhost:8025/api/v1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				Environment: config.EnvironmentConfig{Environment: tt.environment},
			}

			assert.Equal(t, tt.want, cfg.GetServiceURLs().MailRelayBaseURL)
		})
	}
}

func TestServiceURLs_RemoteEnvironmentsUseHTTPS(t *testing.T) {
	for _, env := range []config.Environment{config.NonProd, config.Prod} {
		cfg := &config.Config{Environment: config.EnvironmentConfig{Environment: env}}
		assert.True(t, strings.HasPrefix(cfg.GetServiceURLs().MailRelayBaseURL, "https://"), env)
	}
}

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/config"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		wantErr  bool
		validate func(*testing.T, *config.Config)
	}{
		{
			name:    "defaults",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, 15*time.Minute, cfg.Auth.MagicLinkTTL)
				assert.Equal(t, 7*24*time.Hour, cfg.Auth.SessionTTL)
				assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
				assert.True(t, cfg.Auth.SecureCookies)
				assert.Equal(t, config.DriverPostgres, cfg.Database.Driver)
			},
		},
		{
			name: "overrides",
			envVars: map[string]string{
				"SERVER_PORT":     "9090",
				"REDIS_URL":       "redis://localhost:6380",
				"SITE_BUILD_ID":   "2024-06-01",
				"DATABASE_DRIVER": "mysql",
			},
			validate: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, "redis://localhost:6380", cfg.Redis.URL)
				assert.Equal(t, "2024-06-01", cfg.Site.BuildID)
				assert.Equal(t, config.DriverMySQL, cfg.Database.Driver)
			},
		},
		{
			name:    "invalid_port",
			envVars: map[string]string{"SERVER_PORT": "99999"},
			wantErr: true,
		},
		{
			name:    "relative_base_url",
			envVars: map[string]string{"SITE_BASE_URL": "amis-harmonie-sucy.fr"},
			wantErr: true,
		},
		{
			name:    "unknown_driver",
			envVars: map[string]string{"DATABASE_DRIVER": "sqlite"},
			wantErr: true,
		},
		{
			name: "memory_driver_in_prod",
			envVars: map[string]string{
				"ENVIRONMENT_ENV": "PROD",
				"DATABASE_DRIVER": "memory",
			},
			wantErr: true,
		},
		{
			name:    "smtp_without_host",
			envVars: map[string]string{"MAIL_PROVIDER": "smtp"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)

			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := config.Load()

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			if tt.validate != nil {
				tt.validate(t, cfg)
			}

			assert.Equal(t, "0.0.0.0", cfg.Server.Host)
			assert.Equal(t, "info", cfg.Logging.Level)
			assert.Empty(t, cfg.Security.AllowedOrigins)
			assert.True(t, cfg.Security.AllowCredentials)
		})
	}
}

func TestLoad_RateLimitRoutesFromYAML(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	routes := make(map[string]config.RouteLimit, len(cfg.RateLimit.Routes))
	for _, r := range cfg.RateLimit.Routes {
		routes[r.Path] = r
	}

	require.Len(t, routes, 5)
	assert.Equal(t, 5, routes["/api/auth/magic-link"].MaxRequests)
	assert.Equal(t, 15*time.Minute, routes["/api/auth/magic-link"].Window)
	assert.Equal(t, 3, routes["/api/guestbook"].MaxRequests)
	assert.Equal(t, time.Hour, routes["/api/contact"].Window)
	assert.Equal(t, time.Minute, routes["/api/admin/upload"].Window)
}

func TestLoad_RateLimitRoutesCustomDir(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	yaml := "ratelimit:\n  routes:\n    - path: /api/newsletter\n      max_requests: 2\n      window: 30s\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "defaults.yaml"), []byte(yaml), 0o600))
	t.Setenv("RATE_LIMIT_CONFIG_DIR", dir)

	cfg, err := config.Load()
	require.NoError(t, err)

	require.Len(t, cfg.RateLimit.Routes, 1)
	assert.Equal(t, config.RouteLimit{Path: "/api/newsletter", MaxRequests: 2, Window: 30 * time.Second}, cfg.RateLimit.Routes[0])
}

func TestConfigValidate(t *testing.T) {
	valid := func() *config.Config {
		return &config.Config{
			Server:   config.ServerConfig{Port: 8080},
			Site:     config.SiteConfig{BaseURL: "https://amis-harmonie-sucy.fr", BuildID: "abc"},
			Database: config.DatabaseSelection{Driver: config.DriverPostgres},
			Auth:     config.AuthConfig{MagicLinkTTL: 15 * time.Minute, SessionTTL: 168 * time.Hour},
			Cache:    config.CacheConfig{Enabled: true, TTL: 24 * time.Hour},
			Mail:     config.MailConfig{Provider: config.MailProviderLog},
			RateLimit: config.RateLimitConfig{
				Routes: config.DefaultRateLimitRoutes(),
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{name: "valid_config", mutate: func(*config.Config) {}},
		{name: "invalid_port_low", mutate: func(c *config.Config) { c.Server.Port = 0 }, wantErr: true},
		{name: "missing_build_id", mutate: func(c *config.Config) { c.Site.BuildID = "" }, wantErr: true},
		{name: "relative_origin", mutate: func(c *config.Config) { c.Site.OriginURL = "/render" }, wantErr: true},
		{name: "short_magic_link", mutate: func(c *config.Config) { c.Auth.MagicLinkTTL = 30 * time.Second }, wantErr: true},
		{name: "short_session", mutate: func(c *config.Config) { c.Auth.SessionTTL = 30 * time.Minute }, wantErr: true},
		{name: "zero_cache_ttl", mutate: func(c *config.Config) { c.Cache.TTL = 0 }, wantErr: true},
		{name: "disabled_cache_ignores_ttl", mutate: func(c *config.Config) { c.Cache.Enabled = false; c.Cache.TTL = 0 }},
		{
			name: "wildcard_origin_with_credentials",
			mutate: func(c *config.Config) {
				c.Security.AllowedOrigins = []string{"*"}
				c.Security.AllowCredentials = true
			},
			wantErr: true,
		},
		{name: "wildcard_origin_without_credentials", mutate: func(c *config.Config) { c.Security.AllowedOrigins = []string{"*"} }},
		{name: "unknown_mail_provider", mutate: func(c *config.Config) { c.Mail.Provider = "pigeon" }, wantErr: true},
		{name: "log_mail_in_prod", mutate: func(c *config.Config) { c.Environment.Environment = config.Prod }, wantErr: true},
		{name: "relay_without_credentials", mutate: func(c *config.Config) { c.Mail.Provider = config.MailProviderRelay }, wantErr: true},
		{
			name: "relay_with_credentials",
			mutate: func(c *config.Config) {
				c.Mail.Provider = config.MailProviderRelay
				c.Mail.RelayClientID = "edge"
				c.Mail.RelayClientSecret = "secret"
			},
		},
		{
			name: "route_without_window",
			mutate: func(c *config.Config) {
				c.RateLimit.Routes = append(c.RateLimit.Routes, config.RouteLimit{Path: "/api/x", MaxRequests: 1})
			},
			wantErr: true,
		},
		{
			name: "duplicate_route",
			mutate: func(c *config.Config) {
				c.RateLimit.Routes = append(c.RateLimit.Routes, c.RateLimit.Routes[0])
			},
			wantErr: true,
		},
		{
			name: "relative_route",
			mutate: func(c *config.Config) {
				c.RateLimit.Routes = []config.RouteLimit{{Path: "api/x", MaxRequests: 1, Window: time.Second}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigServerAddr(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Host: "localhost",
			Port: 9090,
		},
	}

	assert.Equal(t, "localhost:9090", cfg.ServerAddr())
}

func TestConfigIsTLSEnabled(t *testing.T) {
	tests := []struct {
		name     string
		server   config.ServerConfig
		expected bool
	}{
		{name: "tls_enabled", server: config.ServerConfig{TLSCert: "/cert.pem", TLSKey: "/key.pem"}, expected: true},
		{name: "tls_disabled_no_cert", server: config.ServerConfig{TLSKey: "/key.pem"}},
		{name: "tls_disabled_no_key", server: config.ServerConfig{TLSCert: "/cert.pem"}},
		{name: "tls_disabled_empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Server: tt.server}
			assert.Equal(t, tt.expected, cfg.IsTLSEnabled())
		})
	}
}

func TestConfigDSNs(t *testing.T) {
	cfg := &config.Config{
		PostgresDatabase: config.DatabaseConfig{
			Host: "db", Port: 5432, Database: "harmonie", User: "u", Password: "p", SSLMode: "disable", Schema: "public",
		},
		MySQLDatabase: config.MySQLConfig{
			Host: "mysql", Port: 3306, Database: "harmonie", User: "u", Password: "p",
		},
	}

	assert.Equal(t, "host=db port=5432 dbname=harmonie user=u password=p sslmode=disable search_path=public", cfg.PostgresDatabaseDSN())
	assert.True(t, cfg.IsPostgresDatabaseConfigured())
	assert.True(t, cfg.IsMySQLDatabaseConfigured())
}

func clearEnv(t *testing.T) {
	t.Helper()

	envVars := []string{
		"ENVIRONMENT_ENV", "SERVER_PORT", "SERVER_HOST",
		"SITE_BASE_URL", "SITE_BUILD_ID", "SITE_ORIGIN_URL",
		"REDIS_URL", "REDIS_PASSWORD", "REDIS_DB",
		"DATABASE_DRIVER", "AUTH_MAGIC_LINK_TTL", "AUTH_SESSION_TTL",
		"CACHE_TTL", "CACHE_ENABLED", "RATE_LIMIT_CONFIG_DIR",
		"MAIL_PROVIDER", "MAIL_SMTP_HOST",
		"LOGGING_LEVEL", "LOGGING_FORMAT",
	}

	for _, env := range envVars {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

// Package config provides configuration management for the edge control-plane.
// Settings come from environment variables (envconfig) with validation and defaults,
// and the per-route rate-limit table is read from YAML files under configs/.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// MinPortNumber is the minimum valid port number.
	MinPortNumber = 1
	// MaxPortNumber is the maximum valid port number.
	MaxPortNumber = 65535
	// MinMagicLinkTTL is the shortest magic-link lifetime accepted.
	MinMagicLinkTTL = time.Minute
	// MinSessionTTL is the shortest session lifetime accepted.
	MinSessionTTL = time.Hour
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverMemory   = "memory"
)

// Mail providers.
const (
	MailProviderRelay  = "relay"
	MailProviderSMTP   = "smtp"
	MailProviderResend = "resend"
	MailProviderLog    = "log"
)

// Config represents the complete configuration for the edge service,
// aggregating all component-specific configurations.
type Config struct {
	// Environment holds environment-specific settings.
	Environment EnvironmentConfig `envconfig:"ENVIRONMENT"`
	// Server contains HTTP server configuration including ports, timeouts, and TLS settings.
	Server ServerConfig `envconfig:"SERVER"`
	// Site describes the public site fronted by this service.
	Site SiteConfig `envconfig:"SITE"`
	// Redis contains Redis connection and pool configuration.
	Redis RedisConfig `envconfig:"REDIS"`
	// Database selects the relational backend.
	Database DatabaseSelection `envconfig:"DATABASE"`
	// PostgresDatabase contains PostgreSQL database configuration.
	PostgresDatabase DatabaseConfig `envconfig:"POSTGRES"`
	// MySQLDatabase contains MySQL database configuration.
	MySQLDatabase MySQLConfig `envconfig:"MYSQL"`
	// Auth contains magic-link and session settings.
	Auth AuthConfig `envconfig:"AUTH"`
	// Cache contains page cache settings.
	Cache CacheConfig `envconfig:"CACHE"`
	// RateLimit contains sliding-window and global limiter settings.
	RateLimit RateLimitConfig `envconfig:"RATE_LIMIT"`
	// Mail contains outbound email settings.
	Mail MailConfig `envconfig:"MAIL"`
	// Security contains CORS and proxy settings.
	Security SecurityConfig `envconfig:"SECURITY"`
	// Logging contains logging configuration.
	Logging LoggingConfig `envconfig:"LOGGING"`
}

type Environment string

const (
	Local   Environment = "LOCAL"
	NonProd Environment = "NONPROD"
	Prod    Environment = "PROD"
)

// EnvironmentConfig holds environment-specific settings.
type EnvironmentConfig struct {
	// Environment indicates the current running environment (LOCAL, NONPROD, PROD).
	Environment Environment `envconfig:"ENV" default:"LOCAL"`
}

// ServerConfig holds HTTP server configuration including network settings,
// timeouts, and TLS certificate paths.
type ServerConfig struct {
	// Port is the HTTP server listening port.
	Port int `envconfig:"PORT"             default:"8080"`
	// Host is the network interface to bind to.
	Host string `envconfig:"HOST"             default:"0.0.0.0"`
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `envconfig:"READ_TIMEOUT"     default:"15s"`
	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT"    default:"30s"`
	// IdleTimeout is the maximum amount of time to wait for keep-alive connections.
	IdleTimeout time.Duration `envconfig:"IDLE_TIMEOUT"     default:"60s"`
	// ShutdownTimeout is the maximum time to wait for graceful server shutdown.
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	// TLSCert is the path to the TLS certificate file for HTTPS.
	TLSCert string `envconfig:"TLS_CERT"`
	// TLSKey is the path to the TLS private key file for HTTPS.
	TLSKey string `envconfig:"TLS_KEY"`
}

// SiteConfig describes the site: where magic links point, which build is live,
// and where uncached pages are rendered.
type SiteConfig struct {
	// BaseURL is the public origin used to build magic-link URLs.
	BaseURL string `envconfig:"BASE_URL"    default:"http://localhost:8080"`
	// BuildID identifies the deployed build; it prefixes every cache version tag.
	BuildID string `envconfig:"BUILD_ID"    default:"dev"`
	// OriginURL is the upstream renderer for pages and CRUD endpoints.
	OriginURL string `envconfig:"ORIGIN_URL"`
	// BlobPathPrefix is the raw blob-storage passthrough prefix, never cached.
	BlobPathPrefix string `envconfig:"BLOB_PATH_PREFIX" default:"/r2"`
}

// RedisConfig contains Redis connection configuration including
// connection pool settings and timeouts.
type RedisConfig struct {
	// URL is the Redis connection URL.
	URL string `envconfig:"URL"           default:"redis://localhost:6379"`
	// Password is the Redis authentication password.
	Password string `envconfig:"PASSWORD"`
	// DB is the Redis database number to use.
	DB int `envconfig:"DB"            default:"0"`
	// MaxRetries is the maximum number of retry attempts for failed operations.
	MaxRetries int `envconfig:"MAX_RETRIES"   default:"3"`
	// PoolSize is the maximum number of socket connections.
	PoolSize int `envconfig:"POOL_SIZE"     default:"10"`
	// MinIdleConn is the minimum number of idle connections.
	MinIdleConn int `envconfig:"MIN_IDLE_CONN" default:"5"`
	// DialTimeout is the timeout for establishing new connections.
	DialTimeout time.Duration `envconfig:"DIAL_TIMEOUT"  default:"5s"`
	// ReadTimeout is the timeout for socket reads.
	ReadTimeout time.Duration `envconfig:"READ_TIMEOUT"  default:"3s"`
	// WriteTimeout is the timeout for socket writes.
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
	// PoolTimeout is the amount of time client waits for connection.
	PoolTimeout time.Duration `envconfig:"POOL_TIMEOUT"  default:"4s"`
	// IdleTimeout is the amount of time after which client closes idle connections.
	IdleTimeout time.Duration `envconfig:"IDLE_TIMEOUT"  default:"300s"`
}

// DatabaseSelection picks which relational backend owns users, sessions and tokens.
type DatabaseSelection struct {
	// Driver is one of postgres, mysql or memory.
	Driver string `envconfig:"DRIVER" default:"postgres"`
	// AutoMigrate creates the auth tables at startup when missing.
	AutoMigrate bool `envconfig:"AUTO_MIGRATE" default:"true"`
}

// DatabaseConfig contains PostgreSQL database connection configuration
// including connection pool settings and health check parameters.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `envconfig:"HOST"                default:"localhost"`
	// Port is the PostgreSQL server port.
	Port int `envconfig:"PORT"                default:"5432"`
	// Database is the PostgreSQL database name.
	Database string `envconfig:"DB"                  default:"harmonie"`
	// Schema is the PostgreSQL schema name.
	Schema string `envconfig:"SCHEMA"              default:"public"`
	// User is the database username.
	User string `envconfig:"USER"`
	// Password is the database password.
	Password string `envconfig:"PASSWORD"`
	// SSLMode is the SSL connection mode (disable, require, verify-ca, verify-full).
	SSLMode string `envconfig:"SSL_MODE"            default:"require"`
	// MaxConn is the maximum number of connections in the pool.
	MaxConn int32 `envconfig:"MAX_CONN"            default:"25"`
	// MinConn is the minimum number of connections in the pool.
	MinConn int32 `envconfig:"MIN_CONN"            default:"2"`
	// MaxConnLifetime is the maximum lifetime of a connection.
	MaxConnLifetime time.Duration `envconfig:"MAX_CONN_LIFETIME"   default:"1h"`
	// MaxConnIdleTime is the maximum idle time for a connection.
	MaxConnIdleTime time.Duration `envconfig:"MAX_CONN_IDLE_TIME"  default:"30m"`
	// HealthCheckPeriod is how often to check database connectivity.
	HealthCheckPeriod time.Duration `envconfig:"HEALTH_CHECK_PERIOD" default:"30s"`
	// ConnectTimeout is the timeout for establishing connections.
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT"     default:"10s"`
}

// MySQLConfig contains MySQL database connection configuration
// including connection pool settings and health check parameters.
type MySQLConfig struct {
	// Host is the MySQL server hostname.
	Host string `envconfig:"HOST"                default:"localhost"`
	// Port is the MySQL server port.
	Port int `envconfig:"PORT"                default:"3306"`
	// Database is the MySQL database name.
	Database string `envconfig:"DB"                  default:"harmonie"`
	// User is the database username.
	User string `envconfig:"USER"`
	// Password is the database password.
	Password string `envconfig:"PASSWORD"`
	// MaxConn is the maximum number of open connections.
	MaxConn int `envconfig:"MAX_CONN"            default:"25"`
	// MinConn is the minimum number of idle connections.
	MinConn int `envconfig:"MIN_CONN"            default:"2"`
	// MaxConnLifetime is the maximum lifetime of a connection.
	MaxConnLifetime time.Duration `envconfig:"MAX_CONN_LIFETIME"   default:"1h"`
	// MaxConnIdleTime is the maximum idle time for a connection.
	MaxConnIdleTime time.Duration `envconfig:"MAX_CONN_IDLE_TIME"  default:"30m"`
	// HealthCheckPeriod is how often to check database connectivity.
	HealthCheckPeriod time.Duration `envconfig:"HEALTH_CHECK_PERIOD" default:"30s"`
	// ConnectTimeout is the timeout for establishing connections.
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT"     default:"10s"`
}

// AuthConfig contains magic-link and session lifetimes plus cookie settings.
type AuthConfig struct {
	// MagicLinkTTL is how long an emailed token stays redeemable.
	MagicLinkTTL time.Duration `envconfig:"MAGIC_LINK_TTL"   default:"15m"`
	// SessionTTL is the lifetime of a session row and its cookie.
	SessionTTL time.Duration `envconfig:"SESSION_TTL"      default:"168h"`
	// SecureCookies sets the Secure attribute on session cookies.
	SecureCookies bool `envconfig:"SECURE_COOKIES"   default:"true"`
	// BootstrapAdminEmail is seeded as an active SUPER_ADMIN at startup when set.
	BootstrapAdminEmail string `envconfig:"BOOTSTRAP_ADMIN_EMAIL"`
	// SeedUsersPath is an optional JSON file of users created at startup when missing.
	SeedUsersPath string `envconfig:"SEED_USERS_PATH"`
	// JanitorInterval enables the background purge of expired rows when positive.
	JanitorInterval time.Duration `envconfig:"JANITOR_INTERVAL" default:"0s"`
}

// CacheConfig controls how rendered pages are stored and advertised.
type CacheConfig struct {
	// Enabled turns the page cache on.
	Enabled bool `envconfig:"ENABLED"                default:"true"`
	// TTL is how long a page entry lives in the store.
	TTL time.Duration `envconfig:"TTL"                    default:"24h"`
	// SharedMaxAge is the s-maxage advertised to CDNs.
	SharedMaxAge time.Duration `envconfig:"SHARED_MAX_AGE"         default:"1h"`
	// StaleWhileRevalidate is the stale-while-revalidate window advertised to CDNs.
	StaleWhileRevalidate time.Duration `envconfig:"STALE_WHILE_REVALIDATE" default:"24h"`
}

// RateLimitConfig contains settings for both limiters. Routes are not read from the
// environment; they come from the YAML files or DefaultRateLimitRoutes.
type RateLimitConfig struct {
	// Enabled turns the per-route sliding-window limiter on.
	Enabled bool `envconfig:"ENABLED"           default:"true"`
	// GlobalRPS is the per-client token bucket rate; zero disables the global guard.
	GlobalRPS int `envconfig:"GLOBAL_RPS"        default:"50"`
	// GlobalBurst is the per-client token bucket burst.
	GlobalBurst int `envconfig:"GLOBAL_BURST"      default:"100"`
	// FallbackToRemoteAddr buckets header-less clients by socket peer instead of "unknown".
	FallbackToRemoteAddr bool `envconfig:"FALLBACK_TO_REMOTE_ADDR" default:"false"`
	// ConfigDir is an extra directory searched for the YAML route table.
	ConfigDir string `envconfig:"CONFIG_DIR"`
	// Routes is the exact-path quota table.
	Routes []RouteLimit `ignored:"true"`
}

// RouteLimit is one entry in the rate-limit table.
type RouteLimit struct {
	Path        string        `mapstructure:"path"`
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

// MailConfig contains outbound email settings.
type MailConfig struct {
	// Provider is one of relay, smtp, resend or log.
	Provider string `envconfig:"PROVIDER"      default:"log"`
	// From is the sender address.
	From string `envconfig:"FROM"          default:"no-reply@amis-harmonie-sucy.fr"`
	// FromName is the sender display name.
	FromName string `envconfig:"FROM_NAME"     default:"Les Amis de l'Harmonie"`
	// SMTPHost is the SMTP server host.
	SMTPHost string `envconfig:"SMTP_HOST"`
	// SMTPPort is the SMTP server port.
	SMTPPort int `envconfig:"SMTP_PORT"     default:"587"`
	// SMTPUsername is the SMTP auth username.
	SMTPUsername string `envconfig:"SMTP_USERNAME"`
	// SMTPPassword is the SMTP auth password.
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
	// ResendAPIKey authenticates against the Resend API.
	ResendAPIKey string `envconfig:"RESEND_API_KEY"`
	// RelayTokenURL is the OAuth2 token endpoint for the relay client.
	RelayTokenURL string `envconfig:"RELAY_TOKEN_URL"`
	// RelayClientID is the OAuth2 client id used against the relay.
	RelayClientID string `envconfig:"RELAY_CLIENT_ID"`
	// RelayClientSecret is the OAuth2 client secret used against the relay.
	RelayClientSecret string `envconfig:"RELAY_CLIENT_SECRET"`
	// Timeout bounds each delivery attempt.
	Timeout time.Duration `envconfig:"TIMEOUT"       default:"10s"`
}

// SecurityConfig contains CORS and proxy settings.
type SecurityConfig struct {
	// AllowedOrigins are the CORS allowed origins in addition to the site itself.
	// "*" is only honoured when AllowCredentials is off.
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`
	// AllowedMethods are the CORS allowed HTTP methods.
	AllowedMethods []string `envconfig:"ALLOWED_METHODS"   default:"GET,POST,PUT,DELETE,OPTIONS"`
	// AllowedHeaders are the CORS allowed headers.
	AllowedHeaders []string `envconfig:"ALLOWED_HEADERS"   default:"*"`
	// AllowCredentials determines if CORS allows credentials.
	AllowCredentials bool `envconfig:"ALLOW_CREDENTIALS" default:"true"`
	// MaxAge is the CORS preflight cache duration in seconds.
	MaxAge int `envconfig:"MAX_AGE"           default:"86400"`
	// TrustedProxies are the proxy addresses allowed to set forwarding headers.
	// When empty, forwarding headers are trusted from any peer.
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES"`
}

// LoggingConfig contains logging configuration including
// log level, format, and output destination.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `envconfig:"LEVEL"              default:"info"`
	// Format is the log output format (json, text).
	Format string `envconfig:"FORMAT"             default:"json"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `envconfig:"OUTPUT"             default:"stdout"`
	// ConsoleFormat is the format for console output (text, json).
	ConsoleFormat string `envconfig:"CONSOLE_FORMAT"     default:"text"`
	// FileFormat is the format for file output (text, json).
	FileFormat string `envconfig:"FILE_FORMAT"        default:"json"`
	// FilePath is the path to the log file for dual output.
	FilePath string `envconfig:"FILE_PATH"`
	// EnableDualOutput enables both console and file logging simultaneously.
	EnableDualOutput bool `envconfig:"ENABLE_DUAL_OUTPUT" default:"false"`
}

// Load reads configuration from environment variables, loads the rate-limit
// route table and returns a validated Config instance.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	routes, err := loadRateLimitRoutes(cfg.Environment.Environment, cfg.RateLimit.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load rate limit routes: %w", err)
	}
	cfg.RateLimit.Routes = routes

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// DefaultRateLimitRoutes returns the built-in quota table used when no YAML
// file provides one.
func DefaultRateLimitRoutes() []RouteLimit {
	return []RouteLimit{
		{Path: "/api/auth/magic-link", MaxRequests: 5, Window: 15 * time.Minute},
		{Path: "/api/musician/auth/magic-link", MaxRequests: 5, Window: 15 * time.Minute},
		{Path: "/api/contact", MaxRequests: 3, Window: time.Hour},
		{Path: "/api/guestbook", MaxRequests: 3, Window: time.Hour},
		{Path: "/api/admin/upload", MaxRequests: 10, Window: time.Minute},
	}
}

// Validate checks configuration values for consistency.
func (c *Config) Validate() error {
	if c.Server.Port < MinPortNumber || c.Server.Port > MaxPortNumber {
		return errors.New("server port must be between 1 and 65535")
	}

	if c.Site.BuildID == "" {
		return errors.New("site build id is required")
	}

	base, err := url.Parse(c.Site.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("site base URL must be absolute: %q", c.Site.BaseURL)
	}

	if c.Site.OriginURL != "" {
		origin, err := url.Parse(c.Site.OriginURL)
		if err != nil || origin.Scheme == "" || origin.Host == "" {
			return fmt.Errorf("site origin URL must be absolute: %q", c.Site.OriginURL)
		}
	}

	if c.Security.AllowCredentials && slices.Contains(c.Security.AllowedOrigins, "*") {
		return errors.New("CORS wildcard origin cannot be combined with credentials")
	}

	if c.Auth.MagicLinkTTL < MinMagicLinkTTL {
		return errors.New("magic link TTL must be at least 1 minute")
	}

	if c.Auth.SessionTTL < MinSessionTTL {
		return errors.New("session TTL must be at least 1 hour")
	}

	switch c.Database.Driver {
	case DriverPostgres, DriverMySQL:
	case DriverMemory:
		if c.Environment.Environment == Prod {
			return errors.New("memory database driver is not allowed in PROD")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	switch c.Mail.Provider {
	case MailProviderLog:
		if c.Environment.Environment == Prod {
			return errors.New("log mail provider is not allowed in PROD")
		}
	case MailProviderRelay:
		if c.Mail.RelayClientID == "" || c.Mail.RelayClientSecret == "" {
			return errors.New("relay client id and secret are required for the relay mail provider")
		}
	case MailProviderSMTP:
		if c.Mail.SMTPHost == "" {
			return errors.New("SMTP host is required for the smtp mail provider")
		}
	case MailProviderResend:
		if c.Mail.ResendAPIKey == "" {
			return errors.New("Resend API key is required for the resend mail provider")
		}
	default:
		return fmt.Errorf("unsupported mail provider: %s", c.Mail.Provider)
	}

	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return errors.New("cache TTL must be positive")
	}

	seen := make(map[string]bool, len(c.RateLimit.Routes))
	for _, route := range c.RateLimit.Routes {
		if !strings.HasPrefix(route.Path, "/") {
			return fmt.Errorf("rate limit route must be an absolute path: %q", route.Path)
		}
		if route.MaxRequests <= 0 || route.Window <= 0 {
			return fmt.Errorf("rate limit route %s needs a positive quota and window", route.Path)
		}
		if seen[route.Path] {
			return fmt.Errorf("duplicate rate limit route: %s", route.Path)
		}
		seen[route.Path] = true
	}

	return nil
}

// ServerAddr returns the formatted server address string in host:port format.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// IsTLSEnabled returns true if both TLS certificate and key paths are configured.
func (c *Config) IsTLSEnabled() bool {
	return c.Server.TLSCert != "" && c.Server.TLSKey != ""
}

// PostgresDatabaseDSN returns the PostgreSQL connection string (Data Source Name).
func (c *Config) PostgresDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s search_path=%s",
		c.PostgresDatabase.Host,
		c.PostgresDatabase.Port,
		c.PostgresDatabase.Database,
		c.PostgresDatabase.User,
		c.PostgresDatabase.Password,
		c.PostgresDatabase.SSLMode,
		c.PostgresDatabase.Schema,
	)
}

// IsPostgresDatabaseConfigured returns true if PostgreSQL database user and password are configured.
func (c *Config) IsPostgresDatabaseConfigured() bool {
	return c.PostgresDatabase.User != "" && c.PostgresDatabase.Password != ""
}

// IsMySQLDatabaseConfigured returns true if MySQL database user and password are configured.
func (c *Config) IsMySQLDatabaseConfigured() bool {
	return c.MySQLDatabase.User != "" && c.MySQLDatabase.Password != ""
}

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App         AppConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Log         LogConfig
	HTTP        HTTPConfig
	Marketplace MarketplaceConfig
	RateLimit   RateLimitConfig
	Retry       RetryConfig
	Sync        SyncConfig
	Events      EventsConfig
	Archive     ArchiveConfig
	Telemetry   TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres or sqlite
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	SQLitePath      string // file path or ":memory:" when Driver is sqlite
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings. When disabled, idempotency and
// key locks stay in process memory.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string
	RequestTimeout time.Duration // per-request context deadline; synchronous sync runs need a generous value
	// Inbound API protection
	CORSAllowOrigins  []string
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// MarketplaceAccount holds the credentials of one seller account
type MarketplaceAccount struct {
	ID        string `mapstructure:"id"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

// MarketplaceConfig holds the remote API settings
type MarketplaceConfig struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	Accounts  []MarketplaceAccount
}

// RateLimitConfig holds the client-side request budgets
type RateLimitConfig struct {
	Scope            string // global or account
	OrdersPerSecond  int
	OrdersPerMinute  int
	DefaultPerSecond int
	DefaultPerMinute int
	JitterMax        time.Duration
	Pace             bool
}

// RetryConfig holds the remote call retry policy
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

// SyncConfig holds orchestrator settings
type SyncConfig struct {
	DefaultStrategy       string
	ChunkSize             int
	MaxElementsPerRequest int
	ItemsPerPage          int
	StuckAfter            time.Duration
	Retention             time.Duration
	HistoryLimit          int
	Workers               int
	QueueSize             int
	MaintenanceInterval   time.Duration
	NotificationTTL       time.Duration
}

// EventsConfig holds the RabbitMQ publisher settings
type EventsConfig struct {
	Enabled  bool
	URL      string
	Exchange string
}

// ArchiveConfig holds the S3 archive settings for expired sync runs
type ArchiveConfig struct {
	Enabled      bool
	Bucket       string
	Region       string
	Endpoint     string
	Prefix       string
	UsePathStyle bool
	// AccessKey and SecretKey are optional; the default AWS credential chain is used when empty
	AccessKey string
	SecretKey string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsEnabled    bool    // Export metrics through the collector
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Log full SQL statements (dev only)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings (default: 200ms)
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with MSYNC_ prefix (e.g., MSYNC_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	return LoadFrom(v)
}

// LoadFrom builds the configuration from an already populated viper instance
func LoadFrom(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("MSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var accounts []MarketplaceAccount
	if err := v.UnmarshalKey("marketplace.accounts", &accounts); err != nil {
		return nil, fmt.Errorf("error reading marketplace.accounts: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			SQLitePath:      v.GetString("database.sqlite_path"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
			RequestTimeout: v.GetDuration("http.request_timeout"),

			CORSAllowOrigins:  v.GetStringSlice("http.cors_allow_origins"),
			RateLimitEnabled:  v.GetBool("http.rate_limit_enabled"),
			RateLimitRequests: v.GetInt("http.rate_limit_requests"),
			RateLimitWindow:   v.GetDuration("http.rate_limit_window"),
		},
		Marketplace: MarketplaceConfig{
			BaseURL:   v.GetString("marketplace.base_url"),
			Timeout:   v.GetDuration("marketplace.timeout"),
			UserAgent: v.GetString("marketplace.user_agent"),
			Accounts:  accounts,
		},
		RateLimit: RateLimitConfig{
			Scope:            v.GetString("ratelimit.scope"),
			OrdersPerSecond:  v.GetInt("ratelimit.orders_per_second"),
			OrdersPerMinute:  v.GetInt("ratelimit.orders_per_minute"),
			DefaultPerSecond: v.GetInt("ratelimit.default_per_second"),
			DefaultPerMinute: v.GetInt("ratelimit.default_per_minute"),
			JitterMax:        v.GetDuration("ratelimit.jitter_max"),
			Pace:             v.GetBool("ratelimit.pace"),
		},
		Retry: RetryConfig{
			MaxAttempts: v.GetInt("retry.max_attempts"),
			BaseDelay:   v.GetDuration("retry.base_delay"),
			MaxDelay:    v.GetDuration("retry.max_delay"),
			Jitter:      v.GetFloat64("retry.jitter"),
		},
		Sync: SyncConfig{
			DefaultStrategy:       v.GetString("sync.default_strategy"),
			ChunkSize:             v.GetInt("sync.chunk_size"),
			MaxElementsPerRequest: v.GetInt("sync.max_elements_per_request"),
			ItemsPerPage:          v.GetInt("sync.items_per_page"),
			StuckAfter:            v.GetDuration("sync.stuck_after"),
			Retention:             v.GetDuration("sync.retention"),
			HistoryLimit:          v.GetInt("sync.history_limit"),
			Workers:               v.GetInt("sync.workers"),
			QueueSize:             v.GetInt("sync.queue_size"),
			MaintenanceInterval:   v.GetDuration("sync.maintenance_interval"),
			NotificationTTL:       v.GetDuration("sync.notification_ttl"),
		},
		Events: EventsConfig{
			Enabled:  v.GetBool("events.enabled"),
			URL:      v.GetString("events.url"),
			Exchange: v.GetString("events.exchange"),
		},
		Archive: ArchiveConfig{
			Enabled:      v.GetBool("archive.enabled"),
			Bucket:       v.GetString("archive.bucket"),
			Region:       v.GetString("archive.region"),
			Endpoint:     v.GetString("archive.endpoint"),
			Prefix:       v.GetString("archive.prefix"),
			UsePathStyle: v.GetBool("archive.use_path_style"),
			AccessKey:    v.GetString("archive.access_key"),
			SecretKey:    v.GetString("archive.secret_key"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "marketsync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "marketsync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "marketsync.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 10 << 20 // 10MB
	}
	if cfg.HTTP.RequestTimeout == 0 {
		cfg.HTTP.RequestTimeout = 10 * time.Minute
	}
	if len(cfg.HTTP.CORSAllowOrigins) == 0 {
		cfg.HTTP.CORSAllowOrigins = []string{"*"}
	}
	if cfg.HTTP.RateLimitRequests == 0 {
		cfg.HTTP.RateLimitRequests = 100
	}
	if cfg.HTTP.RateLimitWindow == 0 {
		cfg.HTTP.RateLimitWindow = time.Minute
	}
	if cfg.Marketplace.Timeout == 0 {
		cfg.Marketplace.Timeout = 30 * time.Second
	}
	if cfg.RateLimit.Scope == "" {
		cfg.RateLimit.Scope = "global"
	}
	if cfg.RateLimit.OrdersPerSecond == 0 {
		cfg.RateLimit.OrdersPerSecond = 12
	}
	if cfg.RateLimit.OrdersPerMinute == 0 {
		cfg.RateLimit.OrdersPerMinute = 720
	}
	if cfg.RateLimit.DefaultPerSecond == 0 {
		cfg.RateLimit.DefaultPerSecond = 3
	}
	if cfg.RateLimit.DefaultPerMinute == 0 {
		cfg.RateLimit.DefaultPerMinute = 180
	}
	if cfg.RateLimit.JitterMax == 0 {
		cfg.RateLimit.JitterMax = 500 * time.Millisecond
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = time.Second
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 30 * time.Second
	}
	if cfg.Retry.Jitter == 0 {
		cfg.Retry.Jitter = 0.2
	}
	if cfg.Sync.DefaultStrategy == "" {
		cfg.Sync.DefaultStrategy = "remote_priority"
	}
	if cfg.Sync.ChunkSize == 0 {
		cfg.Sync.ChunkSize = 50
	}
	if cfg.Sync.MaxElementsPerRequest == 0 {
		cfg.Sync.MaxElementsPerRequest = 4000
	}
	if cfg.Sync.ItemsPerPage == 0 {
		cfg.Sync.ItemsPerPage = 100
	}
	if cfg.Sync.StuckAfter == 0 {
		cfg.Sync.StuckAfter = 30 * time.Minute
	}
	if cfg.Sync.Retention == 0 {
		cfg.Sync.Retention = 30 * 24 * time.Hour
	}
	if cfg.Sync.HistoryLimit == 0 {
		cfg.Sync.HistoryLimit = 20
	}
	if cfg.Sync.Workers == 0 {
		cfg.Sync.Workers = 2
	}
	if cfg.Sync.QueueSize == 0 {
		cfg.Sync.QueueSize = 16
	}
	if cfg.Sync.MaintenanceInterval == 0 {
		cfg.Sync.MaintenanceInterval = 5 * time.Minute
	}
	if cfg.Sync.NotificationTTL == 0 {
		cfg.Sync.NotificationTTL = 72 * time.Hour
	}
	if cfg.Events.Exchange == "" {
		cfg.Events.Exchange = "marketsync.events"
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "sync-runs/"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "marketsync"
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if len(c.Marketplace.Accounts) > 2 {
		return fmt.Errorf("marketplace.accounts supports at most 2 accounts, got %d", len(c.Marketplace.Accounts))
	}
	seen := make(map[string]bool, len(c.Marketplace.Accounts))
	for i, a := range c.Marketplace.Accounts {
		if a.ID == "" {
			return fmt.Errorf("marketplace.accounts[%d].id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("marketplace.accounts has duplicate id %q", a.ID)
		}
		seen[a.ID] = true
	}

	if c.RateLimit.Scope != "global" && c.RateLimit.Scope != "account" {
		return fmt.Errorf("ratelimit.scope must be global or account, got %q", c.RateLimit.Scope)
	}
	if c.RateLimit.OrdersPerSecond > c.RateLimit.OrdersPerMinute {
		return fmt.Errorf("ratelimit.orders_per_second cannot exceed ratelimit.orders_per_minute")
	}
	if c.RateLimit.DefaultPerSecond > c.RateLimit.DefaultPerMinute {
		return fmt.Errorf("ratelimit.default_per_second cannot exceed ratelimit.default_per_minute")
	}

	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		return fmt.Errorf("retry.jitter must be in [0, 1), got %f", c.Retry.Jitter)
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay cannot be shorter than retry.base_delay")
	}

	if c.Sync.ItemsPerPage < 1 || c.Sync.ItemsPerPage > 100 {
		return fmt.Errorf("sync.items_per_page must be between 1 and 100, got %d", c.Sync.ItemsPerPage)
	}
	if c.Sync.ChunkSize < 10 || c.Sync.ChunkSize > 50 {
		return fmt.Errorf("sync.chunk_size must be between 10 and 50, got %d", c.Sync.ChunkSize)
	}
	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be positive")
	}

	if c.Events.Enabled && c.Events.URL == "" {
		return fmt.Errorf("events.url is required when events are enabled")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required when the archive is enabled")
	}

	if c.App.Env == "production" {
		if c.Database.Driver == "postgres" {
			if c.Database.Password == "" {
				return fmt.Errorf("database.password is required in production")
			}
			if c.Database.SSLMode == "disable" {
				return fmt.Errorf("database.sslmode cannot be 'disable' in production")
			}
		}
		if len(c.Marketplace.Accounts) == 0 {
			return fmt.Errorf("marketplace.accounts is required in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values.
// For sqlite it is the database file path.
func (d *DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.SQLitePath
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// MigrationURL returns the golang-migrate database URL
func (d *DatabaseConfig) MigrationURL() string {
	if d.Driver == "sqlite" {
		return "sqlite3://" + d.SQLitePath
	}
	return d.DSN()
}

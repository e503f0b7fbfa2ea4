package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Provider  ProviderConfig  `yaml:"provider"`
	Push      PushConfig      `yaml:"push"`
	Store     StoreConfig     `yaml:"store"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	CORSOrigins  []string      `yaml:"cors_origins"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration for the audit log
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	CommandTopic  string        `yaml:"command_topic"`
	EventTopic    string        `yaml:"event_topic"`
	GroupID       string        `yaml:"group_id"`
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	BatchTimeout  time.Duration `yaml:"batch_timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// SchedulerConfig controls polling cycles
//
// CycleLock selects how the single-writer-per-game requirement is met: when
// true each cycle holds a Redis lock and overlapping cycles are skipped; when
// false the deployment must guarantee that invocations never overlap
type SchedulerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Interval        time.Duration `yaml:"interval"`
	LeadTime        time.Duration `yaml:"lead_time"`
	TrailTime       time.Duration `yaml:"trail_time"`
	CycleLock       bool          `yaml:"cycle_lock"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
	GameConcurrency int           `yaml:"game_concurrency"`
	Leagues         []string      `yaml:"leagues"`
}

// ProviderConfig holds scores provider settings
type ProviderConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
}

// PushConfig holds Web Push settings
type PushConfig struct {
	VAPIDPublicKey  string        `yaml:"vapid_public_key"`
	VAPIDPrivateKey string        `yaml:"vapid_private_key"`
	Subscriber      string        `yaml:"subscriber"`
	TTL             int           `yaml:"ttl"`
	Timeout         time.Duration `yaml:"timeout"`
	ClickURLBase    string        `yaml:"click_url_base"`
	Concurrency     int           `yaml:"concurrency"`
}

// StoreConfig holds record lifetimes and per-operation timeouts
type StoreConfig struct {
	SubscriptionTTL time.Duration `yaml:"subscription_ttl"`
	GameStateTTL    time.Duration `yaml:"game_state_ttl"`
	Timeout         time.Duration `yaml:"timeout"`
}

// DedupConfig controls the optional per-event idempotency check
type DedupConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	cfg := Config{
		Scheduler: SchedulerConfig{Enabled: true, CycleLock: true},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 50
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 5
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 10
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 1
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.CommandTopic == "" {
		c.Kafka.CommandTopic = "game-subscriptions"
	}
	if c.Kafka.EventTopic == "" {
		c.Kafka.EventTopic = "game-notification-events"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "game-alerts"
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = 50
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = 1 * time.Second
	}
	if c.Kafka.RetryAttempts == 0 {
		c.Kafka.RetryAttempts = 3
	}
	if c.Kafka.RetryDelay == 0 {
		c.Kafka.RetryDelay = 1 * time.Second
	}

	// Scheduler defaults
	if c.Scheduler.Interval == 0 {
		c.Scheduler.Interval = 1 * time.Minute
	}
	if c.Scheduler.LeadTime == 0 {
		c.Scheduler.LeadTime = 30 * time.Minute
	}
	if c.Scheduler.TrailTime == 0 {
		c.Scheduler.TrailTime = 1 * time.Hour
	}
	if c.Scheduler.LockTTL == 0 {
		c.Scheduler.LockTTL = 5 * time.Minute
	}
	if c.Scheduler.GameConcurrency == 0 {
		c.Scheduler.GameConcurrency = 8
	}

	// Provider defaults
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = "https://site.api.espn.com/apis/site/v2/sports"
	}
	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = 10 * time.Second
	}
	if c.Provider.RequestsPerMinute == 0 {
		c.Provider.RequestsPerMinute = 120
	}
	if c.Provider.RetryAttempts == 0 {
		c.Provider.RetryAttempts = 2
	}
	if c.Provider.RetryBackoff == 0 {
		c.Provider.RetryBackoff = 250 * time.Millisecond
	}

	// Push defaults
	if c.Push.Subscriber == "" {
		c.Push.Subscriber = "mailto:alerts@example.com"
	}
	if c.Push.TTL == 0 {
		c.Push.TTL = 300
	}
	if c.Push.Timeout == 0 {
		c.Push.Timeout = 10 * time.Second
	}
	if c.Push.Concurrency == 0 {
		c.Push.Concurrency = 16
	}

	// Store defaults
	if c.Store.SubscriptionTTL == 0 {
		c.Store.SubscriptionTTL = 30 * 24 * time.Hour
	}
	if c.Store.GameStateTTL == 0 {
		c.Store.GameStateTTL = 6 * time.Hour
	}
	if c.Store.Timeout == 0 {
		c.Store.Timeout = 3 * time.Second
	}

	// Dedup defaults
	if c.Dedup.TTL == 0 {
		c.Dedup.TTL = 24 * time.Hour
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Scheduler.Enabled = true
	cfg.Scheduler.CycleLock = true
	return cfg
}

// SlogLevel maps the configured level name to a slog level
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package config

// Package config provides the configuration structures of querydeck and their defaults.

import "time"

// EmbeddedConfig holds the raw bytes of the YAML configuration, typically embedded in main.go.
type EmbeddedConfig []byte

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
	// Format selects the encoder: "console" or "json".
	Format string `yaml:"format"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the default timezone for schedules that do not name one.
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// VaultConfig holds the credential vault key material.
type VaultConfig struct {
	// Secret is the passphrase the encryption key is derived from.
	Secret string `yaml:"secret"`
	// Salt is mixed into key derivation for the current ciphertext format.
	Salt string `yaml:"salt"`
}

// StoreConfig selects the metadata store backend.
type StoreConfig struct {
	// Type is one of "mysql", "postgres", "sqlite" or "memory".
	Type string `yaml:"type"`
	// DSN is the driver specific data source name.
	DSN string `yaml:"dsn"`
	// AutoMigrate applies embedded migrations at startup.
	AutoMigrate bool `yaml:"auto_migrate"`
}

// PoolConfig holds defaults for target database connection pools.
type PoolConfig struct {
	ConnectionLimit  int `yaml:"connection_limit"`   // ConnectionLimit is the per-pool connection limit (clamped to 1..20).
	ConnectTimeoutMs int `yaml:"connect_timeout_ms"` // ConnectTimeoutMs bounds establishing a connection.
	AcquireTimeoutMs int `yaml:"acquire_timeout_ms"` // AcquireTimeoutMs bounds waiting for a pooled connection.
	QueueLimit       int `yaml:"queue_limit"`        // QueueLimit caps waiting acquirers; 0 means unbounded.
	QueryTimeoutMs   int `yaml:"query_timeout_ms"`   // QueryTimeoutMs is the session-level statement limit.
}

// RetryConfig holds the backoff used for transient connect failures.
type RetryConfig struct {
	MaxAttempts     int     `yaml:"max_attempts"`        // MaxAttempts is the number of connect attempts.
	InitialInterval int     `yaml:"initial_interval_ms"` // InitialInterval is the first backoff delay in milliseconds.
	MaxInterval     int     `yaml:"max_interval_ms"`     // MaxInterval caps the backoff delay in milliseconds.
	Factor          float64 `yaml:"factor"`              // Factor multiplies the delay after each attempt.
}

// ExecutorConfig tunes the scheduled-query executor.
type ExecutorConfig struct {
	// Concurrency is the number of due schedules processed in parallel per invocation.
	Concurrency int `yaml:"concurrency"`
	// SampleRows is the number of result rows embedded in notifications.
	SampleRows int `yaml:"sample_rows"`
}

// RetentionConfig tunes the retention sweeper.
type RetentionConfig struct {
	DefaultDays int `yaml:"default_days"`
	BatchSize   int `yaml:"batch_size"`
}

// SchemaConfig tunes the schema snapshotter.
type SchemaConfig struct {
	// PageSize is the number of tables captured per page.
	PageSize int `yaml:"page_size"`
}

// SMTPConfig holds the outbound mail relay settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// NotificationConfig holds notification delivery settings.
type NotificationConfig struct {
	RatePerSecond    float64    `yaml:"rate_per_second"`
	Burst            int        `yaml:"burst"`
	WebhookTimeoutMs int        `yaml:"webhook_timeout_ms"`
	PushEndpoint     string     `yaml:"push_endpoint"`
	SMTP             SMTPConfig `yaml:"smtp"`
}

// TelemetryConfig holds OpenTelemetry exporter settings. An empty endpoint disables export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	// Protocol is "grpc" or "http".
	Protocol    string `yaml:"protocol"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// ServerConfig holds the trigger server settings.
type ServerConfig struct {
	Listen string `yaml:"listen"`
	// Token, when set, must be presented as a bearer token by trigger callers.
	Token string `yaml:"token"`
}

// QueryDeckConfig holds everything under the "querydeck" key.
type QueryDeckConfig struct {
	System       SystemConfig       `yaml:"system"`
	Vault        VaultConfig        `yaml:"vault"`
	Store        StoreConfig        `yaml:"store"`
	Pool         PoolConfig         `yaml:"pool"`
	Retry        RetryConfig        `yaml:"retry"`
	Executor     ExecutorConfig     `yaml:"executor"`
	Retention    RetentionConfig    `yaml:"retention"`
	Schema       SchemaConfig       `yaml:"schema"`
	Notification NotificationConfig `yaml:"notification"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Server       ServerConfig       `yaml:"server"`
	// Connections holds named target connections, decoded with DecodeConnections.
	Connections map[string]interface{} `yaml:"connections"`
}

// Config is the root structure for the application configuration.
type Config struct {
	QueryDeck QueryDeckConfig `yaml:"querydeck"`
	// EmbeddedConfig holds the source bytes and is never read from YAML.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		QueryDeck: QueryDeckConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO", Format: "console"},
			},
			Store: StoreConfig{Type: "memory"},
			Pool: PoolConfig{
				ConnectionLimit:  5,
				ConnectTimeoutMs: 30000,
				AcquireTimeoutMs: 30000,
				QueueLimit:       0,
				QueryTimeoutMs:   60000,
			},
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: 1000,
				MaxInterval:     10000,
				Factor:          2.0,
			},
			Executor:  ExecutorConfig{Concurrency: 4, SampleRows: 3},
			Retention: RetentionConfig{DefaultDays: 30, BatchSize: 500},
			Schema:    SchemaConfig{PageSize: 100},
			Notification: NotificationConfig{
				RatePerSecond:    5,
				Burst:            10,
				WebhookTimeoutMs: 10000,
			},
			Telemetry: TelemetryConfig{Protocol: "grpc", ServiceName: "querydeck"},
			Server:    ServerConfig{Listen: ":8080"},
			Connections: map[string]interface{}{},
		},
	}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// ConnectTimeout returns the pool connect timeout as a duration.
func (p PoolConfig) ConnectTimeout() time.Duration { return ms(p.ConnectTimeoutMs) }

// AcquireTimeout returns the pool acquire timeout as a duration.
func (p PoolConfig) AcquireTimeout() time.Duration { return ms(p.AcquireTimeoutMs) }

// QueryTimeout returns the session query timeout as a duration.
func (p PoolConfig) QueryTimeout() time.Duration { return ms(p.QueryTimeoutMs) }

// WebhookTimeout returns the webhook request timeout as a duration.
func (n NotificationConfig) WebhookTimeout() time.Duration { return ms(n.WebhookTimeoutMs) }

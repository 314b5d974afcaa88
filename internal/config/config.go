package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Callback CallbackConfig `mapstructure:"callback"`
	Email    EmailConfig    `mapstructure:"email"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	TLS  struct {
		Enabled  bool   `mapstructure:"enabled"`
		CertFile string `mapstructure:"cert_file"`
		KeyFile  string `mapstructure:"key_file"`
	} `mapstructure:"tls"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AuthConfig holds service-token authentication configuration.
// Submission endpoints are called by trusted internal services (route
// handlers, cron triggers), not end users, so a shared-secret JWT is enough.
type AuthConfig struct {
	// JWTSecret signs and verifies service tokens (HS256)
	JWTSecret string `mapstructure:"jwt_secret"`
	// Issuer is the expected "iss" claim on service tokens
	Issuer       string             `mapstructure:"issuer"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	DefaultLimit  int    `mapstructure:"default_limit"`
	DefaultWindow string `mapstructure:"default_window"`
}

// DeliveryConfig holds delivery engine configuration
type DeliveryConfig struct {
	// BatchSize is the number of recipients per batch in a bulk send
	BatchSize int `mapstructure:"batch_size"`
	// ProviderConcurrency bounds concurrent sends against one provider
	ProviderConcurrency int `mapstructure:"provider_concurrency"`
	// WorkerCount is the number of workers polling the task queue
	WorkerCount int `mapstructure:"worker_count"`
	// PollInterval is how often an idle worker polls for work
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// LockLease is how long a claimed task stays locked without a heartbeat
	LockLease time.Duration `mapstructure:"lock_lease"`
	// StuckPendingGrace is how long a DeliveryIntent may stay pending
	// before the sweep treats it as a crash leftover
	StuckPendingGrace time.Duration `mapstructure:"stuck_pending_grace"`
	// SweepSchedule is the cron expression for the stuck-intent sweep
	SweepSchedule string `mapstructure:"sweep_schedule"`
	// SweepRequeue re-enqueues stuck intents in idempotent-safe categories
	SweepRequeue bool `mapstructure:"sweep_requeue"`
}

// RetryConfig holds the per-class activity retry policies
type RetryConfig struct {
	Send      RetryPolicyConfig `mapstructure:"send"`
	Reconcile RetryPolicyConfig `mapstructure:"reconcile"`
}

// RetryPolicyConfig holds one activity retry policy
type RetryPolicyConfig struct {
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Factor         float64       `mapstructure:"factor"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	// StartToClose is the per-attempt timeout
	StartToClose time.Duration `mapstructure:"start_to_close"`
}

// CallbackConfig holds the internal callback channel configuration
type CallbackConfig struct {
	// Secret is the shared HMAC secret for internal callbacks
	Secret string `mapstructure:"secret"`
	// ServiceName is sent as the x-internal-service header
	ServiceName string `mapstructure:"service_name"`
	// BaseURL is where activities reach the owning application
	BaseURL string `mapstructure:"base_url"`
	// MaxSkew is the maximum accepted timestamp age on incoming callbacks
	MaxSkew time.Duration `mapstructure:"max_skew"`
}

// EmailConfig holds outbound email provider configuration
type EmailConfig struct {
	// Primary is the provider tried first: "gmail" or "smtp"
	Primary string `mapstructure:"primary"`
	// Secondary is the fallback provider, empty to disable failover
	Secondary string           `mapstructure:"secondary"`
	Gmail     GmailEmailConfig `mapstructure:"gmail"`
	SMTP      SMTPEmailConfig  `mapstructure:"smtp"`
}

// GmailEmailConfig holds Gmail API configuration
type GmailEmailConfig struct {
	// CredentialsJSON is the service account credentials JSON content
	CredentialsJSON string `mapstructure:"credentials_json"`
	// ClientID for OAuth2 token-based auth (alternative to service account)
	ClientID string `mapstructure:"client_id"`
	// ClientSecret for OAuth2 token-based auth
	ClientSecret string `mapstructure:"client_secret"`
	// RefreshToken for OAuth2 token-based auth
	RefreshToken string `mapstructure:"refresh_token"`
	// SenderAddress is the default "From" email address
	SenderAddress string `mapstructure:"sender_address"`
	// SenderName is the display name for the sender
	SenderName string `mapstructure:"sender_name"`
}

// SMTPEmailConfig holds SMTP relay configuration
type SMTPEmailConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	SenderAddress string `mapstructure:"sender_address"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	// Set config file name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/pigeonpost")

	// Set defaults
	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	// Bind environment variables
	v.SetEnvPrefix("PIGEONPOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.tls.enabled", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "pigeonpost")
	v.SetDefault("database.user", "pigeonpost")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "pigeonpost")
	v.SetDefault("auth.rate_limiting.enabled", true)
	v.SetDefault("auth.rate_limiting.default_limit", 100)
	v.SetDefault("auth.rate_limiting.default_window", "1m")

	// Delivery defaults
	v.SetDefault("delivery.batch_size", 50)
	v.SetDefault("delivery.provider_concurrency", 5)
	v.SetDefault("delivery.worker_count", 4)
	v.SetDefault("delivery.poll_interval", "1s")
	v.SetDefault("delivery.lock_lease", "5m")
	v.SetDefault("delivery.stuck_pending_grace", "15m")
	v.SetDefault("delivery.sweep_schedule", "*/10 * * * *")
	v.SetDefault("delivery.sweep_requeue", false)

	// Retry policy defaults: short for sends, long for reconciliation
	// (losing a reconciliation callback is worse than losing time)
	v.SetDefault("retry.send.initial_backoff", "1s")
	v.SetDefault("retry.send.max_backoff", "10s")
	v.SetDefault("retry.send.factor", 2.0)
	v.SetDefault("retry.send.max_attempts", 3)
	v.SetDefault("retry.send.start_to_close", "30s")

	v.SetDefault("retry.reconcile.initial_backoff", "2s")
	v.SetDefault("retry.reconcile.max_backoff", "5m")
	v.SetDefault("retry.reconcile.factor", 2.0)
	v.SetDefault("retry.reconcile.max_attempts", 8)
	v.SetDefault("retry.reconcile.start_to_close", "15s")

	// Callback defaults
	v.SetDefault("callback.secret", "")
	v.SetDefault("callback.service_name", "pigeonpost-worker")
	v.SetDefault("callback.base_url", "http://localhost:8080")
	v.SetDefault("callback.max_skew", "5m")

	// Email defaults
	v.SetDefault("email.primary", "gmail")
	v.SetDefault("email.secondary", "smtp")
	v.SetDefault("email.gmail.sender_address", "")
	v.SetDefault("email.gmail.sender_name", "Pigeonpost")
	v.SetDefault("email.smtp.host", "localhost")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.sender_address", "")
}

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App          AppConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Log          LogConfig
	HTTP         HTTPConfig
	Settlement   SettlementConfig
	Circuit      CircuitConfig
	Fraud        FraudConfig
	Validation   ValidationConfig
	Payment      PaymentConfig
	Notification NotificationConfig
	Storage      StorageConfig
	Lock         LockConfig
	Telemetry    TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
	// Sampling throttles repeated messages; see logger.SamplingConfig
	Sampling bool
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings; an empty Host disables Redis
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	MaxBatchSize   int     // largest claim id list accepted by the batch endpoint
	BatchRateLimit float64 // batch requests per second per client, 0 = unlimited
	BatchRateBurst int
}

// SettlementConfig controls the settlement client and bulk processor
type SettlementConfig struct {
	Endpoint       string        // circuit breaker key for the payment capability
	MaxRetries     int           // retries after the first attempt
	BaseBackoff    time.Duration // first retry delay, doubled per retry
	AttemptTimeout time.Duration // per-call timeout
	RateLimit      float64       // outbound charges per second, 0 = unlimited
	RateBurst      int
	MaxWorkers     int           // bulk worker pool cap
	BatchTimeout   time.Duration // overall bulk deadline, 0 = none
	AutoSettle     bool          // settle auto-approved claims in the same request
}

// CircuitConfig holds circuit breaker thresholds
type CircuitConfig struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
}

// FraudConfig holds fraud rule weights
type FraudConfig struct {
	RecentClaimWindowDays int
	RecentClaimWeight     float64
	AmountMultiple        float64
	AmountOutlierWeight   float64
	NewPolicyDays         int
	NewPolicyWeight       float64
	DuplicateAmountWeight float64
	FlagThreshold         float64
	HistoryLookbackDays   int
}

// ValidationConfig holds claim validation requirements
type ValidationConfig struct {
	MinDocuments int
}

// PaymentConfig holds the payment provider connection
type PaymentConfig struct {
	BaseURL  string
	APIKey   string
	Currency string
}

// NotificationConfig selects where critical alerts and batch summaries go.
// Without a Discord webhook, notifications are written to the log.
type NotificationConfig struct {
	DiscordWebhookID    string
	DiscordWebhookToken string
	Username            string
	Locale              string // BCP 47 tag for amount formatting
}

// StorageConfig holds the receipt archive bucket; an empty Bucket disables it
type StorageConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	Prefix          string
}

// LockConfig holds settlement lock configuration
type LockConfig struct {
	Enabled bool
	TTL     time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	ServiceName       string
	Insecure          bool
	MetricsInterval   time.Duration
	DBTraceEnabled    bool
	DBSlowQueryThresh time.Duration
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with CLAIMS_ prefix (e.g., CLAIMS_DATABASE_PASSWORD)
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
	}

	v.SetEnvPrefix("CLAIMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Booleans whose default is true need an explicit default so a missing
	// key is distinguishable from false.
	v.SetDefault("lock.enabled", true)

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:    v.GetString("log.level"),
			Format:   v.GetString("log.format"),
			Output:   v.GetString("log.output"),
			Sampling: v.GetBool("log.sampling"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			MaxBatchSize:   v.GetInt("http.max_batch_size"),
			BatchRateLimit: v.GetFloat64("http.batch_rate_limit"),
			BatchRateBurst: v.GetInt("http.batch_rate_burst"),
		},
		Settlement: SettlementConfig{
			Endpoint:       v.GetString("settlement.endpoint"),
			MaxRetries:     v.GetInt("settlement.max_retries"),
			BaseBackoff:    v.GetDuration("settlement.base_backoff"),
			AttemptTimeout: v.GetDuration("settlement.attempt_timeout"),
			RateLimit:      v.GetFloat64("settlement.rate_limit"),
			RateBurst:      v.GetInt("settlement.rate_burst"),
			MaxWorkers:     v.GetInt("settlement.max_workers"),
			BatchTimeout:   v.GetDuration("settlement.batch_timeout"),
			AutoSettle:     v.GetBool("settlement.auto_settle"),
		},
		Circuit: CircuitConfig{
			FailureThreshold: v.GetInt("circuit.failure_threshold"),
			SuccessThreshold: v.GetInt("circuit.success_threshold"),
			OpenTimeout:      v.GetDuration("circuit.open_timeout"),
		},
		Fraud: FraudConfig{
			RecentClaimWindowDays: v.GetInt("fraud.recent_claim_window_days"),
			RecentClaimWeight:     v.GetFloat64("fraud.recent_claim_weight"),
			AmountMultiple:        v.GetFloat64("fraud.amount_multiple"),
			AmountOutlierWeight:   v.GetFloat64("fraud.amount_outlier_weight"),
			NewPolicyDays:         v.GetInt("fraud.new_policy_days"),
			NewPolicyWeight:       v.GetFloat64("fraud.new_policy_weight"),
			DuplicateAmountWeight: v.GetFloat64("fraud.duplicate_amount_weight"),
			FlagThreshold:         v.GetFloat64("fraud.flag_threshold"),
			HistoryLookbackDays:   v.GetInt("fraud.history_lookback_days"),
		},
		Validation: ValidationConfig{
			MinDocuments: v.GetInt("validation.min_documents"),
		},
		Payment: PaymentConfig{
			BaseURL:  v.GetString("payment.base_url"),
			APIKey:   v.GetString("payment.api_key"),
			Currency: v.GetString("payment.currency"),
		},
		Notification: NotificationConfig{
			DiscordWebhookID:    v.GetString("notification.discord_webhook_id"),
			DiscordWebhookToken: v.GetString("notification.discord_webhook_token"),
			Username:            v.GetString("notification.username"),
			Locale:              v.GetString("notification.locale"),
		},
		Storage: StorageConfig{
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			Bucket:          v.GetString("storage.bucket"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
			Prefix:          v.GetString("storage.prefix"),
		},
		Lock: LockConfig{
			Enabled: v.GetBool("lock.enabled"),
			TTL:     v.GetDuration("lock.ttl"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
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
		cfg.App.Name = "claims-settlement"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
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
		cfg.Database.DBName = "claims"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
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
	if cfg.Redis.Host != "" && cfg.Redis.Port == 0 {
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
	// Batch requests run settlement retries inline, so writes get a long deadline
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 5 * time.Minute
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20
	}
	if cfg.HTTP.MaxBatchSize == 0 {
		cfg.HTTP.MaxBatchSize = 1000
	}
	if cfg.HTTP.BatchRateBurst == 0 {
		cfg.HTTP.BatchRateBurst = 2
	}
	if cfg.Settlement.Endpoint == "" {
		cfg.Settlement.Endpoint = "payment"
	}
	if cfg.Settlement.MaxRetries == 0 {
		cfg.Settlement.MaxRetries = 3
	}
	if cfg.Settlement.BaseBackoff == 0 {
		cfg.Settlement.BaseBackoff = time.Second
	}
	if cfg.Settlement.AttemptTimeout == 0 {
		cfg.Settlement.AttemptTimeout = 30 * time.Second
	}
	if cfg.Settlement.RateBurst == 0 {
		cfg.Settlement.RateBurst = 10
	}
	if cfg.Settlement.MaxWorkers == 0 {
		cfg.Settlement.MaxWorkers = 16
	}
	if cfg.Settlement.BatchTimeout == 0 {
		cfg.Settlement.BatchTimeout = 4 * time.Minute
	}
	if cfg.Circuit.FailureThreshold == 0 {
		cfg.Circuit.FailureThreshold = 5
	}
	if cfg.Circuit.SuccessThreshold == 0 {
		cfg.Circuit.SuccessThreshold = 2
	}
	if cfg.Circuit.OpenTimeout == 0 {
		cfg.Circuit.OpenTimeout = 60 * time.Second
	}
	if cfg.Fraud.RecentClaimWindowDays == 0 {
		cfg.Fraud.RecentClaimWindowDays = 30
	}
	if cfg.Fraud.RecentClaimWeight == 0 {
		cfg.Fraud.RecentClaimWeight = 0.30
	}
	if cfg.Fraud.AmountMultiple == 0 {
		cfg.Fraud.AmountMultiple = 3
	}
	if cfg.Fraud.AmountOutlierWeight == 0 {
		cfg.Fraud.AmountOutlierWeight = 0.25
	}
	if cfg.Fraud.NewPolicyDays == 0 {
		cfg.Fraud.NewPolicyDays = 30
	}
	if cfg.Fraud.NewPolicyWeight == 0 {
		cfg.Fraud.NewPolicyWeight = 0.20
	}
	if cfg.Fraud.DuplicateAmountWeight == 0 {
		cfg.Fraud.DuplicateAmountWeight = 0.25
	}
	if cfg.Fraud.FlagThreshold == 0 {
		cfg.Fraud.FlagThreshold = 0.75
	}
	if cfg.Fraud.HistoryLookbackDays == 0 {
		cfg.Fraud.HistoryLookbackDays = 365
	}
	if cfg.Payment.Currency == "" {
		cfg.Payment.Currency = "USD"
	}
	if cfg.Notification.Username == "" {
		cfg.Notification.Username = "claims-settlement"
	}
	if cfg.Notification.Locale == "" {
		cfg.Notification.Locale = "en-US"
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "receipts/"
	}
	if cfg.Lock.TTL == 0 {
		cfg.Lock.TTL = 5 * time.Minute
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Settlement.MaxRetries < 0 {
		return fmt.Errorf("settlement.max_retries cannot be negative, got %d", c.Settlement.MaxRetries)
	}
	if c.Settlement.MaxWorkers <= 0 {
		return fmt.Errorf("settlement.max_workers must be positive, got %d", c.Settlement.MaxWorkers)
	}
	if c.HTTP.BatchRateLimit < 0 {
		return fmt.Errorf("http.batch_rate_limit cannot be negative, got %f", c.HTTP.BatchRateLimit)
	}
	if c.Settlement.RateLimit < 0 {
		return fmt.Errorf("settlement.rate_limit cannot be negative, got %f", c.Settlement.RateLimit)
	}
	if c.Circuit.FailureThreshold <= 0 || c.Circuit.SuccessThreshold <= 0 {
		return fmt.Errorf("circuit thresholds must be positive (failure=%d, success=%d)",
			c.Circuit.FailureThreshold, c.Circuit.SuccessThreshold)
	}
	if c.Fraud.FlagThreshold < 0 || c.Fraud.FlagThreshold > 1 {
		return fmt.Errorf("fraud.flag_threshold must be between 0.0 and 1.0, got %f", c.Fraud.FlagThreshold)
	}
	if len(c.Payment.Currency) != 3 {
		return fmt.Errorf("payment.currency must be a 3-letter ISO 4217 code, got %q", c.Payment.Currency)
	}
	if (c.Notification.DiscordWebhookID == "") != (c.Notification.DiscordWebhookToken == "") {
		return fmt.Errorf("notification.discord_webhook_id and notification.discord_webhook_token must be set together")
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Payment.BaseURL == "" {
			return fmt.Errorf("payment.base_url is required in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
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

// Addr returns host:port for the Redis client
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

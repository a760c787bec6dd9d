// Package config defines the process configuration for CareWatch.
// Configuration is loaded once at startup (process start or Lambda cold
// start) and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> SecretProvider (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"carewatch/internal/types"
)

// SecretString is an alias for types.SecretString so that config dumps never
// carry raw credentials.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the section they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"carewatch"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	AWS           AWSConfig
	Monitoring    MonitoringConfig
	Alerts        AlertsConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// IsLocal reports whether the process runs in the local development
// environment.
func (c *Config) IsLocal() bool {
	return c.Environment == localEnv
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`

	// TrustedProxyHops is the number of reverse proxies in front of the
	// server that append to X-Forwarded-For. Zero ignores the header.
	TrustedProxyHops int `envconfig:"TRUSTED_PROXY_HOPS" default:"0" validate:"min=0,max=10"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// RedisConfig holds the settings cache and rate-limit store connection.
// An empty Addr disables both.
type RedisConfig struct {
	Addr             string        `envconfig:"REDIS_ADDR"`
	Password         SecretString  `envconfig:"REDIS_PASSWORD"`
	DB               int           `envconfig:"REDIS_DB" default:"0" validate:"min=0,max=15"`
	SettingsCacheTTL time.Duration `envconfig:"SETTINGS_CACHE_TTL" default:"5m"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region        string `envconfig:"AWS_REGION" default:"us-east-1"`
	AlertQueueURL string `envconfig:"SQS_ALERTS" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// MonitoringConfig holds the monitoring run trigger, its budget, and the
// evaluator rule table.
type MonitoringConfig struct {
	CronSecret     SecretString  `envconfig:"CRON_SECRET"`
	CronSecretHash SecretString  `envconfig:"CRON_SECRET_HASH"`
	Concurrency    int           `envconfig:"MONITOR_CONCURRENCY" default:"8" validate:"min=1,max=128"`
	Lookback       time.Duration `envconfig:"MONITOR_LOOKBACK" default:"2160h"`
	CronRateLimit  int           `envconfig:"CRON_RATE_LIMIT" default:"10" validate:"min=0"`
	CronRateWindow time.Duration `envconfig:"CRON_RATE_WINDOW" default:"1m"`

	MissedSessionsMedium   int     `envconfig:"MISSED_SESSIONS_MEDIUM" default:"2" validate:"min=0"`
	MissedSessionsHigh     int     `envconfig:"MISSED_SESSIONS_HIGH" default:"3" validate:"min=0"`
	MissedSessionsCritical int     `envconfig:"MISSED_SESSIONS_CRITICAL" default:"4" validate:"min=0"`
	AttendanceWindow       int     `envconfig:"ATTENDANCE_WINDOW" default:"6" validate:"min=1"`
	AttendanceMinSessions  int     `envconfig:"ATTENDANCE_MIN_SESSIONS" default:"4" validate:"min=1"`
	AttendanceMissRatio    float64 `envconfig:"ATTENDANCE_MISS_RATIO" default:"0.5" validate:"gte=0,lte=1"`
	ContactGapDaysMedium   int     `envconfig:"CONTACT_GAP_DAYS_MEDIUM" default:"14" validate:"min=0"`
	ContactGapDaysHigh     int     `envconfig:"CONTACT_GAP_DAYS_HIGH" default:"21" validate:"min=0"`
	ContactGapDaysCritical int     `envconfig:"CONTACT_GAP_DAYS_CRITICAL" default:"45" validate:"min=0"`
	UnansweredMedium       int     `envconfig:"UNANSWERED_MEDIUM" default:"3" validate:"min=0"`
	UnansweredHigh         int     `envconfig:"UNANSWERED_HIGH" default:"5" validate:"min=0"`

	// MetricRules is a JSON array of types.MetricRule. Empty keeps the
	// built-in metric rules.
	MetricRules string `envconfig:"MONITOR_METRIC_RULES" validate:"omitempty,json"`
}

// AlertsConfig holds staff alert batching and channel credentials.
type AlertsConfig struct {
	Channels  []string `envconfig:"ALERT_CHANNELS" validate:"dive,oneof=webhook whatsapp sqs"`
	BatchMode string   `envconfig:"ALERT_BATCH_MODE" default:"per_patient" validate:"oneof=per_patient digest"`
	DigestMax int      `envconfig:"ALERT_DIGEST_MAX" default:"20" validate:"min=1,max=200"`

	WebhookURL          string        `envconfig:"ALERT_WEBHOOK_URL" validate:"omitempty,url"`
	WebhookSecret       SecretString  `envconfig:"ALERT_WEBHOOK_SECRET"`
	WebhookTimeout      time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	WebhookMaxRedirects int           `envconfig:"WEBHOOK_MAX_REDIRECTS" default:"3"`
	WebhookUserAgent    string        `envconfig:"WEBHOOK_USER_AGENT" default:"CareWatch-Alerts/1.0"`

	WhatsAppAPIURL        string       `envconfig:"WHATSAPP_API_URL" default:"https://graph.facebook.com/v19.0" validate:"url"`
	WhatsAppPhoneNumberID string       `envconfig:"WHATSAPP_PHONE_NUMBER_ID"`
	WhatsAppToken         SecretString `envconfig:"WHATSAPP_TOKEN"`
	WhatsAppStaffNumbers  []string     `envconfig:"WHATSAPP_STAFF_NUMBERS"`
}

// SecurityConfig holds credentials for the staff read endpoints.
type SecurityConfig struct {
	AdminAPIKey SecretString `envconfig:"ADMIN_API_KEY"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"CareWatch"`
	MetricsBackend  string `envconfig:"METRICS_BACKEND" default:"prometheus" validate:"oneof=prometheus cloudwatch none"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when resolving secret references.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)

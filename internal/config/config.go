package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string
	Telemetry    TelemetryConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis       RedisConfig
	RateLimit   RateLimitConfig
	Email       EmailConfig
	Admin       AdminConfig
	Metering    MeteringConfig
	Enforcement EnforcementConfig
	Timeouts    TimeoutConfig
	Scheduler   SchedulerConfig
}

// TelemetryConfig covers logging and OpenTelemetry export. Environment and
// Version override the application values when the deployment sets them.
type TelemetryConfig struct {
	Environment   string
	Version       string
	LogLevel      string
	LogFormat     string
	Enabled       bool
	Protocol      string
	SamplingRatio float64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	Enabled           bool
	IngestRate        float64
	IngestBurst       int
	IngestGlobalRate  float64
	IngestGlobalBurst int
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	AdminEmail   string
}

type AdminConfig struct {
	// TokenHash is the bcrypt hash of the bearer token accepted on admin routes.
	TokenHash string
}

type MeteringConfig struct {
	Timezone           string
	ResetAt            string
	UsageRetentionDays int
	AuditRetentionDays int
}

type EnforcementConfig struct {
	Backend    string
	Capability string
	// WatchChannel is the Redis channel peers use to announce policy changes.
	WatchChannel string
	// PolicyReload is the periodic full reload of the policy table; zero
	// disables it.
	PolicyReload time.Duration
}

type TimeoutConfig struct {
	Store        time.Duration
	Enforcement  time.Duration
	Notification time.Duration
	ResetRun     time.Duration
}

type SchedulerConfig struct {
	Enabled   bool
	BatchSize int
	LockTTL   time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "quotaguard"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),
		Telemetry: TelemetryConfig{
			Environment:   strings.TrimSpace(getenv("DEPLOYMENT_ENV", "")),
			Version:       strings.TrimSpace(getenv("SERVICE_VERSION", "")),
			LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			Enabled:       getenvBool("OTEL_ENABLED", true),
			Protocol:      otlpProtocol(),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "quotaguard"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getenvBool("RATE_LIMIT_ENABLED", false),
			IngestRate:        getenvFloat("RATE_LIMIT_INGEST_RATE", 20),
			IngestBurst:       getenvInt("RATE_LIMIT_INGEST_BURST", 40),
			IngestGlobalRate:  getenvFloat("RATE_LIMIT_INGEST_GLOBAL_RATE", 2000),
			IngestGlobalBurst: getenvInt("RATE_LIMIT_INGEST_GLOBAL_BURST", 4000),
		},
		Email: EmailConfig{
			SMTPHost:     getenv("SMTP_HOST", ""),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "quotaguard@localhost"),
			AdminEmail:   strings.TrimSpace(getenv("ADMIN_EMAIL", "")),
		},
		Admin: AdminConfig{
			TokenHash: strings.TrimSpace(getenv("ADMIN_TOKEN_HASH", "")),
		},
		Metering: MeteringConfig{
			Timezone:           getenv("METER_TIMEZONE", "Europe/Madrid"),
			ResetAt:            getenv("RESET_AT", "00:00"),
			UsageRetentionDays: getenvInt("USAGE_RETENTION_DAYS", 400),
			AuditRetentionDays: getenvInt("AUDIT_RETENTION_DAYS", 1095),
		},
		Enforcement: EnforcementConfig{
			Backend:      strings.ToLower(getenv("ENFORCEMENT_BACKEND", "casbin")),
			Capability:   getenv("ENFORCEMENT_CAPABILITY", "resource:invoke"),
			WatchChannel: getenv("ENFORCEMENT_WATCH_CHANNEL", "quotaguard:enforcement:policy"),
			PolicyReload: getenvDuration("ENFORCEMENT_POLICY_RELOAD", 30*time.Second),
		},
		Timeouts: TimeoutConfig{
			Store:        getenvDuration("STORE_TIMEOUT", 5*time.Second),
			Enforcement:  getenvDuration("ENFORCEMENT_TIMEOUT", 3*time.Second),
			Notification: getenvDuration("NOTIFICATION_TIMEOUT", 10*time.Second),
			ResetRun:     getenvDuration("RESET_RUN_TIMEOUT", 10*time.Minute),
		},
		Scheduler: SchedulerConfig{
			Enabled:   getenvBool("SCHEDULER_ENABLED", true),
			BatchSize: getenvInt("SCHEDULER_BATCH_SIZE", 100),
			LockTTL:   getenvDuration("SCHEDULER_LOCK_TTL", 15*time.Minute),
		},
	}

	return cfg
}

// Location resolves the metering timezone, falling back to UTC when unknown.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(c.Metering.Timezone))
	if err != nil {
		return time.UTC
	}
	return loc
}

// ResetClock parses Metering.ResetAt ("HH:MM") into hour and minute.
func (c Config) ResetClock() (int, int, error) {
	raw := strings.TrimSpace(c.Metering.ResetAt)
	if raw == "" {
		return 0, 0, nil
	}
	parsed, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid RESET_AT %q: %w", raw, err)
	}
	return parsed.Hour(), parsed.Minute(), nil
}

func (c Config) IsDevelopment() bool {
	return IsDevelopmentEnv(c.Environment)
}

// IsDevelopmentEnv reports whether env names a non-production deployment.
func IsDevelopmentEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// otlpProtocol prefers the traces-specific protocol over the shared one.
func otlpProtocol() string {
	protocol := getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))
	return strings.ToLower(strings.TrimSpace(protocol))
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

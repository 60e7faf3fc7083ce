package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	Engine       EngineConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level       string
	Development bool
	Component   string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// NotificationConfig holds stub notification endpoints.
type NotificationConfig struct {
	EmailFrom  string
	WebhookURL string
}

// EngineConfig holds deadline, escalation and backup settings.
type EngineConfig struct {
	CalendarFile       string
	CalendarTimezone   string
	PolicyFile         string
	SweepCron          string
	SweepOnStart       bool
	RetryMaxAttempts   int
	RetryIntervalMS    int
	AtRiskMinutes      int
	RedisFireRecords   bool
	RedisLocks         bool
	FireRecordTTLHours int
	LockTTLSeconds     int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "servicedesk-engine"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnv("APP_ENV", "development") == "development",
			Component:   getEnv("APP_NAME", "servicedesk-engine"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Notification: NotificationConfig{
			EmailFrom:  getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
		Engine: EngineConfig{
			CalendarFile:       getEnv("CALENDAR_FILE", "config/working_hours.yaml"),
			CalendarTimezone:   os.Getenv("CALENDAR_TIMEZONE"),
			PolicyFile:         getEnv("SLA_POLICY_FILE", "config/sla_policies.yaml"),
			SweepCron:          getEnv("SWEEP_CRON", "0 6 * * *"),
			SweepOnStart:       getEnvAsBool("SWEEP_ON_START", false),
			RetryMaxAttempts:   getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
			RetryIntervalMS:    getEnvAsInt("RETRY_INITIAL_INTERVAL_MS", 100),
			AtRiskMinutes:      getEnvAsInt("SLA_AT_RISK_MINUTES", 120),
			RedisFireRecords:   getEnvAsBool("REDIS_FIRE_RECORDS", false),
			RedisLocks:         getEnvAsBool("REDIS_LOCKS", false),
			FireRecordTTLHours: getEnvAsInt("REDIS_FIRE_RECORD_TTL_HOURS", 24*90),
			LockTTLSeconds:     getEnvAsInt("REDIS_LOCK_TTL_SECONDS", 30),
		},
	}

	if cfg.Engine.RetryMaxAttempts < 1 {
		return nil, fmt.Errorf("invalid RETRY_MAX_ATTEMPTS: must be at least 1")
	}
	if cfg.Engine.AtRiskMinutes < 0 {
		return nil, fmt.Errorf("invalid SLA_AT_RISK_MINUTES: must not be negative")
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

// RetryInitialInterval returns the first backoff delay.
func (e EngineConfig) RetryInitialInterval() time.Duration {
	return time.Duration(e.RetryIntervalMS) * time.Millisecond
}

// AtRisk returns the window before resolution in which a ticket is at risk.
func (e EngineConfig) AtRisk() time.Duration {
	return time.Duration(e.AtRiskMinutes) * time.Minute
}

// LockTTL returns the expiry of distributed locks.
func (e EngineConfig) LockTTL() time.Duration {
	if e.LockTTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(e.LockTTLSeconds) * time.Second
}

// FireRecordTTL returns how long Redis keeps fire records; zero keeps them.
func (e EngineConfig) FireRecordTTL() time.Duration {
	if e.FireRecordTTLHours <= 0 {
		return 0
	}
	return time.Duration(e.FireRecordTTLHours) * time.Hour
}

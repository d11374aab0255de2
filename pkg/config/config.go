package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Booking       BookingConfig
	Availability  AvailabilityConfig
	Notifications NotificationsConfig
	Analytics     AnalyticsConfig
	Outbox        OutboxConfig
	Exports       ExportsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// BookingConfig tunes the booking transaction manager.
type BookingConfig struct {
	// StrictConflicts rejects a request on detected overlap instead of
	// recording an advisory conflict. Default false: detect, don't block.
	StrictConflicts bool
	LockTimeout     time.Duration
	DefaultTimezone string
}

// AvailabilityConfig governs availability lookups and caching.
type AvailabilityConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
	SlotGrain    time.Duration
}

// NotificationsConfig tunes notification fan-out.
type NotificationsConfig struct {
	ReminderLead   time.Duration
	DefaultChannel string
}

// AnalyticsConfig governs snapshot aggregation cadence and caching.
type AnalyticsConfig struct {
	CacheTTL        time.Duration
	AggregateEvery  time.Duration
	AggregateOnBoot bool
}

// OutboxConfig tunes the outbox polling workers.
type OutboxConfig struct {
	PollInterval      time.Duration
	BatchSize         int
	WorkerConcurrency int
	WorkerRetries     int
}

// ExportsConfig controls analytics export storage & signed download URLs.
type ExportsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Booking = BookingConfig{
		StrictConflicts: v.GetBool("BOOKING_STRICT_CONFLICTS"),
		LockTimeout:     parseDuration(v.GetString("BOOKING_LOCK_TIMEOUT"), 5*time.Second),
		DefaultTimezone: v.GetString("BOOKING_DEFAULT_TIMEZONE"),
	}

	cfg.Availability = AvailabilityConfig{
		CacheEnabled: v.GetBool("AVAILABILITY_CACHE_ENABLED"),
		CacheTTL:     parseDuration(v.GetString("AVAILABILITY_CACHE_TTL"), 2*time.Minute),
		SlotGrain:    parseDuration(v.GetString("AVAILABILITY_SLOT_GRAIN"), 15*time.Minute),
	}

	cfg.Notifications = NotificationsConfig{
		ReminderLead:   parseDuration(v.GetString("NOTIFICATION_REMINDER_LEAD"), 24*time.Hour),
		DefaultChannel: v.GetString("NOTIFICATION_DEFAULT_CHANNEL"),
	}

	cfg.Analytics = AnalyticsConfig{
		CacheTTL:        parseDuration(v.GetString("ANALYTICS_CACHE_TTL"), 10*time.Minute),
		AggregateEvery:  parseDuration(v.GetString("ANALYTICS_AGGREGATE_EVERY"), 24*time.Hour),
		AggregateOnBoot: v.GetBool("ANALYTICS_AGGREGATE_ON_BOOT"),
	}

	cfg.Outbox = OutboxConfig{
		PollInterval:      parseDuration(v.GetString("OUTBOX_POLL_INTERVAL"), 2*time.Second),
		BatchSize:         v.GetInt("OUTBOX_BATCH_SIZE"),
		WorkerConcurrency: v.GetInt("OUTBOX_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("OUTBOX_WORKER_RETRIES"),
	}

	cfg.Exports = ExportsConfig{
		StorageDir:      v.GetString("EXPORTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), 24*time.Hour),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "scheduling_engine")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("BOOKING_STRICT_CONFLICTS", false)
	v.SetDefault("BOOKING_LOCK_TIMEOUT", "5s")
	v.SetDefault("BOOKING_DEFAULT_TIMEZONE", "UTC")

	v.SetDefault("AVAILABILITY_CACHE_ENABLED", false)
	v.SetDefault("AVAILABILITY_CACHE_TTL", "2m")
	v.SetDefault("AVAILABILITY_SLOT_GRAIN", "15m")

	v.SetDefault("NOTIFICATION_REMINDER_LEAD", "24h")
	v.SetDefault("NOTIFICATION_DEFAULT_CHANNEL", "email")

	v.SetDefault("ANALYTICS_CACHE_TTL", "10m")
	v.SetDefault("ANALYTICS_AGGREGATE_EVERY", "24h")
	v.SetDefault("ANALYTICS_AGGREGATE_ON_BOOT", false)

	v.SetDefault("OUTBOX_POLL_INTERVAL", "2s")
	v.SetDefault("OUTBOX_BATCH_SIZE", 50)
	v.SetDefault("OUTBOX_WORKER_CONCURRENCY", 2)
	v.SetDefault("OUTBOX_WORKER_RETRIES", 3)

	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "24h")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

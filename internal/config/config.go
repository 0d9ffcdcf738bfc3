package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all server configuration loaded from environment variables.
type Config struct {
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Server      ServerConfig
	Slack       SlackConfig
	Verify      VerifyConfig
	Ingest      IngestConfig
	Notify      NotifyConfig
	SelfHosted  bool
	LicenseFile string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// JWTConfig holds JWT authentication settings.
type JWTConfig struct {
	Secret     string //nolint:gosec // G117: JWT signing secret config
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

// SlackConfig holds the operations-alert Slack settings.
type SlackConfig struct {
	BotToken   string
	OpsChannel string
}

// NotifyConfig holds generic webhook alert delivery settings.
type NotifyConfig struct {
	WebhookURL string
}

// VerifyConfig selects and tunes the verification-proof provider.
type VerifyConfig struct {
	// Provider is "local", "timestamp", or "anchor".
	Provider string
	// LocalSeed is the hex-encoded ed25519 seed for the local provider.
	LocalSeed string //nolint:gosec // G117: signing seed config
	// TimestampURL is the base URL of the third-party timestamping service.
	TimestampURL string
	// AnchorURL is the endpoint the anchor provider submits Merkle roots to.
	AnchorURL string
	// AnchorBatchSize is the number of hashes anchored under one root.
	AnchorBatchSize int
	// SweepInterval is how often pending proofs are re-checked.
	SweepInterval time.Duration
}

// IngestConfig holds ingestion policy knobs.
type IngestConfig struct {
	// SoftClockSkew flags but accepts; HardClockSkew rejects.
	SoftClockSkew time.Duration
	HardClockSkew time.Duration
	// DeviceRatePerSecond / DeviceRateBurst bound each device's delivery rate.
	DeviceRatePerSecond float64
	DeviceRateBurst     int
}

// Load reads configuration from environment variables.
// Defaults are safe for local development only. In production,
// sensitive values (JWT secret, DB password) must be set explicitly.
func Load() (*Config, error) {
	dbPort, err := getEnvInt("FIELDPROOF_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("FIELDPROOF_DB_MAX_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("FIELDPROOF_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	accessTTL, err := getEnvDuration("FIELDPROOF_JWT_ACCESS_TTL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	refreshTTL, err := getEnvDuration("FIELDPROOF_JWT_REFRESH_TTL", 7*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("FIELDPROOF_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("FIELDPROOF_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	anchorBatch, err := getEnvInt("FIELDPROOF_VERIFY_ANCHOR_BATCH", 64)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	sweepInterval, err := getEnvDuration("FIELDPROOF_VERIFY_SWEEP_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	softSkew, err := getEnvDuration("FIELDPROOF_INGEST_SOFT_SKEW", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	hardSkew, err := getEnvDuration("FIELDPROOF_INGEST_HARD_SKEW", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	deviceRate, err := getEnvFloat("FIELDPROOF_INGEST_DEVICE_RPS", 5)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	deviceBurst, err := getEnvInt("FIELDPROOF_INGEST_DEVICE_BURST", 20)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	selfHosted, err := getEnvBool("FIELDPROOF_SELF_HOSTED", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	corsOrigins := getEnvList("FIELDPROOF_CORS_ORIGINS", []string{"http://localhost:5173"})

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("FIELDPROOF_DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("FIELDPROOF_DB_USER", "fieldproof"),
			Password: getEnv("FIELDPROOF_DB_PASSWORD", ""),
			DBName:   getEnv("FIELDPROOF_DB_NAME", "fieldproof_dev"),
			SSLMode:  getEnv("FIELDPROOF_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("FIELDPROOF_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("FIELDPROOF_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:     getEnv("FIELDPROOF_JWT_SECRET", ""),
			AccessTTL:  accessTTL,
			RefreshTTL: refreshTTL,
		},
		Server: ServerConfig{
			Addr:         getEnv("FIELDPROOF_SERVER_ADDR", ":8080"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  corsOrigins,
		},
		Slack: SlackConfig{
			BotToken:   getEnv("FIELDPROOF_SLACK_BOT_TOKEN", ""),
			OpsChannel: getEnv("FIELDPROOF_SLACK_OPS_CHANNEL", ""),
		},
		Verify: VerifyConfig{
			Provider:        getEnv("FIELDPROOF_VERIFY_PROVIDER", "local"),
			LocalSeed:       getEnv("FIELDPROOF_VERIFY_LOCAL_SEED", ""),
			TimestampURL:    getEnv("FIELDPROOF_VERIFY_TIMESTAMP_URL", ""),
			AnchorURL:       getEnv("FIELDPROOF_VERIFY_ANCHOR_URL", ""),
			AnchorBatchSize: anchorBatch,
			SweepInterval:   sweepInterval,
		},
		Ingest: IngestConfig{
			SoftClockSkew:       softSkew,
			HardClockSkew:       hardSkew,
			DeviceRatePerSecond: deviceRate,
			DeviceRateBurst:     deviceBurst,
		},
		Notify: NotifyConfig{
			WebhookURL: getEnv("FIELDPROOF_ALERT_WEBHOOK_URL", ""),
		},
		SelfHosted:  selfHosted,
		LicenseFile: getEnv("FIELDPROOF_LICENSE_FILE", ""),
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	// JWT secret is required (no insecure default).
	if c.JWT.Secret == "" {
		return errors.New("FIELDPROOF_JWT_SECRET is required")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("FIELDPROOF_JWT_SECRET must be at least 32 characters")
	}

	// DB SSL mode warning for non-self-hosted deployments.
	if c.Database.SSLMode == "disable" && !c.SelfHosted {
		log.Warn().Msg("FIELDPROOF_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
	}

	// Bounds checks.
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("FIELDPROOF_DB_PORT must be 1-65535, got %d", c.Database.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("FIELDPROOF_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
	}
	if c.JWT.AccessTTL <= 0 {
		return fmt.Errorf("FIELDPROOF_JWT_ACCESS_TTL must be positive, got %s", c.JWT.AccessTTL)
	}
	if c.JWT.RefreshTTL <= 0 {
		return fmt.Errorf("FIELDPROOF_JWT_REFRESH_TTL must be positive, got %s", c.JWT.RefreshTTL)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("FIELDPROOF_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("FIELDPROOF_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}

	switch c.Verify.Provider {
	case "local":
		if c.Verify.LocalSeed == "" {
			return errors.New("FIELDPROOF_VERIFY_LOCAL_SEED is required for the local provider")
		}
	case "timestamp":
		if c.Verify.TimestampURL == "" {
			return errors.New("FIELDPROOF_VERIFY_TIMESTAMP_URL is required for the timestamp provider")
		}
	case "anchor":
		if c.Verify.AnchorURL == "" {
			return errors.New("FIELDPROOF_VERIFY_ANCHOR_URL is required for the anchor provider")
		}
	default:
		return fmt.Errorf("FIELDPROOF_VERIFY_PROVIDER must be local, timestamp, or anchor, got %q", c.Verify.Provider)
	}

	if c.Ingest.SoftClockSkew <= 0 || c.Ingest.HardClockSkew <= 0 {
		return errors.New("ingestion clock-skew bounds must be positive")
	}
	if c.Ingest.SoftClockSkew >= c.Ingest.HardClockSkew {
		return fmt.Errorf("FIELDPROOF_INGEST_SOFT_SKEW (%s) must be below FIELDPROOF_INGEST_HARD_SKEW (%s)",
			c.Ingest.SoftClockSkew, c.Ingest.HardClockSkew)
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

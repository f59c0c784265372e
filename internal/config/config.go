package config

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Port             string  `mapstructure:"PORT"`
	Env              string  `mapstructure:"ENV"`
	DatabaseURL      string  `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32   `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32   `mapstructure:"DB_MIN_CONNS"`
	PHIEncryptionKey string  `mapstructure:"PHI_ENCRYPTION_KEY"`
	AuthJWTSecret    string  `mapstructure:"AUTH_JWT_SECRET"`
	RateLimitRPS     float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst   int     `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimitBytes   int64   `mapstructure:"BODY_LIMIT_BYTES"`
	AuditQueueSize   int     `mapstructure:"AUDIT_QUEUE_SIZE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("BODY_LIMIT_BYTES", 1<<20)
	v.SetDefault("AUDIT_QUEUE_SIZE", 1024)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("PHI_ENCRYPTION_KEY")
	v.BindEnv("AUTH_JWT_SECRET")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("BODY_LIMIT_BYTES")
	v.BindEnv("AUDIT_QUEUE_SIZE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run with. The PHI
// encryption key is required in every environment: there is no mode in which
// the server runs with encryption silently disabled. In non-development
// environments a JWT secret is required so the audit trail has real actors.
func (c *Config) Validate() error {
	if c.PHIEncryptionKey == "" {
		return fmt.Errorf("PHI_ENCRYPTION_KEY is required; generate one with: careshield-server key generate")
	}
	keyBytes, err := hex.DecodeString(c.PHIEncryptionKey)
	if err != nil {
		return fmt.Errorf("PHI_ENCRYPTION_KEY is not valid hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return fmt.Errorf("PHI_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
	}

	if !c.IsDev() && c.AuthJWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required when ENV is not development")
	}

	return nil
}

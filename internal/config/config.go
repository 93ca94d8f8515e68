package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// minSigningKeyLen is the minimum accepted HS256 key length in bytes.
const minSigningKeyLen = 32

type Config struct {
	Port                  string        `mapstructure:"PORT"`
	Env                   string        `mapstructure:"ENV"`
	LogLevel              string        `mapstructure:"LOG_LEVEL"`
	DataFile              string        `mapstructure:"DATA_FILE"`
	JWTSigningKey         string        `mapstructure:"JWT_SIGNING_KEY"`
	AccessTokenTTL        time.Duration `mapstructure:"ACCESS_TOKEN_TTL"`
	BcryptCost            int           `mapstructure:"BCRYPT_COST"`
	DatabaseURL           string        `mapstructure:"DATABASE_URL"`
	DBMaxConns            int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns            int32         `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins           []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS          float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst        int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit             string        `mapstructure:"BODY_LIMIT"`
	RequireAuthForRecords bool          `mapstructure:"REQUIRE_AUTH_FOR_RECORDS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATA_FILE", "patients.json")
	v.SetDefault("ACCESS_TOKEN_TTL", "15m")
	v.SetDefault("BCRYPT_COST", bcrypt.DefaultCost)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("REQUIRE_AUTH_FOR_RECORDS", false)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL", "DATA_FILE", "JWT_SIGNING_KEY", "ACCESS_TOKEN_TTL",
		"BCRYPT_COST", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "CORS_ORIGINS",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT", "REQUIRE_AUTH_FOR_RECORDS",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
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

// UsesPostgres reports whether credentials live in Postgres instead of memory.
func (c *Config) UsesPostgres() bool {
	return c.DatabaseURL != ""
}

// EnsureSigningKey fills in a random ephemeral signing key when none is
// configured and the server runs in development mode. It reports whether a key
// was generated so the caller can warn that tokens will not survive a restart.
func (c *Config) EnsureSigningKey() (bool, error) {
	if c.JWTSigningKey != "" || !c.IsDev() {
		return false, nil
	}
	buf := make([]byte, minSigningKeyLen)
	if _, err := rand.Read(buf); err != nil {
		return false, fmt.Errorf("generate signing key: %w", err)
	}
	c.JWTSigningKey = hex.EncodeToString(buf)
	return true, nil
}

// Validate checks that the configuration is safe to run. Outside development
// JWT_SIGNING_KEY is mandatory; when set it must be at least 32 bytes.
func (c *Config) Validate() error {
	if c.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if len(c.JWTSigningKey) < minSigningKeyLen {
		return fmt.Errorf("JWT_SIGNING_KEY must be at least %d bytes, got %d", minSigningKeyLen, len(c.JWTSigningKey))
	}
	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_TTL must be positive, got %s", c.AccessTokenTTL)
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, c.BcryptCost)
	}
	if strings.TrimSpace(c.DataFile) == "" {
		return fmt.Errorf("DATA_FILE must not be empty")
	}
	if c.UsesPostgres() && c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}

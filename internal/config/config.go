package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/ecgvault/ecgvault/internal/platform/hipaa"
)

type Config struct {
	Port               string   `mapstructure:"PORT"`
	Env                string   `mapstructure:"ENV"`
	DatabaseURL        string   `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32    `mapstructure:"DB_MIN_CONNS"`
	FieldEncryptionKey string   `mapstructure:"FIELD_ENCRYPTION_KEY"`
	JWTSigningKey      string   `mapstructure:"JWT_SIGNING_KEY"`
	AuthIssuer         string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience       string   `mapstructure:"AUTH_AUDIENCE"`
	MigrationsDir      string   `mapstructure:"MIGRATIONS_DIR"`
	S3Bucket           string   `mapstructure:"S3_BUCKET"`
	S3Region           string   `mapstructure:"S3_REGION"`
	S3Endpoint         string   `mapstructure:"S3_ENDPOINT"`
	CORSOrigins        []string `mapstructure:"-"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"FIELD_ENCRYPTION_KEY", "JWT_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"MIGRATIONS_DIR", "S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "CORS_ORIGINS",
}

// Load reads settings from the environment, falling back to an optional
// .env file in the working directory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks the settings the server cannot start without. Warnings
// are returned for settings that are tolerated outside production.
func (c *Config) Validate() (warnings []string, err error) {
	if _, err := hipaa.DeriveKey(c.FieldEncryptionKey); err != nil {
		return nil, err
	}
	if c.DBMinConns > c.DBMaxConns {
		return nil, fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.JWTSigningKey == "" {
		if !c.IsDev() {
			return nil, fmt.Errorf("JWT_SIGNING_KEY is required outside development")
		}
		warnings = append(warnings, "JWT_SIGNING_KEY is not set, requests without a token run as platform operator")
	}
	if c.S3Bucket == "" {
		if c.IsProduction() {
			return nil, fmt.Errorf("S3_BUCKET is required in production")
		}
		warnings = append(warnings, "S3_BUCKET is not set, exam file removal uses the in-memory store")
	}
	return warnings, nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// Engine
	QueueAPIURL        string        `mapstructure:"QUEUE_API_URL"`
	QueueAPIToken      string        `mapstructure:"QUEUE_API_TOKEN"`
	PollInterval       time.Duration `mapstructure:"POLL_INTERVAL"`
	RequestTimeout     time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	ProfileConcurrency int           `mapstructure:"PROFILE_CONCURRENCY"`
	SkipPositions      int           `mapstructure:"SKIP_POSITIONS"`
	RedisURL           string        `mapstructure:"REDIS_URL"`
	RedisChannel       string        `mapstructure:"REDIS_CHANNEL"`

	// Front desk
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	ClinicTZ    string `mapstructure:"CLINIC_TZ"`

	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"QUEUE_API_URL", "QUEUE_API_TOKEN", "POLL_INTERVAL", "REQUEST_TIMEOUT",
	"PROFILE_CONCURRENCY", "SKIP_POSITIONS", "REDIS_URL", "REDIS_CHANNEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "CLINIC_TZ",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

// Load reads .env when present and the environment. It does not validate;
// each command calls the Validate method for the role it runs.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("POLL_INTERVAL", 30*time.Second)
	v.SetDefault("REQUEST_TIMEOUT", 10*time.Second)
	v.SetDefault("PROFILE_CONCURRENCY", 8)
	v.SetDefault("SKIP_POSITIONS", 5)
	v.SetDefault("REDIS_CHANNEL", "clinicqueue:signals")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CLINIC_TZ", "Local")
	v.SetDefault("AUTH_ISSUER", "clinicqueue")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
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

	if cfg.IsDev() {
		log.Warn().Msg("running in DEVELOPMENT mode (ENV=development): requests without a token get admin access")
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

// Location resolves CLINIC_TZ, the zone that decides which day "today" is.
func (c *Config) Location() (*time.Location, error) {
	if c.ClinicTZ == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.ClinicTZ)
	if err != nil {
		return nil, fmt.Errorf("CLINIC_TZ: %w", err)
	}
	return loc, nil
}

// ValidateEngine checks the settings the synchronizer needs to run.
func (c *Config) ValidateEngine() error {
	if c.QueueAPIURL == "" {
		return fmt.Errorf("QUEUE_API_URL is required")
	}
	if !strings.HasPrefix(c.QueueAPIURL, "http://") && !strings.HasPrefix(c.QueueAPIURL, "https://") {
		return fmt.Errorf("QUEUE_API_URL must be an http(s) URL, got %q", c.QueueAPIURL)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.ProfileConcurrency < 1 {
		return fmt.Errorf("PROFILE_CONCURRENCY must be at least 1, got %d", c.ProfileConcurrency)
	}
	if c.SkipPositions < 1 {
		return fmt.Errorf("SKIP_POSITIONS must be at least 1, got %d", c.SkipPositions)
	}
	return nil
}

// ValidateFrontDesk checks the settings of the front desk API. Outside
// development a signing key is required so bearer tokens are enforced.
func (c *Config) ValidateFrontDesk() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

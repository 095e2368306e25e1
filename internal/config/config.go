package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every runtime knob of the gateway, loaded from environment
// variables. A .env file is honored in development.
type Config struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	DatabaseURL string `env:"DATABASE_URL"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`

	JWT      JWTConfig      `envPrefix:"JWT_"`
	Password PasswordConfig `envPrefix:"PASSWORD_"`
	Rate     RateConfig     `envPrefix:"RATE_"`
}

// JWTConfig covers token issuance.
type JWTConfig struct {
	// Secret is the HS512 signing key, base64 or raw. Required.
	Secret             string        `env:"SECRET"`
	Issuer             string        `env:"ISSUER" envDefault:"asklepios"`
	Validity           time.Duration `env:"VALIDITY" envDefault:"24h"`
	RememberMeValidity time.Duration `env:"REMEMBER_ME_VALIDITY" envDefault:"720h"`
}

// PasswordConfig covers hashing and the reset flow.
type PasswordConfig struct {
	BcryptCost       int           `env:"BCRYPT_COST" envDefault:"10"`
	MinLength        int           `env:"MIN_LENGTH" envDefault:"4"`
	MaxLength        int           `env:"MAX_LENGTH" envDefault:"100"`
	ResetKeyValidity time.Duration `env:"RESET_KEY_VALIDITY" envDefault:"24h"`
	// HashWorkers bounds concurrent bcrypt operations; 0 means GOMAXPROCS.
	HashWorkers int `env:"HASH_WORKERS" envDefault:"0"`
}

// RateConfig throttles the authentication endpoint.
type RateConfig struct {
	AuthPerSecond float64 `env:"AUTH_PER_SECOND" envDefault:"10"`
	AuthBurst     int     `env:"AUTH_BURST" envDefault:"20"`
}

// Load reads the configuration from the environment, preceded by a best-effort
// .env load for development.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.Sanitize()
	return cfg, cfg.Validate()
}

// Sanitize applies guardrails to values loaded from env.
func (c *Config) Sanitize() {
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.Password.BcryptCost < 4 || c.Password.BcryptCost > 31 {
		c.Password.BcryptCost = 10
	}
	if c.Password.MinLength <= 0 {
		c.Password.MinLength = 4
	}
	if c.Password.MaxLength < c.Password.MinLength {
		c.Password.MaxLength = 100
	}
	if c.Password.ResetKeyValidity <= 0 {
		c.Password.ResetKeyValidity = 24 * time.Hour
	}
	if c.Rate.AuthPerSecond <= 0 {
		c.Rate.AuthPerSecond = 10
	}
	if c.Rate.AuthBurst <= 0 {
		c.Rate.AuthBurst = 20
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return errors.New("config: JWT_SECRET is required")
	}
	if c.JWT.Validity <= 0 {
		return errors.New("config: JWT_VALIDITY must be positive")
	}
	if c.JWT.RememberMeValidity <= c.JWT.Validity {
		return errors.New("config: JWT_REMEMBER_ME_VALIDITY must exceed JWT_VALIDITY")
	}
	if c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL is required")
	}
	return nil
}

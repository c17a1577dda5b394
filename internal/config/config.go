// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type AppConfig struct {
	Env     string `yaml:"env"` // development | staging | production
	BaseURL string `yaml:"base_url"`
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type StoreConfig struct {
	Driver     string `yaml:"driver"` // postgres | sqlite | memory
	URL        string `yaml:"url"`    // postgres dsn
	SQLitePath string `yaml:"sqlite_path"`
	MaxConns   int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// IdempotencyTTL is how long a checkout Idempotency-Key keeps returning the same session.
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

type StripeConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	SuccessURL    string `yaml:"success_url"`
	CancelURL     string `yaml:"cancel_url"`
}

type PaymentConfig struct {
	Mode            string        `yaml:"mode"` // stripe | mock
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
	// CheckoutRateLimit is the number of checkout sessions a user may create per CheckoutRateWindow.
	CheckoutRateLimit  int           `yaml:"checkout_rate_limit"`
	CheckoutRateWindow time.Duration `yaml:"checkout_rate_window"`
	Stripe             StripeConfig  `yaml:"stripe"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type LedgerConfig struct {
	Retention     time.Duration `yaml:"retention"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

type Config struct {
	App     AppConfig     `yaml:"app"`
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
	Store   StoreConfig   `yaml:"store"`
	Redis   RedisConfig   `yaml:"redis"`
	Payment PaymentConfig `yaml:"payment"`
	Auth    AuthConfig    `yaml:"auth"`
	Ledger  LedgerConfig  `yaml:"ledger"`

	Runtime RuntimeConfig `yaml:"-"`
}

const (
	PaymentModeStripe = "stripe"
	PaymentModeMock   = "mock"

	EnvProduction = "production"
)

// Load reads the yaml file at path, applies .env and environment overrides, fills
// defaults and validates the result.
func Load(path string, dev bool) (*Config, error) {
	// .env is optional; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	override := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	override(&cfg.App.Env, "APP_ENV")
	override(&cfg.Store.Driver, "STORE_DRIVER")
	override(&cfg.Store.URL, "DATABASE_URL")
	override(&cfg.Redis.URL, "REDIS_URL")
	override(&cfg.Redis.Password, "REDIS_PASSWORD")
	override(&cfg.Payment.Mode, "PAYMENT_MODE")
	override(&cfg.Payment.Stripe.SecretKey, "STRIPE_SECRET_KEY")
	override(&cfg.Payment.Stripe.WebhookSecret, "STRIPE_WEBHOOK_SECRET")
	override(&cfg.Auth.JWTSecret, "AUTH_JWT_SECRET")
}

func applyDefaults(cfg *Config) {
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.HTTP.Port <= 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 30 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout <= 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "postgres"
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = "billing.db"
	}
	if cfg.Store.MaxConns <= 0 {
		cfg.Store.MaxConns = 10
	}
	if cfg.Redis.IdempotencyTTL <= 0 {
		cfg.Redis.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.Payment.Mode == "" {
		cfg.Payment.Mode = PaymentModeStripe
	}
	if cfg.Payment.ProviderTimeout <= 0 {
		cfg.Payment.ProviderTimeout = 10 * time.Second
	}
	if cfg.Payment.CheckoutRateLimit <= 0 {
		cfg.Payment.CheckoutRateLimit = 10
	}
	if cfg.Payment.CheckoutRateWindow <= 0 {
		cfg.Payment.CheckoutRateWindow = time.Minute
	}
	if cfg.Ledger.Retention <= 0 {
		cfg.Ledger.Retention = 90 * 24 * time.Hour
	}
	if cfg.Ledger.PruneInterval <= 0 {
		cfg.Ledger.PruneInterval = 6 * time.Hour
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "creator-studio"
	}
}

// Validate enforces the settings the service cannot run without.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.URL == "" {
			return errors.New("store.url is required for the postgres driver")
		}
	case "sqlite", "memory":
	default:
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}

	switch c.Payment.Mode {
	case PaymentModeStripe:
		if c.Payment.Stripe.SecretKey == "" {
			return errors.New("payment.stripe.secret_key is required")
		}
		if c.Payment.Stripe.SuccessURL == "" || c.Payment.Stripe.CancelURL == "" {
			return errors.New("payment.stripe.success_url and cancel_url are required")
		}
	case PaymentModeMock:
		if c.IsProduction() {
			return errors.New("payment.mode=mock is not allowed when app.env=production")
		}
	default:
		return fmt.Errorf("payment.mode %q is not supported", c.Payment.Mode)
	}
	if c.Payment.Stripe.WebhookSecret == "" && c.Payment.Mode == PaymentModeStripe {
		return errors.New("payment.stripe.webhook_secret is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if c.Store.Driver == "memory" && c.IsProduction() {
		return errors.New("store.driver=memory is not allowed when app.env=production")
	}
	return nil
}

func (c *Config) IsProduction() bool { return strings.EqualFold(c.App.Env, EnvProduction) }

func (c *Config) MockPayments() bool { return c.Payment.Mode == PaymentModeMock }

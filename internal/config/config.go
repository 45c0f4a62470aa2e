package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Name     string `yaml:"name" validate:"required"`
	Port     string `yaml:"port" validate:"required,numeric"`
	LogLevel string `yaml:"log_level" validate:"oneof=trace debug info warn error"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host" validate:"required"`
	Port            string        `yaml:"port" validate:"required,numeric"`
	User            string        `yaml:"user" validate:"required"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname" validate:"required"`
	SSLMode         string        `yaml:"sslmode" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	MaxConns        int32         `yaml:"max_conns" validate:"gte=1"`
	MinConns        int32         `yaml:"min_conns" validate:"gte=0,ltefield=MaxConns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MigrationsPath  string        `yaml:"migrations_path" validate:"required"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" validate:"required,min=16"`
}

type StockConfig struct {
	PeerRequestTTL          time.Duration `yaml:"peer_request_ttl" validate:"gt=0"`
	SweepInterval           time.Duration `yaml:"sweep_interval" validate:"gt=0"`
	RejectDuplicateRequests bool          `yaml:"reject_duplicate_requests"`
}

type BillingConfig struct {
	CGSTRate decimal.Decimal `yaml:"-"`
	SGSTRate decimal.Decimal `yaml:"-"`

	CGST string `yaml:"cgst_rate"`
	SGST string `yaml:"sgst_rate"`
}

type Config struct {
	App      AppConfig      `yaml:"app"`
	Postgres PostgresConfig `yaml:"postgres"`
	Auth     AuthConfig     `yaml:"auth"`
	Stock    StockConfig    `yaml:"stock"`
	Billing  BillingConfig  `yaml:"billing"`
}

func defaults() *Config {
	cfg := &Config{}
	cfg.App.Name = "tff-service"
	cfg.App.Port = "8080"
	cfg.App.LogLevel = "info"

	cfg.Postgres.Port = "5432"
	cfg.Postgres.SSLMode = "disable"
	cfg.Postgres.MaxConns = 10
	cfg.Postgres.MinConns = 2
	cfg.Postgres.MaxConnLifetime = 30 * time.Minute
	cfg.Postgres.MigrationsPath = "migrations"

	cfg.Stock.PeerRequestTTL = 15 * time.Minute
	cfg.Stock.SweepInterval = time.Minute
	cfg.Stock.RejectDuplicateRequests = true

	cfg.Billing.CGST = "0.025"
	cfg.Billing.SGST = "0.025"
	return cfg
}

// NewConfig builds the configuration from defaults, an optional YAML file
// (CONFIG_FILE), an optional .env file and the process environment, in that
// order of precedence.
func NewConfig() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed open config file: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(c); err != nil {
		return fmt.Errorf("invalid config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.App.Port, "APP_PORT")
	setString(&c.App.LogLevel, "LOG_LEVEL")

	setString(&c.Postgres.Host, "DB_HOST")
	setString(&c.Postgres.Port, "DB_PORT")
	setString(&c.Postgres.User, "DB_USER")
	setString(&c.Postgres.Password, "DB_PASSWORD")
	setString(&c.Postgres.DBName, "DB_NAME")
	setString(&c.Postgres.SSLMode, "DB_SSLMODE")
	setString(&c.Postgres.MigrationsPath, "MIGRATIONS_PATH")
	if err := setInt32(&c.Postgres.MaxConns, "DB_MAX_CONNS"); err != nil {
		return err
	}
	if err := setInt32(&c.Postgres.MinConns, "DB_MIN_CONNS"); err != nil {
		return err
	}
	if err := setDuration(&c.Postgres.MaxConnLifetime, "DB_MAX_CONN_LIFETIME"); err != nil {
		return err
	}

	setString(&c.Auth.JWTSecret, "JWT_SECRET")

	if err := setDuration(&c.Stock.PeerRequestTTL, "PEER_REQUEST_TTL"); err != nil {
		return err
	}
	if err := setDuration(&c.Stock.SweepInterval, "SWEEP_INTERVAL"); err != nil {
		return err
	}
	if v := os.Getenv("REJECT_DUPLICATE_REQUESTS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid REJECT_DUPLICATE_REQUESTS %q: %w", v, err)
		}
		c.Stock.RejectDuplicateRequests = b
	}

	setString(&c.Billing.CGST, "CGST_RATE")
	setString(&c.Billing.SGST, "SGST_RATE")
	return nil
}

func (c *Config) finalize() error {
	var err error
	if c.Billing.CGSTRate, err = decimal.NewFromString(c.Billing.CGST); err != nil {
		return fmt.Errorf("invalid cgst rate %q: %w", c.Billing.CGST, err)
	}
	if c.Billing.SGSTRate, err = decimal.NewFromString(c.Billing.SGST); err != nil {
		return fmt.Errorf("invalid sgst rate %q: %w", c.Billing.SGST, err)
	}
	if c.Billing.CGSTRate.IsNegative() || c.Billing.SGSTRate.IsNegative() {
		return errors.New("tax rates must not be negative")
	}

	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt32(dst *int32, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = int32(n)
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d
	return nil
}

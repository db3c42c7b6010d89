// Package config loads the explicit runtime configuration from viper.
package config

import (
	"fmt"
	"time"

	"github.com/Veraticus/spice-reconcile/internal/common"
	"github.com/Veraticus/spice-reconcile/internal/service"
	"github.com/spf13/viper"
)

// Invoice sources.
const (
	InvoiceSourceSQLite = "sqlite"
	InvoiceSourceHTTP   = "http"
)

// Config is the explicit configuration handed to the pipeline entry point.
type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	Invoices   InvoicesConfig
	Settlement SettlementConfig
	Retry      service.RetryOptions
	Matching   MatchingConfig
	Currency   CurrencyConfig
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string
}

// ServerConfig configures the HTTP ingestion endpoint.
type ServerConfig struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxUploadBytes int64
}

// CurrencyConfig sets how many decimal places one major unit has.
// JPY has none, so yen amounts are stored as is.
type CurrencyConfig struct {
	Exponent int32
}

// MatchingConfig bounds matching concurrency.
type MatchingConfig struct {
	Workers int
}

// SettlementConfig controls payment record creation.
type SettlementConfig struct {
	ConfirmedBy string
	Timeout     time.Duration
}

// InvoicesConfig selects the invoice collaborator.
type InvoicesConfig struct {
	Source  string
	BaseURL string
	Token   string
	Timeout time.Duration
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "~/.local/share/reconcile/reconcile.db")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.max_upload_bytes", int64(10<<20))
	v.SetDefault("currency.exponent", 0)
	v.SetDefault("matching.workers", 4)
	v.SetDefault("settlement.confirmed_by", "system")
	v.SetDefault("settlement.timeout", 10*time.Second)
	v.SetDefault("invoices.source", InvoiceSourceSQLite)
	v.SetDefault("invoices.timeout", 5*time.Second)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay", 200*time.Millisecond)
	v.SetDefault("retry.max_delay", 5*time.Second)
	v.SetDefault("retry.multiplier", 2.0)
}

// Default returns the configuration produced by SetDefaults alone.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	if err != nil {
		// Defaults are constants; failing here is a programming error.
		panic(err)
	}
	return cfg
}

// Load builds a Config from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Path: ExpandPath(v.GetString("database.path")),
		},
		Server: ServerConfig{
			Addr:           v.GetString("server.addr"),
			ReadTimeout:    v.GetDuration("server.read_timeout"),
			WriteTimeout:   v.GetDuration("server.write_timeout"),
			MaxUploadBytes: v.GetInt64("server.max_upload_bytes"),
		},
		Currency: CurrencyConfig{
			Exponent: v.GetInt32("currency.exponent"),
		},
		Matching: MatchingConfig{
			Workers: v.GetInt("matching.workers"),
		},
		Settlement: SettlementConfig{
			ConfirmedBy: v.GetString("settlement.confirmed_by"),
			Timeout:     v.GetDuration("settlement.timeout"),
		},
		Invoices: InvoicesConfig{
			Source:  v.GetString("invoices.source"),
			BaseURL: v.GetString("invoices.base_url"),
			Token:   v.GetString("invoices.token"),
			Timeout: v.GetDuration("invoices.timeout"),
		},
		Retry: service.RetryOptions{
			MaxAttempts:  v.GetInt("retry.max_attempts"),
			InitialDelay: v.GetDuration("retry.initial_delay"),
			MaxDelay:     v.GetDuration("retry.max_delay"),
			Multiplier:   v.GetFloat64("retry.multiplier"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path", common.ErrMissingConfig)
	}
	if c.Currency.Exponent < 0 || c.Currency.Exponent > 4 {
		return fmt.Errorf("%w: currency.exponent must be between 0 and 4, got %d", common.ErrInvalidConfig, c.Currency.Exponent)
	}
	if c.Matching.Workers < 1 {
		return fmt.Errorf("%w: matching.workers must be positive", common.ErrInvalidConfig)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("%w: server.max_upload_bytes must be positive", common.ErrInvalidConfig)
	}
	switch c.Invoices.Source {
	case InvoiceSourceSQLite:
	case InvoiceSourceHTTP:
		if c.Invoices.BaseURL == "" {
			return fmt.Errorf("%w: invoices.base_url is required for the http source", common.ErrMissingConfig)
		}
	default:
		return fmt.Errorf("%w: invoices.source %q", common.ErrInvalidConfig, c.Invoices.Source)
	}
	return nil
}

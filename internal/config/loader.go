package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix  = "LOOTBOX_"
	envFileVar = "LOOTBOX_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if LOOTBOX_CONFIG is set
//  3. env (prefix LOOTBOX_, "__" separates nested keys)
func Load(_ context.Context) (*Config, error) {
	k := koanf.New(".")

	if path := os.Getenv(envFileVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// LOOTBOX_COMMERCE__ACCESS_TOKEN -> commerce.access_token
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		if s == envFileVar {
			return ""
		}
		s = strings.TrimPrefix(s, envPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := New()
	// Configured lists replace the defaults instead of merging into them
	// element by element.
	for key, list := range map[string]any{
		"boxes":                &cfg.Boxes,
		"cors.allowed_origins": &cfg.CORS.AllowedOrigins,
		"cors.allowed_methods": &cfg.CORS.AllowedMethods,
		"cors.allowed_headers": &cfg.CORS.AllowedHeaders,
	} {
		if !k.Exists(key) {
			continue
		}
		switch l := list.(type) {
		case *[]BoxConfig:
			*l = nil
		case *[]string:
			*l = nil
		}
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the process cannot start without.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.Commerce.BaseURL == "":
		return fmt.Errorf("%w: commerce.base_url must not be empty", ErrInvalidConfig)
	case c.Commerce.TimeoutMS <= 0:
		return fmt.Errorf("%w: commerce.timeout_ms must be positive", ErrInvalidConfig)
	case c.Lock.WaitTimeoutMS <= 0:
		return fmt.Errorf("%w: lock.wait_timeout_ms must be positive", ErrInvalidConfig)
	}

	// A spin makes up to three commerce calls while holding the lock.
	if c.Redis.Addr != "" && c.Redis.LockTTLMS <= 3*c.Commerce.TimeoutMS {
		return fmt.Errorf("%w: redis.lock_ttl_ms must exceed three times commerce.timeout_ms", ErrInvalidConfig)
	}

	switch c.Ledger.Driver {
	case LedgerMemory:
	case LedgerPostgres:
		if c.Ledger.DSN == "" {
			return fmt.Errorf("%w: ledger.dsn is required for the postgres driver", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown ledger.driver %q", ErrInvalidConfig, c.Ledger.Driver)
	}

	if c.Reconcile.Enabled {
		if c.Reconcile.WorkerCount <= 0 || c.Reconcile.QueueSize <= 0 ||
			c.Reconcile.IntervalMS <= 0 || c.Reconcile.MaxAttempts <= 0 || c.Reconcile.BatchSize <= 0 {
			return fmt.Errorf("%w: reconcile settings must be positive when enabled", ErrInvalidConfig)
		}
	}
	return nil
}

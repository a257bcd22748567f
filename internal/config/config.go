// Package config defines service configuration structures and loading hooks.
package config

import (
	"time"

	"github.com/okian/lootbox/internal/domain/model"
)

// Ledger drivers.
const (
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat is "json" or "text".
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	Commerce    CommerceConfig    `koanf:"commerce"`
	Balance     BalanceConfig     `koanf:"balance"`
	Lock        LockConfig        `koanf:"lock"`
	Redis       RedisConfig       `koanf:"redis"`
	Ledger      LedgerConfig      `koanf:"ledger"`
	Reconcile   ReconcileConfig   `koanf:"reconcile"`
	Idempotency IdempotencyConfig `koanf:"idempotency"`
	CORS        CORSConfig        `koanf:"cors"`

	// Boxes is the static loot box table.
	Boxes []BoxConfig `koanf:"boxes"`
}

// CommerceConfig points at the store admin API holding balances and orders.
type CommerceConfig struct {
	BaseURL     string `koanf:"base_url"`
	APIVersion  string `koanf:"api_version"`
	AccessToken string `koanf:"access_token"`
	TimeoutMS   int    `koanf:"timeout_ms"`
}

// BalanceConfig names the customer attribute that stores credits.
type BalanceConfig struct {
	Namespace string `koanf:"namespace"`
	Key       string `koanf:"key"`
}

type LockConfig struct {
	WaitTimeoutMS int `koanf:"wait_timeout_ms"`
}

// RedisConfig enables the distributed per-customer lock when Addr is set.
type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	LockTTLMS int    `koanf:"lock_ttl_ms"`
}

type LedgerConfig struct {
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
}

// ReconcileConfig drives the background retry of failed fulfillments.
type ReconcileConfig struct {
	Enabled     bool `koanf:"enabled"`
	WorkerCount int  `koanf:"worker_count"`
	QueueSize   int  `koanf:"queue_size"`
	IntervalMS  int  `koanf:"interval_ms"`
	MaxAttempts int  `koanf:"max_attempts"`
	BatchSize   int  `koanf:"batch_size"`
}

type IdempotencyConfig struct {
	CacheSize int `koanf:"cache_size"`
}

type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
	AllowedMethods []string `koanf:"allowed_methods"`
	AllowedHeaders []string `koanf:"allowed_headers"`
	MaxAge         int      `koanf:"max_age"`
}

// BoxConfig is one loot box as written in the config file.
type BoxConfig struct {
	ID           string       `koanf:"id"`
	Name         string       `koanf:"name"`
	PriceCredits int64        `koanf:"price_credits"`
	Items        []ItemConfig `koanf:"items"`
}

type ItemConfig struct {
	VariantID string  `koanf:"variant_id"`
	Title     string  `koanf:"title"`
	Weight    float64 `koanf:"weight"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Addr:      ":9080",
		Commerce: CommerceConfig{
			APIVersion: "2024-01",
			TimeoutMS:  10_000,
		},
		Balance: BalanceConfig{
			Namespace: "custom",
			Key:       "credits_elyxyr",
		},
		Lock:  LockConfig{WaitTimeoutMS: 5_000},
		Redis: RedisConfig{LockTTLMS: 45_000},
		Ledger: LedgerConfig{
			Driver: LedgerMemory,
		},
		Reconcile: ReconcileConfig{
			Enabled:     true,
			WorkerCount: 2,
			QueueSize:   1024,
			IntervalMS:  30_000,
			MaxAttempts: 5,
			BatchSize:   100,
		},
		Idempotency: IdempotencyConfig{CacheSize: 50_000},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Idempotency-Key"},
			MaxAge:         600,
		},
		Boxes: []BoxConfig{{
			ID:           "starter",
			Name:         "Starter Box",
			PriceCredits: 10,
			Items: []ItemConfig{
				{VariantID: "starter-common", Title: "Common prize", Weight: 60},
				{VariantID: "starter-rare", Title: "Rare prize", Weight: 30},
				{VariantID: "starter-epic", Title: "Epic prize", Weight: 10},
			},
		}},
	}
}

// LootBoxes converts the box table into domain values. Validation is left
// to the catalog.
func (c *Config) LootBoxes() []model.LootBox {
	out := make([]model.LootBox, 0, len(c.Boxes))
	for _, b := range c.Boxes {
		box := model.LootBox{
			ID:           b.ID,
			DisplayName:  b.Name,
			PriceCredits: b.PriceCredits,
			Items:        make([]model.LootItem, 0, len(b.Items)),
		}
		for _, it := range b.Items {
			box.Items = append(box.Items, model.LootItem{
				PrizeRef:    it.VariantID,
				DisplayName: it.Title,
				Weight:      it.Weight,
			})
		}
		out = append(out, box)
	}
	return out
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c CommerceConfig) Timeout() time.Duration   { return ms(c.TimeoutMS) }
func (c LockConfig) WaitTimeout() time.Duration   { return ms(c.WaitTimeoutMS) }
func (c RedisConfig) LockTTL() time.Duration      { return ms(c.LockTTLMS) }
func (c ReconcileConfig) Interval() time.Duration { return ms(c.IntervalMS) }

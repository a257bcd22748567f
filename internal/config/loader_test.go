package config_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/okian/lootbox/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When only the commerce backend is set", func() {
			_ = os.Setenv("LOOTBOX_COMMERCE__BASE_URL", "https://shop.example")

			cfg, err := config.Load(ctx)

			convey.Convey("Then defaults should fill the rest", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.Commerce.BaseURL, convey.ShouldEqual, "https://shop.example")
				convey.So(cfg.Commerce.APIVersion, convey.ShouldEqual, "2024-01")
				convey.So(len(cfg.Boxes), convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When nothing is set", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then the missing base url should be reported", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "commerce.base_url")
			})
		})

		convey.Convey("When nested keys are set through the environment", func() {
			_ = os.Setenv("LOOTBOX_ADDR", ":8080")
			_ = os.Setenv("LOOTBOX_COMMERCE__BASE_URL", "https://shop.example")
			_ = os.Setenv("LOOTBOX_COMMERCE__ACCESS_TOKEN", "shpat_x")
			_ = os.Setenv("LOOTBOX_COMMERCE__TIMEOUT_MS", "2500")
			_ = os.Setenv("LOOTBOX_REDIS__ADDR", "localhost:6379")
			_ = os.Setenv("LOOTBOX_RECONCILE__ENABLED", "false")
			_ = os.Setenv("LOOTBOX_IDEMPOTENCY__CACHE_SIZE", "10")

			cfg, err := config.Load(ctx)

			convey.Convey("Then they should override defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.Commerce.AccessToken, convey.ShouldEqual, "shpat_x")
				convey.So(cfg.Commerce.TimeoutMS, convey.ShouldEqual, 2500)
				convey.So(cfg.Redis.Addr, convey.ShouldEqual, "localhost:6379")
				convey.So(cfg.Reconcile.Enabled, convey.ShouldBeFalse)
				convey.So(cfg.Idempotency.CacheSize, convey.ShouldEqual, 10)
			})
		})

		convey.Convey("When loading a YAML file", func() {
			tmpFile := createTempConfigFile(`
addr: ":9090"
commerce:
  base_url: "https://file.example"
ledger:
  driver: postgres
  dsn: "postgres://lootbox@localhost/lootbox?sslmode=disable"
cors:
  allowed_origins: ["https://shop.example"]
boxes:
  - id: silver
    name: Silver Box
    price_credits: 25
    items:
      - variant_id: v-sword
        title: Sword
        weight: 3
      - variant_id: v-shield
        title: Shield
        weight: 1.5
`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("LOOTBOX_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then the file should replace the default tables", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.Ledger.Driver, convey.ShouldEqual, config.LedgerPostgres)
				convey.So(cfg.CORS.AllowedOrigins, convey.ShouldResemble, []string{"https://shop.example"})
				convey.So(len(cfg.Boxes), convey.ShouldEqual, 1)

				boxes := cfg.LootBoxes()
				convey.So(boxes[0].ID, convey.ShouldEqual, "silver")
				convey.So(boxes[0].PriceCredits, convey.ShouldEqual, 25)
				convey.So(boxes[0].Items[1].PrizeRef, convey.ShouldEqual, "v-shield")
				convey.So(boxes[0].Items[1].Weight, convey.ShouldEqual, 1.5)
			})

			convey.Convey("And env should win over the file", func() {
				_ = os.Setenv("LOOTBOX_ADDR", ":7070")
				cfg, err := config.Load(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.Commerce.BaseURL, convey.ShouldEqual, "https://file.example")
			})
		})

		convey.Convey("When the postgres driver has no dsn", func() {
			_ = os.Setenv("LOOTBOX_COMMERCE__BASE_URL", "https://shop.example")
			_ = os.Setenv("LOOTBOX_LEDGER__DRIVER", "postgres")

			_, err := config.Load(ctx)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "ledger.dsn")
		})

		convey.Convey("When the ledger driver is unknown", func() {
			_ = os.Setenv("LOOTBOX_COMMERCE__BASE_URL", "https://shop.example")
			_ = os.Setenv("LOOTBOX_LEDGER__DRIVER", "mongo")

			_, err := config.Load(ctx)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When the redis lock could expire during a spin", func() {
			_ = os.Setenv("LOOTBOX_COMMERCE__BASE_URL", "https://shop.example")
			_ = os.Setenv("LOOTBOX_REDIS__ADDR", "localhost:6379")
			_ = os.Setenv("LOOTBOX_REDIS__LOCK_TTL_MS", "30000")

			_, err := config.Load(ctx)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "redis.lock_ttl_ms")

			convey.Convey("And a longer TTL should be accepted", func() {
				_ = os.Setenv("LOOTBOX_REDIS__LOCK_TTL_MS", "30001")
				cfg, err := config.Load(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Redis.LockTTL(), convey.ShouldEqual, 30001*time.Millisecond)
			})
		})

		convey.Convey("When reconcile is enabled with zero workers", func() {
			_ = os.Setenv("LOOTBOX_COMMERCE__BASE_URL", "https://shop.example")
			_ = os.Setenv("LOOTBOX_RECONCILE__WORKER_COUNT", "0")

			_, err := config.Load(ctx)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When the YAML file is invalid", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("LOOTBOX_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)
			convey.So(cfg, convey.ShouldBeNil)
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When the YAML file does not exist", func() {
			_ = os.Setenv("LOOTBOX_CONFIG", "/nonexistent/lootbox.yaml")

			cfg, err := config.Load(ctx)
			convey.So(cfg, convey.ShouldBeNil)
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"LOOTBOX_CONFIG",
		"LOOTBOX_ADDR",
		"LOOTBOX_COMMERCE__BASE_URL",
		"LOOTBOX_COMMERCE__ACCESS_TOKEN",
		"LOOTBOX_COMMERCE__TIMEOUT_MS",
		"LOOTBOX_REDIS__ADDR",
		"LOOTBOX_REDIS__LOCK_TTL_MS",
		"LOOTBOX_LEDGER__DRIVER",
		"LOOTBOX_RECONCILE__ENABLED",
		"LOOTBOX_RECONCILE__WORKER_COUNT",
		"LOOTBOX_IDEMPOTENCY__CACHE_SIZE",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "lootbox-config-*.yaml")
	if err != nil {
		panic(err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}
	if err := tmpFile.Close(); err != nil {
		panic(err)
	}
	return tmpFile.Name()
}

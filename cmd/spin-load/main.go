package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/okian/lootbox/internal/spinload"
	"github.com/okian/lootbox/pkg/logger"
)

const (
	defaultSpins       = 20
	defaultWorkers     = 8
	defaultTimeout     = 30 * time.Second
	defaultTestTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:9080", "Base URL of the gateway")
		customer = flag.String("customer", "", "Customer ID whose credits are spent")
		box      = flag.String("box", "starter", "Box ID to spin")
		spins    = flag.Int("spins", defaultSpins, "Number of distinct spins")
		replays  = flag.Int("replays", 0, "Number of spins re-sent with an already used Idempotency-Key")
		workers  = flag.Int("workers", defaultWorkers, "Number of concurrent workers")
		timeout  = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		verbose  = flag.Bool("verbose", false, "Log every response")
	)
	flag.Parse()

	if err := logger.Init(logger.WithFormat("text")); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	_, err := spinload.Run(ctx, &spinload.Config{
		BaseURL:    *baseURL,
		CustomerID: *customer,
		BoxID:      *box,
		NumSpins:   *spins,
		Replays:    *replays,
		Workers:    *workers,
		Timeout:    *timeout,
		Verbose:    *verbose,
	})
	if err != nil {
		logger.Get().Error(ctx, "load test failed", logger.Error(err))
		os.Exit(1)
	}
}

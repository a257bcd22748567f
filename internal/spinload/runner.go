// Package spinload drives concurrent spins against a running gateway and
// checks that no credit was lost or double-charged.
package spinload

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/lootbox/pkg/logger"
)

var (
	ErrUnknownBox    = errors.New("box not offered by gateway")
	ErrBalanceDrift  = errors.New("balance does not match successful spins")
	ErrInvalidConfig = errors.New("invalid load config")
)

type result int

const (
	resultSucceeded result = iota
	resultReplayed
	resultInsufficient
	resultInProgress
	resultFailed
)

type job struct {
	key string
}

// Run executes the load test and returns its statistics. The returned error
// is ErrBalanceDrift when the final balance disagrees with the number of
// charged spins.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if cfg.NumSpins <= 0 || cfg.Workers <= 0 || cfg.CustomerID == "" || cfg.BoxID == "" {
		return nil, fmt.Errorf("%w: spins, workers, customer and box are required", ErrInvalidConfig)
	}
	log := logger.Get().Named("spinload")
	c := newClient(cfg.BaseURL, cfg.Timeout)
	stats := &Stats{StartTime: time.Now()}

	log.Info(ctx, "starting spin load",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("customer", cfg.CustomerID),
		logger.String("box", cfg.BoxID),
		logger.Int("spins", cfg.NumSpins),
		logger.Int("replays", cfg.Replays),
		logger.Int("workers", cfg.Workers))

	if err := c.getJSON(ctx, "/ping", nil); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	var boxes []Box
	if err := c.getJSON(ctx, "/boxes", &boxes); err != nil {
		return nil, fmt.Errorf("list boxes: %w", err)
	}
	stats.Price = -1
	for _, b := range boxes {
		if b.ID == cfg.BoxID {
			stats.Price = b.PriceCredits
		}
	}
	if stats.Price < 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBox, cfg.BoxID)
	}

	before, err := c.balance(ctx, cfg.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	stats.BalanceBefore = before

	jobs := plan(cfg.NumSpins, cfg.Replays)
	counts := submit(ctx, c, cfg, jobs, log)
	stats.Submitted = len(jobs)
	stats.Succeeded = counts.byResult[resultSucceeded]
	stats.Replayed = counts.byResult[resultReplayed]
	stats.Insufficient = counts.byResult[resultInsufficient]
	stats.InProgress = counts.byResult[resultInProgress]
	stats.Failed = counts.byResult[resultFailed]
	stats.OrdersFailed = counts.ordersFailed

	after, err := c.balance(ctx, cfg.CustomerID)
	if err != nil {
		return stats, fmt.Errorf("read balance: %w", err)
	}
	stats.BalanceAfter = after
	stats.Duration = time.Since(stats.StartTime)

	displayFinalStats(ctx, log, stats)
	return stats, verify(stats)
}

// plan builds n fresh keys followed by replays of the first ones.
func plan(n, replays int) []job {
	jobs := make([]job, 0, n+replays)
	for i := 0; i < n; i++ {
		jobs = append(jobs, job{key: uuid.NewString()})
	}
	for i := 0; i < replays; i++ {
		jobs = append(jobs, job{key: jobs[i%n].key})
	}
	return jobs
}

type tally struct {
	mu           sync.Mutex
	byResult     map[result]int
	ordersFailed int
}

func submit(ctx context.Context, c *client, cfg *Config, jobs []job, log logger.Logger) *tally {
	t := &tally{byResult: map[result]int{}}
	ch := make(chan job, cfg.Workers*2)
	var wg sync.WaitGroup

	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range ch {
				code, resp, err := c.spin(ctx, cfg.CustomerID, cfg.BoxID, j.key)
				r := classify(code, resp, err)
				if cfg.Verbose {
					log.Debug(ctx, "spin", logger.String("key", j.key), logger.Int("status", code), logger.Any("error", err))
				}

				t.mu.Lock()
				t.byResult[r]++
				if r == resultSucceeded && resp.OrderError != nil {
					t.ordersFailed++
				}
				t.mu.Unlock()
			}
		}()
	}

	go func() {
		defer close(ch)
		for _, j := range jobs {
			select {
			case <-ctx.Done():
				return
			case ch <- j:
			}
		}
	}()

	wg.Wait()
	return t
}

func classify(code int, resp SpinResponse, err error) result {
	switch {
	case err != nil:
		return resultFailed
	case code == http.StatusOK && resp.Replayed:
		return resultReplayed
	case code == http.StatusOK:
		return resultSucceeded
	case code == http.StatusBadRequest:
		return resultInsufficient
	case code == http.StatusConflict:
		return resultInProgress
	default:
		return resultFailed
	}
}

// verify checks before - succeeded*price == after. Failed requests leave the
// outcome unknown, so drift is only reported when every request was answered.
func verify(s *Stats) error {
	if s.Failed > 0 {
		return nil
	}
	want := s.BalanceBefore - int64(s.Succeeded)*s.Price
	if want != s.BalanceAfter {
		return fmt.Errorf("%w: before %d, %d spins at %d, want %d, got %d",
			ErrBalanceDrift, s.BalanceBefore, s.Succeeded, s.Price, want, s.BalanceAfter)
	}
	return nil
}

func displayFinalStats(ctx context.Context, log logger.Logger, s *Stats) {
	var spinsPerSecond float64
	if s.Duration > 0 {
		spinsPerSecond = float64(s.Submitted) / s.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int("submitted", s.Submitted),
		logger.Int("succeeded", s.Succeeded),
		logger.Int("replayed", s.Replayed),
		logger.Int("insufficient", s.Insufficient),
		logger.Int("inProgress", s.InProgress),
		logger.Int("failed", s.Failed),
		logger.Int("ordersFailed", s.OrdersFailed),
		logger.Int64("balanceBefore", s.BalanceBefore),
		logger.Int64("balanceAfter", s.BalanceAfter),
		logger.Duration("duration", s.Duration),
		logger.Float64("spinsPerSecond", spinsPerSecond))
}

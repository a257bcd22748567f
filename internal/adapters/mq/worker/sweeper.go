package worker

import (
	"context"
	"time"

	"github.com/okian/lootbox/internal/domain/model"
	"github.com/okian/lootbox/pkg/logger"
)

const (
	defaultSweepInterval = 30 * time.Second
	defaultSweepBatch    = 100
)

// FailedLister lists ledger entries that may be retried.
type FailedLister interface {
	ListFailed(ctx context.Context, maxAttempts, limit int) ([]model.LedgerEntry, error)
}

// Enqueuer accepts jobs for the pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, j Job) bool
}

// Sweeper periodically moves retryable failed entries from the ledger onto
// the queue. Entries written before a restart are picked up this way.
type Sweeper struct {
	lister      FailedLister
	queue       Enqueuer
	interval    time.Duration
	batchSize   int
	maxAttempts int
	logger      logger.Logger
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithSweepBatch(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithSweepMaxAttempts(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func NewSweeper(lister FailedLister, q Enqueuer, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		lister:      lister,
		queue:       q,
		interval:    defaultSweepInterval,
		batchSize:   defaultSweepBatch,
		maxAttempts: defaultMaxAttempts,
		logger:      logger.Get().Named("sweeper"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SweepOnce enqueues one batch and returns how many jobs were accepted.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	entries, err := s.lister.ListFailed(ctx, s.maxAttempts, s.batchSize)
	if err != nil {
		return 0, err
	}
	accepted := 0
	for _, e := range entries {
		if !s.queue.Enqueue(ctx, e) {
			break
		}
		accepted++
	}
	return accepted, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				s.logger.Error(ctx, "ledger sweep failed", logger.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Debug(ctx, "ledger sweep enqueued retries", logger.Int("count", n))
			}
		}
	}
}

package service

import (
	"time"

	"github.com/okian/lootbox/internal/adapters/lock"
	"github.com/okian/lootbox/internal/adapters/repository"
	"github.com/okian/lootbox/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLocker replaces the in-process per-customer lock, e.g. with a Redis
// lock shared by several replicas.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithLockWaitTimeout bounds how long a spin waits for the customer lock.
func WithLockWaitTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lockWait = d
		}
	}
}

// WithLedger sets the ledger store. Defaults to an in-memory store.
func WithLedger(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.ledger = store
		}
	}
}

// WithSampler sets the draw engine.
func WithSampler(sm Sampler) Option {
	return func(s *Service) {
		if sm != nil {
			s.sampler = sm
		}
	}
}

// WithOrderTimeout bounds each commerce call made after the balance check:
// the balance write and the order creation.
func WithOrderTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.orderTimeout = d
		}
	}
}

// WithDedupeSize sets how many idempotency keys are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithReconcile enables background fulfillment retries.
func WithReconcile(enabled bool) Option {
	return func(s *Service) {
		s.reconcile = enabled
	}
}

// WithWorkerCount sets the number of reconcile workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the reconcile queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithMaxAttempts caps order attempts per spin, the first one included.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithSweepInterval sets how often failed ledger entries are re-queued.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// WithSweepBatch sets how many entries one sweep loads.
func WithSweepBatch(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sweepBatch = n
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now for spin timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

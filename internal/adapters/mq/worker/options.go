package worker

import (
	"time"

	"github.com/okian/lootbox/internal/adapters/lock"
	"github.com/okian/lootbox/pkg/logger"
)

// Option applies a configuration option to a Pool.
type Option func(*Pool)

// WithName sets the pool name used in logs.
func WithName(name string) Option {
	return func(p *Pool) {
		if name != "" {
			p.name = name
		}
	}
}

// WithLogger sets a custom logger for the pool and its workers.
func WithLogger(l logger.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMaxAttempts caps order attempts per ledger entry, the first attempt
// made during the spin included.
func WithMaxAttempts(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.rec.maxAttempts = n
		}
	}
}

// WithCallTimeout bounds each order creation call.
func WithCallTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.rec.callTimeout = d
		}
	}
}

// WithClaimLocker sets the lock a worker takes on a spin before retrying it.
// Pools on several replicas must share one, e.g. the Redis lock.
func WithClaimLocker(l lock.Locker) Option {
	return func(p *Pool) {
		if l != nil {
			p.rec.claims = l
		}
	}
}

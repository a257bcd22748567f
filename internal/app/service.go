// Package service wires the spin orchestrator and the background reconciler
// behind the operations the HTTP API needs.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/okian/lootbox/internal/adapters/lock"
	eventqueue "github.com/okian/lootbox/internal/adapters/mq/queue"
	workerpool "github.com/okian/lootbox/internal/adapters/mq/worker"
	"github.com/okian/lootbox/internal/adapters/repository"
	"github.com/okian/lootbox/internal/domain/dedupe"
	"github.com/okian/lootbox/internal/domain/draw"
	"github.com/okian/lootbox/internal/domain/model"
	"github.com/okian/lootbox/pkg/logger"
	"github.com/okian/lootbox/pkg/metrics"
)

// BalanceStore reads and overwrites a customer's credit balance.
type BalanceStore interface {
	GetBalance(ctx context.Context, customerID string) (int64, error)
	SetBalance(ctx context.Context, customerID string, value int64) error
}

// Fulfiller creates the order that delivers a prize.
type Fulfiller interface {
	CreateOrder(ctx context.Context, customerID, prizeRef, note string) (string, error)
}

// BoxCatalog resolves box ids.
type BoxCatalog interface {
	LookupBox(id string) (model.LootBox, bool)
	Boxes() []model.LootBox
}

// Sampler draws one item from a box.
type Sampler interface {
	Sample(items []model.LootItem) (model.DrawResult, error)
}

// Service implements the API dependencies for the lootbox gateway.
type Service struct {
	mu sync.RWMutex

	// Core components
	balances BalanceStore
	orders   Fulfiller
	boxes    BoxCatalog
	sampler  Sampler
	locker   lock.Locker
	ledger   repository.Store
	deduper  dedupe.Deduper

	// Reconciler
	queue   eventqueue.Queue
	pool    *workerpool.Pool
	sweeper *workerpool.Sweeper

	// Configuration
	lockWait      time.Duration
	orderTimeout  time.Duration
	dedupeSize    int
	reconcile     bool
	workerCount   int
	queueSize     int
	maxAttempts   int
	sweepInterval time.Duration
	sweepBatch    int
	now           func() time.Time

	// State
	started bool
	cancel  context.CancelFunc
	bg      sync.WaitGroup

	logger logger.Logger
}

// New constructs a Service. It can serve spins right away; Start only
// launches the reconciler.
func New(balances BalanceStore, orders Fulfiller, boxes BoxCatalog, opts ...Option) *Service {
	s := &Service{
		balances:      balances,
		orders:        orders,
		boxes:         boxes,
		lockWait:      5 * time.Second,
		orderTimeout:  15 * time.Second,
		dedupeSize:    50000,
		workerCount:   2,
		queueSize:     1024,
		maxAttempts:   5,
		sweepInterval: 30 * time.Second,
		sweepBatch:    100,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger = s.logger.Named("spin")
	if s.locker == nil {
		s.locker = lock.NewKeyedMutex()
	}
	if s.ledger == nil {
		s.ledger = repository.NewMemoryStore()
	}
	if s.sampler == nil {
		s.sampler = draw.NewEngine()
	}
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	return s
}

// Start launches the reconcile workers and the ledger sweeper when
// reconciliation is enabled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.balances == nil || s.orders == nil || s.boxes == nil {
		return fmt.Errorf("%w: missing balance store, fulfiller or catalog", ErrInvalidConfiguration)
	}

	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	if s.reconcile {
		s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
		s.pool = workerpool.NewPool(s.workerCount, s.queue, s.orders, s.ledger,
			workerpool.WithMaxAttempts(s.maxAttempts),
			workerpool.WithCallTimeout(s.orderTimeout),
			workerpool.WithClaimLocker(s.locker),
			workerpool.WithLogger(s.logger),
		)
		s.sweeper = workerpool.NewSweeper(s.ledger, s.queue,
			workerpool.WithSweepInterval(s.sweepInterval),
			workerpool.WithSweepBatch(s.sweepBatch),
			workerpool.WithSweepMaxAttempts(s.maxAttempts),
		)
		s.pool.Start(bgCtx)
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			s.sweeper.Run(bgCtx)
		}()
	}

	s.started = true
	s.logger.Info(ctx, "lootbox service started",
		logger.Bool("reconcile", s.reconcile),
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
	)
	return nil
}

// Stop shuts the reconciler down. Spins already past their debit finish on
// their own goroutines.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping lootbox service...")

	var err error
	if s.pool != nil {
		err = s.pool.Shutdown(ctx)
	}
	s.cancel()
	s.bg.Wait()

	if closer, ok := s.ledger.(interface{ Close() error }); ok {
		if cerr := closer.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}

	s.started = false
	s.logger.Info(ctx, "lootbox service stopped")
	return err
}

// Boxes lists the configured boxes in definition order.
func (s *Service) Boxes() []model.LootBox {
	return s.boxes.Boxes()
}

// Balance returns a customer's current credits without modifying them.
func (s *Service) Balance(ctx context.Context, customerID string) (int64, error) {
	if strings.TrimSpace(customerID) == "" {
		return 0, fmt.Errorf("%w: customerId is required", ErrInvalidInput)
	}
	v, err := s.balances.GetBalance(ctx, customerID)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return v, nil
}

// LedgerEntry returns the ledger record of a spin.
func (s *Service) LedgerEntry(ctx context.Context, spinID string) (model.LedgerEntry, error) {
	if strings.TrimSpace(spinID) == "" {
		return model.LedgerEntry{}, fmt.Errorf("%w: spinId is required", ErrInvalidInput)
	}
	e, err := s.ledger.Get(ctx, spinID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return model.LedgerEntry{}, fmt.Errorf("%w: %s", ErrLedgerNotFound, spinID)
	case err != nil:
		return model.LedgerEntry{}, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
	return e, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":         s.started,
		"reconcile":       s.reconcile,
		"boxes":           len(s.boxes.Boxes()),
		"idempotencyKeys": s.deduper.Size(),
		"dedupeSize":      s.dedupeSize,
		"maxAttempts":     s.maxAttempts,
	}
	if n, err := s.ledger.Count(ctx); err == nil {
		stats["ledgerEntries"] = n
	} else {
		metrics.RecordLedgerError("count")
	}
	if s.started && s.reconcile {
		stats["queueLength"] = s.queue.Len(ctx)
		stats["reconciler"] = s.pool.Stats()
	}
	return stats
}

// enqueueRetry hands a failed fulfillment to the reconciler when it runs.
func (s *Service) enqueueRetry(ctx context.Context, e model.LedgerEntry) {
	s.mu.RLock()
	q := s.queue
	running := s.started && s.reconcile
	s.mu.RUnlock()

	if !running || q == nil {
		return
	}
	if !q.Enqueue(ctx, e) {
		s.logger.Warn(ctx, "reconcile queue full, retry deferred to next sweep",
			logger.String("spinId", e.SpinID))
	}
}

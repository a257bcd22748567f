// Package worker retries fulfillment for debited spins whose order creation
// failed. It never touches balances.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/lootbox/internal/adapters/lock"
	"github.com/okian/lootbox/internal/adapters/mq/queue"
	"github.com/okian/lootbox/internal/domain/model"
	"github.com/okian/lootbox/pkg/logger"
	"github.com/okian/lootbox/pkg/metrics"
)

const (
	defaultWorkerCount  = 2
	defaultMaxAttempts  = 5
	defaultCallTimeout  = 10 * time.Second
	claimKeyPrefix      = "reconcile:"
	poolShutdownTimeout = 30 * time.Second
)

// ErrSkipped marks a job that no longer needs a retry.
var ErrSkipped = errors.New("job skipped")

// Job abstracts what workers read off the queue.
type Job = queue.Job

// OrderCreator issues the fulfillment order for a prize.
type OrderCreator interface {
	CreateOrder(ctx context.Context, customerID, prizeRef, note string) (string, error)
}

// Ledger is the slice of the ledger store the workers update.
type Ledger interface {
	Get(ctx context.Context, spinID string) (model.LedgerEntry, error)
	MarkFulfilled(ctx context.Context, spinID, orderID string) error
	MarkFailed(ctx context.Context, spinID, lastError string) error
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Job
}

// Worker processes jobs until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after the job in hand.
	Shutdown(ctx context.Context) error
}

// reconciler holds what every worker of a pool shares.
type reconciler struct {
	orders      OrderCreator
	ledger      Ledger
	maxAttempts int
	callTimeout time.Duration

	// inflight keeps two workers of this pool from retrying the same spin
	// at once; claims does the same across pools sharing the locker.
	inflight sync.Map
	claims   lock.Locker

	succeeded atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
}

// InMemoryWorker implements Worker for reconciling ledger entries.
type InMemoryWorker struct {
	queue Queue
	rec   *reconciler
	name  string

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

func newInMemoryWorker(name string, q Queue, rec *reconciler, log logger.Logger) *InMemoryWorker {
	return &InMemoryWorker{
		queue:    q,
		rec:      rec,
		name:     name,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   log.Named(name),
	}
}

func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			if err := w.rec.process(ctx, j); err != nil && !errors.Is(err, ErrSkipped) {
				w.logger.Warn(ctx, "fulfillment retry failed",
					logger.String("spinId", j.SpinID),
					logger.String("customerId", j.CustomerID),
					logger.Error(err),
				)
			}
		}
	}
}

func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process retries order creation for one spin. The entry is re-read from the
// ledger under the claim lock so a stale or duplicate job is skipped.
func (r *reconciler) process(ctx context.Context, j Job) error { //nolint:gocritic // hugeParam: Job is passed by value for channel semantics
	if _, busy := r.inflight.LoadOrStore(j.SpinID, struct{}{}); busy {
		r.skipped.Add(1)
		return ErrSkipped
	}
	defer r.inflight.Delete(j.SpinID)

	claimCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	lease, err := r.claims.Lock(claimCtx, claimKeyPrefix+j.SpinID)
	cancel()
	if err != nil {
		return fmt.Errorf("claim %s: %w", j.SpinID, err)
	}
	defer lease.Unlock()

	entry, err := r.ledger.Get(ctx, j.SpinID)
	if err != nil {
		metrics.RecordLedgerError("get")
		return fmt.Errorf("load ledger entry %s: %w", j.SpinID, err)
	}
	if entry.Status != model.LedgerFailed || entry.Attempts >= r.maxAttempts {
		r.skipped.Add(1)
		return ErrSkipped
	}

	metrics.RecordReconcileAttempt()
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	orderID, err := r.orders.CreateOrder(callCtx, entry.CustomerID, entry.PrizeRef,
		model.FulfillmentNote(entry.BoxName, entry.PrizeTitle))
	cancel()

	if err != nil {
		metrics.RecordReconcileFailure()
		r.failed.Add(1)
		if markErr := r.ledger.MarkFailed(ctx, entry.SpinID, err.Error()); markErr != nil {
			metrics.RecordLedgerError("mark_failed")
			return errors.Join(err, markErr)
		}
		return err
	}

	metrics.RecordReconcileSuccess()
	r.succeeded.Add(1)
	if err := r.ledger.MarkFulfilled(ctx, entry.SpinID, orderID); err != nil {
		metrics.RecordLedgerError("mark_fulfilled")
		return fmt.Errorf("order %s created but ledger not updated: %w", orderID, err)
	}
	return nil
}

// Stats summarises what a pool has done since it started.
type Stats struct {
	Workers   int   `json:"workers"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	rec     *reconciler
	name    string

	shutdownOnce sync.Once
	logger       logger.Logger
}

// NewPool creates a reconcile pool. workerCount < 1 uses the default.
func NewPool(workerCount int, q Queue, orders OrderCreator, ledger Ledger, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}

	p := &Pool{
		queue: q,
		rec: &reconciler{
			orders:      orders,
			ledger:      ledger,
			maxAttempts: defaultMaxAttempts,
			callTimeout: defaultCallTimeout,
			claims:      lock.NewKeyedMutex(),
		},
		name:   "reconcile",
		logger: logger.Get(),
	}
	for _, opt := range opts {
		opt(p)
	}

	base := p.logger.Named(p.name)
	p.logger = base
	p.workers = make([]*InMemoryWorker, workerCount)
	for i := range p.workers {
		p.workers[i] = newInMemoryWorker("worker-"+strconv.Itoa(i), q, p.rec, base)
	}

	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	p.logger.Info(ctx, "reconcile workers started", logger.Int("workers", len(p.workers)))
}

// Stats returns counters for the pool.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   len(p.workers),
		Succeeded: p.rec.succeeded.Load(),
		Failed:    p.rec.failed.Load(),
		Skipped:   p.rec.skipped.Load(),
	}
}

// MaxAttempts is the attempt ceiling applied to ledger entries.
func (p *Pool) MaxAttempts() int {
	return p.rec.maxAttempts
}

// Shutdown closes the queue when it supports closing, then waits for every
// worker to finish the job in hand.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		if closer, ok := p.queue.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				p.logger.Error(ctx, "error closing queue", logger.Error(err))
			}
		}
	})

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var errs []error
	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			errs = append(errs, err)
		}
	}
	metrics.UpdateWorkerCount(0)
	return errors.Join(errs...)
}

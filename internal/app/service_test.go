package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/okian/lootbox/internal/adapters/lock"
	"github.com/okian/lootbox/internal/adapters/repository"
	service "github.com/okian/lootbox/internal/app"
	"github.com/okian/lootbox/internal/domain/catalog"
	"github.com/okian/lootbox/internal/domain/draw"
	"github.com/okian/lootbox/internal/domain/model"
	"github.com/okian/lootbox/pkg/logger"
	"github.com/redis/go-redis/v9"
	. "github.com/smartystreets/goconvey/convey"
)

// memBalances is a balance store whose read-modify-write is slow enough to
// lose updates when two spins for one customer overlap.
type memBalances struct {
	mu     sync.Mutex
	values map[string]int64
	getErr error
	setErr error
	delay  time.Duration
	reads  atomic.Int64

	// afterGet runs after the n-th read, counting from 1.
	afterGet func(n int64)
}

func newBalances(initial map[string]int64) *memBalances {
	return &memBalances{values: initial}
}

func (m *memBalances) GetBalance(_ context.Context, id string) (int64, error) {
	n := m.reads.Add(1)
	m.mu.Lock()
	err, v := m.getErr, m.values[id]
	m.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.afterGet != nil {
		m.afterGet(n)
	}
	return v, nil
}

func (m *memBalances) SetBalance(ctx context.Context, id string, v int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.values[id] = v
	return nil
}

func (m *memBalances) get(id string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[id]
}

type fakeOrders struct {
	mu       sync.Mutex
	failures int // number of leading calls that fail
	calls    int
	block    chan struct{}
	entered  chan struct{}
}

func (f *fakeOrders) CreateOrder(_ context.Context, customerID, prizeRef, _ string) (string, error) {
	if f.block != nil {
		f.entered <- struct{}{}
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("commerce backend unavailable (status 503)")
	}
	return fmt.Sprintf("order-%s-%s-%d", customerID, prizeRef, f.calls), nil
}

func (f *fakeOrders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type failingLocker struct{}

func (failingLocker) Lock(context.Context, string) (lock.Lease, error) {
	return nil, errors.New("redis: connection refused")
}

func silverBox() model.LootBox {
	return model.LootBox{
		ID:           "silver",
		DisplayName:  "Silver Box",
		PriceCredits: 10,
		Items: []model.LootItem{
			{PrizeRef: "v-sword", DisplayName: "Sword", Weight: 60},
			{PrizeRef: "v-shield", DisplayName: "Shield", Weight: 30},
			{PrizeRef: "v-crown", DisplayName: "Crown", Weight: 10},
		},
	}
}

func newCatalog() *catalog.Catalog {
	c, err := catalog.New([]model.LootBox{silverBox()})
	if err != nil {
		panic(err)
	}
	return c
}

func newService(b *memBalances, o *fakeOrders, opts ...service.Option) *service.Service {
	_ = logger.Init(logger.WithOutput(io.Discard))
	opts = append([]service.Option{
		service.WithSampler(draw.NewEngine(draw.WithRandomSource(draw.FixedSource(0.55)))),
	}, opts...)
	return service.New(b, o, newCatalog(), opts...)
}

func TestSpin(t *testing.T) {
	Convey("Given a customer with 25 credits and a 10-credit box", t, func() {
		ctx := context.Background()
		balances := newBalances(map[string]int64{"c1": 25})
		orders := &fakeOrders{}
		ledger := repository.NewMemoryStore()
		svc := newService(balances, orders, service.WithLedger(ledger))

		Convey("When spinning with r = 0.55", func() {
			out, err := svc.Spin(ctx, "c1", silverBox())

			Convey("Then the first item is won and 10 credits are debited", func() {
				So(err, ShouldBeNil)
				So(out.ChosenItem.PrizeRef, ShouldEqual, "v-sword")
				So(out.CreditsBefore, ShouldEqual, 25)
				So(out.CreditsAfter, ShouldEqual, 15)
				So(out.PriceCredits, ShouldEqual, 10)
				So(out.BoxName, ShouldEqual, "Silver Box")
				So(balances.get("c1"), ShouldEqual, 15)
				So(out.FulfillmentOrderID, ShouldEqual, "order-c1-v-sword-1")
				So(out.FulfillmentError, ShouldBeEmpty)
				So(out.SpinID, ShouldNotBeEmpty)
				So(out.Replayed, ShouldBeFalse)
			})

			Convey("Then the ledger holds a fulfilled entry", func() {
				e, err := svc.LedgerEntry(ctx, out.SpinID)
				So(err, ShouldBeNil)
				So(e.Status, ShouldEqual, model.LedgerFulfilled)
				So(e.OrderID, ShouldEqual, out.FulfillmentOrderID)
				So(e.Debit, ShouldEqual, 10)
				So(e.Attempts, ShouldEqual, 1)
			})
		})

		Convey("When spinning three times in a row", func() {
			for i := 0; i < 2; i++ {
				_, err := svc.Spin(ctx, "c1", silverBox())
				So(err, ShouldBeNil)
			}
			_, err := svc.Spin(ctx, "c1", silverBox())

			Convey("Then each spin debits and the third is refused", func() {
				So(balances.get("c1"), ShouldEqual, 5)
				var ice *service.InsufficientCreditsError
				So(errors.As(err, &ice), ShouldBeTrue)
				So(ice.Current, ShouldEqual, 5)
				So(orders.count(), ShouldEqual, 2)
			})
		})
	})

	Convey("Given a customer with 5 credits and a 10-credit box", t, func() {
		balances := newBalances(map[string]int64{"c1": 5})
		orders := &fakeOrders{}
		svc := newService(balances, orders)

		_, err := svc.Spin(context.Background(), "c1", silverBox())

		Convey("Then the spin is refused and nothing changes", func() {
			So(errors.Is(err, service.ErrInsufficientCredits), ShouldBeTrue)
			var ice *service.InsufficientCreditsError
			So(errors.As(err, &ice), ShouldBeTrue)
			So(ice.Required, ShouldEqual, 10)
			So(ice.Current, ShouldEqual, 5)
			So(balances.get("c1"), ShouldEqual, 5)
			So(orders.count(), ShouldEqual, 0)
		})
	})

	Convey("Given fulfillment fails after the debit", t, func() {
		ctx := context.Background()
		balances := newBalances(map[string]int64{"c1": 40})
		orders := &fakeOrders{failures: 1}
		svc := newService(balances, orders)

		out, err := svc.Spin(ctx, "c1", silverBox())

		Convey("Then the spin still succeeds and the debit stands", func() {
			So(err, ShouldBeNil)
			So(out.CreditsAfter, ShouldEqual, 30)
			So(balances.get("c1"), ShouldEqual, 30)
			So(out.FulfillmentOrderID, ShouldBeEmpty)
			So(out.FulfillmentError, ShouldContainSubstring, "503")
			So(out.Fulfilled(), ShouldBeFalse)
		})

		Convey("Then the ledger marks the entry failed", func() {
			e, err := svc.LedgerEntry(ctx, out.SpinID)
			So(err, ShouldBeNil)
			So(e.Status, ShouldEqual, model.LedgerFailed)
			So(e.LastError, ShouldContainSubstring, "503")
		})
	})

	Convey("Given a price of zero", t, func() {
		balances := newBalances(map[string]int64{"c1": 0})
		svc := newService(balances, &fakeOrders{})
		box := silverBox()
		box.PriceCredits = 0

		out, err := svc.Spin(context.Background(), "c1", box)
		So(err, ShouldBeNil)
		So(out.CreditsAfter, ShouldEqual, 0)
	})
}

func TestSpinFailuresBeforeDebit(t *testing.T) {
	Convey("Given a balance store and a spinner", t, func() {
		ctx := context.Background()
		balances := newBalances(map[string]int64{"c1": 50})
		orders := &fakeOrders{}

		Convey("When the balance cannot be read", func() {
			balances.getErr = errors.New("status 401")
			_, err := newService(balances, orders).Spin(ctx, "c1", silverBox())
			So(errors.Is(err, service.ErrStoreUnavailable), ShouldBeTrue)
			So(orders.count(), ShouldEqual, 0)
		})

		Convey("When the balance cannot be written", func() {
			balances.setErr = errors.New("status 500")
			_, err := newService(balances, orders).Spin(ctx, "c1", silverBox())
			So(errors.Is(err, service.ErrStoreUnavailable), ShouldBeTrue)
			So(balances.get("c1"), ShouldEqual, 50)
			So(orders.count(), ShouldEqual, 0)
		})

		Convey("When the customer lock cannot be taken", func() {
			svc := newService(balances, orders, service.WithLocker(failingLocker{}))
			_, err := svc.Spin(ctx, "c1", silverBox())
			So(errors.Is(err, service.ErrStoreUnavailable), ShouldBeTrue)
			So(balances.reads.Load(), ShouldEqual, 0)
		})

		Convey("When the customer id is empty", func() {
			_, err := newService(balances, orders).Spin(ctx, "  ", silverBox())
			So(errors.Is(err, service.ErrInvalidInput), ShouldBeTrue)
		})

		Convey("When the box has no items", func() {
			box := silverBox()
			box.Items = nil
			_, err := newService(balances, orders).Spin(ctx, "c1", box)
			So(errors.Is(err, service.ErrInvalidInput), ShouldBeTrue)
		})

		Convey("When a weight is not positive", func() {
			box := silverBox()
			box.Items[1].Weight = 0
			_, err := newService(balances, orders).Spin(ctx, "c1", box)
			So(errors.Is(err, service.ErrInvalidConfiguration), ShouldBeTrue)
			So(errors.Is(err, draw.ErrInvalidConfiguration), ShouldBeTrue)
			So(balances.get("c1"), ShouldEqual, 50)
		})
	})
}

func TestConcurrentSpins(t *testing.T) {
	Convey("Given many concurrent spins for one customer against a slow store", t, func() {
		balances := newBalances(map[string]int64{"c1": 100})
		balances.delay = 2 * time.Millisecond
		svc := newService(balances, &fakeOrders{})

		var (
			wg           sync.WaitGroup
			succeeded    atomic.Int64
			insufficient atomic.Int64
		)
		for i := 0; i < 12; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Spin(context.Background(), "c1", silverBox())
				switch {
				case err == nil:
					succeeded.Add(1)
				case errors.Is(err, service.ErrInsufficientCredits):
					insufficient.Add(1)
				}
			}()
		}
		wg.Wait()

		Convey("Then no debit is lost", func() {
			So(succeeded.Load(), ShouldEqual, 10)
			So(insufficient.Load(), ShouldEqual, 2)
			So(balances.get("c1"), ShouldEqual, 0)
		})
	})

	Convey("Given concurrent spins for different customers", t, func() {
		balances := newBalances(map[string]int64{"a": 30, "b": 30})
		svc := newService(balances, &fakeOrders{})
		var wg sync.WaitGroup
		for _, id := range []string{"a", "b", "a", "b"} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, _ = svc.Spin(context.Background(), id, silverBox())
			}(id)
		}
		wg.Wait()

		So(balances.get("a"), ShouldEqual, 10)
		So(balances.get("b"), ShouldEqual, 10)
	})
}

func TestSpinLockExpiry(t *testing.T) {
	Convey("Given two spins sharing a Redis lock that expires during the first read", t, func() {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer rdb.Close()

		balances := newBalances(map[string]int64{"c1": 100})
		balances.afterGet = func(n int64) {
			if n == 1 {
				mr.FastForward(11 * time.Second)
			}
		}
		svc := newService(balances, &fakeOrders{},
			service.WithLocker(lock.NewRedisLocker(rdb,
				lock.WithTTL(10*time.Second),
				lock.WithRetryInterval(2*time.Millisecond),
			)),
		)

		var (
			wg        sync.WaitGroup
			succeeded atomic.Int64
			lost      atomic.Int64
		)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Spin(context.Background(), "c1", silverBox())
				switch {
				case err == nil:
					succeeded.Add(1)
				case errors.Is(err, service.ErrStoreUnavailable) && errors.Is(err, lock.ErrLockLost):
					lost.Add(1)
				}
			}()
		}
		wg.Wait()

		Convey("Then the holder that lost the lock does not write and no debit is lost", func() {
			So(succeeded.Load(), ShouldEqual, 1)
			So(lost.Load(), ShouldEqual, 1)
			So(balances.get("c1"), ShouldEqual, 100-10*succeeded.Load())
		})
	})
}

func TestSpinCancelledAfterRead(t *testing.T) {
	Convey("Given a request cancelled once the balance has been read", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		balances := newBalances(map[string]int64{"c1": 30})
		balances.afterGet = func(int64) { cancel() }
		orders := &fakeOrders{}
		ledger := repository.NewMemoryStore()
		svc := newService(balances, orders, service.WithLedger(ledger))

		out, err := svc.Spin(ctx, "c1", silverBox())

		Convey("Then the debit is written, ledgered and fulfilled", func() {
			So(err, ShouldBeNil)
			So(balances.get("c1"), ShouldEqual, 20)
			So(out.Fulfilled(), ShouldBeTrue)
			e, err := ledger.Get(context.Background(), out.SpinID)
			So(err, ShouldBeNil)
			So(e.Status, ShouldEqual, model.LedgerFulfilled)
		})
	})
}

func TestSpinBox(t *testing.T) {
	Convey("Given a service with one box", t, func() {
		ctx := context.Background()
		balances := newBalances(map[string]int64{"c1": 30, "c2": 30})
		orders := &fakeOrders{}
		svc := newService(balances, orders)

		Convey("When the box id is unknown", func() {
			_, err := svc.SpinBox(ctx, service.SpinRequest{CustomerID: "c1", BoxID: "gold"})
			So(errors.Is(err, service.ErrUnknownBox), ShouldBeTrue)
			So(balances.get("c1"), ShouldEqual, 30)
		})

		Convey("When fields are missing", func() {
			_, err := svc.SpinBox(ctx, service.SpinRequest{BoxID: "silver"})
			So(errors.Is(err, service.ErrInvalidInput), ShouldBeTrue)
		})

		Convey("When the same idempotency key is sent twice", func() {
			req := service.SpinRequest{CustomerID: "c1", BoxID: "silver", IdempotencyKey: "k-1"}
			first, err1 := svc.SpinBox(ctx, req)
			second, err2 := svc.SpinBox(ctx, req)

			Convey("Then the second returns the recorded outcome without debiting", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(second.Replayed, ShouldBeTrue)
				So(second.SpinID, ShouldEqual, first.SpinID)
				So(second.CreditsAfter, ShouldEqual, 20)
				So(second.FulfillmentOrderID, ShouldEqual, first.FulfillmentOrderID)
				So(second.ChosenItem.PrizeRef, ShouldEqual, first.ChosenItem.PrizeRef)
				So(balances.get("c1"), ShouldEqual, 20)
				So(orders.count(), ShouldEqual, 1)
			})

			Convey("Then another customer may reuse the key", func() {
				out, err := svc.SpinBox(ctx, service.SpinRequest{CustomerID: "c2", BoxID: "silver", IdempotencyKey: "k-1"})
				So(err, ShouldBeNil)
				So(out.Replayed, ShouldBeFalse)
				So(out.SpinID, ShouldNotEqual, first.SpinID)
				So(balances.get("c2"), ShouldEqual, 20)
			})
		})

		Convey("When customer and key split the same text differently", func() {
			balances.values["a/b"] = 30
			balances.values["a"] = 30
			first, err1 := svc.SpinBox(ctx, service.SpinRequest{CustomerID: "a/b", BoxID: "silver", IdempotencyKey: "k"})
			second, err2 := svc.SpinBox(ctx, service.SpinRequest{CustomerID: "a", BoxID: "silver", IdempotencyKey: "b/k"})

			Convey("Then each customer gets its own spin and debit", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(second.Replayed, ShouldBeFalse)
				So(second.SpinID, ShouldNotEqual, first.SpinID)
				So(second.CustomerID, ShouldEqual, "a")
				So(balances.get("a/b"), ShouldEqual, 20)
				So(balances.get("a"), ShouldEqual, 20)
			})
		})

		Convey("When a keyed spin fails before the debit", func() {
			balances.values["c1"] = 5
			req := service.SpinRequest{CustomerID: "c1", BoxID: "silver", IdempotencyKey: "k-2"}
			_, err := svc.SpinBox(ctx, req)
			So(errors.Is(err, service.ErrInsufficientCredits), ShouldBeTrue)

			Convey("Then the key is released for a retry", func() {
				So(balances.SetBalance(ctx, "c1", 15), ShouldBeNil)
				out, err := svc.SpinBox(ctx, req)
				So(err, ShouldBeNil)
				So(out.Replayed, ShouldBeFalse)
				So(balances.get("c1"), ShouldEqual, 5)
			})
		})
	})

	Convey("Given a keyed spin still waiting on its order", t, func() {
		ctx := context.Background()
		balances := newBalances(map[string]int64{"c1": 30})
		orders := &fakeOrders{block: make(chan struct{}), entered: make(chan struct{}, 1)}
		svc := newService(balances, orders)
		req := service.SpinRequest{CustomerID: "c1", BoxID: "silver", IdempotencyKey: "k-3"}

		done := make(chan error, 1)
		go func() {
			_, err := svc.SpinBox(ctx, req)
			done <- err
		}()
		<-orders.entered

		_, err := svc.SpinBox(ctx, req)
		close(orders.block)

		Convey("Then the duplicate is told it is in progress", func() {
			So(errors.Is(err, service.ErrSpinInProgress), ShouldBeTrue)
			So(<-done, ShouldBeNil)
			So(balances.get("c1"), ShouldEqual, 20)
		})
	})
}

func TestReconcile(t *testing.T) {
	Convey("Given reconciliation is enabled and the first order fails", t, func() {
		ctx := context.Background()
		balances := newBalances(map[string]int64{"c1": 30})
		orders := &fakeOrders{failures: 1}
		svc := newService(balances, orders,
			service.WithReconcile(true),
			service.WithWorkerCount(1),
			service.WithSweepInterval(time.Hour),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		out, err := svc.Spin(ctx, "c1", silverBox())
		So(err, ShouldBeNil)
		So(out.FulfillmentError, ShouldNotBeEmpty)

		Convey("Then the order is retried without a second debit", func() {
			var e model.LedgerEntry
			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) {
				e, _ = svc.LedgerEntry(ctx, out.SpinID)
				if e.Status == model.LedgerFulfilled {
					break
				}
				time.Sleep(5 * time.Millisecond)
			}
			So(e.Status, ShouldEqual, model.LedgerFulfilled)
			So(e.Attempts, ShouldEqual, 2)
			So(balances.get("c1"), ShouldEqual, 20)
			So(orders.count(), ShouldEqual, 2)
		})
	})
}

func TestServiceQueries(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		balances := newBalances(map[string]int64{"c1": 12})
		svc := newService(balances, &fakeOrders{})
		So(svc.Start(ctx), ShouldBeNil)
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		Convey("Then Balance reads without writing", func() {
			v, err := svc.Balance(ctx, "c1")
			So(err, ShouldBeNil)
			So(v, ShouldEqual, 12)
			_, err = svc.Balance(ctx, "")
			So(errors.Is(err, service.ErrInvalidInput), ShouldBeTrue)
		})

		Convey("Then an unknown ledger entry is reported", func() {
			_, err := svc.LedgerEntry(ctx, "missing")
			So(errors.Is(err, service.ErrLedgerNotFound), ShouldBeTrue)
		})

		Convey("Then stats describe the service", func() {
			_, _ = svc.Spin(ctx, "c1", silverBox())
			stats := svc.GetStats(ctx)
			So(stats["started"], ShouldEqual, true)
			So(stats["boxes"], ShouldEqual, 1)
			So(stats["ledgerEntries"], ShouldEqual, 1)
			So(stats["reconcile"], ShouldEqual, false)
		})

		Convey("Then Boxes lists the catalog", func() {
			So(len(svc.Boxes()), ShouldEqual, 1)
		})
	})
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/okian/lootbox/internal/config"
	"github.com/okian/lootbox/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

// storefront fakes the admin API: one credits attribute per customer and an
// order counter.
type storefront struct {
	mu       sync.Mutex
	credits  map[string]string
	orders   int
	failNext bool
}

func newStorefront() *storefront {
	return &storefront{credits: map[string]string{}}
}

func (s *storefront) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/admin/api/2024-01/"), "/")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/admin/api/2024-01/orders.json":
		if s.failNext {
			s.failNext = false
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		s.orders++
		_, _ = fmt.Fprintf(w, `{"order":{"id":%d}}`, 5000+s.orders)
	case len(parts) >= 3 && parts[0] == "customers":
		id := parts[1]
		switch r.Method {
		case http.MethodGet:
			v, ok := s.credits[id]
			if !ok {
				_, _ = io.WriteString(w, `{"metafields":[]}`)
				return
			}
			_, _ = fmt.Fprintf(w, `{"metafields":[{"id":1%s,"namespace":"custom","key":"credits_elyxyr","value":%s,"type":"number_integer"}]}`, id, v)
		case http.MethodPut, http.MethodPost:
			var body struct {
				Metafield struct {
					Value string `json:"value"`
				} `json:"metafield"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			s.credits[id] = body.Metafield.Value
			_, _ = io.WriteString(w, `{}`)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func testConfig(baseURL string) *config.Config {
	cfg := config.New()
	cfg.Commerce.BaseURL = baseURL
	cfg.Reconcile.Enabled = false
	return cfg
}

func call(h http.Handler, method, target, body string) (int, map[string]any) {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, r))
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec.Code, out
}

func TestBuild(t *testing.T) {
	_ = logger.Init(logger.WithOutput(io.Discard))

	convey.Convey("Given a wired application against a fake storefront", t, func() {
		ctx := context.Background()
		shop := newStorefront()
		shop.credits["42"] = "25"
		backend := httptest.NewServer(shop)
		defer backend.Close()

		c, err := build(ctx, testConfig(backend.URL), logger.Get())
		convey.So(err, convey.ShouldBeNil)
		convey.So(c.svc.Start(ctx), convey.ShouldBeNil)
		defer func() {
			_ = c.svc.Stop(ctx)
			_ = c.close()
		}()

		convey.Convey("When spinning the starter box", func() {
			code, body := call(c.handler, http.MethodPost, "/spin", `{"customerId":"42","boxId":"starter"}`)

			convey.Convey("Then credits should be debited and an order created", func() {
				convey.So(code, convey.ShouldEqual, http.StatusOK)
				convey.So(body["credits_before"], convey.ShouldEqual, float64(25))
				convey.So(body["credits_after"], convey.ShouldEqual, float64(15))
				convey.So(body["orderId"], convey.ShouldEqual, "5001")
				convey.So(shop.credits["42"], convey.ShouldEqual, "15")
			})

			convey.Convey("And the balance and ledger should agree", func() {
				code, bal := call(c.handler, http.MethodGet, "/balance/42", "")
				convey.So(code, convey.ShouldEqual, http.StatusOK)
				convey.So(bal["credits"], convey.ShouldEqual, float64(15))

				code, entry := call(c.handler, http.MethodGet, "/ledger/"+body["spinId"].(string), "")
				convey.So(code, convey.ShouldEqual, http.StatusOK)
				convey.So(entry["status"], convey.ShouldEqual, "fulfilled")
			})
		})

		convey.Convey("When the order backend fails", func() {
			shop.failNext = true
			code, body := call(c.handler, http.MethodPost, "/spin", `{"customerId":"42","boxId":"starter"}`)

			convey.Convey("Then the spin still succeeds and reports the order error", func() {
				convey.So(code, convey.ShouldEqual, http.StatusOK)
				convey.So(body["orderId"], convey.ShouldBeNil)
				convey.So(body["orderError"], convey.ShouldNotBeNil)
				convey.So(shop.credits["42"], convey.ShouldEqual, "15")
			})
		})

		convey.Convey("When the customer cannot afford the box", func() {
			shop.credits["7"] = "3"
			code, body := call(c.handler, http.MethodPost, "/spin", `{"customerId":"7","boxId":"starter"}`)
			convey.So(code, convey.ShouldEqual, http.StatusBadRequest)
			convey.So(body["required"], convey.ShouldEqual, float64(10))
			convey.So(body["current"], convey.ShouldEqual, float64(3))
		})

		convey.Convey("When the docs and page routes are requested", func() {
			for _, p := range []string{"/", "/api-docs", "/openapi.yaml", "/boxes", "/ping", "/stats", "/healthz"} {
				rec := httptest.NewRecorder()
				c.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
				convey.So(rec.Code, convey.ShouldEqual, http.StatusOK)
			}
		})
	})
}

func TestBuildWithRedis(t *testing.T) {
	_ = logger.Init(logger.WithOutput(io.Discard))

	convey.Convey("Given a redis address", t, func() {
		ctx := context.Background()
		mr := miniredis.RunT(t)
		shop := newStorefront()
		shop.credits["42"] = "100"
		backend := httptest.NewServer(shop)
		defer backend.Close()

		cfg := testConfig(backend.URL)
		cfg.Redis.Addr = mr.Addr()

		c, err := build(ctx, cfg, logger.Get())
		convey.So(err, convey.ShouldBeNil)
		defer func() { _ = c.close() }()

		convey.Convey("Then concurrent spins should serialize through the redis lock", func() {
			var wg sync.WaitGroup
			for i := 0; i < 5; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					call(c.handler, http.MethodPost, "/spin", `{"customerId":"42","boxId":"starter"}`)
				}()
			}
			wg.Wait()

			convey.So(shop.credits["42"], convey.ShouldEqual, "50")
			convey.So(shop.orders, convey.ShouldEqual, 5)
			convey.So(mr.Keys(), convey.ShouldBeEmpty)
		})
	})

	convey.Convey("Given an unreachable redis", t, func() {
		cfg := testConfig("http://127.0.0.1:1")
		cfg.Redis.Addr = "127.0.0.1:1"

		_, err := build(context.Background(), cfg, logger.Get())
		convey.So(err, convey.ShouldNotBeNil)
	})
}

func TestBuildRejectsBadCatalog(t *testing.T) {
	_ = logger.Init(logger.WithOutput(io.Discard))

	convey.Convey("Given a box without items", t, func() {
		cfg := testConfig("http://127.0.0.1:1")
		cfg.Boxes = []config.BoxConfig{{ID: "empty", Name: "Empty", PriceCredits: 1}}

		_, err := build(context.Background(), cfg, logger.Get())
		convey.So(err, convey.ShouldNotBeNil)
	})
}

func TestMetricsUpdaters(t *testing.T) {
	convey.Convey("Given the system metrics updater", t, func() {
		convey.So(func() { updateSystemMetrics() }, convey.ShouldNotPanic)
	})
}

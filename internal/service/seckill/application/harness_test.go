package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"seckill/internal/pkg/clock"
	"seckill/internal/pkg/idgen"
	"seckill/internal/service/seckill/application/saga"
	"seckill/internal/service/seckill/domain"
	"seckill/internal/service/seckill/domain/port"
	"seckill/internal/service/seckill/infrastructure/persistence"
	"seckill/internal/service/seckill/infrastructure/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

var saleStart = time.Date(2026, 11, 11, 10, 0, 0, 0, time.UTC)

func testProduct(id string, stock int64) *domain.Product {
	return &domain.Product{
		ID:            id,
		Name:          "flash item " + id,
		OriginalPrice: decimal.RequireFromString("199.00"),
		SalePrice:     decimal.RequireFromString("99.00"),
		TotalStock:    stock,
		StartTime:     saleStart,
		EndTime:       saleStart.Add(time.Hour),
		Status:        domain.ProductStatusActive,
		Enabled:       true,
		LimitPerUser:  1,
		Version:       1,
	}
}

// fakePayments 按顺序返回预设的失败，之后一律成功
type fakePayments struct {
	mu        sync.Mutex
	failures  []error
	created   []string
	cancelled []string
	// hang 为 true 时 CreateIntent 一直阻塞到 ctx 结束
	hang bool
}

func (f *fakePayments) failNext(errs ...error) {
	f.mu.Lock()
	f.failures = append(f.failures, errs...)
	f.mu.Unlock()
}

func (f *fakePayments) CreateIntent(ctx context.Context, order *domain.Order) (string, error) {
	f.mu.Lock()
	hang := f.hang
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return "", domain.Transient(ctx.Err())
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return "", err
	}
	id := "pi-" + order.ID
	f.created = append(f.created, id)
	return id, nil
}

func (f *fakePayments) CancelIntent(_ context.Context, intentID string) error {
	f.mu.Lock()
	f.cancelled = append(f.cancelled, intentID)
	f.mu.Unlock()
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OrderEvent
	warmed []domain.ProductWarmed
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, e *domain.OrderEvent) error {
	p.mu.Lock()
	p.events = append(p.events, *e)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) PublishProductWarmed(_ context.Context, e *domain.ProductWarmed) error {
	p.mu.Lock()
	p.warmed = append(p.warmed, *e)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) eventsOf(t domain.OrderEventType) []domain.OrderEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.OrderEvent
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// flakyStore 让前 n 次 Get 返回瞬时错误
type flakyStore struct {
	*store.MemoryStore
	mu       sync.Mutex
	failGets int
	calls    int
}

var errStoreDown = errors.New("store unavailable")

func newFlakyStore(clk clock.Clock, failGets int) *flakyStore {
	return &flakyStore{MemoryStore: store.NewMemoryStore(clk), failGets: failGets}
}

func (s *flakyStore) Get(ctx context.Context, key string) (port.Entry, error) {
	s.mu.Lock()
	s.calls++
	fail := s.failGets > 0
	if fail {
		s.failGets--
	}
	s.mu.Unlock()
	if fail {
		return port.Entry{}, errStoreDown
	}
	return s.MemoryStore.Get(ctx, key)
}

type harness struct {
	clock    *clock.Manual
	store    *store.MemoryStore
	products *persistence.MemoryProductRepository
	orders   *persistence.MemoryOrderRepository
	payments *fakePayments
	events   *recordingPublisher

	ledger      *InventoryLedger
	guard       *ParticipationGuard
	book        *ReservationBook
	cache       *EligibilityCache
	rules       *AdmissionRules
	pipeline    *OrderPipeline
	service     *SeckillApplicationService
	maintenance *MaintenanceService
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	pipeline PipelineConfig
	policy   ReleasePolicy
	capacity int
	start    bool
}

func withPipeline(cfg PipelineConfig) harnessOption {
	return func(c *harnessConfig) { c.pipeline = cfg }
}

func withoutWorkers() harnessOption {
	return func(c *harnessConfig) { c.start = false }
}

func withCapacity(n int) harnessOption {
	return func(c *harnessConfig) { c.capacity = n }
}

func withPolicy(p ReleasePolicy) harnessOption {
	return func(c *harnessConfig) { c.policy = p }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{
		pipeline: PipelineConfig{QueueSize: 64, Workers: 4, EnqueueTimeout: 10 * time.Millisecond, MaterializeTimeout: time.Second},
		policy:   DefaultReleasePolicy(),
		capacity: 10000,
		start:    true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &harness{
		clock:    clock.NewManual(saleStart.Add(time.Minute)),
		products: persistence.NewMemoryProductRepository(),
		orders:   persistence.NewMemoryOrderRepository(),
		payments: &fakePayments{},
		events:   &recordingPublisher{},
	}
	h.store = store.NewMemoryStore(h.clock)
	tracer := otel.Tracer("seckill-test")

	var err error
	h.ledger = NewInventoryLedger(h.store, h.clock, LedgerConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond})
	h.guard = NewParticipationGuard(h.store, h.clock)
	h.book = NewReservationBook(h.store, h.clock)
	h.cache, err = NewEligibilityCache(h.products, h.ledger, h.clock, EligibilityConfig{TTL: time.Hour, MissWindow: 2 * time.Second, SoldOutTTL: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(h.cache.Close)
	h.rules, err = NewAdmissionRules()
	require.NoError(t, err)

	ids, err := idgen.NewGenerator(1)
	require.NoError(t, err)
	materializer := saga.NewMaterializer(tracer, h.clock, h.orders, ids, h.payments, h.events)

	h.pipeline = NewOrderPipeline(cfg.pipeline, cfg.policy, PipelineDeps{
		Ledger:       h.ledger,
		Guard:        h.guard,
		Book:         h.book,
		Cache:        h.cache,
		Materializer: materializer,
		Events:       h.events,
		Clock:        h.clock,
		Tracer:       tracer,
	})
	if cfg.start {
		h.pipeline.Start(context.Background())
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.pipeline.Stop(ctx)
	})

	h.service = NewSeckillApplicationService(
		ServiceConfig{RequestTimeout: time.Second, GracePeriod: 10 * time.Minute},
		ServiceDeps{
			Limiter:  NewAdmissionLimiter(cfg.capacity, float64(cfg.capacity), h.clock),
			Cache:    h.cache,
			Rules:    h.rules,
			Guard:    h.guard,
			Ledger:   h.ledger,
			Book:     h.book,
			Pipeline: h.pipeline,
			Orders:   h.orders,
			Clock:    h.clock,
			Tracer:   tracer,
		})
	h.maintenance = NewMaintenanceService(MaintenanceDeps{
		Products: h.products,
		Store:    h.store,
		Ledger:   h.ledger,
		Cache:    h.cache,
		Rules:    h.rules,
		Events:   h.events,
		Clock:    h.clock,
		Tracer:   tracer,
	})
	return h
}

// addProduct 保存并预热商品
func (h *harness) addProduct(t *testing.T, p *domain.Product) {
	t.Helper()
	h.products.Put(p)
	_, err := h.maintenance.WarmUp(context.Background(), p.ID)
	require.NoError(t, err)
}

func (h *harness) remaining(t *testing.T, productID string) int64 {
	t.Helper()
	n, err := h.ledger.Remaining(context.Background(), productID)
	require.NoError(t, err)
	return n
}

// awaitOutcome 轮询直到预留进入终态
func (h *harness) awaitOutcome(t *testing.T, reservationID string) Outcome {
	t.Helper()
	var out Outcome
	require.Eventually(t, func() bool {
		var err error
		out, err = h.service.QueryOutcome(context.Background(), reservationID)
		return err == nil && out.Status != OutcomePending
	}, 5*time.Second, 5*time.Millisecond, fmt.Sprintf("reservation %s never settled", reservationID))
	return out
}

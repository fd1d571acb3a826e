package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"seckill/internal/pkg/clock"
	"seckill/internal/service/seckill/domain"
	"seckill/internal/service/seckill/infrastructure/persistence"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NextOrderID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return "o-" + string(rune('0'+s.n))
}

type stubPayments struct {
	createErr error
	cancelled []string
}

func (p *stubPayments) CreateIntent(_ context.Context, o *domain.Order) (string, error) {
	if p.createErr != nil {
		return "", p.createErr
	}
	return "pi-" + o.ID, nil
}

func (p *stubPayments) CancelIntent(_ context.Context, id string) error {
	p.cancelled = append(p.cancelled, id)
	return nil
}

type stubPublisher struct {
	err    error
	events []domain.OrderEvent
}

func (p *stubPublisher) PublishOrderEvent(_ context.Context, e *domain.OrderEvent) error {
	p.events = append(p.events, *e)
	return p.err
}

// failingConfirmRepo 拒绝写入已确认状态
type failingConfirmRepo struct {
	*persistence.MemoryOrderRepository
}

func (r failingConfirmRepo) Save(ctx context.Context, o *domain.Order) error {
	if o.Status == domain.OrderStatusConfirmed {
		return domain.Transient(errors.New("db write timeout"))
	}
	return r.MemoryOrderRepository.Save(ctx, o)
}

func testReservation() *domain.Reservation {
	return &domain.Reservation{
		ID:         "r-1",
		UserID:     "u-1",
		ProductID:  "p-1",
		Quantity:   2,
		UnitPrice:  decimal.RequireFromString("12.50"),
		Epoch:      "e1",
		AdmittedAt: time.Date(2026, 11, 11, 10, 0, 0, 0, time.UTC),
	}
}

func TestMaterializeConfirmsOrder(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 11, 11, 10, 0, 1, 0, time.UTC))
	repo := persistence.NewMemoryOrderRepository()
	payments := &stubPayments{}
	publisher := &stubPublisher{}
	m := NewMaterializer(otel.Tracer("test"), clk, repo, &seqIDs{}, payments, publisher)

	order, err := m.Materialize(context.Background(), testReservation())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusConfirmed, order.Status)
	assert.Equal(t, "25", order.TotalAmount.String())
	assert.Equal(t, "pi-"+order.ID, order.PaymentIntentID)

	stored, err := repo.FindByReservationID(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusConfirmed, stored.Status)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, domain.OrderEventConfirmed, publisher.events[0].Type)
	assert.Equal(t, "25.00", publisher.events[0].TotalAmount)
	assert.Empty(t, payments.cancelled)
}

func TestMaterializeIsIdempotentPerReservation(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 11, 11, 10, 0, 1, 0, time.UTC))
	repo := persistence.NewMemoryOrderRepository()
	m := NewMaterializer(otel.Tracer("test"), clk, repo, &seqIDs{}, &stubPayments{}, &stubPublisher{})

	first, err := m.Materialize(context.Background(), testReservation())
	require.NoError(t, err)
	second, err := m.Materialize(context.Background(), testReservation())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, repo.List(), 1)
}

func TestMaterializePaymentDeclinedMarksOrderFailed(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 11, 11, 10, 0, 1, 0, time.UTC))
	repo := persistence.NewMemoryOrderRepository()
	payments := &stubPayments{createErr: domain.ErrPaymentDeclined}
	m := NewMaterializer(otel.Tracer("test"), clk, repo, &seqIDs{}, payments, &stubPublisher{})

	_, err := m.Materialize(context.Background(), testReservation())
	require.ErrorIs(t, err, domain.ErrPaymentDeclined)
	assert.False(t, domain.IsTransient(err))

	stored, err := repo.FindByReservationID(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, stored.Status)
	assert.Empty(t, payments.cancelled, "no intent was created")

	_, err = m.Materialize(context.Background(), testReservation())
	assert.ErrorIs(t, err, domain.ErrMaterializationFailed, "a failed order is never revived")
}

func TestMaterializeConfirmFailureCancelsIntent(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 11, 11, 10, 0, 1, 0, time.UTC))
	repo := failingConfirmRepo{persistence.NewMemoryOrderRepository()}
	payments := &stubPayments{}
	m := NewMaterializer(otel.Tracer("test"), clk, repo, &seqIDs{}, payments, &stubPublisher{})

	_, err := m.Materialize(context.Background(), testReservation())
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))

	require.Len(t, payments.cancelled, 1)
	stored, err := repo.FindByReservationID(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, stored.Status)
}

func TestNotificationFailureDoesNotFailOrder(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 11, 11, 10, 0, 1, 0, time.UTC))
	publisher := &stubPublisher{err: errors.New("kafka down")}
	m := NewMaterializer(otel.Tracer("test"), clk, persistence.NewMemoryOrderRepository(), &seqIDs{}, &stubPayments{}, publisher)

	order, err := m.Materialize(context.Background(), testReservation())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusConfirmed, order.Status)
}

func TestCompensationsRunInReverseOrder(t *testing.T) {
	orderCtx := &OrderContext{Ctx: context.Background(), Reservation: testReservation()}
	var calls []int
	for i := 1; i <= 3; i++ {
		orderCtx.AddCompensation(func(context.Context) { calls = append(calls, i) })
	}
	orderCtx.TriggerCompensation(context.Background())
	orderCtx.TriggerCompensation(context.Background())
	assert.Equal(t, []int{3, 2, 1}, calls)
}

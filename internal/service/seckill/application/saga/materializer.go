package saga

import (
	"context"
	"time"

	"seckill/internal/pkg/clock"
	"seckill/internal/service/seckill/domain"
	"seckill/internal/service/seckill/domain/port"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const compensationTimeout = 5 * time.Second

// Materializer 把一个预留变成已确认订单：建单 -> 支付意向 -> 确认 -> 通知
type Materializer struct {
	chain  Handler
	tracer trace.Tracer
}

func NewMaterializer(
	tracer trace.Tracer,
	clk clock.Clock,
	repo port.OrderRepository,
	ids OrderIDGenerator,
	payments port.PaymentService,
	publisher port.OrderEventPublisher,
) *Materializer {
	chain := NewCreatePendingOrderHandler(repo, ids, clk)
	chain.SetNext(NewPaymentIntentHandler(payments, clk)).
		SetNext(NewConfirmOrderHandler(repo, clk)).
		SetNext(NewNotificationHandler(publisher, clk))
	return &Materializer{chain: chain, tracer: tracer}
}

// Materialize 失败时已执行步骤的补偿会在返回前按逆序完成
func (m *Materializer) Materialize(ctx context.Context, r *domain.Reservation) (*domain.Order, error) {
	ctx, span := m.tracer.Start(ctx, "saga.Materialize")
	defer span.End()
	span.SetAttributes(
		attribute.String("reservation.id", r.ID),
		attribute.String("product.id", r.ProductID),
		attribute.String("user.id", r.UserID),
	)

	orderCtx := &OrderContext{Ctx: ctx, Reservation: r, Tracer: m.tracer}
	if err := m.chain.Handle(orderCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Order materialization failed")

		compCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
		defer cancel()
		orderCtx.TriggerCompensation(compCtx)
		return nil, err
	}
	return orderCtx.Order, nil
}

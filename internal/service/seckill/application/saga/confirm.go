package saga

import (
	"fmt"

	"seckill/internal/pkg/clock"
	"seckill/internal/service/seckill/domain/port"

	"go.opentelemetry.io/otel/codes"
)

// ConfirmOrderHandler 把待确认订单推进到已确认并落盘
type ConfirmOrderHandler struct {
	NextHandler
	repo  port.OrderRepository
	clock clock.Clock
}

func NewConfirmOrderHandler(repo port.OrderRepository, clk clock.Clock) *ConfirmOrderHandler {
	return &ConfirmOrderHandler{repo: repo, clock: clk}
}

func (h *ConfirmOrderHandler) Handle(orderCtx *OrderContext) error {
	ctx, span := orderCtx.Tracer.Start(orderCtx.Ctx, "saga.ConfirmOrder")
	defer span.End()

	// 在副本上确认，写入失败时内存中的订单仍是待确认，补偿可以把它标记为失败
	confirmed := *orderCtx.Order
	if err := confirmed.MarkConfirmed(h.clock.Now()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Invalid order state")
		return err
	}
	if err := h.repo.Save(ctx, &confirmed); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to save confirmed order")
		return fmt.Errorf("save confirmed order %s: %w", confirmed.ID, err)
	}
	*orderCtx.Order = confirmed
	span.AddEvent("Order confirmed")

	return h.executeNext(orderCtx)
}

package saga

import (
	"context"
	"errors"
	"fmt"

	"seckill/internal/pkg/clock"
	"seckill/internal/pkg/logger"
	"seckill/internal/service/seckill/domain"
	"seckill/internal/service/seckill/domain/port"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// OrderIDGenerator 生成订单号
type OrderIDGenerator interface {
	NextOrderID() string
}

// CreatePendingOrderHandler 按预留号取得或创建待确认订单，同一预留至多对应一个订单
type CreatePendingOrderHandler struct {
	NextHandler
	repo  port.OrderRepository
	ids   OrderIDGenerator
	clock clock.Clock
}

func NewCreatePendingOrderHandler(repo port.OrderRepository, ids OrderIDGenerator, clk clock.Clock) *CreatePendingOrderHandler {
	return &CreatePendingOrderHandler{repo: repo, ids: ids, clock: clk}
}

func (h *CreatePendingOrderHandler) Handle(orderCtx *OrderContext) error {
	ctx, span := orderCtx.Tracer.Start(orderCtx.Ctx, "saga.CreatePendingOrder")
	defer span.End()

	r := orderCtx.Reservation
	span.SetAttributes(attribute.String("reservation.id", r.ID))

	order, err := h.repo.FindByReservationID(ctx, r.ID)
	switch {
	case err == nil:
		span.AddEvent("Existing order found for reservation")
		switch order.Status {
		case domain.OrderStatusConfirmed:
			// 已确认的订单不再重复执行后续步骤
			orderCtx.Order = order
			return nil
		case domain.OrderStatusFailed:
			err = fmt.Errorf("%w: order %s already failed", domain.ErrMaterializationFailed, order.ID)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	case errors.Is(err, domain.ErrOrderNotFound):
		order, err = domain.NewOrder(h.ids.NextOrderID(), r, h.clock.Now())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Failed to build order")
			return fmt.Errorf("%w: %v", domain.ErrMaterializationFailed, err)
		}
		if err := h.repo.Save(ctx, order); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Failed to save pending order")
			return fmt.Errorf("save pending order %s: %w", order.ID, err)
		}
		span.AddEvent("Pending order saved")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to look up order")
		return err
	}

	orderCtx.Order = order
	span.SetAttributes(attribute.String("order.id", order.ID))

	orderCtx.AddCompensation(func(compCtx context.Context) {
		compCtx, compSpan := orderCtx.Tracer.Start(compCtx, "saga.compensation.MarkOrderFailed")
		defer compSpan.End()

		if err := order.MarkFailed(h.clock.Now()); err != nil {
			compSpan.RecordError(err)
			return
		}
		if err := h.repo.Save(compCtx, order); err != nil {
			compSpan.RecordError(err)
			logger.Ctx(compCtx).Error().Err(err).Str("order_id", order.ID).Msg("failed to mark order as failed")
		}
	})

	return h.executeNext(orderCtx)
}

package saga

import (
	"seckill/internal/pkg/clock"
	"seckill/internal/pkg/logger"
	"seckill/internal/service/seckill/domain"
	"seckill/internal/service/seckill/domain/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// NotificationHandler 是链的最后一步；事件发送失败不影响订单结果
type NotificationHandler struct {
	NextHandler
	publisher port.OrderEventPublisher
	clock     clock.Clock
}

func NewNotificationHandler(publisher port.OrderEventPublisher, clk clock.Clock) *NotificationHandler {
	return &NotificationHandler{publisher: publisher, clock: clk}
}

func (h *NotificationHandler) Handle(orderCtx *OrderContext) error {
	ctx, span := orderCtx.Tracer.Start(orderCtx.Ctx, "saga.Notification")
	defer span.End()

	order := orderCtx.Order
	span.SetAttributes(attribute.String("messaging.system", "kafka"))

	event := &domain.OrderEvent{
		EventID:       uuid.NewString(),
		Type:          domain.OrderEventConfirmed,
		OrderID:       order.ID,
		ReservationID: order.ReservationID,
		UserID:        order.UserID,
		ProductID:     order.ProductID,
		Quantity:      order.Quantity,
		TotalAmount:   order.TotalAmount.StringFixed(2),
		OccurredAt:    h.clock.Now(),
	}
	if err := h.publisher.PublishOrderEvent(ctx, event); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", order.ID).Msg("failed to publish order confirmed event")
		span.RecordError(err)
	}

	return h.executeNext(orderCtx)
}

package saga

import (
	"context"
	"fmt"

	"seckill/internal/pkg/clock"
	"seckill/internal/pkg/logger"
	"seckill/internal/service/seckill/domain/port"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PaymentIntentHandler 为订单创建支付意向；后续步骤失败时撤销
type PaymentIntentHandler struct {
	NextHandler
	payments port.PaymentService
	clock    clock.Clock
}

func NewPaymentIntentHandler(payments port.PaymentService, clk clock.Clock) *PaymentIntentHandler {
	return &PaymentIntentHandler{payments: payments, clock: clk}
}

func (h *PaymentIntentHandler) Handle(orderCtx *OrderContext) error {
	ctx, span := orderCtx.Tracer.Start(orderCtx.Ctx, "saga.PaymentIntent")
	defer span.End()

	order := orderCtx.Order
	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.String("order.amount", order.TotalAmount.StringFixed(2)),
	)

	if order.PaymentIntentID == "" {
		intentID, err := h.payments.CreateIntent(ctx, order)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Payment intent failed")
			return fmt.Errorf("create payment intent for order %s: %w", order.ID, err)
		}
		if err := order.AttachPaymentIntent(intentID, h.clock.Now()); err != nil {
			span.RecordError(err)
			return err
		}
		span.AddEvent("Payment intent created")
	}

	intentID := order.PaymentIntentID
	orderCtx.AddCompensation(func(compCtx context.Context) {
		compCtx, compSpan := orderCtx.Tracer.Start(compCtx, "saga.compensation.CancelPaymentIntent")
		defer compSpan.End()
		compSpan.SetAttributes(attribute.String("payment.intent.id", intentID))

		if err := h.payments.CancelIntent(compCtx, intentID); err != nil {
			compSpan.RecordError(err)
			logger.Ctx(compCtx).Error().Err(err).Str("intent_id", intentID).Msg("failed to cancel payment intent")
		}
	})

	return h.executeNext(orderCtx)
}

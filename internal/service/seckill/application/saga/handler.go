package saga

import (
	"context"
	"sync"

	"seckill/internal/pkg/logger"
	"seckill/internal/service/seckill/domain"

	"go.opentelemetry.io/otel/trace"
)

// OrderContext 在物化链中传递一次预留的处理数据
type OrderContext struct {
	Ctx         context.Context
	Reservation *domain.Reservation
	Order       *domain.Order // 由 CreatePendingOrderHandler 填充
	Tracer      trace.Tracer

	compensations []func(ctx context.Context)
	compLock      sync.Mutex
}

// AddCompensation 后注册的补偿先执行 (LIFO)
func (c *OrderContext) AddCompensation(comp func(ctx context.Context)) {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	c.compensations = append([]func(context.Context){comp}, c.compensations...)
}

// TriggerCompensation 执行并清空已注册的补偿，重复调用不会重复执行
func (c *OrderContext) TriggerCompensation(ctx context.Context) {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	logger.Ctx(ctx).Info().
		Str("reservation_id", c.Reservation.ID).
		Int("count", len(c.compensations)).
		Msg("executing saga compensations")
	for _, comp := range c.compensations {
		comp(ctx)
	}
	c.compensations = nil
}

type Handler interface {
	SetNext(handler Handler) Handler
	Handle(orderCtx *OrderContext) error
}

type NextHandler struct {
	next Handler
}

func (h *NextHandler) SetNext(handler Handler) Handler {
	h.next = handler
	return handler
}

func (h *NextHandler) executeNext(orderCtx *OrderContext) error {
	if h.next != nil {
		return h.next.Handle(orderCtx)
	}
	return nil
}

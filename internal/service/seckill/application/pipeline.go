package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"seckill/internal/pkg/clock"
	"seckill/internal/pkg/logger"
	"seckill/internal/service/seckill/domain"
	"seckill/internal/service/seckill/domain/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const compensationTimeout = 5 * time.Second

// Materializer 把预留变成已确认订单；返回错误时其内部步骤已自行回滚
type Materializer interface {
	Materialize(ctx context.Context, r *domain.Reservation) (*domain.Order, error)
}

type PipelineConfig struct {
	QueueSize int
	Workers   int
	// EnqueueTimeout 队列满时最多等待这么久，之后按队列已满补偿
	EnqueueTimeout     time.Duration
	MaterializeTimeout time.Duration
}

// ReleasePolicy 决定补偿时是否删除参与记录 (允许用户重试)
type ReleasePolicy struct {
	OnTransientFailure bool
	OnBusinessFailure  bool
	OnSoldOut          bool
	OnQueueFull        bool
}

func DefaultReleasePolicy() ReleasePolicy {
	return ReleasePolicy{
		OnTransientFailure: true,
		OnBusinessFailure:  false,
		OnSoldOut:          true,
		OnQueueFull:        true,
	}
}

type failureKind string

const (
	failureTransient failureKind = "transient"
	failureBusiness  failureKind = "business"
	failureQueueFull failureKind = "queue_full"
)

func classifyFailure(err error) failureKind {
	switch {
	case errors.Is(err, domain.ErrQueueFull), errors.Is(err, domain.ErrQueueClosed):
		return failureQueueFull
	case domain.IsTransient(err):
		return failureTransient
	default:
		return failureBusiness
	}
}

// PipelineDeps 流水线依赖的组件；Cache 和 Events 可以为空
type PipelineDeps struct {
	Ledger       *InventoryLedger
	Guard        *ParticipationGuard
	Book         *ReservationBook
	Cache        *EligibilityCache
	Materializer Materializer
	Events       port.OrderEventPublisher
	Clock        clock.Clock
	Tracer       trace.Tracer
}

// OrderPipeline 在请求路径之外把预留异步物化为订单。
// 每个被接纳的预留最终要么确认，要么完成补偿 (回补库存并处理参与记录)。
type OrderPipeline struct {
	cfg    PipelineConfig
	policy ReleasePolicy
	deps   PipelineDeps

	queue  chan *domain.Reservation
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewOrderPipeline(cfg PipelineConfig, policy ReleasePolicy, deps PipelineDeps) *OrderPipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaterializeTimeout <= 0 {
		cfg.MaterializeTimeout = 5 * time.Second
	}
	return &OrderPipeline{
		cfg:    cfg,
		policy: policy,
		deps:   deps,
		queue:  make(chan *domain.Reservation, cfg.QueueSize),
	}
}

func (p *OrderPipeline) Policy() ReleasePolicy { return p.policy }

// Start 启动 worker。ctx 只提供日志与追踪上下文，停止请使用 Stop。
func (p *OrderPipeline) Start(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for r := range p.queue {
				queueDepth.Set(float64(len(p.queue)))
				p.process(base, r)
			}
		}()
	}
	logger.Ctx(ctx).Info().Int("workers", p.cfg.Workers).Int("queue_size", p.cfg.QueueSize).Msg("order pipeline started")
}

// Stop 关闭入口并等待队列中已有的预留处理完毕
func (p *OrderPipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Ctx(ctx).Info().Msg("order pipeline drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue 把预留交给流水线。无法在 EnqueueTimeout 内入队时，预留会被立即补偿，
// 并返回包装了 domain.ErrQueueFull 的瞬时错误。
func (p *OrderPipeline) Enqueue(ctx context.Context, r *domain.Reservation) error {
	ctx, span := p.deps.Tracer.Start(ctx, "pipeline.Enqueue")
	defer span.End()
	span.SetAttributes(attribute.String("reservation.id", r.ID))

	if _, err := p.deps.Book.Transition(ctx, r.ID, domain.ReservationEnqueued, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to mark reservation enqueued")
		p.Compensate(ctx, r, domain.Transient(err))
		return domain.Transient(err)
	}

	if err := p.offer(ctx, r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Order queue saturated")
		p.Compensate(ctx, r, err)
		return domain.Transient(err)
	}
	queueDepth.Set(float64(len(p.queue)))
	return nil
}

func (p *OrderPipeline) offer(ctx context.Context, r *domain.Reservation) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return domain.ErrQueueClosed
	}

	select {
	case p.queue <- r:
		return nil
	default:
	}
	if p.cfg.EnqueueTimeout <= 0 {
		return domain.ErrQueueFull
	}

	timer := time.NewTimer(p.cfg.EnqueueTimeout)
	defer timer.Stop()
	select {
	case p.queue <- r:
		return nil
	case <-timer.C:
		return domain.ErrQueueFull
	case <-ctx.Done():
		return domain.ErrQueueFull
	}
}

func (p *OrderPipeline) process(ctx context.Context, r *domain.Reservation) {
	ctx, span := p.deps.Tracer.Start(ctx, "pipeline.Process", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("reservation.id", r.ID),
		attribute.String("product.id", r.ProductID),
	)

	if _, err := p.deps.Book.Transition(ctx, r.ID, domain.ReservationMaterializing, nil); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// 已被其它路径处理过，不能重复补偿
			logger.Ctx(ctx).Warn().Err(err).Str("reservation_id", r.ID).Msg("skipping reservation in unexpected state")
			return
		}
		span.RecordError(err)
		p.Compensate(ctx, r, domain.Transient(err))
		return
	}

	start := time.Now()
	mctx, cancel := context.WithTimeout(ctx, p.cfg.MaterializeTimeout)
	order, err := p.deps.Materializer.Materialize(mctx, r)
	cancel()
	materializeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Materialization failed")
		p.Compensate(ctx, r, err)
		return
	}

	if err := p.deps.Guard.MarkOutcome(ctx, r.UserID, r.ProductID, domain.ParticipationConfirmed); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("reservation_id", r.ID).Msg("failed to mark participation confirmed")
	}
	// 预留记录最后推进，查询方看到终态时其余步骤都已完成
	if _, err := p.deps.Book.Transition(ctx, r.ID, domain.ReservationConfirmed, func(rec *domain.ReservationRecord) {
		rec.OrderID = order.ID
	}); err != nil {
		// 订单已确认，库存不能回补；查询结果会回落到订单仓储
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).
			Str("reservation_id", r.ID).
			Str("order_id", order.ID).
			Msg("order confirmed but reservation record not updated")
	}

	pipelineOutcomesTotal.WithLabelValues(string(domain.ReservationConfirmed)).Inc()
	span.AddEvent("Reservation confirmed")
	logger.Ctx(ctx).Info().
		Str("reservation_id", r.ID).
		Str("order_id", order.ID).
		Str("user_id", r.UserID).
		Str("product_id", r.ProductID).
		Msg("reservation confirmed")
}

// Compensate 撤销一个未能确认的预留。先回补库存并按策略处理参与记录，
// 最后才把预留记录推进到 FailedCompensated。
// 各步骤都是幂等的，单步失败只记录日志，不会中断后续步骤。
func (p *OrderPipeline) Compensate(ctx context.Context, r *domain.Reservation, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	ctx, span := p.deps.Tracer.Start(ctx, "pipeline.Compensate")
	defer span.End()

	kind := classifyFailure(cause)
	span.SetAttributes(
		attribute.String("reservation.id", r.ID),
		attribute.String("failure.kind", string(kind)),
	)
	compensationsTotal.WithLabelValues(string(kind)).Inc()

	restored, err := p.deps.Ledger.Restore(ctx, r)
	if err != nil {
		compensationErrorsTotal.WithLabelValues("restore").Inc()
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).Str("reservation_id", r.ID).Int64("quantity", r.Quantity).Msg("CRITICAL: failed to restore stock")
	} else if restored && p.deps.Cache != nil {
		if remaining, err := p.deps.Ledger.Remaining(ctx, r.ProductID); err == nil {
			p.deps.Cache.RefreshStockHint(r.ProductID, remaining)
		}
	}

	if p.shouldRelease(kind) {
		err = p.deps.Guard.Release(ctx, r.UserID, r.ProductID)
	} else {
		err = p.deps.Guard.MarkOutcome(ctx, r.UserID, r.ProductID, domain.ParticipationFailed)
	}
	if err != nil {
		compensationErrorsTotal.WithLabelValues("guard").Inc()
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).Str("reservation_id", r.ID).Msg("failed to settle participation record")
	}

	reason := domain.ReasonTransientFailure
	if kind == failureBusiness {
		reason = domain.ReasonMaterializationFailed
	}
	if p.deps.Events != nil {
		event := &domain.OrderEvent{
			EventID:       uuid.NewString(),
			Type:          domain.OrderEventReservationFailed,
			ReservationID: r.ID,
			UserID:        r.UserID,
			ProductID:     r.ProductID,
			Quantity:      r.Quantity,
			Reason:        reason,
			OccurredAt:    p.deps.Clock.Now(),
		}
		if err := p.deps.Events.PublishOrderEvent(ctx, event); err != nil {
			span.RecordError(err)
			logger.Ctx(ctx).Warn().Err(err).Str("reservation_id", r.ID).Msg("failed to publish reservation failed event")
		}
	}

	if _, err := p.deps.Book.Transition(ctx, r.ID, domain.ReservationFailedCompensated, func(rec *domain.ReservationRecord) {
		rec.FailureReason = reason
	}); err != nil && !errors.Is(err, domain.ErrReservationNotFound) {
		compensationErrorsTotal.WithLabelValues("record").Inc()
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).Str("reservation_id", r.ID).Msg("failed to record compensated reservation")
	}

	pipelineOutcomesTotal.WithLabelValues(string(domain.ReservationFailedCompensated)).Inc()
	span.SetStatus(codes.Error, string(reason))
	logger.Ctx(ctx).Error().Err(cause).
		Str("reservation_id", r.ID).
		Str("user_id", r.UserID).
		Str("product_id", r.ProductID).
		Str("kind", string(kind)).
		Bool("stock_restored", restored).
		Msg("reservation compensated")
}

func (p *OrderPipeline) shouldRelease(kind failureKind) bool {
	switch kind {
	case failureQueueFull:
		return p.policy.OnQueueFull
	case failureTransient:
		return p.policy.OnTransientFailure
	default:
		return p.policy.OnBusinessFailure
	}
}

package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"seckill/internal/pkg/clock"
	"seckill/internal/pkg/logger"
	"seckill/internal/service/seckill/domain"
	"seckill/internal/service/seckill/domain/port"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type ServiceConfig struct {
	// RequestTimeout 覆盖从资格判断到库存扣减的同步部分
	RequestTimeout time.Duration
	// GracePeriod 参与记录和预留记录在销售结束后继续保留的时间
	GracePeriod time.Duration
}

type ServiceDeps struct {
	Limiter  *AdmissionLimiter
	Cache    *EligibilityCache
	Rules    *AdmissionRules
	Guard    *ParticipationGuard
	Ledger   *InventoryLedger
	Book     *ReservationBook
	Pipeline *OrderPipeline
	Orders   port.OrderRepository
	Clock    clock.Clock
	Tracer   trace.Tracer
}

// SeckillApplicationService 编排一次秒杀请求：限流 -> 资格 -> 参与登记 -> 扣库存 -> 入队。
// 被接纳的请求只拿到预留号，订单结果通过 QueryOutcome 查询。
type SeckillApplicationService struct {
	cfg ServiceConfig
	ServiceDeps
}

func NewSeckillApplicationService(cfg ServiceConfig, deps ServiceDeps) *SeckillApplicationService {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 300 * time.Millisecond
	}
	return &SeckillApplicationService{cfg: cfg, ServiceDeps: deps}
}

func (s *SeckillApplicationService) Submit(ctx context.Context, req SubmitRequest) AdmissionResult {
	ctx, span := s.Tracer.Start(ctx, "app.Submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("user.id", req.UserID),
		attribute.String("product.id", req.ProductID),
		attribute.Int64("quantity", req.Quantity),
	)

	r, err := s.submit(ctx, req)
	if err != nil {
		reason := domain.ReasonOf(err)
		admissionsTotal.WithLabelValues(string(reason)).Inc()
		span.SetAttributes(attribute.String("reject.reason", string(reason)))

		l := logger.Ctx(ctx)
		if reason.IsBusinessOutcome() {
			l.Debug().Err(err).Str("user_id", req.UserID).Str("product_id", req.ProductID).Str("reason", string(reason)).Msg("submit rejected")
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(reason))
			l.Error().Err(err).Str("user_id", req.UserID).Str("product_id", req.ProductID).Msg("submit failed")
		}
		return Rejected(reason)
	}

	admissionsTotal.WithLabelValues("ACCEPTED").Inc()
	span.SetAttributes(attribute.String("reservation.id", r.ID))
	return Accepted(r.ID)
}

func (s *SeckillApplicationService) submit(ctx context.Context, req SubmitRequest) (*domain.Reservation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !s.Limiter.Admit() {
		return nil, domain.ErrRateLimited
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	snap, eligible, err := s.Cache.IsEligible(reqCtx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if !eligible {
		if snap.SoldOutAt(s.Clock.Now()) {
			return nil, domain.ErrInsufficientStock
		}
		return nil, domain.ErrIneligible
	}
	if req.Quantity > int64(snap.LimitPerUser) {
		return nil, fmt.Errorf("%w: quantity %d exceeds per-user limit %d", domain.ErrInvalidRequest, req.Quantity, snap.LimitPerUser)
	}
	if s.Rules != nil {
		allowed, err := s.Rules.Allow(snap.AdmissionRule, req.UserID, req.ProductID, req.Quantity)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("product_id", req.ProductID).Msg("admission rule evaluation failed")
			return nil, fmt.Errorf("%w: %v", domain.ErrIneligible, err)
		}
		if !allowed {
			return nil, fmt.Errorf("%w: admission rule denied user %s", domain.ErrIneligible, req.UserID)
		}
	}

	expiresAt := snap.EndTime.Add(s.cfg.GracePeriod)
	registered, err := s.Guard.TryRegister(reqCtx, req.UserID, req.ProductID, expiresAt)
	if err != nil {
		return nil, err
	}
	if !registered {
		return nil, domain.ErrDuplicateParticipation
	}

	policy := s.Pipeline.Policy()
	r, err := s.Ledger.Decrement(reqCtx, req.UserID, req.ProductID, req.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInsufficientStock):
			// 请求数量超过剩余时商品并未售罄，提示按账本实际剩余量更新
			if remaining, ok := domain.ObservedRemaining(err); ok && remaining > 0 {
				s.Cache.RefreshStockHint(req.ProductID, remaining)
			} else {
				s.Cache.MarkSoldOut(req.ProductID)
			}
			if policy.OnSoldOut {
				s.releaseGuard(ctx, req)
			}
		case errors.Is(err, domain.ErrLedgerNotInitialized):
			s.releaseGuard(ctx, req)
			err = fmt.Errorf("%w: %v", domain.ErrIneligible, err)
		case errors.Is(err, domain.ErrInvalidRequest):
			s.releaseGuard(ctx, req)
		default:
			// 扣减结果未知；释放参与记录最多让一件库存无人认领，不会超卖
			if policy.OnTransientFailure {
				s.releaseGuard(ctx, req)
			}
			err = domain.Transient(err)
		}
		return nil, err
	}
	r.UnitPrice = snap.SalePrice

	if _, err := s.Book.Create(ctx, r, expiresAt); err != nil {
		s.Pipeline.Compensate(ctx, r, domain.Transient(err))
		return nil, domain.Transient(err)
	}
	if err := s.Pipeline.Enqueue(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SeckillApplicationService) releaseGuard(ctx context.Context, req SubmitRequest) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RequestTimeout)
	defer cancel()
	if err := s.Guard.Release(ctx, req.UserID, req.ProductID); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("user_id", req.UserID).Str("product_id", req.ProductID).Msg("failed to release participation")
	}
}

// QueryOutcome 返回预留的当前结果；预留号未知时返回 domain.ErrReservationNotFound
func (s *SeckillApplicationService) QueryOutcome(ctx context.Context, reservationID string) (Outcome, error) {
	ctx, span := s.Tracer.Start(ctx, "app.QueryOutcome")
	defer span.End()
	span.SetAttributes(attribute.String("reservation.id", reservationID))

	rec, err := s.Book.Find(ctx, reservationID)
	if err != nil {
		if !errors.Is(err, domain.ErrReservationNotFound) {
			span.RecordError(err)
		}
		return Outcome{}, err
	}

	out := Outcome{ReservationID: reservationID, Status: OutcomePending}
	switch rec.State {
	case domain.ReservationConfirmed:
		out.Status = OutcomeConfirmed
		out.OrderID = rec.OrderID
	case domain.ReservationFailedCompensated:
		out.Status = OutcomeFailed
		out.Reason = rec.FailureReason
	case domain.ReservationMaterializing:
		// 订单已确认但记录未能推进时，以订单仓储为准
		if s.Orders != nil {
			order, err := s.Orders.FindByReservationID(ctx, reservationID)
			if err == nil && order.Status == domain.OrderStatusConfirmed {
				out.Status = OutcomeConfirmed
				out.OrderID = order.ID
			}
		}
	}
	return out, nil
}

// HasParticipated 查询用户是否持有该商品的参与记录；记录过期或已释放视为未参与
func (s *SeckillApplicationService) HasParticipated(ctx context.Context, userID, productID string) (Participation, error) {
	ctx, span := s.Tracer.Start(ctx, "app.HasParticipated")
	defer span.End()

	out := Participation{UserID: userID, ProductID: productID}
	if userID == "" || productID == "" {
		return out, fmt.Errorf("%w: user id and product id are required", domain.ErrInvalidRequest)
	}
	rec, err := s.Guard.Lookup(ctx, userID, productID)
	if err != nil {
		span.RecordError(err)
		return out, err
	}
	if rec != nil && !rec.ExpiredAt(s.Clock.Now()) {
		out.Participated = true
		out.Outcome = rec.Outcome
	}
	return out, nil
}

// RemainingStock 直接读取库存账本；未预热的商品返回 domain.ErrProductNotFound
func (s *SeckillApplicationService) RemainingStock(ctx context.Context, productID string) (StockLevel, error) {
	ctx, span := s.Tracer.Start(ctx, "app.RemainingStock")
	defer span.End()

	if productID == "" {
		return StockLevel{}, fmt.Errorf("%w: product id is required", domain.ErrInvalidRequest)
	}
	remaining, err := s.Ledger.Remaining(ctx, productID)
	switch {
	case errors.Is(err, domain.ErrLedgerNotInitialized):
		return StockLevel{}, fmt.Errorf("%w: %v", domain.ErrProductNotFound, err)
	case err != nil:
		span.RecordError(err)
		return StockLevel{}, domain.Transient(err)
	}
	return StockLevel{ProductID: productID, Remaining: remaining}, nil
}

// ProductStatus 通过资格缓存回答商品是否在售，与 Submit 的判断一致
func (s *SeckillApplicationService) ProductStatus(ctx context.Context, productID string) (ProductStatus, error) {
	ctx, span := s.Tracer.Start(ctx, "app.ProductStatus")
	defer span.End()

	if productID == "" {
		return ProductStatus{}, fmt.Errorf("%w: product id is required", domain.ErrInvalidRequest)
	}
	snap, onSale, err := s.Cache.IsEligible(ctx, productID)
	if err != nil {
		span.RecordError(err)
		return ProductStatus{}, err
	}
	if snap.ProductID == "" {
		return ProductStatus{}, domain.ErrProductNotFound
	}
	now := s.Clock.Now()
	return ProductStatus{
		ProductID: productID,
		OnSale:    onSale,
		SoldOut:   snap.SoldOutAt(now),
		StockHint: snap.StockHint,
		StartTime: snap.StartTime,
		EndTime:   snap.EndTime,
	}, nil
}

package application

import (
	"context"
	"encoding/json"
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
	"golang.org/x/sync/errgroup"
)

const warmUpConcurrency = 8

type MaintenanceDeps struct {
	Products port.ProductRepository
	Store    port.Store
	Ledger   *InventoryLedger
	Cache    *EligibilityCache
	Rules    *AdmissionRules
	Events   port.ProductEventPublisher
	// Locker 为空时不做跨实例互斥
	Locker port.Locker
	Clock  clock.Clock
	Tracer trace.Tracer
}

// MaintenanceService 负责销售开始前的预热和销售结束后的过期记录清理
type MaintenanceService struct {
	MaintenanceDeps
}

func NewMaintenanceService(deps MaintenanceDeps) *MaintenanceService {
	return &MaintenanceService{MaintenanceDeps: deps}
}

// WarmUp 初始化库存账本并预热资格缓存。对同一销售代次重复调用是幂等的；
// 账本中已有不一致的条目时返回 domain.ErrLedgerConflict，不会重置正在进行的销售。
func (m *MaintenanceService) WarmUp(ctx context.Context, productID string) (*domain.StockEntry, error) {
	ctx, span := m.Tracer.Start(ctx, "maintenance.WarmUp")
	defer span.End()
	span.SetAttributes(attribute.String("product.id", productID))

	entry, err := m.warmUp(ctx, productID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Warm-up failed")
		logger.Ctx(ctx).Error().Err(err).Str("product_id", productID).Msg("warm-up failed")
		return nil, err
	}
	logger.Ctx(ctx).Info().
		Str("product_id", productID).
		Str("epoch", entry.Epoch).
		Int64("remaining", entry.Remaining).
		Msg("product warmed up")
	return entry, nil
}

func (m *MaintenanceService) warmUp(ctx context.Context, productID string) (*domain.StockEntry, error) {
	product, err := m.Products.FindByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if err := product.Validate(); err != nil {
		return nil, err
	}
	if m.Rules != nil {
		if _, err := m.Rules.Compile(product.AdmissionRule); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
		}
	}

	entry, err := m.Ledger.Initialize(ctx, productID, product.TotalStock, product.Epoch())
	if err != nil {
		return nil, err
	}
	if m.Cache != nil {
		m.Cache.Prime(product.Snapshot(entry.Remaining))
	}

	if m.Events != nil {
		event := &domain.ProductWarmed{
			ProductID:  productID,
			Epoch:      entry.Epoch,
			TotalStock: entry.Total,
			OccurredAt: m.Clock.Now(),
		}
		if err := m.Events.PublishProductWarmed(ctx, event); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("product_id", productID).Msg("failed to publish product warmed event")
		}
	}
	return entry, nil
}

// WarmUpAll 并发预热，返回第一个失败
func (m *MaintenanceService) WarmUpAll(ctx context.Context, productIDs []string) error {
	var g errgroup.Group
	g.SetLimit(warmUpConcurrency)
	for _, id := range productIDs {
		g.Go(func() error {
			_, err := m.WarmUp(ctx, id)
			return err
		})
	}
	return g.Wait()
}

type SweepReport struct {
	Scanned               int `json:"scanned"`
	ParticipationsDeleted int `json:"participations_deleted"`
	ReservationsDeleted   int `json:"reservations_deleted"`
}

// expiring 只解码清理需要的字段，参与记录和预留记录共用
type expiring struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// SweepExpired 删除已过期的参与记录和预留记录。这是唯一基于时间的删除路径。
func (m *MaintenanceService) SweepExpired(ctx context.Context) (SweepReport, error) {
	ctx, span := m.Tracer.Start(ctx, "maintenance.SweepExpired")
	defer span.End()

	var report SweepReport
	now := m.Clock.Now()

	for _, target := range []struct {
		prefix  string
		kind    string
		deleted *int
	}{
		{participationPrefix, "participation", &report.ParticipationsDeleted},
		{reservationPrefix, "reservation", &report.ReservationsDeleted},
	} {
		keys, err := m.Store.Scan(ctx, target.prefix)
		if err != nil {
			span.RecordError(err)
			return report, domain.Transient(fmt.Errorf("scan %s: %w", target.prefix, err))
		}
		report.Scanned += len(keys)

		for _, key := range keys {
			expired, err := m.expired(ctx, key, now)
			if err != nil {
				logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("skipping record during sweep")
				continue
			}
			if !expired {
				continue
			}
			if err := m.Store.Delete(ctx, key); err != nil {
				span.RecordError(err)
				return report, domain.Transient(fmt.Errorf("delete %s: %w", key, err))
			}
			*target.deleted++
			sweptTotal.WithLabelValues(target.kind).Inc()
		}
	}

	span.SetAttributes(
		attribute.Int("sweep.scanned", report.Scanned),
		attribute.Int("sweep.participations", report.ParticipationsDeleted),
		attribute.Int("sweep.reservations", report.ReservationsDeleted),
	)
	logger.Ctx(ctx).Info().
		Int("scanned", report.Scanned).
		Int("participations_deleted", report.ParticipationsDeleted).
		Int("reservations_deleted", report.ReservationsDeleted).
		Msg("sweep finished")
	return report, nil
}

// expired 存储层已判定过期 (读不到) 的键同样清理掉
func (m *MaintenanceService) expired(ctx context.Context, key string, now time.Time) (bool, error) {
	cur, err := m.Store.Get(ctx, key)
	if errors.Is(err, port.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	var rec expiring
	if err := json.Unmarshal(cur.Value, &rec); err != nil {
		return false, err
	}
	return !rec.ExpiresAt.IsZero() && !now.Before(rec.ExpiresAt), nil
}

// Run 按 interval 周期清理，直到 ctx 结束。配置了 Locker 时每轮先取得锁。
func (m *MaintenanceService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Ctx(ctx).Info().Dur("interval", interval).Msg("sweeper started")

	for {
		select {
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			m.sweepOnce(ctx, interval)
		}
	}
}

func (m *MaintenanceService) sweepOnce(ctx context.Context, interval time.Duration) {
	if m.Locker != nil {
		lockCtx, cancel := context.WithTimeout(ctx, interval)
		err := m.Locker.Lock(lockCtx)
		cancel()
		if err != nil {
			logger.Ctx(ctx).Debug().Err(err).Msg("sweep lock not acquired, skipping round")
			return
		}
		defer func() {
			if err := m.Locker.Unlock(context.WithoutCancel(ctx)); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Msg("failed to release sweep lock")
			}
		}()
	}
	if _, err := m.SweepExpired(ctx); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("sweep failed")
	}
}

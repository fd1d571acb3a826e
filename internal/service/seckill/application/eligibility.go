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

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"
)

type EligibilityConfig struct {
	// TTL 必须远小于销售时长
	TTL time.Duration
	// MissWindow 内同一商品的第二次回源失败直接判为不可售
	MissWindow time.Duration
	// SoldOutTTL 限制售罄标记的有效期，其他实例的回补在此之后可见
	SoldOutTTL  time.Duration
	MaxProducts int64
}

// StockHinter 为回源加载的快照提供库存提示
type StockHinter interface {
	Remaining(ctx context.Context, productID string) (int64, error)
}

type cachedSnapshot struct {
	snapshot  domain.Snapshot
	expiresAt time.Time
}

// EligibilityCache 在热路径上回答"商品当前是否可售"，避免每个请求访问持久化存储。
// 有效期按注入的时钟判断，ristretto 自身的 TTL 只负责回收内存。
type EligibilityCache struct {
	products port.ProductRepository
	stock    StockHinter
	clock    clock.Clock
	cfg      EligibilityConfig

	snapshots *ristretto.Cache[string, cachedSnapshot]
	misses    *ristretto.Cache[string, time.Time]
	group     singleflight.Group
}

func NewEligibilityCache(products port.ProductRepository, stock StockHinter, clk clock.Clock, cfg EligibilityConfig) (*EligibilityCache, error) {
	if cfg.MaxProducts <= 0 {
		cfg.MaxProducts = 10000
	}
	if cfg.SoldOutTTL <= 0 || cfg.SoldOutTTL > cfg.TTL {
		cfg.SoldOutTTL = cfg.TTL
	}
	snapshots, err := ristretto.NewCache(&ristretto.Config[string, cachedSnapshot]{
		NumCounters:        cfg.MaxProducts * 10,
		MaxCost:            cfg.MaxProducts,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create snapshot cache: %w", err)
	}
	misses, err := ristretto.NewCache(&ristretto.Config[string, time.Time]{
		NumCounters:        cfg.MaxProducts * 10,
		MaxCost:            cfg.MaxProducts,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		snapshots.Close()
		return nil, fmt.Errorf("create miss cache: %w", err)
	}
	return &EligibilityCache{
		products:  products,
		stock:     stock,
		clock:     clk,
		cfg:       cfg,
		snapshots: snapshots,
		misses:    misses,
	}, nil
}

// IsEligible 返回快照以及当前是否可售。
// 未命中时回源一次并回填；回源未能产出快照后，MissWindow 内的再次未命中直接判为不可售。
func (c *EligibilityCache) IsEligible(ctx context.Context, productID string) (domain.Snapshot, bool, error) {
	now := c.clock.Now()
	if cached, ok := c.snapshots.Get(productID); ok && now.Before(cached.expiresAt) {
		return cached.snapshot, cached.snapshot.SellableAt(now), nil
	}

	if missedAt, ok := c.misses.Get(productID); ok && now.Sub(missedAt) < c.cfg.MissWindow {
		return domain.Snapshot{}, false, nil
	}

	v, err, _ := c.group.Do(productID, func() (interface{}, error) {
		return c.load(ctx, productID)
	})
	if err != nil {
		c.recordMiss(productID, now)
		if errors.Is(err, domain.ErrProductNotFound) {
			return domain.Snapshot{}, false, nil
		}
		return domain.Snapshot{}, false, domain.Transient(fmt.Errorf("load product %s: %w", productID, err))
	}

	snapshot := v.(domain.Snapshot)
	return snapshot, snapshot.SellableAt(now), nil
}

func (c *EligibilityCache) load(ctx context.Context, productID string) (domain.Snapshot, error) {
	product, err := c.products.FindByID(ctx, productID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	hint := product.TotalStock
	warmed := true
	if c.stock != nil {
		remaining, err := c.stock.Remaining(ctx, productID)
		switch {
		case err == nil:
			hint = remaining
		case errors.Is(err, domain.ErrLedgerNotInitialized):
			hint, warmed = 0, false
		default:
			logger.Ctx(ctx).Warn().Err(err).Str("product_id", productID).Msg("stock hint unavailable, using total stock")
		}
	}

	snapshot := product.Snapshot(hint)
	if !warmed {
		// 尚未预热的商品不可售
		snapshot.Enabled = false
	}
	c.Prime(snapshot)
	return snapshot, nil
}

// Prime 写入 (或覆盖) 快照，预热和回源都通过这里
func (c *EligibilityCache) Prime(snapshot domain.Snapshot) {
	c.snapshots.SetWithTTL(snapshot.ProductID, cachedSnapshot{snapshot: snapshot, expiresAt: c.clock.Now().Add(c.cfg.TTL)}, 1, c.cfg.TTL)
	c.snapshots.Wait()
	c.misses.Del(snapshot.ProductID)
}

func (c *EligibilityCache) Invalidate(productID string) {
	c.snapshots.Del(productID)
	c.misses.Del(productID)
}

// MarkSoldOut 账本报告剩余为 0 后把提示置 0，SoldOutTTL 内的请求在缓存层即被拒绝
func (c *EligibilityCache) MarkSoldOut(productID string) {
	c.RefreshStockHint(productID, 0)
}

// RefreshStockHint 只更新提示，不延长快照有效期；提示为 0 时有效期缩短到 SoldOutTTL
func (c *EligibilityCache) RefreshStockHint(productID string, remaining int64) {
	cached, ok := c.snapshots.Get(productID)
	if !ok {
		return
	}
	now := c.clock.Now()
	cached.snapshot.StockHint = remaining
	if remaining <= 0 {
		if soldOutUntil := now.Add(c.cfg.SoldOutTTL); soldOutUntil.Before(cached.expiresAt) {
			cached.expiresAt = soldOutUntil
		}
	}
	ttl := cached.expiresAt.Sub(now)
	if ttl <= 0 {
		c.snapshots.Del(productID)
		return
	}
	c.snapshots.SetWithTTL(productID, cached, 1, ttl)
	c.snapshots.Wait()
}

func (c *EligibilityCache) recordMiss(productID string, at time.Time) {
	window := c.cfg.MissWindow
	if window <= 0 {
		return
	}
	c.misses.SetWithTTL(productID, at, 1, window)
	c.misses.Wait()
}

func (c *EligibilityCache) Close() {
	c.snapshots.Close()
	c.misses.Close()
}

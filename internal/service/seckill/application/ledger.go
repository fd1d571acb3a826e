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

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

const stockPrefix = "seckill:stock:"

func StockKey(productID string) string {
	return fmt.Sprintf("%s{%s}", stockPrefix, productID)
}

type LedgerConfig struct {
	// MaxRetries 只针对存储层的瞬时错误；版本冲突总是立即重试
	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// errAlreadyRestored 让 CAS 循环提前结束，对调用方表现为空操作
var errAlreadyRestored = errors.New("reservation already restored")

// InventoryLedger 是剩余库存的唯一事实来源，也是唯一允许修改库存的组件。
// 每次修改都是 读取-校验-CAS写入 的循环，版本不一致时重读重试。
type InventoryLedger struct {
	store port.Store
	clock clock.Clock
	cfg   LedgerConfig
}

func NewInventoryLedger(store port.Store, clk clock.Clock, cfg LedgerConfig) *InventoryLedger {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 5 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 50 * time.Millisecond
	}
	return &InventoryLedger{store: store, clock: clk, cfg: cfg}
}

// Decrement 扣减成功时返回预留；库存不足返回 domain.ErrInsufficientStock，且不重试。
// 返回瞬时错误时扣减结果未知，调用方不能在没有幂等上下文的情况下盲目重试。
func (l *InventoryLedger) Decrement(ctx context.Context, userID, productID string, qty int64) (*domain.Reservation, error) {
	entry, err := l.mutate(ctx, productID, func(e *domain.StockEntry) error {
		return e.Reserve(qty)
	})
	if err != nil {
		return nil, err
	}
	return &domain.Reservation{
		ID:         uuid.NewString(),
		UserID:     userID,
		ProductID:  productID,
		Quantity:   qty,
		Epoch:      entry.Epoch,
		Sequence:   entry.Sequence,
		AdmittedAt: l.clock.Now(),
	}, nil
}

// Restore 补偿回补，对同一预留号幂等。返回值表示本次是否真正回补了库存。
// 预留所属的销售代次已被替换时视为过期补偿，不做任何修改。
func (l *InventoryLedger) Restore(ctx context.Context, r *domain.Reservation) (bool, error) {
	_, err := l.mutate(ctx, r.ProductID, func(e *domain.StockEntry) error {
		if e.Epoch != r.Epoch {
			return fmt.Errorf("%w: reservation %s epoch %s, ledger epoch %s", domain.ErrStaleCompensation, r.ID, r.Epoch, e.Epoch)
		}
		applied, err := e.Restore(r.ID, r.Quantity)
		if err != nil {
			return err
		}
		if !applied {
			return errAlreadyRestored
		}
		return nil
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errAlreadyRestored):
		return false, nil
	case errors.Is(err, domain.ErrStaleCompensation):
		logger.Ctx(ctx).Warn().Err(err).Msg("ignoring stale stock compensation")
		return false, nil
	default:
		return false, err
	}
}

// Initialize 写入一次销售的初始库存。已有同一代次、同一总量的条目时视为重复预热；
// 已有不一致的条目时返回 domain.ErrLedgerConflict，避免重置一场正在进行的销售。
func (l *InventoryLedger) Initialize(ctx context.Context, productID string, total int64, epoch string) (*domain.StockEntry, error) {
	entry := domain.NewStockEntry(productID, total, epoch)
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}

	_, err = l.store.CompareAndSwap(ctx, StockKey(productID), payload, 0)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, port.ErrVersionConflict) {
		return nil, domain.Transient(fmt.Errorf("initialize ledger %s: %w", productID, err))
	}

	existing, err := l.Snapshot(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !existing.Matches(total, epoch) {
		return nil, fmt.Errorf("%w: product %s has total=%d epoch=%s, want total=%d epoch=%s",
			domain.ErrLedgerConflict, productID, existing.Total, existing.Epoch, total, epoch)
	}
	return existing, nil
}

// Snapshot 读取当前条目 (只读)
func (l *InventoryLedger) Snapshot(ctx context.Context, productID string) (*domain.StockEntry, error) {
	cur, err := l.store.Get(ctx, StockKey(productID))
	if errors.Is(err, port.ErrNotFound) {
		return nil, domain.ErrLedgerNotInitialized
	}
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("read ledger %s: %w", productID, err))
	}
	var entry domain.StockEntry
	if err := json.Unmarshal(cur.Value, &entry); err != nil {
		return nil, fmt.Errorf("decode stock entry %s: %w", productID, err)
	}
	return &entry, nil
}

// Remaining 实现 StockHinter
func (l *InventoryLedger) Remaining(ctx context.Context, productID string) (int64, error) {
	entry, err := l.Snapshot(ctx, productID)
	if err != nil {
		return 0, err
	}
	return entry.Remaining, nil
}

// mutate 在 CAS 循环中对条目应用 fn。fn 返回的错误是业务结果，不会重试；
// 存储层错误按指数退避重试至多 MaxRetries 次。
func (l *InventoryLedger) mutate(ctx context.Context, productID string, fn func(*domain.StockEntry) error) (*domain.StockEntry, error) {
	key := StockKey(productID)
	var result *domain.StockEntry

	op := func() error {
		for {
			if err := ctx.Err(); err != nil {
				return backoff.Permanent(domain.Transient(err))
			}
			cur, err := l.store.Get(ctx, key)
			if errors.Is(err, port.ErrNotFound) {
				return backoff.Permanent(domain.ErrLedgerNotInitialized)
			}
			if err != nil {
				return domain.Transient(err)
			}

			var entry domain.StockEntry
			if err := json.Unmarshal(cur.Value, &entry); err != nil {
				return backoff.Permanent(fmt.Errorf("decode stock entry %s: %w", productID, err))
			}
			if err := fn(&entry); err != nil {
				return backoff.Permanent(err)
			}
			payload, err := json.Marshal(&entry)
			if err != nil {
				return backoff.Permanent(err)
			}

			_, err = l.store.CompareAndSwap(ctx, key, payload, cur.Version)
			if errors.Is(err, port.ErrVersionConflict) {
				continue
			}
			if err != nil {
				return domain.Transient(err)
			}
			result = &entry
			return nil
		}
	}

	if err := backoff.Retry(op, l.newBackOff(ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

func (l *InventoryLedger) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = l.cfg.InitialBackoff
	eb.MaxInterval = l.cfg.MaxBackoff
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, l.cfg.MaxRetries), ctx)
}

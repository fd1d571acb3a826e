package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"seckill/internal/pkg/clock"
	"seckill/internal/service/seckill/domain"
	"seckill/internal/service/seckill/domain/port"
)

const (
	participationPrefix = "seckill:participation:"
	// minGuardTTL 防止在窗口尾部登记时得到非正的 TTL
	minGuardTTL = time.Second
)

// ParticipationKey 以 {productID} 作为 hash tag，同一商品的记录落在同一 slot
func ParticipationKey(productID, userID string) string {
	return fmt.Sprintf("%s{%s}:%s", participationPrefix, productID, userID)
}

// ParticipationGuard 保证每个用户对每个商品至多一次尝试
type ParticipationGuard struct {
	store port.Store
	clock clock.Clock
}

func NewParticipationGuard(store port.Store, clk clock.Clock) *ParticipationGuard {
	return &ParticipationGuard{store: store, clock: clk}
}

// TryRegister 原子地"不存在则写入"；已有存活记录时返回 false
func (g *ParticipationGuard) TryRegister(ctx context.Context, userID, productID string, expiresAt time.Time) (bool, error) {
	now := g.clock.Now()
	ttl := expiresAt.Sub(now)
	if ttl < minGuardTTL {
		ttl = minGuardTTL
		expiresAt = now.Add(ttl)
	}
	payload, err := json.Marshal(&domain.ParticipationRecord{
		UserID:    userID,
		ProductID: productID,
		Outcome:   domain.ParticipationPending,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return false, err
	}
	ok, err := g.store.SetIfAbsent(ctx, ParticipationKey(productID, userID), payload, ttl)
	if err != nil {
		return false, domain.Transient(fmt.Errorf("register participation %s/%s: %w", productID, userID, err))
	}
	return ok, nil
}

// Release 删除记录，允许用户重新尝试
func (g *ParticipationGuard) Release(ctx context.Context, userID, productID string) error {
	if err := g.store.Delete(ctx, ParticipationKey(productID, userID)); err != nil {
		return domain.Transient(fmt.Errorf("release participation %s/%s: %w", productID, userID, err))
	}
	return nil
}

// MarkOutcome 更新结果标记；记录已不存在时忽略
func (g *ParticipationGuard) MarkOutcome(ctx context.Context, userID, productID string, outcome domain.ParticipationOutcome) error {
	key := ParticipationKey(productID, userID)
	for {
		cur, err := g.store.Get(ctx, key)
		if errors.Is(err, port.ErrNotFound) {
			return nil
		}
		if err != nil {
			return domain.Transient(err)
		}
		var rec domain.ParticipationRecord
		if err := json.Unmarshal(cur.Value, &rec); err != nil {
			return fmt.Errorf("decode participation %s: %w", key, err)
		}
		rec.Outcome = outcome
		payload, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		_, err = g.store.CompareAndSwap(ctx, key, payload, cur.Version)
		if errors.Is(err, port.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return domain.Transient(err)
		}
		return nil
	}
}

// Lookup 读取记录，不存在返回 nil
func (g *ParticipationGuard) Lookup(ctx context.Context, userID, productID string) (*domain.ParticipationRecord, error) {
	cur, err := g.store.Get(ctx, ParticipationKey(productID, userID))
	if errors.Is(err, port.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Transient(err)
	}
	var rec domain.ParticipationRecord
	if err := json.Unmarshal(cur.Value, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

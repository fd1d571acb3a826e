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

const reservationPrefix = "seckill:reservation:"

func ReservationKey(reservationID string) string {
	return reservationPrefix + reservationID
}

// ReservationBook 持久化预留的生命周期，供 queryOutcome 查询
type ReservationBook struct {
	store port.Store
	clock clock.Clock
}

func NewReservationBook(store port.Store, clk clock.Clock) *ReservationBook {
	return &ReservationBook{store: store, clock: clk}
}

// Create 以 Admitted 状态写入记录，过期后由维护任务清理
func (b *ReservationBook) Create(ctx context.Context, r *domain.Reservation, expiresAt time.Time) (*domain.ReservationRecord, error) {
	rec := domain.NewReservationRecord(*r, expiresAt)
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	ttl := expiresAt.Sub(b.clock.Now())
	if ttl < minGuardTTL {
		ttl = minGuardTTL
	}
	ok, err := b.store.SetIfAbsent(ctx, ReservationKey(r.ID), payload, ttl)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("create reservation record %s: %w", r.ID, err))
	}
	if !ok {
		return nil, fmt.Errorf("reservation record %s already exists", r.ID)
	}
	return rec, nil
}

// Transition 以 CAS 推进状态；mutate 可在同一次写入中补充字段
func (b *ReservationBook) Transition(ctx context.Context, reservationID string, to domain.ReservationState, mutate func(*domain.ReservationRecord)) (*domain.ReservationRecord, error) {
	key := ReservationKey(reservationID)
	for {
		cur, err := b.store.Get(ctx, key)
		if errors.Is(err, port.ErrNotFound) {
			return nil, domain.ErrReservationNotFound
		}
		if err != nil {
			return nil, domain.Transient(err)
		}
		var rec domain.ReservationRecord
		if err := json.Unmarshal(cur.Value, &rec); err != nil {
			return nil, fmt.Errorf("decode reservation record %s: %w", reservationID, err)
		}
		if err := rec.TransitionTo(to, b.clock.Now()); err != nil {
			return &rec, err
		}
		if mutate != nil {
			mutate(&rec)
		}
		payload, err := json.Marshal(&rec)
		if err != nil {
			return nil, err
		}
		_, err = b.store.CompareAndSwap(ctx, key, payload, cur.Version)
		if errors.Is(err, port.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, domain.Transient(err)
		}
		return &rec, nil
	}
}

func (b *ReservationBook) Find(ctx context.Context, reservationID string) (*domain.ReservationRecord, error) {
	cur, err := b.store.Get(ctx, ReservationKey(reservationID))
	if errors.Is(err, port.ErrNotFound) {
		return nil, domain.ErrReservationNotFound
	}
	if err != nil {
		return nil, domain.Transient(err)
	}
	var rec domain.ReservationRecord
	if err := json.Unmarshal(cur.Value, &rec); err != nil {
		return nil, fmt.Errorf("decode reservation record %s: %w", reservationID, err)
	}
	return &rec, nil
}

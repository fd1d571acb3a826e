// Package store 提供 port.Store 的内存实现与 Redis 实现。
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"seckill/internal/pkg/clock"
	"seckill/internal/service/seckill/domain/port"
)

// slot 是单个键的存储单元，每个键各自加锁，不同键之间不竞争
type slot struct {
	mu        sync.Mutex
	value     []byte
	version   uint64
	expiresAt time.Time
	present   bool
	dead      bool // 已从 map 中摘除，持有旧指针的调用方需要重新加载
}

func (s *slot) liveAt(now time.Time) bool {
	return s.present && (s.expiresAt.IsZero() || now.Before(s.expiresAt))
}

// MemoryStore 是进程内的 port.Store，过期判断使用注入的时钟
type MemoryStore struct {
	clock   clock.Clock
	slots   sync.Map // string -> *slot
	version atomic.Uint64
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{clock: clk}
}

// lockSlot 返回已加锁的 slot；create 为 false 且键不存在时返回 nil
func (m *MemoryStore) lockSlot(key string, create bool) *slot {
	for {
		v, ok := m.slots.Load(key)
		if !ok {
			if !create {
				return nil
			}
			v, _ = m.slots.LoadOrStore(key, &slot{})
		}
		s := v.(*slot)
		s.mu.Lock()
		if !s.dead {
			return s
		}
		s.mu.Unlock()
	}
}

func (m *MemoryStore) Get(ctx context.Context, key string) (port.Entry, error) {
	if err := ctx.Err(); err != nil {
		return port.Entry{}, err
	}
	s := m.lockSlot(key, false)
	if s == nil {
		return port.Entry{}, port.ErrNotFound
	}
	defer s.mu.Unlock()
	if !s.liveAt(m.clock.Now()) {
		return port.Entry{}, port.ErrNotFound
	}
	return port.Entry{Value: clone(s.value), Version: s.version}, nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s := m.lockSlot(key, true)
	defer s.mu.Unlock()
	m.write(s, value, ttl)
	return s.version, nil
}

func (m *MemoryStore) CompareAndSwap(ctx context.Context, key string, value []byte, expectedVersion uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s := m.lockSlot(key, true)
	defer s.mu.Unlock()

	live := s.liveAt(m.clock.Now())
	if expectedVersion == 0 {
		if live {
			return 0, port.ErrVersionConflict
		}
		m.write(s, value, 0)
		return s.version, nil
	}
	if !live || s.version != expectedVersion {
		return 0, port.ErrVersionConflict
	}
	s.value = clone(value)
	s.version = m.version.Add(1)
	return s.version, nil
}

func (m *MemoryStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s := m.lockSlot(key, true)
	defer s.mu.Unlock()
	if s.liveAt(m.clock.Now()) {
		return false, nil
	}
	m.write(s, value, ttl)
	return true, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := m.lockSlot(key, false)
	if s == nil {
		return nil
	}
	s.dead = true
	m.slots.CompareAndDelete(key, s)
	s.mu.Unlock()
	return nil
}

// Scan 包含已过期但尚未被清理的键，维护任务据此回收
func (m *MemoryStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	m.slots.Range(func(k, _ any) bool {
		if key := k.(string); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return true
	})
	sort.Strings(keys)
	return keys, nil
}

// write 调用方必须持有 s.mu
func (m *MemoryStore) write(s *slot, value []byte, ttl time.Duration) {
	s.value = clone(value)
	s.version = m.version.Add(1)
	s.present = true
	if ttl > 0 {
		s.expiresAt = m.clock.Now().Add(ttl)
	} else {
		s.expiresAt = time.Time{}
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Package clock 抽象时间来源，令牌桶和销售窗口判断都从这里取 now。
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

// System 使用进程时钟
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Manual 是手动推进的时钟，只在调用 Advance/Set 时变化
type Manual struct {
	mu  sync.RWMutex
	now time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

package port

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("store: key not found")
	ErrVersionConflict = errors.New("store: version conflict")
)

// Entry 是一个带版本的值；版本在整个存储内单调递增
type Entry struct {
	Value   []byte
	Version uint64
}

// Store 是带条件写的键值存储。库存账本、参与记录和预留记录都建立在它之上。
type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	// Put 无条件写入；ttl 为 0 表示不过期
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) (uint64, error)
	// CompareAndSwap 仅当当前版本等于 expectedVersion 时写入 (0 表示键必须不存在)，保留原有过期时间
	CompareAndSwap(ctx context.Context, key string, value []byte, expectedVersion uint64) (uint64, error)
	// SetIfAbsent 键不存在 (或已过期) 时写入并返回 true
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	// Scan 列出前缀下的所有键，仅供维护任务使用
	Scan(ctx context.Context, prefix string) ([]string, error)
}

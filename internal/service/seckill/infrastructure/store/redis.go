package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"seckill/internal/pkg/redis"
	"seckill/internal/service/seckill/domain/port"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

const (
	casScriptName         = "store_cas"
	putScriptName         = "store_put"
	setIfAbsentScriptName = "store_set_if_absent"

	fieldValue   = "v"
	fieldVersion = "ver"
	scanBatch    = 500
)

// RedisStore 把每个键保存为 hash {v: value, ver: version}，条件写入通过 Lua 脚本原子完成
type RedisStore struct {
	redisClient *redis.Client
}

// NewRedisStore 在创建时加载所有需要的 Lua 脚本
func NewRedisStore(redisClient *redis.Client) (*RedisStore, error) {
	scripts := map[string]string{
		casScriptName:         casScript,
		putScriptName:         putScript,
		setIfAbsentScriptName: setIfAbsentScript,
	}
	for name, content := range scripts {
		if err := redisClient.LoadScriptFromContent(name, content); err != nil {
			return nil, errors.Wrapf(err, "failed to load store script %s", name)
		}
	}
	return &RedisStore{redisClient: redisClient}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (port.Entry, error) {
	vals, err := s.redisClient.GetClient().HMGet(ctx, key, fieldValue, fieldVersion).Result()
	if err != nil {
		return port.Entry{}, errors.Wrapf(err, "redis store get %s", key)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return port.Entry{}, port.ErrNotFound
	}
	value, _ := vals[0].(string)
	verStr, _ := vals[1].(string)
	ver, err := strconv.ParseUint(verStr, 10, 64)
	if err != nil {
		return port.Entry{}, errors.Wrapf(err, "redis store get %s: bad version %q", key, verStr)
	}
	return port.Entry{Value: []byte(value), Version: ver}, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) (uint64, error) {
	res, err := s.redisClient.RunScript(ctx, putScriptName, []string{key}, value, ttl.Milliseconds())
	if err != nil {
		return 0, errors.Wrapf(err, "redis store put %s", key)
	}
	return toVersion(res)
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, key string, value []byte, expectedVersion uint64) (uint64, error) {
	res, err := s.redisClient.RunScript(ctx, casScriptName, []string{key}, value, expectedVersion)
	if err != nil {
		return 0, errors.Wrapf(err, "redis store cas %s", key)
	}
	code, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected result type from cas script: %T", res)
	}
	if code < 0 {
		return 0, port.ErrVersionConflict
	}
	return uint64(code), nil
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	res, err := s.redisClient.RunScript(ctx, setIfAbsentScriptName, []string{key}, value, ttl.Milliseconds())
	if err != nil {
		return false, errors.Wrapf(err, "redis store set-if-absent %s", key)
	}
	code, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected result type from set-if-absent script: %T", res)
	}
	return code == 1, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redisClient.GetClient().Del(ctx, key).Err(); err != nil {
		return errors.Wrapf(err, "redis store delete %s", key)
	}
	return nil
}

// Scan 集群模式下需要遍历每个主节点
func (s *RedisStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	var (
		mu   sync.Mutex
		keys []string
	)
	scanNode := func(ctx context.Context, c goredis.UniversalClient) error {
		iter := c.Scan(ctx, 0, prefix+"*", scanBatch).Iterator()
		for iter.Next(ctx) {
			mu.Lock()
			keys = append(keys, iter.Val())
			mu.Unlock()
		}
		return iter.Err()
	}

	var err error
	if cluster, ok := s.redisClient.GetClient().(*goredis.ClusterClient); ok {
		err = cluster.ForEachMaster(ctx, func(ctx context.Context, node *goredis.Client) error {
			return scanNode(ctx, node)
		})
	} else {
		err = scanNode(ctx, s.redisClient.GetClient())
	}
	if err != nil {
		return nil, errors.Wrapf(err, "redis store scan %s", prefix)
	}
	sort.Strings(keys)
	return keys, nil
}

func toVersion(res interface{}) (uint64, error) {
	v, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected result type from store script: %T", res)
	}
	return uint64(v), nil
}

// 同一键的版本逐次 +1；键不存在时以服务器时间 (微秒) 起步，
// 因此键被删除后重建也不会复用旧版本号。版本以 %d 格式化写入，避免浮点表示。
const nextVersionFn = `
local function next_version(cur)
    local n
    if cur then
        n = tonumber(cur) + 1
    else
        local t = redis.call('TIME')
        n = tonumber(t[1]) * 1000000 + tonumber(t[2])
    end
    return string.format('%d', n)
end
`

var casScript = nextVersionFn + `
-- KEYS[1]: 目标键
-- ARGV[1]: 新值
-- ARGV[2]: 期望版本 (0 表示键必须不存在)
local cur = redis.call('HGET', KEYS[1], 'ver')
local expected = tonumber(ARGV[2])
if cur == false then
    if expected ~= 0 then
        return -1
    end
    cur = nil
elseif tonumber(cur) ~= expected then
    return -1
end
local ver = next_version(cur)
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'ver', ver)
return tonumber(ver)
`

var putScript = nextVersionFn + `
-- KEYS[1]: 目标键
-- ARGV[1]: 新值
-- ARGV[2]: 过期毫秒数 (0 表示不过期)
local cur = redis.call('HGET', KEYS[1], 'ver')
if cur == false then
    cur = nil
end
local ver = next_version(cur)
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'ver', ver)
if tonumber(ARGV[2]) > 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
else
    redis.call('PERSIST', KEYS[1])
end
return tonumber(ver)
`

var setIfAbsentScript = nextVersionFn + `
-- KEYS[1]: 目标键
-- ARGV[1]: 新值
-- ARGV[2]: 过期毫秒数 (0 表示不过期)
if redis.call('EXISTS', KEYS[1]) == 1 then
    return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'ver', next_version(nil))
if tonumber(ARGV[2]) > 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 1
`

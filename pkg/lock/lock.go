package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Locker 互斥锁接口, 多个 API 实例共享 Redis 时为分布式锁
type Locker interface {
	// Acquire 尝试获取锁, 返回 (是否成功, error)
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release 释放锁, 只删除自己持有的锁
	Release(ctx context.Context, key string) error
}

// releaseScript 只在 value 仍是自己的 token 时删除
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLock 基于 Redis SET NX 的实现
type RedisLock struct {
	client *redis.Client
	mu     sync.Mutex
	tokens map[string]string
}

func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client, tokens: make(map[string]string)}
}

func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token, err := newToken()
	if err != nil {
		return false, err
	}
	// SET key token NX PX ttl
	ok, err := l.client.SetNX(ctx, "lock:"+key, token, ttl).Result()
	if err != nil || !ok {
		return false, err
	}
	l.mu.Lock()
	l.tokens[key] = token
	l.mu.Unlock()
	return true, nil
}

func (l *RedisLock) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	token, ok := l.tokens[key]
	delete(l.tokens, key)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return releaseScript.Run(ctx, l.client, []string{"lock:" + key}, token).Err()
}

// MemoryLock 单进程实现, go-cache 的 Add 在 key 已存在时失败
type MemoryLock struct {
	c *gocache.Cache
}

func NewMemoryLock() *MemoryLock {
	return &MemoryLock{c: gocache.New(gocache.NoExpiration, time.Minute)}
}

func (l *MemoryLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.c.Add(key, struct{}{}, ttl) == nil, nil
}

func (l *MemoryLock) Release(ctx context.Context, key string) error {
	l.c.Delete(key)
	return nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

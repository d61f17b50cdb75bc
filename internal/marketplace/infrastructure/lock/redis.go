package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
	"github.com/wyfcoding/numbermarket/pkg/cache"
)

const defaultPrefix = "numbermarket:lock:"

// 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker 基于 SET NX PX 的分布式锁，value 为随机 token
type RedisLocker struct {
	cache   *cache.RedisCache
	ttl     time.Duration
	backoff time.Duration
	prefix  string
	logger  *slog.Logger
}

// NewRedisLocker 创建分布式锁。ttl 需大于单条命令超时。
func NewRedisLocker(c *cache.RedisCache, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{cache: c, ttl: ttl, backoff: 10 * time.Millisecond, prefix: defaultPrefix, logger: logger}
}

// Lock 依次获取全部 key，ctx 结束前未能获取时释放已持有的锁并返回 ErrConflict
func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	token := uuid.NewString()
	held := make([]string, 0, len(keys))
	release := func() {
		// 释放不受调用方 ctx 取消影响
		rctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if _, err := l.cache.Eval(rctx, releaseScript, []string{held[i]}, token); err != nil {
				l.logger.WarnContext(rctx, "failed to release lock", "key", held[i], "error", err)
			}
		}
	}
	for _, key := range normalize(keys) {
		rkey := l.prefix + key
		if err := l.acquire(ctx, rkey, token); err != nil {
			release()
			return nil, err
		}
		held = append(held, rkey)
	}
	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *RedisLocker) acquire(ctx context.Context, key, token string) error {
	wait := l.backoff
	for {
		ok, err := l.cache.SetNX(ctx, key, token, l.ttl)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("lock %s: %w", key, domain.ErrConflict)
			}
			return fmt.Errorf("lock %s: %w: %v", key, domain.ErrExternalFailure, err)
		}
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("lock %s busy: %w", key, domain.ErrConflict)
		case <-timer.C:
		}
		if wait < 200*time.Millisecond {
			wait *= 2
		}
	}
}

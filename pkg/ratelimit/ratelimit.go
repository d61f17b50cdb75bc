// Package ratelimit 按账户限制出价频率，基于 Redis 的 GCRA（redis_rate）
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/numbermarket/pkg/config"
)

// keyPrefix 与账户缓存共用命名空间
const keyPrefix = "numbermarket:ratelimit:"

// RateLimiter 限流器
type RateLimiter interface {
	// Allow 对 scope 下的 id 消耗一次配额
	Allow(ctx context.Context, scope, id string, limit Limit) (*Result, error)
}

// Limit 限流规则：每 Period 补充 Rate 次，最多累积 Burst 次
type Limit struct {
	Rate   int
	Period time.Duration
	Burst  int
}

// PerSecond 每秒 rate 次，突发不低于 rate
func PerSecond(rate, burst int) Limit {
	rate = max(rate, 1)
	return Limit{Rate: rate, Period: time.Second, Burst: max(burst, rate)}
}

// BidLimit 由配置得到单账户出价限额
func BidLimit(cfg config.RateLimitConfig) Limit {
	return PerSecond(cfg.BidsPerSecond, cfg.Burst)
}

// Result 一次配额检查的结果
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAfter time.Duration
	RetryAfter time.Duration
}

// RetryAfterSeconds Retry-After 响应头取值，至少 1 秒
func (r *Result) RetryAfterSeconds() int64 {
	return max(int64(r.RetryAfter/time.Second), 1)
}

// Key Redis 中的配额键
func Key(scope, id string) string {
	return keyPrefix + scope + ":" + id
}

// RedisRateLimiter redis_rate 实现，多实例共享配额
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
}

// NewRedisRateLimiter 创建限流器
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{limiter: redis_rate.NewLimiter(rdb)}
}

// Allow 检查是否放行
func (r *RedisRateLimiter) Allow(ctx context.Context, scope, id string, limit Limit) (*Result, error) {
	res, err := r.limiter.Allow(ctx, Key(scope, id), redis_rate.Limit{
		Rate:   limit.Rate,
		Period: limit.Period,
		Burst:  limit.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit %s/%s: %w", scope, id, err)
	}
	return &Result{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		ResetAfter: res.ResetAfter,
		RetryAfter: res.RetryAfter,
	}, nil
}

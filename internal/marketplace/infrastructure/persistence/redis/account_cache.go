// Package redis 账户读缓存。写路径只删除缓存，读路径回填。
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
)

type accountCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewAccountCache 创建账户缓存
func NewAccountCache(client redis.UniversalClient, ttl time.Duration) domain.AccountCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &accountCache{
		client: client,
		prefix: "numbermarket:account:",
		ttl:    ttl,
	}
}

func (c *accountCache) Save(ctx context.Context, account *domain.Account) error {
	if account == nil {
		return nil
	}
	data, err := json.Marshal(account)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(account.AccountID), data, c.ttl).Err()
}

// Get 未命中时返回 nil, nil
func (c *accountCache) Get(ctx context.Context, accountID string) (*domain.Account, error) {
	data, err := c.client.Get(ctx, c.key(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var account domain.Account
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (c *accountCache) Delete(ctx context.Context, accountIDs ...string) error {
	if len(accountIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(accountIDs))
	for _, id := range accountIDs {
		keys = append(keys, c.key(id))
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *accountCache) key(id string) string {
	return c.prefix + id
}

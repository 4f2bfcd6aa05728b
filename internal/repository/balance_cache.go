package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed raise_balance.lua
var raiseBalanceLuaScript string

var ErrCacheMiss = errors.New("balance not found in cache")

// BalanceCache is a read-through projection of account balances. It is only
// ever raised, never lowered, except by Evict.
type BalanceCache struct {
	redisClient *redis.Client
	prefix      string
	ttl         time.Duration
}

func NewBalanceCache(rdb *redis.Client, prefix string, ttl time.Duration) *BalanceCache {
	if prefix == "" {
		prefix = "creditgate"
	}
	return &BalanceCache{redisClient: rdb, prefix: prefix, ttl: ttl}
}

func (c *BalanceCache) key(accountID string) string {
	return fmt.Sprintf("%s:balance:%s", c.prefix, accountID)
}

func (c *BalanceCache) Get(ctx context.Context, accountID string) (int64, error) {
	balance, err := c.redisClient.Get(ctx, c.key(accountID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, ErrCacheMiss
	}
	if err != nil {
		return 0, fmt.Errorf("read cached balance: %w", err)
	}
	return balance, nil
}

// Raise stores balance unless the cache already holds a higher value, and
// returns whichever value is now cached.
func (c *BalanceCache) Raise(ctx context.Context, accountID string, balance int64) (int64, error) {
	keys := []string{c.key(accountID)}
	args := []interface{}{balance, c.ttl.Milliseconds()}

	cached, err := c.redisClient.Eval(ctx, raiseBalanceLuaScript, keys, args...).Int64()
	if err != nil {
		return 0, fmt.Errorf("error executing Lua script: %w", err)
	}
	return cached, nil
}

func (c *BalanceCache) Evict(ctx context.Context, accountID string) error {
	if err := c.redisClient.Del(ctx, c.key(accountID)).Err(); err != nil {
		return fmt.Errorf("evict cached balance: %w", err)
	}
	return nil
}

// Balance serves from the cache and warms it from load on a miss.
func (c *BalanceCache) Balance(ctx context.Context, accountID string, load func(context.Context, string) (int64, error)) (int64, error) {
	balance, err := c.Get(ctx, accountID)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		return 0, err
	}

	balance, err = load(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return c.Raise(ctx, accountID, balance)
}

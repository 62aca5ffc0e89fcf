package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/sabihub/tokenledger/internal/config"
	tokendomain "github.com/sabihub/tokenledger/internal/token/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	balanceTTL     = 30 * time.Second
	keyBalanceUser = "token:balance:%s"
)

// Module provides the balance cache.
var Module = fx.Module("cache",
	fx.Provide(NewBalanceCache),
)

// BalanceCache is a read-through view of token balances. The store stays the
// source of truth; writers invalidate on every committed mutation.
type BalanceCache interface {
	Get(ctx context.Context, userID snowflake.ID) (*tokendomain.TokenBalance, bool)
	Set(ctx context.Context, userID snowflake.ID, balance *tokendomain.TokenBalance)
	Invalidate(ctx context.Context, userID snowflake.ID)
}

// NewBalanceCache returns a redis-backed cache when redis is configured and
// an in-memory TTL cache otherwise.
func NewBalanceCache(cfg config.Config, logger *zap.Logger) BalanceCache {
	if cfg.RedisAddr == "" {
		return &memoryBalanceCache{balances: NewTTLCache[snowflake.ID, tokendomain.TokenBalance]()}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &redisBalanceCache{
		client: client,
		log:    logger.Named("cache.balance"),
	}
}

type memoryBalanceCache struct {
	balances Cache[snowflake.ID, tokendomain.TokenBalance]
}

func (c *memoryBalanceCache) Get(_ context.Context, userID snowflake.ID) (*tokendomain.TokenBalance, bool) {
	balance, ok := c.balances.Get(userID)
	if !ok {
		return nil, false
	}
	return &balance, true
}

func (c *memoryBalanceCache) Set(_ context.Context, userID snowflake.ID, balance *tokendomain.TokenBalance) {
	if balance == nil {
		return
	}
	c.balances.Set(userID, *balance, balanceTTL)
}

func (c *memoryBalanceCache) Invalidate(_ context.Context, userID snowflake.ID) {
	c.balances.Delete(userID)
}

type redisBalanceCache struct {
	client *redis.Client
	log    *zap.Logger
}

func (c *redisBalanceCache) Get(ctx context.Context, userID snowflake.ID) (*tokendomain.TokenBalance, bool) {
	raw, err := c.client.Get(ctx, fmt.Sprintf(keyBalanceUser, userID.String())).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("balance cache read failed", zap.Error(err))
		}
		return nil, false
	}

	var balance tokendomain.TokenBalance
	if err := json.Unmarshal(raw, &balance); err != nil {
		return nil, false
	}
	return &balance, true
}

func (c *redisBalanceCache) Set(ctx context.Context, userID snowflake.ID, balance *tokendomain.TokenBalance) {
	if balance == nil {
		return
	}
	raw, err := json.Marshal(balance)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, fmt.Sprintf(keyBalanceUser, userID.String()), raw, balanceTTL).Err(); err != nil {
		c.log.Warn("balance cache write failed", zap.Error(err))
	}
}

func (c *redisBalanceCache) Invalidate(ctx context.Context, userID snowflake.ID) {
	if err := c.client.Del(ctx, fmt.Sprintf(keyBalanceUser, userID.String())).Err(); err != nil {
		c.log.Warn("balance cache invalidate failed", zap.Error(err))
	}
}

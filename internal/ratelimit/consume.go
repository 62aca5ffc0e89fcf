package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/sabihub/tokenledger/internal/config"
	"go.uber.org/fx"
)

const keyConsumeUser = "token:consume:user:%s"

// Module provides the consume-endpoint limiter.
var Module = fx.Module("ratelimit",
	fx.Provide(NewConsumeLimiter),
)

// ConsumeLimiter throttles token consumption per user. A nil limiter allows
// everything, so the service runs without redis.
type ConsumeLimiter struct {
	enabled bool
	bucket  *TokenBucket
	rate    float64
	burst   int
}

func NewConsumeLimiter(cfg config.Config) (*ConsumeLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.ConsumeRate <= 0 || limitCfg.ConsumeBurst <= 0 {
		return nil, errors.New("consume rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})

	return &ConsumeLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.ConsumeRate,
		burst:   limitCfg.ConsumeBurst,
	}, nil
}

func (l *ConsumeLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *ConsumeLimiter) AllowUser(ctx context.Context, userID string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyConsumeUser, strings.TrimSpace(userID)), l.rate, l.burst)
}

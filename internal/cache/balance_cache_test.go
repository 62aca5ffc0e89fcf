package cache

import (
	"context"
	"testing"
	"time"

	"github.com/sabihub/tokenledger/internal/config"
	tokendomain "github.com/sabihub/tokenledger/internal/token/domain"
	"go.uber.org/zap"
)

func TestMemoryBalanceCacheRoundTrip(t *testing.T) {
	c := NewBalanceCache(config.Config{}, zap.NewNop())
	ctx := context.Background()

	if _, hit := c.Get(ctx, 42); hit {
		t.Fatalf("expected miss on empty cache")
	}

	balance := &tokendomain.TokenBalance{UserID: 42, TotalTokens: 50, UsedTokens: 10}
	c.Set(ctx, 42, balance)

	cached, hit := c.Get(ctx, 42)
	if !hit {
		t.Fatalf("expected hit after set")
	}
	if cached.AvailableTokens() != 40 {
		t.Fatalf("expected 40 available from cache, got %d", cached.AvailableTokens())
	}

	c.Invalidate(ctx, 42)
	if _, hit := c.Get(ctx, 42); hit {
		t.Fatalf("expected miss after invalidate")
	}
}

func TestTTLCacheExpiry(t *testing.T) {
	c := NewTTLCache[string, int]()

	c.Set("k", 7, 10*time.Millisecond)
	if v, ok := c.Get("k"); !ok || v != 7 {
		t.Fatalf("expected fresh value, got %d %v", v, ok)
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected expired entry to be dropped")
	}
}

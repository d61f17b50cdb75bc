package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
)

func TestAccountCacheRoundTrip(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	c := NewAccountCache(client, 30*time.Second)
	ctx := context.Background()

	miss, err := c.Get(ctx, "acc-1")
	if err != nil || miss != nil {
		t.Fatalf("expected miss, got %v %v", miss, err)
	}

	acc := domain.NewAccount("acc-1")
	acc.WalletBalance = decimal.RequireFromString("120.50")
	acc.BlockedBalance = decimal.NewFromInt(30)
	acc.NegativeScore = 2
	if err := c.Save(ctx, acc); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := c.Get(ctx, "acc-1")
	if err != nil || got == nil {
		t.Fatalf("expected hit, got %v %v", got, err)
	}
	if !got.WalletBalance.Equal(acc.WalletBalance) || !got.BlockedBalance.Equal(acc.BlockedBalance) || got.NegativeScore != 2 {
		t.Fatalf("unexpected cached account %+v", got)
	}

	if err := c.Delete(ctx, "acc-1", "acc-2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := c.Get(ctx, "acc-1"); got != nil {
		t.Fatalf("expected miss after delete")
	}

	if err := c.Save(ctx, acc); err != nil {
		t.Fatal(err)
	}
	s.FastForward(time.Minute)
	if got, _ := c.Get(ctx, "acc-1"); got != nil {
		t.Fatalf("expected entry to expire")
	}
}

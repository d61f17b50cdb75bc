package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
	"github.com/wyfcoding/numbermarket/internal/marketplace/infrastructure/lock"
	"github.com/wyfcoding/numbermarket/internal/marketplace/infrastructure/persistence/memory"
	redisrepo "github.com/wyfcoding/numbermarket/internal/marketplace/infrastructure/persistence/redis"
)

func TestTopUpIsIdempotentPerReference(t *testing.T) {
	h := newHarness(t)
	h.fund("acc", 0)

	for range 2 {
		if _, err := h.mp.Accounts.TopUp(h.ctx, TopUpCommand{AccountID: "acc", Amount: d(300), Reference: "gw-1"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := h.mp.Accounts.TopUp(h.ctx, TopUpCommand{AccountID: "acc", Amount: d(200), Reference: "gw-2"}); err != nil {
		t.Fatal(err)
	}
	h.expectBalance("acc", 500, 0)

	_, err := h.mp.Accounts.TopUp(h.ctx, TopUpCommand{AccountID: "acc", Amount: d(-1), Reference: "gw-3"})
	expectErr(t, err, domain.ErrInvalidArgument)
	_, err = h.mp.Accounts.TopUp(h.ctx, TopUpCommand{AccountID: "acc", Amount: d(1)})
	expectErr(t, err, domain.ErrInvalidArgument)
	_, err = h.mp.Accounts.TopUp(h.ctx, TopUpCommand{AccountID: "ghost", Amount: d(1), Reference: "gw-4"})
	expectErr(t, err, domain.ErrNotFound)

	page, err := h.mp.Accounts.History(h.ctx, "acc", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 || page.Entries[0].Reference != "gw-2" || page.Entries[0].Kind != string(domain.LedgerKindTopUp) {
		t.Fatalf("unexpected history %+v", page)
	}
}

func TestOpenReturnsExistingAccount(t *testing.T) {
	h := newHarness(t)
	h.fund("acc", 100)
	acc, err := h.mp.Accounts.Open(h.ctx, "acc")
	if err != nil || acc.WalletBalance != "100.00" {
		t.Fatalf("reopen: %+v %v", acc, err)
	}
	_, err = h.mp.Accounts.Open(h.ctx, "")
	expectErr(t, err, domain.ErrInvalidArgument)
}

func TestLedgerReplaysBalance(t *testing.T) {
	h := newHarness(t)
	h.fund("seller", 0)
	h.fund("buyer", 5_000)
	l := h.listing("seller", 2_000, domain.SaleModeAuction, domain.LineTypeActive)
	h.bid(l.ListingID, "buyer", 2_500)
	h.closeAuction(l.Auction.AuctionID)
	order, err := h.mp.Winners.Pay(h.ctx, l.Auction.AuctionID, "buyer")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.mp.Orders.SubmitDocument(h.ctx, order.OrderID, "seller", "doc"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.mp.Orders.ApproveDocument(h.ctx, order.OrderID); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"buyer", "seller"} {
		page, err := h.mp.Accounts.History(h.ctx, id, 200, 0)
		if err != nil {
			t.Fatal(err)
		}
		wallet, blocked := d(0), d(0)
		for _, e := range page.Entries {
			wallet = wallet.Add(mustDecimal(t, e.SignedAmount))
			blocked = blocked.Add(mustDecimal(t, e.BlockedDelta))
		}
		acc := h.account(id)
		if !wallet.Equal(acc.WalletBalance) || !blocked.Equal(acc.BlockedBalance) {
			t.Fatalf("%s: ledger sums to %s/%s, account has %s/%s", id, wallet, blocked, acc.WalletBalance, acc.BlockedBalance)
		}
	}
	h.expectBalance("buyer", 2_500, 0)
	h.expectBalance("seller", 2_450, 0)
}

func TestAccountCacheInvalidatedAfterCommit(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	store := memory.NewStore()
	accounts := NewAccountService(Dependencies{
		Repos:  store.Repositories(),
		Tx:     store,
		Locker: lock.NewMemoryLocker(),
		Cache:  redisrepo.NewAccountCache(client, time.Minute),
	})
	ctx := context.Background()

	if _, err := accounts.Open(ctx, "cached"); err != nil {
		t.Fatal(err)
	}
	got, err := accounts.Get(ctx, "cached")
	if err != nil || got.WalletBalance != "0.00" {
		t.Fatalf("first read: %+v %v", got, err)
	}
	if !s.Exists("numbermarket:account:cached") {
		t.Fatalf("account was not cached")
	}

	if _, err := accounts.TopUp(ctx, TopUpCommand{AccountID: "cached", Amount: d(70), Reference: "gw"}); err != nil {
		t.Fatal(err)
	}
	if s.Exists("numbermarket:account:cached") {
		t.Fatalf("cache entry survived the top-up")
	}
	got, err = accounts.Get(ctx, "cached")
	if err != nil || got.WalletBalance != "70.00" {
		t.Fatalf("stale read: %+v %v", got, err)
	}
}

func TestRollbackLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	h.fund("seller", 0)
	h.fund("buyer", 100)
	l := h.listing("seller", 1_000, domain.SaleModeFixed, domain.LineTypeActive)

	_, err := h.mp.Orders.BuyFixed(h.ctx, "buyer", l.ListingID)
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	h.expectBalance("buyer", 100, 0)
	page, _ := h.mp.Accounts.History(h.ctx, "buyer", 10, 0)
	if page.Total != 1 {
		t.Fatalf("failed purchase wrote %d ledger entries", page.Total-1)
	}
	if n, _ := h.repos.Orders.CountOpenByListing(h.ctx, l.ListingID); n != 0 {
		t.Fatalf("failed purchase left an order")
	}
}

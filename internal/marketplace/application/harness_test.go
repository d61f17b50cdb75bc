package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
	"github.com/wyfcoding/numbermarket/internal/marketplace/infrastructure/lock"
	"github.com/wyfcoding/numbermarket/internal/marketplace/infrastructure/persistence/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) count(accountID, eventType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.sent {
		if m.AccountID == accountID && m.EventType == eventType {
			c++
		}
	}
	return c
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	store    *memory.Store
	repos    domain.Repositories
	clock    *fakeClock
	notifier *recordingNotifier
	mp       *Marketplace
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, nil)
}

// newHarnessWith 允许在创建服务前替换依赖，例如注入故障仓储
func newHarnessWith(t *testing.T, customize func(*Dependencies)) *harness {
	t.Helper()
	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	notifier := &recordingNotifier{}
	deps := Dependencies{
		Repos:  store.Repositories(),
		Tx:     store,
		Locker: lock.NewMemoryLocker(),
		Clock:  clock,
		Rules:  domain.DefaultRules(),
	}
	if customize != nil {
		customize(&deps)
	}
	return &harness{
		t:        t,
		ctx:      context.Background(),
		store:    store,
		repos:    deps.Repos,
		clock:    clock,
		notifier: notifier,
		mp:       NewMarketplace(deps, notifier),
	}
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// fund 开户并充值
func (h *harness) fund(accountID string, amount int64) {
	h.t.Helper()
	if _, err := h.mp.Accounts.Open(h.ctx, accountID); err != nil {
		h.t.Fatalf("open %s: %v", accountID, err)
	}
	if amount == 0 {
		return
	}
	if _, err := h.mp.Accounts.TopUp(h.ctx, TopUpCommand{AccountID: accountID, Amount: d(amount), Reference: "pay-" + accountID}); err != nil {
		h.t.Fatalf("top up %s: %v", accountID, err)
	}
}

func (h *harness) account(id string) *domain.Account {
	h.t.Helper()
	a, err := h.repos.Accounts.Get(h.ctx, id)
	if err != nil {
		h.t.Fatalf("get account %s: %v", id, err)
	}
	return a
}

func (h *harness) expectBalance(id string, wallet, blocked int64) {
	h.t.Helper()
	a := h.account(id)
	if !a.WalletBalance.Equal(d(wallet)) || !a.BlockedBalance.Equal(d(blocked)) {
		h.t.Fatalf("%s: wallet=%s blocked=%s, want wallet=%d blocked=%d", id, a.WalletBalance, a.BlockedBalance, wallet, blocked)
	}
}

// exposure 若干账户可用与冻结余额之和
func (h *harness) exposure(ids ...string) decimal.Decimal {
	h.t.Helper()
	total := decimal.Zero
	for _, id := range ids {
		total = total.Add(h.account(id).Exposure())
	}
	return total
}

func (h *harness) listing(seller string, price int64, mode domain.SaleMode, line domain.LineType) *ListingDTO {
	h.t.Helper()
	cmd := CreateListingCommand{SellerID: seller, Number: "+98912" + seller, BasePrice: d(price), SaleMode: mode, LineType: line}
	if mode == domain.SaleModeAuction {
		cmd.EndTime = h.clock.Now().Add(24 * time.Hour)
	}
	l, err := h.mp.Listings.Create(h.ctx, cmd)
	if err != nil {
		h.t.Fatalf("create listing: %v", err)
	}
	return l
}

func (h *harness) bid(listingID, bidder string, amount int64) *BidResult {
	h.t.Helper()
	res, err := h.mp.Bidding.PlaceBid(h.ctx, PlaceBidCommand{ListingID: listingID, BidderID: bidder, Amount: d(amount)})
	if err != nil {
		h.t.Fatalf("bid %s %d: %v", bidder, amount, err)
	}
	return res
}

// closeAuction 拨到结束时间之后并结拍
func (h *harness) closeAuction(auctionID string) *ResolveResult {
	h.t.Helper()
	h.clock.Advance(25 * time.Hour)
	res, err := h.mp.Resolver.Resolve(h.ctx, auctionID)
	if err != nil {
		h.t.Fatalf("resolve: %v", err)
	}
	return res
}

func (h *harness) order(id string) *domain.PurchaseOrder {
	h.t.Helper()
	o, err := h.repos.Orders.Get(h.ctx, id)
	if err != nil {
		h.t.Fatalf("get order %s: %v", id, err)
	}
	return o
}

func (h *harness) relay() {
	h.t.Helper()
	if _, err := h.mp.Dispatcher.RelayOutbox(h.ctx, 1000); err != nil {
		h.t.Fatalf("relay: %v", err)
	}
}

func expectErr(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
}

package application

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
)

func TestAuctionWonAndSettled(t *testing.T) {
	h := newHarness(t)
	h.fund("seller", 0)
	h.fund("alice", 2_000_000)
	h.fund("bob", 2_000_000)
	before := h.exposure("seller", "alice", "bob")

	l := h.listing("seller", 1_000_000, domain.SaleModeAuction, domain.LineTypeInactive)
	auctionID := l.Auction.AuctionID

	first := h.bid(l.ListingID, "alice", 1_000_001)
	if !first.FirstBid || !first.Deposit.Equal(d(50_000)) {
		t.Fatalf("expected first bid with 50000 deposit, got %+v", first)
	}
	h.expectBalance("alice", 1_950_000, 50_000)

	h.bid(l.ListingID, "bob", 1_100_000)
	h.expectBalance("bob", 1_950_000, 50_000)
	// outbid bidder keeps the deposit blocked
	h.expectBalance("alice", 1_950_000, 50_000)

	_, err := h.mp.Bidding.PlaceBid(h.ctx, PlaceBidCommand{ListingID: l.ListingID, BidderID: "alice", Amount: d(1_100_000)})
	expectErr(t, err, domain.ErrBidTooLow)

	res := h.closeAuction(auctionID)
	if res.Status != string(domain.AuctionStatusPendingPayment) || len(res.Winners) != 2 {
		t.Fatalf("unexpected resolution %+v", res)
	}
	w1, w2 := res.Winners[0], res.Winners[1]
	if w1.AccountID != "bob" || w1.Rank != 1 || w1.RemainingAmount != "1050000.00" || !w1.Active {
		t.Fatalf("unexpected rank 1 %+v", w1)
	}
	if w2.AccountID != "alice" || w2.Rank != 2 || w2.Active {
		t.Fatalf("unexpected rank 2 %+v", w2)
	}
	// dormant rank 2 still holds its deposit until the auction is paid
	h.expectBalance("alice", 1_950_000, 50_000)

	_, err = h.mp.Winners.Pay(h.ctx, auctionID, "alice")
	expectErr(t, err, domain.ErrNotCurrentWinner)

	order, err := h.mp.Winners.Pay(h.ctx, auctionID, "bob")
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if order.Price != "1100000.00" || order.BuyerReservedAmount != "1100000.00" || order.Status != string(domain.OrderStatusPending) {
		t.Fatalf("unexpected order %+v", order)
	}
	h.expectBalance("bob", 900_000, 1_100_000)
	h.expectBalance("alice", 2_000_000, 0)

	queue, err := h.mp.Winners.Queue(h.ctx, auctionID)
	if err != nil {
		t.Fatal(err)
	}
	if queue[0].PaymentStatus != string(domain.PaymentStatusCompleted) || queue[1].PaymentStatus != string(domain.PaymentStatusSkipped) {
		t.Fatalf("unexpected queue %+v %+v", queue[0], queue[1])
	}

	if _, err := h.mp.Orders.SendActivationCode(h.ctx, order.OrderID, "seller", "123456"); err != nil {
		t.Fatalf("send code: %v", err)
	}
	_, err = h.mp.Orders.VerifyActivationCode(h.ctx, order.OrderID, "bob", "000000")
	expectErr(t, err, domain.ErrCodeMismatch)

	done, err := h.mp.Orders.VerifyActivationCode(h.ctx, order.OrderID, "bob", "123456")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if done.Status != string(domain.OrderStatusCompleted) || done.CommissionAmount != "22000.00" || done.SellerNetAmount != "1078000.00" {
		t.Fatalf("unexpected settled order %+v", done)
	}
	h.expectBalance("bob", 900_000, 0)
	h.expectBalance("seller", 1_078_000, 0)

	again, err := h.mp.Settlement.Finalize(h.ctx, order.OrderID)
	if err != nil || !again.AlreadySettled {
		t.Fatalf("second finalize should be a no-op: %+v %v", again, err)
	}
	h.expectBalance("seller", 1_078_000, 0)

	listing, err := h.mp.Listings.Get(h.ctx, l.ListingID)
	if err != nil || listing.Status != string(domain.ListingStatusSold) {
		t.Fatalf("listing should be sold: %+v %v", listing, err)
	}
	records, err := h.repos.Commissions.ListByOrder(h.ctx, order.OrderID)
	if err != nil || len(records) != 1 || !records[0].Commission.Equal(d(22_000)) {
		t.Fatalf("expected one commission record, got %v %v", records, err)
	}

	after := h.exposure("seller", "alice", "bob")
	if !before.Sub(after).Equal(d(22_000)) {
		t.Fatalf("funds not conserved: before %s after %s", before, after)
	}
}

func TestPlaceBidGuards(t *testing.T) {
	h := newHarness(t)
	h.fund("seller", 0)
	h.fund("poor", 40)
	h.fund("rich", 10_000)
	l := h.listing("seller", 1_000, domain.SaleModeAuction, domain.LineTypeActive)

	_, err := h.mp.Bidding.PlaceBid(h.ctx, PlaceBidCommand{ListingID: l.ListingID, BidderID: "seller", Amount: d(2_000)})
	expectErr(t, err, domain.ErrSelfBid)

	// deposit 50, wallet 40, tolerance 1
	_, err = h.mp.Bidding.PlaceBid(h.ctx, PlaceBidCommand{ListingID: l.ListingID, BidderID: "poor", Amount: d(1_100)})
	expectErr(t, err, domain.ErrInsufficientFunds)
	h.expectBalance("poor", 40, 0)

	_, err = h.mp.Bidding.PlaceBid(h.ctx, PlaceBidCommand{ListingID: l.ListingID, BidderID: "rich", Amount: d(1_000)})
	expectErr(t, err, domain.ErrBidTooLow)

	_, err = h.mp.Bidding.PlaceBid(h.ctx, PlaceBidCommand{ListingID: "missing", BidderID: "rich", Amount: d(1_100)})
	expectErr(t, err, domain.ErrNotFound)

	h.bid(l.ListingID, "rich", 1_100)
	second := h.bid(l.ListingID, "rich", 1_200)
	if second.FirstBid || !second.Deposit.IsZero() {
		t.Fatalf("second bid must not block another deposit: %+v", second)
	}
	if n := h.store.CountDeposits("rich", l.Auction.AuctionID); n != 1 {
		t.Fatalf("expected exactly one deposit, got %d", n)
	}
	h.expectBalance("rich", 9_950, 50)

	h.clock.Advance(24 * time.Hour)
	_, err = h.mp.Bidding.PlaceBid(h.ctx, PlaceBidCommand{ListingID: l.ListingID, BidderID: "rich", Amount: d(5_000)})
	expectErr(t, err, domain.ErrAuctionClosed)
}

func TestDepositWithinTolerance(t *testing.T) {
	h := newHarness(t)
	h.fund("seller", 0)
	h.fund("tight", 49)
	l := h.listing("seller", 1_000, domain.SaleModeAuction, domain.LineTypeActive)

	res := h.bid(l.ListingID, "tight", 1_001)
	if !res.Deposit.Equal(d(49)) {
		t.Fatalf("expected reserve capped at wallet, got %s", res.Deposit)
	}
	h.expectBalance("tight", 0, 49)
}

func TestResolveCreatesAtMostThreeWinners(t *testing.T) {
	h := newHarness(t)
	h.fund("seller", 0)
	bidders := []string{"b1", "b2", "b3", "b4", "b5"}
	for _, b := range bidders {
		h.fund(b, 10_000)
	}
	l := h.listing("seller", 1_000, domain.SaleModeAuction, domain.LineTypeActive)
	for i, b := range bidders {
		h.bid(l.ListingID, b, int64(1_100+i*100))
	}

	_, err := h.mp.Resolver.Resolve(h.ctx, l.Auction.AuctionID)
	expectErr(t, err, domain.ErrAuctionNotEnded)

	res := h.closeAuction(l.Auction.AuctionID)
	if len(res.Winners) != 3 {
		t.Fatalf("expected 3 winners, got %d", len(res.Winners))
	}
	for i, want := range []string{"b5", "b4", "b3"} {
		if res.Winners[i].AccountID != want || res.Winners[i].Rank != i+1 {
			t.Fatalf("rank %d: got %+v want %s", i+1, res.Winners[i], want)
		}
	}
	h.expectBalance("b1", 10_000, 0)
	h.expectBalance("b2", 10_000, 0)
	h.expectBalance("b3", 9_950, 50)

	p, err := h.repos.Participants.Get(h.ctx, l.Auction.AuctionID, "b1")
	if err != nil || p.IsTop3 || p.Rank != 5 || p.DepositBlocked {
		t.Fatalf("unexpected loser participant %+v %v", p, err)
	}

	again, err := h.mp.Resolver.Resolve(h.ctx, l.Auction.AuctionID)
	if err != nil || len(again.Winners) != 0 || len(again.Events) != 0 {
		t.Fatalf("second resolve should be a no-op: %+v %v", again, err)
	}
	entries, _ := h.repos.Winners.ListByAuction(h.ctx, l.Auction.AuctionID)
	if len(entries) != 3 {
		t.Fatalf("queue duplicated: %d entries", len(entries))
	}

	h.relay()
	if h.notifier.count("b5", domain.EventWinnerPaymentRequired) != 1 || h.notifier.count("b4", domain.EventWinnerPaymentRequired) != 0 {
		t.Fatalf("only rank 1 is told to pay")
	}
	if h.notifier.count("b1", domain.EventDepositReleased) != 1 {
		t.Fatalf("loser not notified of released deposit")
	}
}

func TestResolveWithoutBidsCancels(t *testing.T) {
	h := newHarness(t)
	h.fund("seller", 0)
	l := h.listing("seller", 1_000, domain.SaleModeAuction, domain.LineTypeActive)

	h.clock.Advance(25 * time.Hour)
	sweep, err := h.mp.Resolver.ResolveExpiredAuctions(h.ctx, 10)
	if err != nil || sweep.Processed != 1 || sweep.Failed != 0 {
		t.Fatalf("unexpected sweep %+v %v", sweep, err)
	}
	a, err := h.repos.Auctions.Get(h.ctx, l.Auction.AuctionID)
	if err != nil || a.Status != domain.AuctionStatusCancelled {
		t.Fatalf("expected cancelled auction, got %+v %v", a, err)
	}
	sweep, _ = h.mp.Resolver.ResolveExpiredAuctions(h.ctx, 10)
	if sweep.Processed != 0 {
		t.Fatalf("cancelled auction swept again")
	}
}

func TestEscalationBurnsAndPromotes(t *testing.T) {
	h := newHarness(t)
	h.fund("seller", 0)
	for _, b := range []string{"p1", "p2", "p3"} {
		h.fund(b, 10_000)
	}
	l := h.listing("seller", 1_000, domain.SaleModeAuction, domain.LineTypeActive)
	h.bid(l.ListingID, "p1", 1_100)
	h.bid(l.ListingID, "p2", 1_200)
	h.bid(l.ListingID, "p3", 1_300)
	auctionID := l.Auction.AuctionID
	h.closeAuction(auctionID)

	sweep, err := h.mp.Winners.EscalateExpiredPayments(h.ctx, 10)
	if err != nil || sweep.Processed != 0 {
		t.Fatalf("nothing is overdue yet: %+v %v", sweep, err)
	}

	h.clock.Advance(49 * time.Hour)
	sweep, err = h.mp.Winners.EscalateExpiredPayments(h.ctx, 10)
	if err != nil || sweep.Processed != 1 {
		t.Fatalf("unexpected sweep %+v %v", sweep, err)
	}
	// burned: blocked shrinks, wallet unchanged
	h.expectBalance("p3", 9_950, 0)
	h.expectBalance("p2", 9_950, 50)

	queue, _ := h.mp.Winners.Queue(h.ctx, auctionID)
	if queue[0].PaymentStatus != string(domain.PaymentStatusFailed) || queue[0].Active {
		t.Fatalf("rank 1 should be failed: %+v", queue[0])
	}
	if !queue[1].Active || queue[1].PaymentDeadline != h.clock.Now().Add(48*time.Hour).Unix() {
		t.Fatalf("rank 2 should be promoted with a fresh deadline: %+v", queue[1])
	}
	if queue[2].Active {
		t.Fatalf("rank 3 must stay dormant")
	}

	h.clock.Advance(49 * time.Hour)
	if _, err := h.mp.Winners.EscalateExpiredPayments(h.ctx, 10); err != nil {
		t.Fatal(err)
	}
	h.expectBalance("p2", 9_950, 0)

	order, err := h.mp.Winners.Pay(h.ctx, auctionID, "p1")
	if err != nil {
		t.Fatalf("promoted rank 3 pays: %v", err)
	}
	if order.Price != "1100.00" {
		t.Fatalf("unexpected price %s", order.Price)
	}
	h.expectBalance("p1", 8_900, 1_100)

	queue, _ = h.mp.Winners.Queue(h.ctx, auctionID)
	for i, want := range []domain.PaymentStatus{domain.PaymentStatusFailed, domain.PaymentStatusFailed, domain.PaymentStatusCompleted} {
		if queue[i].PaymentStatus != string(want) {
			t.Fatalf("rank %d: %s, want %s", i+1, queue[i].PaymentStatus, want)
		}
	}

	h.relay()
	if h.notifier.count("p2", domain.EventWinnerPromoted) != 1 || h.notifier.count("p3", domain.EventWinnerPaymentFailed) != 1 {
		t.Fatalf("missing escalation notifications")
	}
}

func TestEscalationExhaustedCancelsAuction(t *testing.T) {
	h := newHarness(t)
	h.fund("seller", 0)
	h.fund("only", 10_000)
	l := h.listing("seller", 1_000, domain.SaleModeAuction, domain.LineTypeActive)
	h.bid(l.ListingID, "only", 1_500)
	h.closeAuction(l.Auction.AuctionID)

	h.clock.Advance(49 * time.Hour)
	if _, err := h.mp.Winners.EscalateExpiredPayments(h.ctx, 10); err != nil {
		t.Fatal(err)
	}
	a, _ := h.repos.Auctions.Get(h.ctx, l.Auction.AuctionID)
	if a.Status != domain.AuctionStatusCancelled {
		t.Fatalf("expected cancelled, got %s", a.Status)
	}
	h.expectBalance("only", 9_950, 0)

	_, err := h.mp.Winners.Pay(h.ctx, l.Auction.AuctionID, "only")
	expectErr(t, err, domain.ErrInvalidState)

	sweep, _ := h.mp.Winners.EscalateExpiredPayments(h.ctx, 10)
	if sweep.Processed != 0 {
		t.Fatalf("failed entry revived")
	}
	h.relay()
	if h.notifier.count("admin", domain.EventAuctionCancelled) != 1 {
		t.Fatalf("administrators not notified")
	}
}

func TestPayAfterDeadlineRejected(t *testing.T) {
	h := newHarness(t)
	h.fund("seller", 0)
	h.fund("late", 10_000)
	l := h.listing("seller", 1_000, domain.SaleModeAuction, domain.LineTypeActive)
	h.bid(l.ListingID, "late", 1_500)
	h.closeAuction(l.Auction.AuctionID)

	h.clock.Advance(49 * time.Hour)
	_, err := h.mp.Winners.Pay(h.ctx, l.Auction.AuctionID, "late")
	expectErr(t, err, domain.ErrInvalidState)
	h.expectBalance("late", 9_950, 50)
}

func TestConcurrentBidsStayOrdered(t *testing.T) {
	h := newHarness(t)
	h.fund("seller", 0)
	const n = 8
	for i := range n {
		h.fund(fmt.Sprintf("c%d", i), 10_000)
	}
	l := h.listing("seller", 1_000, domain.SaleModeAuction, domain.LineTypeActive)

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for step := 1; step <= 5; step++ {
				_, _ = h.mp.Bidding.PlaceBid(h.ctx, PlaceBidCommand{
					ListingID: l.ListingID,
					BidderID:  fmt.Sprintf("c%d", i),
					Amount:    d(int64(1_000 + step*100 + i)),
				})
			}
		}(i)
	}
	wg.Wait()

	bids, err := h.repos.Bids.ListByAuction(h.ctx, l.Auction.AuctionID)
	if err != nil || len(bids) == 0 {
		t.Fatalf("no bids accepted: %v", err)
	}
	for i := 1; i < len(bids); i++ {
		if !bids[i].Amount.GreaterThan(bids[i-1].Amount) {
			t.Fatalf("bid %d (%s) not above %s", i, bids[i].Amount, bids[i-1].Amount)
		}
	}
	for i := range n {
		id := fmt.Sprintf("c%d", i)
		if c := h.store.CountDeposits(id, l.Auction.AuctionID); c > 1 {
			t.Fatalf("%s has %d deposits", id, c)
		}
		if !h.account(id).Exposure().Equal(d(10_000)) {
			t.Fatalf("%s exposure changed", id)
		}
	}
}

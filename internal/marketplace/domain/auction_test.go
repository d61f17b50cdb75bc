package domain

import (
	"errors"
	"testing"
	"time"
)

func newTestAuction(t *testing.T, end time.Time) *Auction {
	t.Helper()
	l, err := NewListing("l1", "seller", "0912 000 0000", d(1_000_000), SaleModeAuction, LineTypeActive)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	return NewAuction("auc1", l, end)
}

func TestAuctionAcceptBidStrictlyIncreasing(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := newTestAuction(t, now.Add(time.Hour))

	if _, err := a.AcceptBid("A", d(1_000_000), now); !errors.Is(err, ErrBidTooLow) {
		t.Fatalf("bid equal to base price must be rejected, got %v", err)
	}
	prev, err := a.AcceptBid("A", d(1_000_001), now)
	if err != nil || prev != "" {
		t.Fatalf("first bid: prev=%q err=%v", prev, err)
	}
	prev, err = a.AcceptBid("B", d(1_100_000), now)
	if err != nil || prev != "A" {
		t.Fatalf("second bid: prev=%q err=%v", prev, err)
	}
	if _, err := a.AcceptBid("A", d(1_100_000), now); !errors.Is(err, ErrBidTooLow) {
		t.Fatalf("equal bid must be rejected, got %v", err)
	}
	if !a.CurrentBid.Equal(d(1_100_000)) || a.HighestBidderID != "B" {
		t.Fatalf("unexpected auction state %s/%s", a.CurrentBid, a.HighestBidderID)
	}
}

func TestAuctionRejectsBidsAfterEnd(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := newTestAuction(t, now)
	if _, err := a.AcceptBid("A", d(2_000_000), now); !errors.Is(err, ErrAuctionClosed) {
		t.Fatalf("expected ErrAuctionClosed, got %v", err)
	}
}

func TestRankParticipantsTieBreak(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ps := []*Participant{
		{BidderID: "c", HighestBid: d(100), LastBidAt: t0.Add(2 * time.Second)},
		{BidderID: "b", HighestBid: d(100), LastBidAt: t0.Add(time.Second)},
		{BidderID: "a", HighestBid: d(90), LastBidAt: t0},
		{BidderID: "e", HighestBid: d(120), LastBidAt: t0.Add(5 * time.Second)},
		{BidderID: "d", HighestBid: d(100), LastBidAt: t0.Add(time.Second)},
	}
	ranked := RankParticipants(ps)
	want := []string{"e", "b", "d", "c", "a"}
	for i, p := range ranked {
		if p.BidderID != want[i] {
			t.Fatalf("rank %d: got %s, want %s", i+1, p.BidderID, want[i])
		}
		if p.Rank != i+1 || p.IsTop3 != (i < 3) {
			t.Fatalf("rank %d flags wrong: %+v", i+1, p)
		}
	}
}

func TestNextPendingNeverRevivesFailed(t *testing.T) {
	entries := []*WinnerQueueEntry{
		{Rank: 1, PaymentStatus: PaymentStatusFailed},
		{Rank: 2, PaymentStatus: PaymentStatusFailed},
		{Rank: 3, PaymentStatus: PaymentStatusPending},
	}
	if next := NextPending(entries, 1); next == nil || next.Rank != 3 {
		t.Fatalf("expected rank 3, got %+v", next)
	}
	if next := NextPending(entries, 3); next != nil {
		t.Fatalf("expected none after rank 3, got %+v", next)
	}
}

func TestWinnerQueueEntryLifecycle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &Participant{BidderID: "B", HighestBid: d(1_100_000), DepositAmount: d(50_000), Rank: 1}
	e := NewWinnerQueueEntry("auc1", p, now.Add(48*time.Hour))
	if !e.Active || !e.RemainingAmount.Equal(d(1_050_000)) {
		t.Fatalf("unexpected entry %+v", e)
	}
	if e.IsOverdue(now.Add(47 * time.Hour)) {
		t.Fatal("not overdue yet")
	}
	if !e.IsOverdue(now.Add(49 * time.Hour)) {
		t.Fatal("expected overdue")
	}
	if err := e.Fail(); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := e.Activate(now); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("failed entry must not be revived, got %v", err)
	}
}

func TestDepositSettlesOnce(t *testing.T) {
	dep := &GuaranteeDeposit{AccountID: "A", AuctionID: "auc1", Amount: d(10), Status: DepositStatusBlocked}
	if err := dep.Burn(); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if err := dep.Release(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestAccountReserveIsAllOrNothing(t *testing.T) {
	acc := NewAccount("a1")
	if err := acc.Credit(d(100), Movement{Kind: LedgerKindTopUp}); err != nil {
		t.Fatalf("credit: %v", err)
	}

	err := acc.Reserve(d(150), Movement{Kind: LedgerKindDepositBlock})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if !acc.WalletBalance.Equal(d(100)) || !acc.BlockedBalance.IsZero() {
		t.Fatalf("failed reserve must not move funds: wallet=%s blocked=%s", acc.WalletBalance, acc.BlockedBalance)
	}

	if err := acc.Reserve(d(60), Movement{Kind: LedgerKindDepositBlock}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !acc.WalletBalance.Equal(d(40)) || !acc.BlockedBalance.Equal(d(60)) {
		t.Fatalf("unexpected balances wallet=%s blocked=%s", acc.WalletBalance, acc.BlockedBalance)
	}
}

func TestAccountMovementsConserveExposure(t *testing.T) {
	acc := NewAccount("a1")
	_ = acc.Credit(d(1000), Movement{Kind: LedgerKindTopUp})
	before := acc.Exposure()

	if err := acc.Reserve(d(300), Movement{Kind: LedgerKindPurchaseReserve}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !acc.Exposure().Equal(before) {
		t.Fatalf("reserve changed exposure: %s -> %s", before, acc.Exposure())
	}
	if err := acc.Release(d(100), Movement{Kind: LedgerKindPurchaseRefund}); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !acc.Exposure().Equal(before) {
		t.Fatalf("release changed exposure: %s -> %s", before, acc.Exposure())
	}

	if err := acc.Consume(d(50), Movement{Kind: LedgerKindDepositBurn}); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !acc.WalletBalance.Equal(d(800)) || !acc.BlockedBalance.Equal(d(150)) {
		t.Fatalf("unexpected balances wallet=%s blocked=%s", acc.WalletBalance, acc.BlockedBalance)
	}
}

func TestAccountReleaseMoreThanBlocked(t *testing.T) {
	acc := NewAccount("a1")
	_ = acc.Credit(d(10), Movement{Kind: LedgerKindTopUp})
	_ = acc.Reserve(d(5), Movement{Kind: LedgerKindDepositBlock})

	if err := acc.Release(d(6), Movement{Kind: LedgerKindDepositRelease}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if err := acc.Consume(d(6), Movement{Kind: LedgerKindDepositBurn}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestAccountRecordsLedgerEntries(t *testing.T) {
	acc := NewAccount("a1")
	_ = acc.Credit(d(10), Movement{Kind: LedgerKindTopUp, Reference: "pay-1"})
	_ = acc.Reserve(d(4), Movement{Kind: LedgerKindDepositBlock, Reference: "auc-1"})

	entries := acc.TakeEntries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if !entries[1].SignedAmount.Equal(d(-4)) || !entries[1].BlockedDelta.Equal(d(4)) {
		t.Fatalf("unexpected reserve entry %+v", entries[1])
	}
	if len(acc.TakeEntries()) != 0 {
		t.Fatal("TakeEntries must drain the buffer")
	}
}

func TestAccountPenalizeSuspendsAtThreshold(t *testing.T) {
	acc := NewAccount("seller")
	if acc.Penalize(3) || acc.Penalize(3) {
		t.Fatal("suspended too early")
	}
	if !acc.Penalize(3) || !acc.Suspended {
		t.Fatal("expected suspension at third penalty")
	}
	if acc.Penalize(3) {
		t.Fatal("suspension must only be reported once")
	}
	if acc.NegativeScore != 4 {
		t.Fatalf("negative score = %d", acc.NegativeScore)
	}
}

func TestRulesDepositAndCommission(t *testing.T) {
	r := DefaultRules()
	if got := r.DepositFor(d(1_000_000)); !got.Equal(d(50_000)) {
		t.Fatalf("deposit = %s", got)
	}
	if got := r.DepositFor(d(999)); !got.Equal(d(49)) {
		t.Fatalf("deposit must floor, got %s", got)
	}
	commission, net := r.CommissionFor(d(1_100_000))
	if !commission.Equal(d(22_000)) || !net.Equal(d(1_078_000)) {
		t.Fatalf("commission=%s net=%s", commission, net)
	}
}

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
)

func TestWithTxRollsBack(t *testing.T) {
	s := NewStore()
	repos := s.Repositories()
	ctx := context.Background()
	if err := repos.Accounts.Create(ctx, domain.NewAccount("a")); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(txCtx context.Context) error {
		a, err := repos.Accounts.Get(txCtx, "a")
		if err != nil {
			return err
		}
		a.WalletBalance = decimal.NewFromInt(100)
		if err := repos.Accounts.Save(txCtx, a); err != nil {
			return err
		}
		if err := repos.Accounts.Create(txCtx, domain.NewAccount("b")); err != nil {
			return err
		}
		// nested call joins the outer transaction
		return s.WithTx(txCtx, func(context.Context) error { return boom })
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	a, err := repos.Accounts.Get(ctx, "a")
	if err != nil || !a.WalletBalance.IsZero() || a.Version != 0 {
		t.Fatalf("rollback lost: %+v %v", a, err)
	}
	if _, err := repos.Accounts.Get(ctx, "b"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("account b should not exist, got %v", err)
	}
}

func TestSaveRejectsStaleVersion(t *testing.T) {
	s := NewStore()
	repos := s.Repositories()
	ctx := context.Background()
	if err := repos.Accounts.Create(ctx, domain.NewAccount("a")); err != nil {
		t.Fatal(err)
	}
	first, _ := repos.Accounts.Get(ctx, "a")
	second, _ := repos.Accounts.Get(ctx, "a")

	if err := repos.Accounts.Save(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := repos.Accounts.Save(ctx, second); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := repos.Accounts.Create(ctx, domain.NewAccount("a")); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate create should conflict, got %v", err)
	}
}

func TestOrderQueries(t *testing.T) {
	s := NewStore()
	repos := s.Repositories()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	listing := &domain.Listing{ListingID: "L1", SellerID: "s", LineType: domain.LineTypeActive}

	open := domain.NewPurchaseOrder("O1", listing, "b", domain.OrderSourceFixed, "L1", decimal.NewFromInt(10), decimal.NewFromInt(10), now.Add(time.Hour))
	late := domain.NewPurchaseOrder("O2", listing, "c", domain.OrderSourceFixed, "L1", decimal.NewFromInt(10), decimal.NewFromInt(10), now.Add(-time.Hour))
	done := domain.NewPurchaseOrder("O3", listing, "d", domain.OrderSourceFixed, "L1", decimal.NewFromInt(10), decimal.NewFromInt(10), now.Add(-2*time.Hour))
	done.Status = domain.OrderStatusCompleted
	for _, o := range []*domain.PurchaseOrder{open, late, done} {
		if err := repos.Orders.Create(ctx, o); err != nil {
			t.Fatal(err)
		}
	}

	n, err := repos.Orders.CountOpenByListing(ctx, "L1")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 open orders, got %d %v", n, err)
	}
	expired, err := repos.Orders.ListExpired(ctx, now, 10)
	if err != nil || len(expired) != 1 || expired[0].OrderID != "O2" {
		t.Fatalf("unexpected expired orders %v %v", expired, err)
	}
}

func TestEscrowCodeUnique(t *testing.T) {
	s := NewStore()
	repos := s.Repositories()
	ctx := context.Background()
	listing := &domain.Listing{ListingID: "L1", SellerID: "s"}

	if err := repos.Escrows.Create(ctx, domain.NewEscrowPayment("P1", "12345678", "b", listing, decimal.NewFromInt(5))); err != nil {
		t.Fatal(err)
	}
	err := repos.Escrows.Create(ctx, domain.NewEscrowPayment("P2", "12345678", "c", listing, decimal.NewFromInt(5)))
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on duplicate code, got %v", err)
	}
	p, err := repos.Escrows.GetByCode(ctx, "12345678")
	if err != nil || p.PaymentID != "P1" {
		t.Fatalf("lookup by code: %+v %v", p, err)
	}
}

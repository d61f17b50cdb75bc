package domain

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestOrder(t *testing.T, line LineType) *PurchaseOrder {
	t.Helper()
	l, err := NewListing("l1", "seller", "09120000000", d(500), SaleModeFixed, line)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	return NewPurchaseOrder("o1", l, "buyer", OrderSourceFixed, "l1", d(500), d(500), time.Now().Add(48*time.Hour))
}

func TestOrderDocumentPath(t *testing.T) {
	ctx := context.Background()
	o := newTestOrder(t, LineTypeActive)

	if err := o.SendCode(ctx, "123456"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("active line must not accept codes, got %v", err)
	}
	if err := o.ApproveDocument(ctx); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("approve before submit must fail, got %v", err)
	}
	if err := o.SubmitDocument(ctx, "doc://1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := o.RejectDocument(ctx, "blurry"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if o.Status != OrderStatusDocumentRejected || o.RejectReason != "blurry" {
		t.Fatalf("unexpected order %+v", o)
	}
	if err := o.SubmitDocument(ctx, "doc://2"); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if err := o.ApproveDocument(ctx); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if o.Status != OrderStatusVerified {
		t.Fatalf("status = %s", o.Status)
	}
	if err := o.Complete(ctx, d(10), d(490), time.Now()); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := o.Expire(ctx); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("completed order must not expire, got %v", err)
	}
}

func TestOrderCodePath(t *testing.T) {
	ctx := context.Background()
	o := newTestOrder(t, LineTypeInactive)

	if err := o.SubmitDocument(ctx, "doc"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("inactive line must not accept documents, got %v", err)
	}
	if err := o.SendCode(ctx, "12a456"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if err := o.SendCode(ctx, "123456"); err != nil {
		t.Fatalf("send code: %v", err)
	}
	if err := o.ReportProblem(ctx); err != nil {
		t.Fatalf("report: %v", err)
	}
	if o.Status != OrderStatusPending {
		t.Fatalf("status = %s", o.Status)
	}
	if err := o.SendCode(ctx, "654321"); err != nil {
		t.Fatalf("resend: %v", err)
	}
	if err := o.VerifyCode(ctx); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if o.Status != OrderStatusVerified {
		t.Fatalf("status = %s", o.Status)
	}
}

func TestOrderCompleteRequiresVerified(t *testing.T) {
	o := newTestOrder(t, LineTypeActive)
	err := o.Complete(context.Background(), d(10), d(490), time.Now())
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestOrderOverdue(t *testing.T) {
	ctx := context.Background()
	o := newTestOrder(t, LineTypeInactive)
	late := o.ActivationDeadline.Add(time.Minute)
	if !o.IsOverdue(late) {
		t.Fatal("pending order past deadline must be overdue")
	}
	_ = o.SendCode(ctx, "123456")
	_ = o.VerifyCode(ctx)
	if o.IsOverdue(late) {
		t.Fatal("verified order awaits settlement and is not overdue")
	}
}

func TestActivationRequestReject(t *testing.T) {
	r := &ActivationRequest{OrderID: "o1", ActivationCode: "123456", Status: ActivationStatusPending}
	if !r.Matches("123456") || r.Matches("000000") {
		t.Fatal("match mismatch")
	}
	if err := r.Reject(); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if r.ActivationCode != "" || r.Matches("123456") {
		t.Fatal("rejected request must clear its code")
	}
}

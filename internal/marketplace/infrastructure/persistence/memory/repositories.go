package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
)

func pairKey(a, b string) string { return a + "|" + b }

func stale(kind, id string) error {
	return fmt.Errorf("%s %s version mismatch: %w", kind, id, domain.ErrConflict)
}

// --- accounts ---

type accountRepo struct{ s *Store }

func (r *accountRepo) Create(ctx context.Context, a *domain.Account) error {
	return r.s.do(ctx, func(d *dataset) error {
		if _, ok := d.accounts[a.AccountID]; ok {
			return fmt.Errorf("account %s exists: %w", a.AccountID, domain.ErrConflict)
		}
		a.ID = d.id()
		a.CreatedAt = r.s.now()
		a.UpdatedAt = a.CreatedAt
		d.accounts[a.AccountID] = *a
		return nil
	})
}

func (r *accountRepo) Get(ctx context.Context, id string) (*domain.Account, error) {
	var out domain.Account
	err := r.s.do(ctx, func(d *dataset) error {
		a, ok := d.accounts[id]
		if !ok {
			return fmt.Errorf("%s: %w", id, domain.ErrAccountNotFound)
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *accountRepo) Save(ctx context.Context, a *domain.Account) error {
	return r.s.do(ctx, func(d *dataset) error {
		cur, ok := d.accounts[a.AccountID]
		if !ok {
			return fmt.Errorf("%s: %w", a.AccountID, domain.ErrAccountNotFound)
		}
		if cur.Version != a.Version {
			return stale("account", a.AccountID)
		}
		a.Version++
		a.UpdatedAt = r.s.now()
		d.accounts[a.AccountID] = *a
		return nil
	})
}

// --- ledger ---

type ledgerRepo struct{ s *Store }

func (r *ledgerRepo) Append(ctx context.Context, entries ...*domain.LedgerEntry) error {
	return r.s.do(ctx, func(d *dataset) error {
		for _, e := range entries {
			e.ID = d.id()
			e.CreatedAt = r.s.now()
			d.ledger = append(d.ledger, *e)
		}
		return nil
	})
}

func (r *ledgerRepo) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.LedgerEntry, int64, error) {
	var out []*domain.LedgerEntry
	var total int64
	err := r.s.do(ctx, func(d *dataset) error {
		var matched []domain.LedgerEntry
		for _, e := range d.ledger {
			if e.AccountID == accountID {
				matched = append(matched, e)
			}
		}
		total = int64(len(matched))
		slices.Reverse(matched)
		if offset > len(matched) {
			offset = len(matched)
		}
		matched = matched[offset:]
		if limit > 0 && limit < len(matched) {
			matched = matched[:limit]
		}
		for i := range matched {
			e := matched[i]
			out = append(out, &e)
		}
		return nil
	})
	return out, total, err
}

func (r *ledgerRepo) ExistsByReference(ctx context.Context, accountID string, kind domain.LedgerKind, reference string) (bool, error) {
	found := false
	err := r.s.do(ctx, func(d *dataset) error {
		for _, e := range d.ledger {
			if e.AccountID == accountID && e.Kind == kind && e.Reference == reference {
				found = true
				break
			}
		}
		return nil
	})
	return found, err
}

// --- listings ---

type listingRepo struct{ s *Store }

func (r *listingRepo) Create(ctx context.Context, l *domain.Listing) error {
	return r.s.do(ctx, func(d *dataset) error {
		if _, ok := d.listings[l.ListingID]; ok {
			return fmt.Errorf("listing %s exists: %w", l.ListingID, domain.ErrConflict)
		}
		l.ID = d.id()
		l.CreatedAt = r.s.now()
		d.listings[l.ListingID] = *l
		return nil
	})
}

func (r *listingRepo) Get(ctx context.Context, id string) (*domain.Listing, error) {
	var out domain.Listing
	err := r.s.do(ctx, func(d *dataset) error {
		l, ok := d.listings[id]
		if !ok {
			return fmt.Errorf("%s: %w", id, domain.ErrListingNotFound)
		}
		out = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *listingRepo) Save(ctx context.Context, l *domain.Listing) error {
	return r.s.do(ctx, func(d *dataset) error {
		cur, ok := d.listings[l.ListingID]
		if !ok {
			return fmt.Errorf("%s: %w", l.ListingID, domain.ErrListingNotFound)
		}
		if cur.Version != l.Version {
			return stale("listing", l.ListingID)
		}
		l.Version++
		l.UpdatedAt = r.s.now()
		d.listings[l.ListingID] = *l
		return nil
	})
}

// --- auctions ---

type auctionRepo struct{ s *Store }

func (r *auctionRepo) Create(ctx context.Context, a *domain.Auction) error {
	return r.s.do(ctx, func(d *dataset) error {
		if _, ok := d.auctions[a.AuctionID]; ok {
			return fmt.Errorf("auction %s exists: %w", a.AuctionID, domain.ErrConflict)
		}
		for _, cur := range d.auctions {
			if cur.ListingID == a.ListingID && cur.IsLive() {
				return fmt.Errorf("listing %s already auctioned: %w", a.ListingID, domain.ErrConflict)
			}
		}
		a.ID = d.id()
		a.CreatedAt = r.s.now()
		d.auctions[a.AuctionID] = *a
		return nil
	})
}

func (r *auctionRepo) Get(ctx context.Context, id string) (*domain.Auction, error) {
	var out domain.Auction
	err := r.s.do(ctx, func(d *dataset) error {
		a, ok := d.auctions[id]
		if !ok {
			return fmt.Errorf("%s: %w", id, domain.ErrAuctionNotFound)
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *auctionRepo) GetByListing(ctx context.Context, listingID string) (*domain.Auction, error) {
	var out *domain.Auction
	err := r.s.do(ctx, func(d *dataset) error {
		for _, a := range d.auctions {
			if a.ListingID == listingID && (out == nil || a.ID > out.ID) {
				out = &a
			}
		}
		if out == nil {
			return fmt.Errorf("listing %s: %w", listingID, domain.ErrAuctionNotFound)
		}
		return nil
	})
	return out, err
}

func (r *auctionRepo) Save(ctx context.Context, a *domain.Auction) error {
	return r.s.do(ctx, func(d *dataset) error {
		cur, ok := d.auctions[a.AuctionID]
		if !ok {
			return fmt.Errorf("%s: %w", a.AuctionID, domain.ErrAuctionNotFound)
		}
		if cur.Version != a.Version {
			return stale("auction", a.AuctionID)
		}
		a.Version++
		a.UpdatedAt = r.s.now()
		d.auctions[a.AuctionID] = *a
		return nil
	})
}

func (r *auctionRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Auction, error) {
	var out []*domain.Auction
	err := r.s.do(ctx, func(d *dataset) error {
		for _, a := range d.auctions {
			if a.Status == domain.AuctionStatusActive && !now.Before(a.EndTime) {
				out = append(out, &a)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

// --- bids ---

type bidRepo struct{ s *Store }

func (r *bidRepo) Append(ctx context.Context, b *domain.Bid) error {
	return r.s.do(ctx, func(d *dataset) error {
		b.ID = d.id()
		b.CreatedAt = r.s.now()
		d.bids = append(d.bids, *b)
		return nil
	})
}

func (r *bidRepo) ListByAuction(ctx context.Context, auctionID string) ([]*domain.Bid, error) {
	var out []*domain.Bid
	err := r.s.do(ctx, func(d *dataset) error {
		for _, b := range d.bids {
			if b.AuctionID == auctionID {
				out = append(out, &b)
			}
		}
		return nil
	})
	return out, err
}

// --- participants ---

type participantRepo struct{ s *Store }

func (r *participantRepo) Get(ctx context.Context, auctionID, bidderID string) (*domain.Participant, error) {
	var out *domain.Participant
	err := r.s.do(ctx, func(d *dataset) error {
		if p, ok := d.participants[pairKey(auctionID, bidderID)]; ok {
			out = &p
			return nil
		}
		return fmt.Errorf("participant %s in %s: %w", bidderID, auctionID, domain.ErrNotFound)
	})
	return out, err
}

func (r *participantRepo) Save(ctx context.Context, p *domain.Participant) error {
	return r.s.do(ctx, func(d *dataset) error {
		if p.ID == 0 {
			p.ID = d.id()
			p.CreatedAt = r.s.now()
		}
		p.UpdatedAt = r.s.now()
		d.participants[pairKey(p.AuctionID, p.BidderID)] = *p
		return nil
	})
}

func (r *participantRepo) ListByAuction(ctx context.Context, auctionID string) ([]*domain.Participant, error) {
	var out []*domain.Participant
	err := r.s.do(ctx, func(d *dataset) error {
		for _, p := range d.participants {
			if p.AuctionID == auctionID {
				out = append(out, &p)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return nil
	})
	return out, err
}

// --- deposits ---

type depositRepo struct{ s *Store }

func (r *depositRepo) Get(ctx context.Context, accountID, auctionID string) (*domain.GuaranteeDeposit, error) {
	var out *domain.GuaranteeDeposit
	err := r.s.do(ctx, func(d *dataset) error {
		if dep, ok := d.deposits[pairKey(accountID, auctionID)]; ok {
			out = &dep
			return nil
		}
		return fmt.Errorf("%s/%s: %w", accountID, auctionID, domain.ErrDepositNotFound)
	})
	return out, err
}

func (r *depositRepo) Create(ctx context.Context, dep *domain.GuaranteeDeposit) error {
	return r.s.do(ctx, func(d *dataset) error {
		key := pairKey(dep.AccountID, dep.AuctionID)
		if _, ok := d.deposits[key]; ok {
			return fmt.Errorf("deposit %s exists: %w", key, domain.ErrConflict)
		}
		dep.ID = d.id()
		dep.CreatedAt = r.s.now()
		d.deposits[key] = *dep
		return nil
	})
}

func (r *depositRepo) Save(ctx context.Context, dep *domain.GuaranteeDeposit) error {
	return r.s.do(ctx, func(d *dataset) error {
		key := pairKey(dep.AccountID, dep.AuctionID)
		cur, ok := d.deposits[key]
		if !ok {
			return fmt.Errorf("%s: %w", key, domain.ErrDepositNotFound)
		}
		if cur.Version != dep.Version {
			return stale("deposit", key)
		}
		dep.Version++
		dep.UpdatedAt = r.s.now()
		d.deposits[key] = *dep
		return nil
	})
}

// CountDeposits 返回 (账户, 拍卖) 的保证金条数
func (s *Store) CountDeposits(accountID, auctionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, dep := range s.data.deposits {
		if dep.AccountID == accountID && dep.AuctionID == auctionID {
			n++
		}
	}
	return n
}

// --- winner queue ---

type winnerRepo struct{ s *Store }

func winnerKey(auctionID string, rank int) string {
	return pairKey(auctionID, strconv.Itoa(rank))
}

func (r *winnerRepo) Create(ctx context.Context, entries ...*domain.WinnerQueueEntry) error {
	return r.s.do(ctx, func(d *dataset) error {
		for _, e := range entries {
			key := winnerKey(e.AuctionID, e.Rank)
			if _, ok := d.winners[key]; ok {
				return fmt.Errorf("winner %s exists: %w", key, domain.ErrConflict)
			}
			e.ID = d.id()
			e.CreatedAt = r.s.now()
			d.winners[key] = *e
		}
		return nil
	})
}

func (r *winnerRepo) Save(ctx context.Context, e *domain.WinnerQueueEntry) error {
	return r.s.do(ctx, func(d *dataset) error {
		key := winnerKey(e.AuctionID, e.Rank)
		cur, ok := d.winners[key]
		if !ok {
			return fmt.Errorf("%s: %w", key, domain.ErrWinnerNotFound)
		}
		if cur.Version != e.Version {
			return stale("winner", key)
		}
		e.Version++
		e.UpdatedAt = r.s.now()
		d.winners[key] = *e
		return nil
	})
}

func (r *winnerRepo) ListByAuction(ctx context.Context, auctionID string) ([]*domain.WinnerQueueEntry, error) {
	var out []*domain.WinnerQueueEntry
	err := r.s.do(ctx, func(d *dataset) error {
		for _, e := range d.winners {
			if e.AuctionID == auctionID {
				out = append(out, &e)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
		return nil
	})
	return out, err
}

func (r *winnerRepo) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]*domain.WinnerQueueEntry, error) {
	var out []*domain.WinnerQueueEntry
	err := r.s.do(ctx, func(d *dataset) error {
		for _, e := range d.winners {
			if e.IsOverdue(now) {
				out = append(out, &e)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].PaymentDeadline.Before(out[j].PaymentDeadline) })
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

// --- purchase orders ---

type orderRepo struct{ s *Store }

func (r *orderRepo) Create(ctx context.Context, o *domain.PurchaseOrder) error {
	return r.s.do(ctx, func(d *dataset) error {
		if _, ok := d.orders[o.OrderID]; ok {
			return fmt.Errorf("order %s exists: %w", o.OrderID, domain.ErrConflict)
		}
		o.ID = d.id()
		o.CreatedAt = r.s.now()
		d.orders[o.OrderID] = *o
		return nil
	})
}

func (r *orderRepo) Get(ctx context.Context, id string) (*domain.PurchaseOrder, error) {
	var out domain.PurchaseOrder
	err := r.s.do(ctx, func(d *dataset) error {
		o, ok := d.orders[id]
		if !ok {
			return fmt.Errorf("%s: %w", id, domain.ErrOrderNotFound)
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *orderRepo) Save(ctx context.Context, o *domain.PurchaseOrder) error {
	return r.s.do(ctx, func(d *dataset) error {
		cur, ok := d.orders[o.OrderID]
		if !ok {
			return fmt.Errorf("%s: %w", o.OrderID, domain.ErrOrderNotFound)
		}
		if cur.Version != o.Version {
			return stale("order", o.OrderID)
		}
		o.Version++
		o.UpdatedAt = r.s.now()
		d.orders[o.OrderID] = *o
		return nil
	})
}

func (r *orderRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.PurchaseOrder, error) {
	var out []*domain.PurchaseOrder
	err := r.s.do(ctx, func(d *dataset) error {
		for _, o := range d.orders {
			if o.IsOverdue(now) {
				out = append(out, &o)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ActivationDeadline.Before(out[j].ActivationDeadline) })
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func (r *orderRepo) CountOpenByListing(ctx context.Context, listingID string) (int64, error) {
	var n int64
	err := r.s.do(ctx, func(d *dataset) error {
		for _, o := range d.orders {
			if o.ListingID == listingID && !o.IsTerminal() {
				n++
			}
		}
		return nil
	})
	return n, err
}

// --- activation requests ---

type activationRepo struct{ s *Store }

func (r *activationRepo) Create(ctx context.Context, a *domain.ActivationRequest) error {
	return r.s.do(ctx, func(d *dataset) error {
		a.ID = d.id()
		a.CreatedAt = r.s.now()
		d.activations = append(d.activations, *a)
		return nil
	})
}

func (r *activationRepo) Save(ctx context.Context, a *domain.ActivationRequest) error {
	return r.s.do(ctx, func(d *dataset) error {
		for i := range d.activations {
			if d.activations[i].ID == a.ID {
				a.UpdatedAt = r.s.now()
				d.activations[i] = *a
				return nil
			}
		}
		return fmt.Errorf("order %s: %w", a.OrderID, domain.ErrActivationAbsent)
	})
}

func (r *activationRepo) GetLatestByOrder(ctx context.Context, orderID string) (*domain.ActivationRequest, error) {
	var out *domain.ActivationRequest
	err := r.s.do(ctx, func(d *dataset) error {
		for i := len(d.activations) - 1; i >= 0; i-- {
			if d.activations[i].OrderID == orderID {
				a := d.activations[i]
				out = &a
				return nil
			}
		}
		return fmt.Errorf("order %s: %w", orderID, domain.ErrActivationAbsent)
	})
	return out, err
}

// --- escrow payments ---

type escrowRepo struct{ s *Store }

func (r *escrowRepo) Create(ctx context.Context, p *domain.EscrowPayment) error {
	return r.s.do(ctx, func(d *dataset) error {
		if _, ok := d.escrows[p.PaymentID]; ok {
			return fmt.Errorf("payment %s exists: %w", p.PaymentID, domain.ErrConflict)
		}
		for _, cur := range d.escrows {
			if cur.Code == p.Code {
				return fmt.Errorf("payment code collision: %w", domain.ErrConflict)
			}
		}
		p.ID = d.id()
		p.CreatedAt = r.s.now()
		d.escrows[p.PaymentID] = *p
		return nil
	})
}

func (r *escrowRepo) Get(ctx context.Context, id string) (*domain.EscrowPayment, error) {
	var out domain.EscrowPayment
	err := r.s.do(ctx, func(d *dataset) error {
		p, ok := d.escrows[id]
		if !ok {
			return fmt.Errorf("%s: %w", id, domain.ErrPaymentNotFound)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *escrowRepo) GetByCode(ctx context.Context, code string) (*domain.EscrowPayment, error) {
	var out *domain.EscrowPayment
	err := r.s.do(ctx, func(d *dataset) error {
		for _, p := range d.escrows {
			if p.Code == code {
				out = &p
				return nil
			}
		}
		return fmt.Errorf("code %s: %w", code, domain.ErrPaymentNotFound)
	})
	return out, err
}

func (r *escrowRepo) Save(ctx context.Context, p *domain.EscrowPayment) error {
	return r.s.do(ctx, func(d *dataset) error {
		cur, ok := d.escrows[p.PaymentID]
		if !ok {
			return fmt.Errorf("%s: %w", p.PaymentID, domain.ErrPaymentNotFound)
		}
		if cur.Version != p.Version {
			return stale("payment", p.PaymentID)
		}
		p.Version++
		p.UpdatedAt = r.s.now()
		d.escrows[p.PaymentID] = *p
		return nil
	})
}

// --- commissions ---

type commissionRepo struct{ s *Store }

func (r *commissionRepo) Create(ctx context.Context, c *domain.CommissionRecord) error {
	return r.s.do(ctx, func(d *dataset) error {
		for _, cur := range d.commissions {
			if cur.OrderID == c.OrderID {
				return fmt.Errorf("commission for %s exists: %w", c.OrderID, domain.ErrConflict)
			}
		}
		c.ID = d.id()
		c.CreatedAt = r.s.now()
		d.commissions = append(d.commissions, *c)
		return nil
	})
}

func (r *commissionRepo) ListByOrder(ctx context.Context, orderID string) ([]*domain.CommissionRecord, error) {
	var out []*domain.CommissionRecord
	err := r.s.do(ctx, func(d *dataset) error {
		for _, c := range d.commissions {
			if c.OrderID == orderID {
				out = append(out, &c)
			}
		}
		return nil
	})
	return out, err
}

// --- outbox ---

type outboxRepo struct{ s *Store }

func (r *outboxRepo) Append(ctx context.Context, msgs ...*domain.OutboxMessage) error {
	return r.s.do(ctx, func(d *dataset) error {
		for _, m := range msgs {
			m.ID = d.id()
			m.CreatedAt = r.s.now()
			d.outbox[m.MessageID] = *m
			d.outboxOrder = append(d.outboxOrder, m.MessageID)
		}
		return nil
	})
}

func (r *outboxRepo) ListPending(ctx context.Context, limit int) ([]*domain.OutboxMessage, error) {
	var out []*domain.OutboxMessage
	err := r.s.do(ctx, func(d *dataset) error {
		for _, id := range d.outboxOrder {
			m := d.outbox[id]
			if m.Status != domain.OutboxStatusPending {
				continue
			}
			out = append(out, &m)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (r *outboxRepo) MarkSent(ctx context.Context, id string, at time.Time) error {
	return r.s.do(ctx, func(d *dataset) error {
		m, ok := d.outbox[id]
		if !ok {
			return fmt.Errorf("outbox message %s: %w", id, domain.ErrNotFound)
		}
		m.Status = domain.OutboxStatusSent
		m.SentAt = &at
		m.Attempts++
		d.outbox[id] = m
		return nil
	})
}

func (r *outboxRepo) MarkFailed(ctx context.Context, id string, reason string) error {
	return r.s.do(ctx, func(d *dataset) error {
		m, ok := d.outbox[id]
		if !ok {
			return fmt.Errorf("outbox message %s: %w", id, domain.ErrNotFound)
		}
		m.Attempts++
		m.LastError = reason
		d.outbox[id] = m
		return nil
	})
}

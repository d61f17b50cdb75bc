package mysql

import (
	"context"

	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
)

type accountRepository struct{ base }

func (r *accountRepository) Create(ctx context.Context, a *domain.Account) error {
	return translate(r.getDB(ctx).Create(a).Error, domain.ErrAccountNotFound, "account "+a.AccountID)
}

func (r *accountRepository) Get(ctx context.Context, id string) (*domain.Account, error) {
	var a domain.Account
	if err := r.forUpdate(ctx).Where("account_id = ?", id).First(&a).Error; err != nil {
		return nil, translate(err, domain.ErrAccountNotFound, id)
	}
	return &a, nil
}

func (r *accountRepository) Save(ctx context.Context, a *domain.Account) error {
	return casSave(r.getDB(ctx), a, &a.Version, "account "+a.AccountID)
}

type ledgerRepository struct{ base }

func (r *ledgerRepository) Append(ctx context.Context, entries ...*domain.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.getDB(ctx).Create(entries).Error
}

// ListByAccount 按时间倒序分页
func (r *ledgerRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.LedgerEntry, int64, error) {
	var (
		entries []*domain.LedgerEntry
		total   int64
	)
	q := r.getDB(ctx).Model(&domain.LedgerEntry{}).Where("account_id = ?", accountID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := q.Order("id DESC").Limit(limit).Offset(offset).Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *ledgerRepository) ExistsByReference(ctx context.Context, accountID string, kind domain.LedgerKind, reference string) (bool, error) {
	var n int64
	err := r.getDB(ctx).Model(&domain.LedgerEntry{}).
		Where("account_id = ? AND kind = ? AND reference = ?", accountID, kind, reference).
		Limit(1).Count(&n).Error
	return n > 0, err
}

type listingRepository struct{ base }

func (r *listingRepository) Create(ctx context.Context, l *domain.Listing) error {
	return translate(r.getDB(ctx).Create(l).Error, domain.ErrListingNotFound, "listing "+l.ListingID)
}

func (r *listingRepository) Get(ctx context.Context, id string) (*domain.Listing, error) {
	var l domain.Listing
	if err := r.forUpdate(ctx).Where("listing_id = ?", id).First(&l).Error; err != nil {
		return nil, translate(err, domain.ErrListingNotFound, id)
	}
	return &l, nil
}

func (r *listingRepository) Save(ctx context.Context, l *domain.Listing) error {
	return casSave(r.getDB(ctx), l, &l.Version, "listing "+l.ListingID)
}

type commissionRepository struct{ base }

func (r *commissionRepository) Create(ctx context.Context, c *domain.CommissionRecord) error {
	return translate(r.getDB(ctx).Create(c).Error, domain.ErrNotFound, "commission for "+c.OrderID)
}

func (r *commissionRepository) ListByOrder(ctx context.Context, orderID string) ([]*domain.CommissionRecord, error) {
	var out []*domain.CommissionRecord
	err := r.getDB(ctx).Where("order_id = ?", orderID).Order("id ASC").Find(&out).Error
	return out, err
}

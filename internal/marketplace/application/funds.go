package application

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
)

// releaseDeposit 退还保证金：冻结余额退回可用余额
func releaseDeposit(u *unit, accountID, auctionID, reason string) (decimal.Decimal, error) {
	dep, err := u.repos.Deposits.Get(u.ctx, accountID, auctionID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := dep.Release(); err != nil {
		return decimal.Zero, err
	}
	if err := u.repos.Deposits.Save(u.ctx, dep); err != nil {
		return decimal.Zero, err
	}
	acc, err := u.account(accountID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := acc.Release(dep.Amount, u.movement(domain.LedgerKindDepositRelease, auctionID, reason)); err != nil {
		return decimal.Zero, err
	}
	if err := u.saveAccount(acc); err != nil {
		return decimal.Zero, err
	}
	u.emit(domain.NewEvent(domain.EventDepositReleased, accountID, auctionID, domain.SeverityInfo,
		"Guarantee deposit released", fmt.Sprintf("Your deposit of %s for auction %s was returned to your wallet.", dep.Amount.StringFixed(2), auctionID)))
	return dep.Amount, nil
}

// burnDeposit 没收保证金：冻结余额减少，可用余额不变
func burnDeposit(u *unit, accountID, auctionID string) (decimal.Decimal, error) {
	dep, err := u.repos.Deposits.Get(u.ctx, accountID, auctionID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := dep.Burn(); err != nil {
		return decimal.Zero, err
	}
	if err := u.repos.Deposits.Save(u.ctx, dep); err != nil {
		return decimal.Zero, err
	}
	acc, err := u.account(accountID)
	if err != nil {
		return decimal.Zero, err
	}
	mv := u.movement(domain.LedgerKindDepositBurn, auctionID, "deposit forfeited for missed payment deadline")
	if err := acc.Consume(dep.Amount, mv); err != nil {
		return decimal.Zero, err
	}
	if err := u.saveAccount(acc); err != nil {
		return decimal.Zero, err
	}
	return dep.Amount, nil
}

// refundReservation 退还购买冻结款
func refundReservation(u *unit, accountID string, amount decimal.Decimal, ref, reason string) error {
	acc, err := u.account(accountID)
	if err != nil {
		return err
	}
	if err := acc.Release(amount, u.movement(domain.LedgerKindPurchaseRefund, ref, reason)); err != nil {
		return err
	}
	return u.saveAccount(acc)
}

package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
)

// TopUpCommand 支付渠道回调充值
type TopUpCommand struct {
	AccountID string
	Amount    decimal.Decimal
	// 支付渠道流水号，用于幂等
	Reference string
}

// AccountService 账户与资金流水（Ledger Store）
type AccountService struct {
	exec *executor
}

// NewAccountService 创建账户服务
func NewAccountService(d Dependencies) *AccountService {
	return &AccountService{exec: newExecutor(d)}
}

// Open 开户，已存在时返回现有账户
func (s *AccountService) Open(ctx context.Context, accountID string) (*AccountDTO, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account id is required: %w", domain.ErrInvalidArgument)
	}
	var acc *domain.Account
	_, err := s.exec.run(ctx, "account.open", []string{accountKey(accountID)}, func(u *unit) error {
		existing, err := u.account(accountID)
		if err == nil {
			acc = existing
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		acc = domain.NewAccount(accountID)
		return u.repos.Accounts.Create(u.ctx, acc)
	})
	if err != nil {
		return nil, err
	}
	return toAccountDTO(acc), nil
}

// TopUp 充值入账。同一 reference 重复回调只入账一次。
func (s *AccountService) TopUp(ctx context.Context, cmd TopUpCommand) (*AccountDTO, error) {
	if err := domain.ValidateAmount("top-up amount", cmd.Amount); err != nil {
		return nil, err
	}
	if cmd.Reference == "" {
		return nil, fmt.Errorf("payment reference is required: %w", domain.ErrInvalidArgument)
	}
	var acc *domain.Account
	_, err := s.exec.run(ctx, "account.top_up", []string{accountKey(cmd.AccountID)}, func(u *unit) error {
		var err error
		if acc, err = u.account(cmd.AccountID); err != nil {
			return err
		}
		seen, err := u.repos.Ledger.ExistsByReference(u.ctx, cmd.AccountID, domain.LedgerKindTopUp, cmd.Reference)
		if err != nil || seen {
			return err
		}
		if err := acc.Credit(cmd.Amount, u.movement(domain.LedgerKindTopUp, cmd.Reference, "wallet top-up")); err != nil {
			return err
		}
		if err := u.saveAccount(acc); err != nil {
			return err
		}
		u.emit(domain.NewEvent(domain.EventFundsTopUp, acc.AccountID, cmd.Reference, domain.SeverityInfo,
			"Wallet topped up", fmt.Sprintf("%s credited to your wallet.", cmd.Amount.StringFixed(2))))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toAccountDTO(acc), nil
}

// Get 查询账户，优先读缓存
func (s *AccountService) Get(ctx context.Context, accountID string) (*AccountDTO, error) {
	if c := s.exec.cache; c != nil {
		if acc, err := c.Get(ctx, accountID); err == nil && acc != nil {
			return toAccountDTO(acc), nil
		}
	}
	acc, err := s.exec.repos.Accounts.Get(ctx, accountID)
	if err != nil {
		return nil, classify(err)
	}
	if c := s.exec.cache; c != nil {
		if err := c.Save(ctx, acc); err != nil {
			s.exec.logger.WarnContext(ctx, "failed to cache account", "account_id", accountID, "error", err)
		}
	}
	return toAccountDTO(acc), nil
}

// History 分页查询资金流水，按时间倒序
func (s *AccountService) History(ctx context.Context, accountID string, limit, offset int) (*LedgerPage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if _, err := s.exec.repos.Accounts.Get(ctx, accountID); err != nil {
		return nil, classify(err)
	}
	entries, total, err := s.exec.repos.Ledger.ListByAccount(ctx, accountID, limit, offset)
	if err != nil {
		return nil, classify(err)
	}
	page := &LedgerPage{Total: total, Entries: make([]*LedgerEntryDTO, 0, len(entries))}
	for _, e := range entries {
		page.Entries = append(page.Entries, toLedgerDTO(e))
	}
	return page, nil
}

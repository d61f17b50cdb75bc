package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
)

// 锁 key
func accountKey(id string) string { return "account:" + id }
func listingKey(id string) string { return "listing:" + id }
func orderKey(id string) string   { return "order:" + id }

// unit 一次命令执行的工作单元：事务上下文、当前时间、待发布事件
type unit struct {
	ctx     context.Context
	repos   domain.Repositories
	rules   domain.Rules
	now     time.Time
	events  []domain.Event
	touched []string
	locked  []string
}

// holds 当前命令是否持有 key 的锁
func (u *unit) holds(key string) bool {
	_, ok := slices.BinarySearch(u.locked, key)
	return ok
}

// requireLocks 命令执行期间发现未加锁的账户时返回 ErrConflict，重试时重新计算 key
func (u *unit) requireLocks(accountIDs ...string) error {
	for _, id := range accountIDs {
		if !u.holds(accountKey(id)) {
			return fmt.Errorf("account %s joined after locks were taken: %w", id, domain.ErrConflict)
		}
	}
	return nil
}

func (u *unit) emit(evs ...domain.Event) {
	for _, ev := range evs {
		if ev.OccurredAt.IsZero() {
			ev.OccurredAt = u.now
		}
		u.events = append(u.events, ev)
	}
}

func (u *unit) movement(kind domain.LedgerKind, ref, desc string) domain.Movement {
	return domain.Movement{Kind: kind, Reference: ref, Description: desc, At: u.now}
}

func (u *unit) account(id string) (*domain.Account, error) {
	return u.repos.Accounts.Get(u.ctx, id)
}

// saveAccount 保存账户并追加本次产生的流水
func (u *unit) saveAccount(a *domain.Account) error {
	entries := a.TakeEntries()
	if err := u.repos.Accounts.Save(u.ctx, a); err != nil {
		return err
	}
	if len(entries) > 0 {
		if err := u.repos.Ledger.Append(u.ctx, entries...); err != nil {
			return err
		}
	}
	u.touched = append(u.touched, a.AccountID)
	return nil
}

// executor 命令执行器：按 key 加锁，单事务执行，冲突重试一次
type executor struct {
	repos   domain.Repositories
	tx      domain.TxManager
	locker  domain.Locker
	cache   domain.AccountCache
	clock   domain.Clock
	rules   domain.Rules
	timeout time.Duration
	logger  *slog.Logger
	metrics Metrics
}

func newExecutor(d Dependencies) *executor {
	d.normalize()
	return &executor{
		repos:   d.Repos,
		tx:      d.Tx,
		locker:  d.Locker,
		cache:   d.Cache,
		clock:   d.Clock,
		rules:   d.Rules,
		timeout: d.TxTimeout,
		logger:  d.Logger,
		metrics: d.Metrics,
	}
}

// keyFunc 在加锁前读取需要锁定的 key，每次尝试都会重新计算
type keyFunc func(ctx context.Context) ([]string, error)

// run 执行命令，成功时返回已写入发件箱的事件
func (e *executor) run(ctx context.Context, op string, keys []string, fn func(u *unit) error) ([]domain.Event, error) {
	return e.runWith(ctx, op, func(context.Context) ([]string, error) { return keys, nil }, fn)
}

// runWith 与 run 相同，锁定的 key 由 keysFn 在每次尝试前计算
func (e *executor) runWith(ctx context.Context, op string, keysFn keyFunc, fn func(u *unit) error) ([]domain.Event, error) {
	start := time.Now()
	events, err := e.attempt(ctx, keysFn, fn)
	if errors.Is(err, domain.ErrConflict) {
		e.metrics.ObserveRetry(op)
		e.logger.WarnContext(ctx, "concurrent modification, retrying", "command", op, "error", err)
		events, err = e.attempt(ctx, keysFn, fn)
	}
	err = classify(err)
	e.metrics.ObserveCommand(op, time.Since(start), err)
	if err != nil && (errors.Is(err, domain.ErrExternalFailure) || errors.Is(err, domain.ErrConflict)) {
		e.logger.ErrorContext(ctx, "command failed", "command", op, "error", err)
	}
	return events, err
}

func (e *executor) attempt(ctx context.Context, keysFn keyFunc, fn func(u *unit) error) ([]domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	keys, err := keysFn(ctx)
	if err != nil {
		return nil, err
	}
	keys = dedupKeys(keys)
	unlock, err := e.locker.Lock(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var u *unit
	err = e.tx.WithTx(ctx, func(txCtx context.Context) error {
		u = &unit{ctx: txCtx, repos: e.repos, rules: e.rules, now: e.clock.Now(), locked: keys}
		if err := fn(u); err != nil {
			return err
		}
		return e.appendOutbox(txCtx, u.events)
	})
	if err != nil {
		return nil, err
	}
	e.invalidate(ctx, u.touched)
	return u.events, nil
}

func (e *executor) appendOutbox(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]*domain.OutboxMessage, 0, len(events))
	for _, ev := range events {
		msgs = append(msgs, &domain.OutboxMessage{
			MessageID:  uuid.NewString(),
			EventType:  ev.Type,
			AccountID:  ev.AccountID,
			Title:      ev.Title,
			Body:       ev.Body,
			Severity:   ev.Severity,
			Reference:  ev.Reference,
			Status:     domain.OutboxStatusPending,
			OccurredAt: ev.OccurredAt,
		})
	}
	return e.repos.Outbox.Append(ctx, msgs...)
}

// invalidate 事务提交后清理账户缓存，失败只记录日志
func (e *executor) invalidate(ctx context.Context, accountIDs []string) {
	if e.cache == nil || len(accountIDs) == 0 {
		return
	}
	if err := e.cache.Delete(ctx, dedupKeys(accountIDs)...); err != nil {
		e.logger.WarnContext(ctx, "failed to invalidate account cache", "accounts", accountIDs, "error", err)
	}
}

func dedupKeys(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}

// classify 业务错误原样返回，其余归为 ErrExternalFailure
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{
		domain.ErrNotFound,
		domain.ErrInvalidState,
		domain.ErrInsufficientFunds,
		domain.ErrConflict,
		domain.ErrInvalidArgument,
		domain.ErrExternalFailure,
	} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrExternalFailure, err)
}

package domain

import (
	"errors"
	"fmt"
)

// 错误类别。NotFound / InvalidState / InsufficientFunds / InvalidArgument 面向用户且不可重试；
// Conflict 由调用方自动重试一次；ExternalFailure 留给下一轮定时扫描重试。
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrConflict          = errors.New("concurrent modification")
	ErrExternalFailure   = errors.New("external failure")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// 具体错误，均包装上面的类别，调用方用 errors.Is 判断。
var (
	ErrAccountNotFound  = fmt.Errorf("account %w", ErrNotFound)
	ErrListingNotFound  = fmt.Errorf("listing %w", ErrNotFound)
	ErrAuctionNotFound  = fmt.Errorf("auction %w", ErrNotFound)
	ErrOrderNotFound    = fmt.Errorf("purchase order %w", ErrNotFound)
	ErrPaymentNotFound  = fmt.Errorf("secure payment %w", ErrNotFound)
	ErrDepositNotFound  = fmt.Errorf("guarantee deposit %w", ErrNotFound)
	ErrWinnerNotFound   = fmt.Errorf("winner queue entry %w", ErrNotFound)
	ErrActivationAbsent = fmt.Errorf("activation request %w", ErrNotFound)

	ErrAuctionClosed    = fmt.Errorf("auction closed: %w", ErrInvalidState)
	ErrAuctionNotEnded  = fmt.Errorf("auction has not ended: %w", ErrInvalidState)
	ErrAccountSuspended = fmt.Errorf("account suspended: %w", ErrInvalidState)
	ErrListingSold      = fmt.Errorf("listing already sold: %w", ErrInvalidState)
	ErrNotCurrentWinner = fmt.Errorf("not the current payer: %w", ErrInvalidState)
	ErrOrderNotVerified = fmt.Errorf("purchase order not verified: %w", ErrInvalidState)

	ErrBidTooLow      = fmt.Errorf("bid must exceed the current bid: %w", ErrInvalidArgument)
	ErrSelfBid        = fmt.Errorf("seller cannot bid on own listing: %w", ErrInvalidArgument)
	ErrCodeMismatch   = fmt.Errorf("activation code mismatch: %w", ErrInvalidArgument)
	ErrNotParticipant = fmt.Errorf("caller is not a party of this order: %w", ErrInvalidArgument)
)

package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// UsageDeduction reports the outcome of a usage-path deduction.
type UsageDeduction struct {
	Applied       bool  `json:"applied"`
	BalanceBefore int64 `json:"balance_before"`
	BalanceAfter  int64 `json:"balance_after"`
}

type Service interface {
	// GetBalance returns 0 for an unknown user without creating an account.
	GetBalance(ctx context.Context, username string) (int64, error)
	// EnsureAccount creates the account on first reference, granting
	// defaultGrant (with an initial_grant audit row when positive), and
	// returns the current balance.
	EnsureAccount(ctx context.Context, username string, defaultGrant int64) (int64, error)
	SetBalance(ctx context.Context, username string, balance int64, actor string) (int64, error)
	AddBalance(ctx context.Context, username string, delta int64, actor, description string) (int64, error)
	// DeductForUsage clamps the balance at zero rather than refusing: usage
	// deduction happens after the work was already consumed. Unlimited
	// accounts and unknown users are left untouched.
	DeductForUsage(ctx context.Context, username string, amount int64, resourceType, description string) (UsageDeduction, error)
	// DeductForUsageTx is DeductForUsage composed into a caller-owned
	// transaction, so a session close and its deduction commit together.
	DeductForUsageTx(ctx context.Context, tx *gorm.DB, username string, amount int64, resourceType, description string) (UsageDeduction, error)
	SetUnlimited(ctx context.Context, username string, unlimited bool, actor string) error
	IsUnlimited(ctx context.Context, username string) (bool, error)
	GetAccount(ctx context.Context, username string) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	ListTransactions(ctx context.Context, username string, limit int) ([]Transaction, error)
}

var (
	ErrInvalidUsername = errors.New("invalid_username")
	ErrNotFound        = errors.New("not_found")
)

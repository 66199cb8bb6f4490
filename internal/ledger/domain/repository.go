package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repository persists accounts and their audit rows. Methods take the gorm
// handle explicitly so services can run them inside their own transactions.
type Repository interface {
	FindByUsername(ctx context.Context, db *gorm.DB, username string) (*Account, error)
	// LockByUsername reads the account with a row lock where the dialect
	// supports one, serializing concurrent writers to the same account.
	LockByUsername(ctx context.Context, db *gorm.DB, username string) (*Account, error)
	ListAll(ctx context.Context, db *gorm.DB) ([]Account, error)
	Insert(ctx context.Context, db *gorm.DB, account *Account) error
	UpdateBalance(ctx context.Context, db *gorm.DB, username string, balance int64, now time.Time) error
	UpdateUnlimited(ctx context.Context, db *gorm.DB, username string, unlimited bool, now time.Time) error
	InsertTransaction(ctx context.Context, db *gorm.DB, txn *Transaction) error
	ListTransactions(ctx context.Context, db *gorm.DB, username string, limit int) ([]Transaction, error)
}

package repository

import (
	"context"
	"time"

	ledgerdomain "github.com/smallbiznis/quotameter/internal/ledger/domain"
	pkgdb "github.com/smallbiznis/quotameter/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

const accountColumns = `id, username, balance, unlimited, created_at, updated_at`

func (r *repo) FindByUsername(ctx context.Context, db *gorm.DB, username string) (*ledgerdomain.Account, error) {
	return r.findByUsername(ctx, db, username, false)
}

func (r *repo) LockByUsername(ctx context.Context, db *gorm.DB, username string) (*ledgerdomain.Account, error) {
	return r.findByUsername(ctx, db, username, true)
}

func (r *repo) findByUsername(ctx context.Context, db *gorm.DB, username string, lock bool) (*ledgerdomain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM quota_accounts WHERE username = ?`
	if lock && pkgdb.SupportsRowLocking(db) {
		query += ` FOR UPDATE`
	}

	var account ledgerdomain.Account
	err := db.WithContext(ctx).Raw(query, username).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) ListAll(ctx context.Context, db *gorm.DB) ([]ledgerdomain.Account, error) {
	var accounts []ledgerdomain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT `+accountColumns+` FROM quota_accounts ORDER BY username ASC`,
	).Scan(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, a *ledgerdomain.Account) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO quota_accounts (id, username, balance, unlimited, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.Username,
		a.Balance,
		a.Unlimited,
		a.CreatedAt,
		a.UpdatedAt,
	).Error
}

func (r *repo) UpdateBalance(ctx context.Context, db *gorm.DB, username string, balance int64, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE quota_accounts SET balance = ?, updated_at = ? WHERE username = ?`,
		balance,
		now,
		username,
	).Error
}

func (r *repo) UpdateUnlimited(ctx context.Context, db *gorm.DB, username string, unlimited bool, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE quota_accounts SET unlimited = ?, updated_at = ? WHERE username = ?`,
		unlimited,
		now,
		username,
	).Error
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, t *ledgerdomain.Transaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO quota_transactions (
			id, username, amount, transaction_type, resource_type, description,
			balance_before, balance_after, metadata, created_by, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.Username,
		t.Amount,
		string(t.TransactionType),
		nullIfEmpty(t.ResourceType),
		t.Description,
		t.BalanceBefore,
		t.BalanceAfter,
		t.Metadata,
		nullIfEmpty(t.CreatedBy),
		t.CreatedAt,
	).Error
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, username string, limit int) ([]ledgerdomain.Transaction, error) {
	var txns []ledgerdomain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT id, username, amount, transaction_type, resource_type, description,
		        balance_before, balance_after, metadata, created_by, created_at
		 FROM quota_transactions
		 WHERE username = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		username,
		limit,
	).Scan(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

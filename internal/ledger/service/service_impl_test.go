package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/quotameter/internal/clock"
	ledgerdomain "github.com/smallbiznis/quotameter/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/quotameter/internal/ledger/repository"
)

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error

	require.NoError(t, db.Exec(`CREATE TABLE quota_accounts (
		id INTEGER PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		balance INTEGER NOT NULL DEFAULT 0,
		unlimited BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	)`).Error)
	require.NoError(t, db.Exec(`CREATE TABLE quota_transactions (
		id INTEGER PRIMARY KEY,
		username TEXT NOT NULL,
		amount INTEGER NOT NULL,
		transaction_type TEXT NOT NULL,
		resource_type TEXT,
		description TEXT,
		balance_before INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		metadata TEXT,
		created_by TEXT,
		created_at TIMESTAMP
	)`).Error)

	return db
}

func setupLedgerService(t *testing.T) (ledgerdomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	db := openTestDB(t)
	fake := clock.NewFakeClock(time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC))
	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: mustNode(t),
		Clock: fake,
		Repo:  ledgerrepo.Provide(),
	})
	return svc, db, fake
}

func listTxns(t *testing.T, svc ledgerdomain.Service, username string) []ledgerdomain.Transaction {
	t.Helper()
	txns, err := svc.ListTransactions(context.Background(), username, 100)
	require.NoError(t, err)
	return txns
}

func TestEnsureAccountGrantsOnce(t *testing.T) {
	svc, _, _ := setupLedgerService(t)
	ctx := context.Background()

	balance, err := svc.EnsureAccount(ctx, "Alice", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	// Second call must not grant again.
	balance, err = svc.EnsureAccount(ctx, "alice", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	txns := listTxns(t, svc, "alice")
	require.Len(t, txns, 1)
	assert.Equal(t, ledgerdomain.TransactionTypeInitialGrant, txns[0].TransactionType)
	assert.Equal(t, int64(100), txns[0].Amount)
	assert.Equal(t, int64(0), txns[0].BalanceBefore)
	assert.Equal(t, int64(100), txns[0].BalanceAfter)
}

func TestEnsureAccountZeroGrantWritesNoTransaction(t *testing.T) {
	svc, _, _ := setupLedgerService(t)
	ctx := context.Background()

	balance, err := svc.EnsureAccount(ctx, "bob", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
	assert.Empty(t, listTxns(t, svc, "bob"))
}

func TestSetBalanceRecordsDelta(t *testing.T) {
	svc, _, _ := setupLedgerService(t)
	ctx := context.Background()

	_, err := svc.EnsureAccount(ctx, "alice", 100)
	require.NoError(t, err)

	balance, err := svc.SetBalance(ctx, "alice", 40, "admin")
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)

	txns := listTxns(t, svc, "alice")
	require.Len(t, txns, 2)
	set := txns[0]
	assert.Equal(t, ledgerdomain.TransactionTypeSet, set.TransactionType)
	assert.Equal(t, int64(-60), set.Amount)
	assert.Equal(t, int64(100), set.BalanceBefore)
	assert.Equal(t, int64(40), set.BalanceAfter)
	assert.Equal(t, "admin", set.CreatedBy)
}

func TestAddBalanceSignSelectsType(t *testing.T) {
	svc, _, _ := setupLedgerService(t)
	ctx := context.Background()

	_, err := svc.EnsureAccount(ctx, "alice", 10)
	require.NoError(t, err)

	balance, err := svc.AddBalance(ctx, "alice", 5, "admin", "")
	require.NoError(t, err)
	assert.Equal(t, int64(15), balance)

	balance, err = svc.AddBalance(ctx, "alice", -4, "admin", "")
	require.NoError(t, err)
	assert.Equal(t, int64(11), balance)

	txns := listTxns(t, svc, "alice")
	require.Len(t, txns, 3)
	assert.Equal(t, ledgerdomain.TransactionTypeDeduct, txns[0].TransactionType)
	assert.Equal(t, int64(-4), txns[0].Amount)
	assert.Equal(t, ledgerdomain.TransactionTypeAdd, txns[1].TransactionType)
	assert.Equal(t, int64(5), txns[1].Amount)
}

func TestDeductForUsageClampsAtZero(t *testing.T) {
	svc, _, _ := setupLedgerService(t)
	ctx := context.Background()

	_, err := svc.EnsureAccount(ctx, "alice", 3)
	require.NoError(t, err)

	result, err := svc.DeductForUsage(ctx, "alice", 10, "cpu", "")
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, int64(3), result.BalanceBefore)
	assert.Equal(t, int64(0), result.BalanceAfter)

	balance, err := svc.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	txns := listTxns(t, svc, "alice")
	require.Len(t, txns, 2)
	usage := txns[0]
	assert.Equal(t, ledgerdomain.TransactionTypeUsage, usage.TransactionType)
	assert.Equal(t, int64(-3), usage.Amount)
	assert.Equal(t, usage.Amount, usage.BalanceAfter-usage.BalanceBefore)
	assert.Equal(t, "cpu", usage.ResourceType)
}

func TestDeductForUsageUnlimitedBypass(t *testing.T) {
	svc, _, _ := setupLedgerService(t)
	ctx := context.Background()

	_, err := svc.EnsureAccount(ctx, "alice", 50)
	require.NoError(t, err)
	require.NoError(t, svc.SetUnlimited(ctx, "alice", true, "admin"))

	result, err := svc.DeductForUsage(ctx, "alice", 100, "gpu", "")
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, result.BalanceBefore, result.BalanceAfter)

	balance, err := svc.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)
}

func TestDeductForUsageMissingAccount(t *testing.T) {
	svc, _, _ := setupLedgerService(t)

	result, err := svc.DeductForUsage(context.Background(), "ghost", 10, "cpu", "")
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, int64(0), result.BalanceBefore)
	assert.Equal(t, int64(0), result.BalanceAfter)
	assert.Empty(t, listTxns(t, svc, "ghost"))
}

func TestSetUnlimitedAlwaysAudits(t *testing.T) {
	svc, _, _ := setupLedgerService(t)
	ctx := context.Background()

	_, err := svc.EnsureAccount(ctx, "alice", 10)
	require.NoError(t, err)

	require.NoError(t, svc.SetUnlimited(ctx, "alice", true, "admin"))
	require.NoError(t, svc.SetUnlimited(ctx, "alice", true, "admin"))
	require.NoError(t, svc.SetUnlimited(ctx, "alice", false, "admin"))

	unlimited, err := svc.IsUnlimited(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, unlimited)

	txns := listTxns(t, svc, "alice")
	require.Len(t, txns, 4)
	assert.Equal(t, ledgerdomain.TransactionTypeUnsetUnlimited, txns[0].TransactionType)
	assert.Equal(t, ledgerdomain.TransactionTypeSetUnlimited, txns[1].TransactionType)
	assert.Equal(t, ledgerdomain.TransactionTypeSetUnlimited, txns[2].TransactionType)
}

func TestListTransactionsDefaultLimit(t *testing.T) {
	svc, _, _ := setupLedgerService(t)
	ctx := context.Background()

	_, err := svc.EnsureAccount(ctx, "alice", 0)
	require.NoError(t, err)
	for i := 0; i < 60; i++ {
		_, err := svc.AddBalance(ctx, "alice", 1, "seed", "")
		require.NoError(t, err)
	}

	txns, err := svc.ListTransactions(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Len(t, txns, 50)

	// Newest first.
	assert.Equal(t, int64(60), txns[0].BalanceAfter)
}

func TestInvalidUsernameRejected(t *testing.T) {
	svc, _, _ := setupLedgerService(t)
	ctx := context.Background()

	_, err := svc.GetBalance(ctx, "   ")
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidUsername)

	_, err = svc.EnsureAccount(ctx, "", 10)
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidUsername)
}

func TestConcurrentEnsureAccount(t *testing.T) {
	svc, _, _ := setupLedgerService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.EnsureAccount(ctx, "alice", 100)
		}()
	}
	wg.Wait()

	balance, err := svc.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
	assert.Len(t, listTxns(t, svc, "alice"), 1)
}

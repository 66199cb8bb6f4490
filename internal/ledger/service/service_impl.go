package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/quotameter/internal/ledger/domain"
	pkgdb "github.com/smallbiznis/quotameter/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/quotameter/internal/clock"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  ledgerdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  ledgerdomain.Repository
}

func New(p Params) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) GetBalance(ctx context.Context, username string) (int64, error) {
	username = ledgerdomain.NormalizeUsername(username)
	if username == "" {
		return 0, ledgerdomain.ErrInvalidUsername
	}

	account, err := s.repo.FindByUsername(ctx, s.db, username)
	if err != nil {
		return 0, err
	}
	if account == nil {
		return 0, nil
	}
	return account.Balance, nil
}

func (s *Service) EnsureAccount(ctx context.Context, username string, defaultGrant int64) (int64, error) {
	username = ledgerdomain.NormalizeUsername(username)
	if username == "" {
		return 0, ledgerdomain.ErrInvalidUsername
	}
	if defaultGrant < 0 {
		defaultGrant = 0
	}

	var balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.repo.FindByUsername(ctx, tx, username)
		if err != nil {
			return err
		}
		if account != nil {
			balance = account.Balance
			return nil
		}

		now := s.clock.Now()
		if err := s.repo.Insert(ctx, tx, &ledgerdomain.Account{
			ID:        s.genID.Generate(),
			Username:  username,
			Balance:   defaultGrant,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return err
		}

		if defaultGrant > 0 {
			if err := s.repo.InsertTransaction(ctx, tx, &ledgerdomain.Transaction{
				ID:              s.genID.Generate(),
				Username:        username,
				Amount:          defaultGrant,
				TransactionType: ledgerdomain.TransactionTypeInitialGrant,
				Description:     "Default quota for new user",
				BalanceBefore:   0,
				BalanceAfter:    defaultGrant,
				CreatedAt:       now,
			}); err != nil {
				return err
			}
		}

		balance = defaultGrant
		return nil
	})
	if err != nil {
		// Concurrent first reference: the other writer won, read its row.
		if pkgdb.IsDuplicateKeyErr(err) {
			return s.GetBalance(ctx, username)
		}
		return 0, err
	}
	return balance, nil
}

func (s *Service) SetBalance(ctx context.Context, username string, balance int64, actor string) (int64, error) {
	username = ledgerdomain.NormalizeUsername(username)
	if username == "" {
		return 0, ledgerdomain.ErrInvalidUsername
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.repo.LockByUsername(ctx, tx, username)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		var before int64
		if account == nil {
			if err := s.repo.Insert(ctx, tx, &ledgerdomain.Account{
				ID:        s.genID.Generate(),
				Username:  username,
				Balance:   balance,
				CreatedAt: now,
				UpdatedAt: now,
			}); err != nil {
				return err
			}
		} else {
			before = account.Balance
			if err := s.repo.UpdateBalance(ctx, tx, username, balance, now); err != nil {
				return err
			}
		}

		return s.repo.InsertTransaction(ctx, tx, &ledgerdomain.Transaction{
			ID:              s.genID.Generate(),
			Username:        username,
			Amount:          balance - before,
			TransactionType: ledgerdomain.TransactionTypeSet,
			Description:     fmt.Sprintf("Balance set to %d", balance),
			BalanceBefore:   before,
			BalanceAfter:    balance,
			CreatedBy:       actor,
			CreatedAt:       now,
		})
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Service) AddBalance(ctx context.Context, username string, delta int64, actor, description string) (int64, error) {
	username = ledgerdomain.NormalizeUsername(username)
	if username == "" {
		return 0, ledgerdomain.ErrInvalidUsername
	}

	var after int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.repo.LockByUsername(ctx, tx, username)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		var before int64
		if account == nil {
			after = delta
			if err := s.repo.Insert(ctx, tx, &ledgerdomain.Account{
				ID:        s.genID.Generate(),
				Username:  username,
				Balance:   after,
				CreatedAt: now,
				UpdatedAt: now,
			}); err != nil {
				return err
			}
		} else {
			before = account.Balance
			after = before + delta
			if err := s.repo.UpdateBalance(ctx, tx, username, after, now); err != nil {
				return err
			}
		}

		transactionType := ledgerdomain.TransactionTypeAdd
		if delta < 0 {
			transactionType = ledgerdomain.TransactionTypeDeduct
		}
		if description == "" {
			verb := "Added"
			if delta < 0 {
				verb = "Deducted"
			}
			description = fmt.Sprintf("%s %d quota", verb, abs(delta))
		}

		return s.repo.InsertTransaction(ctx, tx, &ledgerdomain.Transaction{
			ID:              s.genID.Generate(),
			Username:        username,
			Amount:          delta,
			TransactionType: transactionType,
			Description:     description,
			BalanceBefore:   before,
			BalanceAfter:    after,
			CreatedBy:       actor,
			CreatedAt:       now,
		})
	})
	if err != nil {
		return 0, err
	}
	return after, nil
}

func (s *Service) DeductForUsage(ctx context.Context, username string, amount int64, resourceType, description string) (ledgerdomain.UsageDeduction, error) {
	var result ledgerdomain.UsageDeduction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.DeductForUsageTx(ctx, tx, username, amount, resourceType, description)
		return err
	})
	return result, err
}

func (s *Service) DeductForUsageTx(ctx context.Context, tx *gorm.DB, username string, amount int64, resourceType, description string) (ledgerdomain.UsageDeduction, error) {
	username = ledgerdomain.NormalizeUsername(username)
	if username == "" {
		return ledgerdomain.UsageDeduction{}, ledgerdomain.ErrInvalidUsername
	}

	account, err := s.repo.LockByUsername(ctx, tx, username)
	if err != nil {
		return ledgerdomain.UsageDeduction{}, err
	}
	if account == nil {
		return ledgerdomain.UsageDeduction{}, nil
	}
	if account.Unlimited {
		return ledgerdomain.UsageDeduction{
			BalanceBefore: account.Balance,
			BalanceAfter:  account.Balance,
		}, nil
	}

	before := account.Balance
	after := before - amount
	if after < 0 {
		after = 0
	}

	now := s.clock.Now()
	if err := s.repo.UpdateBalance(ctx, tx, username, after, now); err != nil {
		return ledgerdomain.UsageDeduction{}, err
	}

	if description == "" {
		description = "Usage deduction"
		if resourceType != "" {
			description = "Usage: " + resourceType
		}
	}

	// The audit amount is the applied delta, so balance_after - balance_before
	// always matches even when the deduction clamps at zero.
	if err := s.repo.InsertTransaction(ctx, tx, &ledgerdomain.Transaction{
		ID:              s.genID.Generate(),
		Username:        username,
		Amount:          after - before,
		TransactionType: ledgerdomain.TransactionTypeUsage,
		ResourceType:    resourceType,
		Description:     description,
		BalanceBefore:   before,
		BalanceAfter:    after,
		CreatedAt:       now,
	}); err != nil {
		return ledgerdomain.UsageDeduction{}, err
	}

	return ledgerdomain.UsageDeduction{
		Applied:       true,
		BalanceBefore: before,
		BalanceAfter:  after,
	}, nil
}

func (s *Service) SetUnlimited(ctx context.Context, username string, unlimited bool, actor string) error {
	username = ledgerdomain.NormalizeUsername(username)
	if username == "" {
		return ledgerdomain.ErrInvalidUsername
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.repo.LockByUsername(ctx, tx, username)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		var balance int64
		if account == nil {
			if err := s.repo.Insert(ctx, tx, &ledgerdomain.Account{
				ID:        s.genID.Generate(),
				Username:  username,
				Unlimited: unlimited,
				CreatedAt: now,
				UpdatedAt: now,
			}); err != nil {
				return err
			}
		} else {
			balance = account.Balance
			if err := s.repo.UpdateUnlimited(ctx, tx, username, unlimited, now); err != nil {
				return err
			}
		}

		// Written even when the flag did not change, to preserve audit intent.
		transactionType := ledgerdomain.TransactionTypeSetUnlimited
		description := "Unlimited enabled"
		if !unlimited {
			transactionType = ledgerdomain.TransactionTypeUnsetUnlimited
			description = "Unlimited disabled"
		}
		return s.repo.InsertTransaction(ctx, tx, &ledgerdomain.Transaction{
			ID:              s.genID.Generate(),
			Username:        username,
			Amount:          0,
			TransactionType: transactionType,
			Description:     description,
			BalanceBefore:   balance,
			BalanceAfter:    balance,
			CreatedBy:       actor,
			CreatedAt:       now,
		})
	})
}

func (s *Service) IsUnlimited(ctx context.Context, username string) (bool, error) {
	account, err := s.GetAccount(ctx, username)
	if err != nil {
		return false, err
	}
	return account != nil && account.Unlimited, nil
}

func (s *Service) GetAccount(ctx context.Context, username string) (*ledgerdomain.Account, error) {
	username = ledgerdomain.NormalizeUsername(username)
	if username == "" {
		return nil, ledgerdomain.ErrInvalidUsername
	}
	return s.repo.FindByUsername(ctx, s.db, username)
}

func (s *Service) ListAccounts(ctx context.Context) ([]ledgerdomain.Account, error) {
	return s.repo.ListAll(ctx, s.db)
}

func (s *Service) ListTransactions(ctx context.Context, username string, limit int) ([]ledgerdomain.Transaction, error) {
	username = ledgerdomain.NormalizeUsername(username)
	if username == "" {
		return nil, ledgerdomain.ErrInvalidUsername
	}
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListTransactions(ctx, s.db, username, limit)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

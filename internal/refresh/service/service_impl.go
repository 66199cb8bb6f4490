package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/quotameter/internal/clock"
	ledgerdomain "github.com/smallbiznis/quotameter/internal/ledger/domain"
	"github.com/smallbiznis/quotameter/internal/lock"
	"github.com/smallbiznis/quotameter/internal/observability/metrics"
	refreshdomain "github.com/smallbiznis/quotameter/internal/refresh/domain"
)

const (
	refreshLockKey = "quotameter:refresh"
	refreshLockTTL = 5 * time.Minute
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    ledgerdomain.Repository
	Locker  *lock.Locker     `optional:"true"`
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    ledgerdomain.Repository
	locker  *lock.Locker
	metrics *metrics.Metrics

	// mu serializes runs within this process when no distributed lock is
	// configured.
	mu sync.Mutex
}

func New(p Params) refreshdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("refresh.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		locker:  p.Locker,
		metrics: p.Metrics,
	}
}

func (s *Service) Run(ctx context.Context, req refreshdomain.Request) (refreshdomain.Result, error) {
	if req.Action == "" {
		req.Action = refreshdomain.ActionAdd
	}
	if req.Action != refreshdomain.ActionAdd && req.Action != refreshdomain.ActionSet {
		return refreshdomain.Result{}, refreshdomain.ErrInvalidAction
	}
	if strings.TrimSpace(req.RuleName) == "" {
		req.RuleName = "manual"
	}

	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, refreshLockKey, refreshLockTTL)
		if err != nil {
			return refreshdomain.Result{}, err
		}
		if !ok {
			return refreshdomain.Result{}, refreshdomain.ErrRefreshBusy
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), refreshLockKey, token); err != nil {
				s.log.Warn("failed to release refresh lock", zap.Error(err))
			}
		}()
	} else {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	accounts, err := s.repo.ListAll(ctx, s.db)
	if err != nil {
		return refreshdomain.Result{}, err
	}

	matcher := newTargetMatcher(req.Targets)
	result := refreshdomain.Result{RuleName: req.RuleName, Action: req.Action}

	for i := range accounts {
		account := accounts[i]
		if !matcher.matches(account.Username, account.Balance, account.Unlimited) {
			result.Skipped++
			continue
		}

		change, err := s.applyToAccount(ctx, req, account.Username)
		if err != nil {
			result.Failed++
			s.log.Error("refresh failed for user",
				zap.String("rule_name", req.RuleName),
				zap.String("username", account.Username),
				zap.Error(err),
			)
			continue
		}
		if change == 0 {
			result.Skipped++
			continue
		}
		result.UsersUpdated++
		result.TotalChange += change
	}

	s.metrics.RecordRefreshUpdated(ctx, req.RuleName, int64(result.UsersUpdated))
	s.log.Info("refresh completed",
		zap.String("rule_name", req.RuleName),
		zap.String("action", req.Action),
		zap.Int("users_updated", result.UsersUpdated),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Int64("total_change", result.TotalChange),
	)
	return result, nil
}

// applyToAccount re-reads the account inside its own transaction, so a
// balance that moved since the population was listed is refreshed from
// its current value rather than a stale snapshot.
func (s *Service) applyToAccount(ctx context.Context, req refreshdomain.Request, username string) (int64, error) {
	var change int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.repo.LockByUsername(ctx, tx, username)
		if err != nil {
			return err
		}
		if account == nil {
			return nil
		}

		current := account.Balance
		newBalance := s.target(req, current)
		if newBalance == current {
			return nil
		}

		now := s.clock.Now()
		if err := s.repo.UpdateBalance(ctx, tx, username, newBalance, now); err != nil {
			return err
		}

		txn := &ledgerdomain.Transaction{
			ID:              s.genID.Generate(),
			Username:        username,
			Amount:          newBalance - current,
			TransactionType: ledgerdomain.TransactionTypeAutoRefresh,
			Description:     fmt.Sprintf("Auto %s: %s", req.Action, req.RuleName),
			BalanceBefore:   current,
			BalanceAfter:    newBalance,
			Metadata: datatypes.JSONMap{
				"rule_name": req.RuleName,
				"action":    req.Action,
			},
			CreatedAt: now,
		}
		if err := s.repo.InsertTransaction(ctx, tx, txn); err != nil {
			return err
		}

		change = newBalance - current
		return nil
	})
	return change, err
}

func (s *Service) target(req refreshdomain.Request, current int64) int64 {
	if req.Action == refreshdomain.ActionSet {
		return req.Amount
	}

	newBalance := current + req.Amount
	if req.Amount > 0 && req.MaxBalance != nil && newBalance > *req.MaxBalance {
		newBalance = *req.MaxBalance
	}
	if req.Amount < 0 {
		floor := int64(0)
		if req.MinBalance != nil {
			floor = *req.MinBalance
		}
		if newBalance < floor {
			newBalance = floor
		}
	}
	return newBalance
}

type targetMatcher struct {
	targets      refreshdomain.Targets
	includeUsers map[string]struct{}
	excludeUsers map[string]struct{}
	pattern      *regexp.Regexp
	badPattern   bool
}

func newTargetMatcher(targets refreshdomain.Targets) *targetMatcher {
	m := &targetMatcher{targets: targets}
	if len(targets.IncludeUsers) > 0 {
		m.includeUsers = make(map[string]struct{}, len(targets.IncludeUsers))
		for _, u := range targets.IncludeUsers {
			m.includeUsers[ledgerdomain.NormalizeUsername(u)] = struct{}{}
		}
	}
	if len(targets.ExcludeUsers) > 0 {
		m.excludeUsers = make(map[string]struct{}, len(targets.ExcludeUsers))
		for _, u := range targets.ExcludeUsers {
			m.excludeUsers[ledgerdomain.NormalizeUsername(u)] = struct{}{}
		}
	}
	if targets.UsernamePattern != "" {
		// Anchored at the start, matching the prefix-match semantics that
		// refresh rules were written against.
		re, err := regexp.Compile("(?i)^(?:" + targets.UsernamePattern + ")")
		if err != nil {
			m.badPattern = true
		} else {
			m.pattern = re
		}
	}
	return m
}

func (m *targetMatcher) matches(username string, balance int64, unlimited bool) bool {
	if unlimited && !m.targets.IncludeUnlimited {
		return false
	}
	if m.targets.BalanceBelow != nil && balance >= *m.targets.BalanceBelow {
		return false
	}
	if m.targets.BalanceAbove != nil && balance <= *m.targets.BalanceAbove {
		return false
	}
	if m.includeUsers != nil {
		if _, ok := m.includeUsers[username]; !ok {
			return false
		}
	}
	if _, ok := m.excludeUsers[username]; ok {
		return false
	}
	if m.badPattern {
		return false
	}
	if m.pattern != nil && !m.pattern.MatchString(username) {
		return false
	}
	return true
}

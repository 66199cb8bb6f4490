package service

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/quotameter/internal/config"
	gatedomain "github.com/smallbiznis/quotameter/internal/gate/domain"
	ledgerdomain "github.com/smallbiznis/quotameter/internal/ledger/domain"
	"github.com/smallbiznis/quotameter/internal/observability/metrics"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Holder  *config.QuotaConfigHolder
	Ledger  ledgerdomain.Service
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	holder  *config.QuotaConfigHolder
	ledger  ledgerdomain.Service
	metrics *metrics.Metrics
}

func New(p Params) gatedomain.Service {
	return &Service{
		log:     p.Log.Named("gate.service"),
		holder:  p.Holder,
		ledger:  p.Ledger,
		metrics: p.Metrics,
	}
}

func (s *Service) CanStart(ctx context.Context, username, resourceType string, requestedMinutes int64) (gatedomain.Decision, error) {
	username = ledgerdomain.NormalizeUsername(username)
	if username == "" {
		return gatedomain.Decision{}, ledgerdomain.ErrInvalidUsername
	}
	if requestedMinutes < 1 {
		requestedMinutes = 1
	}

	quotaCfg := s.holder.Get()
	if _, err := s.ledger.EnsureAccount(ctx, username, quotaCfg.DefaultGrant); err != nil {
		return gatedomain.Decision{}, err
	}
	account, err := s.ledger.GetAccount(ctx, username)
	if err != nil {
		return gatedomain.Decision{}, err
	}
	if account == nil {
		return gatedomain.Decision{}, ledgerdomain.ErrNotFound
	}

	var decision gatedomain.Decision
	if account.Unlimited {
		decision = gatedomain.Decision{Allowed: true, Message: "Unlimited quota"}
	} else {
		decision = s.decide(resourceType, requestedMinutes, account.Balance, quotaCfg)
	}

	s.metrics.RecordGateDecision(ctx, resourceType, decision.Allowed)
	if !decision.Allowed {
		s.log.Info("usage denied",
			zap.String("username", username),
			zap.String("resource_type", resourceType),
			zap.Int64("requested_minutes", requestedMinutes),
			zap.Int64("balance", account.Balance),
		)
	}
	return decision, nil
}

func (s *Service) decide(resourceType string, requestedMinutes, balance int64, quotaCfg config.QuotaConfig) gatedomain.Decision {
	rate := quotaCfg.Rates.Rate(resourceType)
	cost := requestedMinutes * rate

	if balance <= 0 {
		return gatedomain.Decision{
			Allowed:       false,
			Message:       fmt.Sprintf("Insufficient quota (balance: %d)", balance),
			EstimatedCost: cost,
		}
	}
	if balance < cost {
		var maxMinutes int64
		if rate > 0 {
			maxMinutes = balance / rate
		}
		return gatedomain.Decision{
			Allowed:       false,
			Message:       fmt.Sprintf("Insufficient quota for %d min (balance: %d, need: %d, max: %d min)", requestedMinutes, balance, cost, maxMinutes),
			EstimatedCost: cost,
			MaxMinutes:    maxMinutes,
		}
	}
	return gatedomain.Decision{
		Allowed:       true,
		Message:       fmt.Sprintf("OK (balance: %d, cost: %d)", balance, cost),
		EstimatedCost: cost,
	}
}

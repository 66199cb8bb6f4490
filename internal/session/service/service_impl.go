package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/quotameter/internal/clock"
	"github.com/smallbiznis/quotameter/internal/config"
	ledgerdomain "github.com/smallbiznis/quotameter/internal/ledger/domain"
	"github.com/smallbiznis/quotameter/internal/observability/metrics"
	sessiondomain "github.com/smallbiznis/quotameter/internal/session/domain"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Holder  *config.QuotaConfigHolder
	Repo    sessiondomain.Repository
	Ledger  ledgerdomain.Service
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	holder  *config.QuotaConfigHolder
	repo    sessiondomain.Repository
	ledger  ledgerdomain.Service
	metrics *metrics.Metrics
}

func New(p Params) sessiondomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("session.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		holder:  p.Holder,
		repo:    p.Repo,
		ledger:  p.Ledger,
		metrics: p.Metrics,
	}
}

func (s *Service) StartSession(ctx context.Context, username, resourceType string) (*sessiondomain.UsageSession, error) {
	username = ledgerdomain.NormalizeUsername(username)
	if username == "" {
		return nil, sessiondomain.ErrInvalidUsername
	}
	if resourceType == "" {
		return nil, sessiondomain.ErrInvalidResourceType
	}

	now := s.clock.Now()
	session := &sessiondomain.UsageSession{
		ID:           s.genID.Generate(),
		Username:     username,
		ResourceType: resourceType,
		StartTime:    now,
		Status:       sessiondomain.SessionActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Insert(ctx, s.db, session); err != nil {
		return nil, err
	}

	s.metrics.RecordSessionStarted(ctx, resourceType)
	s.log.Info("session started",
		zap.String("username", username),
		zap.String("resource_type", resourceType),
		zap.String("session_id", session.ID.String()),
	)
	return session, nil
}

func (s *Service) EndSession(ctx context.Context, id snowflake.ID) (*sessiondomain.SessionClose, error) {
	var result sessiondomain.SessionClose
	var resourceType string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if session == nil || session.Status != sessiondomain.SessionActive {
			// Unknown id, or already closed by a concurrent caller or
			// the reclaimer.
			return nil
		}

		now := s.clock.Now()
		minutes := int64(now.Sub(session.StartTime).Minutes())
		if minutes < 1 {
			minutes = 1
		}
		rate := s.holder.Get().Rates.Rate(session.ResourceType)
		cost := minutes * rate

		won, err := s.repo.Close(ctx, tx, session.ID, sessiondomain.SessionCompleted, now, minutes, cost)
		if err != nil {
			return err
		}
		if !won {
			return nil
		}

		if cost > 0 {
			description := fmt.Sprintf("Session %s: %d min @ %d/min", session.ID, minutes, rate)
			if _, err := s.ledger.DeductForUsageTx(ctx, tx, session.Username, cost, session.ResourceType, description); err != nil {
				return err
			}
		}

		result = sessiondomain.SessionClose{DurationMinutes: minutes, QuotaConsumed: cost}
		resourceType = session.ResourceType
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.DurationMinutes > 0 {
		s.metrics.RecordSessionCompleted(ctx, resourceType, result.QuotaConsumed)
		s.log.Info("session completed",
			zap.String("session_id", id.String()),
			zap.Int64("duration_minutes", result.DurationMinutes),
			zap.Int64("quota_consumed", result.QuotaConsumed),
		)
	}
	return &result, nil
}

func (s *Service) ActiveSessions(ctx context.Context, username string) ([]sessiondomain.UsageSession, error) {
	username = ledgerdomain.NormalizeUsername(username)
	if username == "" {
		return nil, sessiondomain.ErrInvalidUsername
	}
	return s.repo.FindActiveByUsername(ctx, s.db, username)
}

func (s *Service) CountActive(ctx context.Context, username string) (int64, error) {
	username = ledgerdomain.NormalizeUsername(username)
	if username == "" {
		return 0, sessiondomain.ErrInvalidUsername
	}
	return s.repo.CountActive(ctx, s.db, username)
}

// Reclaim sweeps sessions that outlived maxDurationMinutes. The swept
// sessions are closed without billing so that abandoned servers never
// drain a balance, and each row is handled independently so one bad row
// cannot stall the sweep.
func (s *Service) Reclaim(ctx context.Context, maxDurationMinutes int64) ([]sessiondomain.ReclaimedSession, error) {
	if maxDurationMinutes <= 0 {
		maxDurationMinutes = int64(config.DefaultQuotaConfig().StaleSessionMinutes)
	}

	now := s.clock.Now()
	cutoff := now.Add(-time.Duration(maxDurationMinutes) * time.Minute)

	stale, err := s.repo.ListStale(ctx, s.db, cutoff)
	if err != nil {
		return nil, err
	}

	reclaimed := make([]sessiondomain.ReclaimedSession, 0, len(stale))
	for i := range stale {
		session := stale[i]

		minutes := int64(now.Sub(session.StartTime).Minutes())
		if minutes > maxDurationMinutes {
			minutes = maxDurationMinutes
		}
		if minutes < 1 {
			minutes = 1
		}

		won, err := s.repo.Close(ctx, s.db, session.ID, sessiondomain.SessionCleanedUp, now, minutes, 0)
		if err != nil {
			s.log.Error("failed to reclaim session",
				zap.String("session_id", session.ID.String()),
				zap.String("username", session.Username),
				zap.Error(err),
			)
			continue
		}
		if !won {
			continue
		}

		s.metrics.RecordSessionReclaimed(ctx, session.ResourceType)
		reclaimed = append(reclaimed, sessiondomain.ReclaimedSession{
			SessionID:       session.ID,
			Username:        session.Username,
			ResourceType:    session.ResourceType,
			DurationMinutes: minutes,
		})
	}

	if len(reclaimed) > 0 {
		s.log.Info("reclaimed stale sessions", zap.Int("count", len(reclaimed)))
	}
	return reclaimed, nil
}

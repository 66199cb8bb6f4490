package reclaim

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/quotameter/internal/clock"
	"github.com/smallbiznis/quotameter/internal/config"
	sessiondomain "github.com/smallbiznis/quotameter/internal/session/domain"
)

var ErrInvalidConfig = errors.New("reclaimer requires session service, holder, clock and logger")

type Params struct {
	fx.In

	Log     *zap.Logger
	Clock   clock.Clock
	Holder  *config.QuotaConfigHolder
	Session sessiondomain.Service
}

// Reclaimer periodically sweeps stale usage sessions.
type Reclaimer struct {
	log     *zap.Logger
	clock   clock.Clock
	holder  *config.QuotaConfigHolder
	session sessiondomain.Service
}

func New(p Params) (*Reclaimer, error) {
	if p.Log == nil || p.Clock == nil || p.Holder == nil || p.Session == nil {
		return nil, ErrInvalidConfig
	}
	return &Reclaimer{
		log:     p.Log.Named("reclaimer"),
		clock:   p.Clock,
		holder:  p.Holder,
		session: p.Session,
	}, nil
}

func (r *Reclaimer) RunOnce(ctx context.Context) error {
	quotaCfg := r.holder.Get()
	reclaimed, err := r.session.Reclaim(ctx, int64(quotaCfg.StaleSessionMinutes))
	if err != nil {
		return err
	}
	for _, s := range reclaimed {
		r.log.Info("reclaimed stale session",
			zap.String("session_id", s.SessionID.String()),
			zap.String("username", s.Username),
			zap.String("resource_type", s.ResourceType),
			zap.Int64("duration_minutes", s.DurationMinutes),
		)
	}
	return nil
}

// RunForever sweeps once at startup, then on every tick. The interval is
// re-read each cycle so a hot-reloaded config takes effect without a
// restart.
func (r *Reclaimer) RunForever(ctx context.Context) {
	for {
		if err := r.RunOnce(ctx); err != nil {
			r.log.Warn("reclaim sweep failed", zap.Error(err))
		}

		interval := r.holder.Get().ReclaimEvery()
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

var Module = fx.Module("reclaim",
	fx.Provide(New),
	fx.Invoke(registerReclaimer),
)

func registerReclaimer(lc fx.Lifecycle, r *Reclaimer) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go r.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}

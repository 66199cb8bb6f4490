package lock

import (
	"strings"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/quotameter/internal/config"
)

// provideLocker returns a nil Locker when redis is not configured, which
// downstream callers treat as "lock always unavailable, fall back to
// process-local serialization".
func provideLocker(cfg config.Config, log *zap.Logger) *Locker {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		log.Info("redis not configured, distributed locking disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})
	log.Info("distributed locking enabled", zap.String("addr", addr))
	return NewLocker(client)
}

var Module = fx.Module("lock",
	fx.Provide(provideLocker),
)

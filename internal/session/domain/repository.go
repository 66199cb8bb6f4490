package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists usage sessions. Implementations are stateless and
// operate on the handle they are given, which may be a transaction.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, session *UsageSession) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*UsageSession, error)
	FindActiveByUsername(ctx context.Context, db *gorm.DB, username string) ([]UsageSession, error)
	CountActive(ctx context.Context, db *gorm.DB, username string) (int64, error)

	// Close transitions a session out of the active state. It reports
	// whether this call won the transition; a false return means another
	// writer closed the session first.
	Close(ctx context.Context, db *gorm.DB, id snowflake.ID, to SessionStatus, endTime time.Time, durationMinutes, quotaConsumed int64) (bool, error)

	// ListStale returns active sessions that started at or before cutoff.
	ListStale(ctx context.Context, db *gorm.DB, cutoff time.Time) ([]UsageSession, error)
}

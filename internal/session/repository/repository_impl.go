package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/quotameter/internal/session/domain"
)

type repo struct{}

// Provide builds the session repository.
func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, session *domain.UsageSession) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_sessions (id, username, resource_type, start_time, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.Username, session.ResourceType, session.StartTime,
		session.Status, session.CreatedAt, session.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.UsageSession, error) {
	var session domain.UsageSession
	err := db.WithContext(ctx).
		Raw(`SELECT * FROM usage_sessions WHERE id = ?`, id).
		Scan(&session).Error
	if err != nil {
		return nil, err
	}
	if session.ID == 0 {
		return nil, nil
	}
	return &session, nil
}

func (r *repo) FindActiveByUsername(ctx context.Context, db *gorm.DB, username string) ([]domain.UsageSession, error) {
	var sessions []domain.UsageSession
	err := db.WithContext(ctx).
		Raw(`SELECT * FROM usage_sessions WHERE username = ? AND status = ? ORDER BY start_time ASC`,
			username, domain.SessionActive).
		Scan(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *repo) CountActive(ctx context.Context, db *gorm.DB, username string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Raw(`SELECT COUNT(*) FROM usage_sessions WHERE username = ? AND status = ?`,
			username, domain.SessionActive).
		Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Close uses a status-conditioned update so that concurrent closers and
// the reclaimer cannot both finalize the same session.
func (r *repo) Close(ctx context.Context, db *gorm.DB, id snowflake.ID, to domain.SessionStatus, endTime time.Time, durationMinutes, quotaConsumed int64) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE usage_sessions
		 SET status = ?, end_time = ?, duration_minutes = ?, quota_consumed = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to, endTime, durationMinutes, quotaConsumed, endTime, id, domain.SessionActive,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ListStale(ctx context.Context, db *gorm.DB, cutoff time.Time) ([]domain.UsageSession, error) {
	var sessions []domain.UsageSession
	err := db.WithContext(ctx).
		Raw(`SELECT * FROM usage_sessions WHERE status = ? AND start_time <= ? ORDER BY start_time ASC`,
			domain.SessionActive, cutoff).
		Scan(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

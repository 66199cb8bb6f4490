package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	// ErrInvalidUsername rejects empty or whitespace-only usernames.
	ErrInvalidUsername = errors.New("invalid_username")
	// ErrInvalidResourceType rejects empty resource types.
	ErrInvalidResourceType = errors.New("invalid_resource_type")
)

// SessionClose is the outcome of ending a session.
type SessionClose struct {
	DurationMinutes int64 `json:"duration_minutes"`
	QuotaConsumed   int64 `json:"quota_consumed"`
}

// ReclaimedSession describes one stale session swept by the reclaimer.
type ReclaimedSession struct {
	SessionID       snowflake.ID `json:"session_id,string"`
	Username        string       `json:"username"`
	ResourceType    string       `json:"resource_type"`
	DurationMinutes int64        `json:"duration_minutes"`
}

// Service meters usage sessions against the quota ledger.
type Service interface {
	// StartSession opens a new active session for the user.
	StartSession(ctx context.Context, username, resourceType string) (*UsageSession, error)

	// EndSession closes the session, bills at least one minute of usage,
	// and deducts the cost from the user's balance in the same
	// transaction. Ending an unknown or already-closed session is a
	// no-op that returns a zero-valued close.
	EndSession(ctx context.Context, id snowflake.ID) (*SessionClose, error)

	// ActiveSessions lists the user's open sessions.
	ActiveSessions(ctx context.Context, username string) ([]UsageSession, error)

	// CountActive counts the user's open sessions.
	CountActive(ctx context.Context, username string) (int64, error)

	// Reclaim closes sessions that have been active longer than
	// maxDurationMinutes without charging the user.
	Reclaim(ctx context.Context, maxDurationMinutes int64) ([]ReclaimedSession, error)
}

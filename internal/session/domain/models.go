package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SessionStatus is the lifecycle state of a usage session.
type SessionStatus string

const (
	// SessionActive is an open, metering session.
	SessionActive SessionStatus = "active"
	// SessionCompleted is a session closed normally by its owner.
	SessionCompleted SessionStatus = "completed"
	// SessionCleanedUp is a stale session closed by the reclaimer.
	SessionCleanedUp SessionStatus = "cleaned_up"
)

// UsageSession meters one interval of resource usage for a user.
type UsageSession struct {
	ID              snowflake.ID  `json:"id,string" gorm:"primaryKey"`
	Username        string        `json:"username" gorm:"index:idx_usage_sessions_username_status"`
	ResourceType    string        `json:"resource_type"`
	StartTime       time.Time     `json:"start_time"`
	EndTime         *time.Time    `json:"end_time,omitempty"`
	DurationMinutes *int64        `json:"duration_minutes,omitempty"`
	QuotaConsumed   *int64        `json:"quota_consumed,omitempty"`
	Status          SessionStatus `json:"status" gorm:"index:idx_usage_sessions_username_status;default:active"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (UsageSession) TableName() string {
	return "usage_sessions"
}

// Package domain contains the balance ledger and its audit log models.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Account is one user's credit balance. Usernames are case-insensitive and
// stored lowercase.
type Account struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Username  string       `json:"username" gorm:"type:text;not null;uniqueIndex:ux_quota_accounts_username"`
	Balance   int64        `json:"balance" gorm:"not null;default:0"`
	Unlimited bool         `json:"unlimited" gorm:"not null;default:false"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "quota_accounts" }

type TransactionType string

const (
	TransactionTypeInitialGrant   TransactionType = "initial_grant"
	TransactionTypeAdd            TransactionType = "add"
	TransactionTypeDeduct         TransactionType = "deduct"
	TransactionTypeSet            TransactionType = "set"
	TransactionTypeUsage          TransactionType = "usage"
	TransactionTypeSetUnlimited   TransactionType = "set_unlimited"
	TransactionTypeUnsetUnlimited TransactionType = "unset_unlimited"
	TransactionTypeAutoRefresh    TransactionType = "auto_refresh"
)

// Transaction is one immutable audit row. Exactly one is written in the same
// unit of work as every Account mutation.
type Transaction struct {
	ID              snowflake.ID      `json:"id" gorm:"primaryKey"`
	Username        string            `json:"username" gorm:"type:text;not null;index:idx_quota_transactions_username"`
	Amount          int64             `json:"amount" gorm:"not null"`
	TransactionType TransactionType   `json:"transaction_type" gorm:"type:text;not null"`
	ResourceType    string            `json:"resource_type,omitempty" gorm:"type:text"`
	Description     string            `json:"description" gorm:"type:text"`
	BalanceBefore   int64             `json:"balance_before" gorm:"not null"`
	BalanceAfter    int64             `json:"balance_after" gorm:"not null"`
	Metadata        datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedBy       string            `json:"created_by,omitempty" gorm:"type:text"`
	CreatedAt       time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_quota_transactions_created_at"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "quota_transactions" }

// NormalizeUsername lowercases and trims a username key.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

package domain

import (
	"context"
	"errors"
)

const (
	// ActionAdd adds the amount to each matched balance.
	ActionAdd = "add"
	// ActionSet overwrites each matched balance with the amount.
	ActionSet = "set"
)

var (
	// ErrInvalidAction rejects actions other than add and set.
	ErrInvalidAction = errors.New("invalid_action")
	// ErrRefreshBusy means another runner holds the refresh lock.
	ErrRefreshBusy = errors.New("refresh_busy")
)

// Targets selects which accounts a refresh rule applies to. All set
// criteria must match; an empty Targets matches every limited account.
type Targets struct {
	// IncludeUnlimited also matches accounts with the unlimited flag.
	IncludeUnlimited bool `json:"includeUnlimited,omitempty"`
	// BalanceBelow matches balances strictly below the value.
	BalanceBelow *int64 `json:"balanceBelow,omitempty"`
	// BalanceAbove matches balances strictly above the value.
	BalanceAbove *int64 `json:"balanceAbove,omitempty"`
	// IncludeUsers restricts matching to these usernames.
	IncludeUsers []string `json:"includeUsers,omitempty"`
	// ExcludeUsers never match.
	ExcludeUsers []string `json:"excludeUsers,omitempty"`
	// UsernamePattern is a case-insensitive regular expression anchored at
	// the start of the username. A malformed pattern matches nothing.
	UsernamePattern string `json:"usernamePattern,omitempty"`
}

// Request describes one batch refresh run.
type Request struct {
	RuleName string `json:"rule_name"`
	Action   string `json:"action"`
	Amount   int64  `json:"amount"`
	// MaxBalance caps the result when adding a positive amount.
	MaxBalance *int64 `json:"max_balance,omitempty"`
	// MinBalance floors the result when adding a negative amount.
	// Defaults to zero.
	MinBalance *int64  `json:"min_balance,omitempty"`
	Targets    Targets `json:"targets"`
}

// Result summarizes a refresh run.
type Result struct {
	RuleName     string `json:"rule_name"`
	Action       string `json:"action"`
	UsersUpdated int    `json:"users_updated"`
	Skipped      int    `json:"skipped"`
	Failed       int    `json:"failed"`
	TotalChange  int64  `json:"total_change"`
}

// Service applies refresh rules across the account population.
type Service interface {
	Run(ctx context.Context, req Request) (Result, error)
}

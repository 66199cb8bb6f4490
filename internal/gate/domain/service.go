package domain

import "context"

// Decision is the outcome of a quota admission check.
type Decision struct {
	Allowed bool `json:"allowed"`
	// Message is a human-readable explanation meant to be surfaced to the
	// user who asked to start the resource.
	Message string `json:"message"`
	// EstimatedCost is requestedMinutes times the resource rate. Zero for
	// unlimited accounts; nothing is deducted either way.
	EstimatedCost int64 `json:"estimated_cost"`
	// MaxMinutes is how long the user could run at the current balance.
	// Zero when the check passes outright or the user is unlimited.
	MaxMinutes int64 `json:"max_minutes,omitempty"`
}

// Service decides whether a user may start metered resource usage.
type Service interface {
	// CanStart checks whether the user's balance covers the requested
	// minutes of usage. It creates the account with the default grant on
	// first contact.
	CanStart(ctx context.Context, username, resourceType string, requestedMinutes int64) (Decision, error)
}

// Package presence records whether a user is connected and when they were
// last seen.
package presence

import (
	"context"
	"time"
)

type Status struct {
	UserId   string    `json:"userId"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen,omitempty"`
}

type Store interface {
	SetOnline(ctx context.Context, userId string) error
	// SetOffline marks the user offline. lastSeen never moves backwards.
	SetOffline(ctx context.Context, userId string, lastSeen time.Time) error
	Get(ctx context.Context, userId string) (Status, error)
}

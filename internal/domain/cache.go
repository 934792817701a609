package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
type Cache interface {
	// Get retrieves a value from cache. Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetUserStats retrieves cached per-user history statistics.
	GetUserStats(ctx context.Context, userID string) (*UserStats, error)

	// SetUserStats caches per-user history statistics.
	SetUserStats(ctx context.Context, userID string, stats *UserStats, ttl time.Duration) error

	// IncrementCounter atomically increments a windowed counter and
	// returns the new value. Used for alert burst tracking.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// UserStats is the cached summary of a user's transaction history.
type UserStats struct {
	UserID           string    `json:"userId"`
	TransactionCount int       `json:"txCount"`
	MeanAmount       float64   `json:"meanAmount"`
	StdAmount        float64   `json:"stdAmount"`
	AvgDailySpend    float64   `json:"avgDailySpend"`
	LastSeen         time.Time `json:"lastSeen"`
}

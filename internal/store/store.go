// Package store provides the durable audit trail of review activity.
//
// Review sessions themselves live in memory; this package only records what
// happened to them so decisions can be traced after a session is gone.
package store

import (
	"context"
	"time"

	"github.com/ashureev/debias-review/internal/domain"
)

// SessionAudit is the latest recorded state of one review session.
type SessionAudit struct {
	SessionID   string
	Status      domain.SessionStatus
	Stats       domain.Stats
	StartedAt   time.Time
	UpdatedAt   time.Time
	FinalizedAt *time.Time
	Closed      bool
}

// Reviewer is a device that has interacted with the service.
type Reviewer struct {
	ReviewerID  string
	DisplayName string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
}

// Repository defines the interface for persisting review activity.
type Repository interface {
	// Record appends an event and updates the session summary.
	Record(ctx context.Context, ev domain.ReviewEvent) error

	// SessionEvents returns the events of a session in the order recorded.
	SessionEvents(ctx context.Context, sessionID string) ([]domain.ReviewEvent, error)

	// GetSessionAudit returns the summary of a session, or nil if none was recorded.
	GetSessionAudit(ctx context.Context, sessionID string) (*SessionAudit, error)

	// TouchReviewer creates or refreshes a reviewer record.
	TouchReviewer(ctx context.Context, reviewerID, displayName string) error

	// GetReviewer retrieves a reviewer, or nil if unknown.
	GetReviewer(ctx context.Context, reviewerID string) (*Reviewer, error)

	// PruneEvents removes events older than the given age and returns the count.
	PruneEvents(ctx context.Context, olderThan time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

package tracking

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	ErrInvalidTransition      = errors.New("invalid state transition")
	ErrNotAuthorized          = errors.New("not authorized")
	ErrNotFound               = errors.New("session not found")
)

// Gateway is the durable store for session records and per-user totals.
// Implementations report a missing session as ErrNotFound.
type Gateway interface {
	CreateSession(ctx context.Context, userID string, startTime time.Time) (string, error)
	UpdateSession(ctx context.Context, sessionID string, patch SessionPatch) error
	FinalizeSession(ctx context.Context, rec SessionRecord) error
	DeleteSession(ctx context.Context, sessionID string) error
	GetSession(ctx context.Context, sessionID string) (SessionRecord, error)
	// SessionHistory lists completed sessions, most recent first.
	SessionHistory(ctx context.Context, userID string, limit int) ([]SessionRecord, error)
	// UpdateUserAggregate applies delta as one atomic read-modify-write.
	UpdateUserAggregate(ctx context.Context, userID string, delta AggregateDelta) (UserAggregate, error)
	UserAggregate(ctx context.Context, userID string) (UserAggregate, error)
}

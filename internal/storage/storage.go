package storage

import (
	"context"
	"errors"
	"fmt"

	"bazibot/internal/models"
)

var (
	// ErrNotFound is returned when a profile or session does not exist
	ErrNotFound = errors.New("not found")
	// ErrUnavailable marks retryable storage-layer failures
	ErrUnavailable = errors.New("storage unavailable")
)

// OpError wraps a backend failure with the operation that hit it
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Is makes every OpError match ErrUnavailable
func (e *OpError) Is(target error) bool {
	return target == ErrUnavailable
}

// Unavailable wraps err as a retryable storage error.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}

// ProfileStore persists user profiles
type ProfileStore interface {
	// UpsertProfile inserts the profile if absent, otherwise merges the supplied fields
	// and refreshes UpdatedAt
	UpsertProfile(ctx context.Context, userID int64, update models.ProfileUpdate) error
	GetProfile(ctx context.Context, userID int64) (*models.UserProfile, error)
}

// SessionStore persists the onboarding step of each user
type SessionStore interface {
	// SaveSession replaces any existing session for the user
	SaveSession(ctx context.Context, userID int64, step models.Step, data map[string]string) error
	LoadSession(ctx context.Context, userID int64) (*models.Session, error)
	// ClearSession removes the session; clearing an absent session is not an error
	ClearSession(ctx context.Context, userID int64) error
}

// Storage defines the interface for data storage operations
type Storage interface {
	ProfileStore
	SessionStore

	// Commit applies all persisted side effects of one transition, profile
	// first and session second. Postgres and the in-memory store apply them
	// atomically. ClickHouse has no multi-table transactions: a failure after
	// the profile write leaves the session unchanged, and because the profile
	// write is a merge, retrying the same step is idempotent.
	Commit(ctx context.Context, userID int64, change models.Change) error

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}

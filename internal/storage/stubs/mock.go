package stubs

import (
	"context"
	"sync"
	"time"

	"bazibot/internal/models"
	"bazibot/internal/storage"
)

// MockDB is an in-memory implementation of the Storage interface for testing
// and local runs
type MockDB struct {
	mu       sync.RWMutex
	profiles map[int64]models.UserProfile
	sessions map[int64]models.Session
	now      func() time.Time

	// FailWith, when set, is returned (wrapped as a storage error) by every write
	FailWith error
}

// NewMockDB creates a new mock database
func NewMockDB() *MockDB {
	return &MockDB{
		profiles: make(map[int64]models.UserProfile),
		sessions: make(map[int64]models.Session),
		now:      time.Now,
	}
}

// SetClock replaces the time source, for tests that compare timestamps
func (m *MockDB) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Initialize does nothing for mock DB
func (m *MockDB) Initialize(ctx context.Context) error {
	return nil
}

// UpsertProfile inserts or merges a profile
func (m *MockDB) UpsertProfile(ctx context.Context, userID int64, update models.ProfileUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return storage.Unavailable("upsert profile", m.FailWith)
	}
	m.upsertProfileLocked(userID, update)
	return nil
}

func (m *MockDB) upsertProfileLocked(userID int64, update models.ProfileUpdate) {
	now := m.now()
	profile, exists := m.profiles[userID]
	if !exists {
		profile = models.UserProfile{UserID: userID, CreatedAt: now}
	}
	update.Apply(&profile)
	profile.UpdatedAt = now
	m.profiles[userID] = profile
}

// GetProfile returns a copy of the stored profile
func (m *MockDB) GetProfile(ctx context.Context, userID int64) (*models.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	profile, ok := m.profiles[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if profile.Chart != nil {
		chart := *profile.Chart
		profile.Chart = &chart
	}
	return &profile, nil
}

// SaveSession replaces the user's session
func (m *MockDB) SaveSession(ctx context.Context, userID int64, step models.Step, data map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return storage.Unavailable("save session", m.FailWith)
	}
	m.saveSessionLocked(userID, step, data)
	return nil
}

func (m *MockDB) saveSessionLocked(userID int64, step models.Step, data map[string]string) {
	m.sessions[userID] = models.Session{
		UserID:    userID,
		Step:      step,
		Data:      models.CloneData(data),
		UpdatedAt: m.now(),
	}
}

// LoadSession returns a copy of the user's session
func (m *MockDB) LoadSession(ctx context.Context, userID int64) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	session.Data = models.CloneData(session.Data)
	return &session, nil
}

// ClearSession removes the user's session
func (m *MockDB) ClearSession(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return storage.Unavailable("clear session", m.FailWith)
	}
	delete(m.sessions, userID)
	return nil
}

// Commit applies a transition's changes under a single lock
func (m *MockDB) Commit(ctx context.Context, userID int64, change models.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return storage.Unavailable("commit", m.FailWith)
	}
	if change.Profile != nil {
		m.upsertProfileLocked(userID, *change.Profile)
	}
	switch {
	case change.ClearSession:
		delete(m.sessions, userID)
	case change.Session != nil:
		m.saveSessionLocked(userID, change.Session.Step, change.Session.Data)
	}
	return nil
}

// ProfileCount returns the number of stored profiles
func (m *MockDB) ProfileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.profiles)
}

// Close does nothing for mock DB
func (m *MockDB) Close() error {
	return nil
}

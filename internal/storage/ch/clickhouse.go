package ch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"bazibot/internal/models"
	"bazibot/internal/storage"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ClickHouseDB stores profiles and sessions in ReplacingMergeTree tables.
// Every write inserts a new row version; reads use FINAL to see the latest one.
type ClickHouseDB struct {
	conn clickhouse.Conn

	// mu serializes read-merge-insert cycles so versions stay monotonic
	mu  sync.Mutex
	now func() time.Time
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(host string, port int, database, user, password string, useTLS bool) (*ClickHouseDB, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	options := &clickhouse.Options{
		Addr:     []string{addr},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
		DialTimeout: 10 * time.Second,
	}

	if useTLS {
		options.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn, now: time.Now}, nil
}

// Initialize checks connectivity; tables are managed via migrations
func (db *ClickHouseDB) Initialize(ctx context.Context) error {
	return storage.Unavailable("ping", db.conn.Ping(ctx))
}

const profileColumns = `user_id, username, display_name, contact_name, contact_email, contact_phone,
	birth_date, birth_time, birth_city, chart, created_at, updated_at`

// UpsertProfile merges the update into the latest profile version
func (db *ClickHouseDB) UpsertProfile(ctx context.Context, userID int64, update models.ProfileUpdate) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.upsertProfileLocked(ctx, userID, update)
}

func (db *ClickHouseDB) upsertProfileLocked(ctx context.Context, userID int64, update models.ProfileUpdate) error {
	profile, err := db.getProfile(ctx, userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		profile = &models.UserProfile{UserID: userID}
	case err != nil:
		return err
	}

	version := db.nextVersion(profile.UpdatedAt)
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = version
	}
	update.Apply(profile)
	profile.UpdatedAt = version

	chart := ""
	if profile.Chart != nil {
		raw, err := models.MarshalChart(*profile.Chart)
		if err != nil {
			return fmt.Errorf("failed to encode chart: %w", err)
		}
		chart = string(raw)
	}

	batch, err := db.conn.PrepareBatch(ctx, `INSERT INTO user_profiles (`+profileColumns+`, is_deleted)`)
	if err != nil {
		return storage.Unavailable("upsert profile", err)
	}
	err = batch.Append(
		profile.UserID, profile.Username, profile.DisplayName,
		profile.ContactName, profile.ContactEmail, profile.ContactPhone,
		profile.BirthDate, profile.BirthTime, profile.BirthCity,
		chart, profile.CreatedAt, profile.UpdatedAt, uint8(0),
	)
	if err != nil {
		_ = batch.Abort()
		return fmt.Errorf("failed to append profile row: %w", err)
	}
	return storage.Unavailable("upsert profile", batch.Send())
}

// GetProfile returns the latest profile version
func (db *ClickHouseDB) GetProfile(ctx context.Context, userID int64) (*models.UserProfile, error) {
	return db.getProfile(ctx, userID)
}

func (db *ClickHouseDB) getProfile(ctx context.Context, userID int64) (*models.UserProfile, error) {
	rows, err := db.conn.Query(ctx, `SELECT `+profileColumns+` FROM user_profiles FINAL
		WHERE user_id = ? AND is_deleted = 0 LIMIT 1`, userID)
	if err != nil {
		return nil, storage.Unavailable("get profile", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, storage.Unavailable("get profile", err)
		}
		return nil, storage.ErrNotFound
	}

	var (
		profile models.UserProfile
		chart   string
	)
	err = rows.Scan(
		&profile.UserID, &profile.Username, &profile.DisplayName,
		&profile.ContactName, &profile.ContactEmail, &profile.ContactPhone,
		&profile.BirthDate, &profile.BirthTime, &profile.BirthCity,
		&chart, &profile.CreatedAt, &profile.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}
	if chart != "" {
		parsed, err := models.ParseChart([]byte(chart))
		if err != nil {
			return nil, fmt.Errorf("stored chart for user %d: %w", userID, err)
		}
		profile.Chart = parsed
	}
	return &profile, nil
}

// SaveSession writes a new session version
func (db *ClickHouseDB) SaveSession(ctx context.Context, userID int64, step models.Step, data map[string]string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.writeSessionLocked(ctx, userID, step, data, false)
}

// LoadSession returns the latest live session version
func (db *ClickHouseDB) LoadSession(ctx context.Context, userID int64) (*models.Session, error) {
	rows, err := db.conn.Query(ctx, `SELECT user_id, step, data, updated_at FROM user_sessions FINAL
		WHERE user_id = ? AND is_deleted = 0 LIMIT 1`, userID)
	if err != nil {
		return nil, storage.Unavailable("load session", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, storage.Unavailable("load session", err)
		}
		return nil, storage.ErrNotFound
	}

	var (
		session models.Session
		step    string
	)
	if err := rows.Scan(&session.UserID, &step, &session.Data, &session.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	session.Step = models.Step(step)
	session.Data = models.CloneData(session.Data)
	return &session, nil
}

// ClearSession writes a tombstone version
func (db *ClickHouseDB) ClearSession(ctx context.Context, userID int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.writeSessionLocked(ctx, userID, "", nil, true)
}

func (db *ClickHouseDB) writeSessionLocked(ctx context.Context, userID int64, step models.Step, data map[string]string, deleted bool) error {
	op := "save session"
	if deleted {
		op = "clear session"
	}

	var prev time.Time
	rows, err := db.conn.Query(ctx, `SELECT max(updated_at) FROM user_sessions WHERE user_id = ?`, userID)
	if err != nil {
		return storage.Unavailable(op, err)
	}
	if rows.Next() {
		if err := rows.Scan(&prev); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan session version: %w", err)
		}
	}
	rows.Close()

	var isDeleted uint8
	if deleted {
		isDeleted = 1
	}

	batch, err := db.conn.PrepareBatch(ctx, `INSERT INTO user_sessions (user_id, step, data, updated_at, is_deleted)`)
	if err != nil {
		return storage.Unavailable(op, err)
	}
	if err := batch.Append(userID, string(step), models.CloneData(data), db.nextVersion(prev), isDeleted); err != nil {
		_ = batch.Abort()
		return fmt.Errorf("failed to append session row: %w", err)
	}
	return storage.Unavailable(op, batch.Send())
}

// Commit applies the profile write before the session write. ClickHouse has
// no multi-table transactions, so the session write is skipped if the profile
// write fails.
func (db *ClickHouseDB) Commit(ctx context.Context, userID int64, change models.Change) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if change.Profile != nil {
		if err := db.upsertProfileLocked(ctx, userID, *change.Profile); err != nil {
			return err
		}
	}
	switch {
	case change.ClearSession:
		return db.writeSessionLocked(ctx, userID, "", nil, true)
	case change.Session != nil:
		return db.writeSessionLocked(ctx, userID, change.Session.Step, change.Session.Data, false)
	}
	return nil
}

// nextVersion returns a version timestamp strictly after prev
func (db *ClickHouseDB) nextVersion(prev time.Time) time.Time {
	now := db.now().UTC().Truncate(time.Millisecond)
	if !now.After(prev) {
		now = prev.Add(time.Millisecond)
	}
	return now
}

// Close closes the database connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

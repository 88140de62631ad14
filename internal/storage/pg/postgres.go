package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"bazibot/internal/models"
	"bazibot/internal/storage"
)

// querier is satisfied by both the pool and a transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDB persists profiles and sessions in Postgres.
type PostgresDB struct {
	pool *pgxpool.Pool
}

// NewPostgresDB opens a connection pool for the given DSN.
func NewPostgresDB(ctx context.Context, dsn string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}
	return &PostgresDB{pool: pool}, nil
}

// Initialize checks connectivity; tables are managed via migrations
func (db *PostgresDB) Initialize(ctx context.Context) error {
	return storage.Unavailable("ping", db.pool.Ping(ctx))
}

// UpsertProfile inserts the profile or updates only the supplied columns.
func (db *PostgresDB) UpsertProfile(ctx context.Context, userID int64, update models.ProfileUpdate) error {
	return upsertProfile(ctx, db.pool, userID, update)
}

func upsertProfile(ctx context.Context, q querier, userID int64, update models.ProfileUpdate) error {
	cols := []string{"user_id"}
	args := []any{userID}
	set := func(col string, v *string) {
		if v != nil {
			cols = append(cols, col)
			args = append(args, *v)
		}
	}
	set("username", update.Username)
	set("display_name", update.DisplayName)
	set("contact_name", update.ContactName)
	set("contact_email", update.ContactEmail)
	set("contact_phone", update.ContactPhone)
	set("birth_date", update.BirthDate)
	set("birth_time", update.BirthTime)
	set("birth_city", update.BirthCity)
	if update.Chart != nil {
		raw, err := models.MarshalChart(*update.Chart)
		if err != nil {
			return fmt.Errorf("encode chart: %w", err)
		}
		cols = append(cols, "chart")
		args = append(args, raw)
	}

	placeholders := make([]string, len(cols))
	assignments := make([]string, 0, len(cols))
	for i, col := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if col != "user_id" {
			assignments = append(assignments, col+" = EXCLUDED."+col)
		}
	}
	assignments = append(assignments, "updated_at = NOW()")

	query := `INSERT INTO users (` + strings.Join(cols, ", ") + `, created_at, updated_at)
VALUES (` + strings.Join(placeholders, ", ") + `, NOW(), NOW())
ON CONFLICT (user_id) DO UPDATE SET ` + strings.Join(assignments, ", ")

	if _, err := q.Exec(ctx, query, args...); err != nil {
		return storage.Unavailable("upsert profile", err)
	}
	return nil
}

// GetProfile returns the stored profile
func (db *PostgresDB) GetProfile(ctx context.Context, userID int64) (*models.UserProfile, error) {
	var (
		p     models.UserProfile
		chart []byte
	)
	err := db.pool.QueryRow(ctx, `
SELECT user_id, username, display_name, contact_name, contact_email, contact_phone,
       birth_date, birth_time, birth_city, chart, created_at, updated_at
FROM users WHERE user_id = $1`, userID).Scan(
		&p.UserID, &p.Username, &p.DisplayName,
		&p.ContactName, &p.ContactEmail, &p.ContactPhone,
		&p.BirthDate, &p.BirthTime, &p.BirthCity,
		&chart, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, storage.Unavailable("get profile", err)
	}
	if len(chart) > 0 {
		parsed, err := models.ParseChart(chart)
		if err != nil {
			return nil, fmt.Errorf("stored chart for user %d: %w", userID, err)
		}
		p.Chart = parsed
	}
	return &p, nil
}

// SaveSession replaces the user's session
func (db *PostgresDB) SaveSession(ctx context.Context, userID int64, step models.Step, data map[string]string) error {
	return saveSession(ctx, db.pool, userID, step, data)
}

func saveSession(ctx context.Context, q querier, userID int64, step models.Step, data map[string]string) error {
	_, err := q.Exec(ctx, `
INSERT INTO user_sessions (user_id, step, data, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (user_id)
DO UPDATE SET step = EXCLUDED.step, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
`, userID, string(step), models.CloneData(data))
	if err != nil {
		return storage.Unavailable("save session", err)
	}
	return nil
}

// LoadSession returns the user's session
func (db *PostgresDB) LoadSession(ctx context.Context, userID int64) (*models.Session, error) {
	var (
		s    models.Session
		step string
	)
	err := db.pool.QueryRow(ctx,
		`SELECT user_id, step, data, updated_at FROM user_sessions WHERE user_id = $1`, userID,
	).Scan(&s.UserID, &step, &s.Data, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, storage.Unavailable("load session", err)
	}
	s.Step = models.Step(step)
	s.Data = models.CloneData(s.Data)
	return &s, nil
}

// ClearSession deletes the user's session
func (db *PostgresDB) ClearSession(ctx context.Context, userID int64) error {
	return clearSession(ctx, db.pool, userID)
}

func clearSession(ctx context.Context, q querier, userID int64) error {
	if _, err := q.Exec(ctx, `DELETE FROM user_sessions WHERE user_id = $1`, userID); err != nil {
		return storage.Unavailable("clear session", err)
	}
	return nil
}

// Commit applies a transition's changes in one transaction
func (db *PostgresDB) Commit(ctx context.Context, userID int64, change models.Change) error {
	err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		if change.Profile != nil {
			if err := upsertProfile(ctx, tx, userID, *change.Profile); err != nil {
				return err
			}
		}
		switch {
		case change.ClearSession:
			return clearSession(ctx, tx, userID)
		case change.Session != nil:
			return saveSession(ctx, tx, userID, change.Session.Step, change.Session.Data)
		}
		return nil
	})
	if err != nil && !errors.Is(err, storage.ErrUnavailable) {
		return storage.Unavailable("commit", err)
	}
	return err
}

// Close closes the connection pool
func (db *PostgresDB) Close() error {
	if db.pool != nil {
		db.pool.Close()
	}
	return nil
}

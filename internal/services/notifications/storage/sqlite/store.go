package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/lamcalendar/notifier/internal/platform/storage/sqlitemigrate"
	"github.com/lamcalendar/notifier/internal/services/notifications/domain"
	"github.com/lamcalendar/notifier/internal/services/notifications/storage"
	"github.com/lamcalendar/notifier/internal/services/notifications/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for the calendar directory.
type Store struct {
	sqlDB *sql.DB
}

var _ storage.Store = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a calendar SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := ensureForeignKeysEnabled(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func ensureForeignKeysEnabled(db *sql.DB) error {
	var enabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&enabled); err != nil {
		return fmt.Errorf("check sqlite foreign key pragma: %w", err)
	}
	if enabled != 1 {
		return fmt.Errorf("sqlite foreign keys are disabled")
	}
	return nil
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

// PutUser upserts one user and replaces its notification preferences.
func (s *Store) PutUser(ctx context.Context, user domain.User) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if user.ID <= 0 {
		return fmt.Errorf("user id is required")
	}
	email := domain.NormalizeEmail(user.Email)
	if email == "" {
		return fmt.Errorf("user email is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put user: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO users (id, name, email, city, lead_time)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  name = excluded.name,
  email = excluded.email,
  city = excluded.city,
  lead_time = excluded.lead_time
`, user.ID, strings.TrimSpace(user.Name), email, string(user.City), string(user.Settings.LeadTime)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("put user %d: %w", user.ID, storage.ErrConflict)
		}
		return fmt.Errorf("put user: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_preferences WHERE user_id = ?`, user.ID); err != nil {
		return fmt.Errorf("clear user preferences: %w", err)
	}
	for category, preference := range user.Settings.Preferences {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_preferences (user_id, category, preference) VALUES (?, ?, ?)`,
			user.ID, string(category), string(domain.ParsePreference(string(preference))),
		); err != nil {
			return fmt.Errorf("put user preference %s: %w", category, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put user: %w", err)
	}
	return nil
}

// PutEvent upserts one event and replaces its roles in the given order.
// Role emails are taken from the users table on read.
func (s *Store) PutEvent(ctx context.Context, event domain.Event) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if event.ID <= 0 {
		return fmt.Errorf("event id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put event: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO events (id, title, description, location, duration_seconds, is_public, start_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  title = excluded.title,
  description = excluded.description,
  location = excluded.location,
  duration_seconds = excluded.duration_seconds,
  is_public = excluded.is_public,
  start_at = excluded.start_at
`, event.ID, event.Title, event.Description, event.Location, int64(event.Duration/time.Second), boolToInt(event.IsPublic), toMillis(event.Start)); err != nil {
		return fmt.Errorf("put event: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM event_roles WHERE event_id = ?`, event.ID); err != nil {
		return fmt.Errorf("clear event roles: %w", err)
	}
	for position, role := range event.Roles {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO event_roles (event_id, user_id, position, role_type, status, shown)
VALUES (?, ?, ?, ?, ?, ?)
`, event.ID, role.UserID, position, string(role.Type), string(role.Status), boolToInt(role.Shown)); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("put event role for user %d: %w", role.UserID, storage.ErrConflict)
			}
			return fmt.Errorf("put event role for user %d: %w", role.UserID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put event: %w", err)
	}
	return nil
}

// DeleteEvent removes one event and its roles.
func (s *Store) DeleteEvent(ctx context.Context, id int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete event rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// EventsStartingBetween lists events with start in [from, to] ordered by start.
func (s *Store) EventsStartingBetween(ctx context.Context, from, to time.Time) ([]domain.Event, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, nil
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, title, description, location, duration_seconds, is_public, start_at
FROM events
WHERE start_at >= ? AND start_at <= ?
ORDER BY start_at ASC, id ASC
`, toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	events, err := collectEvents(rows)
	if err != nil {
		return nil, err
	}
	for i := range events {
		roles, err := s.rolesForEvent(ctx, events[i].ID)
		if err != nil {
			return nil, err
		}
		events[i].Roles = roles
	}
	return events, nil
}

// EventByID returns one event with its ordered roles.
func (s *Store) EventByID(ctx context.Context, id int64) (domain.Event, error) {
	if err := s.ready(ctx); err != nil {
		return domain.Event{}, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, title, description, location, duration_seconds, is_public, start_at
FROM events
WHERE id = ?
`, id)
	if err != nil {
		return domain.Event{}, fmt.Errorf("get event: %w", err)
	}
	events, err := collectEvents(rows)
	if err != nil {
		return domain.Event{}, err
	}
	if len(events) == 0 {
		return domain.Event{}, storage.ErrNotFound
	}
	event := events[0]
	roles, err := s.rolesForEvent(ctx, event.ID)
	if err != nil {
		return domain.Event{}, err
	}
	event.Roles = roles
	return event, nil
}

// UserByID returns one user with notification settings.
func (s *Store) UserByID(ctx context.Context, id int64) (domain.User, error) {
	if err := s.ready(ctx); err != nil {
		return domain.User{}, err
	}
	var (
		user     domain.User
		city     string
		leadTime string
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT id, name, email, city, lead_time FROM users WHERE id = ?
`, id).Scan(&user.ID, &user.Name, &user.Email, &city, &leadTime)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	user.City = domain.ParseCity(city)
	user.Settings.LeadTime = domain.ParseLeadTime(leadTime)

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT category, preference FROM user_preferences WHERE user_id = ?
`, id)
	if err != nil {
		return domain.User{}, fmt.Errorf("list user preferences: %w", err)
	}
	defer rows.Close()
	user.Settings.Preferences = make(map[domain.Category]domain.Preference)
	for rows.Next() {
		var category, preference string
		if err := rows.Scan(&category, &preference); err != nil {
			return domain.User{}, fmt.Errorf("scan user preference: %w", err)
		}
		if c, ok := domain.ParseCategory(category); ok {
			user.Settings.Preferences[c] = domain.ParsePreference(preference)
		}
	}
	if err := rows.Err(); err != nil {
		return domain.User{}, fmt.Errorf("iterate user preferences: %w", err)
	}
	return user, nil
}

func (s *Store) rolesForEvent(ctx context.Context, eventID int64) ([]domain.Role, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT r.user_id, u.email, r.role_type, r.status, r.shown
FROM event_roles r
JOIN users u ON u.id = r.user_id
WHERE r.event_id = ?
ORDER BY r.position ASC
`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list event roles: %w", err)
	}
	defer rows.Close()

	roles := make([]domain.Role, 0, 4)
	for rows.Next() {
		var (
			role       domain.Role
			roleType   string
			status     string
			shownValue int
		)
		if err := rows.Scan(&role.UserID, &role.Email, &roleType, &status, &shownValue); err != nil {
			return nil, fmt.Errorf("scan event role: %w", err)
		}
		role.Type = domain.ParseRoleType(roleType)
		role.Status = domain.ParseStatusType(status)
		role.Shown = shownValue != 0
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event roles: %w", err)
	}
	return roles, nil
}

func collectEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	events := make([]domain.Event, 0)
	for rows.Next() {
		var (
			event           domain.Event
			durationSeconds int64
			isPublic        int
			startAt         int64
		)
		if err := rows.Scan(&event.ID, &event.Title, &event.Description, &event.Location, &durationSeconds, &isPublic, &startAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.Duration = time.Duration(durationSeconds) * time.Second
		event.IsPublic = isPublic != 0
		event.Start = fromMillis(startAt)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

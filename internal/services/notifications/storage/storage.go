package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/lamcalendar/notifier/internal/services/notifications/domain"
)

var (
	// ErrNotFound indicates a requested event or user record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a requested write conflicts with uniqueness constraints.
	ErrConflict = errors.New("record conflict")
)

// Directory is the read-only calendar view the notifier consumes.
type Directory interface {
	// EventsStartingBetween lists events whose start lies in [from, to], ordered by start.
	EventsStartingBetween(ctx context.Context, from, to time.Time) ([]domain.Event, error)
	// EventByID returns one event with its roles.
	EventByID(ctx context.Context, id int64) (domain.Event, error)
	// UserByID returns one user with notification settings.
	UserByID(ctx context.Context, id int64) (domain.User, error)
}

// DirectoryCloser is what the running notifier holds: reads plus release of
// the underlying connection.
type DirectoryCloser interface {
	Directory
	io.Closer
}

// Store adds the writes of the calendar service that owns these tables. The
// notifier never writes at runtime; the methods seed fixtures and tests
// against the same schema, and ErrConflict is only returned by them.
type Store interface {
	DirectoryCloser
	PutUser(ctx context.Context, user domain.User) error
	PutEvent(ctx context.Context, event domain.Event) error
	DeleteEvent(ctx context.Context, id int64) error
}

package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/lamcalendar/notifier/internal/services/notifications/domain"
	"github.com/lamcalendar/notifier/internal/services/notifications/storage"
)

// ErrDirectoryNotConfigured indicates the engine has no directory.
var ErrDirectoryNotConfigured = errors.New("directory is not configured")

type directoryAdapter struct {
	directory storage.Directory
}

func newDirectoryAdapter(directory storage.Directory) *directoryAdapter {
	return &directoryAdapter{directory: directory}
}

func (a *directoryAdapter) event(ctx context.Context, id int64) (domain.Event, error) {
	if a == nil || a.directory == nil {
		return domain.Event{}, ErrDirectoryNotConfigured
	}
	if id <= 0 {
		return domain.Event{}, fmt.Errorf("event id %d: %w", id, domain.ErrInvalidArgument)
	}
	event, err := a.directory.EventByID(ctx, id)
	if err != nil {
		return domain.Event{}, mapStorageError(err, domain.ErrEventNotFound)
	}
	return event, nil
}

func (a *directoryAdapter) user(ctx context.Context, id int64) (domain.User, error) {
	if a == nil || a.directory == nil {
		return domain.User{}, ErrDirectoryNotConfigured
	}
	if id <= 0 {
		return domain.User{}, fmt.Errorf("user id %d: %w", id, domain.ErrInvalidArgument)
	}
	user, err := a.directory.UserByID(ctx, id)
	if err != nil {
		return domain.User{}, mapStorageError(err, domain.ErrUserNotFound)
	}
	return user, nil
}

func mapStorageError(err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return notFound
	default:
		return err
	}
}

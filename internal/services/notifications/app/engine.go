package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/lamcalendar/notifier/internal/platform/logging"
	platformotel "github.com/lamcalendar/notifier/internal/platform/otel"
	"github.com/lamcalendar/notifier/internal/services/notifications/domain"
	"github.com/lamcalendar/notifier/internal/services/notifications/render"
	"github.com/lamcalendar/notifier/internal/services/notifications/scheduler"
	"github.com/lamcalendar/notifier/internal/services/notifications/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const engineTracerName = "calendar/notifications/engine"

// Engine turns calendar mutations into delivered notifications. Publish
// methods run synchronously; delivery failures are logged and never
// returned.
type Engine struct {
	directory *directoryAdapter
	builder   scheduler.Builder
	sender    scheduler.Sender
	logger    *zap.Logger
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the engine logger.
func WithEngineLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = logging.OrNop(logger) }
}

// NewEngine builds an Engine.
func NewEngine(directory storage.Directory, builder scheduler.Builder, sender scheduler.Sender, opts ...EngineOption) (*Engine, error) {
	if directory == nil {
		return nil, ErrDirectoryNotConfigured
	}
	if builder == nil {
		return nil, fmt.Errorf("notification builder is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	e := &Engine{
		directory: newDirectoryAdapter(directory),
		builder:   builder,
		sender:    sender,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// PublishEventChanged notifies every role holder that the event changed.
func (e *Engine) PublishEventChanged(ctx context.Context, eventID int64) error {
	return e.traced(ctx, domain.CategoryEventChanged, eventID, 0, func(ctx context.Context) error {
		event, err := e.directory.event(ctx, eventID)
		if err != nil {
			return err
		}
		return e.publish(ctx, domain.CategoryEventChanged, event, domain.Subject{}, render.Extra{})
	})
}

// PublishGuestInvited notifies the invited user.
func (e *Engine) PublishGuestInvited(ctx context.Context, eventID, userID int64) error {
	return e.publishAboutUser(ctx, domain.CategoryInviteGuest, eventID, userID)
}

// PublishGuestUninvited notifies the removed user.
func (e *Engine) PublishGuestUninvited(ctx context.Context, eventID, userID int64) error {
	return e.publishAboutUser(ctx, domain.CategoryUninviteGuest, eventID, userID)
}

// PublishStatusChanged notifies the event's admins and organizer that
// userID changed their attendance status.
func (e *Engine) PublishStatusChanged(ctx context.Context, eventID, userID int64) error {
	return e.publishAboutUser(ctx, domain.CategoryUserStatus, eventID, userID)
}

// PublishRoleChanged notifies userID of their new role.
func (e *Engine) PublishRoleChanged(ctx context.Context, eventID, userID int64) error {
	return e.publishAboutUser(ctx, domain.CategoryUserRole, eventID, userID)
}

// PublishRegistered welcomes a newly registered user.
func (e *Engine) PublishRegistered(ctx context.Context, userID int64) error {
	return e.traced(ctx, domain.CategoryRegister, 0, userID, func(ctx context.Context) error {
		user, err := e.directory.user(ctx, userID)
		if err != nil {
			return err
		}
		return e.publish(ctx, domain.CategoryRegister, domain.Event{}, subjectOf(user), render.Extra{Actor: user})
	})
}

// PublishEventCanceled notifies every holder except the canceling user. It
// takes the event snapshot because the record may already be gone.
func (e *Engine) PublishEventCanceled(ctx context.Context, event domain.Event, actorUserID int64) error {
	return e.traced(ctx, domain.CategoryCancelEvent, event.ID, actorUserID, func(ctx context.Context) error {
		subject := domain.Subject{UserID: actorUserID}
		if role, ok := event.RoleOf(actorUserID); ok {
			subject.Email = role.Email
		}
		return e.publish(ctx, domain.CategoryCancelEvent, event, subject, render.Extra{})
	})
}

// PublishEventCanceledByID loads the event and then behaves as
// PublishEventCanceled. Call it before deleting the event.
func (e *Engine) PublishEventCanceledByID(ctx context.Context, eventID, actorUserID int64) error {
	event, err := e.directory.event(ctx, eventID)
	if err != nil {
		return err
	}
	return e.PublishEventCanceled(ctx, event, actorUserID)
}

func (e *Engine) publishAboutUser(ctx context.Context, trigger domain.Category, eventID, userID int64) error {
	return e.traced(ctx, trigger, eventID, userID, func(ctx context.Context) error {
		event, err := e.directory.event(ctx, eventID)
		if err != nil {
			return err
		}
		user, err := e.directory.user(ctx, userID)
		if err != nil {
			return err
		}
		extra := render.Extra{Actor: user}
		if role, ok := event.RoleOf(userID); ok {
			extra.Status = role.Status
			extra.Role = role.Type
		}
		return e.publish(ctx, trigger, event, subjectOf(user), extra)
	})
}

// publish selects the audience, resolves each member's settings, renders
// and dispatches. Members whose user record is missing are skipped.
func (e *Engine) publish(ctx context.Context, trigger domain.Category, event domain.Event, subject domain.Subject, extra render.Extra) error {
	members, err := domain.SelectAudience(trigger, event, subject)
	if err != nil {
		return err
	}
	recipients := make([]domain.User, 0, len(members))
	for _, member := range members {
		user, err := e.directory.user(ctx, member.UserID)
		if err != nil {
			if errors.Is(err, domain.ErrUserNotFound) {
				e.logger.Info("skipping recipient without user record",
					zap.String("trigger", string(trigger)),
					zap.Int64("user_id", member.UserID),
				)
				continue
			}
			return err
		}
		if user.Email == "" {
			user.Email = member.Email
		}
		recipients = append(recipients, user)
	}
	if len(recipients) == 0 {
		return nil
	}

	var eventRef *domain.Event
	if trigger != domain.CategoryRegister {
		eventRef = &event
	}
	for _, n := range e.builder.Build(trigger, eventRef, recipients, extra) {
		report := e.sender.Send(ctx, n, recipientsOf(n, recipients))
		if failures := report.Failures(); failures > 0 {
			e.logger.Warn("notification delivery incomplete",
				zap.String("notification_id", n.ID()),
				zap.String("trigger", string(trigger)),
				zap.Int("failures", failures),
			)
		}
	}
	return nil
}

func (e *Engine) traced(ctx context.Context, trigger domain.Category, eventID, userID int64, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := platformotel.Tracer(engineTracerName).Start(ctx, "engine.publish")
	defer span.End()
	span.SetAttributes(
		attribute.String("notification.trigger", string(trigger)),
		attribute.Int64("notification.event_id", eventID),
		attribute.Int64("notification.user_id", userID),
	)
	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("publish failed",
			zap.String("trigger", string(trigger)),
			zap.Int64("event_id", eventID),
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}
	return err
}

func subjectOf(user domain.User) domain.Subject {
	return domain.Subject{UserID: user.ID, Email: user.Email}
}

func recipientsOf(n domain.Notification, users []domain.User) []domain.User {
	out := make([]domain.User, 0, len(users))
	for _, u := range users {
		if n.HasRecipient(u.Email) {
			out = append(out, u)
		}
	}
	return out
}

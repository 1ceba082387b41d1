// Package httpapi exposes the notification triggers and the popup stream
// over HTTP.
package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	recoverMiddleware "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/lamcalendar/notifier/internal/platform/logging"
	"github.com/lamcalendar/notifier/internal/platform/timeouts"
	"github.com/lamcalendar/notifier/internal/services/notifications/dispatch"
	"github.com/lamcalendar/notifier/internal/services/notifications/domain"
	"github.com/lamcalendar/notifier/internal/services/notifications/push"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const defaultKeepAlive = 15 * time.Second

// Publisher is the trigger surface served by the API.
type Publisher interface {
	PublishEventChanged(ctx context.Context, eventID int64) error
	PublishGuestInvited(ctx context.Context, eventID, userID int64) error
	PublishGuestUninvited(ctx context.Context, eventID, userID int64) error
	PublishStatusChanged(ctx context.Context, eventID, userID int64) error
	PublishRoleChanged(ctx context.Context, eventID, userID int64) error
	PublishRegistered(ctx context.Context, userID int64) error
	PublishEventCanceledByID(ctx context.Context, eventID, actorUserID int64) error
}

// Subscriber opens popup subscriptions.
type Subscriber interface {
	Subscribe(topic string) (*push.Subscription, error)
}

// Config wires the API dependencies.
type Config struct {
	Publisher  Publisher
	Subscriber Subscriber
	Logger     *zap.Logger
	// KeepAlive is the comment-frame period on idle streams.
	KeepAlive time.Duration
}

// TriggerRequest is the JSON body accepted by trigger routes.
type TriggerRequest struct {
	EventID int64 `json:"event_id"`
	UserID  int64 `json:"user_id"`
}

type server struct {
	publisher  Publisher
	subscriber Subscriber
	logger     *zap.Logger
	keepAlive  time.Duration
}

// New builds the Fiber application.
func New(cfg Config) (*fiber.App, error) {
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if cfg.Subscriber == nil {
		return nil, fmt.Errorf("subscriber is required")
	}
	s := &server{
		publisher:  cfg.Publisher,
		subscriber: cfg.Subscriber,
		logger:     logging.OrNop(cfg.Logger),
		keepAlive:  cfg.KeepAlive,
	}
	if s.keepAlive <= 0 {
		s.keepAlive = defaultKeepAlive
	}

	fiberApp := fiber.New(fiber.Config{
		AppName:               "calendar-notifications",
		DisableStartupMessage: true,
		ReadTimeout:           timeouts.ReadHeader,
		ErrorHandler:          s.errorHandler,
	})
	fiberApp.Use(recoverMiddleware.New())
	fiberApp.Use(s.requestLogger)

	fiberApp.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1 := fiberApp.Group("/v1")
	triggers := v1.Group("/triggers")
	triggers.Post("/event-changed", s.trigger(func(ctx context.Context, req TriggerRequest) error {
		return s.publisher.PublishEventChanged(ctx, req.EventID)
	}))
	triggers.Post("/guest-invited", s.trigger(func(ctx context.Context, req TriggerRequest) error {
		return s.publisher.PublishGuestInvited(ctx, req.EventID, req.UserID)
	}))
	triggers.Post("/guest-uninvited", s.trigger(func(ctx context.Context, req TriggerRequest) error {
		return s.publisher.PublishGuestUninvited(ctx, req.EventID, req.UserID)
	}))
	triggers.Post("/status-changed", s.trigger(func(ctx context.Context, req TriggerRequest) error {
		return s.publisher.PublishStatusChanged(ctx, req.EventID, req.UserID)
	}))
	triggers.Post("/role-changed", s.trigger(func(ctx context.Context, req TriggerRequest) error {
		return s.publisher.PublishRoleChanged(ctx, req.EventID, req.UserID)
	}))
	triggers.Post("/registered", s.trigger(func(ctx context.Context, req TriggerRequest) error {
		return s.publisher.PublishRegistered(ctx, req.UserID)
	}))
	triggers.Post("/event-canceled", s.trigger(func(ctx context.Context, req TriggerRequest) error {
		return s.publisher.PublishEventCanceledByID(ctx, req.EventID, req.UserID)
	}))

	v1.Get("/push/:userID/stream", s.stream)

	fiberApp.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "route not found"})
	})
	return fiberApp, nil
}

func (s *server) trigger(publish func(context.Context, TriggerRequest) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req TriggerRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := publish(c.UserContext(), req); err != nil {
			return err
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
	}
}

func (s *server) stream(c *fiber.Ctx) error {
	userID, err := strconv.ParseInt(c.Params("userID"), 10, 64)
	if err != nil || userID <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "invalid user id")
	}
	sub, err := s.subscriber.Subscribe(dispatch.Topic(userID))
	if err != nil {
		if errors.Is(err, push.ErrClosed) {
			return fiber.NewError(fiber.StatusServiceUnavailable, "push stream unavailable")
		}
		return err
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	keepAlive := s.keepAlive
	logger := s.logger
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer sub.Close()
		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()
		for {
			select {
			case n, ok := <-sub.C():
				if !ok {
					return
				}
				if err := writeEvent(w, n); err != nil {
					logger.Debug("push stream closed", zap.Int64("user_id", userID), zap.Error(err))
					return
				}
			case <-ticker.C:
				if _, err := w.WriteString(": ping\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					logger.Debug("push stream closed", zap.Int64("user_id", userID), zap.Error(err))
					return
				}
			}
		}
	}))
	return nil
}

func writeEvent(w *bufio.Writer, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %s\nevent: notification\ndata: %s\n\n", n.ID(), payload); err != nil {
		return err
	}
	return w.Flush()
}

func (s *server) errorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	message := "internal error"

	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		status = fiberErr.Code
		message = fiberErr.Message
	case errors.Is(err, domain.ErrEventNotFound), errors.Is(err, domain.ErrUserNotFound):
		status = fiber.StatusNotFound
		message = err.Error()
	case errors.Is(err, domain.ErrInvalidArgument):
		status = fiber.StatusBadRequest
		message = err.Error()
	default:
		s.logger.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}
	return c.Status(status).JSON(fiber.Map{"error": message})
}

func (s *server) requestLogger(c *fiber.Ctx) error {
	started := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	if err != nil {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			status = fiberErr.Code
		}
	}
	s.logger.Debug("http request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", status),
		zap.Duration("latency", time.Since(started)),
	)
	return err
}

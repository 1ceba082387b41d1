// Package scheduler periodically finds role holders whose upcoming-event
// reminder falls due and hands the reminders to dispatch workers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lamcalendar/notifier/internal/platform/logging"
	platformotel "github.com/lamcalendar/notifier/internal/platform/otel"
	"github.com/lamcalendar/notifier/internal/platform/timeouts"
	"github.com/lamcalendar/notifier/internal/services/notifications/dispatch"
	"github.com/lamcalendar/notifier/internal/services/notifications/domain"
	"github.com/lamcalendar/notifier/internal/services/notifications/render"
	"github.com/lamcalendar/notifier/internal/services/notifications/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// ErrSweepInProgress is returned when a sweep starts while another runs.
var ErrSweepInProgress = errors.New("sweep already in progress")

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
	tracerName       = "calendar/notifications/scheduler"
)

// Directory is the subset of the calendar directory the scheduler reads.
type Directory interface {
	EventsStartingBetween(ctx context.Context, from, to time.Time) ([]domain.Event, error)
	UserByID(ctx context.Context, id int64) (domain.User, error)
}

// Builder renders notifications.
type Builder interface {
	Build(trigger domain.Category, event *domain.Event, recipients []domain.User, extra render.Extra) []domain.Notification
}

// Sender delivers one notification to its recipients.
type Sender interface {
	Send(ctx context.Context, n domain.Notification, recipients []domain.User) dispatch.Report
}

// Ticker abstracts time.Ticker for tests.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ *time.Ticker }

func (t realTicker) C() <-chan time.Time { return t.Ticker.C }

// Config controls polling and the dispatch queue.
type Config struct {
	// PollInterval is the tick period; it also sizes the due window. It is
	// rounded to whole seconds so ticks and windows share one period.
	PollInterval time.Duration
	// Workers is the number of dispatch goroutines.
	Workers int
	// QueueSize bounds pending deliveries; producers block when it is full.
	QueueSize int
	// DrainTimeout bounds how long queued deliveries may run after shutdown.
	DrainTimeout time.Duration
}

func (c Config) normalized() Config {
	if c.PollInterval < time.Second {
		c.PollInterval = domain.DefaultPollIntervalSeconds * time.Second
	}
	c.PollInterval = c.PollInterval.Round(time.Second)
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = timeouts.Shutdown
	}
	return c
}

// SweepResult summarizes one matching pass.
type SweepResult struct {
	Events     int
	Holders    int
	Due        int
	Deliveries int
	Skipped    int
}

type delivery struct {
	notification domain.Notification
	recipients   []domain.User
}

// Scheduler evaluates upcoming-event reminders on a fixed period.
type Scheduler struct {
	directory Directory
	builder   Builder
	sender    Sender
	cfg       Config
	logger    *zap.Logger
	clock     func() time.Time
	newTicker func(time.Duration) Ticker
	running   atomic.Bool
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = logging.OrNop(logger) }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithTicker overrides ticker construction.
func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(s *Scheduler) {
		if newTicker != nil {
			s.newTicker = newTicker
		}
	}
}

// New builds a Scheduler.
func New(directory Directory, builder Builder, sender Sender, cfg Config, opts ...Option) (*Scheduler, error) {
	if directory == nil {
		return nil, fmt.Errorf("directory is required")
	}
	if builder == nil {
		return nil, fmt.Errorf("notification builder is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	s := &Scheduler{
		directory: directory,
		builder:   builder,
		sender:    sender,
		cfg:       cfg.normalized(),
		logger:    zap.NewNop(),
		clock:     time.Now,
		newTicker: func(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Running reports whether a sweep is in progress.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Sweep runs one matching pass at now and dispatches due reminders inline.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	return s.sweep(ctx, now, func(ctx context.Context, d delivery) error {
		s.sender.Send(ctx, d.notification, d.recipients)
		return nil
	})
}

func (s *Scheduler) sweep(ctx context.Context, now time.Time, emit func(context.Context, delivery) error) (result SweepResult, err error) {
	if !s.running.CompareAndSwap(false, true) {
		return SweepResult{}, ErrSweepInProgress
	}
	defer s.running.Store(false)

	ctx, span := platformotel.Tracer(tracerName).Start(ctx, "scheduler.sweep")
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panic: %v", r)
		}
		span.SetAttributes(
			attribute.Int("sweep.events", result.Events),
			attribute.Int("sweep.due", result.Due),
			attribute.Int("sweep.skipped", result.Skipped),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	events, err := s.directory.EventsStartingBetween(ctx, now, now.Add(domain.MaxLeadHorizon))
	if err != nil {
		return result, fmt.Errorf("list upcoming events: %w", err)
	}
	result.Events = len(events)
	pollSeconds := int(s.cfg.PollInterval / time.Second)
	users := make(map[int64]domain.User)

	for i := range events {
		event := events[i]
		for _, role := range event.Roles {
			result.Holders++
			user, ok := users[role.UserID]
			if !ok {
				user, err = s.directory.UserByID(ctx, role.UserID)
				if err != nil {
					if ctxErr := ctx.Err(); ctxErr != nil {
						return result, ctxErr
					}
					result.Skipped++
					level := s.logger.Warn
					if errors.Is(err, storage.ErrNotFound) {
						level = s.logger.Info
					}
					level("skipping role holder, user lookup failed",
						zap.Int64("event_id", event.ID),
						zap.Int64("user_id", role.UserID),
						zap.Error(err),
					)
					continue
				}
				users[role.UserID] = user
			}
			if user.Settings.Preference(domain.CategoryUpcomingEvent) == domain.PreferenceNone {
				continue
			}
			if !domain.IsDue(event.Start, now, user.Settings.LeadTime, pollSeconds) {
				continue
			}
			result.Due++
			for _, n := range s.builder.Build(domain.CategoryUpcomingEvent, &event, []domain.User{user}, render.Extra{}) {
				if err := emit(ctx, delivery{notification: n, recipients: []domain.User{user}}); err != nil {
					return result, err
				}
				result.Deliveries++
			}
		}
	}
	return result, nil
}

// Run sweeps immediately and then once per poll interval until ctx ends.
// Deliveries go through a bounded queue served by dispatch workers; on
// shutdown the queue is drained for at most DrainTimeout.
func (s *Scheduler) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	queue := make(chan delivery, s.cfg.QueueSize)
	dispatchCtx, cancelDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelDispatch()

	var workers sync.WaitGroup
	for range s.cfg.Workers {
		workers.Add(1)
		go func() {
			defer workers.Done()
			s.work(dispatchCtx, queue)
		}()
	}

	enqueue := func(ctx context.Context, d delivery) error {
		select {
		case queue <- d:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var sweeps sync.WaitGroup
	tick := func() {
		now := s.clock()
		sweeps.Add(1)
		go func() {
			defer sweeps.Done()
			result, err := s.sweep(ctx, now, enqueue)
			switch {
			case errors.Is(err, ErrSweepInProgress):
				s.logger.Info("previous sweep still running, skipping tick", zap.Time("tick", now))
			case err != nil && ctx.Err() == nil:
				s.logger.Error("sweep failed", zap.Time("tick", now), zap.Error(err))
			case err == nil:
				s.logger.Debug("sweep complete",
					zap.Time("tick", now),
					zap.Int("events", result.Events),
					zap.Int("due", result.Due),
					zap.Int("skipped", result.Skipped),
				)
			}
		}()
	}

	s.logger.Info("scheduler started",
		zap.Duration("poll_interval", s.cfg.PollInterval),
		zap.Int("workers", s.cfg.Workers),
		zap.Int("queue_size", s.cfg.QueueSize),
	)
	ticker := s.newTicker(s.cfg.PollInterval)
	tick()
	for {
		select {
		case <-ctx.Done():
			ticker.Stop()
			sweeps.Wait()
			close(queue)
			timer := time.AfterFunc(s.cfg.DrainTimeout, cancelDispatch)
			workers.Wait()
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C():
			tick()
		}
	}
}

func (s *Scheduler) work(ctx context.Context, queue <-chan delivery) {
	for d := range queue {
		s.deliver(ctx, d)
	}
}

func (s *Scheduler) deliver(ctx context.Context, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("dispatch panic recovered",
				zap.String("notification_id", d.notification.ID()),
				zap.Any("panic", r),
			)
		}
	}()
	report := s.sender.Send(ctx, d.notification, d.recipients)
	if failures := report.Failures(); failures > 0 {
		s.logger.Warn("reminder delivery incomplete",
			zap.String("notification_id", d.notification.ID()),
			zap.Int("failures", failures),
		)
	}
}

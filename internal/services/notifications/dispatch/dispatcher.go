// Package dispatch routes a rendered notification to each recipient's chosen
// delivery channels.
package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/lamcalendar/notifier/internal/platform/logging"
	"github.com/lamcalendar/notifier/internal/platform/timeouts"
	"github.com/lamcalendar/notifier/internal/services/notifications/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Channel is one delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

// TopicPrefix prefixes every per-user push topic.
const TopicPrefix = "notifications.user."

// Topic returns the push topic for userID.
func Topic(userID int64) string {
	return TopicPrefix + strconv.FormatInt(userID, 10)
}

var routes = map[domain.Preference][]Channel{
	domain.PreferenceNone:  nil,
	domain.PreferenceEmail: {ChannelEmail},
	domain.PreferencePopup: {ChannelPush},
	domain.PreferenceAll:   {ChannelEmail, ChannelPush},
}

// ChannelsFor returns the channels a preference selects. Unknown values
// select nothing.
func ChannelsFor(pref domain.Preference) []Channel {
	selected := routes[domain.ParsePreference(string(pref))]
	out := make([]Channel, len(selected))
	copy(out, selected)
	return out
}

// Mailer sends plain email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// CalendarMailer is a Mailer that can also attach the event as an invite.
type CalendarMailer interface {
	Mailer
	SendWithEvent(ctx context.Context, to, subject, body string, event domain.EventSummary) error
}

// PushChannel publishes popup payloads on a topic.
type PushChannel interface {
	Publish(ctx context.Context, topic string, payload domain.Notification) error
}

// Report counts channel actions attempted and failed by one Send.
type Report struct {
	Attempted map[Channel]int
	Failed    map[Channel]int
}

// Failures returns the total failed actions.
func (r Report) Failures() int {
	total := 0
	for _, n := range r.Failed {
		total += n
	}
	return total
}

// Dispatcher delivers notifications. Every channel action is attempted on
// its own; one failure never prevents another.
type Dispatcher struct {
	mailer      Mailer
	push        PushChannel
	logger      *zap.Logger
	concurrency int
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logging.OrNop(logger)
	}
}

// WithConcurrency bounds how many recipients are served at once.
func WithConcurrency(limit int) Option {
	return func(d *Dispatcher) {
		if limit > 0 {
			d.concurrency = limit
		}
	}
}

// New builds a Dispatcher. A nil mailer or push channel makes the
// corresponding actions fail and be logged.
func New(mailer Mailer, push PushChannel, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		mailer:      mailer,
		push:        push,
		logger:      zap.NewNop(),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send delivers n to every recipient over the channels their preference for
// n's category selects. It never returns an error; failures are logged and
// counted in the Report.
func (d *Dispatcher) Send(ctx context.Context, n domain.Notification, recipients []domain.User) Report {
	tally := newTally()
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(d.concurrency)
	for _, recipient := range recipients {
		group.Go(func() error {
			d.sendOne(groupCtx, n, recipient, tally)
			return nil
		})
	}
	_ = group.Wait()
	return tally.report()
}

func (d *Dispatcher) sendOne(ctx context.Context, n domain.Notification, recipient domain.User, tally *tally) {
	pref := recipient.Settings.Preference(n.Category())
	for _, channel := range routes[pref] {
		tally.attempt(channel)
		if err := d.safely(ctx, channel, n, recipient); err != nil {
			tally.fail(channel)
			d.logger.Warn("notification delivery failed",
				zap.String("notification_id", n.ID()),
				zap.String("category", string(n.Category())),
				zap.String("channel", string(channel)),
				zap.Int64("user_id", recipient.ID),
				zap.Error(err),
			)
		}
	}
}

func (d *Dispatcher) safely(ctx context.Context, channel Channel, n domain.Notification, recipient domain.User) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s channel panic: %v", channel, r)
		}
	}()
	switch channel {
	case ChannelEmail:
		return d.sendEmail(ctx, n, recipient)
	case ChannelPush:
		return d.publish(ctx, n, recipient)
	default:
		return fmt.Errorf("unsupported channel %q", channel)
	}
}

func (d *Dispatcher) sendEmail(ctx context.Context, n domain.Notification, recipient domain.User) error {
	if d.mailer == nil {
		return fmt.Errorf("mailer is not configured")
	}
	if recipient.Email == "" {
		return fmt.Errorf("recipient %d has no email", recipient.ID)
	}
	if event, ok := n.Event(); ok && domain.AttachesCalendar(n.Category()) {
		if calendar, ok := d.mailer.(CalendarMailer); ok {
			return calendar.SendWithEvent(ctx, recipient.Email, n.Title(), n.Body(), event)
		}
	}
	return d.mailer.Send(ctx, recipient.Email, n.Title(), n.Body())
}

func (d *Dispatcher) publish(ctx context.Context, n domain.Notification, recipient domain.User) error {
	if d.push == nil {
		return fmt.Errorf("push channel is not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeouts.PushPublish)
	defer cancel()
	return d.push.Publish(ctx, Topic(recipient.ID), n.For(recipient.Email))
}

type tally struct {
	mu        sync.Mutex
	attempted map[Channel]int
	failed    map[Channel]int
}

func newTally() *tally {
	return &tally{attempted: make(map[Channel]int), failed: make(map[Channel]int)}
}

func (t *tally) attempt(c Channel) {
	t.mu.Lock()
	t.attempted[c]++
	t.mu.Unlock()
}

func (t *tally) fail(c Channel) {
	t.mu.Lock()
	t.failed[c]++
	t.mu.Unlock()
}

func (t *tally) report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := Report{Attempted: make(map[Channel]int, len(t.attempted)), Failed: make(map[Channel]int, len(t.failed))}
	for c, n := range t.attempted {
		r.Attempted[c] = n
	}
	for c, n := range t.failed {
		r.Failed[c] = n
	}
	return r
}

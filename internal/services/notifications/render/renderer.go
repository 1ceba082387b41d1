package render

import (
	"fmt"
	"strings"

	"github.com/lamcalendar/notifier/internal/platform/id"
	"github.com/lamcalendar/notifier/internal/services/notifications/domain"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	// DefaultClientURL is the web client linked from the welcome message.
	DefaultClientURL = "https://lam-calendar-client.web.app"

	// TimeLayout renders event start times in the recipient's zone.
	TimeLayout = "Mon Jan 2, 2006 15:04 MST"
)

// Localizer is the minimal message-printer contract required by the factory.
type Localizer interface {
	Sprintf(key message.Reference, args ...any) string
}

// Extra carries trigger-specific context beyond the event itself.
type Extra struct {
	// Actor is the user whose status changed.
	Actor domain.User
	// Status is the actor's new status on user-status notifications.
	Status domain.StatusType
	// Role is the subject's new role on user-role notifications.
	Role domain.RoleType
}

// Factory builds immutable notifications from trigger context.
type Factory struct {
	loc       Localizer
	newID     func() (string, error)
	clientURL string
}

// Option configures a Factory.
type Option func(*Factory)

// WithLocalizer overrides the English message printer.
func WithLocalizer(loc Localizer) Option {
	return func(f *Factory) {
		if loc != nil {
			f.loc = loc
		}
	}
}

// WithIDGenerator overrides notification id generation.
func WithIDGenerator(newID func() (string, error)) Option {
	return func(f *Factory) {
		if newID != nil {
			f.newID = newID
		}
	}
}

// WithClientURL sets the link carried by welcome messages.
func WithClientURL(url string) Option {
	return func(f *Factory) {
		if url = strings.TrimSpace(url); url != "" {
			f.clientURL = url
		}
	}
}

// NewFactory constructs a notification factory.
func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		loc:       message.NewPrinter(language.English),
		newID:     id.NewID,
		clientURL: DefaultClientURL,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Build renders one notification per distinct recipient timezone so each
// body shows the event start on the reader's own wall clock. Recipients keep
// their input order inside each group and groups follow first appearance.
// Build never fails; absent data renders as empty text.
func (f *Factory) Build(trigger domain.Category, event *domain.Event, recipients []domain.User, extra Extra) []domain.Notification {
	var summary *domain.EventSummary
	if event != nil && trigger != domain.CategoryRegister {
		s := event.Summary()
		summary = &s
	}

	groups := groupByZone(recipients)
	out := make([]domain.Notification, 0, len(groups))
	for _, group := range groups {
		emails := make([]string, 0, len(group.users))
		for _, u := range group.users {
			emails = append(emails, u.Email)
		}
		out = append(out, domain.NewNotification(domain.NotificationInput{
			ID:         f.nextID(),
			Category:   trigger,
			Title:      f.title(trigger),
			Body:       f.body(trigger, event, group.city, extra),
			Recipients: emails,
			Event:      summary,
		}))
	}
	return out
}

func (f *Factory) title(trigger domain.Category) string {
	key := "notification." + string(trigger) + ".title"
	return f.localize(key, titles[trigger])
}

func (f *Factory) body(trigger domain.Category, event *domain.Event, city domain.City, extra Extra) string {
	var title, when string
	if event != nil {
		title = event.Title
		if !event.Start.IsZero() {
			when = domain.LocalTime(event.Start, city).Format(TimeLayout)
		}
	}

	switch trigger {
	case domain.CategoryRegister:
		return f.localize("notification.register.body", bodies[trigger], f.clientURL)
	case domain.CategoryUserStatus:
		variant := strings.ToLower(string(extra.Status))
		if variant == "" {
			variant = strings.ToLower(string(domain.StatusTentative))
		}
		key := "notification.user_status.body." + variant
		return f.localize(key, statusBodies[extra.Status], extra.Actor.Name, title, when)
	case domain.CategoryUserRole:
		key := "notification.user_role.body." + strings.ToLower(string(extra.Role))
		fallback, ok := roleBodies[extra.Role]
		if !ok {
			key = "notification.user_role.body"
			fallback = bodies[trigger]
		}
		return f.localize(key, fallback, title, when)
	default:
		key := "notification." + string(trigger) + ".body"
		return f.localize(key, bodies[trigger], title, when)
	}
}

func (f *Factory) nextID() string {
	if f.newID == nil {
		return ""
	}
	value, err := f.newID()
	if err != nil {
		return ""
	}
	return value
}

// localize prints key through the catalog and falls back to the built-in
// English format when the catalog has no entry for it.
func (f *Factory) localize(key string, fallback string, args ...any) string {
	if f.loc != nil {
		value := f.loc.Sprintf(key, args...)
		if value != "" && !strings.HasPrefix(value, key) {
			return value
		}
	}
	if fallback == "" {
		return ""
	}
	return fmt.Sprintf(fallback, args...)
}

type zoneGroup struct {
	city  domain.City
	users []domain.User
}

func groupByZone(recipients []domain.User) []zoneGroup {
	index := make(map[string]int, len(recipients))
	groups := make([]zoneGroup, 0, 1)
	for _, u := range recipients {
		zone := domain.ZoneID(u.City)
		i, ok := index[zone]
		if !ok {
			i = len(groups)
			index[zone] = i
			groups = append(groups, zoneGroup{city: u.City})
		}
		groups[i].users = append(groups[i].users, u)
	}
	return groups
}

package app

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lamcalendar/notifier/internal/services/notifications/dispatch"
	"github.com/lamcalendar/notifier/internal/services/notifications/domain"
	"github.com/lamcalendar/notifier/internal/services/notifications/render"
	"github.com/lamcalendar/notifier/internal/services/notifications/storage"
)

type memoryDirectory struct {
	events map[int64]domain.Event
	users  map[int64]domain.User
}

func (d *memoryDirectory) EventsStartingBetween(_ context.Context, from, to time.Time) ([]domain.Event, error) {
	out := make([]domain.Event, 0)
	for _, e := range d.events {
		if !e.Start.Before(from) && !e.Start.After(to) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (d *memoryDirectory) EventByID(_ context.Context, id int64) (domain.Event, error) {
	e, ok := d.events[id]
	if !ok {
		return domain.Event{}, storage.ErrNotFound
	}
	return e, nil
}

func (d *memoryDirectory) UserByID(_ context.Context, id int64) (domain.User, error) {
	u, ok := d.users[id]
	if !ok {
		return domain.User{}, storage.ErrNotFound
	}
	return u, nil
}

type delivered struct {
	notification domain.Notification
	recipients   []domain.User
}

type recordingSender struct {
	mu   sync.Mutex
	sent []delivered
}

func (r *recordingSender) Send(_ context.Context, n domain.Notification, recipients []domain.User) dispatch.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, delivered{notification: n, recipients: recipients})
	return dispatch.Report{}
}

func (r *recordingSender) emails() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0)
	for _, d := range r.sent {
		for _, u := range d.recipients {
			out = append(out, u.Email)
		}
	}
	sort.Strings(out)
	return out
}

func calendarFixture() *memoryDirectory {
	all := map[domain.Category]domain.Preference{}
	for _, c := range domain.Categories() {
		all[c] = domain.PreferenceAll
	}
	user := func(id int64, name, email string, city domain.City) domain.User {
		return domain.User{ID: id, Name: name, Email: email, City: city, Settings: domain.NotificationSettings{Preferences: all}}
	}
	return &memoryDirectory{
		users: map[int64]domain.User{
			1: user(1, "Olga", "org@example.com", domain.CityLondon),
			2: user(2, "Adam", "admin@example.com", domain.CityParis),
			3: user(3, "Gina", "guest@example.com", domain.CityNewYork),
			4: user(4, "Tess", "tentative@example.com", domain.CityLondon),
		},
		events: map[int64]domain.Event{
			10: {
				ID:    10,
				Title: "Kickoff",
				Start: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
				Roles: []domain.Role{
					{UserID: 1, Email: "org@example.com", Type: domain.RoleOrganizer, Status: domain.StatusApproved},
					{UserID: 2, Email: "admin@example.com", Type: domain.RoleAdmin, Status: domain.StatusApproved},
					{UserID: 3, Email: "guest@example.com", Type: domain.RoleGuest, Status: domain.StatusRejected},
					{UserID: 4, Email: "tentative@example.com", Type: domain.RoleGuest, Status: domain.StatusTentative},
				},
			},
		},
	}
}

func newTestEngine(t *testing.T, dir storage.Directory) (*Engine, *recordingSender) {
	t.Helper()
	sender := &recordingSender{}
	engine, err := NewEngine(dir, render.NewFactory(), sender)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine, sender
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewEngineRequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewEngine(nil, render.NewFactory(), &recordingSender{}); !errors.Is(err, ErrDirectoryNotConfigured) {
		t.Fatalf("expected ErrDirectoryNotConfigured, got %v", err)
	}
	if _, err := NewEngine(&memoryDirectory{}, nil, &recordingSender{}); err == nil {
		t.Fatal("expected builder error")
	}
	if _, err := NewEngine(&memoryDirectory{}, render.NewFactory(), nil); err == nil {
		t.Fatal("expected sender error")
	}
}

func TestPublishAudiences(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		publish func(*Engine) error
		want    []string
	}{
		{
			name:    "event changed reaches every holder",
			publish: func(e *Engine) error { return e.PublishEventChanged(context.Background(), 10) },
			want:    []string{"admin@example.com", "guest@example.com", "org@example.com", "tentative@example.com"},
		},
		{
			name:    "invite reaches the guest",
			publish: func(e *Engine) error { return e.PublishGuestInvited(context.Background(), 10, 3) },
			want:    []string{"guest@example.com"},
		},
		{
			name:    "uninvite reaches the guest",
			publish: func(e *Engine) error { return e.PublishGuestUninvited(context.Background(), 10, 4) },
			want:    []string{"tentative@example.com"},
		},
		{
			name:    "status change reaches admins and organizer",
			publish: func(e *Engine) error { return e.PublishStatusChanged(context.Background(), 10, 3) },
			want:    []string{"admin@example.com", "org@example.com"},
		},
		{
			name:    "role change reaches the subject",
			publish: func(e *Engine) error { return e.PublishRoleChanged(context.Background(), 10, 2) },
			want:    []string{"admin@example.com"},
		},
		{
			name:    "registration reaches the new user",
			publish: func(e *Engine) error { return e.PublishRegistered(context.Background(), 4) },
			want:    []string{"tentative@example.com"},
		},
		{
			name:    "cancel skips the canceling organizer",
			publish: func(e *Engine) error { return e.PublishEventCanceledByID(context.Background(), 10, 1) },
			want:    []string{"admin@example.com", "guest@example.com", "tentative@example.com"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			engine, sender := newTestEngine(t, calendarFixture())
			if err := tc.publish(engine); err != nil {
				t.Fatalf("publish: %v", err)
			}
			if got := sender.emails(); !equalStrings(got, tc.want) {
				t.Fatalf("recipients = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPublishEventChangedRendersPerZone(t *testing.T) {
	t.Parallel()

	engine, sender := newTestEngine(t, calendarFixture())
	if err := engine.PublishEventChanged(context.Background(), 10); err != nil {
		t.Fatalf("publish: %v", err)
	}
	bodies := map[string]string{}
	for _, d := range sender.sent {
		for _, u := range d.recipients {
			bodies[u.Email] = d.notification.Body()
		}
	}
	if !strings.Contains(bodies["org@example.com"], "13:00 BST") {
		t.Fatalf("london body = %q", bodies["org@example.com"])
	}
	if !strings.Contains(bodies["admin@example.com"], "14:00 CEST") {
		t.Fatalf("paris body = %q", bodies["admin@example.com"])
	}
	if !strings.Contains(bodies["guest@example.com"], "08:00 EDT") {
		t.Fatalf("new york body = %q", bodies["guest@example.com"])
	}
	if len(sender.sent) != 3 {
		t.Fatalf("notifications = %d, want one per zone", len(sender.sent))
	}
}

func TestPublishStatusChangedNamesActorAndStatus(t *testing.T) {
	t.Parallel()

	engine, sender := newTestEngine(t, calendarFixture())
	if err := engine.PublishStatusChanged(context.Background(), 10, 3); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for _, d := range sender.sent {
		if !strings.Contains(d.notification.Body(), "User Gina rejected event 'Kickoff'") {
			t.Fatalf("body = %q", d.notification.Body())
		}
	}
}

func TestPublishEventCanceledUsesSnapshot(t *testing.T) {
	t.Parallel()

	dir := calendarFixture()
	snapshot := dir.events[10]
	delete(dir.events, 10)

	engine, sender := newTestEngine(t, dir)
	if err := engine.PublishEventCanceled(context.Background(), snapshot, 1); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(sender.emails()) != 3 {
		t.Fatalf("recipients = %v", sender.emails())
	}
	for _, d := range sender.sent {
		if d.notification.Title() != "Event Canceled" {
			t.Fatalf("title = %q", d.notification.Title())
		}
	}
}

func TestPublishRegisteredCarriesNoEvent(t *testing.T) {
	t.Parallel()

	engine, sender := newTestEngine(t, calendarFixture())
	if err := engine.PublishRegistered(context.Background(), 1); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("notifications = %d", len(sender.sent))
	}
	if _, ok := sender.sent[0].notification.Event(); ok {
		t.Fatal("welcome notification should not carry an event")
	}
	if !strings.Contains(sender.sent[0].notification.Body(), render.DefaultClientURL) {
		t.Fatalf("body = %q", sender.sent[0].notification.Body())
	}
}

func TestPublishLookupErrors(t *testing.T) {
	t.Parallel()

	engine, sender := newTestEngine(t, calendarFixture())
	ctx := context.Background()

	if err := engine.PublishEventChanged(ctx, 999); !errors.Is(err, domain.ErrEventNotFound) {
		t.Fatalf("missing event = %v, want domain.ErrEventNotFound", err)
	}
	if err := engine.PublishGuestInvited(ctx, 10, 999); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("missing user = %v, want domain.ErrUserNotFound", err)
	}
	if err := engine.PublishRegistered(ctx, 0); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("zero user = %v, want domain.ErrInvalidArgument", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("unexpected deliveries: %d", len(sender.sent))
	}
}

func TestPublishSkipsHoldersWithoutUserRecord(t *testing.T) {
	t.Parallel()

	dir := calendarFixture()
	delete(dir.users, 4)
	engine, sender := newTestEngine(t, dir)
	if err := engine.PublishEventChanged(context.Background(), 10); err != nil {
		t.Fatalf("publish: %v", err)
	}
	want := []string{"admin@example.com", "guest@example.com", "org@example.com"}
	if got := sender.emails(); !equalStrings(got, want) {
		t.Fatalf("recipients = %v, want %v", got, want)
	}
}

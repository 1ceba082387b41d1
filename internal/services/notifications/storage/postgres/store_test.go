package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/lamcalendar/notifier/internal/services/notifications/domain"
	"github.com/lamcalendar/notifier/internal/services/notifications/storage"
)

const testDSNEnv = "CALENDAR_NOTIFICATIONS_TEST_POSTGRES_DSN"

func TestOpenRequiresDSN(t *testing.T) {
	t.Parallel()

	if _, err := Open(" "); err == nil {
		t.Fatal("expected empty dsn error")
	}
}

func TestNewRequiresDB(t *testing.T) {
	t.Parallel()

	if _, err := New(nil); err == nil {
		t.Fatal("expected nil db error")
	}
}

func TestEventModelToDomainKeepsRoleOrder(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	model := eventModel{
		ID:              4,
		Title:           "Review",
		DurationSeconds: 1800,
		StartAt:         start,
		Roles: []eventRoleModel{
			{UserID: 2, RoleType: "ORGANIZER", Status: "APPROVED", Shown: true, User: userModel{Email: "b@example.com"}},
			{UserID: 1, RoleType: "guest", Status: "bogus", User: userModel{Email: "a@example.com"}},
		},
	}
	event := model.toDomain()
	if event.Duration != 30*time.Minute || !event.Start.Equal(start) {
		t.Fatalf("event = %+v", event)
	}
	if len(event.Roles) != 2 || event.Roles[0].UserID != 2 || event.Roles[1].Email != "a@example.com" {
		t.Fatalf("roles = %+v", event.Roles)
	}
	if event.Roles[1].Type != domain.RoleGuest {
		t.Fatalf("role type = %q, want GUEST", event.Roles[1].Type)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv(testDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", testDSNEnv)
	}

	store, err := Open(dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second).Add(time.Hour)
	userID := base.Unix()
	eventID := base.Unix()
	t.Cleanup(func() {
		_ = store.db.Delete(&eventModel{}, eventID).Error
		_ = store.db.Delete(&userModel{}, userID).Error
	})

	if err := store.PutUser(ctx, domain.User{
		ID:    userID,
		Email: "pg-roundtrip@example.com",
		City:  domain.CityParis,
		Settings: domain.NotificationSettings{
			LeadTime:    domain.LeadTimeOneHour,
			Preferences: map[domain.Category]domain.Preference{domain.CategoryUpcomingEvent: domain.PreferenceEmail},
		},
	}); err != nil {
		t.Fatalf("put user: %v", err)
	}
	if err := store.PutEvent(ctx, domain.Event{
		ID:    eventID,
		Title: "pg",
		Start: base,
		Roles: []domain.Role{{UserID: userID, Type: domain.RoleOrganizer, Status: domain.StatusApproved, Shown: true}},
	}); err != nil {
		t.Fatalf("put event: %v", err)
	}

	user, err := store.UserByID(ctx, userID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.Settings.Preference(domain.CategoryUpcomingEvent) != domain.PreferenceEmail {
		t.Fatalf("preferences = %v", user.Settings.Preferences)
	}

	events, err := store.EventsStartingBetween(ctx, base.Add(-time.Second), base.Add(time.Second))
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	found := false
	for _, event := range events {
		if event.ID == eventID {
			found = true
			if len(event.Roles) != 1 || event.Roles[0].Email != "pg-roundtrip@example.com" {
				t.Fatalf("roles = %+v", event.Roles)
			}
		}
	}
	if !found {
		t.Fatalf("event %d not listed", eventID)
	}

	if err := store.DeleteEvent(ctx, eventID); err != nil {
		t.Fatalf("delete event: %v", err)
	}
	if _, err := store.EventByID(ctx, eventID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

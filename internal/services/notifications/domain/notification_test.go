package domain

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestNewNotification_NormalizesRecipients(t *testing.T) {
	t.Parallel()

	n := NewNotification(NotificationInput{
		ID:         "notif-1",
		Category:   CategoryEventChanged,
		Title:      "Event Changed",
		Body:       "body",
		Recipients: []string{" a@example.com", "B@example.com", "", "A@EXAMPLE.COM"},
	})

	want := []string{"a@example.com", "B@example.com"}
	if !reflect.DeepEqual(n.Recipients(), want) {
		t.Fatalf("recipients = %v, want %v", n.Recipients(), want)
	}
	if !n.HasRecipient("b@EXAMPLE.com") {
		t.Fatal("expected case-insensitive recipient match")
	}
	if _, ok := n.Event(); ok {
		t.Fatal("expected no event snapshot")
	}
}

func TestNotification_IsImmutable(t *testing.T) {
	t.Parallel()

	recipients := []string{"a@example.com"}
	summary := &EventSummary{ID: 1, Title: "Original"}
	n := NewNotification(NotificationInput{Recipients: recipients, Event: summary})

	recipients[0] = "mutated@example.com"
	summary.Title = "Mutated"
	n.Recipients()[0] = "mutated@example.com"

	if got := n.Recipients()[0]; got != "a@example.com" {
		t.Fatalf("recipient = %q, want original", got)
	}
	event, _ := n.Event()
	if event.Title != "Original" {
		t.Fatalf("event title = %q, want original", event.Title)
	}
}

func TestNotification_ForNarrowsAudience(t *testing.T) {
	t.Parallel()

	n := NewNotification(NotificationInput{
		ID:         "notif-1",
		Category:   CategoryEventChanged,
		Recipients: []string{"a@example.com", "b@example.com"},
	})
	narrowed := n.For("b@example.com")
	if !reflect.DeepEqual(narrowed.Recipients(), []string{"b@example.com"}) {
		t.Fatalf("narrowed recipients = %v", narrowed.Recipients())
	}
	if len(n.Recipients()) != 2 {
		t.Fatal("expected original notification to keep its audience")
	}
	if narrowed.ID() != n.ID() {
		t.Fatal("expected narrowed copy to keep the id")
	}
}

func TestNotification_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	n := NewNotification(NotificationInput{
		ID:         "notif-1",
		Category:   CategoryUpcomingEvent,
		Title:      "Upcoming event",
		Body:       "soon",
		Recipients: []string{"a@example.com"},
		Event:      &EventSummary{ID: 3, Title: "Standup", Start: start, Duration: 30 * time.Minute},
	})

	data, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Notification
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.ID() != "notif-1" || decoded.Category() != CategoryUpcomingEvent || decoded.Body() != "soon" {
		t.Fatalf("decoded = %+v", decoded)
	}
	event, ok := decoded.Event()
	if !ok || !event.Start.Equal(start) {
		t.Fatalf("decoded event = %+v, ok=%v", event, ok)
	}
}

func TestAttachesCalendar(t *testing.T) {
	t.Parallel()

	if !AttachesCalendar(CategoryInviteGuest) || !AttachesCalendar(CategoryUpcomingEvent) || !AttachesCalendar(CategoryEventChanged) {
		t.Fatal("expected invite, upcoming and changed mail to carry a calendar entry")
	}
	if AttachesCalendar(CategoryRegister) || AttachesCalendar(CategoryCancelEvent) {
		t.Fatal("expected register and cancel mail without a calendar entry")
	}
}

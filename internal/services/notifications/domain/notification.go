package domain

import (
	"encoding/json"
	"strings"
)

// Notification is one rendered message for an ordered set of recipients.
// It is built fresh per dispatch and never mutated; accessors return copies.
type Notification struct {
	id         string
	category   Category
	title      string
	body       string
	recipients []string
	event      *EventSummary
}

// NotificationInput carries the fields of a new Notification.
type NotificationInput struct {
	ID         string
	Category   Category
	Title      string
	Body       string
	Recipients []string
	Event      *EventSummary
}

// NewNotification builds a Notification. Recipient emails are trimmed, blank
// ones dropped and duplicates (case-insensitive) removed, keeping first order.
func NewNotification(input NotificationInput) Notification {
	n := Notification{
		id:         strings.TrimSpace(input.ID),
		category:   input.Category,
		title:      input.Title,
		body:       input.Body,
		recipients: uniqueEmails(input.Recipients),
	}
	if input.Event != nil {
		summary := *input.Event
		n.event = &summary
	}
	return n
}

// ID returns the notification identifier.
func (n Notification) ID() string { return n.id }

// Category returns the trigger category.
func (n Notification) Category() Category { return n.category }

// Title returns the short label.
func (n Notification) Title() string { return n.title }

// Body returns the rendered message text.
func (n Notification) Body() string { return n.body }

// Recipients returns a copy of the recipient emails.
func (n Notification) Recipients() []string {
	out := make([]string, len(n.recipients))
	copy(out, n.recipients)
	return out
}

// Event returns the attached event snapshot, if any.
func (n Notification) Event() (EventSummary, bool) {
	if n.event == nil {
		return EventSummary{}, false
	}
	return *n.event, true
}

// HasRecipient reports whether email is among the recipients.
func (n Notification) HasRecipient(email string) bool {
	key := NormalizeEmail(email)
	for _, r := range n.recipients {
		if NormalizeEmail(r) == key {
			return true
		}
	}
	return false
}

// For returns a copy addressed to email alone, so a per-user push payload
// never reveals the rest of the audience.
func (n Notification) For(email string) Notification {
	narrowed := n
	narrowed.recipients = uniqueEmails([]string{email})
	return narrowed
}

type notificationJSON struct {
	ID         string        `json:"id"`
	Category   Category      `json:"category"`
	Title      string        `json:"title"`
	Body       string        `json:"body"`
	Recipients []string      `json:"recipients"`
	Event      *EventSummary `json:"event,omitempty"`
}

// MarshalJSON encodes the notification for push payloads.
func (n Notification) MarshalJSON() ([]byte, error) {
	return json.Marshal(notificationJSON{
		ID:         n.id,
		Category:   n.category,
		Title:      n.title,
		Body:       n.body,
		Recipients: n.Recipients(),
		Event:      n.event,
	})
}

// UnmarshalJSON decodes a push payload.
func (n *Notification) UnmarshalJSON(data []byte) error {
	var raw notificationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*n = NewNotification(NotificationInput{
		ID:         raw.ID,
		Category:   raw.Category,
		Title:      raw.Title,
		Body:       raw.Body,
		Recipients: raw.Recipients,
		Event:      raw.Event,
	})
	return nil
}

// AttachesCalendar reports whether mail for category carries an .ics entry.
func AttachesCalendar(category Category) bool {
	switch category {
	case CategoryInviteGuest, CategoryEventChanged, CategoryUpcomingEvent:
		return true
	default:
		return false
	}
}

func uniqueEmails(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	out := make([]string, 0, len(emails))
	for _, email := range emails {
		trimmed := strings.TrimSpace(email)
		key := NormalizeEmail(trimmed)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

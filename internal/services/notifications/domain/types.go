package domain

import (
	"strings"
	"time"
)

// Category identifies the kind of domain change that can cause a notification.
type Category string

const (
	CategoryEventChanged  Category = "event_changed"
	CategoryInviteGuest   Category = "invite_guest"
	CategoryUninviteGuest Category = "uninvite_guest"
	CategoryUserStatus    Category = "user_status"
	CategoryUserRole      Category = "user_role"
	CategoryCancelEvent   Category = "cancel_event"
	CategoryUpcomingEvent Category = "upcoming_event"
	CategoryRegister      Category = "register"
)

var categories = []Category{
	CategoryEventChanged,
	CategoryInviteGuest,
	CategoryUninviteGuest,
	CategoryUserStatus,
	CategoryUserRole,
	CategoryCancelEvent,
	CategoryUpcomingEvent,
	CategoryRegister,
}

// Categories returns every trigger category in settings order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// ParseCategory normalizes a category token, reporting whether it is known.
func ParseCategory(raw string) (Category, bool) {
	candidate := Category(normalizeToken(raw))
	for _, c := range categories {
		if c == candidate {
			return c, true
		}
	}
	return "", false
}

// Preference is a user's delivery choice for one category.
type Preference string

const (
	PreferenceNone  Preference = "NONE"
	PreferenceEmail Preference = "EMAIL"
	PreferencePopup Preference = "POPUP"
	PreferenceAll   Preference = "ALL"
)

// ParsePreference maps a stored token to a Preference. Anything unrecognised
// is PreferenceNone so a malformed value can never trigger delivery.
func ParsePreference(raw string) Preference {
	switch p := Preference(strings.ToUpper(strings.TrimSpace(raw))); p {
	case PreferenceEmail, PreferencePopup, PreferenceAll:
		return p
	default:
		return PreferenceNone
	}
}

// LeadTime is how far ahead of an event the upcoming reminder fires.
type LeadTime string

const (
	LeadTimeUnset         LeadTime = ""
	LeadTimeTenMinutes    LeadTime = "TEN_MINUTES"
	LeadTimeThirtyMinutes LeadTime = "THIRTY_MINUTES"
	LeadTimeOneHour       LeadTime = "ONE_HOUR"
	LeadTimeOneDay        LeadTime = "ONE_DAY"
)

var leadSeconds = map[LeadTime]int{
	LeadTimeTenMinutes:    600,
	LeadTimeThirtyMinutes: 1800,
	LeadTimeOneHour:       3600,
	LeadTimeOneDay:        86400,
}

// ParseLeadTime maps a stored token to a LeadTime; unknown tokens are unset.
func ParseLeadTime(raw string) LeadTime {
	l := LeadTime(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := leadSeconds[l]; ok {
		return l
	}
	return LeadTimeUnset
}

// Seconds returns the lead time in seconds, or 0 when unset or unknown.
func (l LeadTime) Seconds() int {
	return leadSeconds[l]
}

// RoleType is a user's position on one event.
type RoleType string

const (
	RoleOrganizer RoleType = "ORGANIZER"
	RoleAdmin     RoleType = "ADMIN"
	RoleGuest     RoleType = "GUEST"
)

// ParseRoleType maps a stored token to a RoleType, defaulting to guest.
func ParseRoleType(raw string) RoleType {
	switch r := RoleType(strings.ToUpper(strings.TrimSpace(raw))); r {
	case RoleOrganizer, RoleAdmin:
		return r
	default:
		return RoleGuest
	}
}

// StatusType is a role holder's answer to the invitation.
type StatusType string

const (
	StatusTentative StatusType = "TENTATIVE"
	StatusApproved  StatusType = "APPROVED"
	StatusRejected  StatusType = "REJECTED"
)

// ParseStatusType maps a stored token to a StatusType, defaulting to tentative.
func ParseStatusType(raw string) StatusType {
	switch s := StatusType(strings.ToUpper(strings.TrimSpace(raw))); s {
	case StatusApproved, StatusRejected:
		return s
	default:
		return StatusTentative
	}
}

// NotificationSettings holds one user's per-category delivery choices.
type NotificationSettings struct {
	Preferences map[Category]Preference
	LeadTime    LeadTime
}

// Preference returns the normalized choice for category; missing is NONE.
func (s NotificationSettings) Preference(category Category) Preference {
	if s.Preferences == nil {
		return PreferenceNone
	}
	return ParsePreference(string(s.Preferences[category]))
}

// User is a calendar account as seen by the notifier.
type User struct {
	ID       int64
	Name     string
	Email    string
	City     City
	Settings NotificationSettings
}

// Role binds one user to one event.
type Role struct {
	UserID int64
	Email  string
	Type   RoleType
	Status StatusType
	Shown  bool
}

// Event is a calendar entry with its role holders in stored order.
type Event struct {
	ID          int64
	Title       string
	Description string
	Location    string
	Duration    time.Duration
	IsPublic    bool
	Start       time.Time
	Roles       []Role
}

// RoleOf returns the role userID holds on the event.
func (e Event) RoleOf(userID int64) (Role, bool) {
	for _, role := range e.Roles {
		if role.UserID == userID {
			return role, true
		}
	}
	return Role{}, false
}

// Organizer returns the event's organizer role.
func (e Event) Organizer() (Role, bool) {
	for _, role := range e.Roles {
		if role.Type == RoleOrganizer {
			return role, true
		}
	}
	return Role{}, false
}

// Summary returns the event fields carried inside a notification.
func (e Event) Summary() EventSummary {
	return EventSummary{
		ID:          e.ID,
		Title:       e.Title,
		Description: e.Description,
		Location:    e.Location,
		Start:       e.Start,
		Duration:    e.Duration,
	}
}

// EventSummary is the immutable event snapshot attached to a notification.
type EventSummary struct {
	ID          int64         `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Location    string        `json:"location,omitempty"`
	Start       time.Time     `json:"start"`
	Duration    time.Duration `json:"duration"`
}

// NormalizeEmail lowercases and trims an address for identity comparison.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func normalizeToken(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

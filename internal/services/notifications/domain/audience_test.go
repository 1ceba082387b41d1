package domain

import (
	"errors"
	"reflect"
	"testing"
)

func sampleEvent() Event {
	return Event{
		ID:    7,
		Title: "Planning",
		Roles: []Role{
			{UserID: 1, Email: "a@example.com", Type: RoleOrganizer, Status: StatusApproved},
			{UserID: 2, Email: "b@example.com", Type: RoleAdmin, Status: StatusApproved},
			{UserID: 3, Email: "c@example.com", Type: RoleGuest, Status: StatusTentative},
		},
	}
}

func emailsOf(members []Member) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.Email)
	}
	return out
}

func TestSelectAudience(t *testing.T) {
	t.Parallel()

	event := sampleEvent()
	guest := Subject{UserID: 3, Email: "c@example.com"}
	newcomer := Subject{UserID: 9, Email: "new@example.com"}

	testCases := []struct {
		name    string
		trigger Category
		subject Subject
		want    []string
	}{
		{name: "event changed reaches every holder", trigger: CategoryEventChanged, subject: guest, want: []string{"a@example.com", "b@example.com", "c@example.com"}},
		{name: "status changed reaches admins and organizer", trigger: CategoryUserStatus, subject: guest, want: []string{"a@example.com", "b@example.com"}},
		{name: "invite reaches the invited user", trigger: CategoryInviteGuest, subject: newcomer, want: []string{"new@example.com"}},
		{name: "uninvite reaches the removed user", trigger: CategoryUninviteGuest, subject: newcomer, want: []string{"new@example.com"}},
		{name: "role change reaches the subject", trigger: CategoryUserRole, subject: guest, want: []string{"c@example.com"}},
		{name: "upcoming reaches the evaluated holder", trigger: CategoryUpcomingEvent, subject: guest, want: []string{"c@example.com"}},
		{name: "register reaches the new user", trigger: CategoryRegister, subject: newcomer, want: []string{"new@example.com"}},
		{name: "cancel skips the acting organizer", trigger: CategoryCancelEvent, subject: Subject{UserID: 1, Email: "a@example.com"}, want: []string{"b@example.com", "c@example.com"}},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := SelectAudience(tc.trigger, event, tc.subject)
			if err != nil {
				t.Fatalf("select audience: %v", err)
			}
			if !reflect.DeepEqual(emailsOf(got), tc.want) {
				t.Fatalf("audience = %v, want %v", emailsOf(got), tc.want)
			}
		})
	}
}

func TestSelectAudience_DeduplicatesByEmail(t *testing.T) {
	t.Parallel()

	event := sampleEvent()
	event.Roles = append(event.Roles,
		Role{UserID: 4, Email: " A@Example.com ", Type: RoleAdmin},
		Role{UserID: 5, Email: "", Type: RoleGuest},
	)

	got, err := SelectAudience(CategoryEventChanged, event, Subject{})
	if err != nil {
		t.Fatalf("select audience: %v", err)
	}
	want := []string{"a@example.com", "b@example.com", "c@example.com"}
	if !reflect.DeepEqual(emailsOf(got), want) {
		t.Fatalf("audience = %v, want %v", emailsOf(got), want)
	}
}

func TestSelectAudience_UnknownTrigger(t *testing.T) {
	t.Parallel()

	if _, err := SelectAudience(Category("party"), sampleEvent(), Subject{}); !errors.Is(err, ErrUnknownTrigger) {
		t.Fatalf("expected ErrUnknownTrigger, got %v", err)
	}
}

func TestSelectAudience_EveryCategoryHasARule(t *testing.T) {
	t.Parallel()

	for _, c := range Categories() {
		if _, ok := audienceRules[c]; !ok {
			t.Fatalf("category %q has no audience rule", c)
		}
	}
}

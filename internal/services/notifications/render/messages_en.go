package render

import (
	"github.com/lamcalendar/notifier/internal/services/notifications/domain"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var titles = map[domain.Category]string{
	domain.CategoryEventChanged:  "Event Changed",
	domain.CategoryInviteGuest:   "New Event Invitation",
	domain.CategoryUninviteGuest: "UnInvitation from Event",
	domain.CategoryUserStatus:    "User status",
	domain.CategoryUserRole:      "User role",
	domain.CategoryCancelEvent:   "Event Canceled",
	domain.CategoryUpcomingEvent: "Upcoming event",
	domain.CategoryRegister:      "Welcome to Calendar App",
}

var bodies = map[domain.Category]string{
	domain.CategoryEventChanged:  "Event '%s' at %s was changed!",
	domain.CategoryInviteGuest:   "You were invited to Event '%s' at %s !",
	domain.CategoryUninviteGuest: "You were uninvited from Event '%s' at %s !",
	domain.CategoryUserRole:      "Your role at Event '%s' at %s was changed!",
	domain.CategoryCancelEvent:   "Event '%s' at %s was canceled!",
	domain.CategoryUpcomingEvent: "Event '%s' at %s is coming",
	domain.CategoryRegister:      "You registered to Calendar App\n\nWelcome!\nVisit us at: %s",
}

var statusBodies = map[domain.StatusType]string{
	domain.StatusApproved:  "User %s approved event '%s' at %s !",
	domain.StatusRejected:  "User %s rejected event '%s' at %s !",
	domain.StatusTentative: "User %s is tentative about event '%s' at %s !",
	"":                     "User %s is tentative about event '%s' at %s !",
}

var roleBodies = map[domain.RoleType]string{
	domain.RoleAdmin: "You are now admin at Event '%s' at %s !",
	domain.RoleGuest: "You are now guest at Event '%s' at %s !",
}

func init() {
	lang := language.English

	for category, title := range titles {
		message.SetString(lang, "notification."+string(category)+".title", title)
	}
	for category, body := range bodies {
		message.SetString(lang, "notification."+string(category)+".body", body)
	}
	message.SetString(lang, "notification.user_status.body.approved", statusBodies[domain.StatusApproved])
	message.SetString(lang, "notification.user_status.body.rejected", statusBodies[domain.StatusRejected])
	message.SetString(lang, "notification.user_status.body.tentative", statusBodies[domain.StatusTentative])
	message.SetString(lang, "notification.user_role.body.admin", roleBodies[domain.RoleAdmin])
	message.SetString(lang, "notification.user_role.body.guest", roleBodies[domain.RoleGuest])
}

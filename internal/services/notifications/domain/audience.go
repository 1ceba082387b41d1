package domain

import "errors"

// ErrUnknownTrigger indicates a category with no audience rule.
var ErrUnknownTrigger = errors.New("unknown notification trigger")

// Member is one selected recipient before settings are resolved.
type Member struct {
	UserID int64
	Email  string
}

// Subject is the user a trigger is about: the invited or removed guest, the
// user whose status or role changed, the newly registered user, the holder
// evaluated on a scheduler tick, or the organizer who cancelled.
type Subject struct {
	UserID int64
	Email  string
}

type audienceRule func(event Event, subject Subject) []Member

var audienceRules = map[Category]audienceRule{
	CategoryEventChanged:  allHolders,
	CategoryInviteGuest:   subjectOnly,
	CategoryUninviteGuest: subjectOnly,
	CategoryUserStatus:    holdersWithType(RoleAdmin, RoleOrganizer),
	CategoryUserRole:      subjectOnly,
	CategoryUpcomingEvent: subjectOnly,
	CategoryRegister:      subjectOnly,
	CategoryCancelEvent:   allHoldersExceptSubject,
}

// SelectAudience returns the recipients for trigger on event, ordered by
// first appearance and de-duplicated by email. Members without an email are
// dropped.
func SelectAudience(trigger Category, event Event, subject Subject) ([]Member, error) {
	rule, ok := audienceRules[trigger]
	if !ok {
		return nil, ErrUnknownTrigger
	}
	return dedupeMembers(rule(event, subject)), nil
}

func allHolders(event Event, _ Subject) []Member {
	members := make([]Member, 0, len(event.Roles))
	for _, role := range event.Roles {
		members = append(members, Member{UserID: role.UserID, Email: role.Email})
	}
	return members
}

func allHoldersExceptSubject(event Event, subject Subject) []Member {
	members := make([]Member, 0, len(event.Roles))
	for _, role := range event.Roles {
		if role.UserID == subject.UserID {
			continue
		}
		members = append(members, Member{UserID: role.UserID, Email: role.Email})
	}
	return members
}

func holdersWithType(types ...RoleType) audienceRule {
	allowed := make(map[RoleType]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	return func(event Event, _ Subject) []Member {
		members := make([]Member, 0, len(event.Roles))
		for _, role := range event.Roles {
			if _, ok := allowed[role.Type]; ok {
				members = append(members, Member{UserID: role.UserID, Email: role.Email})
			}
		}
		return members
	}
}

func subjectOnly(_ Event, subject Subject) []Member {
	return []Member{{UserID: subject.UserID, Email: subject.Email}}
}

func dedupeMembers(members []Member) []Member {
	seen := make(map[string]struct{}, len(members))
	out := make([]Member, 0, len(members))
	for _, m := range members {
		key := NormalizeEmail(m.Email)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	return out
}

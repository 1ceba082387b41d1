package domain

import "time"

// DefaultPollIntervalSeconds is the scheduler tick period the reminder
// windows are sized for.
const DefaultPollIntervalSeconds = 60

// MaxLeadHorizon is the furthest ahead any lead time reaches; the scheduler
// only loads events starting within it.
const MaxLeadHorizon = 24 * time.Hour

// Window is the span of "event start minus now" values for which a reminder
// is due on the current tick. Lower is always exclusive.
type Window struct {
	Lower          time.Duration
	Upper          time.Duration
	UpperInclusive bool
}

// Contains reports whether delta falls inside the window.
func (w Window) Contains(delta time.Duration) bool {
	if delta <= w.Lower {
		return false
	}
	if w.UpperInclusive {
		return delta <= w.Upper
	}
	return delta < w.Upper
}

// DueWindow sizes the window so that at most one tick spaced
// pollIntervalSeconds apart lands inside it.
//
// The day-ahead reminder uses (lead-poll, lead] so it fires on the first tick
// at or past the 24h mark. Shorter leads use the open interval
// (lead-poll/2, lead+poll/2) centred on the target; ticks landing exactly on
// both edges fall outside it and that reminder is not sent.
func DueWindow(lead LeadTime, pollIntervalSeconds int) Window {
	target := time.Duration(lead.Seconds()) * time.Second
	poll := time.Duration(pollIntervalSeconds) * time.Second
	if lead == LeadTimeOneDay {
		return Window{Lower: target - poll, Upper: target, UpperInclusive: true}
	}
	half := poll / 2
	return Window{Lower: target - half, Upper: target + half}
}

// IsDue reports whether the tick at now is the one that should fire the
// reminder for an event starting at eventStart.
func IsDue(eventStart, now time.Time, lead LeadTime, pollIntervalSeconds int) bool {
	return DueWindow(lead, pollIntervalSeconds).Contains(eventStart.Sub(now))
}

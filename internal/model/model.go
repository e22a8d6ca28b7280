package model

import "time"

// CST is the fixed civil timezone every instant in the system is normalized
// into before any comparison. All course times, "now" values and anchor
// times live in this zone; nothing is ever compared across mixed offsets.
var CST = time.FixedZone("UTC+8", 8*60*60)

// CourseEvent is a single timed entry from a user's calendar feed,
// already normalized into CST by the parser. It is immutable after parse.
type CourseEvent struct {
	Summary     string
	Description string
	Location    string

	// Start / End are in CST, with Start < End.
	Start time.Time
	End   time.Time
}

// SameCivilDate reports whether the event starts on the same CST calendar
// day as t.
func (e CourseEvent) SameCivilDate(t time.Time) bool {
	ey, em, ed := e.Start.In(CST).Date()
	ty, tm, td := t.In(CST).Date()
	return ey == ty && em == tm && ed == td
}

// StatusKind classifies a user's resolved schedule status.
type StatusKind int

const (
	// StatusNone means no same-day event is ongoing or upcoming.
	StatusNone StatusKind = iota
	// StatusOngoing means an event contains "now" ([start, end)).
	StatusOngoing
	// StatusUpcoming means the nearest same-day event still ahead of "now".
	StatusUpcoming
)

func (k StatusKind) String() string {
	switch k {
	case StatusOngoing:
		return "ongoing"
	case StatusUpcoming:
		return "upcoming"
	default:
		return "none"
	}
}

// ResolvedStatus is the answer to "what is this user doing at instant now".
// It is derived, never persisted; recomputed on every query.
type ResolvedStatus struct {
	Kind  StatusKind
	Event CourseEvent // valid only when Kind != StatusNone

	// Remaining is end-now for an ongoing event; zero otherwise.
	Remaining time.Duration
	// Wait is start-now for an upcoming event; zero otherwise.
	Wait time.Duration
}

// Anchor returns the timestamp this status sorts by (the event's start),
// and false when the status carries no event.
func (s ResolvedStatus) Anchor() (time.Time, bool) {
	if s.Kind == StatusNone {
		return time.Time{}, false
	}
	return s.Event.Start, true
}

// UserBinding associates a chat identity with its stored feed in one group.
// At most one binding exists per (GroupID, UserID); a re-bind overwrites.
type UserBinding struct {
	UserID      string
	DisplayName string
	GroupID     string
}

// DisplayRecord is one row of the group status view.
type DisplayRecord struct {
	UserID      string
	DisplayName string
	Status      ResolvedStatus
}

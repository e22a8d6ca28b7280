// Package schedule contains the pure resolution logic: given a user's
// parsed course events and an explicit "now", decide what is left today and
// what a user is doing right now. Nothing in this package reads the clock.
package schedule

import (
	"sort"
	"time"

	"coursebot/internal/model"
)

// TodayRemaining returns the events whose start falls on the same CST
// calendar day as now AND is strictly after now, ascending by start.
// Events that already started are excluded even if still ongoing: this is
// the "what's left today" view, not "what's happening".
//
// Ties on identical starts keep feed order (stable sort). The input slice
// is not modified.
func TodayRemaining(events []model.CourseEvent, now time.Time) []model.CourseEvent {
	now = now.In(model.CST)

	out := make([]model.CourseEvent, 0)
	for _, ev := range events {
		if ev.SameCivilDate(now) && ev.Start.After(now) {
			out = append(out, ev)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// StatusAt resolves the single representative status for one user at now.
// Only events starting on now's CST calendar day are considered.
//
// Precedence: an ongoing event (start <= now < end) always beats any
// upcoming one. The scan walks events in feed order and stops at the first
// ongoing match, so when two feed entries overlap the earlier-appearing one
// is reported regardless of which starts first. Otherwise the minimum-start
// future event becomes Upcoming; with neither, the status is None.
func StatusAt(events []model.CourseEvent, now time.Time) model.ResolvedStatus {
	now = now.In(model.CST)

	var next *model.CourseEvent
	for i := range events {
		ev := events[i]
		if !ev.SameCivilDate(now) {
			continue
		}

		if !ev.Start.After(now) && now.Before(ev.End) {
			return model.ResolvedStatus{
				Kind:      model.StatusOngoing,
				Event:     ev,
				Remaining: ev.End.Sub(now),
			}
		}

		if ev.Start.After(now) {
			if next == nil || ev.Start.Before(next.Start) {
				next = &events[i]
			}
		}
	}

	if next != nil {
		return model.ResolvedStatus{
			Kind:  model.StatusUpcoming,
			Event: *next,
			Wait:  next.Start.Sub(now),
		}
	}

	return model.ResolvedStatus{Kind: model.StatusNone}
}

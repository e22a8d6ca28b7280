package schedule

import (
	"sort"
	"sync"
	"time"

	"coursebot/internal/ics"
	appLog "coursebot/internal/log"
	"coursebot/internal/model"
)

// FeedReader is what the aggregator needs from the binding store: locate
// and read one user's stored feed. Implemented by *store.Store.
type FeedReader interface {
	ReadFeed(b model.UserBinding) ([]byte, error)
}

// Aggregator resolves the status of every bound user in a group.
type Aggregator struct {
	feeds FeedReader
}

// NewAggregator returns an Aggregator reading feeds from the given source.
func NewAggregator(feeds FeedReader) *Aggregator {
	return &Aggregator{feeds: feeds}
}

// ResolveGroup computes one DisplayRecord per binding whose feed can be
// read and parsed, at the given now. Bindings with a missing or unreadable
// feed are silently omitted: one user's bad data never blocks the group
// view. Users whose feed parses are always included, even with a None
// status.
//
// Each binding's feed is independent read-only data, so all bindings are
// resolved concurrently and joined before sorting.
//
// Output order: ascending by anchor time (the status event's start);
// None-status records trail all dated records, keeping the input binding
// order among themselves. An empty result is the "nobody has anything"
// signal, not an error.
func (a *Aggregator) ResolveGroup(bindings []model.UserBinding, now time.Time) []model.DisplayRecord {
	now = now.In(model.CST)

	records := make([]*model.DisplayRecord, len(bindings))

	var wg sync.WaitGroup
	for i, b := range bindings {
		wg.Add(1)
		go func(i int, b model.UserBinding) {
			defer wg.Done()
			records[i] = a.resolveOne(b, now)
		}(i, b)
	}
	wg.Wait()

	out := make([]model.DisplayRecord, 0, len(bindings))
	for _, rec := range records {
		if rec != nil {
			out = append(out, *rec)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		ai, iOK := out[i].Status.Anchor()
		aj, jOK := out[j].Status.Anchor()
		switch {
		case iOK && jOK:
			return ai.Before(aj)
		case iOK:
			return true // dated records before None
		default:
			return false
		}
	})

	return out
}

// resolveOne returns nil when the binding's feed is missing or unparseable.
func (a *Aggregator) resolveOne(b model.UserBinding, now time.Time) *model.DisplayRecord {
	body, err := a.feeds.ReadFeed(b)
	if err != nil {
		appLog.Debug("group resolve: feed unreadable, omitting user",
			"group_id", b.GroupID, "user_id", b.UserID, "err", err)
		return nil
	}

	events, err := ics.ParseFeed(body)
	if err != nil {
		appLog.Error("group resolve: feed parse failed, omitting user", err,
			"group_id", b.GroupID, "user_id", b.UserID)
		return nil
	}

	return &model.DisplayRecord{
		UserID:      b.UserID,
		DisplayName: b.DisplayName,
		Status:      StatusAt(events, now),
	}
}

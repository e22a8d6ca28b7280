package store

import (
	"sync"
	"time"

	"coursebot/internal/model"
)

// BindRequest is the transient "waiting for a file" state opened by the
// bind command and consumed when the feed file arrives.
type BindRequest struct {
	GroupID     string
	UserID      string
	DisplayName string
	OpenedAt    time.Time
}

// BindRequests is the table of open bind requests, keyed by (group, user).
// At most one writer per key: a second bind request from the same user in
// the same group replaces the first. Expiry is checked against the caller's
// clock on every access; stale entries are reaped lazily, never by a
// background timer.
type BindRequests struct {
	window time.Duration

	mu      sync.Mutex
	entries map[requestKey]BindRequest
}

type requestKey struct {
	groupID string
	userID  string
}

// NewBindRequests creates a request table with the given open window.
func NewBindRequests(window time.Duration) *BindRequests {
	return &BindRequests{
		window:  window,
		entries: make(map[requestKey]BindRequest),
	}
}

// Open records a new bind request at now, replacing any previous one for
// the same (group, user).
func (r *BindRequests) Open(b model.UserBinding, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reapLocked(now)
	r.entries[requestKey{b.GroupID, b.UserID}] = BindRequest{
		GroupID:     b.GroupID,
		UserID:      b.UserID,
		DisplayName: b.DisplayName,
		OpenedAt:    now,
	}
}

// Claim consumes the open request for (groupID, userID) if one exists and
// has not expired by now. Expired entries are removed without matching.
func (r *BindRequests) Claim(groupID, userID string, now time.Time) (BindRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reapLocked(now)

	key := requestKey{groupID, userID}
	req, ok := r.entries[key]
	if !ok {
		return BindRequest{}, false
	}
	delete(r.entries, key)
	return req, true
}

// reapLocked drops entries whose window has elapsed. Caller holds r.mu.
func (r *BindRequests) reapLocked(now time.Time) {
	for key, req := range r.entries {
		if now.Sub(req.OpenedAt) > r.window {
			delete(r.entries, key)
		}
	}
}

// Package store owns persistent binding state: the group→user→nickname
// table (a single JSON document, loaded wholesale at startup and rewritten
// wholesale after every successful bind) and the feed files bindings point
// at. It also tracks transient bind requests (requests.go).
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	appLog "coursebot/internal/log"
	"coursebot/internal/model"
)

// Sentinel errors surfaced to callers with distinct user-visible messages.
var (
	// ErrNotBound means the (group, user) pair has no binding at all.
	ErrNotBound = errors.New("user not bound in this group")
	// ErrFeedMissing means a binding exists but its feed file is gone.
	ErrFeedMissing = errors.New("feed file missing")
)

const (
	bindingsFile = "bindings.json"
	feedsSubdir  = "ics"
)

// Store holds the in-memory binding table backed by <dataDir>/bindings.json.
type Store struct {
	dataDir string

	mu sync.RWMutex
	// groupID → userID → displayName
	table map[string]map[string]string
}

// Open loads (or initializes) the binding table under dataDir.
func Open(dataDir string) (*Store, error) {
	if dataDir == "" {
		return nil, errors.New("data dir is empty")
	}
	if err := os.MkdirAll(filepath.Join(dataDir, feedsSubdir), 0o700); err != nil {
		return nil, fmt.Errorf("init data dir: %w", err)
	}

	s := &Store{
		dataDir: dataDir,
		table:   make(map[string]map[string]string),
	}

	path := filepath.Join(dataDir, bindingsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			appLog.Info("no bindings file yet, starting empty", "path", path)
			return s, nil
		}
		return nil, fmt.Errorf("read bindings: %w", err)
	}

	if err := json.Unmarshal(data, &s.table); err != nil {
		return nil, fmt.Errorf("decode bindings: %w", err)
	}

	appLog.Info("bindings loaded", "path", path, "group_count", len(s.table))
	return s, nil
}

// Bind records (or overwrites) the binding for (groupID, userID) and
// persists the whole table. A re-bind replaces the previous display name.
func (s *Store) Bind(b model.UserBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.table[b.GroupID]
	if !ok {
		group = make(map[string]string)
		s.table[b.GroupID] = group
	}
	group[b.UserID] = b.DisplayName

	return s.saveLocked()
}

// Lookup returns the binding for (groupID, userID), if any.
func (s *Store) Lookup(groupID, userID string) (model.UserBinding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group, ok := s.table[groupID]
	if !ok {
		return model.UserBinding{}, false
	}
	name, ok := group[userID]
	if !ok {
		return model.UserBinding{}, false
	}
	return model.UserBinding{UserID: userID, DisplayName: name, GroupID: groupID}, true
}

// BindingFor is Lookup with ErrNotBound instead of a bool, for callers
// that propagate the miss as an error.
func (s *Store) BindingFor(groupID, userID string) (model.UserBinding, error) {
	b, ok := s.Lookup(groupID, userID)
	if !ok {
		return model.UserBinding{}, ErrNotBound
	}
	return b, nil
}

// GroupBindings returns all bindings in a group, ascending by user ID.
// The order is the binding-iteration order group aggregation relies on.
func (s *Store) GroupBindings(groupID string) []model.UserBinding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group := s.table[groupID]
	out := make([]model.UserBinding, 0, len(group))
	for userID, name := range group {
		out = append(out, model.UserBinding{UserID: userID, DisplayName: name, GroupID: groupID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// FeedPath derives the deterministic on-disk location of a binding's feed.
func (s *Store) FeedPath(b model.UserBinding) string {
	name := fmt.Sprintf("%s_%s_%s.ics", b.UserID, b.DisplayName, b.GroupID)
	return filepath.Join(s.dataDir, feedsSubdir, name)
}

// ReadFeed returns the raw feed bytes for a binding, or ErrFeedMissing.
func (s *Store) ReadFeed(b model.UserBinding) ([]byte, error) {
	data, err := os.ReadFile(s.FeedPath(b))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrFeedMissing
		}
		return nil, err
	}
	return data, nil
}

// saveLocked persists the table wholesale. Caller holds s.mu.
func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.table, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(s.dataDir, bindingsFile)
	tmp, err := os.CreateTemp(s.dataDir, ".bindings-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

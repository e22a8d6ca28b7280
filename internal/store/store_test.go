package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursebot/internal/model"
)

func testBinding() model.UserBinding {
	return model.UserBinding{UserID: "42", DisplayName: "alice", GroupID: "g1"}
}

func TestOpenStartsEmptyAndCreatesLayout(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)

	_, ok := s.Lookup("g1", "42")
	assert.False(t, ok)

	info, err := os.Stat(filepath.Join(dir, "ics"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestBindPersistsWholesaleAndReloads(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Bind(testBinding()))
	require.NoError(t, s.Bind(model.UserBinding{UserID: "7", DisplayName: "bob", GroupID: "g2"}))

	// A fresh Store must see everything: the table is a single document
	// loaded wholesale at startup.
	s2, err := Open(dir)
	require.NoError(t, err)

	b, ok := s2.Lookup("g1", "42")
	require.True(t, ok)
	assert.Equal(t, "alice", b.DisplayName)

	_, ok = s2.Lookup("g2", "7")
	assert.True(t, ok)
}

func TestRebindOverwrites(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Bind(testBinding()))
	require.NoError(t, s.Bind(model.UserBinding{UserID: "42", DisplayName: "renamed", GroupID: "g1"}))

	b, ok := s.Lookup("g1", "42")
	require.True(t, ok)
	assert.Equal(t, "renamed", b.DisplayName)

	// Still exactly one binding for the key.
	assert.Len(t, s.GroupBindings("g1"), 1)
}

func TestGroupBindingsSortedByUserID(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	for _, uid := range []string{"c", "a", "b"} {
		require.NoError(t, s.Bind(model.UserBinding{UserID: uid, DisplayName: "n-" + uid, GroupID: "g1"}))
	}

	got := s.GroupBindings("g1")
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].UserID)
	assert.Equal(t, "b", got[1].UserID)
	assert.Equal(t, "c", got[2].UserID)

	assert.Empty(t, s.GroupBindings("unknown-group"))
}

func TestFeedPathAndReadFeed(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	b := testBinding()
	path := s.FeedPath(b)
	assert.Equal(t, filepath.Join(dir, "ics", "42_alice_g1.ics"), path)

	_, err = s.ReadFeed(b)
	assert.ErrorIs(t, err, ErrFeedMissing)

	require.NoError(t, os.WriteFile(path, []byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"), 0o600))

	body, err := s.ReadFeed(b)
	require.NoError(t, err)
	assert.NotEmpty(t, body)
}

func TestBindRequestsClaimWithinWindow(t *testing.T) {
	reqs := NewBindRequests(60 * time.Second)
	now := time.Date(2024, 3, 11, 9, 0, 0, 0, model.CST)

	reqs.Open(testBinding(), now)

	got, ok := reqs.Claim("g1", "42", now.Add(30*time.Second))
	require.True(t, ok)
	assert.Equal(t, "alice", got.DisplayName)

	// Claim consumes the entry.
	_, ok = reqs.Claim("g1", "42", now.Add(31*time.Second))
	assert.False(t, ok)
}

func TestBindRequestsExpireLazily(t *testing.T) {
	reqs := NewBindRequests(60 * time.Second)
	now := time.Date(2024, 3, 11, 9, 0, 0, 0, model.CST)

	reqs.Open(testBinding(), now)

	_, ok := reqs.Claim("g1", "42", now.Add(61*time.Second))
	assert.False(t, ok)
}

func TestBindRequestsReopenReplaces(t *testing.T) {
	reqs := NewBindRequests(60 * time.Second)
	now := time.Date(2024, 3, 11, 9, 0, 0, 0, model.CST)

	reqs.Open(testBinding(), now)
	// Second request from the same key restarts the window with new data.
	reqs.Open(model.UserBinding{UserID: "42", DisplayName: "alice2", GroupID: "g1"}, now.Add(50*time.Second))

	got, ok := reqs.Claim("g1", "42", now.Add(100*time.Second))
	require.True(t, ok)
	assert.Equal(t, "alice2", got.DisplayName)
}

func TestBindRequestsKeyedPerGroupAndUser(t *testing.T) {
	reqs := NewBindRequests(60 * time.Second)
	now := time.Date(2024, 3, 11, 9, 0, 0, 0, model.CST)

	reqs.Open(testBinding(), now)

	_, ok := reqs.Claim("other-group", "42", now)
	assert.False(t, ok)
	_, ok = reqs.Claim("g1", "other-user", now)
	assert.False(t, ok)
	_, ok = reqs.Claim("g1", "42", now)
	assert.True(t, ok)
}

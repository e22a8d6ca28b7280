package web

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursebot/internal/config"
	"coursebot/internal/model"
	"coursebot/internal/store"
)

var testNow = time.Date(2024, 3, 11, 9, 30, 0, 0, model.CST)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.AvatarURL = "" // no network in tests

	st, err := store.Open(cfg.DataDir)
	require.NoError(t, err)

	s := NewServer(cfg, st)
	s.clock = func() time.Time { return testNow }
	return s
}

func sampleFeed() []byte {
	// Naive times: interpreted as UTC+8 wall clock.
	return []byte("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//coursebot//test//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:1\r\nSUMMARY:Math\r\nLOCATION:Room 101\r\n" +
		"DTSTART:20240311T090000\r\nDTEND:20240311T100000\r\nEND:VEVENT\r\n" +
		"BEGIN:VEVENT\r\nUID:2\r\nSUMMARY:Physics\r\n" +
		"DTSTART:20240311T101500\r\nDTEND:20240311T111500\r\nEND:VEVENT\r\n" +
		"END:VCALENDAR\r\n")
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func bindUser(t *testing.T, s *Server, groupID, userID, nickname string, feed []byte) {
	t.Helper()

	rec := doJSON(t, s, http.MethodPost, "/api/bind", map[string]string{
		"group_id": groupID, "user_id": userID, "nickname": nickname,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/bind/file", map[string]any{
		"group_id": groupID,
		"user_id":  userID,
		"source": map[string]string{
			"kind": "inline",
			"data": base64.StdEncoding.EncodeToString(feed),
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func queryPath(path string, params map[string]string) string {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return path + "?" + q.Encode()
}

func TestBindFlowAndTodayQuery(t *testing.T) {
	s := newTestServer(t)
	bindUser(t, s, "g1", "42", "alice", sampleFeed())

	rec := doJSON(t, s, http.MethodGet, queryPath("/api/schedule/today", map[string]string{
		"group_id": "g1", "user_id": "42",
	}), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp todayResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alice", resp.Owner)
	// Math started at 09:00 and now is 09:30: only Physics is left.
	require.Len(t, resp.Courses, 1)
	assert.Equal(t, "Physics", resp.Courses[0].Summary)
}

func TestTodayDistinguishesFailureModes(t *testing.T) {
	s := newTestServer(t)

	// Not bound at all.
	rec := doJSON(t, s, http.MethodGet, queryPath("/api/schedule/today", map[string]string{
		"group_id": "g1", "user_id": "42",
	}), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not bound")

	// Bound, nothing left today.
	bindUser(t, s, "g1", "42", "alice", sampleFeed())
	s.clock = func() time.Time { return time.Date(2024, 3, 11, 20, 0, 0, 0, model.CST) }

	rec = doJSON(t, s, http.MethodGet, queryPath("/api/schedule/today", map[string]string{
		"group_id": "g1", "user_id": "42",
	}), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp todayResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Courses)
	assert.Equal(t, msgNoMoreToday, resp.Message)
}

func TestBindFileWithoutOpenRequest(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/bind/file", map[string]any{
		"group_id": "g1",
		"user_id":  "42",
		"source":   map[string]string{"kind": "inline", "data": base64.StdEncoding.EncodeToString(sampleFeed())},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBindFileAfterWindowExpires(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/bind", map[string]string{
		"group_id": "g1", "user_id": "42", "nickname": "alice",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// The file shows up after the window has closed.
	s.clock = func() time.Time { return testNow.Add(61 * time.Second) }

	rec = doJSON(t, s, http.MethodPost, "/api/bind/file", map[string]any{
		"group_id": "g1",
		"user_id":  "42",
		"source":   map[string]string{"kind": "inline", "data": base64.StdEncoding.EncodeToString(sampleFeed())},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBindFileRejectsGarbageFeed(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/bind", map[string]string{
		"group_id": "g1", "user_id": "42", "nickname": "alice",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/bind/file", map[string]any{
		"group_id": "g1",
		"user_id":  "42",
		"source":   map[string]string{"kind": "inline", "data": base64.StdEncoding.EncodeToString([]byte("nope"))},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGroupQueryOrdersRecordsAndReportsIdleGroup(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, queryPath("/api/schedule/group", map[string]string{
		"group_id": "g1",
	}), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var empty groupResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &empty))
	assert.Empty(t, empty.Records)
	assert.Equal(t, msgGroupIdle, empty.Message)

	bindUser(t, s, "g1", "2", "bob", []byte(
		"BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//t//EN\r\n"+
			"BEGIN:VEVENT\r\nUID:1\r\nSUMMARY:Chemistry\r\nDTSTART:20240311T101500\r\nDTEND:20240311T111500\r\nEND:VEVENT\r\n"+
			"END:VCALENDAR\r\n"))
	bindUser(t, s, "g1", "1", "alice", sampleFeed())

	rec = doJSON(t, s, http.MethodGet, queryPath("/api/schedule/group", map[string]string{
		"group_id": "g1",
	}), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp groupResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Records, 2)
	// alice is mid-Math (anchor 09:00), bob's Chemistry starts 10:15.
	assert.Equal(t, "alice", resp.Records[0].DisplayName)
	assert.Equal(t, "ongoing", resp.Records[0].Status)
	assert.Equal(t, 30, resp.Records[0].RemainingMin)
	assert.Equal(t, "bob", resp.Records[1].DisplayName)
	assert.Equal(t, "upcoming", resp.Records[1].Status)
}

func TestGroupQueryHonorsAtParameter(t *testing.T) {
	s := newTestServer(t)
	bindUser(t, s, "g1", "1", "alice", sampleFeed())

	rec := doJSON(t, s, http.MethodGet, queryPath("/api/schedule/group", map[string]string{
		"group_id": "g1",
		"at":       "2024-03-11T20:00:00+08:00",
	}), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp groupResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Records, 1)
	assert.Equal(t, "none", resp.Records[0].Status)
}

func TestGroupViewRendersReadyMarker(t *testing.T) {
	s := newTestServer(t)
	bindUser(t, s, "g1", "1", "alice", sampleFeed())

	req := httptest.NewRequest(http.MethodGet, queryPath("/view/group", map[string]string{
		"group_id": "g1",
	}), nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `data-ready="true"`)
	assert.Contains(t, body, "alice")
	assert.Contains(t, body, "Math")
}

func TestBasicAuthProtectsAPIButNotViews(t *testing.T) {
	s := newTestServer(t)
	bindUser(t, s, "g1", "1", "alice", sampleFeed())

	// Enable auth only after seeding; Handler() wraps on each call.
	s.cfg.BasicAuth = &config.BasicAuthConfig{Username: "u", Password: "p"}
	h := s.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/schedule/group?group_id=g1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/schedule/group?group_id=g1", nil)
	req.SetBasicAuth("u", "p")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	for _, path := range []string{"/health", "/view/group?group_id=g1"} {
		req = httptest.NewRequest(http.MethodGet, path, nil)
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestFeedMissingAfterBindIsDistinctError(t *testing.T) {
	s := newTestServer(t)
	bindUser(t, s, "g1", "42", "alice", sampleFeed())

	// Someone removed the stored feed behind the binding.
	b, ok := s.store.Lookup("g1", "42")
	require.True(t, ok)
	require.NoError(t, os.Remove(s.store.FeedPath(b)))

	rec := doJSON(t, s, http.MethodGet, queryPath("/api/schedule/today", map[string]string{
		"group_id": "g1", "user_id": "42",
	}), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "rebind")
}

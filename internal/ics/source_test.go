package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaterializeInline(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "ics", "feed.ics")

	r := NewResolver()
	err := r.Materialize(context.Background(), FeedSource{
		Kind: SourceInline,
		Data: []byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"),
	}, dest)
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(got), "VCALENDAR")
}

func TestMaterializeLocalPath(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "upload.ics")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o600))
	dest := filepath.Join(dir, "store", "feed.ics")

	r := NewResolver()
	require.NoError(t, r.Materialize(context.Background(), FeedSource{
		Kind: SourceLocalPath,
		Path: src,
	}, dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestMaterializeRemoteURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("remote feed"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "feed.ics")

	r := NewResolver()
	require.NoError(t, r.Materialize(context.Background(), FeedSource{
		Kind: SourceRemoteURL,
		URL:  srv.URL,
	}, dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "remote feed", string(got))
}

func TestMaterializeRemoteURLFailureLeavesNoFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "feed.ics")

	r := NewResolver()
	err := r.Materialize(context.Background(), FeedSource{
		Kind: SourceRemoteURL,
		URL:  srv.URL,
	}, dest)
	require.Error(t, err)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestMaterializeRejectsUnknownKind(t *testing.T) {
	r := NewResolver()
	err := r.Materialize(context.Background(), FeedSource{Kind: "carrier-pigeon"}, filepath.Join(t.TempDir(), "f.ics"))
	assert.Error(t, err)
}

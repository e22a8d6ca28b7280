package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	appLog "coursebot/internal/log"
)

// SourceKind tags the form a chat platform hands a transferred file over in.
type SourceKind string

const (
	// SourceLocalPath means the platform already downloaded the file and
	// gives us a path on the local filesystem.
	SourceLocalPath SourceKind = "local_path"
	// SourceRemoteURL means the platform gives us a download URL.
	SourceRemoteURL SourceKind = "url"
	// SourceInline means the raw bytes arrive in the request itself.
	SourceInline SourceKind = "inline"
)

// FeedSource is the tagged variant a file-transfer result is resolved into
// once at the boundary; the core only ever sees materialized feed files.
type FeedSource struct {
	Kind SourceKind
	Path string // SourceLocalPath
	URL  string // SourceRemoteURL
	Data []byte // SourceInline
}

// Resolver materializes FeedSources into feed files on disk.
type Resolver struct {
	client *http.Client
}

// NewResolver returns a Resolver with a bounded-timeout HTTP client for
// the SourceRemoteURL case.
func NewResolver() *Resolver {
	return &Resolver{
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Materialize writes the feed the source refers to into destPath.
// The destination directory is created if needed; the write is atomic
// (temp file + rename) so a failed download never leaves a truncated feed
// behind an existing binding.
func (r *Resolver) Materialize(ctx context.Context, src FeedSource, destPath string) error {
	if destPath == "" {
		return errors.New("destination path is empty")
	}

	var body []byte
	var err error

	switch src.Kind {
	case SourceLocalPath:
		if src.Path == "" {
			return errors.New("local path source has no path")
		}
		body, err = os.ReadFile(src.Path)
		if err != nil {
			return fmt.Errorf("read local feed: %w", err)
		}
	case SourceRemoteURL:
		body, err = r.download(ctx, src.URL)
		if err != nil {
			return err
		}
	case SourceInline:
		if len(src.Data) == 0 {
			return errors.New("inline source has no data")
		}
		body = src.Data
	default:
		return fmt.Errorf("unsupported feed source kind %q", src.Kind)
	}

	if err := writeFileAtomic(destPath, body); err != nil {
		return fmt.Errorf("store feed: %w", err)
	}

	appLog.Info("feed materialized", "kind", string(src.Kind), "dest", destPath, "bytes", len(body))
	return nil
}

func (r *Resolver) download(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, errors.New("url source has no url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download feed: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download feed: %w", err)
	}
	return body, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".feed-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
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

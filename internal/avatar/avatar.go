// Package avatar fetches chat-platform profile images for the group status
// view. Fetching is best-effort: a failed or slow avatar only means the
// corresponding row renders without one.
package avatar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	appLog "coursebot/internal/log"
)

// Fetcher downloads avatars from a URL template with one %s placeholder
// for the user ID.
type Fetcher struct {
	client      *http.Client
	urlTemplate string
}

// NewFetcher creates a Fetcher. An empty urlTemplate disables fetching;
// FetchAll then returns an empty map immediately.
func NewFetcher(urlTemplate string) *Fetcher {
	return &Fetcher{
		client:      &http.Client{Timeout: 10 * time.Second},
		urlTemplate: urlTemplate,
	}
}

// FetchOne downloads a single user's avatar.
func (f *Fetcher) FetchOne(ctx context.Context, userID string) ([]byte, error) {
	url := fmt.Sprintf(f.urlTemplate, userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("avatar fetch: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// FetchAll issues all avatar requests concurrently and joins the results.
// The returned map only contains entries for users whose fetch succeeded.
func (f *Fetcher) FetchAll(ctx context.Context, userIDs []string) map[string][]byte {
	out := make(map[string][]byte, len(userIDs))
	if f.urlTemplate == "" || len(userIDs) == 0 {
		return out
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, id := range userIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			data, err := f.FetchOne(ctx, id)
			if err != nil {
				appLog.Debug("avatar fetch failed", "user_id", id, "err", err)
				return
			}
			mu.Lock()
			out[id] = data
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	return out
}

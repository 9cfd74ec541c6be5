package brief

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

const fetchTimeout = 30 * time.Second

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Fetch downloads the brief at rawURL and extracts it. The response content
// type takes part in format detection.
func Fetch(ctx context.Context, rawURL string, lim Limits) (Brief, error) {
	u, err := url.Parse(rawURL)
	if err != nil || !isURL(rawURL) {
		return Brief{}, fmt.Errorf("invalid brief url %q", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Brief{}, err
	}
	client := &http.Client{Timeout: fetchTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return Brief{}, fmt.Errorf("failed to fetch brief: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Brief{}, fmt.Errorf("failed to fetch brief: status %d", resp.StatusCode)
	}

	r := io.Reader(resp.Body)
	if lim.MaxBytes > 0 {
		// one byte over the limit lets Extract report the overflow
		r = io.LimitReader(resp.Body, int64(lim.MaxBytes)+1)
	}
	buf, err := io.ReadAll(r)
	if err != nil {
		return Brief{}, fmt.Errorf("failed to read brief: %w", err)
	}
	return Extract(ctx, buf, path.Base(u.Path), resp.Header.Get("Content-Type"), lim)
}

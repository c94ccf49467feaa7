// Package scraper fetches photo content and resolves photo URLs from profile pages.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	// DefaultTimeout bounds a single fetch so a hung upstream cannot wedge a check.
	DefaultTimeout = 10 * time.Second
	// DefaultMaxBytes caps the body we are willing to hash.
	DefaultMaxBytes = 20 << 20

	userAgent    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	acceptImage  = "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8"
	acceptHTML   = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"
	acceptLocale = "en-US,en;q=0.9"
)

// ErrEmptyContent is returned when the upstream answered 2xx with no body.
var ErrEmptyContent = errors.New("empty content")

// HTTPStatusError indicates a non-2xx response.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

// StatusCode extracts the HTTP status from err, if it carries one.
func StatusCode(err error) (int, bool) {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode, true
	}
	return 0, false
}

// Fetcher retrieves raw bytes over HTTP. It never retries: retry policy
// belongs to the caller, which checks again on its next trigger.
type Fetcher struct {
	client   *http.Client
	logger   *slog.Logger
	maxBytes int64
}

// New creates a new fetcher. A nil client gets a client with DefaultTimeout.
func New(client *http.Client, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Fetcher{
		client:   client,
		logger:   logger,
		maxBytes: DefaultMaxBytes,
	}
}

// Fetch downloads the content at rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return f.get(ctx, rawURL, acceptImage, "fetch_photo")
}

func (f *Fetcher) get(ctx context.Context, rawURL, accept, purpose string) ([]byte, error) {
	f.logger.Info("HTTP request starting",
		"method", "GET",
		"url", rawURL,
		"purpose", purpose)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	// Browser-like headers reduce the chance of being blocked by the upstream CDN.
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", acceptLocale)
	if ref := referer(req.URL); ref != "" {
		req.Header.Set("Referer", ref)
	}

	startTime := time.Now()
	resp, err := f.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		f.logger.Warn("HTTP request failed",
			"url", rawURL,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			f.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	f.logger.Info("HTTP request completed",
		"url", rawURL,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"content_length", resp.ContentLength)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPStatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("content exceeds %d bytes", f.maxBytes)
	}
	if len(body) == 0 {
		return nil, ErrEmptyContent
	}

	return body, nil
}

// referer returns the origin of u, which is what a browser sends for a cross-page image load.
func referer(u *url.URL) string {
	if u == nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/"
}

// Package fetch retrieves the HTML of competitor pricing pages.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// MinPageBytes is the smallest page accepted as real content.
// Anything shorter is almost always a bot-challenge or block page.
const MinPageBytes = 2000

// ErrBlocked indicates the page came back implausibly small.
var ErrBlocked = errors.New("potential block page detected")

// Fetcher retrieves the rendered HTML for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d", e.Code)
}

// Permanent reports whether retrying cannot change the outcome.
func (e *StatusError) Permanent() bool {
	return e.Code >= 400 && e.Code < 500 && e.Code != 408 && e.Code != 429
}

// checkSize rejects block pages.
func checkSize(html string) error {
	if len(html) < MinPageBytes {
		return fmt.Errorf("%w: HTML size is only %d bytes", ErrBlocked, len(html))
	}
	return nil
}

// Retrying retries transient failures of Next with exponential backoff.
// Block pages and client errors are returned immediately.
type Retrying struct {
	Next            Fetcher
	MaxRetries      uint64
	InitialInterval time.Duration
}

// Fetch implements Fetcher.
func (r *Retrying) Fetch(ctx context.Context, target string) (string, error) {
	b := backoff.NewExponentialBackOff()
	if r.InitialInterval > 0 {
		b.InitialInterval = r.InitialInterval
	}

	var html string
	attempt := 0
	op := func() error {
		attempt++
		var err error
		html, err = r.Next.Fetch(ctx, target)
		if err == nil {
			return nil
		}
		var statusErr *StatusError
		if errors.Is(err, ErrBlocked) || (errors.As(err, &statusErr) && statusErr.Permanent()) {
			return backoff.Permanent(err)
		}
		slog.Warn("fetch attempt failed", "url", target, "attempt", attempt, "error", err)
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, r.MaxRetries), ctx)); err != nil {
		return "", fmt.Errorf("fetch %s after %d attempt(s): %w", target, attempt, err)
	}
	return html, nil
}

// Dumper stores every fetched page under Dir as <host>.html for debugging.
// Write failures are logged and never fail the fetch.
type Dumper struct {
	Next Fetcher
	Dir  string
}

// Fetch implements Fetcher.
func (d *Dumper) Fetch(ctx context.Context, target string) (string, error) {
	html, err := d.Next.Fetch(ctx, target)
	if err != nil || d.Dir == "" {
		return html, err
	}

	host := "page"
	if u, perr := url.Parse(target); perr == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	path := filepath.Join(d.Dir, host+".html")
	if werr := os.MkdirAll(d.Dir, 0o755); werr != nil {
		slog.Warn("failed to create dump dir", "dir", d.Dir, "error", werr)
		return html, nil
	}
	if werr := os.WriteFile(path, []byte(html), 0o644); werr != nil {
		slog.Warn("failed to dump page", "path", path, "error", werr)
		return html, nil
	}
	slog.Debug("page dumped", "path", path, "bytes", len(html))
	return html, nil
}

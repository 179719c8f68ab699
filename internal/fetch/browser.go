package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"
)

// BrowserFetcher renders pages in a shared headless Chrome instance.
// Each fetch opens its own tab, so concurrent fetches are safe.
type BrowserFetcher struct {
	allocCtx context.Context
	cancel   context.CancelFunc

	navTimeout time.Duration
	settle     time.Duration
}

// NewBrowserFetcher starts the browser allocator. Close releases it.
// navTimeout bounds a whole fetch; settle is the wait after the DOM is ready
// for client-side rendering to finish.
func NewBrowserFetcher(ctx context.Context, navTimeout, settle time.Duration, userAgent string) *BrowserFetcher {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(userAgent),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)

	return &BrowserFetcher{
		allocCtx:   allocCtx,
		cancel:     cancel,
		navTimeout: navTimeout,
		settle:     settle,
	}
}

// Fetch implements Fetcher.
func (b *BrowserFetcher) Fetch(ctx context.Context, target string) (string, error) {
	tabCtx, cancelTab := chromedp.NewContext(b.allocCtx)
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, b.navTimeout)
	defer cancelTimeout()

	// Propagate caller cancellation into the tab.
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	slog.Debug("navigating", "url", target)
	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(b.settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", target, err)
	}

	if err := checkSize(html); err != nil {
		return "", err
	}
	return html, nil
}

// Close shuts the browser down.
func (b *BrowserFetcher) Close() {
	b.cancel()
}

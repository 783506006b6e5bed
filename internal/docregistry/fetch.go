package docregistry

import (
	"context"
	"os"
	"time"

	"github.com/chromedp/chromedp"

	"synapse/internal/coreerr"
)

// Fetched is the raw result of retrieving a URL.
type Fetched struct {
	ContentType string
	Raw         []byte
}

// Fetcher retrieves a URL's rendered content. The default implementation
// drives a headless Chrome so JS-rendered pages resolve before the
// HTML→text step runs (§4.8).
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Fetched, error)
}

type chromedpFetcher struct {
	timeout time.Duration
}

// NewFetcher builds the default headless-Chrome Fetcher. timeout bounds a
// single fetch; zero defaults to 20s.
func NewFetcher(timeout time.Duration) Fetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &chromedpFetcher{timeout: timeout}
}

func (f *chromedpFetcher) Fetch(ctx context.Context, rawURL string) (Fetched, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
	)
	if p := os.Getenv("CHROME_PATH"); p != "" {
		opts = append(opts, chromedp.ExecPath(p))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx, cancelRun := context.WithTimeout(browserCtx, f.timeout)
	defer cancelRun()

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return Fetched{}, coreerr.New("docregistry.Fetch", coreerr.TransientStoreError, err)
	}
	return Fetched{ContentType: "text/html", Raw: []byte(html)}, nil
}

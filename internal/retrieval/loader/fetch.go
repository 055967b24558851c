package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/mohammad-safakhou/advisor/internal/retrieval"
)

// ErrNoFetcher is returned for URL entries when no fetcher is configured.
var ErrNoFetcher = errors.New("no fetcher configured for url documents")

// Fetcher returns the rendered HTML of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// ChromeFetcher renders pages in headless Chrome.
type ChromeFetcher struct {
	Timeout   time.Duration
	UserAgent string
}

func (f ChromeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", errors.New("invalid url")
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	ua := f.UserAgent
	if ua == "" {
		ua = "advisor-ingest/1.0"
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(ua),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", url, err)
	}
	return html, nil
}

// LoadURL fetches a page and extracts its readable text as one document.
func (l *Loader) LoadURL(ctx context.Context, url, name string) (retrieval.Document, error) {
	if l.Fetcher == nil {
		return retrieval.Document{}, ErrNoFetcher
	}
	html, err := l.Fetcher.Fetch(ctx, url)
	if err != nil {
		return retrieval.Document{}, err
	}
	text, err := ExtractHTML(strings.NewReader(html), url)
	if err != nil {
		return retrieval.Document{}, err
	}
	if name == "" {
		name = url
	}
	return retrieval.NewTextDocument(name, text), nil
}

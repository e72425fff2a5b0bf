// Package articlefetch retrieves a story's linked page and extracts its
// readable title and body text.
package articlefetch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"

	"github.com/taskbot/daily-digest/internal/collaborators"
)

const defaultTimeout = 10 * time.Second

// Config controls the fetcher's HTTP behaviour.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// RatePerSecond paces outbound fetches within a batch; zero disables
	// pacing (the caller's own errgroup bound still applies).
	RatePerSecond float64
}

// Fetcher implements collaborators.ArticleFetcher using colly for the HTTP
// retrieval and goquery for HTML content extraction.
type Fetcher struct {
	collector *colly.Collector
	limiter   *rate.Limiter
	timeout   time.Duration
}

// New creates a Fetcher. If cfg is the zero value, sensible defaults apply.
func New(cfg Config) *Fetcher {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "daily-digest-bot/1.0"
	}

	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(timeout)

	f := &Fetcher{collector: c, timeout: timeout}
	if cfg.RatePerSecond > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return f
}

var _ collaborators.ArticleFetcher = (*Fetcher)(nil)

// Fetch retrieves targetURL and extracts its title and main text content.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (collaborators.FetchedArticle, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return collaborators.FetchedArticle{}, fmt.Errorf("articlefetch: rate limiter: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var article collaborators.FetchedArticle
	var extractErr error

	c := f.collector.Clone()
	c.OnResponse(func(r *colly.Response) {
		if r.StatusCode < 200 || r.StatusCode >= 300 {
			extractErr = fmt.Errorf("articlefetch: unexpected status %d for %s", r.StatusCode, targetURL)
			return
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(r.Body)))
		if err != nil {
			extractErr = fmt.Errorf("articlefetch: parse html: %w", err)
			return
		}

		article.Title = strings.TrimSpace(doc.Find("title").First().Text())
		article.Content = extractContent(doc)
	})
	c.OnError(func(r *colly.Response, err error) {
		extractErr = fmt.Errorf("articlefetch: request failed: %w", err)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Request(http.MethodGet, targetURL, nil, nil, nil)
		c.Wait()
	}()

	select {
	case <-ctx.Done():
		return collaborators.FetchedArticle{}, fmt.Errorf("articlefetch: %w", ctx.Err())
	case <-done:
	}

	if extractErr != nil {
		return collaborators.FetchedArticle{}, extractErr
	}
	if article.Content == "" {
		return collaborators.FetchedArticle{}, fmt.Errorf("articlefetch: no extractable content at %s", targetURL)
	}
	return article, nil
}

// extractContent pulls readable body text, preferring common article
// containers and falling back to all paragraph text.
func extractContent(doc *goquery.Document) string {
	for _, selector := range []string{"article", "main", "[role=main]"} {
		if sel := doc.Find(selector).First(); sel.Length() > 0 {
			if text := collapseWhitespace(sel.Text()); text != "" {
				return text
			}
		}
	}

	var b strings.Builder
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	})
	return collapseWhitespace(b.String())
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

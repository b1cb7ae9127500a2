package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

const (
	pageFetchTimeout = 30 * time.Second
	pageUserAgent    = "Mozilla/5.0 (compatible; commdigest/1.0)"
	pageMaxBody      = 4 << 20 // 4 MiB response cap
	maxRevisionLinks = 10
)

var (
	dateLinkRe   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	whitespaceRe = regexp.MustCompile(`\s{3,}`)
)

// PageSource monitors a wiki-style page for new dated revisions. Most wiki
// platforms expose a change feed alongside the page; when a feed URL is
// configured, the feed is parsed instead of scraping the page HTML.
type PageSource struct {
	id       string
	pageURL  string
	feedURL  string
	lookback time.Duration
	client   *http.Client
}

// NewPage creates a page source. feedURL is optional; when empty the page
// HTML is scraped directly.
func NewPage(id, pageURL, feedURL string, lookback time.Duration) (*PageSource, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("page: id is required")
	}
	if strings.TrimSpace(pageURL) == "" && strings.TrimSpace(feedURL) == "" {
		return nil, fmt.Errorf("page %s: url or feed is required", id)
	}
	if lookback <= 0 {
		lookback = 7 * 24 * time.Hour
	}
	return &PageSource{
		id:       id,
		pageURL:  pageURL,
		feedURL:  feedURL,
		lookback: lookback,
		client: &http.Client{
			Timeout:   pageFetchTimeout,
			Transport: &uaTransport{base: http.DefaultTransport},
		},
	}, nil
}

func (p *PageSource) ID() string {
	return p.id
}

func (p *PageSource) Type() Type {
	return TypePage
}

func (p *PageSource) Fetch(ctx context.Context) (Result, error) {
	if p.feedURL != "" {
		return p.fetchFeed(ctx)
	}
	return p.fetchHTML(ctx)
}

// uaTransport injects a User-Agent header into every request.
type uaTransport struct {
	base http.RoundTripper
}

func (t *uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", pageUserAgent)
	return t.base.RoundTrip(req)
}

func (p *PageSource) fetchFeed(ctx context.Context) (Result, error) {
	fp := gofeed.NewParser()
	fp.Client = p.client

	feed, err := fp.ParseURLWithContext(p.feedURL, ctx)
	if err != nil {
		return Result{}, classifyFeedErr(p.id, p.feedURL, err)
	}

	fetchedAt := time.Now().UTC()
	cutoff := fetchedAt.Add(-p.lookback)
	var items []Item
	var newest time.Time
	for _, entry := range feed.Items {
		ts := entryTime(entry)
		if ts.After(newest) {
			newest = ts
		}
		if ts.IsZero() {
			// Undated entries surface once at fetch time; the fingerprint
			// window keeps them from repeating.
			ts = fetchedAt
		} else if ts.Before(cutoff) {
			continue
		}
		body := stripHTML(entry.Content)
		if body == "" {
			body = stripHTML(entry.Description)
		}
		items = append(items, Item{
			SourceID:    p.id,
			Fingerprint: Fingerprint(p.id, entryID(entry), body),
			Title:       entry.Title,
			Body:        body,
			URL:         entry.Link,
			Timestamp:   ts,
		})
	}

	marker := ""
	if feed.UpdatedParsed != nil {
		marker = feed.UpdatedParsed.UTC().Format(time.RFC3339)
	} else if !newest.IsZero() {
		marker = newest.UTC().Format(time.RFC3339)
	}

	return Result{Items: items, VersionMarker: marker}, nil
}

func classifyFeedErr(sourceID, feedURL string, err error) error {
	wrapped := fmt.Errorf("fetch feed %s: %w", feedURL, err)
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		return classifyStatus(sourceID, httpErr.StatusCode, wrapped)
	}
	if Retryable(err) {
		return retryableErr(sourceID, wrapped)
	}
	// Parse failures and other non-transport errors are malformed responses.
	return permanentErr(sourceID, wrapped)
}

func (p *PageSource) fetchHTML(ctx context.Context) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.pageURL, nil)
	if err != nil {
		return Result{}, permanentErr(p.id, fmt.Errorf("build request: %w", err))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if Retryable(err) {
			return Result{}, retryableErr(p.id, err)
		}
		return Result{}, permanentErr(p.id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Result{}, classifyStatus(p.id, resp.StatusCode, fmt.Errorf("fetch %s: status %d", p.pageURL, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, pageMaxBody))
	if err != nil {
		return Result{}, retryableErr(p.id, fmt.Errorf("read body: %w", err))
	}

	items, err := p.parsePage(string(body))
	if err != nil {
		return Result{}, permanentErr(p.id, err)
	}

	marker := resp.Header.Get("ETag")
	if marker == "" {
		marker = resp.Header.Get("Last-Modified")
	}
	if marker == "" {
		marker = Fingerprint(string(body))
	}

	return Result{Items: items, VersionMarker: marker}, nil
}

func classifyStatus(sourceID string, status int, err error) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return permanentErr(sourceID, err)
	case status == http.StatusTooManyRequests:
		return retryableErr(sourceID, err)
	case status >= 500:
		return retryableErr(sourceID, err)
	default:
		return permanentErr(sourceID, err)
	}
}

// parsePage extracts dated revision links from a wiki page. Index pages list
// individual meeting or revision pages with ISO dates in the link text; each
// dated link inside the lookback window becomes one item. A page without
// dated links is treated as a single revision of itself.
func (p *PageSource) parsePage(html string) ([]Item, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	content := doc.Find("#main-content")
	if content.Length() == 0 {
		content = doc.Find("body")
	}
	if content.Length() == 0 {
		return nil, errors.New("parse page: no content region")
	}

	cutoff := time.Now().Add(-p.lookback)
	var items []Item

	content.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.TrimSpace(sel.Text())
		match := dateLinkRe.FindString(text)
		if match == "" {
			return true
		}
		date, err := time.Parse("2006-01-02", match)
		if err != nil || date.Before(cutoff) {
			return true
		}
		href, _ := sel.Attr("href")
		items = append(items, Item{
			SourceID:    p.id,
			Fingerprint: Fingerprint(p.id, href, text),
			Title:       text,
			URL:         p.resolveURL(href),
			Timestamp:   date,
		})
		return len(items) < maxRevisionLinks
	})

	if len(items) > 0 {
		return items, nil
	}

	// No dated links: the page itself is the unit of change.
	text := strings.TrimSpace(whitespaceRe.ReplaceAllString(content.Text(), "\n\n"))
	if text == "" {
		return nil, nil
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = p.pageURL
	}
	return []Item{{
		SourceID:    p.id,
		Fingerprint: Fingerprint(p.id, text),
		Title:       title,
		Body:        firstNRunes(text, 500),
		URL:         p.pageURL,
		Timestamp:   time.Now().UTC(),
	}}, nil
}

func (p *PageSource) resolveURL(href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	base, err := url.Parse(p.pageURL)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func entryTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}

func entryID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	return item.Link
}

func stripHTML(s string) string {
	if s == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	text := doc.Text()
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, "\n\n"))
}

func firstNRunes(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

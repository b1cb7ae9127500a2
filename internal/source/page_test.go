package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewPage_Validation(t *testing.T) {
	if _, err := NewPage("", "https://example.org/wiki", "", 0); err == nil {
		t.Error("expected error for empty id")
	}
	if _, err := NewPage("wiki-a", "", "", 0); err == nil {
		t.Error("expected error when both url and feed are empty")
	}
	if _, err := NewPage("wiki-a", "https://example.org/wiki", "", 0); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPageSource_IDAndType(t *testing.T) {
	p, err := NewPage("wiki-a", "https://example.org/wiki", "", 0)
	if err != nil {
		t.Fatalf("new page: %v", err)
	}
	if p.ID() != "wiki-a" {
		t.Errorf("id = %q, want wiki-a", p.ID())
	}
	if p.Type() != TypePage {
		t.Errorf("type = %q, want page", p.Type())
	}
}

func TestPageSource_DatedRevisionLinks(t *testing.T) {
	recent := time.Now().AddDate(0, 0, -2).Format("2006-01-02")
	stale := time.Now().AddDate(0, 0, -30).Format("2006-01-02")
	html := fmt.Sprintf(`<html><head><title>Minutes</title></head><body>
		<div id="main-content">
			<a href="/display/PC/%s">Meeting %s</a>
			<a href="/display/PC/%s">Meeting %s</a>
			<a href="/display/PC/other">Workgroup home</a>
		</div></body></html>`, recent, recent, stale, stale)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("ETag", `"abc123"`)
		fmt.Fprint(w, html)
	}))
	defer srv.Close()

	p, err := NewPage("wiki-a", srv.URL+"/display/PC/Minutes", "", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("new page: %v", err)
	}

	res, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if len(res.Items) != 1 {
		t.Fatalf("got %d items, want 1 (stale link excluded)", len(res.Items))
	}
	it := res.Items[0]
	if it.SourceID != "wiki-a" {
		t.Errorf("source id = %q, want wiki-a", it.SourceID)
	}
	if it.Title != "Meeting "+recent {
		t.Errorf("title = %q", it.Title)
	}
	if it.URL != srv.URL+"/display/PC/"+recent {
		t.Errorf("url = %q, relative href not resolved", it.URL)
	}
	if it.Fingerprint == "" {
		t.Error("fingerprint must be populated")
	}
	if res.VersionMarker != `"abc123"` {
		t.Errorf("marker = %q, want the ETag", res.VersionMarker)
	}
}

func TestPageSource_PageWithoutDatedLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><head><title>Charter</title></head><body><p>The charter text.</p></body></html>`)
	}))
	defer srv.Close()

	p, err := NewPage("wiki-a", srv.URL, "", 0)
	if err != nil {
		t.Fatalf("new page: %v", err)
	}

	res, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if len(res.Items) != 1 {
		t.Fatalf("got %d items, want the page itself as one item", len(res.Items))
	}
	if res.Items[0].Title != "Charter" {
		t.Errorf("title = %q, want Charter", res.Items[0].Title)
	}
	if res.VersionMarker == "" {
		t.Error("marker should fall back to a content hash")
	}
}

func TestPageSource_ContentHashMarkerIsStable(t *testing.T) {
	html := `<html><body><p>stable content</p></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, html)
	}))
	defer srv.Close()

	p, err := NewPage("wiki-a", srv.URL, "", 0)
	if err != nil {
		t.Fatalf("new page: %v", err)
	}

	first, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	second, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if first.VersionMarker != second.VersionMarker {
		t.Error("identical content should produce an identical marker")
	}
}

func TestPageSource_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
		{http.StatusNotFound, false},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			p, err := NewPage("wiki-a", srv.URL, "", 0)
			if err != nil {
				t.Fatalf("new page: %v", err)
			}

			_, err = p.Fetch(context.Background())
			if err == nil {
				t.Fatal("expected fetch error")
			}

			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FetchError, got %T", err)
			}
			if fe.SourceID != "wiki-a" {
				t.Errorf("source id = %q, want wiki-a", fe.SourceID)
			}
			if got := Retryable(err); got != tt.retryable {
				t.Errorf("Retryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestPageSource_FeedMode(t *testing.T) {
	recent := time.Now().Add(-2 * time.Hour).UTC().Format(time.RFC1123Z)
	stale := time.Now().Add(-30 * 24 * time.Hour).UTC().Format(time.RFC1123Z)
	rss := fmt.Sprintf(`<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>Wiki changes</title>
<item><guid>rev-41</guid><title>Minutes updated</title><link>https://wiki.example.org/rev/41</link>
<description>&lt;p&gt;Decision: adopt the proposal.&lt;/p&gt;</description><pubDate>%s</pubDate></item>
<item><guid>rev-12</guid><title>Old edit</title><link>https://wiki.example.org/rev/12</link>
<description>old</description><pubDate>%s</pubDate></item>
</channel></rss>`, recent, stale)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, rss)
	}))
	defer srv.Close()

	p, err := NewPage("wiki-a", "", srv.URL+"/feed", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("new page: %v", err)
	}

	res, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if len(res.Items) != 1 {
		t.Fatalf("got %d items, want 1 inside the lookback window", len(res.Items))
	}
	it := res.Items[0]
	if it.Title != "Minutes updated" {
		t.Errorf("title = %q", it.Title)
	}
	if it.Body != "Decision: adopt the proposal." {
		t.Errorf("body = %q, html not stripped", it.Body)
	}
	if res.VersionMarker == "" {
		t.Error("marker should be derived from the feed")
	}
}

func TestPageSource_UndatedFeedEntrySurfaces(t *testing.T) {
	rss := `<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>Wiki changes</title>
<item><guid>rev-7</guid><title>No date here</title><link>https://wiki.example.org/rev/7</link>
<description>body</description></item>
</channel></rss>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, rss)
	}))
	defer srv.Close()

	p, err := NewPage("wiki-a", "", srv.URL, time.Hour)
	if err != nil {
		t.Fatalf("new page: %v", err)
	}

	res, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if len(res.Items) != 1 {
		t.Fatalf("got %d items, want the undated entry", len(res.Items))
	}
	it := res.Items[0]
	if it.Title != "No date here" {
		t.Errorf("title = %q", it.Title)
	}
	if it.Timestamp.IsZero() {
		t.Error("undated entry should carry the fetch time")
	}
	if time.Since(it.Timestamp) > time.Minute {
		t.Errorf("timestamp = %v, want roughly now", it.Timestamp)
	}
}

func TestPageSource_MalformedFeedIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "this is not xml at all {{{")
	}))
	defer srv.Close()

	p, err := NewPage("wiki-a", "", srv.URL, 0)
	if err != nil {
		t.Fatalf("new page: %v", err)
	}

	_, err = p.Fetch(context.Background())
	if err == nil {
		t.Fatal("expected parse failure")
	}
	if Retryable(err) {
		t.Error("malformed response should classify as permanent")
	}
}

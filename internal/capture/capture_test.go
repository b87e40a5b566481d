package capture

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/html"

	"horse.fit/pageid/internal/fingerprint"
	"horse.fit/pageid/internal/globaltime"
)

const articlePage = `<!doctype html>
<html>
<head>
	<link rel="canonical" href="/articles/launch?utm_source=feed">
	<meta property="og:url" content="https://news.example.com/og">
	<script>var tracking = "ignored script text";</script>
</head>
<body data-page-id="page-7">
	<nav class="top"><a href="/">Homepage navigation links</a></nav>
	<main id="content" class="layout wide dark extra" data-view="article">
		<h1>Orbital drone launch succeeds</h1>
		<p>The company confirmed the orbital drone reached altitude today.</p>
		<div aria-hidden="true"><p>Hidden advertisement copy</p></div>
		<svg><text>vector label</text></svg>
		<article role="region" data-page="story">
			<p>Engineers monitored telemetry throughout the flight.</p>
		</article>
	</main>
	<footer>Footer boilerplate text</footer>
</body>
</html>`

func parseDoc(t *testing.T, markup string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return doc
}

func TestCapture_ExtractsIdentityFromMainContent(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	identity, err := Capture(context.Background(), parseDoc(t, articlePage), Options{
		SourceURL: "https://news.example.com/articles/launch?utm_campaign=x&fbclid=abc",
	})
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}

	if identity.CanonicalURL != "https://news.example.com/articles/launch?utm_source=feed" {
		t.Fatalf("unexpected canonical url: %q", identity.CanonicalURL)
	}
	if identity.NormalizedURL != "https://news.example.com/articles/launch" {
		t.Fatalf("unexpected normalized url: %q", identity.NormalizedURL)
	}
	if identity.SourceURL != "https://news.example.com/articles/launch?utm_campaign=x&fbclid=abc" {
		t.Fatalf("unexpected source url: %q", identity.SourceURL)
	}

	wantText := []string{
		"orbital", "drone", "launch", "succeeds",
		"the", "company", "confirmed", "the", "orbital", "drone", "reached", "altitude", "today",
		"engineers", "monitored", "telemetry", "throughout", "the", "flight",
	}
	if identity.TextTokenSample != len(wantText) {
		t.Fatalf("unexpected text token sample: got %d want %d", identity.TextTokenSample, len(wantText))
	}
	if identity.ContentSignature != fingerprint.FormatSignature(fingerprint.SimHash(wantText)) {
		t.Fatalf("content signature does not match sampled tokens")
	}

	wantLayout := []string{"h1", "p", "article|role=region|data-page=story", "p"}
	if !slices.Equal(identity.LayoutTokens, wantLayout) {
		t.Fatalf("unexpected layout tokens: %v", identity.LayoutTokens)
	}
	if identity.LayoutSignature != fingerprint.FormatSignature(fingerprint.SimHash(wantLayout)) {
		t.Fatalf("layout signature does not match layout tokens")
	}
	if !identity.GeneratedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected generatedAt: %s", identity.GeneratedAt)
	}
	if err := identity.Validate(); err != nil {
		t.Fatalf("captured identity should validate: %v", err)
	}
}

func TestCapture_CanonicalFallbackOrder(t *testing.T) {
	t.Parallel()

	ogOnly := `<html><head><link rel="canonical" href=""><meta property="og:url" content="https://x.com/og"></head><body data-page-id="p1"><p>text body here</p></body></html>`
	identity, err := Capture(context.Background(), parseDoc(t, ogOnly), Options{SourceURL: "https://x.com/src"})
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if identity.CanonicalURL != "https://x.com/og" {
		t.Fatalf("expected og:url fallback, got %q", identity.CanonicalURL)
	}

	bodyOnly := `<html><head></head><body data-page-id="dashboard-42"><p>text body here</p></body></html>`
	identity, err = Capture(context.Background(), parseDoc(t, bodyOnly), Options{SourceURL: "https://x.com/src?b=2&a=1"})
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if identity.CanonicalURL != "dashboard-42" {
		t.Fatalf("expected data-page-id fallback, got %q", identity.CanonicalURL)
	}
	if identity.NormalizedURL != "dashboard-42" {
		t.Fatalf("non-URL canonical values normalize to themselves, got %q", identity.NormalizedURL)
	}

	none := `<html><body><p>text body here</p></body></html>`
	identity, err = Capture(context.Background(), parseDoc(t, none), Options{SourceURL: "https://x.com/src?b=2&a=1#frag"})
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if identity.CanonicalURL != "" || identity.NormalizedURL != "https://x.com/src?a=1&b=2" {
		t.Fatalf("unexpected urls: canonical=%q normalized=%q", identity.CanonicalURL, identity.NormalizedURL)
	}
}

func TestCapture_FallsBackToBody(t *testing.T) {
	t.Parallel()

	markup := `<html><body><div id="app" class="shell"><span>Hello dashboard widgets</span></div></body></html>`
	identity, err := Capture(context.Background(), parseDoc(t, markup), Options{SourceURL: "https://x.com/app"})
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if !slices.Equal(identity.LayoutTokens, []string{"div|#app|.shell", "span"}) {
		t.Fatalf("unexpected layout tokens: %v", identity.LayoutTokens)
	}
	if identity.TextTokenSample != 3 {
		t.Fatalf("unexpected text token sample: %d", identity.TextTokenSample)
	}
}

func TestCapture_RespectsLimits(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("<html><body><main>")
	for i := 0; i < 300; i++ {
		fmt.Fprintf(&b, "<p>paragraph number%03d alpha beta gamma</p>", i)
	}
	b.WriteString("</main></body></html>")

	identity, err := Capture(context.Background(), parseDoc(t, b.String()), Options{SourceURL: "https://x.com/long"})
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if len(identity.LayoutTokens) != fingerprint.DefaultNodeSampleLimit {
		t.Fatalf("expected layout tokens bounded to %d, got %d", fingerprint.DefaultNodeSampleLimit, len(identity.LayoutTokens))
	}
	if identity.TextTokenSample != fingerprint.DefaultTokenLimit {
		t.Fatalf("expected text tokens bounded to %d, got %d", fingerprint.DefaultTokenLimit, identity.TextTokenSample)
	}

	small, err := Capture(context.Background(), parseDoc(t, b.String()), Options{
		SourceURL:       "https://x.com/long",
		NodeSampleLimit: 3,
		TokenLimit:      1000,
	})
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if len(small.LayoutTokens) != 3 || small.TextTokenSample != 15 {
		t.Fatalf("unexpected bounded capture: layout=%d text=%d", len(small.LayoutTokens), small.TextTokenSample)
	}
}

func TestCapture_Unavailable(t *testing.T) {
	t.Parallel()

	if _, err := Capture(context.Background(), nil, Options{}); !errors.Is(err, ErrCaptureUnavailable) {
		t.Fatalf("expected ErrCaptureUnavailable, got %v", err)
	}

	fragment := &html.Node{Type: html.ElementNode, Data: "div"}
	if _, err := Capture(context.Background(), fragment, Options{SourceURL: "https://x.com"}); !errors.Is(err, ErrCaptureUnavailable) {
		t.Fatalf("expected ErrCaptureUnavailable for detached node, got %v", err)
	}

	if _, err := CapturePage(context.Background(), Page{URL: "https://x.com"}, Options{}); !errors.Is(err, ErrCaptureUnavailable) {
		t.Fatalf("expected ErrCaptureUnavailable for empty page, got %v", err)
	}
}

func TestCapture_UnknownURL(t *testing.T) {
	t.Parallel()

	_, err := Capture(context.Background(), parseDoc(t, `<html><body><p>orphan</p></body></html>`), Options{})
	if !errors.Is(err, ErrPageURLUnknown) {
		t.Fatalf("expected ErrPageURLUnknown, got %v", err)
	}
}

func TestCapture_IdleHookIsBounded(t *testing.T) {
	t.Parallel()

	called := false
	start := time.Now()
	_, err := Capture(context.Background(), parseDoc(t, articlePage), Options{
		SourceURL:   "https://news.example.com/articles/launch",
		IdleTimeout: 10 * time.Millisecond,
		Idle: func(ctx context.Context) {
			called = true
			<-ctx.Done()
		},
	})
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if !called {
		t.Fatalf("expected idle hook to run")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("idle hook was not bounded by its timeout")
	}
}

func TestCapture_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Capture(ctx, parseDoc(t, articlePage), Options{SourceURL: "https://x.com"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTokenize(t *testing.T) {
	t.Parallel()

	got := Tokenize("  Hello, WORLD! a an the-end 42 123 café_au_lait ")
	want := []string{"hello", "world", "the", "end", "123", "café", "lait"}
	if !slices.Equal(got, want) {
		t.Fatalf("unexpected tokens: got %v want %v", got, want)
	}
}

func TestLayoutToken(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `<html><body><section role="feed" id="s1" class="a b c d" data-view="grid" data-page="home"></section></body></html>`)
	var section *html.Node
	var find func(*html.Node)
	find = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "section" {
			section = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			find(c)
		}
	}
	find(doc)
	if section == nil {
		t.Fatalf("section not found")
	}

	got := LayoutToken(section)
	want := "section|role=feed|#s1|.a.b.c|data-view=grid|data-page=home"
	if got != want {
		t.Fatalf("unexpected layout token: got %q want %q", got, want)
	}
}

func TestFetchHTMLFollowsRedirectsAndCaptures(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new?utm_source=redirect", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><main><p>Redirected page content</p></main></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	page, err := FetchHTML(context.Background(), srv.URL+"/old", FetchOptions{HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if page.URL != srv.URL+"/new?utm_source=redirect" {
		t.Fatalf("unexpected final url: %q", page.URL)
	}

	identity, err := CapturePage(context.Background(), page, Options{})
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if identity.NormalizedURL != srv.URL+"/new" {
		t.Fatalf("unexpected normalized url: %q", identity.NormalizedURL)
	}
	if identity.TextTokenSample != 3 {
		t.Fatalf("unexpected text token sample: %d", identity.TextTokenSample)
	}
}

func TestFetchHTMLRejectsErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := FetchHTML(context.Background(), srv.URL, FetchOptions{HTTPClient: srv.Client()}); err == nil {
		t.Fatalf("expected error for 404 response")
	}
}

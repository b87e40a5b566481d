package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"horse.fit/pageid/internal/fingerprint"
)

const (
	DefaultFetchTimeout  = 12 * time.Second
	DefaultRenderTimeout = 30 * time.Second
	DefaultBodyByteLimit = 2 * 1024 * 1024

	defaultUserAgent = "pageid-capture/1.0"
)

// Page is raw HTML plus the URL it was finally served from.
type Page struct {
	URL  string
	HTML []byte
}

// FetchOptions controls HTTP retrieval of a page.
type FetchOptions struct {
	Timeout       time.Duration
	BodyByteLimit int64
	UserAgent     string
	HTTPClient    *http.Client
}

// FetchHTML downloads pageURL following redirects.
func FetchHTML(ctx context.Context, pageURL string, opts FetchOptions) (Page, error) {
	target := strings.TrimSpace(pageURL)
	if target == "" {
		return Page{}, fmt.Errorf("page URL is required")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	bodyLimit := opts.BodyByteLimit
	if bodyLimit <= 0 {
		bodyLimit = DefaultBodyByteLimit
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, target, nil)
	if err != nil {
		return Page{}, fmt.Errorf("build request: %w", err)
	}

	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Page{}, fmt.Errorf("fetch status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, bodyLimit))
	if err != nil {
		return Page{}, fmt.Errorf("read body: %w", err)
	}

	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return Page{URL: finalURL, HTML: body}, nil
}

// RenderOptions controls headless browser rendering.
type RenderOptions struct {
	// ControlURL connects to a running browser's DevTools endpoint. Empty launches a local headless Chrome.
	ControlURL string
	Timeout    time.Duration
}

// RenderHTML loads pageURL in a browser so client-side rendering and routing settle, then
// snapshots the live DOM and location.
func RenderHTML(ctx context.Context, pageURL string, opts RenderOptions) (Page, error) {
	target := strings.TrimSpace(pageURL)
	if target == "" {
		return Page{}, fmt.Errorf("page URL is required")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultRenderTimeout
	}
	renderCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	controlURL := strings.TrimSpace(opts.ControlURL)
	if controlURL == "" {
		l := launcher.New().Headless(true)
		defer l.Cleanup()
		u, err := l.Launch()
		if err != nil {
			return Page{}, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL).Context(renderCtx)
	if err := browser.Connect(); err != nil {
		return Page{}, fmt.Errorf("connect browser: %w", err)
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{URL: target})
	if err != nil {
		return Page{}, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	if err := page.WaitLoad(); err != nil {
		return Page{}, fmt.Errorf("wait load %s: %w", target, err)
	}

	res, err := page.Eval(`() => ({ html: document.documentElement.outerHTML, href: location.href })`)
	if err != nil {
		return Page{}, fmt.Errorf("snapshot dom: %w", err)
	}

	finalURL := strings.TrimSpace(res.Value.Get("href").Str())
	if finalURL == "" {
		finalURL = target
	}
	return Page{URL: finalURL, HTML: []byte(res.Value.Get("html").Str())}, nil
}

// CapturePage captures a fingerprint from a fetched or rendered page. opts.SourceURL defaults to page.URL.
func CapturePage(ctx context.Context, page Page, opts Options) (fingerprint.PageIdentity, error) {
	if len(page.HTML) == 0 {
		return fingerprint.PageIdentity{}, ErrCaptureUnavailable
	}
	if strings.TrimSpace(opts.SourceURL) == "" {
		opts.SourceURL = page.URL
	}
	return CaptureHTML(ctx, bytes.NewReader(page.HTML), opts)
}

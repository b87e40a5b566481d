package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"horse.fit/pageid/internal/fingerprint"
	"horse.fit/pageid/internal/globaltime"
	"horse.fit/pageid/internal/urlnorm"
)

const (
	DefaultIdleTimeout = 50 * time.Millisecond

	minTokenLength      = 3
	maxLayoutClassNames = 3
	contentRootSelector = `main, [role="main"], article`
)

var (
	// ErrCaptureUnavailable is returned when there is no document to walk.
	ErrCaptureUnavailable = errors.New("capture: no document available")
	// ErrPageURLUnknown is returned when neither a canonical nor a source URL can be resolved.
	ErrPageURLUnknown = errors.New("capture: page url unknown")
)

// Options controls a capture. Zero limits use the package defaults.
type Options struct {
	// SourceURL is the URL the document was loaded from.
	SourceURL       string
	NodeSampleLimit int
	TokenLimit      int
	Normalize       urlnorm.Options
	// Idle is invoked once before the walk with a context bounded by IdleTimeout.
	Idle        func(ctx context.Context)
	IdleTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.NodeSampleLimit <= 0 {
		o.NodeSampleLimit = fingerprint.DefaultNodeSampleLimit
	}
	if o.TokenLimit <= 0 {
		o.TokenLimit = fingerprint.DefaultTokenLimit
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	return o
}

// CaptureHTML parses r and captures its fingerprint.
func CaptureHTML(ctx context.Context, r io.Reader, opts Options) (fingerprint.PageIdentity, error) {
	if r == nil {
		return fingerprint.PageIdentity{}, ErrCaptureUnavailable
	}
	doc, err := html.Parse(r)
	if err != nil {
		return fingerprint.PageIdentity{}, fmt.Errorf("parse html: %w", err)
	}
	return Capture(ctx, doc, opts)
}

// Capture samples text and layout tokens from doc and returns its PageIdentity.
// The document is only read.
func Capture(ctx context.Context, doc *html.Node, opts Options) (fingerprint.PageIdentity, error) {
	if doc == nil {
		return fingerprint.PageIdentity{}, ErrCaptureUnavailable
	}
	opts = opts.withDefaults()

	if opts.Idle != nil {
		idleCtx, cancel := context.WithTimeout(ctx, opts.IdleTimeout)
		opts.Idle(idleCtx)
		cancel()
	}
	if err := ctx.Err(); err != nil {
		return fingerprint.PageIdentity{}, err
	}

	if !hasDocumentElement(doc) {
		return fingerprint.PageIdentity{}, ErrCaptureUnavailable
	}
	gdoc := goquery.NewDocumentFromNode(doc)

	sourceURL := strings.TrimSpace(opts.SourceURL)
	canonicalURL := resolveCanonicalURL(gdoc, sourceURL)

	target := canonicalURL
	if target == "" {
		target = sourceURL
	}
	if target == "" {
		return fingerprint.PageIdentity{}, ErrPageURLUnknown
	}

	roots := contentRoots(gdoc)
	textTokens := sampleTextTokens(roots, opts.NodeSampleLimit, opts.TokenLimit)
	layoutTokens := sampleLayoutTokens(roots, opts.NodeSampleLimit)

	return fingerprint.PageIdentity{
		CanonicalURL:     canonicalURL,
		NormalizedURL:    urlnorm.Normalize(target, opts.Normalize),
		SourceURL:        sourceURL,
		ContentSignature: fingerprint.FormatSignature(fingerprint.SimHash(textTokens)),
		LayoutSignature:  fingerprint.FormatSignature(fingerprint.SimHash(layoutTokens)),
		LayoutTokens:     layoutTokens,
		TextTokenSample:  len(textTokens),
		GeneratedAt:      globaltime.UTC(),
	}, nil
}

func hasDocumentElement(doc *html.Node) bool {
	if doc.Type != html.DocumentNode {
		return false
	}
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Html {
			return true
		}
	}
	return false
}

func resolveCanonicalURL(doc *goquery.Document, sourceURL string) string {
	candidates := []string{
		attrOf(doc.Find(`link[rel~="canonical"]`), "href"),
		attrOf(doc.Find(`meta[property="og:url"]`), "content"),
		attrOf(doc.Find(`body[data-page-id]`), "data-page-id"),
	}
	for i, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if i < 2 {
			return absoluteURL(candidate, sourceURL)
		}
		return candidate
	}
	return ""
}

func attrOf(sel *goquery.Selection, name string) string {
	value := ""
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v, ok := s.Attr(name); ok && strings.TrimSpace(v) != "" {
			value = strings.TrimSpace(v)
			return false
		}
		return true
	})
	return value
}

func absoluteURL(ref, base string) string {
	if base == "" {
		return ref
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

// contentRoots returns main-content landmarks, outermost only, or the body.
func contentRoots(doc *goquery.Document) []*html.Node {
	var roots []*html.Node
	doc.Find(contentRootSelector).Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		if node == nil || isHidden(node) {
			return
		}
		for _, root := range roots {
			if contains(root, node) {
				return
			}
		}
		roots = append(roots, node)
	})
	if len(roots) > 0 {
		return roots
	}

	if body := doc.Find("body").First().Get(0); body != nil {
		return []*html.Node{body}
	}
	return nil
}

func contains(ancestor, node *html.Node) bool {
	for n := node.Parent; n != nil; n = n.Parent {
		if n == ancestor {
			return true
		}
	}
	return false
}

func isHidden(node *html.Node) bool {
	for n := node; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && isSkippedElement(n) {
			return true
		}
	}
	return false
}

func isSkippedElement(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Svg, atom.Canvas, atom.Img, atom.Video, atom.Audio:
		return true
	}
	if strings.EqualFold(n.Data, "svg") {
		return true
	}
	for _, attr := range n.Attr {
		if attr.Namespace == "" && strings.EqualFold(attr.Key, "aria-hidden") && strings.EqualFold(strings.TrimSpace(attr.Val), "true") {
			return true
		}
	}
	return false
}

// walkDescendants visits the descendants of root in document order, skipping hidden subtrees.
// visit returns false to stop the walk.
func walkDescendants(root *html.Node, visit func(*html.Node) bool) bool {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && isSkippedElement(c) {
			continue
		}
		if !visit(c) {
			return false
		}
		if !walkDescendants(c, visit) {
			return false
		}
	}
	return true
}

func sampleTextTokens(roots []*html.Node, nodeLimit, tokenLimit int) []string {
	tokens := make([]string, 0, tokenLimit)
	visited := 0
	for _, root := range roots {
		completed := walkDescendants(root, func(n *html.Node) bool {
			if n.Type != html.TextNode || strings.TrimSpace(n.Data) == "" {
				return true
			}
			visited++
			for _, token := range Tokenize(n.Data) {
				if len(tokens) >= tokenLimit {
					return false
				}
				tokens = append(tokens, token)
			}
			return visited < nodeLimit && len(tokens) < tokenLimit
		})
		if !completed {
			break
		}
	}
	return tokens
}

func sampleLayoutTokens(roots []*html.Node, nodeLimit int) []string {
	tokens := make([]string, 0, nodeLimit)
	for _, root := range roots {
		completed := walkDescendants(root, func(n *html.Node) bool {
			if n.Type != html.ElementNode {
				return true
			}
			tokens = append(tokens, LayoutToken(n))
			return len(tokens) < nodeLimit
		})
		if !completed {
			break
		}
	}
	return tokens
}

// Tokenize lowercases text, splits it on anything that is not a letter or digit, and drops
// tokens shorter than three runes.
func Tokenize(text string) []string {
	parts := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make([]string, 0, len(parts))
	for _, part := range parts {
		if utf8.RuneCountInString(part) < minTokenLength {
			continue
		}
		tokens = append(tokens, part)
	}
	return tokens
}

// LayoutToken describes an element as tag|role=...|#id|.class.names|data-view=...|data-page=...
func LayoutToken(n *html.Node) string {
	parts := []string{strings.ToLower(n.Data)}

	if role := attr(n, "role"); role != "" {
		parts = append(parts, "role="+role)
	}
	if id := attr(n, "id"); id != "" {
		parts = append(parts, "#"+id)
	}
	if classes := strings.Fields(attr(n, "class")); len(classes) > 0 {
		if len(classes) > maxLayoutClassNames {
			classes = classes[:maxLayoutClassNames]
		}
		parts = append(parts, "."+strings.Join(classes, "."))
	}
	if view := attr(n, "data-view"); view != "" {
		parts = append(parts, "data-view="+view)
	}
	if page := attr(n, "data-page"); page != "" {
		parts = append(parts, "data-page="+page)
	}

	return strings.Join(parts, "|")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

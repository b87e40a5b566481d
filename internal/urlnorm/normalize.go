package urlnorm

import (
	"net/url"
	"sort"
	"strings"
)

var defaultIgnoredParams = []string{
	"utm_*",
	"fbclid",
	"gclid",
	"msclkid",
	"ref",
	"ref_src",
	"igshid",
	"mc_cid",
	"mc_eid",
}

// Options controls URL normalization. The zero value strips tracking params and the fragment.
type Options struct {
	// BaseURL resolves relative inputs.
	BaseURL string
	// IgnoredParams replaces the default ignore set. A trailing "*" matches by prefix.
	IgnoredParams []string
	KeepFragment  bool
}

// DefaultIgnoredParams returns a copy of the default tracking parameter set.
func DefaultIgnoredParams() []string {
	out := make([]string, len(defaultIgnoredParams))
	copy(out, defaultIgnoredParams)
	return out
}

type queryPair struct {
	key   string
	value string
}

// Normalize canonicalizes raw for stable comparison. Inputs that cannot be parsed into an
// absolute URL are returned unchanged.
func Normalize(raw string, opts Options) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return raw
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return raw
	}
	if base := strings.TrimSpace(opts.BaseURL); base != "" && !parsed.IsAbs() {
		baseURL, err := url.Parse(base)
		if err != nil {
			return raw
		}
		parsed = baseURL.ResolveReference(parsed)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return raw
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	b.WriteString(origin(parsed))

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	b.WriteString(path)

	if query := normalizeQuery(parseQuery(parsed.RawQuery), ignoreMatcher(opts.IgnoredParams)); query != "" {
		b.WriteByte('?')
		b.WriteString(query)
	}

	if opts.KeepFragment {
		if fragment := strings.TrimPrefix(parsed.EscapedFragment(), "#"); fragment != "" {
			b.WriteByte('#')
			b.WriteString(fragment)
		}
	}

	return b.String()
}

func origin(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port := u.Port(); port != "" {
		defaultPort := (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
		if !defaultPort {
			host = host + ":" + port
		}
	}
	return scheme + "://" + host
}

// parseQuery splits a raw query on '&' only. Pairs that url.ParseQuery would drop, such as those
// containing ';' or a malformed escape, are kept with their raw text.
func parseQuery(rawQuery string) []queryPair {
	if rawQuery == "" {
		return nil
	}
	segments := strings.Split(rawQuery, "&")
	pairs := make([]queryPair, 0, len(segments))
	for _, segment := range segments {
		if segment == "" {
			continue
		}
		key, value, _ := strings.Cut(segment, "=")
		pairs = append(pairs, queryPair{key: unescapeQueryPart(key), value: unescapeQueryPart(value)})
	}
	return pairs
}

func unescapeQueryPart(part string) string {
	unescaped, err := url.QueryUnescape(part)
	if err != nil {
		return part
	}
	return unescaped
}

func normalizeQuery(parsed []queryPair, ignored func(string) bool) string {
	pairs := make([]queryPair, 0, len(parsed))
	for _, pair := range parsed {
		if pair.value == "" || ignored(strings.ToLower(pair.key)) {
			continue
		}
		pairs = append(pairs, pair)
	}
	if len(pairs) == 0 {
		return ""
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})

	var b strings.Builder
	for i, pair := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(pair.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(pair.value))
	}
	return b.String()
}

func ignoreMatcher(params []string) func(string) bool {
	if params == nil {
		params = defaultIgnoredParams
	}

	exact := make(map[string]struct{}, len(params))
	var prefixes []string
	for _, param := range params {
		lower := strings.ToLower(strings.TrimSpace(param))
		if lower == "" {
			continue
		}
		if strings.HasSuffix(lower, "*") {
			prefixes = append(prefixes, strings.TrimSuffix(lower, "*"))
			continue
		}
		exact[lower] = struct{}{}
	}

	return func(key string) bool {
		if _, ok := exact[key]; ok {
			return true
		}
		for _, prefix := range prefixes {
			if strings.HasPrefix(key, prefix) {
				return true
			}
		}
		return false
	}
}

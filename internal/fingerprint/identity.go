package fingerprint

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultNodeSampleLimit bounds element and text nodes visited during capture and the
	// number of layout tokens retained anywhere.
	DefaultNodeSampleLimit = 80
	// DefaultTokenLimit bounds sampled text tokens.
	DefaultTokenLimit = 200
)

// PageIdentity is a captured page fingerprint. Values are never mutated after capture.
type PageIdentity struct {
	CanonicalURL     string    `json:"canonicalUrl,omitempty"`
	NormalizedURL    string    `json:"normalizedUrl"`
	SourceURL        string    `json:"sourceUrl,omitempty"`
	ContentSignature string    `json:"contentSignature"`
	LayoutSignature  string    `json:"layoutSignature"`
	LayoutTokens     []string  `json:"layoutTokens"`
	TextTokenSample  int       `json:"textTokenSample"`
	GeneratedAt      time.Time `json:"generatedAt,omitzero"`
}

// Validate reports missing required fields and unparseable signatures.
func (p PageIdentity) Validate() error {
	if strings.TrimSpace(p.NormalizedURL) == "" {
		return fmt.Errorf("normalizedUrl is required")
	}
	if _, err := ParseSignature(p.ContentSignature); err != nil {
		return fmt.Errorf("contentSignature: %w", err)
	}
	if _, err := ParseSignature(p.LayoutSignature); err != nil {
		return fmt.Errorf("layoutSignature: %w", err)
	}
	if p.TextTokenSample < 0 {
		return fmt.Errorf("textTokenSample must be >= 0")
	}
	return nil
}

// BoundLayoutTokens returns at most limit tokens from the front of tokens.
func BoundLayoutTokens(tokens []string, limit int) []string {
	if limit <= 0 {
		limit = DefaultNodeSampleLimit
	}
	if len(tokens) > limit {
		tokens = tokens[:limit]
	}
	out := make([]string, len(tokens))
	copy(out, tokens)
	return out
}

package fingerprint

import "strings"

const (
	DefaultMaxContentDistance = 8
	// ExactContentDistance requests identical content signatures. A zero MaxContentDistance
	// means the default, so exact matching needs this sentinel.
	ExactContentDistance       = -1
	DefaultMinLayoutSimilarity = 0.6

	ReasonCanonicalURLMatch = "canonical-url-match"
	ReasonContentSimilarity = "content-similarity"
	ReasonLayoutSimilarity  = "layout-similarity"
	ReasonSimilarityMatch   = "similarity-match"
	ReasonNewPageIdentity   = "new-page-identity"
	canonicalScoreWeight    = 0.4
	layoutScoreWeight       = 0.4
	contentScoreWeight      = 0.2
)

// CompareOptions tunes match thresholds. Zero thresholds fall back to the defaults; see
// ExactContentDistance for a zero distance.
type CompareOptions struct {
	MaxContentDistance        int     `json:"maxContentDistance,omitempty"`
	MinLayoutSimilarity       float64 `json:"minLayoutSimilarity,omitempty"`
	RequireCanonicalAgreement bool    `json:"requireCanonicalAgreement,omitempty"`
}

// Comparison describes how two identities relate.
type Comparison struct {
	IsMatch          bool     `json:"isMatch"`
	CanonicalMatch   bool     `json:"canonicalMatch"`
	ContentDistance  int      `json:"contentDistance"`
	LayoutSimilarity float64  `json:"layoutSimilarity"`
	Reasons          []string `json:"reason"`
}

func (o CompareOptions) withDefaults() CompareOptions {
	switch {
	case o.MaxContentDistance < 0:
		o.MaxContentDistance = 0
	case o.MaxContentDistance == 0:
		o.MaxContentDistance = DefaultMaxContentDistance
	}
	if o.MaxContentDistance > SignatureBits {
		o.MaxContentDistance = SignatureBits
	}
	if o.MinLayoutSimilarity <= 0 {
		o.MinLayoutSimilarity = DefaultMinLayoutSimilarity
	}
	return o
}

// ContentDistanceOption converts a configured distance, where 0 means identical content only,
// into a CompareOptions value.
func ContentDistanceOption(distance int) int {
	if distance == 0 {
		return ExactContentDistance
	}
	return distance
}

// Compare evaluates candidate against subject. Unparseable signatures count as fully distant.
func Compare(subject, candidate PageIdentity, opts CompareOptions) Comparison {
	opts = opts.withDefaults()

	canonicalMatch := canonicalURLsAgree(subject.CanonicalURL, candidate.CanonicalURL)
	contentDistance, err := SignatureDistance(subject.ContentSignature, candidate.ContentSignature)
	if err != nil {
		contentDistance = SignatureBits
	}
	layoutSimilarity := JaccardIndex(subject.LayoutTokens, candidate.LayoutTokens)

	contentOK := contentDistance <= opts.MaxContentDistance
	layoutOK := layoutSimilarity >= opts.MinLayoutSimilarity

	reasons := make([]string, 0, 3)
	if canonicalMatch {
		reasons = append(reasons, ReasonCanonicalURLMatch)
	}
	if contentOK {
		reasons = append(reasons, ReasonContentSimilarity)
	}
	if layoutOK {
		reasons = append(reasons, ReasonLayoutSimilarity)
	}

	isMatch := canonicalMatch || (contentOK && layoutOK)
	if opts.RequireCanonicalAgreement {
		isMatch = isMatch && canonicalMatch
	}

	return Comparison{
		IsMatch:          isMatch,
		CanonicalMatch:   canonicalMatch,
		ContentDistance:  contentDistance,
		LayoutSimilarity: layoutSimilarity,
		Reasons:          reasons,
	}
}

func canonicalURLsAgree(left, right string) bool {
	if strings.TrimSpace(left) == "" || strings.TrimSpace(right) == "" {
		return false
	}
	return left == right
}

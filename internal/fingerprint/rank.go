package fingerprint

import (
	"math"
	"sort"
)

// Candidate is a stored identity offered to Rank.
type Candidate struct {
	ID       string
	Identity PageIdentity
}

// RankedMatch is a scored candidate.
type RankedMatch struct {
	ID         string     `json:"id"`
	IsMatch    bool       `json:"isMatch"`
	Score      float64    `json:"score"`
	Comparison Comparison `json:"comparison"`
}

// Rank compares fp with every candidate and returns them ordered by score, highest first.
// Equal scores keep input order.
func Rank(fp PageIdentity, candidates []Candidate, opts CompareOptions) []RankedMatch {
	opts = opts.withDefaults()

	ranked := make([]RankedMatch, 0, len(candidates))
	for _, candidate := range candidates {
		comparison := Compare(fp, candidate.Identity, opts)
		ranked = append(ranked, RankedMatch{
			ID:         candidate.ID,
			IsMatch:    comparison.IsMatch,
			Score:      matchScore(comparison, opts.MaxContentDistance),
			Comparison: comparison,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

func matchScore(c Comparison, maxContentDistance int) float64 {
	contentScore := math.Max(0, 1-float64(c.ContentDistance)/float64(maxContentDistance+1))
	canonicalScore := 0.0
	if c.CanonicalMatch {
		canonicalScore = 1
	}
	return canonicalScoreWeight*canonicalScore +
		layoutScoreWeight*c.LayoutSimilarity +
		contentScoreWeight*contentScore
}

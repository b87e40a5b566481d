package resolve

import (
	"context"
	"errors"
	"time"

	"horse.fit/pageid/internal/fingerprint"
)

var (
	// ErrNotFound is returned by Store.FindByID when no record has the id.
	ErrNotFound = errors.New("page identity not found")
	// ErrStoreUnavailable wraps failed store reads.
	ErrStoreUnavailable = errors.New("page identity store unavailable")
	// ErrStoreWriteFailed wraps failed store writes.
	ErrStoreWriteFailed = errors.New("page identity store write failed")
	// ErrInvalidPayload is returned for payloads missing a normalized URL or a parseable signature.
	ErrInvalidPayload = errors.New("invalid page identity payload")
)

// Record is a stored page identity. ID is the pageId handed to downstream consumers.
type Record struct {
	ID               string     `json:"pageId"`
	CanonicalURL     string     `json:"canonicalUrl,omitempty"`
	NormalizedURL    string     `json:"normalizedUrl"`
	SourceURLs       []string   `json:"sourceUrls"`
	ContentSignature string     `json:"contentSignature"`
	LayoutSignature  string     `json:"layoutSignature"`
	LayoutTokens     []string   `json:"layoutTokens"`
	TextTokenSample  int        `json:"textTokenSample"`
	GeneratedAt      *time.Time `json:"generatedAt,omitempty"`
	LastSeenAt       time.Time  `json:"lastSeenAt"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Identity is the fingerprint view of the record used for ranking.
func (r Record) Identity() fingerprint.PageIdentity {
	identity := fingerprint.PageIdentity{
		CanonicalURL:     r.CanonicalURL,
		NormalizedURL:    r.NormalizedURL,
		ContentSignature: r.ContentSignature,
		LayoutSignature:  r.LayoutSignature,
		LayoutTokens:     r.LayoutTokens,
		TextTokenSample:  r.TextTokenSample,
	}
	if n := len(r.SourceURLs); n > 0 {
		identity.SourceURL = r.SourceURLs[n-1]
	}
	if r.GeneratedAt != nil {
		identity.GeneratedAt = *r.GeneratedAt
	}
	return identity
}

// Patch is an in-place update of a stored record. Nil URL pointers and a nil SourceURLs slice
// leave those fields unchanged. Signatures, layout tokens and the sample size are always written.
type Patch struct {
	NormalizedURL    *string
	CanonicalURL     *string
	ContentSignature string
	LayoutSignature  string
	LayoutTokens     []string
	TextTokenSample  int
	SourceURLs       []string
	LastSeenAt       time.Time
}

// Store is the durable keyed store behind resolution.
type Store interface {
	// FindCandidates returns records whose normalized URL matches, or whose canonical URL matches
	// when canonicalURL is non-empty, most recently updated first.
	FindCandidates(ctx context.Context, normalizedURL, canonicalURL string) ([]Record, error)
	Create(ctx context.Context, record Record) (Record, error)
	UpdateOne(ctx context.Context, id string, patch Patch) error
	FindByID(ctx context.Context, id string) (Record, error)
}

// Locker serializes work on one key across callers. Stores that implement it make concurrent
// first-seen resolutions of the same normalized URL agree on one record.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Event is the audit entry written after each resolution.
type Event struct {
	Resolution
	NormalizedURL  string
	SourceURL      string
	CandidateCount int
}

// EventRecorder is implemented by stores that keep a resolution audit log.
type EventRecorder interface {
	RecordResolution(ctx context.Context, event Event) error
}

// ReconcileStore is the store surface the duplicate merge pass needs.
type ReconcileStore interface {
	Store
	DuplicateNormalizedURLs(ctx context.Context, limit int) ([]string, error)
	ListByNormalizedURL(ctx context.Context, normalizedURL string) ([]Record, error)
	Merge(ctx context.Context, survivorID string, patch Patch, duplicateIDs []string) error
}

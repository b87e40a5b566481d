package resolve

import (
	"context"
	"errors"
	"fmt"

	"horse.fit/pageid/internal/db"
)

// DefaultCandidateLimit caps the candidates loaded per resolution.
const DefaultCandidateLimit = 50

type lockedQueriesKey struct{}

// PostgresStore adapts db.Pool to Store, Locker, EventRecorder and ReconcileStore.
type PostgresStore struct {
	pool           *db.Pool
	candidateLimit int
}

func NewPostgresStore(pool *db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, candidateLimit: DefaultCandidateLimit}
}

func (s *PostgresStore) FindCandidates(ctx context.Context, normalizedURL, canonicalURL string) ([]Record, error) {
	rows, err := s.queries(ctx).FindPageIdentityCandidates(ctx, normalizedURL, canonicalURL, s.candidateLimit)
	if err != nil {
		return nil, err
	}
	return recordsFromRows(rows), nil
}

func (s *PostgresStore) Create(ctx context.Context, record Record) (Record, error) {
	row, err := s.queries(ctx).CreatePageIdentity(ctx, rowFromRecord(record))
	if err != nil {
		return Record{}, err
	}
	return recordFromRow(row), nil
}

func (s *PostgresStore) UpdateOne(ctx context.Context, id string, patch Patch) error {
	err := s.queries(ctx).UpdatePageIdentity(ctx, id, updateFromPatch(patch))
	if db.IsNoRows(err) {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (Record, error) {
	row, err := s.queries(ctx).FindPageIdentityByID(ctx, id)
	if db.IsNoRows(err) || errors.Is(err, db.ErrInvalidID) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return recordFromRow(row), nil
}

// WithLock runs fn inside a transaction holding a postgres advisory lock on key. Store calls made
// with the context fn receives join that transaction.
func (s *PostgresStore) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	var inner error
	err := s.pool.WithAdvisoryLock(ctx, key, func(ctx context.Context, q db.Queries) error {
		inner = fn(context.WithValue(ctx, lockedQueriesKey{}, q))
		return inner
	})
	if err != nil && inner == nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

func (s *PostgresStore) queries(ctx context.Context) db.Queries {
	if q, ok := ctx.Value(lockedQueriesKey{}).(db.Queries); ok {
		return q
	}
	return s.pool.Queries
}

func (s *PostgresStore) RecordResolution(ctx context.Context, event Event) error {
	return s.queries(ctx).InsertResolutionEvent(ctx, db.ResolutionEventInput{
		PageIdentityID: event.PageID,
		NormalizedURL:  event.NormalizedURL,
		SourceURL:      event.SourceURL,
		Matched:        event.Matched,
		CanonicalMatch: event.CanonicalMatch,
		Confidence:     event.Confidence,
		Reasons:        event.Reasons,
		CandidateCount: event.CandidateCount,
	})
}

func (s *PostgresStore) DuplicateNormalizedURLs(ctx context.Context, limit int) ([]string, error) {
	return s.queries(ctx).ListDuplicateNormalizedURLs(ctx, limit)
}

func (s *PostgresStore) ListByNormalizedURL(ctx context.Context, normalizedURL string) ([]Record, error) {
	rows, err := s.queries(ctx).ListPageIdentitiesByNormalizedURL(ctx, normalizedURL)
	if err != nil {
		return nil, err
	}
	return recordsFromRows(rows), nil
}

func (s *PostgresStore) Merge(ctx context.Context, survivorID string, patch Patch, duplicateIDs []string) error {
	err := s.queries(ctx).MergePageIdentities(ctx, survivorID, updateFromPatch(patch), duplicateIDs)
	if db.IsNoRows(err) {
		return ErrNotFound
	}
	return err
}

func recordsFromRows(rows []db.PageIdentityRow) []Record {
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, recordFromRow(row))
	}
	return out
}

func recordFromRow(row db.PageIdentityRow) Record {
	return Record{
		ID:               row.PageIdentityID,
		CanonicalURL:     row.CanonicalURL,
		NormalizedURL:    row.NormalizedURL,
		SourceURLs:       row.SourceURLs,
		ContentSignature: row.ContentSignature,
		LayoutSignature:  row.LayoutSignature,
		LayoutTokens:     row.LayoutTokens,
		TextTokenSample:  row.TextTokenSample,
		GeneratedAt:      row.GeneratedAt,
		LastSeenAt:       row.LastSeenAt,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
}

func rowFromRecord(record Record) db.PageIdentityRow {
	return db.PageIdentityRow{
		PageIdentityID:   record.ID,
		CanonicalURL:     record.CanonicalURL,
		NormalizedURL:    record.NormalizedURL,
		SourceURLs:       record.SourceURLs,
		ContentSignature: record.ContentSignature,
		LayoutSignature:  record.LayoutSignature,
		LayoutTokens:     record.LayoutTokens,
		TextTokenSample:  record.TextTokenSample,
		GeneratedAt:      record.GeneratedAt,
		LastSeenAt:       record.LastSeenAt,
	}
}

func updateFromPatch(patch Patch) db.PageIdentityUpdate {
	contentSignature := patch.ContentSignature
	layoutSignature := patch.LayoutSignature
	textTokenSample := patch.TextTokenSample
	layoutTokens := patch.LayoutTokens
	if layoutTokens == nil {
		layoutTokens = []string{}
	}
	return db.PageIdentityUpdate{
		CanonicalURL:     patch.CanonicalURL,
		NormalizedURL:    patch.NormalizedURL,
		ContentSignature: &contentSignature,
		LayoutSignature:  &layoutSignature,
		LayoutTokens:     layoutTokens,
		TextTokenSample:  &textTokenSample,
		SourceURLs:       patch.SourceURLs,
		LastSeenAt:       patch.LastSeenAt,
	}
}

package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidID = errors.New("invalid page identity id")

// Queries runs the page identity statements against the pool or against one transaction.
type Queries struct {
	q Querier
	// begin is nil when q is already a transaction.
	begin func(ctx context.Context) (Tx, error)
}

const pageIdentityColumns = `
	page_identity_id::text,
	canonical_url,
	normalized_url,
	source_urls,
	content_signature,
	layout_signature,
	layout_tokens,
	text_token_sample,
	generated_at,
	last_seen_at,
	created_at,
	updated_at`

// PageIdentityRow is the read model of a stored page identity.
type PageIdentityRow struct {
	PageIdentityID   string
	CanonicalURL     string
	NormalizedURL    string
	SourceURLs       []string
	ContentSignature string
	LayoutSignature  string
	LayoutTokens     []string
	TextTokenSample  int
	GeneratedAt      *time.Time
	LastSeenAt       time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PageIdentityUpdate is a partial update. Nil pointers and nil slices leave the column unchanged.
type PageIdentityUpdate struct {
	CanonicalURL     *string
	NormalizedURL    *string
	ContentSignature *string
	LayoutSignature  *string
	LayoutTokens     []string
	TextTokenSample  *int
	SourceURLs       []string
	LastSeenAt       time.Time
}

// ResolutionEventInput is one resolve verdict to append to the audit log.
type ResolutionEventInput struct {
	PageIdentityID string
	NormalizedURL  string
	SourceURL      string
	Matched        bool
	CanonicalMatch bool
	Confidence     float64
	Reasons        []string
	CandidateCount int
}

// FindPageIdentityCandidates returns records whose normalized URL equals normalizedURL or, when
// canonicalURL is non-empty, whose canonical URL equals it. Most recently updated first.
func (qs Queries) FindPageIdentityCandidates(ctx context.Context, normalizedURL, canonicalURL string, limit int) ([]PageIdentityRow, error) {
	normalizedURL = strings.TrimSpace(normalizedURL)
	if normalizedURL == "" {
		return nil, fmt.Errorf("normalized URL is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	q := `
SELECT` + pageIdentityColumns + `
FROM pageid.page_identities
WHERE normalized_url = $1
   OR ($2 <> '' AND canonical_url = $2)
ORDER BY updated_at DESC, page_identity_id
LIMIT $3
`
	rows, err := qs.q.Query(ctx, q, normalizedURL, strings.TrimSpace(canonicalURL), limit)
	if err != nil {
		return nil, fmt.Errorf("query page identity candidates: %w", err)
	}
	defer rows.Close()
	return scanPageIdentityRows(rows)
}

// ListPageIdentitiesByNormalizedURL returns every record sharing normalizedURL, oldest first.
func (qs Queries) ListPageIdentitiesByNormalizedURL(ctx context.Context, normalizedURL string) ([]PageIdentityRow, error) {
	q := `
SELECT` + pageIdentityColumns + `
FROM pageid.page_identities
WHERE normalized_url = $1
ORDER BY created_at ASC, page_identity_id
`
	rows, err := qs.q.Query(ctx, q, strings.TrimSpace(normalizedURL))
	if err != nil {
		return nil, fmt.Errorf("query page identities by normalized url: %w", err)
	}
	defer rows.Close()
	return scanPageIdentityRows(rows)
}

// ListDuplicateNormalizedURLs returns normalized URLs held by more than one record.
func (qs Queries) ListDuplicateNormalizedURLs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	const q = `
SELECT normalized_url
FROM pageid.page_identities
GROUP BY normalized_url
HAVING COUNT(*) > 1
ORDER BY MIN(created_at) ASC
LIMIT $1
`
	rows, err := qs.q.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query duplicate normalized urls: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0, limit)
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scan duplicate normalized url: %w", err)
		}
		out = append(out, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate duplicate normalized urls: %w", err)
	}
	return out, nil
}

func (qs Queries) FindPageIdentityByID(ctx context.Context, pageIdentityID string) (PageIdentityRow, error) {
	id, err := parsePageIdentityID(pageIdentityID)
	if err != nil {
		return PageIdentityRow{}, err
	}

	q := `
SELECT` + pageIdentityColumns + `
FROM pageid.page_identities
WHERE page_identity_id = $1::uuid
`
	rows, err := qs.q.Query(ctx, q, id)
	if err != nil {
		return PageIdentityRow{}, fmt.Errorf("query page identity: %w", err)
	}
	defer rows.Close()

	items, err := scanPageIdentityRows(rows)
	if err != nil {
		return PageIdentityRow{}, err
	}
	if len(items) == 0 {
		return PageIdentityRow{}, ErrNoRows
	}
	return items[0], nil
}

// CreatePageIdentity inserts row and returns the stored record. An empty PageIdentityID is assigned.
func (qs Queries) CreatePageIdentity(ctx context.Context, row PageIdentityRow) (PageIdentityRow, error) {
	if strings.TrimSpace(row.NormalizedURL) == "" {
		return PageIdentityRow{}, fmt.Errorf("normalized URL is required")
	}
	id := strings.TrimSpace(row.PageIdentityID)
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := parsePageIdentityID(id); err != nil {
		return PageIdentityRow{}, err
	}

	sourceURLs, err := marshalStringList(row.SourceURLs)
	if err != nil {
		return PageIdentityRow{}, fmt.Errorf("encode source urls: %w", err)
	}
	layoutTokens, err := marshalStringList(row.LayoutTokens)
	if err != nil {
		return PageIdentityRow{}, fmt.Errorf("encode layout tokens: %w", err)
	}

	lastSeen := row.LastSeenAt.UTC()
	if row.LastSeenAt.IsZero() {
		lastSeen = time.Now().UTC()
	}

	const q = `
INSERT INTO pageid.page_identities (
	page_identity_id,
	canonical_url,
	normalized_url,
	source_urls,
	content_signature,
	layout_signature,
	layout_tokens,
	text_token_sample,
	generated_at,
	last_seen_at,
	created_at,
	updated_at
)
VALUES ($1::uuid, NULLIF($2, ''), $3, $4::jsonb, $5, $6, $7::jsonb, $8, $9, $10, $10, $10)
`
	if _, err := qs.q.Exec(ctx, q,
		id,
		strings.TrimSpace(row.CanonicalURL),
		strings.TrimSpace(row.NormalizedURL),
		sourceURLs,
		row.ContentSignature,
		row.LayoutSignature,
		layoutTokens,
		row.TextTokenSample,
		row.GeneratedAt,
		lastSeen,
	); err != nil {
		return PageIdentityRow{}, fmt.Errorf("insert page identity: %w", err)
	}

	return qs.FindPageIdentityByID(ctx, id)
}

// UpdatePageIdentity applies upd to one record. It returns ErrNoRows when the record does not exist.
func (qs Queries) UpdatePageIdentity(ctx context.Context, pageIdentityID string, upd PageIdentityUpdate) error {
	return updatePageIdentity(ctx, qs.q, pageIdentityID, upd)
}

func updatePageIdentity(ctx context.Context, q Querier, pageIdentityID string, upd PageIdentityUpdate) error {
	id, err := parsePageIdentityID(pageIdentityID)
	if err != nil {
		return err
	}

	lastSeen := upd.LastSeenAt.UTC()
	if upd.LastSeenAt.IsZero() {
		lastSeen = time.Now().UTC()
	}

	set := []string{"last_seen_at = $2", "updated_at = $2"}
	args := []any{id, lastSeen}
	argPos := 3

	addSet := func(column string, value any) {
		set = append(set, fmt.Sprintf("%s = $%d", column, argPos))
		args = append(args, value)
		argPos++
	}

	if upd.CanonicalURL != nil {
		addSet("canonical_url", nullableString(*upd.CanonicalURL))
	}
	if upd.NormalizedURL != nil {
		addSet("normalized_url", strings.TrimSpace(*upd.NormalizedURL))
	}
	if upd.ContentSignature != nil {
		addSet("content_signature", *upd.ContentSignature)
	}
	if upd.LayoutSignature != nil {
		addSet("layout_signature", *upd.LayoutSignature)
	}
	if upd.TextTokenSample != nil {
		addSet("text_token_sample", *upd.TextTokenSample)
	}
	if upd.LayoutTokens != nil {
		encoded, err := marshalStringList(upd.LayoutTokens)
		if err != nil {
			return fmt.Errorf("encode layout tokens: %w", err)
		}
		set = append(set, fmt.Sprintf("layout_tokens = $%d::jsonb", argPos))
		args = append(args, encoded)
		argPos++
	}
	if upd.SourceURLs != nil {
		encoded, err := marshalStringList(upd.SourceURLs)
		if err != nil {
			return fmt.Errorf("encode source urls: %w", err)
		}
		set = append(set, fmt.Sprintf("source_urls = $%d::jsonb", argPos))
		args = append(args, encoded)
	}

	query := fmt.Sprintf(`
UPDATE pageid.page_identities
SET %s
WHERE page_identity_id = $1::uuid
`, strings.Join(set, ",\n\t"))

	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update page identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

// MergePageIdentities folds duplicates into survivor: the survivor takes upd, resolution events
// are repointed to it, and the duplicate rows are removed. On the pool it opens its own transaction;
// inside WithAdvisoryLock it joins the locked one.
func (qs Queries) MergePageIdentities(ctx context.Context, survivorID string, upd PageIdentityUpdate, duplicateIDs []string) (err error) {
	if len(duplicateIDs) == 0 {
		return fmt.Errorf("at least one duplicate is required")
	}
	ids := make([]string, 0, len(duplicateIDs))
	for _, raw := range duplicateIDs {
		id, parseErr := parsePageIdentityID(raw)
		if parseErr != nil {
			return parseErr
		}
		if id == survivorID {
			return fmt.Errorf("survivor %s cannot be merged into itself", id)
		}
		ids = append(ids, id)
	}

	if qs.begin == nil {
		return mergePageIdentities(ctx, qs.q, survivorID, upd, ids)
	}

	tx, err := qs.begin(ctx)
	if err != nil {
		return fmt.Errorf("begin merge transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = mergePageIdentities(ctx, tx, survivorID, upd, ids); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit merge transaction: %w", err)
	}
	return nil
}

func mergePageIdentities(ctx context.Context, q Querier, survivorID string, upd PageIdentityUpdate, ids []string) error {
	if err := updatePageIdentity(ctx, q, survivorID, upd); err != nil {
		return err
	}

	encodedIDs, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode duplicate ids: %w", err)
	}

	const repoint = `
UPDATE pageid.resolution_events
SET page_identity_id = $1::uuid
WHERE page_identity_id::text IN (SELECT jsonb_array_elements_text($2::jsonb))
`
	if _, err := q.Exec(ctx, repoint, survivorID, string(encodedIDs)); err != nil {
		return fmt.Errorf("repoint resolution events: %w", err)
	}

	const remove = `
DELETE FROM pageid.page_identities
WHERE page_identity_id::text IN (SELECT jsonb_array_elements_text($1::jsonb))
`
	if _, err := q.Exec(ctx, remove, string(encodedIDs)); err != nil {
		return fmt.Errorf("delete merged page identities: %w", err)
	}
	return nil
}

func (qs Queries) InsertResolutionEvent(ctx context.Context, ev ResolutionEventInput) error {
	id, err := parsePageIdentityID(ev.PageIdentityID)
	if err != nil {
		return err
	}
	reasons, err := marshalStringList(ev.Reasons)
	if err != nil {
		return fmt.Errorf("encode reasons: %w", err)
	}

	const q = `
INSERT INTO pageid.resolution_events (
	page_identity_id,
	normalized_url,
	source_url,
	matched,
	canonical_match,
	confidence,
	reasons,
	candidate_count
)
VALUES ($1::uuid, $2, NULLIF($3, ''), $4, $5, $6, $7::jsonb, $8)
`
	if _, err := qs.q.Exec(ctx, q,
		id,
		ev.NormalizedURL,
		strings.TrimSpace(ev.SourceURL),
		ev.Matched,
		ev.CanonicalMatch,
		ev.Confidence,
		reasons,
		ev.CandidateCount,
	); err != nil {
		return fmt.Errorf("insert resolution event: %w", err)
	}
	return nil
}

func scanPageIdentityRows(rows *Rows) ([]PageIdentityRow, error) {
	items := make([]PageIdentityRow, 0, 8)
	for rows.Next() {
		var (
			item         PageIdentityRow
			canonicalURL *string
			sourceURLs   []byte
			layoutTokens []byte
		)
		if err := rows.Scan(
			&item.PageIdentityID,
			&canonicalURL,
			&item.NormalizedURL,
			&sourceURLs,
			&item.ContentSignature,
			&item.LayoutSignature,
			&layoutTokens,
			&item.TextTokenSample,
			&item.GeneratedAt,
			&item.LastSeenAt,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan page identity: %w", err)
		}
		if canonicalURL != nil {
			item.CanonicalURL = *canonicalURL
		}
		var err error
		if item.SourceURLs, err = unmarshalStringList(sourceURLs); err != nil {
			return nil, fmt.Errorf("decode source urls for %s: %w", item.PageIdentityID, err)
		}
		if item.LayoutTokens, err = unmarshalStringList(layoutTokens); err != nil {
			return nil, fmt.Errorf("decode layout tokens for %s: %w", item.PageIdentityID, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate page identities: %w", err)
	}
	return items, nil
}

func parsePageIdentityID(raw string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidID, raw, err)
	}
	return parsed.String(), nil
}

func marshalStringList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func unmarshalStringList(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func nullableString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

package resolve

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/pageid/internal/fingerprint"
	"horse.fit/pageid/internal/globaltime"
	"horse.fit/pageid/internal/metrics"
)

const (
	// MaxSourceURLs bounds the literal URL history kept per record.
	MaxSourceURLs = 10
	// rankedLogLimit is how many ranked candidates are logged per resolution.
	rankedLogLimit = 3
)

type Options struct {
	Compare fingerprint.CompareOptions
	// LayoutTokenLimit bounds stored layout tokens. Zero uses fingerprint.DefaultNodeSampleLimit.
	LayoutTokenLimit int
	Metrics          *metrics.Metrics
}

// Resolution is the verdict returned to callers attaching data to a page.
type Resolution struct {
	PageID         string   `json:"pageId"`
	Matched        bool     `json:"matched"`
	Confidence     float64  `json:"confidence"`
	CanonicalMatch bool     `json:"canonicalMatch"`
	Reasons        []string `json:"reasons"`
}

type Result struct {
	Document   Record     `json:"document"`
	Resolution Resolution `json:"resolution"`
}

type Service struct {
	store   Store
	logger  zerolog.Logger
	compare fingerprint.CompareOptions
	tokens  int
	metrics *metrics.Metrics
}

func NewService(store Store, logger zerolog.Logger, opts Options) *Service {
	tokens := opts.LayoutTokenLimit
	if tokens <= 0 {
		tokens = fingerprint.DefaultNodeSampleLimit
	}
	return &Service{
		store:   store,
		logger:  logger,
		compare: opts.Compare,
		tokens:  tokens,
		metrics: opts.Metrics,
	}
}

// Resolve matches payload against stored records and either merges it into the best match or
// creates a new record. Store failures are returned and no pageId is produced.
func (s *Service) Resolve(ctx context.Context, payload fingerprint.PageIdentity) (Result, error) {
	if s == nil || s.store == nil {
		return Result{}, fmt.Errorf("resolve service is not initialized")
	}
	if err := payload.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	started := time.Now()
	var (
		result Result
		stats  resolveStats
	)
	run := func(ctx context.Context) error {
		var err error
		result, stats, err = s.resolve(ctx, payload)
		return err
	}

	var err error
	if locker, ok := s.store.(Locker); ok {
		err = locker.WithLock(ctx, payload.NormalizedURL, run)
	} else {
		err = run(ctx)
	}

	outcome := metrics.OutcomeError
	if err == nil {
		outcome = metrics.OutcomeCreated
		if result.Resolution.Matched {
			outcome = metrics.OutcomeMatched
		}
	}
	s.metrics.ObserveResolution(outcome, stats.candidates, stats.topScore, stats.ranked, time.Since(started))
	if err != nil {
		return Result{}, err
	}

	s.recordEvent(ctx, payload, result.Resolution, stats.candidates)
	return result, nil
}

type resolveStats struct {
	candidates int
	ranked     bool
	topScore   float64
}

func (s *Service) resolve(ctx context.Context, payload fingerprint.PageIdentity) (Result, resolveStats, error) {
	var stats resolveStats

	records, err := s.store.FindCandidates(ctx, payload.NormalizedURL, payload.CanonicalURL)
	if err != nil {
		return Result{}, stats, fmt.Errorf("%w: find candidates: %v", ErrStoreUnavailable, err)
	}
	stats.candidates = len(records)

	s.logger.Debug().
		Str("normalized_url", payload.NormalizedURL).
		Str("canonical_url", payload.CanonicalURL).
		Int("candidates", len(records)).
		Msg("page identity candidates loaded")

	if len(records) > 0 {
		byID := make(map[string]Record, len(records))
		candidates := make([]fingerprint.Candidate, 0, len(records))
		for _, record := range records {
			byID[record.ID] = record
			candidates = append(candidates, fingerprint.Candidate{ID: record.ID, Identity: record.Identity()})
		}

		ranked := fingerprint.Rank(payload, candidates, s.compare)
		top := ranked[0]
		stats.ranked = true
		stats.topScore = top.Score

		s.logger.Debug().
			Str("normalized_url", payload.NormalizedURL).
			Array("ranked", rankedLogArray(ranked)).
			Msg("page identity candidates ranked")

		if top.IsMatch {
			record, err := s.merge(ctx, byID[top.ID], payload)
			if err != nil {
				return Result{}, stats, err
			}

			reasons := top.Comparison.Reasons
			if len(reasons) == 0 {
				reasons = []string{fingerprint.ReasonSimilarityMatch}
			}
			resolution := Resolution{
				PageID:         record.ID,
				Matched:        true,
				Confidence:     top.Score,
				CanonicalMatch: top.Comparison.CanonicalMatch,
				Reasons:        slices.Clone(reasons),
			}
			s.logResolution(payload, resolution)
			return Result{Document: record, Resolution: resolution}, stats, nil
		}
	}

	record, err := s.create(ctx, payload)
	if err != nil {
		return Result{}, stats, err
	}
	resolution := Resolution{
		PageID:         record.ID,
		Matched:        false,
		Confidence:     1,
		CanonicalMatch: false,
		Reasons:        []string{fingerprint.ReasonNewPageIdentity},
	}
	s.logResolution(payload, resolution)
	return Result{Document: record, Resolution: resolution}, stats, nil
}

func (s *Service) merge(ctx context.Context, record Record, payload fingerprint.PageIdentity) (Record, error) {
	patch := MergePatch(record, payload, s.tokens, globaltime.UTC())
	if err := s.store.UpdateOne(ctx, record.ID, patch); err != nil {
		return Record{}, fmt.Errorf("%w: update %s: %v", ErrStoreWriteFailed, record.ID, err)
	}

	updated, err := s.store.FindByID(ctx, record.ID)
	if err != nil {
		return Record{}, fmt.Errorf("%w: reload %s: %v", ErrStoreUnavailable, record.ID, err)
	}
	return updated, nil
}

func (s *Service) create(ctx context.Context, payload fingerprint.PageIdentity) (Record, error) {
	now := globaltime.UTC()
	record := Record{
		CanonicalURL:     strings.TrimSpace(payload.CanonicalURL),
		NormalizedURL:    strings.TrimSpace(payload.NormalizedURL),
		SourceURLs:       AppendSourceURL(nil, payload.SourceURL),
		ContentSignature: payload.ContentSignature,
		LayoutSignature:  payload.LayoutSignature,
		LayoutTokens:     fingerprint.BoundLayoutTokens(payload.LayoutTokens, s.tokens),
		TextTokenSample:  payload.TextTokenSample,
		LastSeenAt:       now,
	}
	if !payload.GeneratedAt.IsZero() {
		generated := payload.GeneratedAt.UTC()
		record.GeneratedAt = &generated
	}

	created, err := s.store.Create(ctx, record)
	if err != nil {
		return Record{}, fmt.Errorf("%w: create: %v", ErrStoreWriteFailed, err)
	}
	return created, nil
}

// Get returns the stored record for pageID.
func (s *Service) Get(ctx context.Context, pageID string) (Record, error) {
	if s == nil || s.store == nil {
		return Record{}, fmt.Errorf("resolve service is not initialized")
	}
	record, err := s.store.FindByID(ctx, strings.TrimSpace(pageID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("%w: find %s: %v", ErrStoreUnavailable, pageID, err)
	}
	return record, nil
}

func (s *Service) recordEvent(ctx context.Context, payload fingerprint.PageIdentity, resolution Resolution, candidates int) {
	recorder, ok := s.store.(EventRecorder)
	if !ok {
		return
	}
	err := recorder.RecordResolution(ctx, Event{
		Resolution:     resolution,
		NormalizedURL:  payload.NormalizedURL,
		SourceURL:      payload.SourceURL,
		CandidateCount: candidates,
	})
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("page_id", resolution.PageID).
			Msg("resolution event not recorded")
	}
}

func (s *Service) logResolution(payload fingerprint.PageIdentity, resolution Resolution) {
	s.logger.Info().
		Str("page_id", resolution.PageID).
		Str("normalized_url", payload.NormalizedURL).
		Bool("matched", resolution.Matched).
		Float64("confidence", resolution.Confidence).
		Bool("canonical_match", resolution.CanonicalMatch).
		Strs("reasons", resolution.Reasons).
		Msg("page identity resolved")
}

func rankedLogArray(ranked []fingerprint.RankedMatch) *zerolog.Array {
	arr := zerolog.Arr()
	for i, match := range ranked {
		if i >= rankedLogLimit {
			break
		}
		arr.Dict(zerolog.Dict().
			Str("id", match.ID).
			Float64("score", match.Score).
			Bool("is_match", match.IsMatch).
			Int("content_distance", match.Comparison.ContentDistance).
			Float64("layout_similarity", match.Comparison.LayoutSimilarity).
			Bool("canonical_match", match.Comparison.CanonicalMatch))
	}
	return arr
}

// MergePatch builds the update applied when payload resolves to record. URLs change only when the
// payload carries a different non-empty value. Signatures and layout track the latest observation.
func MergePatch(record Record, payload fingerprint.PageIdentity, layoutTokenLimit int, now time.Time) Patch {
	patch := Patch{
		ContentSignature: payload.ContentSignature,
		LayoutSignature:  payload.LayoutSignature,
		LayoutTokens:     fingerprint.BoundLayoutTokens(payload.LayoutTokens, layoutTokenLimit),
		TextTokenSample:  payload.TextTokenSample,
		SourceURLs:       AppendSourceURL(record.SourceURLs, payload.SourceURL),
		LastSeenAt:       now,
	}
	if normalized := strings.TrimSpace(payload.NormalizedURL); normalized != "" && normalized != record.NormalizedURL {
		patch.NormalizedURL = &normalized
	}
	if canonical := strings.TrimSpace(payload.CanonicalURL); canonical != "" && canonical != record.CanonicalURL {
		patch.CanonicalURL = &canonical
	}
	return patch
}

// AppendSourceURL appends sourceURL when it is not already present and keeps the newest
// MaxSourceURLs entries. The input slice is not modified.
func AppendSourceURL(sourceURLs []string, sourceURL string) []string {
	out := slices.Clone(sourceURLs)
	if out == nil {
		out = []string{}
	}
	trimmed := strings.TrimSpace(sourceURL)
	if trimmed != "" && !slices.Contains(out, trimmed) {
		out = append(out, trimmed)
	}
	if len(out) > MaxSourceURLs {
		out = out[len(out)-MaxSourceURLs:]
	}
	return out
}

package resolve

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/pageid/internal/fingerprint"
	"horse.fit/pageid/internal/metrics"
)

const (
	DefaultReconcileGroupLimit  = 100
	DefaultReconcileConcurrency = 4
)

type ReconcileOptions struct {
	Compare fingerprint.CompareOptions
	// GroupLimit caps the duplicated normalized URLs examined per run.
	GroupLimit  int
	Concurrency int
	// DryRun reports clusters without merging them.
	DryRun           bool
	LayoutTokenLimit int
	Metrics          *metrics.Metrics
}

type ReconcileResult struct {
	Groups   int  `json:"groups"`
	Clusters int  `json:"clusters"`
	Merged   int  `json:"merged"`
	DryRun   bool `json:"dryRun"`
}

// Reconciler folds records that share a normalized URL and match each other into the oldest one.
// It absorbs duplicates left by stores that cannot serialize first-seen resolutions.
type Reconciler struct {
	store  ReconcileStore
	logger zerolog.Logger
	opts   ReconcileOptions
}

func NewReconciler(store ReconcileStore, logger zerolog.Logger, opts ReconcileOptions) *Reconciler {
	if opts.GroupLimit <= 0 {
		opts.GroupLimit = DefaultReconcileGroupLimit
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultReconcileConcurrency
	}
	if opts.LayoutTokenLimit <= 0 {
		opts.LayoutTokenLimit = fingerprint.DefaultNodeSampleLimit
	}
	return &Reconciler{store: store, logger: logger, opts: opts}
}

func (r *Reconciler) Run(ctx context.Context) (ReconcileResult, error) {
	if r == nil || r.store == nil {
		return ReconcileResult{}, fmt.Errorf("reconciler is not initialized")
	}

	urls, err := r.store.DuplicateNormalizedURLs(ctx, r.opts.GroupLimit)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("%w: list duplicates: %v", ErrStoreUnavailable, err)
	}

	var clusters, merged atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.opts.Concurrency)
	for _, normalizedURL := range urls {
		group.Go(func() error {
			c, m, err := r.reconcileURL(groupCtx, normalizedURL)
			clusters.Add(int64(c))
			merged.Add(int64(m))
			return err
		})
	}
	err = group.Wait()

	result := ReconcileResult{
		Groups:   len(urls),
		Clusters: int(clusters.Load()),
		Merged:   int(merged.Load()),
		DryRun:   r.opts.DryRun,
	}
	if !r.opts.DryRun {
		r.opts.Metrics.AddReconcileMerged(result.Merged)
	}
	r.logger.Info().
		Int("groups", result.Groups).
		Int("clusters", result.Clusters).
		Int("merged", result.Merged).
		Bool("dry_run", result.DryRun).
		Msg("page identity reconcile finished")
	return result, err
}

func (r *Reconciler) reconcileURL(ctx context.Context, normalizedURL string) (clusters, merged int, err error) {
	run := func(ctx context.Context) error {
		records, err := r.store.ListByNormalizedURL(ctx, normalizedURL)
		if err != nil {
			return fmt.Errorf("%w: list %s: %v", ErrStoreUnavailable, normalizedURL, err)
		}

		for _, cluster := range ClusterDuplicates(records, r.opts.Compare) {
			clusters++
			survivor := cluster[0]
			duplicateIDs := make([]string, 0, len(cluster)-1)
			for _, record := range cluster[1:] {
				duplicateIDs = append(duplicateIDs, record.ID)
			}

			r.logger.Info().
				Str("normalized_url", normalizedURL).
				Str("survivor_id", survivor.ID).
				Strs("duplicate_ids", duplicateIDs).
				Bool("dry_run", r.opts.DryRun).
				Msg("page identity duplicates found")
			if r.opts.DryRun {
				continue
			}

			patch := FoldPatch(cluster, r.opts.LayoutTokenLimit)
			if err := r.store.Merge(ctx, survivor.ID, patch, duplicateIDs); err != nil {
				return fmt.Errorf("%w: merge into %s: %v", ErrStoreWriteFailed, survivor.ID, err)
			}
			merged += len(duplicateIDs)
		}
		return nil
	}

	if locker, ok := r.store.(Locker); ok {
		err = locker.WithLock(ctx, normalizedURL, run)
	} else {
		err = run(ctx)
	}
	return clusters, merged, err
}

// ClusterDuplicates groups records that match the first record of their cluster. records must be
// ordered oldest first; each returned cluster starts with its oldest member and has at least two.
func ClusterDuplicates(records []Record, opts fingerprint.CompareOptions) [][]Record {
	assigned := make([]bool, len(records))
	var clusters [][]Record
	for i, head := range records {
		if assigned[i] {
			continue
		}
		cluster := []Record{head}
		identity := head.Identity()
		for j := i + 1; j < len(records); j++ {
			if assigned[j] {
				continue
			}
			if fingerprint.Compare(identity, records[j].Identity(), opts).IsMatch {
				assigned[j] = true
				cluster = append(cluster, records[j])
			}
		}
		if len(cluster) > 1 {
			clusters = append(clusters, cluster)
		}
	}
	return clusters
}

// FoldPatch merges a cluster into the update for its first member. The most recently seen member
// supplies signatures and layout. Source URLs are replayed in last-seen order and bounded.
func FoldPatch(cluster []Record, layoutTokenLimit int) Patch {
	survivor := cluster[0]
	latest := survivor
	for _, record := range cluster[1:] {
		if record.LastSeenAt.After(latest.LastSeenAt) {
			latest = record
		}
	}

	bySeen := slices.Clone(cluster)
	slices.SortStableFunc(bySeen, func(a, b Record) int {
		return a.LastSeenAt.Compare(b.LastSeenAt)
	})
	var sourceURLs []string
	for _, record := range bySeen {
		for _, sourceURL := range record.SourceURLs {
			sourceURLs = AppendSourceURL(sourceURLs, sourceURL)
		}
	}

	patch := Patch{
		ContentSignature: latest.ContentSignature,
		LayoutSignature:  latest.LayoutSignature,
		LayoutTokens:     fingerprint.BoundLayoutTokens(latest.LayoutTokens, layoutTokenLimit),
		TextTokenSample:  latest.TextTokenSample,
		SourceURLs:       AppendSourceURL(sourceURLs, ""),
		LastSeenAt:       latest.LastSeenAt,
	}
	if survivor.CanonicalURL == "" {
		for i := len(bySeen) - 1; i >= 0; i-- {
			if canonical := bySeen[i].CanonicalURL; canonical != "" {
				patch.CanonicalURL = &canonical
				break
			}
		}
	}
	return patch
}

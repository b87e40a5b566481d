package resolve

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-process ReconcileStore for tests.
type memStore struct {
	mu      sync.Mutex
	records map[string]Record
	seq     map[string]int
	next    int
	events  []Event

	findErr   error
	createErr error
	updateErr error
	eventErr  error
}

func newMemStore() *memStore {
	return &memStore{
		records: make(map[string]Record),
		seq:     make(map[string]int),
	}
}

func (m *memStore) touch(id string) {
	m.next++
	m.seq[id] = m.next
}

func (m *memStore) FindCandidates(_ context.Context, normalizedURL, canonicalURL string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}

	var out []Record
	for _, record := range m.records {
		if record.NormalizedURL == normalizedURL || (canonicalURL != "" && record.CanonicalURL == canonicalURL) {
			out = append(out, cloneRecord(record))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return m.seq[out[i].ID] > m.seq[out[j].ID]
	})
	return out, nil
}

func (m *memStore) Create(_ context.Context, record Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return Record{}, m.createErr
	}

	now := time.Now().UTC()
	record.ID = uuid.NewString()
	record.CreatedAt = now
	record.UpdatedAt = now
	if record.LastSeenAt.IsZero() {
		record.LastSeenAt = now
	}
	m.records[record.ID] = cloneRecord(record)
	m.touch(record.ID)
	return cloneRecord(record), nil
}

func (m *memStore) UpdateOne(_ context.Context, id string, patch Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	record, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	m.records[id] = applyPatch(record, patch)
	m.touch(id)
	return nil
}

func (m *memStore) FindByID(_ context.Context, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(record), nil
}

func (m *memStore) RecordResolution(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.eventErr != nil {
		return m.eventErr
	}
	m.events = append(m.events, event)
	return nil
}

func (m *memStore) DuplicateNormalizedURLs(_ context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, record := range m.records {
		counts[record.NormalizedURL]++
	}
	var out []string
	for normalizedURL, n := range counts {
		if n > 1 {
			out = append(out, normalizedURL)
		}
	}
	slices.Sort(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListByNormalizedURL(_ context.Context, normalizedURL string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, record := range m.records {
		if record.NormalizedURL == normalizedURL {
			out = append(out, cloneRecord(record))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memStore) Merge(_ context.Context, survivorID string, patch Patch, duplicateIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[survivorID]
	if !ok {
		return ErrNotFound
	}
	m.records[survivorID] = applyPatch(record, patch)
	m.touch(survivorID)
	for _, id := range duplicateIDs {
		delete(m.records, id)
		delete(m.seq, id)
	}
	return nil
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// put stores record as-is, for fixtures that need exact timestamps.
func (m *memStore) put(record Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.ID] = cloneRecord(record)
	m.touch(record.ID)
}

// lockingStore adds per-key serialization to memStore.
type lockingStore struct {
	*memStore
	locks sync.Map
}

func (l *lockingStore) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	value, _ := l.locks.LoadOrStore(key, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()
	return fn(ctx)
}

func applyPatch(record Record, patch Patch) Record {
	if patch.NormalizedURL != nil {
		record.NormalizedURL = *patch.NormalizedURL
	}
	if patch.CanonicalURL != nil {
		record.CanonicalURL = *patch.CanonicalURL
	}
	record.ContentSignature = patch.ContentSignature
	record.LayoutSignature = patch.LayoutSignature
	record.LayoutTokens = slices.Clone(patch.LayoutTokens)
	record.TextTokenSample = patch.TextTokenSample
	if patch.SourceURLs != nil {
		record.SourceURLs = slices.Clone(patch.SourceURLs)
	}
	record.LastSeenAt = patch.LastSeenAt
	record.UpdatedAt = time.Now().UTC()
	return record
}

func cloneRecord(record Record) Record {
	record.SourceURLs = slices.Clone(record.SourceURLs)
	record.LayoutTokens = slices.Clone(record.LayoutTokens)
	return record
}

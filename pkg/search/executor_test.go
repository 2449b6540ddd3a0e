package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/recallhq/recall-go/pkg/storage"
)

// fakeStore scripts per-signal results for executor tests.
type fakeStore struct {
	caps storage.Capabilities

	vectorResults   []*storage.Memory
	fullTextResults []*storage.Memory
	sparseResults   []*storage.Memory
	hybridResults   []*storage.Memory

	vectorErr   error
	fullTextErr error
	sparseErr   error
	hybridErr   error

	hybridCalls int
	vectorOpts  *storage.SearchOptions
}

func (f *fakeStore) Insert(ctx context.Context, memories []*storage.Memory) ([]int64, error) {
	return nil, storage.ErrUnsupported
}

func (f *fakeStore) Get(ctx context.Context, id int64, identity *storage.Identity) (*storage.Memory, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeStore) List(ctx context.Context, opts *storage.ListOptions) ([]*storage.Memory, error) {
	return nil, nil
}

func (f *fakeStore) VectorSearch(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*storage.Memory, error) {
	f.vectorOpts = opts
	return cloneMemories(f.vectorResults), f.vectorErr
}

func (f *fakeStore) FullTextSearch(ctx context.Context, query string, opts *storage.SearchOptions) ([]*storage.Memory, error) {
	return cloneMemories(f.fullTextResults), f.fullTextErr
}

func (f *fakeStore) SparseSearch(ctx context.Context, sparse map[int]float64, opts *storage.SearchOptions) ([]*storage.Memory, error) {
	return cloneMemories(f.sparseResults), f.sparseErr
}

func (f *fakeStore) HybridSearch(ctx context.Context, q *storage.HybridQuery) ([]*storage.Memory, error) {
	f.hybridCalls++
	return cloneMemories(f.hybridResults), f.hybridErr
}

func (f *fakeStore) Update(ctx context.Context, id int64, fields *storage.UpdateFields, identity *storage.Identity) (*storage.Memory, error) {
	return nil, storage.ErrUnsupported
}

func (f *fakeStore) Delete(ctx context.Context, id int64, identity *storage.Identity) error {
	return storage.ErrUnsupported
}

func (f *fakeStore) DeleteByFilter(ctx context.Context, filter *storage.Filter, identity *storage.Identity) (int64, error) {
	return 0, storage.ErrUnsupported
}

func (f *fakeStore) Statistics(ctx context.Context, identity *storage.Identity) (*storage.Statistics, error) {
	return &storage.Statistics{}, nil
}

func (f *fakeStore) Reset(ctx context.Context) error { return nil }

func (f *fakeStore) Capabilities() storage.Capabilities { return f.caps }

func (f *fakeStore) Close() error { return nil }

func cloneMemories(in []*storage.Memory) []*storage.Memory {
	out := make([]*storage.Memory, len(in))
	for i, m := range in {
		clone := *m
		out[i] = &clone
	}
	return out
}

func scored(id int64, score float64) *storage.Memory {
	return &storage.Memory{ID: id, Score: score}
}

func TestExecutor_NoSignals(t *testing.T) {
	e := NewExecutor(&fakeStore{}, nil)
	_, _, err := e.Search(context.Background(), &Request{})
	assert.Error(t, err)
}

func TestExecutor_NativePath(t *testing.T) {
	store := &fakeStore{
		caps:          storage.Capabilities{FullText: true, Sparse: true, NativeHybrid: true},
		hybridResults: []*storage.Memory{scored(1, 0.9)},
	}
	e := NewExecutor(store, nil)

	results, plan, err := e.Search(context.Background(), &Request{Dense: []float64{1}, Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, ModeNative, plan.Mode)
	assert.Equal(t, 1, store.hybridCalls)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].ID)
}

func TestExecutor_NativeRejectionFallsBack(t *testing.T) {
	store := &fakeStore{
		caps:          storage.Capabilities{FullText: true, Sparse: true, NativeHybrid: true},
		hybridErr:     storage.ErrUnsupported,
		vectorResults: []*storage.Memory{scored(1, 0.9)},
	}
	e := NewExecutor(store, nil)

	results, plan, err := e.Search(context.Background(), &Request{Dense: []float64{1}, Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, ModeFallback, plan.Mode)
	assert.Equal(t, "engine rejected native fusion at query time", plan.Reason)
	require.Len(t, results, 1)
}

func TestExecutor_FallbackFusesSignals(t *testing.T) {
	store := &fakeStore{
		caps:            storage.Capabilities{FullText: true},
		vectorResults:   []*storage.Memory{scored(1, 0.9), scored(2, 0.8)},
		fullTextResults: []*storage.Memory{scored(2, 3.1), scored(3, 2.0)},
	}
	e := NewExecutor(store, nil)

	results, plan, err := e.Search(context.Background(), &Request{Dense: []float64{1}, Query: "q", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, ModeFallback, plan.Mode)
	require.Len(t, results, 3)
	// Memory 2 is on both lists and wins.
	assert.Equal(t, int64(2), results[0].ID)
}

func TestExecutor_FallbackThresholdCutsDense(t *testing.T) {
	store := &fakeStore{
		caps:          storage.Capabilities{},
		vectorResults: []*storage.Memory{scored(1, 0.9), scored(2, 0.4)},
	}
	e := NewExecutor(store, nil)

	results, _, err := e.Search(context.Background(), &Request{
		Dense:     []float64{1},
		Threshold: 0.5,
		Limit:     10,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].ID)
}

func TestExecutor_FallbackMetadataFilter(t *testing.T) {
	match := &storage.Memory{ID: 1, Score: 0.9, Metadata: map[string]interface{}{"source": "chat"}}
	miss := &storage.Memory{ID: 2, Score: 0.8, Metadata: map[string]interface{}{"source": "doc"}}
	store := &fakeStore{
		caps:          storage.Capabilities{},
		vectorResults: []*storage.Memory{match, miss},
	}
	e := NewExecutor(store, nil)

	filter, err := storage.ParseFilter(map[string]interface{}{"metadata.source": "chat"})
	require.NoError(t, err)

	results, plan, err := e.Search(context.Background(), &Request{
		Dense:  []float64{1},
		Filter: filter,
		Limit:  10,
	})
	require.NoError(t, err)
	assert.Equal(t, ModeFallback, plan.Mode)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].ID)
	// Metadata filters are not pushed into the per-signal queries.
	assert.Nil(t, store.vectorOpts.Filter)
}

func TestExecutor_FallbackPushesColumnFilters(t *testing.T) {
	store := &fakeStore{
		caps:          storage.Capabilities{},
		vectorResults: []*storage.Memory{scored(1, 0.9)},
	}
	e := NewExecutor(store, nil)

	filter, err := storage.ParseFilter(map[string]interface{}{"category": "food"})
	require.NoError(t, err)

	_, _, err = e.Search(context.Background(), &Request{Dense: []float64{1}, Filter: filter, Limit: 5})
	require.NoError(t, err)
	require.NotNil(t, store.vectorOpts)
	assert.Equal(t, "category", store.vectorOpts.Filter.Field)
	// Over-fetch floor applies.
	assert.Equal(t, 50, store.vectorOpts.Limit)
}

func TestExecutor_FallbackSkipsUnsupportedSignal(t *testing.T) {
	store := &fakeStore{
		caps:          storage.Capabilities{FullText: true},
		vectorResults: []*storage.Memory{scored(1, 0.9)},
		fullTextErr:   storage.ErrUnsupported,
	}
	e := NewExecutor(store, nil)

	results, _, err := e.Search(context.Background(), &Request{Dense: []float64{1}, Query: "q", Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestExecutor_UnsupportedSignalWarnsOnce(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := &fakeStore{
		caps:          storage.Capabilities{FullText: true},
		vectorResults: []*storage.Memory{scored(1, 0.9)},
		fullTextErr:   storage.ErrUnsupported,
	}
	e := NewExecutor(store, zap.New(core))

	for i := 0; i < 3; i++ {
		_, _, err := e.Search(context.Background(), &Request{Dense: []float64{1}, Query: "q", Limit: 10})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, logs.FilterMessage("full-text signal unavailable, skipping").Len())
}

func TestExecutor_NativeRejectionWarnsOnce(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := &fakeStore{
		caps:          storage.Capabilities{FullText: true, Sparse: true, NativeHybrid: true},
		hybridErr:     storage.ErrUnsupported,
		vectorResults: []*storage.Memory{scored(1, 0.9)},
	}
	e := NewExecutor(store, zap.New(core))

	for i := 0; i < 3; i++ {
		_, _, err := e.Search(context.Background(), &Request{Dense: []float64{1}, Query: "q"})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, logs.FilterMessage("native hybrid search rejected by engine, falling back to client-side fusion").Len())
}

func TestExecutor_FallbackClipsToLimit(t *testing.T) {
	many := make([]*storage.Memory, 20)
	for i := range many {
		many[i] = scored(int64(i+1), 1.0-float64(i)*0.01)
	}
	store := &fakeStore{caps: storage.Capabilities{}, vectorResults: many}
	e := NewExecutor(store, nil)

	results, _, err := e.Search(context.Background(), &Request{Dense: []float64{1}, Limit: 5})
	require.NoError(t, err)
	assert.Len(t, results, 5)
}

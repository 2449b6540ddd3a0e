package storage

import (
	"context"
	"errors"
	"time"

	"github.com/recallhq/recall-go/pkg/retry"
)

const (
	storeAttempts  = 3
	storeRetryBase = 200 * time.Millisecond
)

// RetryingStore decorates a VectorStore with bounded retries for
// transient engine failures. Contract errors (not found, dimension
// mismatch, unsupported operation) pass through untouched.
type RetryingStore struct {
	inner VectorStore
}

// WithRetries wraps a store in retry behavior.
func WithRetries(inner VectorStore) *RetryingStore {
	return &RetryingStore{inner: inner}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidVector) || errors.Is(err, ErrUnsupported) {
		return retry.NewPermanent(err)
	}
	return err
}

func (s *RetryingStore) Insert(ctx context.Context, memories []*Memory) ([]int64, error) {
	var ids []int64
	err := retry.Do(ctx, storeAttempts, storeRetryBase, func() error {
		var callErr error
		ids, callErr = s.inner.Insert(ctx, memories)
		return classify(callErr)
	})
	return ids, err
}

func (s *RetryingStore) Get(ctx context.Context, id int64, identity *Identity) (*Memory, error) {
	var m *Memory
	err := retry.Do(ctx, storeAttempts, storeRetryBase, func() error {
		var callErr error
		m, callErr = s.inner.Get(ctx, id, identity)
		return classify(callErr)
	})
	return m, err
}

func (s *RetryingStore) List(ctx context.Context, opts *ListOptions) ([]*Memory, error) {
	var out []*Memory
	err := retry.Do(ctx, storeAttempts, storeRetryBase, func() error {
		var callErr error
		out, callErr = s.inner.List(ctx, opts)
		return classify(callErr)
	})
	return out, err
}

func (s *RetryingStore) VectorSearch(ctx context.Context, embedding []float64, opts *SearchOptions) ([]*Memory, error) {
	var out []*Memory
	err := retry.Do(ctx, storeAttempts, storeRetryBase, func() error {
		var callErr error
		out, callErr = s.inner.VectorSearch(ctx, embedding, opts)
		return classify(callErr)
	})
	return out, err
}

func (s *RetryingStore) FullTextSearch(ctx context.Context, query string, opts *SearchOptions) ([]*Memory, error) {
	var out []*Memory
	err := retry.Do(ctx, storeAttempts, storeRetryBase, func() error {
		var callErr error
		out, callErr = s.inner.FullTextSearch(ctx, query, opts)
		return classify(callErr)
	})
	return out, err
}

func (s *RetryingStore) SparseSearch(ctx context.Context, sparse map[int]float64, opts *SearchOptions) ([]*Memory, error) {
	var out []*Memory
	err := retry.Do(ctx, storeAttempts, storeRetryBase, func() error {
		var callErr error
		out, callErr = s.inner.SparseSearch(ctx, sparse, opts)
		return classify(callErr)
	})
	return out, err
}

func (s *RetryingStore) HybridSearch(ctx context.Context, q *HybridQuery) ([]*Memory, error) {
	var out []*Memory
	err := retry.Do(ctx, storeAttempts, storeRetryBase, func() error {
		var callErr error
		out, callErr = s.inner.HybridSearch(ctx, q)
		return classify(callErr)
	})
	return out, err
}

func (s *RetryingStore) Update(ctx context.Context, id int64, fields *UpdateFields, identity *Identity) (*Memory, error) {
	var m *Memory
	err := retry.Do(ctx, storeAttempts, storeRetryBase, func() error {
		var callErr error
		m, callErr = s.inner.Update(ctx, id, fields, identity)
		return classify(callErr)
	})
	return m, err
}

func (s *RetryingStore) Delete(ctx context.Context, id int64, identity *Identity) error {
	return retry.Do(ctx, storeAttempts, storeRetryBase, func() error {
		return classify(s.inner.Delete(ctx, id, identity))
	})
}

func (s *RetryingStore) DeleteByFilter(ctx context.Context, filter *Filter, identity *Identity) (int64, error) {
	var n int64
	err := retry.Do(ctx, storeAttempts, storeRetryBase, func() error {
		var callErr error
		n, callErr = s.inner.DeleteByFilter(ctx, filter, identity)
		return classify(callErr)
	})
	return n, err
}

func (s *RetryingStore) Statistics(ctx context.Context, identity *Identity) (*Statistics, error) {
	var stats *Statistics
	err := retry.Do(ctx, storeAttempts, storeRetryBase, func() error {
		var callErr error
		stats, callErr = s.inner.Statistics(ctx, identity)
		return classify(callErr)
	})
	return stats, err
}

func (s *RetryingStore) Reset(ctx context.Context) error {
	return retry.Do(ctx, storeAttempts, storeRetryBase, func() error {
		return classify(s.inner.Reset(ctx))
	})
}

func (s *RetryingStore) Capabilities() Capabilities {
	return s.inner.Capabilities()
}

func (s *RetryingStore) Close() error {
	return s.inner.Close()
}

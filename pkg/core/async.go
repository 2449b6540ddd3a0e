package core

import (
	"context"
	"sync"
)

// AsyncClient wraps Client and runs every operation in its own goroutine,
// delivering the outcome on a buffered channel. Wait blocks until all
// in-flight operations finish; Close waits and then closes the client.
type AsyncClient struct {
	*Client
	wg sync.WaitGroup
}

// NewAsyncClient builds an asynchronous client from config.
func NewAsyncClient(cfg *Config, opts ...ClientOption) (*AsyncClient, error) {
	client, err := NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &AsyncClient{Client: client}, nil
}

// AsyncAddResult carries the outcome of AddAsync.
type AsyncAddResult struct {
	Result *AddResult
	Err    error
}

// AsyncSearchResult carries the outcome of SearchAsync and GetAllAsync.
type AsyncSearchResult struct {
	Memories []*Memory
	Err      error
}

// AsyncMemoryResult carries the outcome of GetAsync and UpdateAsync.
type AsyncMemoryResult struct {
	Memory *Memory
	Err    error
}

// AddAsync ingests a conversation in the background.
func (ac *AsyncClient) AddAsync(ctx context.Context, messages interface{}, opts ...AddOption) <-chan *AsyncAddResult {
	ch := make(chan *AsyncAddResult, 1)
	ac.wg.Add(1)
	go func() {
		defer ac.wg.Done()
		result, err := ac.Add(ctx, messages, opts...)
		ch <- &AsyncAddResult{Result: result, Err: err}
		close(ch)
	}()
	return ch
}

// SearchAsync runs a hybrid search in the background.
func (ac *AsyncClient) SearchAsync(ctx context.Context, query string, opts ...SearchOption) <-chan *AsyncSearchResult {
	ch := make(chan *AsyncSearchResult, 1)
	ac.wg.Add(1)
	go func() {
		defer ac.wg.Done()
		memories, err := ac.Search(ctx, query, opts...)
		ch <- &AsyncSearchResult{Memories: memories, Err: err}
		close(ch)
	}()
	return ch
}

// GetAsync fetches one memory in the background.
func (ac *AsyncClient) GetAsync(ctx context.Context, id int64, opts ...GetOption) <-chan *AsyncMemoryResult {
	ch := make(chan *AsyncMemoryResult, 1)
	ac.wg.Add(1)
	go func() {
		defer ac.wg.Done()
		m, err := ac.Get(ctx, id, opts...)
		ch <- &AsyncMemoryResult{Memory: m, Err: err}
		close(ch)
	}()
	return ch
}

// GetAllAsync lists memories in the background.
func (ac *AsyncClient) GetAllAsync(ctx context.Context, opts ...GetAllOption) <-chan *AsyncSearchResult {
	ch := make(chan *AsyncSearchResult, 1)
	ac.wg.Add(1)
	go func() {
		defer ac.wg.Done()
		memories, err := ac.GetAll(ctx, opts...)
		ch <- &AsyncSearchResult{Memories: memories, Err: err}
		close(ch)
	}()
	return ch
}

// UpdateAsync rewrites a memory in the background.
func (ac *AsyncClient) UpdateAsync(ctx context.Context, id int64, content string, opts ...UpdateOption) <-chan *AsyncMemoryResult {
	ch := make(chan *AsyncMemoryResult, 1)
	ac.wg.Add(1)
	go func() {
		defer ac.wg.Done()
		m, err := ac.Update(ctx, id, content, opts...)
		ch <- &AsyncMemoryResult{Memory: m, Err: err}
		close(ch)
	}()
	return ch
}

// DeleteAsync removes one memory in the background.
func (ac *AsyncClient) DeleteAsync(ctx context.Context, id int64, opts ...DeleteOption) <-chan error {
	ch := make(chan error, 1)
	ac.wg.Add(1)
	go func() {
		defer ac.wg.Done()
		ch <- ac.Delete(ctx, id, opts...)
		close(ch)
	}()
	return ch
}

// Wait blocks until every operation started through this client finishes.
func (ac *AsyncClient) Wait() {
	ac.wg.Wait()
}

// Close waits for in-flight operations and closes the underlying client.
func (ac *AsyncClient) Close() error {
	ac.Wait()
	return ac.Client.Close()
}

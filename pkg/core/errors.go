// Package core wires storage, embedding, and the LLM pipeline into the
// Recall client: ingest with reconciliation, hybrid search, and the
// administrative operations.
package core

import (
	"errors"
	"fmt"

	"github.com/recallhq/recall-go/pkg/storage"
)

// Sentinel errors for the public surface. The storage sentinels are
// aliased so errors.Is works across layers without importing both.
var (
	// ErrNotFound indicates the requested memory does not exist or is not
	// visible to the caller.
	ErrNotFound = storage.ErrNotFound

	// ErrUnsupported indicates the backend lacks a required capability.
	ErrUnsupported = storage.ErrUnsupported

	// ErrInvalidConfig indicates the configuration cannot build a client.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidInput indicates a malformed request.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConnectionFailed indicates the storage backend is unreachable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrEmbeddingFailed indicates embedding generation failed.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrExtractionFailed indicates the fact extraction step failed after
	// its retry. Ingest treats it as "nothing to store", not a hard error.
	ErrExtractionFailed = errors.New("fact extraction failed")

	// ErrReconcileFailed indicates the reconcile step failed after its
	// retry. No mutations are applied when this is returned.
	ErrReconcileFailed = errors.New("memory reconciliation failed")

	// ErrDuplicateMemory indicates the content hash already exists for
	// the owner.
	ErrDuplicateMemory = errors.New("duplicate memory detected")

	// ErrStorageOperation indicates a storage operation failed.
	ErrStorageOperation = errors.New("storage operation failed")

	// ErrLLMOperation indicates an LLM call failed.
	ErrLLMOperation = errors.New("llm operation failed")
)

// MemoryError wraps an error with the operation that produced it.
type MemoryError struct {
	// Op is the operation name, e.g. "Add" or "Search".
	Op string

	// Err is the underlying error.
	Err error
}

// Error formats as "recall: <Op>: <Err>".
func (e *MemoryError) Error() string {
	return fmt.Sprintf("recall: %s: %v", e.Op, e.Err)
}

// Unwrap supports errors.Is and errors.As.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewMemoryError wraps err with operation context. Returns nil for nil.
func NewMemoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MemoryError{Op: op, Err: err}
}

package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the ingestion and retrieval pipelines. Only
// ErrEmptyDocument and ErrDimensionMismatch abort an operation; the rest are
// recovered locally by the stage that observes them and surface in logs only.
var (
	ErrEmptyDocument        = errors.New("document contains no extractable text")
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")
	ErrDimensionMismatch    = errors.New("embedding dimension mismatch")
	ErrVectorQuery          = errors.New("vector query failed")
	ErrRewriteFailed        = errors.New("query rewrite failed")
	ErrCompressionFailed    = errors.New("context compression failed")
	ErrSynthesisFailed      = errors.New("answer synthesis failed")
)

// DocumentError wraps a sentinel with the document it applies to.
type DocumentError struct {
	Filename string
	Wrapped  error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("document %q: %s", e.Filename, e.Wrapped)
}

func (e *DocumentError) Unwrap() error { return e.Wrapped }

// NewDocumentError creates a DocumentError.
func NewDocumentError(filename string, wrapped error) *DocumentError {
	return &DocumentError{Filename: filename, Wrapped: wrapped}
}

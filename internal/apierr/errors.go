// Package apierr implements the closed error taxonomy used across the RAG
// pipeline: embedding, vector store, ingestion, retrieval and augmented
// generation all surface one of these kinds so handlers can map them to a
// stable HTTP status without inspecting error strings.
package apierr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation policy and HTTP-status mapping.
type Kind string

const (
	// Transient errors are retried within the core with backoff.
	KindTransient Kind = "transient"
	// KindRecoverable errors trigger local degradation instead of failing.
	KindRecoverable Kind = "recoverable"
	// KindTerminal errors fail the current job/document; no further retry.
	KindTerminal Kind = "terminal"
	// KindCaller errors are returned directly to the API caller.
	KindCaller Kind = "caller"
)

// Error is the common wrapper for every taxonomy member.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: cause}
}

// Embedding Gateway errors (spec §4.1).
func NewEmbeddingAuthError(cause error) *Error {
	return newErr(KindTerminal, "EmbeddingAuthError", "embedding provider rejected credentials", cause)
}

func NewEmbeddingRateLimitError(cause error) *Error {
	return newErr(KindTransient, "EmbeddingRateLimitError", "embedding provider rate limited the request", cause)
}

func NewEmbeddingTransientError(cause error) *Error {
	return newErr(KindTransient, "EmbeddingTransientError", "embedding provider connection or 5xx error", cause)
}

func NewEmbeddingFatalError(cause error) *Error {
	return newErr(KindTerminal, "EmbeddingFatalError", "embedding request failed for an unclassified reason", cause)
}

// Vector Store Adapter errors (spec §4.2).
func NewPartialInsertError(missing []int) *Error {
	return newErr(KindTerminal, "PartialInsertError", fmt.Sprintf("missing sequence numbers: %v", missing), nil)
}

func NewForeignKeyError(cause error) *Error {
	return newErr(KindTerminal, "ForeignKeyError", "chunk insert violated the document foreign key", cause)
}

// Chunking error (spec §4.4).
func NewChunkingError(reason string) *Error {
	return newErr(KindTerminal, "ChunkingError", reason, nil)
}

// Retrieval Engine errors (spec §4.6 / §7).
func NewRetrievalUnavailableError(cause error) *Error {
	return newErr(KindCaller, "RetrievalUnavailableError", "retrieval could not complete within its deadline or dependencies failed", cause)
}

// Augmented Generation errors (spec §4.7 / §7).
func NewAGUnavailable(cause error) *Error {
	return newErr(KindCaller, "AGUnavailable", "retrieval or LLM hard-failed", cause)
}

func NewAGPartial(cause error) *Error {
	return newErr(KindCaller, "AGPartial", "answer produced without citations", cause)
}

func NewAGRateLimited(cause error) *Error {
	return newErr(KindCaller, "AGRateLimited", "LLM provider rate limited the request", cause)
}

// Ingestion/validation and session errors (spec §7).
func NewIngestionRejected(reason string) *Error {
	return newErr(KindCaller, "IngestionRejected", reason, nil)
}

func NewValidationError(cause error) *Error {
	return newErr(KindCaller, "ValidationError", "request failed validation", cause)
}

func NewNotFound(reason string) *Error {
	return newErr(KindCaller, "NotFound", reason, nil)
}

func NewForbidden(reason string) *Error {
	return newErr(KindCaller, "Forbidden", reason, nil)
}

// As is a thin re-export of errors.As so callers don't need a second import
// for the common case of recovering an *Error from a wrapped chain.
func As(err error, target **Error) bool {
	return errors.As(err, target)
}

// KindOf returns the Kind of err if it (or something it wraps) is an *Error,
// and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsTransient reports whether err should be retried by the caller's own
// backoff loop (the taxonomy member already encodes this, so call sites
// don't need a parallel switch statement).
func IsTransient(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindTransient
}

// HTTPStatus maps a taxonomy member to the status code the API layer
// returns, keyed on Code rather than Kind since several KindCaller errors
// carry distinct statuses (404 vs 429 vs 400).
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return 500
	}
	switch e.Code {
	case "NotFound":
		return 404
	case "Forbidden":
		return 403
	case "AGRateLimited":
		return 429
	case "IngestionRejected", "ValidationError":
		return 400
	case "AGUnavailable", "RetrievalUnavailableError":
		return 503
	case "AGPartial":
		return 200
	default:
		return 500
	}
}

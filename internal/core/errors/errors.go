package errors

import "errors"

// Sentinel errors shared across the rollup, graph, cache and query layers.
var (
	// ErrNotFound means the requested tag/scope/ref does not exist. Read
	// queries translate this into an empty result, not a failure.
	ErrNotFound = errors.New("not found")

	// ErrStaleUnavailable means no cached artifact has ever existed for a
	// key and the synchronous recompute exceeded its timeout. Retryable.
	ErrStaleUnavailable = errors.New("no fresh or stale result available")

	// ErrRecomputeFailed marks a single aggregation/rebuild unit failure.
	// Batches log it and continue with the remaining units.
	ErrRecomputeFailed = errors.New("recompute failed")

	// ErrStorageUnavailable means the underlying store is unreachable.
	// Fails fast; surfaced to the caller as a hard error.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// HTTP error type codes returned in ErrorResponse bodies.
const (
	HttpInternalError       = "internal_error"
	HttpInvalidJsonError    = "invalid_json"
	HttpInvalidQueryError   = "invalid_query"
	HttpDuplicateEventError = "duplicate_event"
	HttpNotYetAvailable     = "not_yet_available"
	HttpStorageUnavailable  = "storage_unavailable"
)

// ErrorResponse is the error response body for API errors.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

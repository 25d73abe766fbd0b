package internalerr

import "errors"

// Sentinel errors for common cases
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrDuplicate        = errors.New("duplicate entry")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidConfig    = errors.New("invalid configuration")

	// Ingestion and enrichment failures
	ErrExtraction      = errors.New("extraction failed")
	ErrUpstream        = errors.New("upstream service error")
	ErrPersistence     = errors.New("persistence error")
	ErrUploadFinalized = errors.New("upload already finalized")
	ErrClaimed         = errors.New("wine is already being enriched")
)

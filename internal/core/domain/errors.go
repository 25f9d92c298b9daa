package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotImplemented indicates functionality is not yet available.
	ErrNotImplemented = errors.New("not implemented")

	// Pipeline Errors.

	// ErrTransientIO indicates the datastore or search backend was
	// temporarily unreachable. Callers retry with backoff before giving up.
	ErrTransientIO = errors.New("transient I/O failure")

	// ErrUnsupportedFilesystem indicates a volume could not be mapped.
	// Only that volume is affected; its offsets resolve to unallocated.
	ErrUnsupportedFilesystem = errors.New("unsupported filesystem")

	// ErrMalformedRecord indicates a single extraction record could not be parsed.
	// The record is skipped and counted.
	ErrMalformedRecord = errors.New("malformed extraction record")

	// ErrIndexBatchFailure indicates a document batch could not be written
	// after all retries. The image must be reindexed.
	ErrIndexBatchFailure = errors.New("index batch failure")

	// ErrConfiguration indicates missing or unusable configuration.
	ErrConfiguration = errors.New("configuration error")

	// ErrExtractorMissing indicates the string-extraction engine is not installed.
	ErrExtractorMissing = errors.New("string extraction engine not found")

	// ErrImageFailed indicates a previous run left the image incomplete.
	ErrImageFailed = errors.New("image processing incomplete")

	// ErrImageNotInCase indicates the image is not attached to the case.
	ErrImageNotInCase = errors.New("image not in case")

	// ErrSearchUnavailable indicates the search engine is not configured.
	ErrSearchUnavailable = errors.New("search engine unavailable")
)

// StageError reports an image-level failure together with the stage that
// failed and the lifecycle flag that clears it.
type StageError struct {
	ImageID string
	Stage   Stage
	// Remedy overrides the flag named by Stage, for failures whose cleanup
	// needs an earlier stage rerun.
	Remedy string
	Err    error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	msg := fmt.Sprintf("%s failed for image %s", e.Stage, e.ImageID)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	remedy := e.Remedy
	if remedy == "" {
		remedy = e.Stage.Remedy()
	}
	if remedy != "" {
		msg += " (rerun with " + remedy + ")"
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

package models

import "errors"

// Sentinel errors shared across the conversion core.
var (
	// ErrValidation indicates a model failed validation before a write.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrQuotaExceeded indicates admission was denied by the quota gate.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrUnsupportedInput indicates a source file's MIME type or
	// extension is not eligible for conversion.
	ErrUnsupportedInput = errors.New("unsupported input")

	// ErrProcessorUnavailable indicates no encoder backend supports the
	// requested format. Availability is a capability fact; callers that
	// probe first never see this error.
	ErrProcessorUnavailable = errors.New("processor unavailable")
)

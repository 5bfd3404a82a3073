package types

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the pipeline. Stages wrap these with %w so
// callers can classify failures with errors.Is without depending on stage
// internals.
var (
	// ErrValidation marks a request missing required identifiers or carrying
	// out-of-range values.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks an absent exam record.
	ErrNotFound = errors.New("record not found")

	// ErrUpstream marks a failed external call: the STT process or LLM
	// backend returned an error, a non-2xx status, or timed out.
	ErrUpstream = errors.New("upstream call failed")

	// ErrInsufficientData marks an extraction that succeeded syntactically
	// but yielded no usable content.
	ErrInsufficientData = errors.New("insufficient data")
)

// MalformedOutputError reports LLM output that could not be recovered into
// valid JSON after the single permitted retry. It preserves a short preview
// of the raw output for diagnosis.
type MalformedOutputError struct {
	// Stage names the extraction call ("facts", "impression", "analysis").
	Stage string

	// Attempts is the number of model calls made, including the retry.
	Attempts int

	// RawPreview is a truncated prefix of the last raw model output.
	RawPreview string

	// Cause is the final parse error.
	Cause error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("%s: malformed model output after %d attempts: %v", e.Stage, e.Attempts, e.Cause)
}

func (e *MalformedOutputError) Unwrap() error { return e.Cause }

// PreviewLimit is the maximum length of raw-output previews kept in error
// annotations and stage metadata.
const PreviewLimit = 400

// Preview truncates raw model output to [PreviewLimit] bytes for storage in
// error annotations.
func Preview(raw string) string {
	if len(raw) <= PreviewLimit {
		return raw
	}
	return raw[:PreviewLimit] + "…"
}

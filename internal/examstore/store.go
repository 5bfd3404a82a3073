// Package examstore persists exam records and their per-stage outputs.
package examstore

import (
	"context"

	"github.com/pkruczek/vetsono/pkg/types"
)

// Stage names a pipeline output column pair. Each stage owns exactly one
// payload field plus its meta sibling; saving a stage never touches the
// fields of another stage.
type Stage string

const (
	StageFacts      Stage = "facts"
	StageImpression Stage = "impression"
	StageAnalysis   Stage = "analysis"
	StageReport     Stage = "report"
)

// Store provides persistence for exam records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts a new, empty exam record. Returns an error if a record
	// with the same ID already exists.
	Create(ctx context.Context, id string) (*types.ExamRecord, error)

	// Get retrieves an exam record by ID. Returns an error wrapping
	// [types.ErrNotFound] when the record does not exist.
	Get(ctx context.Context, id string) (*types.ExamRecord, error)

	// SaveTranscript stores the adopted transcript together with its quality
	// assessment and the full audit history of transcription runs.
	SaveTranscript(ctx context.Context, id, transcript string, quality *types.TranscriptQuality, runs []types.TranscriptionRun) error

	// SaveStage stores one stage's payload and meta sibling. A re-run of a
	// stage overwrites only that stage's pair. The payload type depends on
	// the stage: *types.Facts, *types.Impression, *types.Analysis, or the
	// rendered report string for [StageReport].
	SaveStage(ctx context.Context, id string, stage Stage, payload any, meta *types.StageMeta) error

	// List returns the IDs of all exam records, oldest first.
	List(ctx context.Context) ([]string, error)
}

package examstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkruczek/vetsono/pkg/types"
)

// MemoryStore is an in-memory [Store] for tests and storeless CLI runs.
// Records are deep-copied on the way in and out, so callers cannot mutate
// stored state through returned pointers.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]*types.ExamRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]*types.ExamRecord)}
}

func (s *MemoryStore) Create(_ context.Context, id string) (*types.ExamRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("examstore: create: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.recs[id]; ok {
		return nil, fmt.Errorf("examstore: exam with id %q already exists", id)
	}
	now := time.Now().UTC()
	rec := &types.ExamRecord{ID: id, CreatedAt: now, UpdatedAt: now}
	s.recs[id] = rec
	return cloneRecord(rec)
}

func (s *MemoryStore) Get(_ context.Context, id string) (*types.ExamRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.recs[id]
	if !ok {
		return nil, fmt.Errorf("examstore: exam %q: %w", id, types.ErrNotFound)
	}
	return cloneRecord(rec)
}

func (s *MemoryStore) SaveTranscript(_ context.Context, id, transcript string, quality *types.TranscriptQuality, runs []types.TranscriptionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[id]
	if !ok {
		return fmt.Errorf("examstore: exam %q: %w", id, types.ErrNotFound)
	}
	stored, err := cloneRecord(&types.ExamRecord{
		Transcript:        transcript,
		TranscriptQuality: quality,
		TranscriptRuns:    runs,
	})
	if err != nil {
		return err
	}
	rec.Transcript = stored.Transcript
	rec.TranscriptQuality = stored.TranscriptQuality
	rec.TranscriptRuns = stored.TranscriptRuns
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SaveStage(_ context.Context, id string, stage Stage, payload any, meta *types.StageMeta) error {
	if _, ok := stageColumns[stage]; !ok {
		return fmt.Errorf("examstore: unknown stage %q", stage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[id]
	if !ok {
		return fmt.Errorf("examstore: exam %q: %w", id, types.ErrNotFound)
	}

	metaCopy, err := clone(meta)
	if err != nil {
		return fmt.Errorf("examstore: marshal %s meta: %w", stage, err)
	}

	switch stage {
	case StageFacts:
		v, err := coerce[types.Facts](stage, payload)
		if err != nil {
			return err
		}
		rec.Facts, rec.FactsMeta = v, metaCopy
	case StageImpression:
		v, err := coerce[types.Impression](stage, payload)
		if err != nil {
			return err
		}
		rec.Impression, rec.ImpressionMeta = v, metaCopy
	case StageAnalysis:
		v, err := coerce[types.Analysis](stage, payload)
		if err != nil {
			return err
		}
		rec.Analysis, rec.AnalysisMeta = v, metaCopy
	case StageReport:
		text, ok := payload.(string)
		if !ok {
			return fmt.Errorf("examstore: report payload must be a string, got %T", payload)
		}
		rec.Report, rec.ReportMeta = text, metaCopy
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.recs))
	for id := range s.recs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := s.recs[ids[i]], s.recs[ids[j]]
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return ids, nil
}

// coerce deep-copies a stage payload, accepting the same typed pointers the
// postgres store serialises.
func coerce[T any](stage Stage, payload any) (*T, error) {
	v, ok := payload.(*T)
	if !ok {
		return nil, fmt.Errorf("examstore: %s payload must be %T, got %T", stage, (*T)(nil), payload)
	}
	out, err := clone(v)
	if err != nil {
		return nil, fmt.Errorf("examstore: marshal %s: %w", stage, err)
	}
	return out, nil
}

// clone deep-copies a value through JSON, the same round trip the postgres
// columns impose. Nil in, nil out.
func clone[T any](v *T) (*T, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

func cloneRecord(rec *types.ExamRecord) (*types.ExamRecord, error) {
	out, err := clone(rec)
	if err != nil {
		return nil, fmt.Errorf("examstore: copy record: %w", err)
	}
	return out, nil
}

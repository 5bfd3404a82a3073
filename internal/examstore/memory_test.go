package examstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/pkruczek/vetsono/internal/examstore"
	"github.com/pkruczek/vetsono/pkg/types"
)

func TestMemoryStore_CreateAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := examstore.NewMemoryStore()

	rec, err := store.Create(ctx, "exam-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if rec.ID != "exam-1" || rec.CreatedAt.IsZero() {
		t.Fatalf("Create() record = %+v", rec)
	}

	got, err := store.Get(ctx, "exam-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != "exam-1" {
		t.Errorf("Get() ID = %q", got.ID)
	}

	if _, err := store.Create(ctx, "exam-1"); err == nil {
		t.Error("Create() duplicate id: want error")
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Get() missing: error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_SaveTranscript(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := examstore.NewMemoryStore()
	if _, err := store.Create(ctx, "exam-1"); err != nil {
		t.Fatal(err)
	}

	quality := &types.TranscriptQuality{Score: 72}
	runs := []types.TranscriptionRun{
		{BeamSize: 2, Text: "Wątroba jednorodna.", Adopted: true},
	}
	if err := store.SaveTranscript(ctx, "exam-1", "Wątroba jednorodna.", quality, runs); err != nil {
		t.Fatalf("SaveTranscript() error = %v", err)
	}

	got, err := store.Get(ctx, "exam-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Transcript != "Wątroba jednorodna." {
		t.Errorf("Transcript = %q", got.Transcript)
	}
	if got.TranscriptQuality == nil || got.TranscriptQuality.Score != 72 {
		t.Errorf("TranscriptQuality = %+v", got.TranscriptQuality)
	}
	if len(got.TranscriptRuns) != 1 || !got.TranscriptRuns[0].Adopted {
		t.Errorf("TranscriptRuns = %+v", got.TranscriptRuns)
	}

	err = store.SaveTranscript(ctx, "ghost", "x", nil, nil)
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("SaveTranscript() missing: error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_SaveStageTouchesOnlyItsPair(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := examstore.NewMemoryStore()
	if _, err := store.Create(ctx, "exam-1"); err != nil {
		t.Fatal(err)
	}

	facts := &types.Facts{Findings: []string{"Nerka lewa: miedniczka poszerzona"}}
	if err := store.SaveStage(ctx, "exam-1", examstore.StageFacts, facts, &types.StageMeta{Version: "v1"}); err != nil {
		t.Fatalf("SaveStage(facts) error = %v", err)
	}
	overall := "obraz do kontroli"
	imp := &types.Impression{DoctorOverall: &overall}
	if err := store.SaveStage(ctx, "exam-1", examstore.StageImpression, imp, &types.StageMeta{Version: "v1"}); err != nil {
		t.Fatalf("SaveStage(impression) error = %v", err)
	}

	// A facts re-run must overwrite only the facts pair.
	rerun := &types.Facts{Findings: []string{"Nerka lewa: prawidłowa"}}
	if err := store.SaveStage(ctx, "exam-1", examstore.StageFacts, rerun, &types.StageMeta{Version: "v2"}); err != nil {
		t.Fatalf("SaveStage(facts rerun) error = %v", err)
	}

	got, err := store.Get(ctx, "exam-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Facts.Findings[0] != "Nerka lewa: prawidłowa" || got.FactsMeta.Version != "v2" {
		t.Errorf("facts pair = %+v / %+v", got.Facts, got.FactsMeta)
	}
	if got.Impression == nil || got.Impression.DoctorOverall == nil || *got.Impression.DoctorOverall != "obraz do kontroli" {
		t.Errorf("impression clobbered: %+v", got.Impression)
	}
	if got.Analysis != nil || got.Report != "" {
		t.Errorf("untouched stages populated: %+v %q", got.Analysis, got.Report)
	}
}

func TestMemoryStore_SaveStageValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := examstore.NewMemoryStore()
	if _, err := store.Create(ctx, "exam-1"); err != nil {
		t.Fatal(err)
	}

	if err := store.SaveStage(ctx, "exam-1", examstore.Stage("summary"), nil, nil); err == nil {
		t.Error("unknown stage: want error")
	}
	if err := store.SaveStage(ctx, "exam-1", examstore.StageReport, 42, nil); err == nil {
		t.Error("non-string report payload: want error")
	}
	if err := store.SaveStage(ctx, "exam-1", examstore.StageFacts, &types.Impression{}, nil); err == nil {
		t.Error("wrong payload type: want error")
	}
	err := store.SaveStage(ctx, "ghost", examstore.StageReport, "tekst", nil)
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("missing record: error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := examstore.NewMemoryStore()
	if _, err := store.Create(ctx, "exam-1"); err != nil {
		t.Fatal(err)
	}
	facts := &types.Facts{Findings: []string{"Wątroba: jednorodna"}}
	if err := store.SaveStage(ctx, "exam-1", examstore.StageFacts, facts, nil); err != nil {
		t.Fatal(err)
	}

	// Mutating the caller's payload or a returned record must not leak into
	// the store.
	facts.Findings[0] = "zmienione"
	first, err := store.Get(ctx, "exam-1")
	if err != nil {
		t.Fatal(err)
	}
	first.Facts.Findings[0] = "też zmienione"

	second, err := store.Get(ctx, "exam-1")
	if err != nil {
		t.Fatal(err)
	}
	if second.Facts.Findings[0] != "Wątroba: jednorodna" {
		t.Errorf("stored findings mutated: %q", second.Facts.Findings[0])
	}
}

func TestMemoryStore_ListOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := examstore.NewMemoryStore()
	for _, id := range []string{"b", "a", "c"} {
		if _, err := store.Create(ctx, id); err != nil {
			t.Fatal(err)
		}
	}

	ids, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("List() = %v", ids)
	}
}

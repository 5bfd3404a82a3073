// Package pipeline drives the exam stages in order and persists each
// stage's output through the exam store.
//
// Stage failure semantics differ by stage. Transcription, facts, and
// impression failures are surfaced to the caller for a manual re-run; their
// error annotations (with raw previews) are persisted first. Analysis and
// report always terminate with a deterministic result: a synthesis failure
// falls back to the disclaimer analysis, and report assembly is pure. No
// stage failure touches an earlier stage's persisted output, and re-running
// a stage overwrites only its own field pair.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkruczek/vetsono/internal/examstore"
	"github.com/pkruczek/vetsono/internal/extract"
	"github.com/pkruczek/vetsono/internal/logiccheck"
	"github.com/pkruczek/vetsono/internal/normalize"
	"github.com/pkruczek/vetsono/internal/observe"
	"github.com/pkruczek/vetsono/internal/quality"
	"github.com/pkruczek/vetsono/internal/report"
	"github.com/pkruczek/vetsono/internal/synth"
	"github.com/pkruczek/vetsono/internal/transcribe"
	"github.com/pkruczek/vetsono/pkg/types"
)

// Stage version tags persisted in stage metadata so a re-run can tell which
// rule tables and prompts produced an output.
const (
	versionTranscript = "transcript/v1"
	versionFacts      = "facts/v1"
	versionImpression = "impression/v1"
	versionAnalysis   = "analysis/v1"
	versionReport     = "report/v1"
)

// Deps bundles the collaborators a [Pipeline] drives. All fields except
// Metrics and Logger are required.
type Deps struct {
	Store      examstore.Store
	Transcribe *transcribe.Orchestrator
	Extract    *extract.Extractor
	Synth      *synth.Synthesizer
	Report     *report.Assembler

	// LLMModel names the configured model for stage metadata.
	LLMModel string

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Pipeline runs exam stages sequentially. Safe for concurrent use across
// distinct exam IDs; concurrent runs of the same exam are the caller's
// responsibility.
type Pipeline struct {
	store      examstore.Store
	transcribe *transcribe.Orchestrator
	extract    *extract.Extractor
	synth      *synth.Synthesizer
	report     *report.Assembler
	model      string
	metrics    *observe.Metrics
	logger     *slog.Logger
}

// New creates a [Pipeline] from deps.
func New(deps Deps) (*Pipeline, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case deps.Transcribe == nil:
		return nil, errors.New("pipeline: transcription orchestrator is required")
	case deps.Extract == nil:
		return nil, errors.New("pipeline: extractor is required")
	case deps.Synth == nil:
		return nil, errors.New("pipeline: synthesizer is required")
	case deps.Report == nil:
		return nil, errors.New("pipeline: report assembler is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Pipeline{
		store:      deps.Store,
		transcribe: deps.Transcribe,
		extract:    deps.Extract,
		synth:      deps.Synth,
		report:     deps.Report,
		model:      deps.LLMModel,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
	}, nil
}

// Run executes the full pipeline for one exam: transcription, facts,
// impression, analysis, report. The record is created when it does not
// exist. Transcription and extraction failures abort the run; analysis and
// report always complete once extraction succeeded.
func (p *Pipeline) Run(ctx context.Context, id, audioPath string) error {
	p.metrics.ActiveExams.Add(ctx, 1)
	defer p.metrics.ActiveExams.Add(ctx, -1)

	if err := p.ensureRecord(ctx, id); err != nil {
		return err
	}

	if err := p.RunTranscription(ctx, id, audioPath); err != nil {
		p.metrics.RecordExamProcessed(ctx, "failed")
		return err
	}
	return p.runFromTranscriptStages(ctx, id)
}

// RunFromTranscript executes the pipeline for an exam whose transcript is
// supplied directly instead of recorded audio. The text still passes through
// the normalization chain and the quality scorer.
func (p *Pipeline) RunFromTranscript(ctx context.Context, id, rawTranscript string) error {
	p.metrics.ActiveExams.Add(ctx, 1)
	defer p.metrics.ActiveExams.Add(ctx, -1)

	if err := p.ensureRecord(ctx, id); err != nil {
		return err
	}

	started := time.Now()
	text, fired := p.transcribe.Normalize(rawTranscript)
	q := quality.Score(rawTranscript, text)
	run := types.TranscriptionRun{
		Text:      text,
		Quality:   q,
		Adopted:   true,
		StartedAt: started,
		Duration:  time.Since(started),
	}
	if err := p.store.SaveTranscript(ctx, id, text, &q, []types.TranscriptionRun{run}); err != nil {
		return err
	}
	p.logger.Info("transcript accepted from text input",
		"exam", id, "score", q.Score, "fired_rules", len(fired))

	return p.runFromTranscriptStages(ctx, id)
}

// runFromTranscriptStages runs everything after transcription.
func (p *Pipeline) runFromTranscriptStages(ctx context.Context, id string) error {
	if err := p.RunFacts(ctx, id); err != nil {
		p.metrics.RecordExamProcessed(ctx, "failed")
		return err
	}
	if err := p.RunImpression(ctx, id); err != nil {
		p.metrics.RecordExamProcessed(ctx, "failed")
		return err
	}
	// Analysis and report are fallback-terminated; their errors are
	// persisted as annotations, not surfaced.
	if err := p.RunAnalysis(ctx, id); err != nil {
		return err
	}
	err := p.RunReport(ctx, id)
	status := "ok"
	if err != nil {
		status = "failed"
	}
	p.metrics.RecordExamProcessed(ctx, status)
	return err
}

// Record returns the stored record for an exam, with every intermediate the
// pipeline has produced so far.
func (p *Pipeline) Record(ctx context.Context, id string) (*types.ExamRecord, error) {
	return p.store.Get(ctx, id)
}

// List returns the identifiers of every stored exam, oldest first.
func (p *Pipeline) List(ctx context.Context) ([]string, error) {
	return p.store.List(ctx)
}

// RunStage re-runs a single named stage for an existing exam. Valid names
// are "transcript" (requires audioPath), "facts", "impression", "analysis",
// and "report".
func (p *Pipeline) RunStage(ctx context.Context, id, stage, audioPath string) error {
	switch stage {
	case "transcript":
		if audioPath == "" {
			return fmt.Errorf("pipeline: stage transcript needs an audio file: %w", types.ErrValidation)
		}
		return p.RunTranscription(ctx, id, audioPath)
	case string(examstore.StageFacts):
		return p.RunFacts(ctx, id)
	case string(examstore.StageImpression):
		return p.RunImpression(ctx, id)
	case string(examstore.StageAnalysis):
		return p.RunAnalysis(ctx, id)
	case string(examstore.StageReport):
		return p.RunReport(ctx, id)
	default:
		return fmt.Errorf("pipeline: unknown stage %q: %w", stage, types.ErrValidation)
	}
}

// RunTranscription records audio transcription results, including the audit
// history of every run. Even a fully failed transcription persists its run
// history before the error is surfaced.
func (p *Pipeline) RunTranscription(ctx context.Context, id, audioPath string) error {
	started := time.Now()
	outcome, terr := p.transcribe.Transcribe(ctx, audioPath)
	p.metrics.RecordStage(ctx, "transcribe", time.Since(started).Seconds())

	if outcome != nil {
		for _, run := range outcome.Runs {
			p.metrics.TranscriptionRunDuration.Record(ctx, run.Duration.Seconds())
		}
		q := outcome.Quality
		if err := p.store.SaveTranscript(ctx, id, outcome.Text, &q, outcome.Runs); err != nil {
			return err
		}
		p.metrics.TranscriptQuality.Record(ctx, int64(q.Score))
	}
	p.metrics.RecordProviderRequest(ctx, "stt", "transcribe", callStatus(terr))
	if terr != nil {
		p.metrics.RecordProviderError(ctx, "stt", "transcribe")
		return fmt.Errorf("pipeline: transcription for exam %q: %w", id, terr)
	}

	p.logger.Info("transcription complete",
		"exam", id,
		"score", outcome.Quality.Score,
		"flags", outcome.Quality.Flags,
		"runs", len(outcome.Runs))
	return nil
}

// RunFacts extracts objective exam facts from the persisted transcript and
// filters the findings through the logic validation rules. Extraction
// failures are persisted as annotations and surfaced for a manual re-run.
func (p *Pipeline) RunFacts(ctx context.Context, id string) error {
	rec, err := p.store.Get(ctx, id)
	if err != nil {
		return err
	}

	started := time.Now()
	facts, stats, ferr := p.extract.Facts(ctx, rec.Transcript)
	duration := time.Since(started)
	p.metrics.RecordStage(ctx, "facts", duration.Seconds())
	p.recordLLMCall(ctx, "facts", ferr)
	if stats.Attempts > 1 {
		p.metrics.RecordParseRetry(ctx, "facts")
	}

	meta := p.extractionMeta(versionFacts, started, duration, stats.Attempts, stats.PromptTokens, stats.CompletionTokens, ferr)

	if facts != nil {
		check := logiccheck.Validate(facts.Findings)
		facts.Findings = check.Findings
		meta.FiredRules = check.RuleNames()
		for _, rej := range check.Rejections {
			p.logger.Warn("finding rejected",
				"exam", id, "organ", rej.Organ, "reason", rej.Reason)
		}
		for _, warn := range check.Warnings {
			p.logger.Info("finding flagged", "exam", id, "reason", warn.Reason)
		}
		p.backfillWeakSignals(id, rec.Transcript, facts, meta)
		if serr := p.store.SaveStage(ctx, id, examstore.StageFacts, facts, meta); serr != nil {
			return serr
		}
	}
	if ferr != nil {
		return fmt.Errorf("pipeline: facts for exam %q: %w", id, ferr)
	}
	return nil
}

// backfillWeakSignals fills exam header fields the extraction left empty
// from the deterministic transcript signals. Model output always wins; a
// signal only ever replaces nil, and each backfill is recorded in the stage
// metadata.
func (p *Pipeline) backfillWeakSignals(id, transcript string, facts *types.Facts, meta *types.StageMeta) {
	if facts.Exam.Reason == nil {
		if reason := normalize.ReasonCandidate(transcript); reason != "" {
			facts.Exam.Reason = &reason
			meta.FiredRules = append(meta.FiredRules, "reason-signal")
			p.logger.Info("visit reason backfilled from transcript signal",
				"exam", id, "reason", reason)
		}
	}
	if facts.Exam.PatientName == nil {
		if name := normalize.PatientNameCandidate(transcript); name != "" {
			facts.Exam.PatientName = &name
			meta.FiredRules = append(meta.FiredRules, "patient-name-signal")
			p.logger.Info("patient name backfilled from transcript signal",
				"exam", id, "name", name)
		}
	}
}

// recordLLMCall updates the provider request/error counters for one
// language-model stage call.
func (p *Pipeline) recordLLMCall(ctx context.Context, kind string, err error) {
	p.metrics.RecordProviderRequest(ctx, "llm", kind, callStatus(err))
	if errors.Is(err, types.ErrUpstream) {
		p.metrics.RecordProviderError(ctx, "llm", kind)
	}
}

// callStatus labels a provider call outcome for metrics.
func callStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RunImpression extracts the clinician's verbal assessment.
func (p *Pipeline) RunImpression(ctx context.Context, id string) error {
	rec, err := p.store.Get(ctx, id)
	if err != nil {
		return err
	}

	started := time.Now()
	imp, stats, ierr := p.extract.Impression(ctx, rec.Transcript)
	duration := time.Since(started)
	p.metrics.RecordStage(ctx, "impression", duration.Seconds())
	p.recordLLMCall(ctx, "impression", ierr)
	if stats.Attempts > 1 {
		p.metrics.RecordParseRetry(ctx, "impression")
	}

	meta := p.extractionMeta(versionImpression, started, duration, stats.Attempts, stats.PromptTokens, stats.CompletionTokens, ierr)

	if imp != nil {
		if serr := p.store.SaveStage(ctx, id, examstore.StageImpression, imp, meta); serr != nil {
			return serr
		}
	}
	if ierr != nil {
		return fmt.Errorf("pipeline: impression for exam %q: %w", id, ierr)
	}
	return nil
}

// RunAnalysis synthesizes the narrative layer. A model failure degrades to
// the deterministic disclaimer fallback; the annotation is persisted and the
// pipeline continues.
func (p *Pipeline) RunAnalysis(ctx context.Context, id string) error {
	rec, err := p.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Facts == nil || rec.Impression == nil {
		return fmt.Errorf("pipeline: analysis for exam %q needs facts and impression: %w", id, types.ErrValidation)
	}

	started := time.Now()
	analysis, stats, aerr := p.synth.Synthesize(ctx, rec.Facts, rec.Impression)
	duration := time.Since(started)
	p.metrics.RecordStage(ctx, "analysis", duration.Seconds())
	p.recordLLMCall(ctx, "analysis", aerr)

	meta := p.extractionMeta(versionAnalysis, started, duration, stats.Attempts, stats.PromptTokens, stats.CompletionTokens, aerr)
	if aerr != nil {
		p.metrics.RecordFallback(ctx, "analysis")
		p.logger.Warn("analysis degraded to fallback", "exam", id, "error", aerr)
	}
	// The synthesizer always returns a usable analysis, fallback included.
	return p.store.SaveStage(ctx, id, examstore.StageAnalysis, analysis, meta)
}

// RunReport renders the final report. Assembly is pure, so the only failure
// modes are missing prerequisites or the store itself.
func (p *Pipeline) RunReport(ctx context.Context, id string) error {
	rec, err := p.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Facts == nil || rec.Impression == nil || rec.Analysis == nil {
		return fmt.Errorf("pipeline: report for exam %q needs facts, impression and analysis: %w", id, types.ErrValidation)
	}

	started := time.Now()
	text := p.report.Render(rec.Facts, rec.Impression, rec.Analysis)
	duration := time.Since(started)
	p.metrics.RecordStage(ctx, "report", duration.Seconds())

	meta := &types.StageMeta{
		Version:   versionReport,
		StartedAt: started,
		Duration:  duration,
	}
	if err := p.store.SaveStage(ctx, id, examstore.StageReport, text, meta); err != nil {
		return err
	}
	p.logger.Info("report assembled", "exam", id, "bytes", len(text))
	return nil
}

// ensureRecord creates the exam record when it does not exist yet.
func (p *Pipeline) ensureRecord(ctx context.Context, id string) error {
	if _, err := p.store.Get(ctx, id); err == nil {
		return nil
	} else if !errors.Is(err, types.ErrNotFound) {
		return err
	}
	_, err := p.store.Create(ctx, id)
	return err
}

// extractionMeta builds the metadata sibling for a model-backed stage,
// annotating the error and raw preview when the stage failed.
func (p *Pipeline) extractionMeta(version string, started time.Time, duration time.Duration, attempts, promptTokens, completionTokens int, stageErr error) *types.StageMeta {
	meta := &types.StageMeta{
		Version:          version,
		Model:            p.model,
		StartedAt:        started,
		Duration:         duration,
		Attempts:         attempts,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	}
	if stageErr != nil {
		meta.Error = stageErr.Error()
		var malformed *types.MalformedOutputError
		if errors.As(stageErr, &malformed) {
			meta.RawPreview = malformed.RawPreview
		}
	}
	return meta
}

// Package types defines the shared data model used across all vetsono packages.
//
// These types form the lingua franca between the transcription orchestrator,
// the extraction engine, the validation and synthesis stages, and the exam
// store. Each package defines its own internals, but everything that crosses a
// stage boundary lives here to avoid circular imports.
package types

import (
	"strconv"
	"strings"
	"time"
)

// QualityMetrics holds the raw token-level measurements behind a
// [TranscriptQuality] score. All ratios are in [0, 1].
type QualityMetrics struct {
	// TokenCount is the number of whitespace-separated tokens after cleanup.
	TokenCount int `json:"tokenCount"`

	// UnknownTokenRatio is the fraction of tokens flagged as STT garbage
	// (over-long, vowel-less, or matching known junk substrings).
	UnknownTokenRatio float64 `json:"unknownTokenRatio"`

	// RepetitionScore is the fraction of tokens repeating their immediate
	// predecessor or the token two positions back, fillers excluded.
	RepetitionScore float64 `json:"repetitionScore"`

	// OrganHitCount is how many entries of the anatomical checklist were
	// matched anywhere in the transcript.
	OrganHitCount int `json:"organHitCount"`

	// OrganHitRatio is OrganHitCount divided by the checklist size.
	OrganHitRatio float64 `json:"organHitRatio"`

	// SuspiciousTermCount counts hits against known problematic phrases.
	SuspiciousTermCount int `json:"suspiciousTermCount"`
}

// TranscriptQuality is the scored assessment of one transcription run.
// It is produced once per run and never mutated by downstream stages.
type TranscriptQuality struct {
	// Score is the overall quality in [0, 100].
	Score int `json:"score"`

	// Flags lists threshold-derived quality flags (e.g. "QUALITY_LOW").
	// Always non-nil.
	Flags []string `json:"flags"`

	// Metrics holds the underlying measurements.
	Metrics QualityMetrics `json:"metrics"`
}

// HasFlag reports whether the given flag is present.
func (q TranscriptQuality) HasFlag(flag string) bool {
	for _, f := range q.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Quality flags emitted by the scorer.
const (
	FlagEmptyTranscript      = "EMPTY_TRANSCRIPT"
	FlagQualityLow           = "QUALITY_LOW"
	FlagVeryLowOrganCoverage = "VERY_LOW_ORGAN_COVERAGE"
	FlagHighRepetition       = "HIGH_REPETITION"
	FlagManyUnknownTokens    = "MANY_UNKNOWN_TOKENS"
	FlagSuspiciousTerms      = "SUSPICIOUS_TERMS"
)

// ExamInfo carries the contextual exam attributes extracted from the
// transcript. Every field is nullable: nil means "not stated".
type ExamInfo struct {
	// BodyRegion is the examined region (e.g. "jama brzuszna").
	BodyRegion *string `json:"bodyRegion"`

	// Reason is the visit reason as stated in the recording.
	Reason *string `json:"reason"`

	// PatientName is the animal's name, when mentioned.
	PatientName *string `json:"patientName"`
}

// Measurement is a single numeric measurement taken during the exam.
type Measurement struct {
	// Structure is the measured structure (e.g. "lewa nerka").
	Structure string `json:"structure"`

	// Location optionally narrows the structure (e.g. "biegun dolny").
	Location *string `json:"location"`

	// Value holds one or more finite numeric values (e.g. two axes).
	// Never empty: a measurement without a parseable value is dropped
	// during extraction, not stored.
	Value []float64 `json:"value"`

	// Unit is the measurement unit (e.g. "mm", "cm").
	Unit string `json:"unit"`
}

// String renders the measurement as "structure[–location]: v1[–v2] unit",
// the shape used in synthesis material and in the final report.
func (m Measurement) String() string {
	var b strings.Builder
	b.WriteString(m.Structure)
	if m.Location != nil && *m.Location != "" {
		b.WriteString("–")
		b.WriteString(*m.Location)
	}
	b.WriteString(": ")
	for i, v := range m.Value {
		if i > 0 {
			b.WriteString("–")
		}
		b.WriteString(formatValue(v))
	}
	if m.Unit != "" {
		b.WriteString(" ")
		b.WriteString(m.Unit)
	}
	return b.String()
}

func formatValue(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

// Facts is the objective exam data extracted from the transcript without
// interpretation. All slices are always non-nil.
type Facts struct {
	Exam ExamInfo `json:"exam"`

	// Conditions describes exam conditions (fasting, sedation, probe, …).
	Conditions []string `json:"conditions"`

	// Findings holds one observation per entry, formatted "Organ: description".
	Findings []string `json:"findings"`

	Measurements []Measurement `json:"measurements"`
}

// Impression is the clinician's subjective verbal assessment as literally
// stated in the recording. All slices are always non-nil, regardless of what
// the extraction call returned.
type Impression struct {
	// DoctorOverall is the clinician's overall assessment, when stated.
	DoctorOverall *string `json:"doctorOverall"`

	DoctorKeyConcerns []string `json:"doctorKeyConcerns"`
	DoctorPlan        []string `json:"doctorPlan"`
	DoctorRedFlags    []string `json:"doctorRedFlags"`

	// Quotes holds verbatim clinician quotes, capped at a small number.
	Quotes []string `json:"quotes"`

	// ConsentRecording is "yes", "no", or nil when consent was not addressed.
	ConsentRecording *string `json:"consentRecording"`
}

// Analysis is the synthesized narrative layer. Its three list fields are
// always verbatim copies of the corresponding [Impression] lists — the
// synthesis model contributes only Summary and Confidence.
type Analysis struct {
	// Summary is a short narrative; nil only before synthesis ran.
	Summary *string `json:"summary"`

	// Confidence is the synthesis confidence in [0, 100].
	Confidence int `json:"confidence"`

	Diagnoses       []string `json:"diagnoses"`
	Recommendations []string `json:"recommendations"`
	RedFlags        []string `json:"redFlags"`

	// FallbackUsed marks that the fixed disclaimer replaced an empty narrative.
	FallbackUsed bool `json:"fallbackUsed,omitempty"`
}

// TranscriptionRun is one attempt of the external speech-to-text process,
// kept in the audit history whether or not its output was adopted.
type TranscriptionRun struct {
	// BeamSize is the search breadth the run used.
	BeamSize int `json:"beamSize"`

	// Text is the cleaned transcript the run produced. Empty for a run that
	// timed out or produced nothing.
	Text string `json:"text"`

	Quality TranscriptQuality `json:"quality"`

	// Adopted marks the run whose output the pipeline kept.
	Adopted bool `json:"adopted"`

	// Error holds the failure description for runs that produced nothing.
	Error string `json:"error,omitempty"`

	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}

// StageMeta is the metadata sibling persisted next to every stage output.
type StageMeta struct {
	// Version tags the rule tables / prompts the stage ran with.
	Version string `json:"version"`

	// Model names the LLM used, when the stage made a model call.
	Model string `json:"model,omitempty"`

	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`

	// Attempts counts model calls including the bounded retry.
	Attempts int `json:"attempts,omitempty"`

	// PromptTokens and CompletionTokens are usage telemetry for model stages.
	PromptTokens     int `json:"promptTokens,omitempty"`
	CompletionTokens int `json:"completionTokens,omitempty"`

	// Error is the stage-local error annotation; empty on success.
	Error string `json:"error,omitempty"`

	// RawPreview holds a short prefix of unparseable model output, kept for
	// diagnosis.
	RawPreview string `json:"rawPreview,omitempty"`

	// FiredRules lists the dictionary / validation rules that fired.
	FiredRules []string `json:"firedRules,omitempty"`
}

// ExamRecord is one exam's document as persisted by the exam store. Each
// pipeline stage writes exactly one payload field plus its meta sibling;
// fields are never deleted by a later stage, only overwritten by a re-run of
// the same stage.
type ExamRecord struct {
	ID string `json:"id"`

	Transcript        string             `json:"transcript"`
	TranscriptQuality *TranscriptQuality `json:"transcriptQuality,omitempty"`
	TranscriptRuns    []TranscriptionRun `json:"transcriptRuns,omitempty"`

	Facts     *Facts     `json:"facts,omitempty"`
	FactsMeta *StageMeta `json:"factsMeta,omitempty"`

	Impression     *Impression `json:"impression,omitempty"`
	ImpressionMeta *StageMeta  `json:"impressionMeta,omitempty"`

	Analysis     *Analysis  `json:"analysis,omitempty"`
	AnalysisMeta *StageMeta `json:"analysisMeta,omitempty"`

	Report     string     `json:"report,omitempty"`
	ReportMeta *StageMeta `json:"reportMeta,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EnsureLists replaces nil slices with empty ones so that JSON marshalling
// produces "[]" instead of "null". Facts and Impression invariants require
// arrays to always materialize.
func (f *Facts) EnsureLists() {
	if f.Conditions == nil {
		f.Conditions = []string{}
	}
	if f.Findings == nil {
		f.Findings = []string{}
	}
	if f.Measurements == nil {
		f.Measurements = []Measurement{}
	}
}

// EnsureLists replaces nil slices with empty ones.
func (im *Impression) EnsureLists() {
	if im.DoctorKeyConcerns == nil {
		im.DoctorKeyConcerns = []string{}
	}
	if im.DoctorPlan == nil {
		im.DoctorPlan = []string{}
	}
	if im.DoctorRedFlags == nil {
		im.DoctorRedFlags = []string{}
	}
	if im.Quotes == nil {
		im.Quotes = []string{}
	}
}

// EnsureLists replaces nil slices with empty ones.
func (a *Analysis) EnsureLists() {
	if a.Diagnoses == nil {
		a.Diagnoses = []string{}
	}
	if a.Recommendations == nil {
		a.Recommendations = []string{}
	}
	if a.RedFlags == nil {
		a.RedFlags = []string{}
	}
}

package quality_test

import (
	"strings"
	"testing"

	"github.com/pkruczek/vetsono/internal/quality"
	"github.com/pkruczek/vetsono/pkg/types"
)

// fullExam mentions all seven checklist organs with clean phrasing.
const fullExam = `Wątroba jednorodna, bez zmian ogniskowych. ` +
	`Nerki obustronnie prawidłowej wielkości. Śledziona niepowiększona. ` +
	`Pęcherz moczowy wypełniony, ściana gładka. Żołądek bez zalegania. ` +
	`Jelita z prawidłową perystaltyką. Trzustka słabo widoczna, bez zmian. ` +
	`Badanie wykonano głowicą liniową, pacjent na czczo, bez sedacji.`

func TestScore_Deterministic(t *testing.T) {
	t.Parallel()

	a := quality.Score(fullExam, fullExam)
	b := quality.Score(fullExam, fullExam)

	if a.Score != b.Score {
		t.Errorf("scores differ: %d vs %d", a.Score, b.Score)
	}
	if len(a.Flags) != len(b.Flags) {
		t.Errorf("flags differ: %v vs %v", a.Flags, b.Flags)
	}
	if a.Metrics != b.Metrics {
		t.Errorf("metrics differ: %+v vs %+v", a.Metrics, b.Metrics)
	}
}

func TestScore_EmptyTranscript(t *testing.T) {
	t.Parallel()

	q := quality.Score("raw had something", "")
	if q.Score != 0 {
		t.Errorf("score=%d, want 0", q.Score)
	}
	if !q.HasFlag(types.FlagEmptyTranscript) {
		t.Errorf("flags=%v, want EMPTY_TRANSCRIPT", q.Flags)
	}

	// Whitespace-only counts as empty too.
	q = quality.Score("", "   \n\t ")
	if q.Score != 0 || !q.HasFlag(types.FlagEmptyTranscript) {
		t.Errorf("whitespace transcript: score=%d flags=%v", q.Score, q.Flags)
	}
}

func TestScore_FullOrganCoverage(t *testing.T) {
	t.Parallel()

	q := quality.Score(fullExam, fullExam)

	if q.Metrics.OrganHitCount != 7 {
		t.Errorf("organHitCount=%d, want 7", q.Metrics.OrganHitCount)
	}
	if q.Metrics.OrganHitRatio != 1.0 {
		t.Errorf("organHitRatio=%v, want 1.0", q.Metrics.OrganHitRatio)
	}
	if q.Score < 80 {
		t.Errorf("score=%d, want >= 80 for a clean full exam", q.Score)
	}
	if q.HasFlag(types.FlagQualityLow) {
		t.Errorf("unexpected QUALITY_LOW on clean transcript, flags=%v", q.Flags)
	}
}

func TestScore_VeryLowOrganCoverage(t *testing.T) {
	t.Parallel()

	text := "Pacjent spokojny, badanie przebiegło bez problemów, właściciel zadowolony."
	q := quality.Score(text, text)

	if q.Metrics.OrganHitCount > 1 {
		t.Fatalf("organHitCount=%d, want <= 1", q.Metrics.OrganHitCount)
	}
	if !q.HasFlag(types.FlagVeryLowOrganCoverage) {
		t.Errorf("flags=%v, want VERY_LOW_ORGAN_COVERAGE", q.Flags)
	}
}

func TestScore_RepetitionPenalty(t *testing.T) {
	t.Parallel()

	looped := strings.Repeat("wątroba ", 40)
	q := quality.Score(looped, looped)

	if q.Metrics.RepetitionScore < 0.9 {
		t.Errorf("repetitionScore=%v, want near 1 for a stutter loop", q.Metrics.RepetitionScore)
	}
	if !q.HasFlag(types.FlagHighRepetition) {
		t.Errorf("flags=%v, want HIGH_REPETITION", q.Flags)
	}

	clean := quality.Score(fullExam, fullExam)
	if q.Score >= clean.Score {
		t.Errorf("looped score %d not below clean score %d", q.Score, clean.Score)
	}
}

func TestScore_FillerWordsNotRepetition(t *testing.T) {
	t.Parallel()

	text := "dobrze dobrze dobrze wątroba jednorodna tak tak nerki prawidłowe"
	q := quality.Score(text, text)

	if q.Metrics.RepetitionScore > 0.1 {
		t.Errorf("repetitionScore=%v, fillers should be excluded", q.Metrics.RepetitionScore)
	}
}

func TestScore_UnknownTokens(t *testing.T) {
	t.Parallel()

	text := "wątroba xqzt brzvk qwrtpsd nerki xxkkttrr śledziona zzwwqq pęcherz"
	q := quality.Score(text, text)

	if q.Metrics.UnknownTokenRatio == 0 {
		t.Fatal("unknownTokenRatio=0, want > 0 for vowel-less junk tokens")
	}
	if !q.HasFlag(types.FlagManyUnknownTokens) {
		t.Errorf("flags=%v, want MANY_UNKNOWN_TOKENS", q.Flags)
	}
}

func TestScore_OverlongTokenIsWeird(t *testing.T) {
	t.Parallel()

	text := "wątroba aaaaaaaaaaaaaaaaaaaaaaaaaaaa nerki"
	q := quality.Score(text, text)
	if q.Metrics.UnknownTokenRatio == 0 {
		t.Error("unknownTokenRatio=0, want > 0 for a 20+ char token")
	}
}

func TestScore_SuspiciousTerms(t *testing.T) {
	t.Parallel()

	raw := fullExam + " Dziękuję za uwagę. Zapraszamy na kolejny odcinek."
	q := quality.Score(raw, fullExam)

	if q.Metrics.SuspiciousTermCount < 2 {
		t.Errorf("suspiciousTermCount=%d, want >= 2 (raw is consulted too)", q.Metrics.SuspiciousTermCount)
	}
	if !q.HasFlag(types.FlagSuspiciousTerms) {
		t.Errorf("flags=%v, want SUSPICIOUS_TERMS", q.Flags)
	}
}

func TestScore_LowQualityFlagThreshold(t *testing.T) {
	t.Parallel()

	q := quality.Score("xqzt", "xqzt")
	if q.Score >= 60 {
		t.Fatalf("score=%d, expected < 60 for garbage", q.Score)
	}
	if !q.HasFlag(types.FlagQualityLow) {
		t.Errorf("flags=%v, want QUALITY_LOW", q.Flags)
	}
}

func TestScore_BoundedRange(t *testing.T) {
	t.Parallel()

	for _, text := range []string{fullExam, "a", strings.Repeat("nerka wątroba ", 500)} {
		q := quality.Score(text, text)
		if q.Score < 0 || q.Score > 100 {
			t.Errorf("score=%d out of [0,100] for %q…", q.Score, text[:min(20, len(text))])
		}
	}
}

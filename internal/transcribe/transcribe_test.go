package transcribe_test

import (
	"errors"
	"strings"
	"testing"

	"context"

	"github.com/pkruczek/vetsono/internal/normalize"
	"github.com/pkruczek/vetsono/internal/transcribe"
	"github.com/pkruczek/vetsono/pkg/provider/stt"
	"github.com/pkruczek/vetsono/pkg/provider/stt/mock"
	"github.com/pkruczek/vetsono/pkg/types"
)

// goodExam mentions the full organ checklist so it scores well above the
// retry threshold.
const goodExam = `Badanie jamy brzusznej. Wątroba jednorodna, niepowiększona.
Nerki obustronnie prawidłowe, miedniczki nieposzerzone. Śledziona jednorodna.
Pęcherz moczowy wypełniony, ściana gładka. Żołądek bez zmian, perystaltyka
jelit zachowana. Trzustka widoczna, prawidłowa.`

const gibberish = "aaa bbb ccc ddd eee fff ggg"

func newOrch(t *testing.T, p stt.Provider, opts ...transcribe.Option) *transcribe.Orchestrator {
	t.Helper()
	dict, err := normalize.NewDictionary(normalize.DefaultRules())
	if err != nil {
		t.Fatalf("NewDictionary: %v", err)
	}
	return transcribe.New(p, dict, normalize.NewSnapper(normalize.DefaultVocabulary()), opts...)
}

func TestTranscribe_GoodFirstRunNoRetry(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Results: []*stt.Result{{Text: goodExam}}}
	out, err := newOrch(t, p).Transcribe(context.Background(), "/audio/exam.wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if len(p.Calls) != 1 {
		t.Errorf("calls=%d, want 1 (no retry)", len(p.Calls))
	}
	if p.Calls[0].Opts.BeamSize != 2 {
		t.Errorf("beam=%d, want low beam 2", p.Calls[0].Opts.BeamSize)
	}
	if len(out.Runs) != 1 || !out.Runs[0].Adopted {
		t.Errorf("runs=%+v, want single adopted run", out.Runs)
	}
	if out.Quality.Score < 60 {
		t.Errorf("score=%d, want >= 60", out.Quality.Score)
	}
}

func TestTranscribe_LowScoreTriggersWideBeamRetry(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Results: []*stt.Result{
		{Text: gibberish},
		{Text: goodExam},
	}}

	out, err := newOrch(t, p).Transcribe(context.Background(), "/audio/exam.wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if len(p.Calls) != 2 {
		t.Fatalf("calls=%d, want 2", len(p.Calls))
	}
	if p.Calls[1].Opts.BeamSize != 5 {
		t.Errorf("retry beam=%d, want 5", p.Calls[1].Opts.BeamSize)
	}
	if len(out.Runs) != 2 {
		t.Fatalf("runs=%d, want 2 (audit history keeps the discarded run)", len(out.Runs))
	}
	if out.Runs[0].Adopted || !out.Runs[1].Adopted {
		t.Errorf("adoption flags=%v/%v, want second run adopted", out.Runs[0].Adopted, out.Runs[1].Adopted)
	}
	if !strings.Contains(out.Text, "Wątroba jednorodna") {
		t.Errorf("text=%q, want wide-beam transcript", out.Text)
	}
}

func TestTranscribe_KeepsHigherScoringRun(t *testing.T) {
	t.Parallel()

	// The retry comes back worse; the first run must win.
	p := &mock.Provider{Results: []*stt.Result{
		{Text: "Wątroba jednorodna, nerki prawidłowe."},
		{Text: gibberish},
	}}

	out, err := newOrch(t, p).Transcribe(context.Background(), "/audio/exam.wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(out.Runs) != 2 {
		t.Fatalf("runs=%d, want 2", len(out.Runs))
	}
	if !out.Runs[0].Adopted || out.Runs[1].Adopted {
		t.Errorf("adoption flags wrong: %+v", out.Runs)
	}
	if !strings.Contains(out.Text, "Wątroba") {
		t.Errorf("text=%q, want first run kept", out.Text)
	}
}

func TestTranscribe_EmptyRunsNoError(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Results: []*stt.Result{{Text: ""}}}
	out, err := newOrch(t, p).Transcribe(context.Background(), "/audio/silence.wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if out.Text != "" {
		t.Errorf("text=%q, want empty", out.Text)
	}
	if !out.Quality.HasFlag(types.FlagEmptyTranscript) {
		t.Errorf("flags=%v, want EMPTY_TRANSCRIPT", out.Quality.Flags)
	}
	if len(out.Runs) != 2 {
		t.Errorf("runs=%d, want 2 (empty first run still retries)", len(out.Runs))
	}
}

func TestTranscribe_AllRunsFailed(t *testing.T) {
	t.Parallel()

	boom := errors.New("process killed")
	p := &mock.Provider{
		Results: []*stt.Result{nil, nil},
		Errs:    []error{boom, boom},
	}

	out, err := newOrch(t, p).Transcribe(context.Background(), "/audio/exam.wav")
	if !errors.Is(err, types.ErrUpstream) {
		t.Fatalf("err=%v, want ErrUpstream", err)
	}
	if len(out.Runs) != 2 {
		t.Fatalf("runs=%d, want audit history despite failure", len(out.Runs))
	}
	for _, r := range out.Runs {
		if r.Adopted {
			t.Error("failed run marked adopted")
		}
		if r.Error == "" {
			t.Error("failed run missing error annotation")
		}
	}
}

func TestTranscribe_FailedFirstRunRecoveredBySecond(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		Results: []*stt.Result{nil, {Text: goodExam}},
		Errs:    []error{errors.New("timeout"), nil},
	}

	out, err := newOrch(t, p).Transcribe(context.Background(), "/audio/exam.wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if !out.Runs[1].Adopted {
		t.Error("second run not adopted")
	}
	if out.Runs[0].Error == "" {
		t.Error("first run error not recorded in history")
	}
}

func TestTranscribe_NormalizationChainApplied(t *testing.T) {
	t.Parallel()

	raw := "Wontroba jednorodna.\nWontroba jednorodna.\nWontroba jednorodna.\nNerki bez zmian."
	p := &mock.Provider{Results: []*stt.Result{{Text: raw}}}

	out, err := newOrch(t, p).Transcribe(context.Background(), "/audio/exam.wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got := strings.Count(out.Text, "jednorodna"); got != 1 {
		t.Errorf("anti-loop kept %d copies:\n%s", got, out.Text)
	}
	if strings.Contains(out.Text, "Wontroba") {
		t.Errorf("dictionary did not fire: %q", out.Text)
	}
	if len(out.FiredRules) == 0 {
		t.Error("fired rules not reported")
	}
}

func TestCleanTranscript(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			"whisper markup",
			"[00:00:01.000 --> 00:00:02.500] Wątroba jednorodna.",
			"Wątroba jednorodna.",
		},
		{
			"bare bracket timestamp",
			"[01:23] Nerki bez zmian.",
			"Nerki bez zmian.",
		},
		{
			"range at line start",
			"00:01 - 00:05 Śledziona jednorodna.",
			"Śledziona jednorodna.",
		},
		{
			"srt block",
			"1\n00:00:01,000 --> 00:00:02,500\nPęcherz wypełniony.",
			"Pęcherz wypełniony.",
		},
		{
			"sequence numbers dropped",
			"12\nTrzustka prawidłowa.\n13\n",
			"Trzustka prawidłowa.",
		},
		{
			"content untouched",
			"Żołądek bez zmian, 3 mm ściana.",
			"Żołądek bez zmian, 3 mm ściana.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := transcribe.CleanTranscript(tc.in); got != tc.want {
				t.Errorf("CleanTranscript(%q)=%q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

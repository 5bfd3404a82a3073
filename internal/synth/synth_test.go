package synth_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/pkruczek/vetsono/internal/synth"
	llm "github.com/pkruczek/vetsono/pkg/provider/llm"
	"github.com/pkruczek/vetsono/pkg/provider/llm/mock"
	"github.com/pkruczek/vetsono/pkg/types"
)

func strptr(s string) *string { return &s }

func testFacts() *types.Facts {
	f := &types.Facts{
		Findings: []string{"Nerka lewa: miedniczka poszerzona"},
		Measurements: []types.Measurement{
			{Structure: "nerka lewa", Value: []float64{4.2}, Unit: "cm"},
		},
	}
	f.EnsureLists()
	return f
}

func testImpression() *types.Impression {
	i := &types.Impression{
		DoctorOverall:     strptr("obraz wymaga kontroli"),
		DoctorKeyConcerns: []string{"poszerzenie miedniczki", "zastój moczu"},
		DoctorPlan:        []string{"kontrola za 2 tygodnie"},
		DoctorRedFlags:    []string{"anuria"},
	}
	i.EnsureLists()
	return i
}

func newSynth(t *testing.T, p llm.Provider, opts ...synth.Option) *synth.Synthesizer {
	t.Helper()
	s, err := synth.New(p, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSynthesize_ListsCopiedVerbatim(t *testing.T) {
	t.Parallel()

	// The model tries to smuggle in extra recommendations; only summary and
	// confidence may be taken from it.
	p := &mock.Provider{Responses: []*llm.CompletionResponse{{
		Content:      `{"summary": "Obraz nerki lewej z poszerzoną miedniczką.", "confidence": 72, "recommendations": ["podać antybiotyk"]}`,
		FinishReason: llm.FinishStop,
	}}}

	imp := testImpression()
	a, stats, err := newSynth(t, p).Synthesize(context.Background(), testFacts(), imp)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if stats.Attempts != 1 {
		t.Errorf("attempts=%d", stats.Attempts)
	}
	if !reflect.DeepEqual(a.Diagnoses, imp.DoctorKeyConcerns) {
		t.Errorf("diagnoses=%v, want %v", a.Diagnoses, imp.DoctorKeyConcerns)
	}
	if !reflect.DeepEqual(a.Recommendations, imp.DoctorPlan) {
		t.Errorf("recommendations=%v, want %v", a.Recommendations, imp.DoctorPlan)
	}
	if !reflect.DeepEqual(a.RedFlags, imp.DoctorRedFlags) {
		t.Errorf("redFlags=%v, want %v", a.RedFlags, imp.DoctorRedFlags)
	}
	if a.Confidence != 72 {
		t.Errorf("confidence=%d, want 72", a.Confidence)
	}
	if a.FallbackUsed {
		t.Error("fallback marked on a successful call")
	}
}

func TestSynthesize_ConfidenceDefaultAndClamp(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		content string
		want    int
	}{
		{"omitted", `{"summary": "ok", "confidence": null}`, 80},
		{"too high", `{"summary": "ok", "confidence": 150}`, 100},
		{"negative", `{"summary": "ok", "confidence": -5}`, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := &mock.Provider{Responses: []*llm.CompletionResponse{{
				Content: tc.content, FinishReason: llm.FinishStop,
			}}}
			a, _, err := newSynth(t, p).Synthesize(context.Background(), testFacts(), testImpression())
			if err != nil {
				t.Fatalf("Synthesize: %v", err)
			}
			if a.Confidence != tc.want {
				t.Errorf("confidence=%d, want %d", a.Confidence, tc.want)
			}
		})
	}
}

func TestSynthesize_EmptySummaryGetsDisclaimer(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Responses: []*llm.CompletionResponse{{
		Content: `{"summary": null, "confidence": 90}`, FinishReason: llm.FinishStop,
	}}}

	a, _, err := newSynth(t, p).Synthesize(context.Background(), testFacts(), testImpression())
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if a.Summary == nil || *a.Summary != synth.Disclaimer {
		t.Errorf("summary=%v, want disclaimer", a.Summary)
	}
	if !a.FallbackUsed {
		t.Error("FallbackUsed not set")
	}
}

func TestSynthesize_UpstreamFailureYieldsFallback(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Err: errors.New("connection refused")}
	imp := testImpression()

	a, _, err := newSynth(t, p).Synthesize(context.Background(), testFacts(), imp)
	if !errors.Is(err, types.ErrUpstream) {
		t.Fatalf("err=%v, want ErrUpstream", err)
	}
	if a == nil {
		t.Fatal("fallback analysis is nil")
	}
	if !a.FallbackUsed || a.Summary == nil || *a.Summary != synth.Disclaimer {
		t.Errorf("analysis=%+v, want disclaimer fallback", a)
	}
	if !reflect.DeepEqual(a.Recommendations, imp.DoctorPlan) {
		t.Errorf("recommendations=%v, want copied from impression", a.Recommendations)
	}
}

func TestSynthesize_MalformedOutputYieldsFallback(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Responses: []*llm.CompletionResponse{{
		Content: "I'd rather chat about something else.", FinishReason: llm.FinishStop,
	}}}

	a, _, err := newSynth(t, p).Synthesize(context.Background(), testFacts(), testImpression())
	var malformed *types.MalformedOutputError
	if !errors.As(err, &malformed) {
		t.Fatalf("err=%v, want MalformedOutputError", err)
	}
	if a == nil || !a.FallbackUsed {
		t.Errorf("analysis=%+v, want fallback", a)
	}
}

func TestSynthesize_SanitizerRewritesAndStripsScripts(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Responses: []*llm.CompletionResponse{{
		Content:      `{"summary": "Widoczny guzek wątroby схоже на пухлину.", "confidence": 60}`,
		FinishReason: llm.FinishStop,
	}}}

	a, _, err := newSynth(t, p).Synthesize(context.Background(), testFacts(), testImpression())
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if strings.Contains(*a.Summary, "guzek") {
		t.Errorf("summary=%q, diagnostic term not rewritten", *a.Summary)
	}
	if !strings.Contains(*a.Summary, "zmiana ogniskowa (do weryfikacji)") {
		t.Errorf("summary=%q, want neutral replacement", *a.Summary)
	}
	for _, r := range *a.Summary {
		if r >= 0x0400 && r <= 0x04FF {
			t.Errorf("summary=%q still contains Cyrillic", *a.Summary)
			break
		}
	}
}

func TestSynthesize_MaterialContainsSections(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Responses: []*llm.CompletionResponse{{
		Content: `{"summary": "ok", "confidence": 80}`, FinishReason: llm.FinishStop,
	}}}

	_, _, err := newSynth(t, p).Synthesize(context.Background(), testFacts(), testImpression())
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	material := p.CompleteCalls[0].Req.Messages[0].Content
	for _, want := range []string{
		"Nerka lewa: miedniczka poszerzona",
		"nerka lewa: 4.2 cm",
		"obraz wymaga kontroli",
		"kontrola za 2 tygodnie",
	} {
		if !strings.Contains(material, want) {
			t.Errorf("material missing %q:\n%s", want, material)
		}
	}
	if p.CompleteCalls[0].Req.Temperature != 0 {
		t.Error("synthesis must run at temperature 0")
	}
}

package extract_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pkruczek/vetsono/internal/extract"
	llm "github.com/pkruczek/vetsono/pkg/provider/llm"
	"github.com/pkruczek/vetsono/pkg/provider/llm/mock"
	"github.com/pkruczek/vetsono/pkg/types"
)

const factsJSON = `{
	"exam": {"bodyRegion": "jama brzuszna", "reason": "krwiomocz", "patientName": null},
	"conditions": ["pacjent na czczo"],
	"findings": ["Wątroba: jednorodna", "Nerka lewa: miedniczka poszerzona"],
	"measurements": [
		{"structure": "nerka lewa", "location": null, "value": [4.2], "unit": "cm"}
	]
}`

const impressionJSON = `{
	"doctorOverall": "obraz niejednoznaczny",
	"doctorKeyConcerns": ["poszerzenie miedniczki"],
	"doctorPlan": ["kontrola za 2 tygodnie"],
	"doctorRedFlags": [],
	"quotes": [],
	"consentRecording": "tak"
}`

func stop(content string) *llm.CompletionResponse {
	return &llm.CompletionResponse{Content: content, FinishReason: llm.FinishStop}
}

func TestFacts_HappyPath(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Responses: []*llm.CompletionResponse{stop(factsJSON)}}
	e := extract.New(p)

	facts, stats, err := e.Facts(context.Background(), "transkrypcja badania")
	if err != nil {
		t.Fatalf("Facts: %v", err)
	}
	if stats.Attempts != 1 {
		t.Errorf("attempts=%d, want 1", stats.Attempts)
	}
	if got := len(facts.Findings); got != 2 {
		t.Errorf("findings=%v", facts.Findings)
	}
	if facts.Exam.Reason == nil || *facts.Exam.Reason != "krwiomocz" {
		t.Errorf("reason=%v", facts.Exam.Reason)
	}
	if len(facts.Measurements) != 1 || facts.Measurements[0].Value[0] != 4.2 {
		t.Errorf("measurements=%v", facts.Measurements)
	}

	req := p.CompleteCalls[0].Req
	if req.Temperature != 0 {
		t.Errorf("temperature=%v, want 0", req.Temperature)
	}
	if req.ResponseFormat == nil || req.ResponseFormat.Name != "exam_facts" {
		t.Errorf("response format=%+v", req.ResponseFormat)
	}
}

func TestFacts_RecoversFromFencedOutput(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Responses: []*llm.CompletionResponse{
		stop("Here you go:\n```json\n" + factsJSON + "\n```"),
	}}

	facts, stats, err := e(p).Facts(context.Background(), "t")
	if err != nil {
		t.Fatalf("Facts: %v", err)
	}
	if stats.Attempts != 1 {
		t.Errorf("attempts=%d, want 1 (recovered without retry)", stats.Attempts)
	}
	if len(facts.Findings) != 2 {
		t.Errorf("findings=%v", facts.Findings)
	}
}

func e(p llm.Provider) *extract.Extractor { return extract.New(p) }

func TestFacts_RetryAfterGarbage(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Responses: []*llm.CompletionResponse{
		stop("I cannot help with that."),
		stop(factsJSON),
	}}

	facts, stats, err := e(p).Facts(context.Background(), strings.Repeat("badanie usg ", 100))
	if err != nil {
		t.Fatalf("Facts: %v", err)
	}
	if stats.Attempts != 2 {
		t.Errorf("attempts=%d, want 2", stats.Attempts)
	}
	if len(facts.Findings) != 2 {
		t.Errorf("findings=%v", facts.Findings)
	}

	second := p.CompleteCalls[1].Req.Messages[0].Content
	if !strings.Contains(second, "COMPLETE JSON object") {
		t.Error("retry carries no corrective instruction")
	}
}

func TestFacts_TruncationForcesRetry(t *testing.T) {
	t.Parallel()

	// First response parses but reports an abnormal finish reason.
	p := &mock.Provider{Responses: []*llm.CompletionResponse{
		{Content: factsJSON, FinishReason: llm.FinishLength},
		stop(factsJSON),
	}}

	_, stats, err := e(p).Facts(context.Background(), "t")
	if err != nil {
		t.Fatalf("Facts: %v", err)
	}
	if stats.Attempts != 2 {
		t.Errorf("attempts=%d, want 2 (truncation signal)", stats.Attempts)
	}
}

func TestFacts_RetryShrinksWindowAndBudget(t *testing.T) {
	t.Parallel()

	transcript := strings.Repeat("a", 400)
	p := &mock.Provider{Responses: []*llm.CompletionResponse{
		stop("garbage"),
		stop(factsJSON),
	}}

	_, _, err := e2(p, extract.WithMaxInputChars(200), extract.WithMaxOutputTokens(1000)).
		Facts(context.Background(), transcript)
	if err != nil {
		t.Fatalf("Facts: %v", err)
	}

	first := p.CompleteCalls[0].Req
	second := p.CompleteCalls[1].Req
	if len(first.Messages[0].Content) != 200 {
		t.Errorf("first window=%d, want 200", len(first.Messages[0].Content))
	}
	if second.MaxTokens != 500 {
		t.Errorf("retry budget=%d, want 500", second.MaxTokens)
	}
	// The retry window halves to 100 runes, followed by the corrective
	// instruction.
	if !strings.HasPrefix(second.Messages[0].Content, strings.Repeat("a", 100)+"\n") {
		t.Errorf("retry content=%q, want 100-rune window plus instruction", second.Messages[0].Content)
	}
}

func e2(p llm.Provider, opts ...extract.Option) *extract.Extractor {
	return extract.New(p, opts...)
}

func TestFacts_MalformedAfterRetry(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Responses: []*llm.CompletionResponse{
		stop("not json"),
		stop("still not json"),
	}}

	_, stats, err := e(p).Facts(context.Background(), "t")
	if err == nil {
		t.Fatal("want error")
	}

	var malformed *types.MalformedOutputError
	if !errors.As(err, &malformed) {
		t.Fatalf("err=%v, want MalformedOutputError", err)
	}
	if malformed.Attempts != 2 {
		t.Errorf("attempts=%d, want 2", malformed.Attempts)
	}
	if malformed.RawPreview == "" {
		t.Error("raw preview is empty")
	}
	if stats.Attempts != 2 {
		t.Errorf("stats attempts=%d, want 2", stats.Attempts)
	}
}

func TestFacts_UpstreamError(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Err: errors.New("connection refused")}
	_, _, err := e(p).Facts(context.Background(), "t")
	if !errors.Is(err, types.ErrUpstream) {
		t.Errorf("err=%v, want ErrUpstream", err)
	}
}

func TestFacts_InsufficientData(t *testing.T) {
	t.Parallel()

	empty := `{"exam":{"bodyRegion":null,"reason":null,"patientName":null},"conditions":[],"findings":[],"measurements":[]}`
	p := &mock.Provider{Responses: []*llm.CompletionResponse{stop(empty)}}

	facts, _, err := e(p).Facts(context.Background(), "t")
	if !errors.Is(err, types.ErrInsufficientData) {
		t.Fatalf("err=%v, want ErrInsufficientData", err)
	}
	if facts == nil || facts.Findings == nil {
		t.Error("empty facts should still be returned with non-nil lists")
	}
}

func TestImpression_HappyPath(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Responses: []*llm.CompletionResponse{stop(impressionJSON)}}
	imp, _, err := e(p).Impression(context.Background(), "t")
	if err != nil {
		t.Fatalf("Impression: %v", err)
	}
	if imp.DoctorOverall == nil || *imp.DoctorOverall != "obraz niejednoznaczny" {
		t.Errorf("overall=%v", imp.DoctorOverall)
	}
	if imp.ConsentRecording == nil || *imp.ConsentRecording != "yes" {
		t.Errorf("consent=%v, want yes (mapped from tak)", imp.ConsentRecording)
	}
	if imp.DoctorRedFlags == nil {
		t.Error("red flags should be non-nil")
	}
}

func TestImpression_SentinelsAndDedupe(t *testing.T) {
	t.Parallel()

	raw := `{
		"doctorOverall": "-",
		"doctorKeyConcerns": ["guzek", "Guzek", "brak", " "],
		"doctorPlan": ["kontrola"],
		"doctorRedFlags": [],
		"quotes": ["a","b","c","d","e","f","g"],
		"consentRecording": "maybe"
	}`
	p := &mock.Provider{Responses: []*llm.CompletionResponse{stop(raw)}}

	imp, _, err := e(p).Impression(context.Background(), "t")
	if err != nil {
		t.Fatalf("Impression: %v", err)
	}
	if imp.DoctorOverall != nil {
		t.Errorf("overall=%q, want nil for sentinel", *imp.DoctorOverall)
	}
	if len(imp.DoctorKeyConcerns) != 1 || imp.DoctorKeyConcerns[0] != "guzek" {
		t.Errorf("concerns=%v", imp.DoctorKeyConcerns)
	}
	if len(imp.Quotes) != 5 {
		t.Errorf("quotes=%v, want capped at 5", imp.Quotes)
	}
	if imp.ConsentRecording != nil {
		t.Errorf("consent=%v, want nil for unexpected value", imp.ConsentRecording)
	}
}

func TestFacts_MeasurementValueShapes(t *testing.T) {
	t.Parallel()

	raw := `{
		"exam": {"bodyRegion": null, "reason": null, "patientName": null},
		"conditions": [],
		"findings": ["Nerka: bez zmian"],
		"measurements": [
			{"structure": "nerka", "location": null, "value": ["4,2", 3.1], "unit": "cm"},
			{"structure": "wątroba", "location": null, "value": ["brak"], "unit": "cm"},
			{"structure": "", "location": null, "value": [1], "unit": "cm"}
		]
	}`
	p := &mock.Provider{Responses: []*llm.CompletionResponse{stop(raw)}}

	facts, _, err := e(p).Facts(context.Background(), "t")
	if err != nil {
		t.Fatalf("Facts: %v", err)
	}
	if len(facts.Measurements) != 1 {
		t.Fatalf("measurements=%v, want only the parseable one", facts.Measurements)
	}
	m := facts.Measurements[0]
	if len(m.Value) != 2 || m.Value[0] != 4.2 || m.Value[1] != 3.1 {
		t.Errorf("value=%v, want [4.2 3.1]", m.Value)
	}
}

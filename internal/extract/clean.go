package extract

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/pkruczek/vetsono/pkg/types"
)

// emptySentinels are model outputs that mean "nothing stated". They are
// normalized to null/absent instead of polluting the record.
var emptySentinels = map[string]struct{}{
	"-": {}, "—": {}, "brak": {}, "brak danych": {}, "nie dotyczy": {},
	"n/a": {}, "none": {}, "null": {},
}

func isEmptyish(s string) bool {
	_, ok := emptySentinels[strings.ToLower(strings.TrimSpace(s))]
	return ok || strings.TrimSpace(s) == ""
}

// cleanString trims a nullable leaf and maps empty-ish sentinels to nil.
func cleanString(s *string) *string {
	if s == nil || isEmptyish(*s) {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}

// cleanList trims entries, drops empty-ish ones and deduplicates
// case-insensitively, preserving first-seen order. Always returns non-nil.
func cleanList(in []string) []string {
	out := []string{}
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if isEmptyish(s) {
			continue
		}
		t := strings.TrimSpace(s)
		key := strings.ToLower(t)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}

// flexNumbers tolerates the value shapes models actually emit: a number, a
// numeric string, or an array mixing both. Unparseable entries are skipped.
type flexNumbers []float64

func (f *flexNumbers) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = appendNumbers(nil, raw)
	return nil
}

func appendNumbers(dst []float64, v any) []float64 {
	switch x := v.(type) {
	case float64:
		dst = append(dst, x)
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(x), ",", ".")
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			dst = append(dst, n)
		}
	case []any:
		for _, e := range x {
			dst = appendNumbers(dst, e)
		}
	}
	return dst
}

// wireMeasurement is the defensive decoding shape for one measurement.
type wireMeasurement struct {
	Structure string      `json:"structure"`
	Location  *string     `json:"location"`
	Value     flexNumbers `json:"value"`
	Unit      string      `json:"unit"`
}

// wireFacts is the decoding shape for the Facts call.
type wireFacts struct {
	Exam         types.ExamInfo    `json:"exam"`
	Conditions   []string          `json:"conditions"`
	Findings     []string          `json:"findings"`
	Measurements []wireMeasurement `json:"measurements"`
}

// cleanFacts converts the wire shape into the canonical model, dropping
// measurements without a finite parseable value.
func cleanFacts(w wireFacts) *types.Facts {
	f := &types.Facts{
		Exam: types.ExamInfo{
			BodyRegion:  cleanString(w.Exam.BodyRegion),
			Reason:      cleanString(w.Exam.Reason),
			PatientName: cleanString(w.Exam.PatientName),
		},
		Conditions:   cleanList(w.Conditions),
		Findings:     cleanList(w.Findings),
		Measurements: []types.Measurement{},
	}

	for _, m := range w.Measurements {
		values := make([]float64, 0, len(m.Value))
		for _, v := range m.Value {
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				values = append(values, v)
			}
		}
		if len(values) == 0 || strings.TrimSpace(m.Structure) == "" {
			continue
		}
		f.Measurements = append(f.Measurements, types.Measurement{
			Structure: strings.TrimSpace(m.Structure),
			Location:  cleanString(m.Location),
			Value:     values,
			Unit:      strings.TrimSpace(m.Unit),
		})
	}
	return f
}

// maxQuotes caps the verbatim quote list.
const maxQuotes = 5

// cleanImpression normalizes the Impression wire shape in place.
func cleanImpression(w types.Impression) *types.Impression {
	imp := &types.Impression{
		DoctorOverall:     cleanString(w.DoctorOverall),
		DoctorKeyConcerns: cleanList(w.DoctorKeyConcerns),
		DoctorPlan:        cleanList(w.DoctorPlan),
		DoctorRedFlags:    cleanList(w.DoctorRedFlags),
		Quotes:            cleanList(w.Quotes),
		ConsentRecording:  cleanConsent(w.ConsentRecording),
	}
	if len(imp.Quotes) > maxQuotes {
		imp.Quotes = imp.Quotes[:maxQuotes]
	}
	return imp
}

// cleanConsent restricts consent to yes/no/null, tolerating the Polish
// answers a transcript-language model slips in.
func cleanConsent(s *string) *string {
	if s == nil {
		return nil
	}
	v := ""
	switch strings.ToLower(strings.TrimSpace(*s)) {
	case "yes", "tak":
		v = "yes"
	case "no", "nie":
		v = "no"
	default:
		return nil
	}
	return &v
}

// hasFactsContent reports whether extraction yielded anything usable.
func hasFactsContent(f *types.Facts) bool {
	return len(f.Findings) > 0 || len(f.Measurements) > 0 ||
		len(f.Conditions) > 0 || f.Exam.BodyRegion != nil ||
		f.Exam.Reason != nil || f.Exam.PatientName != nil
}

// hasImpressionContent reports whether the assessment carries any statement.
func hasImpressionContent(i *types.Impression) bool {
	return i.DoctorOverall != nil || len(i.DoctorKeyConcerns) > 0 ||
		len(i.DoctorPlan) > 0 || len(i.DoctorRedFlags) > 0 ||
		len(i.Quotes) > 0
}

package types_test

import (
	"testing"

	"github.com/pkruczek/vetsono/pkg/types"
)

func TestMeasurement_String(t *testing.T) {
	t.Parallel()

	loc := "biegun dolny"
	cases := []struct {
		m    types.Measurement
		want string
	}{
		{types.Measurement{Structure: "nerka lewa", Value: []float64{4.2}, Unit: "cm"}, "nerka lewa: 4.2 cm"},
		{types.Measurement{Structure: "nerka", Location: &loc, Value: []float64{4.2, 2.1}, Unit: "cm"}, "nerka–biegun dolny: 4.2–2.1 cm"},
		{types.Measurement{Structure: "złóg", Value: []float64{3}, Unit: "mm"}, "złóg: 3 mm"},
		{types.Measurement{Structure: "pęcherz", Value: []float64{1.25}, Unit: ""}, "pęcherz: 1.25"},
	}
	for _, tc := range cases {
		if got := tc.m.String(); got != tc.want {
			t.Errorf("String(%+v)=%q, want %q", tc.m, got, tc.want)
		}
	}
}

func TestTranscriptQuality_HasFlag(t *testing.T) {
	t.Parallel()

	q := types.TranscriptQuality{Flags: []string{types.FlagQualityLow}}
	if !q.HasFlag(types.FlagQualityLow) {
		t.Error("HasFlag missed present flag")
	}
	if q.HasFlag(types.FlagEmptyTranscript) {
		t.Error("HasFlag reported absent flag")
	}
}

func TestEnsureLists(t *testing.T) {
	t.Parallel()

	var f types.Facts
	f.EnsureLists()
	if f.Conditions == nil || f.Findings == nil || f.Measurements == nil {
		t.Errorf("facts lists not materialized: %+v", f)
	}

	var i types.Impression
	i.EnsureLists()
	if i.DoctorKeyConcerns == nil || i.DoctorPlan == nil || i.DoctorRedFlags == nil || i.Quotes == nil {
		t.Errorf("impression lists not materialized: %+v", i)
	}

	var a types.Analysis
	a.EnsureLists()
	if a.Diagnoses == nil || a.Recommendations == nil || a.RedFlags == nil {
		t.Errorf("analysis lists not materialized: %+v", a)
	}
}

package extract

import llm "github.com/pkruczek/vetsono/pkg/provider/llm"

// The schemas below are sent as strict response_format constraints. Strict
// mode requires every key to be listed under "required" and nullability to
// be expressed as a type union.

func nullable(t string) map[string]any {
	return map[string]any{"type": []string{t, "null"}}
}

func stringList() map[string]any {
	return map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string"},
	}
}

func factsSchema() *llm.JSONSchemaFormat {
	return &llm.JSONSchemaFormat{
		Name:   "exam_facts",
		Strict: true,
		Schema: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []string{"exam", "conditions", "findings", "measurements"},
			"properties": map[string]any{
				"exam": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"bodyRegion", "reason", "patientName"},
					"properties": map[string]any{
						"bodyRegion":  nullable("string"),
						"reason":      nullable("string"),
						"patientName": nullable("string"),
					},
				},
				"conditions": stringList(),
				"findings":   stringList(),
				"measurements": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type":                 "object",
						"additionalProperties": false,
						"required":             []string{"structure", "location", "value", "unit"},
						"properties": map[string]any{
							"structure": map[string]any{"type": "string"},
							"location":  nullable("string"),
							"value": map[string]any{
								"type":  "array",
								"items": map[string]any{"type": "number"},
							},
							"unit": map[string]any{"type": "string"},
						},
					},
				},
			},
		},
	}
}

func impressionSchema() *llm.JSONSchemaFormat {
	return &llm.JSONSchemaFormat{
		Name:   "exam_impression",
		Strict: true,
		Schema: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required": []string{
				"doctorOverall", "doctorKeyConcerns", "doctorPlan",
				"doctorRedFlags", "quotes", "consentRecording",
			},
			"properties": map[string]any{
				"doctorOverall":     nullable("string"),
				"doctorKeyConcerns": stringList(),
				"doctorPlan":        stringList(),
				"doctorRedFlags":    stringList(),
				"quotes":            stringList(),
				"consentRecording": map[string]any{
					"type": []string{"string", "null"},
					"enum": []any{"yes", "no", nil},
				},
			},
		},
	}
}

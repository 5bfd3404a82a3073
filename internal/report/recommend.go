package report

import "regexp"

// recommendRule synthesizes conservative boilerplate recommendations when
// the clinician stated no plan. Rules fire on organ+keyword co-occurrence
// inside a single finding and never name a diagnosis.
type recommendRule struct {
	name    string
	organ   *regexp.Regexp
	keyword *regexp.Regexp
	advice  []string
}

// The word-start guards replace \b, which is ASCII-only in RE2.
var recommendRules = []recommendRule{
	{
		name:    "kidney-obstruction",
		organ:   regexp.MustCompile(`(?i)(?:^|[^\p{L}])(nerk|miednicz|moczowod|moczowód|kidney|ureter|renal)`),
		keyword: regexp.MustCompile(`(?i)(poszerz|zastój|zastoj|niedrożn|złog|złóg|kamie|wodonercz|dilat|obstruct|stone|hydronephro)`),
		advice: []string{
			"Zalecana kontrola parametrów nerkowych (kreatynina, mocznik).",
			"Kontrolne badanie USG układu moczowego za 10–14 dni.",
		},
	},
	{
		name:    "bladder-sediment",
		organ:   regexp.MustCompile(`(?i)(?:^|[^\p{L}])(pęcherz|bladder)`),
		keyword: regexp.MustCompile(`(?i)(osad|zawiesin|złog|złóg|kamie|sediment|debris|stone)`),
		advice: []string{
			"Zalecane badanie ogólne moczu z osadem.",
			"Kontrolne badanie USG pęcherza moczowego po leczeniu.",
		},
	},
	{
		name:    "liver-heterogeneous",
		organ:   regexp.MustCompile(`(?i)(?:^|[^\p{L}])(wątrob|liver|hepat)`),
		keyword: regexp.MustCompile(`(?i)(niejednorodn|ognisk|powiększ|heterogen|focal|enlarg)`),
		advice: []string{
			"Zalecana kontrola prób wątrobowych (ALT, ALP, bilirubina).",
			"Kontrolne badanie USG wątroby w celu oceny dynamiki zmian.",
		},
	},
	{
		name:    "spleen-lesion",
		organ:   regexp.MustCompile(`(?i)(?:^|[^\p{L}])(śledzion|spleen)`),
		keyword: regexp.MustCompile(`(?i)(ognisk|guzk|niejednorodn|powiększ|focal|nodul|enlarg)`),
		advice: []string{
			"Kontrolne badanie USG śledziony w celu oceny dynamiki zmian.",
		},
	},
	{
		name:    "intestine-thickening",
		organ:   regexp.MustCompile(`(?i)(?:^|[^\p{L}])(jelit|żołąd|dwunastnic|intestin|stomach|bowel)`),
		keyword: regexp.MustCompile(`(?i)(pogrubi|perystaltyk|niedrożn|thicken|motility|obstruct)`),
		advice: []string{
			"Zalecana obserwacja kliniczna przewodu pokarmowego.",
			"Kontrolne badanie USG jamy brzusznej w razie utrzymywania się objawów.",
		},
	},
}

// fallbackAdvice is emitted when findings exist but no rule fired, so an
// abnormal exam never renders with an empty recommendations section.
var fallbackAdvice = "Zalecana kontrola weterynaryjna stosownie do obrazu klinicznego."

// synthesizeRecommendations derives boilerplate advice from the findings.
// Order follows the rule table; duplicates across rules are collapsed.
func synthesizeRecommendations(findings []string) []string {
	out := []string{}
	seen := map[string]struct{}{}

	for _, rule := range recommendRules {
		if !ruleFires(rule, findings) {
			continue
		}
		for _, a := range rule.advice {
			if _, dup := seen[a]; dup {
				continue
			}
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}

	if len(out) == 0 && len(findings) > 0 {
		out = append(out, fallbackAdvice)
	}
	return out
}

// ruleFires requires organ and keyword to co-occur within one finding, not
// merely somewhere in the document.
func ruleFires(rule recommendRule, findings []string) bool {
	for _, f := range findings {
		if rule.organ.MatchString(f) && rule.keyword.MatchString(f) {
			return true
		}
	}
	return false
}

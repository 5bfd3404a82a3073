package normalize

import (
	"regexp"
	"strings"
)

// symptomPatterns is the fixed clinical-symptom table used by
// [ReasonCandidate]. Label order matters: the first matching sentence wins,
// and when no sentence context is available the matched labels are joined.
var symptomPatterns = []struct {
	label   string
	pattern *regexp.Regexp
}{
	{"krwiomocz", regexp.MustCompile(`(?i)\b(krwiomocz\w*|hematuri\w*|krew w moczu)\b`)},
	{"wymioty", regexp.MustCompile(`(?i)\b(wymiot\w*|vomit\w*)\b`)},
	{"biegunka", regexp.MustCompile(`(?i)\b(biegunk\w*|diarrh\w*)\b`)},
	{"brak apetytu", regexp.MustCompile(`(?i)\b(anoreksj\w*|anorexi\w*|brak apetytu|nie je od)\b`)},
	{"apatia", regexp.MustCompile(`(?i)\b(apati\w*|letharg\w*|osowia\w*)\b`)},
	{"ból brzucha", regexp.MustCompile(`(?i)\b(ból brzucha|bolesność brzucha|abdominal pain)\b`)},
	{"trudności w oddawaniu moczu", regexp.MustCompile(`(?i)\b(dysuri\w*|trudności (z|w) oddawani\w+ moczu|stranguri\w*)\b`)},
	{"utrata masy", regexp.MustCompile(`(?i)\b(chudni\w*|utrata (masy|wagi)|weight loss)\b`)},
	{"kontrola", regexp.MustCompile(`(?i)\b(kontrol\w*|badanie kontrolne|follow.?up)\b`)},
}

// ReasonCandidate derives a visit-reason candidate from normalized
// transcript text without a model call. It returns the first sentence
// containing a symptom match; when the match cannot be tied to a sentence it
// returns the matched labels joined with ", ". Empty string means no signal.
func ReasonCandidate(text string) string {
	var labels []string
	for _, sp := range symptomPatterns {
		if !sp.pattern.MatchString(text) {
			continue
		}
		labels = append(labels, sp.label)

		for _, sentence := range splitSentences(text) {
			if sp.pattern.MatchString(sentence) {
				s := strings.TrimSpace(sentence)
				// Sentence context beats a bare label, but only when it is
				// short enough to be a reason and not a whole paragraph.
				if len([]rune(s)) <= 120 {
					return s
				}
				break
			}
		}
	}
	return strings.Join(labels, ", ")
}

// honorificRe matches "Pan/Pani/Mr./Ms. <Name>" shapes. The capture is the
// name token itself.
// Case sensitivity is deliberate: the name capture must stay uppercase-first
// so that "proszę pana" never yields a candidate.
var honorificRe = regexp.MustCompile(`\b(?:[Pp]an|[Pp]ani|M(?:r|s|rs)\.?)\s+([A-ZĄĆĘŁŃÓŚŹŻ][a-ząćęłńóśźż]+)`)

// politeRe detects a polite request near the honorific; "proszę pana, niech
// pan przytrzyma" must not yield a patient named "Pana". \b would never
// match after "ę", hence the explicit guards.
var politeRe = regexp.MustCompile(`(?i)(?:^|[^\p{L}])(proszę|please)(?:$|[^\p{L}])`)

// politeWindow is how many runes after the honorific match are searched for
// a politeness marker.
const politeWindow = 30

// PatientNameCandidate derives a patient-name candidate from honorific
// mentions ("Pani Luna"). A match is discarded when a politeness word
// appears within a short trailing window, and inflected name forms receive a
// conservative single-letter suffix trim of common case endings. Empty
// string means no signal.
func PatientNameCandidate(text string) string {
	for _, m := range honorificRe.FindAllStringSubmatchIndex(text, -1) {
		name := text[m[2]:m[3]]

		tail := text[m[1]:]
		if len(tail) > politeWindow {
			tail = tail[:politeWindow]
		}
		if politeRe.MatchString(tail) {
			continue
		}

		return trimInflection(name)
	}
	return ""
}

// trimInflection normalizes common Polish inflected name endings by trimming
// a single trailing letter. It only fires for names long enough that the
// trim cannot destroy the stem.
func trimInflection(name string) string {
	runes := []rune(name)
	if len(runes) < 4 {
		return name
	}
	switch runes[len(runes)-1] {
	case 'y', 'i', 'ę', 'o':
		return string(runes[:len(runes)-1])
	}
	return name
}

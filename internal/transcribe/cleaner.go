package transcribe

import (
	"regexp"
	"strings"
)

// Timestamp markup shapes known to leak out of STT tooling.
var timestampRes = []*regexp.Regexp{
	// [00:00:01.000 --> 00:00:02.500]
	regexp.MustCompile(`\[\s*\d{1,2}:\d{2}(?::\d{2})?(?:[.,]\d{1,3})?\s*-+>\s*\d{1,2}:\d{2}(?::\d{2})?(?:[.,]\d{1,3})?\s*\]`),
	// SRT style: 00:00:01,000 --> 00:00:02,500
	regexp.MustCompile(`^\s*\d{1,2}:\d{2}:\d{2}[.,]\d{1,3}\s*-+>\s*\d{1,2}:\d{2}:\d{2}[.,]\d{1,3}\s*$`),
	// [00:01:23] or [01:23]
	regexp.MustCompile(`\[\s*\d{1,2}:\d{2}(?::\d{2})?(?:[.,]\d{1,3})?\s*\]`),
	// 00:01 - 00:05 at line start
	regexp.MustCompile(`^\s*\d{1,2}:\d{2}(?::\d{2})?\s*[-–]\s*\d{1,2}:\d{2}(?::\d{2})?\s*`),
}

// bare SRT sequence numbers on their own line.
var sequenceNumberRe = regexp.MustCompile(`^\s*\d{1,4}\s*$`)

// CleanTranscript strips line-level timestamp markup and bare sequence
// numbers from raw STT output, collapsing leftover whitespace. Text content
// is never altered, only markup removed.
func CleanTranscript(raw string) string {
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))

	for _, line := range lines {
		if sequenceNumberRe.MatchString(line) {
			continue
		}
		for _, re := range timestampRes {
			line = re.ReplaceAllString(line, "")
		}
		line = strings.TrimSpace(collapseSpaces(line))
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

var spaceRe = regexp.MustCompile(`[ \t]+`)

func collapseSpaces(s string) string {
	return spaceRe.ReplaceAllString(s, " ")
}

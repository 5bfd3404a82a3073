// Package llmjson recovers JSON objects from language-model output.
//
// Models wrap JSON in markdown fences, prepend explanatory prose, or emit
// raw newlines inside string literals. Every extraction call site shares the
// recovery ladder implemented here instead of growing its own brace counter:
//
//  1. direct parse
//  2. strip markdown code fences and retry
//  3. scan for the first balanced {...} object (string-literal-aware) and
//     parse that slice
//  4. escape bare newlines found inside string literals and retry
//
// All scanning tracks quote state and escape sequences, so braces and
// newlines inside strings never confuse the balance count.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Recovery names the ladder step that produced a successful parse. Stages
// record it in telemetry.
type Recovery string

const (
	RecoveryNone     Recovery = "direct"
	RecoveryFences   Recovery = "fences"
	RecoveryScan     Recovery = "scan"
	RecoveryNewlines Recovery = "newlines"
)

// ErrNoObject is returned when no balanced JSON object can be located.
var ErrNoObject = errors.New("llmjson: no balanced JSON object found")

// Decode unmarshals raw into v, walking the recovery ladder. It returns the
// step that succeeded, or an error when every step fails.
func Decode(raw string, v any) (Recovery, error) {
	if err := json.Unmarshal([]byte(raw), v); err == nil {
		return RecoveryNone, nil
	}

	stripped := StripFences(raw)
	if err := json.Unmarshal([]byte(stripped), v); err == nil {
		return RecoveryFences, nil
	}

	obj, ok := ExtractObject(stripped)
	if !ok {
		return "", fmt.Errorf("llmjson: unrecoverable output: %w", ErrNoObject)
	}

	if err := json.Unmarshal([]byte(obj), v); err == nil {
		return RecoveryScan, nil
	}

	escaped := EscapeBareNewlines(obj)
	if err := json.Unmarshal([]byte(escaped), v); err != nil {
		return "", fmt.Errorf("llmjson: unrecoverable output: %w", err)
	}
	return RecoveryNewlines, nil
}

// StripFences removes optional markdown code fences (```json ... ```) that
// some models wrap around JSON output, plus surrounding whitespace.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

// ExtractObject returns the first balanced top-level {...} slice of s. The
// scan is string-literal-aware: quote state and backslash escapes are
// tracked so braces inside strings do not affect the depth count. Reports
// false when no balanced object exists.
func ExtractObject(s string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			if start >= 0 {
				inString = true
			}
		case '{':
			if start < 0 {
				start = i
			}
			depth++
		case '}':
			if start < 0 {
				continue
			}
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// EscapeBareNewlines replaces raw newline and carriage-return bytes that
// occur inside string literals with their escape sequences. Models that
// interleave prose into long string fields produce such output; standard
// JSON forbids it.
func EscapeBareNewlines(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			case c == '\n':
				b.WriteString(`\n`)
				continue
			case c == '\r':
				b.WriteString(`\r`)
				continue
			}
		} else if c == '"' {
			inString = true
		}

		b.WriteByte(c)
	}
	return b.String()
}

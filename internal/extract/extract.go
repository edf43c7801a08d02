// Package extract pulls structured content out of free-form model replies.
package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// NotAvailable is reported for a complexity line the model did not emit.
const NotAvailable = "N/A"

const fence = "```"

const maxRawInError = 512

// ParseError reports a model reply that is not in the expected shape. Raw
// holds the offending text.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	raw := e.Raw
	if len(raw) > maxRawInError {
		raw = raw[:maxRawInError] + "..."
	}
	return fmt.Sprintf("parsing model reply: %v: raw reply %q", e.Err, raw)
}

func (e *ParseError) Unwrap() error { return e.Err }

// JSON returns the first complete top-level {...} object in text. Nesting
// depth is tracked and braces inside JSON strings are ignored, so trailing
// prose or a second object is never captured. When no balanced object is
// found the input is returned unchanged.
func JSON(text string) string {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		ch := text[i]

		if depth > 0 && inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		case '"':
			if depth > 0 {
				inString = true
			}
		}
	}
	return text
}

// DecodeJSON extracts the first JSON object from text and decodes it into v.
func DecodeJSON(text string, v any) error {
	candidate := JSON(text)
	if err := json.Unmarshal([]byte(candidate), v); err != nil {
		return &ParseError{Raw: text, Err: err}
	}
	return nil
}

// Code returns the body of a fenced code block in text. The first closed
// block whose tag equals language (case-insensitively) wins; otherwise, when
// the text holds exactly one block, that block is used. A leading tag line is
// stripped from the chosen body. When neither rule applies the trimmed
// original text is returned.
func Code(text, language string) string {
	segments := strings.Split(text, fence)
	if len(segments) < 3 {
		return strings.TrimSpace(text)
	}

	// Odd indices are inside a fence; the last segment never is.
	if language != "" {
		for i := 1; i < len(segments)-1; i += 2 {
			if strings.EqualFold(tagLine(segments[i]), language) {
				return stripTag(segments[i])
			}
		}
	}

	if len(segments) == 3 {
		return stripTag(segments[1])
	}
	return strings.TrimSpace(text)
}

var tagPattern = regexp.MustCompile(`^[A-Za-z0-9_+#.-]*$`)

func tagLine(segment string) string {
	first, _, found := strings.Cut(segment, "\n")
	if !found {
		return ""
	}
	return strings.TrimSpace(first)
}

func stripTag(segment string) string {
	first, rest, found := strings.Cut(segment, "\n")
	if found && tagPattern.MatchString(strings.TrimSpace(first)) {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(segment)
}

var (
	timePattern  = regexp.MustCompile(`(?im)time complexity:(.*)$`)
	spacePattern = regexp.MustCompile(`(?im)space complexity:(.*)$`)
)

// Complexity reads the "Time Complexity:" and "Space Complexity:" lines from
// text. A missing line yields NotAvailable.
func Complexity(text string) (timeC, spaceC string) {
	return labelled(timePattern, text), labelled(spacePattern, text)
}

func labelled(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return NotAvailable
	}
	v := strings.Trim(m[1], " \t\r*`")
	if v == "" {
		return NotAvailable
	}
	return v
}

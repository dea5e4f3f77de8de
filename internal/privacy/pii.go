package privacy

import (
	"regexp"
	"strings"
)

// Detection counts matches of one PII pattern.
type Detection struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type pattern struct {
	name string
	re   *regexp.Regexp
}

// Patterns run in order; later patterns see earlier redactions.
var patterns = []pattern{
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)},
	{"phone", regexp.MustCompile(`(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"credit_card", regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`)},
	{"ip_address", regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)},
	{"tc_kimlik", regexp.MustCompile(`\b\d{11}\b`)},
}

// Detect reports which PII patterns occur in text and how often. Each pattern
// is matched against the original text.
func Detect(text string) []Detection {
	var out []Detection
	for _, p := range patterns {
		if n := len(p.re.FindAllStringIndex(text, -1)); n > 0 {
			out = append(out, Detection{Type: p.name, Count: n})
		}
	}
	return out
}

// Redact replaces every PII match with a [REDACTED_<TYPE>] token.
func Redact(text string) string {
	for _, p := range patterns {
		text = p.re.ReplaceAllLiteralString(text, "[REDACTED_"+strings.ToUpper(p.name)+"]")
	}
	return text
}

// Types lists the detected pattern names.
func Types(detections []Detection) []string {
	out := make([]string, 0, len(detections))
	for _, d := range detections {
		out = append(out, d.Type)
	}
	return out
}

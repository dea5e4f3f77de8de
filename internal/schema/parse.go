package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// LegacyFlag is appended to the uncertainty flags of a legacy-format response.
const LegacyFlag = "legacy_response_format"

// Breakdown holds the three role-specific sub-scores.
type Breakdown struct {
	Primary   int `json:"primary"`
	Secondary int `json:"secondary"`
	Tertiary  int `json:"tertiary"`
}

// Response is a validated, clamped provider answer.
type Response struct {
	Score            int
	Confidence       int
	Breakdown        Breakdown
	Pros             []string
	Cons             []string
	Evidence         []string
	Rationale        string
	UncertaintyFlags []string
	Legacy           bool
}

type strictBreakdown struct {
	Primary   *float64 `json:"primary" validate:"required,gte=0,lte=100"`
	Secondary *float64 `json:"secondary" validate:"required,gte=0,lte=100"`
	Tertiary  *float64 `json:"tertiary" validate:"required,gte=0,lte=100"`
}

type strictResponse struct {
	Score            *float64         `json:"score" validate:"required,gte=0,lte=100"`
	Confidence       *float64         `json:"confidence" validate:"required,gte=0,lte=100"`
	ScoreBreakdown   *strictBreakdown `json:"score_breakdown" validate:"required"`
	Pros             []string         `json:"pros" validate:"required,min=1,max=5,dive,min=1,max=200"`
	Cons             []string         `json:"cons" validate:"required,min=1,max=5,dive,min=1,max=200"`
	Evidence         []string         `json:"evidence" validate:"required,min=1,max=3,dive,min=1,max=300"`
	Rationale        *string          `json:"rationale" validate:"required,min=1,max=600"`
	UncertaintyFlags []string         `json:"uncertainty_flags" validate:"required,max=3,dive,max=150"`
}

type legacyResponse struct {
	Score     *float64 `json:"score" validate:"required,gte=0,lte=100"`
	Pros      []string `json:"pros" validate:"required,max=5,dive,min=1,max=200"`
	Cons      []string `json:"cons" validate:"required,max=5,dive,min=1,max=200"`
	Rationale *string  `json:"rationale" validate:"required,min=1,max=600"`
}

var (
	validate     = newValidator()
	strictFields = jsonFields(reflect.TypeOf(strictResponse{}))
	legacyFields = jsonFields(reflect.TypeOf(legacyResponse{}))
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func jsonFields(t reflect.Type) map[string]bool {
	out := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		out[name] = true
	}
	return out
}

// Parse turns raw provider text into a validated Response. The strict schema
// is tried first and the legacy schema second; all scores are clamped.
func Parse(raw string) (Response, error) {
	object, err := extractObject(raw)
	if err != nil {
		return Response{}, err
	}

	strict, strictErr := decodeStrict(object)
	if strictErr == nil {
		return strict, nil
	}
	if legacy, err := decodeLegacy(object); err == nil {
		return legacy, nil
	}
	return Response{}, &SchemaError{Diagnostic: strictErr.Error()}
}

// ClampScore rounds v to the nearest integer and clamps it to [0,100].
// Non-finite input yields 0.
func ClampScore(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	r := math.Round(v)
	switch {
	case r < 0:
		return 0
	case r > 100:
		return 100
	}
	return int(r)
}

// extractObject returns the top-level JSON object in raw, falling back to the
// first balanced {...} block once markdown fences are stripped.
func extractObject(raw string) (map[string]json.RawMessage, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &InvalidFormatError{}
	}

	var direct any
	if err := json.Unmarshal([]byte(trimmed), &direct); err == nil {
		return asObject(trimmed)
	}

	block := firstBalancedObject(stripFences(trimmed))
	if block == "" {
		return nil, &InvalidFormatError{Excerpt: truncate(trimmed, maxExcerpt)}
	}
	if !json.Valid([]byte(block)) {
		return nil, &InvalidFormatError{Excerpt: truncate(block, maxExcerpt)}
	}
	return asObject(block)
}

func asObject(text string) (map[string]json.RawMessage, error) {
	var object map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &object); err != nil || object == nil {
		return nil, &SchemaError{Diagnostic: "expected a JSON object"}
	}
	return object, nil
}

func stripFences(input string) string {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.IndexRune(trimmed, '\n'); idx >= 0 {
			trimmed = trimmed[idx+1:]
		}
	}
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

// firstBalancedObject scans for the first {...} block whose braces balance,
// ignoring braces inside JSON strings.
func firstBalancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(s); i++ {
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
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			return ""
		}
		start += next + 1
	}
	return ""
}

func decodeStrict(object map[string]json.RawMessage) (Response, error) {
	var decoded strictResponse
	if err := decodeInto(object, strictFields, &decoded); err != nil {
		return Response{}, err
	}
	score := ClampScore(*decoded.Score)
	return Response{
		Score:      score,
		Confidence: ClampScore(*decoded.Confidence),
		Breakdown: Breakdown{
			Primary:   ClampScore(*decoded.ScoreBreakdown.Primary),
			Secondary: ClampScore(*decoded.ScoreBreakdown.Secondary),
			Tertiary:  ClampScore(*decoded.ScoreBreakdown.Tertiary),
		},
		Pros:             decoded.Pros,
		Cons:             decoded.Cons,
		Evidence:         decoded.Evidence,
		Rationale:        *decoded.Rationale,
		UncertaintyFlags: decoded.UncertaintyFlags,
	}, nil
}

func decodeLegacy(object map[string]json.RawMessage) (Response, error) {
	var decoded legacyResponse
	if err := decodeInto(object, legacyFields, &decoded); err != nil {
		return Response{}, err
	}
	score := ClampScore(*decoded.Score)
	return Response{
		Score:            score,
		Confidence:       50,
		Breakdown:        Breakdown{Primary: score, Secondary: score, Tertiary: score},
		Pros:             decoded.Pros,
		Cons:             decoded.Cons,
		Evidence:         []string{},
		Rationale:        *decoded.Rationale,
		UncertaintyFlags: []string{LegacyFlag},
		Legacy:           true,
	}, nil
}

// decodeInto rejects keys outside allowed, decodes the object into target
// and runs the struct validation rules.
func decodeInto(object map[string]json.RawMessage, allowed map[string]bool, target any) error {
	var unknown []string
	for key := range object {
		if !allowed[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unrecognized keys: %s", strings.Join(unknown, ", "))
	}

	encoded, err := json.Marshal(object)
	if err != nil {
		return err
	}
	if err := json.NewDecoder(bytes.NewReader(encoded)).Decode(target); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return fmt.Errorf("%s: expected %s, got %s", typeErr.Field, typeErr.Type, typeErr.Value)
		}
		return err
	}
	if err := validate.Struct(target); err != nil {
		return describeValidation(err)
	}
	return nil
}

func describeValidation(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", field, rule))
	}
	return errors.New(strings.Join(parts, "; "))
}

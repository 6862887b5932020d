// Package sanitize turns untrusted request payloads into cleaned, typed field
// values using a declarative per-endpoint schema. Every rule lives in the
// schema data so an endpoint's validation can be audited in one place.
package sanitize

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// Kind is the expected shape of a field.
type Kind string

const (
	KindString Kind = "string"
	KindEmail  Kind = "email"
	KindPhone  Kind = "phone"
	KindNumber Kind = "number"
	KindDate   Kind = "date"
)

// DateLayout is the normalized calendar date format.
const DateLayout = "2006-01-02"

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phoneStrip   = regexp.MustCompile(`[^\d+\-\s()]`)
	strict       = bluemonday.StrictPolicy()

	// now is swapped in tests to pin the date window.
	now = time.Now
)

// Field declares one payload field and its constraints.
type Field struct {
	Name     string
	Label    string
	Kind     Kind
	Required bool

	// MinLen and MaxLen bound the trimmed input length in characters,
	// measured before escaping. The cleaned value may be longer.
	MinLen int
	MaxLen int

	// Min, Max and Integer apply to KindNumber.
	Min     *float64
	Max     *float64
	Integer bool

	// Message overrides the default "is invalid" message.
	Message string
}

// Schema is an ordered list of fields; error reporting follows its order.
type Schema []Field

// Lookup returns the field declared under name.
func (s Schema) Lookup(name string) (Field, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Required returns the names of all required fields.
func (s Schema) Required() []string {
	var names []string
	for _, f := range s {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

// Bound is a helper for declaring numeric limits inline.
func Bound(v float64) *float64 { return &v }

// FieldError describes a single failing field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Values holds cleaned field values. A nil entry means the field was present
// but failed its kind-specific check.
type Values map[string]any

// String returns the cleaned string for key, or "".
func (v Values) String(key string) string {
	s, _ := v[key].(string)
	return s
}

// StringPtr returns nil for absent or blank values.
func (v Values) StringPtr(key string) *string {
	s := v.String(key)
	if s == "" {
		return nil
	}
	return &s
}

// Int returns the cleaned integer for key.
func (v Values) Int(key string) (int64, bool) {
	switch n := v[key].(type) {
	case int64:
		return n, true
	case float64:
		if !fitsInt64(n) || n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

// 2^63 is exact in float64; MaxInt64 is not.
const twoTo63 = float64(1 << 63)

func fitsInt64(n float64) bool {
	return n >= -twoTo63 && n < twoTo63
}

// Clean sanitizes every key in payload. Keys without a schema entry are
// treated as strings, so unknown input is still neutralized.
func Clean(payload map[string]any, schema Schema) Values {
	out := make(Values, len(payload))
	for key, raw := range payload {
		f, ok := schema.Lookup(key)
		if !ok {
			f = Field{Name: key, Kind: KindString}
		}
		out[key] = f.clean(raw)
	}
	return out
}

// Missing returns the required names that are absent, nil, or blank after
// sanitization. An empty result means the set is valid.
func Missing(values Values, required []string) []string {
	missing := []string{}
	for _, name := range required {
		if isBlank(values[name]) {
			missing = append(missing, name)
		}
	}
	return missing
}

// Validate cleans payload against schema and reports every failing field
// rather than stopping at the first.
func Validate(payload map[string]any, schema Schema) (Values, []FieldError) {
	values := Clean(payload, schema)
	var errs []FieldError

	for _, f := range schema {
		raw, present := payload[f.Name]
		if !present || isBlank(raw) {
			if f.Required {
				errs = append(errs, FieldError{Field: f.Name, Message: f.label() + " is required"})
			}
			delete(values, f.Name)
			continue
		}

		if _, isString := raw.(string); !isString && f.Kind != KindNumber {
			errs = append(errs, FieldError{Field: f.Name, Message: f.invalidMessage()})
			continue
		}

		if msg, ok := f.checkLength(raw); !ok {
			errs = append(errs, FieldError{Field: f.Name, Message: msg})
			continue
		}

		cleaned := values[f.Name]
		if cleaned == nil {
			errs = append(errs, FieldError{Field: f.Name, Message: f.invalidMessage()})
			continue
		}
		if f.Required && isBlank(cleaned) {
			errs = append(errs, FieldError{Field: f.Name, Message: f.label() + " is required"})
		}
	}
	return values, errs
}

func (f Field) label() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

func (f Field) invalidMessage() string {
	if f.Message != "" {
		return f.Message
	}
	switch f.Kind {
	case KindEmail:
		return f.label() + " format is invalid"
	case KindDate:
		return f.label() + " must be a valid date in YYYY-MM-DD format"
	case KindNumber:
		switch {
		case f.Min != nil && f.Max != nil:
			return fmt.Sprintf("%s must be between %g and %g", f.label(), *f.Min, *f.Max)
		case f.Integer:
			return f.label() + " must be an integer"
		}
	}
	return f.label() + " is invalid"
}

func (f Field) checkLength(raw any) (string, bool) {
	s, ok := raw.(string)
	if !ok || (f.MinLen == 0 && f.MaxLen == 0) {
		return "", true
	}
	n := utf8.RuneCountInString(strings.TrimSpace(s))
	if (f.MinLen > 0 && n < f.MinLen) || (f.MaxLen > 0 && n > f.MaxLen) {
		if f.MinLen > 0 {
			return fmt.Sprintf("%s must be between %d and %d characters", f.label(), f.MinLen, f.MaxLen), false
		}
		return fmt.Sprintf("%s must be less than %d characters", f.label(), f.MaxLen), false
	}
	return "", true
}

func (f Field) clean(raw any) any {
	switch f.Kind {
	case KindEmail:
		return Email(raw)
	case KindPhone:
		return Phone(raw)
	case KindNumber:
		n, ok := Number(raw, f.Min, f.Max, f.Integer)
		if !ok {
			return nil
		}
		if f.Integer {
			return int64(n)
		}
		return n
	case KindDate:
		d, ok := Date(raw)
		if !ok {
			return nil
		}
		return d
	default:
		return String(raw)
	}
}

// String trims and neutralizes markup. It never rejects; non-string input
// is passed through unchanged.
func String(raw any) any {
	s, ok := raw.(string)
	if !ok {
		return raw
	}
	return strict.Sanitize(strings.TrimSpace(s))
}

// Email returns the trimmed, lowercased address or nil if malformed.
func Email(raw any) any {
	s, ok := raw.(string)
	if !ok {
		return nil
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if !emailPattern.MatchString(s) {
		return nil
	}
	return s
}

// Phone strips everything except digits, '+', '-', spaces and parentheses.
func Phone(raw any) any {
	s, ok := raw.(string)
	if !ok {
		return raw
	}
	return strings.TrimSpace(phoneStrip.ReplaceAllString(s, ""))
}

// Number accepts native numbers and numeric strings within [min,max].
func Number(raw any, min, max *float64, integer bool) (float64, bool) {
	var n float64
	switch v := raw.(type) {
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}

	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	if integer && (n != math.Trunc(n) || !fitsInt64(n)) {
		return 0, false
	}
	if min != nil && n < *min {
		return 0, false
	}
	if max != nil && n > *max {
		return 0, false
	}
	return n, true
}

// Date parses a calendar date and normalizes it to YYYY-MM-DD. Dates more
// than 150 years in the past or 10 years in the future are rejected.
func Date(raw any) (string, bool) {
	s, ok := raw.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	t, err := time.Parse(DateLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return "", false
		}
		t = t.UTC()
	}

	year := now().Year()
	minDate := time.Date(year-150, time.January, 1, 0, 0, 0, 0, time.UTC)
	maxDate := time.Date(year+10, time.December, 31, 0, 0, 0, 0, time.UTC)
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if day.Before(minDate) || day.After(maxDate) {
		return "", false
	}
	return day.Format(DateLayout), true
}

func isBlank(v any) bool {
	switch s := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(s) == ""
	}
	return false
}

package achievement

import (
	"encoding/json"
	"strconv"
	"strings"
)

// EvaluationContext is the per-call bag of facts supplied by the triggering
// action. Getters are lenient about numeric and boolean encodings because
// values arrive from handlers, JSON bodies and CLI flags alike. Keys no
// definition asks for are ignored.
type EvaluationContext map[string]any

// Has reports whether key is present.
func (c EvaluationContext) Has(key string) bool {
	_, ok := c[key]
	return ok
}

// Bool reads key as a boolean. Non-zero numbers and "true"/"1"/"yes" count
// as true.
func (c EvaluationContext) Bool(key string) (bool, bool) {
	v, ok := c[key]
	if !ok || v == nil {
		return false, false
	}
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "on":
			return true, true
		case "false", "0", "no", "off", "":
			return false, true
		}
		return false, false
	}
	if n, ok := toFloat(v); ok {
		return n != 0, true
	}
	return false, false
}

// Truthy is Bool with absence treated as false.
func (c EvaluationContext) Truthy(key string) bool {
	b, _ := c.Bool(key)
	return b
}

// Number reads key as a float64.
func (c EvaluationContext) Number(key string) (float64, bool) {
	v, ok := c[key]
	if !ok || v == nil {
		return 0, false
	}
	return toFloat(v)
}

// String reads key as a string. Numbers are formatted without exponent.
func (c EvaluationContext) String(key string) (string, bool) {
	v, ok := c[key]
	if !ok || v == nil {
		return "", false
	}
	return toString(v)
}

func toString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	}
	return "", false
}

// Strings reads key as a list of strings. A single value yields a
// one-element list; list items convert like String does.
func (c EvaluationContext) Strings(key string) ([]string, bool) {
	v, ok := c[key]
	if !ok || v == nil {
		return nil, false
	}
	switch t := v.(type) {
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := toString(item); ok {
				out = append(out, s)
			}
		}
		return out, true
	}
	if s, ok := c.String(key); ok {
		return []string{s}, true
	}
	return nil, false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

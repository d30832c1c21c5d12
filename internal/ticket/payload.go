package ticket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// decodeObject parses body into a non-empty JSON object. Numbers stay
// json.Number so ticket ids like 42 keep their original spelling.
func decodeObject(body []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	obj, ok := v.(map[string]any)
	if !ok || len(obj) == 0 {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrInvalidPayload)
	}
	return obj, nil
}

// asObject returns v as a non-empty object, or nil.
func asObject(v any) map[string]any {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	return m
}

// scalarString renders strings, numbers and booleans as text. Anything else
// (objects, arrays, null) yields "".
func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

// nameOf reads a field that upstream sends either as a plain string or as
// an object carrying a "name".
func nameOf(v any) string {
	if m, ok := v.(map[string]any); ok {
		return scalarString(m["name"])
	}
	return scalarString(v)
}

// firstScalar returns the first non-empty scalar among keys.
func firstScalar(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := scalarString(obj[k]); s != "" {
			return s
		}
	}
	return ""
}

// firstName is firstScalar for fields that may also be {name} objects.
func firstName(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := nameOf(obj[k]); s != "" {
			return s
		}
	}
	return ""
}

// present reports whether v carries something: a non-empty object, array or scalar.
func present(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case map[string]any:
		return len(x) > 0
	case []any:
		return len(x) > 0
	default:
		return scalarString(v) != ""
	}
}

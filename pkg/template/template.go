// Package template resolves ${path.to.value} references in task inputs
// against workflow context data.
package template

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Resolve substitutes variable references in a task input. String inputs go
// through ResolveString; everything else passes through unchanged.
func Resolve(input any, data map[string]any) any {
	s, ok := input.(string)
	if !ok {
		return input
	}

	return ResolveString(s, data)
}

// ResolveString replaces every ${path.to.value} occurrence in s with the
// string form of the value found by dot-path traversal in data. References
// that cannot be resolved are left verbatim, and resolution never fails:
// malformed or unknown references simply stay in place. Substituted text is
// not rescanned for further references.
func ResolveString(s string, data map[string]any) string {
	if !strings.Contains(s, "${") {
		return s
	}

	var out strings.Builder
	out.Grow(len(s))

	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], "${")
		if idx == -1 {
			out.WriteString(s[i:])
			break
		}

		out.WriteString(s[i : i+idx])

		start := i + idx + 2 // skip "${"

		end := strings.Index(s[start:], "}")
		if end == -1 {
			// Unterminated reference, keep the tail as-is.
			out.WriteString(s[i+idx:])
			break
		}

		end += start
		path := s[start:end]

		val, ok := lookupPath(data, path)
		if ok {
			out.WriteString(Stringify(val))
		} else {
			out.WriteString(s[i+idx : end+1])
		}

		i = end + 1 // skip "}"
	}

	return out.String()
}

// lookupPath walks a dot-delimited path through nested maps. Traversal stops
// with ok=false on a missing key, a nil value, or a non-map intermediate.
func lookupPath(data map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = data

	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			return nil, false
		}

		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[segment]
		if !ok || current == nil {
			return nil, false
		}
	}

	return current, true
}

// Stringify renders a resolved value for embedding into a string. Scalars use
// their fmt form, maps and slices their compact JSON encoding, nil the empty
// string.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}

		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}

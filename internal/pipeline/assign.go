package pipeline

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseAssignments reads the `meta` attribute: comma separated key=value pairs whose
// values are bool, int, float or quoted string literals. Anything else stays a raw string.
func ParseAssignments(raw string) ([]Assignment, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	out := make([]Assignment, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid assignment %q (expected key=value)", part)
		}

		key := strings.TrimSpace(kv[0])
		if key == "" {
			return nil, fmt.Errorf("empty key in assignment %q", part)
		}

		out = append(out, Assignment{Key: key, Value: parseLiteral(kv[1])})
	}

	return out, nil
}

func parseLiteral(s string) any {
	s = strings.TrimSpace(s)

	switch s {
	case "true":
		return true
	case "false":
		return false
	}

	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}

	if len(s) >= 2 && ((s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'')) {
		if s[0] == '\'' {
			s = `"` + s[1:len(s)-1] + `"`
		}
		if unq, err := strconv.Unquote(s); err == nil {
			return unq
		}
	}

	return s
}

func assignmentsMap(as []Assignment) map[string]any {
	if len(as) == 0 {
		return nil
	}
	out := make(map[string]any, len(as))
	for _, a := range as {
		out[a.Key] = a.Value
	}
	return out
}

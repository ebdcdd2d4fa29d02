// ABOUTME: Parser for content-render instruction blocks written as "key: value" lines
// ABOUTME: Handles quoted strings, flow list/object literals, scalars and bullet-list continuation

package render

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Instructions is a parsed instruction block.
type Instructions struct {
	Fields map[string]any
	// Dropped counts lines that had no colon and bullet lines with no list to join.
	// Whether such lines should be an error is undecided, so they are
	// counted for the caller to log instead of silently vanishing.
	Dropped int
}

var decimalRe = regexp.MustCompile(`^[-+]?(\d+\.\d*|\.\d+)$`)

// ParseInstructions parses an instruction block. It never fails: malformed
// literals are kept as strings and unrecognized lines are counted in Dropped.
func ParseInstructions(text string) *Instructions {
	in := &Instructions{Fields: make(map[string]any)}

	listKey := ""
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if item, ok := bulletItem(trimmed); ok {
			if listKey == "" {
				in.Dropped++
				continue
			}
			list, _ := in.Fields[listKey].([]any)
			in.Fields[listKey] = append(list, parseValue(item))
			continue
		}
		listKey = ""

		rawKey, rawValue, ok := strings.Cut(trimmed, ":")
		key := normalizeKey(rawKey)
		if !ok || key == "" {
			in.Dropped++
			continue
		}

		value := strings.TrimSpace(rawValue)
		if value == "" {
			// Stays an empty string unless bullet lines follow.
			in.Fields[key] = ""
			listKey = key
			continue
		}
		in.Fields[key] = parseValue(value)
	}

	return in
}

func bulletItem(line string) (string, bool) {
	for _, prefix := range []string{"- ", "* "} {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(line[len(prefix):]), true
		}
	}
	return "", false
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.Join(strings.Fields(k), "_"))
}

func parseValue(v string) any {
	if len(v) >= 2 {
		first, last := v[0], v[len(v)-1]
		if (first == '"' || first == '\'') && last == first {
			return unquote(v)
		}
		if (first == '[' && last == ']') || (first == '{' && last == '}') {
			var out any
			if err := yaml.Unmarshal([]byte(v), &out); err != nil || out == nil {
				return v
			}
			out = stringKeys(out)
			if _, err := json.Marshal(out); err != nil {
				return v
			}
			return out
		}
	}

	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if decimalRe.MatchString(v) {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return v
}

// unquote strips the quotes from a value that is one quoted string. A value
// like `"a" and "b"` only looks quoted and is kept as written.
func unquote(v string) string {
	inner := v[1 : len(v)-1]
	if v[0] == '\'' {
		// YAML style: a doubled quote is a literal quote.
		if strings.Contains(strings.ReplaceAll(inner, "''", ""), "'") {
			return v
		}
		return strings.ReplaceAll(inner, "''", "'")
	}
	if s, err := strconv.Unquote(v); err == nil {
		return s
	}
	if !strings.Contains(inner, `"`) {
		// Backslashes that are not Go escapes, e.g. a Windows path.
		return inner
	}
	return v
}

// stringKeys rewrites YAML mappings with non-string keys, such as {1: small},
// into map[string]any so the result can be stored as JSON.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = stringKeys(e)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = stringKeys(e)
		}
		return out
	case []any:
		for i, e := range t {
			t[i] = stringKeys(e)
		}
		return t
	default:
		return v
	}
}

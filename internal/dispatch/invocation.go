package dispatch

import (
	"net/url"
	"strings"

	"actionrunner/internal/action"
)

// EmailSentinel in command position 1 runs a trigger sweep instead of a path.
const EmailSentinel = "__email__"

// Alias is a path alias registration carried by a trigger entry.
type Alias struct {
	Alias string `json:"alias"`
	Path  string `json:"path"`
}

// Invocation is one normalized call: logical path, ordered args, channel flag.
type Invocation struct {
	Path   string
	Args   []any
	Direct bool
	// RegisterPath is applied to the registry before a trigger entry runs.
	RegisterPath *Alias
}

// ParseQuery splits a direct-request query into a logical path and arguments.
//
// Terms are split on "&" and then on the first "=". The "action" term names
// the path; other key=value terms become action.Param in original order and
// bare terms become plain strings. Keys are used verbatim. Values are
// URL-unescaped, falling back to the raw text when unescaping fails.
func ParseQuery(raw string) (path string, args []any) {
	raw = strings.TrimPrefix(raw, "?")
	if raw == "" {
		return "", nil
	}
	for _, term := range strings.Split(raw, "&") {
		if term == "" {
			continue
		}
		key, value, hasValue := strings.Cut(term, "=")
		if !hasValue {
			args = append(args, unescape(key))
			continue
		}
		value = unescape(value)
		if key == "action" && path == "" {
			path = value
			continue
		}
		args = append(args, action.Param{Name: key, Value: value})
	}
	return path, args
}

func unescape(s string) string {
	v, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return v
}

// Query returns a direct-request invocation parsed from raw.
func Query(raw string) Invocation {
	path, args := ParseQuery(raw)
	return Invocation{Path: path, Args: args, Direct: true}
}

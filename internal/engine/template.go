package engine

import (
	"fmt"
	"regexp"
)

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_]+(?:\.[a-zA-Z0-9_]+)*)\}`)

// InterpolateString replaces each {dotted.path} placeholder with the resolved
// context value. Placeholders that do not resolve are left verbatim so a bad
// template degrades visibly instead of erroring.
func InterpolateString(template string, root map[string]any) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		path := match[1 : len(match)-1]
		value, ok := Resolve(path, root)
		if !ok {
			return match
		}
		return fmt.Sprint(value)
	})
}

// Interpolate applies InterpolateString recursively through maps and slices,
// leaving non-string leaves unchanged.
func Interpolate(value any, root map[string]any) any {
	switch v := value.(type) {
	case string:
		return InterpolateString(v, root)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = Interpolate(item, root)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Interpolate(item, root)
		}
		return out
	default:
		return value
	}
}

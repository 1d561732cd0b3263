package engine

import "strings"

// Resolve walks a dotted field path ("task.status", "context.days_overdue")
// through nested maps. The second return is false on any missing segment;
// absence is a value here, not an error.
func Resolve(path string, root map[string]any) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = root
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

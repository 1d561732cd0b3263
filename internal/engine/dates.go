package engine

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var relativeDateRe = regexp.MustCompile(`^\+(\d+)\s*(day|days|week|weeks|month|months)$`)

// ResolveDueDate turns a date spec into an RFC3339 timestamp. Relative
// directives ("+3 days", "+2 weeks", "+1 month") offset from now; absolute
// dates pass through normalized. Anything unparseable yields nil.
func ResolveDueDate(spec string, now time.Time) *string {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}
	if m := relativeDateRe.FindStringSubmatch(strings.ToLower(spec)); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return nil
		}
		var due time.Time
		switch strings.TrimSuffix(m[2], "s") {
		case "day":
			due = now.AddDate(0, 0, n)
		case "week":
			due = now.AddDate(0, 0, 7*n)
		case "month":
			due = now.AddDate(0, n, 0)
		}
		s := due.UTC().Format(time.RFC3339)
		return &s
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, spec); err == nil {
			s := t.UTC().Format(time.RFC3339)
			return &s
		}
	}
	return nil
}

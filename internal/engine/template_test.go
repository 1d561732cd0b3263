package engine_test

import (
	"reflect"
	"testing"
	"time"

	"taskpilot/internal/engine"
)

func templateRoot() map[string]any {
	return map[string]any{
		"task": map[string]any{
			"title":    "Send invoice",
			"priority": "high",
		},
		"context": map[string]any{
			"event": "task_completed",
		},
	}
}

func TestInterpolateString(t *testing.T) {
	root := templateRoot()
	cases := []struct {
		in   string
		want string
	}{
		{"Follow up on {task.title}", "Follow up on Send invoice"},
		{"{task.priority} priority via {context.event}", "high priority via task_completed"},
		{"{task.missing} stays put", "{task.missing} stays put"},
		{"no placeholders here", "no placeholders here"},
		{"{not a placeholder}", "{not a placeholder}"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := engine.InterpolateString(tc.in, root); got != tc.want {
			t.Fatalf("InterpolateString(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestInterpolateIdempotentWithoutPlaceholders(t *testing.T) {
	root := templateRoot()
	in := "Done: Send invoice (high)"
	once := engine.InterpolateString(in, root)
	twice := engine.InterpolateString(once, root)
	if once != in || twice != once {
		t.Fatalf("expected stable output, got %q then %q", once, twice)
	}
}

func TestInterpolateRecursesParams(t *testing.T) {
	root := templateRoot()
	params := map[string]any{
		"title": "Review {task.title}",
		"subtasks": []any{
			map[string]any{"title": "Check {task.priority}"},
		},
		"count": float64(2),
	}
	out, ok := engine.Interpolate(params, root).(map[string]any)
	if !ok {
		t.Fatalf("expected map result")
	}
	want := map[string]any{
		"title": "Review Send invoice",
		"subtasks": []any{
			map[string]any{"title": "Check high"},
		},
		"count": float64(2),
	}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("got %#v, want %#v", out, want)
	}
	// The input map is left untouched.
	if params["title"] != "Review {task.title}" {
		t.Fatalf("input mutated: %v", params["title"])
	}
}

func TestResolveDueDate(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		spec string
		want string
	}{
		{"+3 days", "2024-01-18T10:00:00Z"},
		{"+1 day", "2024-01-16T10:00:00Z"},
		{"+2 weeks", "2024-01-29T10:00:00Z"},
		{"+1 month", "2024-02-15T10:00:00Z"},
		{"+2Weeks", "2024-01-29T10:00:00Z"},
		{"2024-03-01", "2024-03-01T00:00:00Z"},
		{"2024-03-01T09:30:00Z", "2024-03-01T09:30:00Z"},
		{"2024-03-01T09:30:00", "2024-03-01T09:30:00Z"},
	}
	for _, tc := range cases {
		got := engine.ResolveDueDate(tc.spec, now)
		if got == nil || *got != tc.want {
			t.Fatalf("ResolveDueDate(%q) = %v, want %s", tc.spec, got, tc.want)
		}
	}
	for _, bad := range []string{"", "someday", "+x days", "-3 days", "+3 hours", "3 days"} {
		if got := engine.ResolveDueDate(bad, now); got != nil {
			t.Fatalf("ResolveDueDate(%q) = %v, want nil", bad, *got)
		}
	}
}

func TestRelativeDatesMonotonic(t *testing.T) {
	now := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	day := engine.ResolveDueDate("+1 day", now)
	week := engine.ResolveDueDate("+1 week", now)
	month := engine.ResolveDueDate("+1 month", now)
	if day == nil || week == nil || month == nil {
		t.Fatalf("expected all specs to resolve")
	}
	if !(*day < *week && *week < *month) {
		t.Fatalf("expected day < week < month, got %s %s %s", *day, *week, *month)
	}
}

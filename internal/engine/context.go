package engine

import (
	"encoding/json"
	"time"

	"taskpilot/internal/domain"
)

// TriggerContext is the evaluation input for one orchestration run: the
// event, the task snapshot, and whatever the trigger path knows besides.
type TriggerContext struct {
	Event        string
	Task         domain.Task
	PreviousTask *domain.Task
	TimeEntry    *domain.TimeEntry
	Metadata     map[string]any
}

// buildRoot flattens the trigger context into the composite map the path
// resolver, condition evaluator and template interpolator all walk. Roots:
// task, previous, time_entry, context.
func (tc TriggerContext) buildRoot(now time.Time) map[string]any {
	root := map[string]any{
		"task": toMap(tc.Task),
	}
	if tc.PreviousTask != nil {
		root["previous"] = toMap(*tc.PreviousTask)
	}
	if tc.TimeEntry != nil {
		root["time_entry"] = toMap(*tc.TimeEntry)
	}
	ctx := map[string]any{"event": tc.Event}
	if tc.Task.DueDate != nil {
		if due, err := time.Parse(time.RFC3339, *tc.Task.DueDate); err == nil {
			if days := daysBetween(due, now); days > 0 {
				ctx["days_overdue"] = float64(days)
			} else {
				ctx["days_until_due"] = float64(-days)
			}
		}
	}
	for k, v := range tc.Metadata {
		ctx[k] = v
	}
	root["context"] = ctx
	return root
}

// daysBetween returns whole days from due to now, positive when due is past.
func daysBetween(due, now time.Time) int {
	return int(now.Sub(due).Hours() / 24)
}

// toMap round-trips a domain struct through JSON so path resolution sees the
// same field names and value types rule authors write in conditions.
func toMap(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{}
	}
	return m
}

package engine

import (
	"fmt"

	"taskpilot/internal/domain"
)

// ValidationResult reports structural errors and semantic warnings for a rule
// definition. Warnings do not block saving or execution.
type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Validate structurally checks a rule definition. It is pure: no repository
// access, no side effects, safe to call from a dry-run flow.
func Validate(rule domain.AutomationRule) ValidationResult {
	var res ValidationResult
	if rule.Name == "" {
		res.Errors = append(res.Errors, "name is required")
	}
	if !domain.ValidTrigger(rule.Trigger) {
		res.Errors = append(res.Errors, fmt.Sprintf("unknown trigger %q", rule.Trigger))
	}
	if len(rule.Actions) == 0 {
		res.Errors = append(res.Errors, "at least one action is required")
	}
	for i, action := range rule.Actions {
		for _, msg := range validateAction(action) {
			res.Errors = append(res.Errors, fmt.Sprintf("action %d: %s", i+1, msg))
		}
	}
	for path, spec := range rule.Conditions {
		if path == "" {
			res.Errors = append(res.Errors, "condition with empty field path")
			continue
		}
		if obj, ok := spec.(map[string]any); ok {
			for op := range obj {
				if !conditionOperators[op] {
					res.Errors = append(res.Errors, fmt.Sprintf("condition %s: unknown operator %q", path, op))
				}
			}
		}
	}
	if rule.Trigger == domain.TriggerStatusChanged {
		for _, action := range rule.Actions {
			if action.Type == domain.ActionUpdateStatus {
				res.Warnings = append(res.Warnings,
					"a status_changed trigger with an update_status action can re-trigger itself; add conditions to break the loop")
				break
			}
		}
	}
	res.IsValid = len(res.Errors) == 0
	return res
}

func validateAction(action domain.Action) []string {
	if !domain.ValidActionType(action.Type) {
		return []string{fmt.Sprintf("unknown action type %q", action.Type)}
	}
	var msgs []string
	requireParam := func(key string) {
		if paramString(action.Parameters, key) == "" {
			msgs = append(msgs, fmt.Sprintf("%s requires parameter %s", action.Type, key))
		}
	}
	switch action.Type {
	case domain.ActionCreateTask:
		requireParam("title")
	case domain.ActionUpdateStatus:
		if s := paramString(action.Parameters, "status"); !domain.ValidStatus(s) {
			msgs = append(msgs, fmt.Sprintf("update_status requires a status from %v", domain.TaskStatuses))
		}
	case domain.ActionUpdatePriority:
		if p := paramString(action.Parameters, "priority"); !domain.ValidPriority(p) {
			msgs = append(msgs, fmt.Sprintf("update_priority requires a priority from %v", domain.TaskPriorities))
		}
	case domain.ActionSendNotification:
		requireParam("message")
	case domain.ActionAssignUser:
		requireParam("user_id")
	case domain.ActionReschedule:
		requireParam("due_date")
	case domain.ActionAddDependency:
		requireParam("depends_on_task_id")
	case domain.ActionCreateSubtasks:
		list, ok := action.Parameters["subtasks"].([]any)
		if !ok || len(list) == 0 {
			msgs = append(msgs, "create_subtasks requires a non-empty subtask list")
			break
		}
		for i, raw := range list {
			sub, ok := raw.(map[string]any)
			if !ok || paramString(sub, "title") == "" {
				msgs = append(msgs, fmt.Sprintf("create_subtasks: subtask %d needs a title", i+1))
			}
		}
	case domain.ActionUpdateRelatedTasks:
		requireParam("field")
		if _, ok := action.Parameters["value"]; !ok {
			msgs = append(msgs, "update_related_tasks requires parameter value")
		}
	case domain.ActionLogActivity:
		requireParam("description")
	case domain.ActionUpdateEstimates:
		if action.Parameters["estimated_minutes"] == nil && action.Parameters["adjustment_percent"] == nil {
			msgs = append(msgs, "update_estimates requires estimated_minutes or adjustment_percent")
		}
	}
	return msgs
}

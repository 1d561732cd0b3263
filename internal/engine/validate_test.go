package engine_test

import (
	"strings"
	"testing"

	"taskpilot/internal/domain"
	"taskpilot/internal/engine"
)

func validRule() domain.AutomationRule {
	return domain.AutomationRule{
		Name:    "notify on completion",
		Trigger: domain.TriggerTaskCompleted,
		Actions: []domain.Action{{
			Type:       domain.ActionSendNotification,
			Parameters: map[string]any{"message": "{task.title} is done"},
		}},
	}
}

func hasError(res engine.ValidationResult, substr string) bool {
	for _, msg := range res.Errors {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

func TestValidateAcceptsWellFormedRule(t *testing.T) {
	res := engine.Validate(validRule())
	if !res.IsValid || len(res.Errors) != 0 {
		t.Fatalf("expected valid, got %+v", res)
	}
}

func TestValidateRequiredFields(t *testing.T) {
	rule := domain.AutomationRule{Trigger: "made_up"}
	res := engine.Validate(rule)
	if res.IsValid {
		t.Fatalf("expected invalid")
	}
	if !hasError(res, "name is required") {
		t.Fatalf("missing name error: %v", res.Errors)
	}
	if !hasError(res, `unknown trigger "made_up"`) {
		t.Fatalf("missing trigger error: %v", res.Errors)
	}
	if !hasError(res, "at least one action is required") {
		t.Fatalf("missing action-count error: %v", res.Errors)
	}
}

func TestValidateActionParameters(t *testing.T) {
	cases := []struct {
		name   string
		action domain.Action
		substr string
	}{
		{"unknown type", domain.Action{Type: "explode"}, `unknown action type "explode"`},
		{"create_task missing title", domain.Action{Type: domain.ActionCreateTask}, "requires parameter title"},
		{"update_status bad status", domain.Action{Type: domain.ActionUpdateStatus, Parameters: map[string]any{"status": "finished"}}, "update_status requires a status"},
		{"update_priority bad priority", domain.Action{Type: domain.ActionUpdatePriority, Parameters: map[string]any{"priority": "top"}}, "update_priority requires a priority"},
		{"send_notification missing message", domain.Action{Type: domain.ActionSendNotification}, "requires parameter message"},
		{"assign_user missing user", domain.Action{Type: domain.ActionAssignUser}, "requires parameter user_id"},
		{"reschedule missing date", domain.Action{Type: domain.ActionReschedule}, "requires parameter due_date"},
		{"add_dependency missing target", domain.Action{Type: domain.ActionAddDependency}, "requires parameter depends_on_task_id"},
		{"create_subtasks empty", domain.Action{Type: domain.ActionCreateSubtasks, Parameters: map[string]any{"subtasks": []any{}}}, "non-empty subtask list"},
		{"create_subtasks untitled", domain.Action{Type: domain.ActionCreateSubtasks, Parameters: map[string]any{"subtasks": []any{map[string]any{}}}}, "subtask 1 needs a title"},
		{"update_related_tasks missing value", domain.Action{Type: domain.ActionUpdateRelatedTasks, Parameters: map[string]any{"field": "status"}}, "requires parameter value"},
		{"log_activity missing description", domain.Action{Type: domain.ActionLogActivity}, "requires parameter description"},
		{"update_estimates missing both", domain.Action{Type: domain.ActionUpdateEstimates}, "estimated_minutes or adjustment_percent"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule := validRule()
			rule.Actions = []domain.Action{tc.action}
			res := engine.Validate(rule)
			if res.IsValid {
				t.Fatalf("expected invalid")
			}
			if !hasError(res, tc.substr) {
				t.Fatalf("expected error containing %q, got %v", tc.substr, res.Errors)
			}
		})
	}
}

func TestValidateConditionOperators(t *testing.T) {
	rule := validRule()
	rule.Conditions = map[string]any{
		"task.priority": map[string]any{"~=": "high"},
	}
	res := engine.Validate(rule)
	if res.IsValid || !hasError(res, `unknown operator "~="`) {
		t.Fatalf("expected operator error, got %+v", res)
	}
}

func TestValidateWarnsOnStatusLoop(t *testing.T) {
	rule := domain.AutomationRule{
		Name:    "loopy",
		Trigger: domain.TriggerStatusChanged,
		Actions: []domain.Action{{
			Type:       domain.ActionUpdateStatus,
			Parameters: map[string]any{"status": "in_progress"},
		}},
	}
	res := engine.Validate(rule)
	if !res.IsValid {
		t.Fatalf("warnings must not invalidate: %+v", res)
	}
	if len(res.Warnings) == 0 || !strings.Contains(res.Warnings[0], "re-trigger") {
		t.Fatalf("expected loop warning, got %v", res.Warnings)
	}
}

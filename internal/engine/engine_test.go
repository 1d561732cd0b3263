package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"taskpilot/internal/config"
	"taskpilot/internal/db"
	"taskpilot/internal/domain"
	"taskpilot/internal/engine"
	"taskpilot/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) mustCreateTask(t *testing.T, opts engine.TaskCreateOptions) domain.Task {
	t.Helper()
	if opts.UserID == "" {
		opts.UserID = "tester"
	}
	task, err := env.Engine.CreateTask(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (env testEnv) mustCreateRule(t *testing.T, rule domain.AutomationRule) domain.AutomationRule {
	t.Helper()
	if rule.UserID == "" {
		rule.UserID = "tester"
	}
	rule.IsActive = true
	created, _, err := env.Engine.CreateRule(env.Ctx, rule)
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return created
}

func (env testEnv) executionCount(t *testing.T) int {
	t.Helper()
	var count int
	row := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT count(*) FROM rule_executions`)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count executions: %v", err)
	}
	return count
}

func TestCompletionCreatesFollowUp(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateRule(t, domain.AutomationRule{
		Name:    "follow up on done work",
		Trigger: domain.TriggerTaskCompleted,
		Actions: []domain.Action{{
			Type: domain.ActionCreateFollowUp,
			Parameters: map[string]any{
				"title":    "Review {task.title}",
				"due_date": "+3 days",
			},
		}},
	})
	task := env.mustCreateTask(t, engine.TaskCreateOptions{Title: "Ship feature", Priority: "high"})

	_, records, err := env.Engine.SetTaskStatus(env.Ctx, task.ID, "completed")
	if err != nil {
		t.Fatalf("complete task: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 execution record, got %d", len(records))
	}
	rec := records[0]
	if rec.Status != domain.ExecutionSuccess {
		t.Fatalf("expected success, got %s (%s)", rec.Status, rec.ErrorMessage)
	}
	createdID, _ := rec.ExecutedActions[0].Result["created_task_id"].(string)
	if createdID == "" {
		t.Fatalf("expected created_task_id in result: %v", rec.ExecutedActions[0].Result)
	}
	followUp, err := env.Engine.Tasks.GetTask(env.Ctx, createdID)
	if err != nil {
		t.Fatalf("get follow-up: %v", err)
	}
	if followUp.Title != "Review Ship feature" {
		t.Fatalf("expected interpolated title, got %q", followUp.Title)
	}
	if followUp.DueDate == nil || *followUp.DueDate != "2024-01-04T00:00:00Z" {
		t.Fatalf("expected due 2024-01-04, got %v", followUp.DueDate)
	}
	if !followUp.AIGenerated || followUp.Priority != "high" {
		t.Fatalf("expected generated follow-up inheriting priority, got %+v", followUp)
	}
}

func TestUnmatchedConditionsExecuteNothing(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateRule(t, domain.AutomationRule{
		Name:       "urgent only",
		Trigger:    domain.TriggerTaskCompleted,
		Conditions: map[string]any{"task.priority": "urgent"},
		Actions:    []domain.Action{{Type: domain.ActionUpdatePriority, Parameters: map[string]any{"priority": "low"}}},
	})
	task := env.mustCreateTask(t, engine.TaskCreateOptions{Title: "Routine", Priority: "medium"})

	_, records, err := env.Engine.SetTaskStatus(env.Ctx, task.ID, "completed")
	if err != nil {
		t.Fatalf("complete task: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
	if n := env.executionCount(t); n != 0 {
		t.Fatalf("expected empty execution log, got %d rows", n)
	}
}

func TestOverdueEscalatesPriority(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateRule(t, domain.AutomationRule{
		Name:       "escalate overdue",
		Trigger:    domain.TriggerTaskOverdue,
		Conditions: map[string]any{"task.priority": map[string]any{"!=": "urgent"}},
		Actions:    []domain.Action{{Type: domain.ActionUpdatePriority, Parameters: map[string]any{"priority": "urgent"}}},
	})
	task := env.mustCreateTask(t, engine.TaskCreateOptions{Title: "Late", Priority: "medium", DueDate: "2023-12-25"})

	records, err := env.Engine.HandleEvent(env.Ctx, engine.TriggerContext{
		Event: domain.TriggerTaskOverdue,
		Task:  task,
	})
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(records) != 1 || records[0].Status != domain.ExecutionSuccess {
		t.Fatalf("expected one successful record, got %+v", records)
	}
	if got := records[0].ExecutedActions[0].Result["new_priority"]; got != "urgent" {
		t.Fatalf("expected new_priority urgent, got %v", got)
	}
	updated, err := env.Engine.Tasks.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if updated.Priority != "urgent" {
		t.Fatalf("expected urgent priority, got %s", updated.Priority)
	}
}

func TestPartialStatusWhenOneActionFails(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateRule(t, domain.AutomationRule{
		Name:    "mixed outcome",
		Trigger: domain.TriggerTaskCompleted,
		Actions: []domain.Action{
			{Type: domain.ActionLogActivity, Parameters: map[string]any{"description": "done: {task.title}"}},
			{Type: domain.ActionAddDependency, Parameters: map[string]any{"depends_on_task_id": "no-such-task"}},
		},
	})
	task := env.mustCreateTask(t, engine.TaskCreateOptions{Title: "Half"})

	_, records, err := env.Engine.SetTaskStatus(env.Ctx, task.ID, "completed")
	if err != nil {
		t.Fatalf("complete task: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.Status != domain.ExecutionPartial {
		t.Fatalf("expected partial, got %s", rec.Status)
	}
	if len(rec.ExecutedActions) != 2 {
		t.Fatalf("expected both actions recorded, got %d", len(rec.ExecutedActions))
	}
	if rec.ExecutedActions[0].Error != "" {
		t.Fatalf("first action should succeed: %s", rec.ExecutedActions[0].Error)
	}
	if rec.ExecutedActions[1].Error == "" {
		t.Fatalf("second action should carry its error")
	}
}

func TestChangedToCondition(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateRule(t, domain.AutomationRule{
		Name:       "started work",
		Trigger:    domain.TriggerStatusChanged,
		Conditions: map[string]any{"task.status": map[string]any{"changed_to": "in_progress"}},
		Actions:    []domain.Action{{Type: domain.ActionLogActivity, Parameters: map[string]any{"description": "started"}}},
	})
	task := env.mustCreateTask(t, engine.TaskCreateOptions{Title: "Track starts"})

	_, records, err := env.Engine.SetTaskStatus(env.Ctx, task.ID, "in_progress")
	if err != nil {
		t.Fatalf("to in_progress: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected a record on pending -> in_progress, got %d", len(records))
	}
	// A later transition to completed is still a status change, but not to
	// in_progress, so the rule stays quiet.
	_, records, err = env.Engine.SetTaskStatus(env.Ctx, task.ID, "completed")
	if err != nil {
		t.Fatalf("to completed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records on -> completed, got %d", len(records))
	}
}

func TestScheduledScanDedup(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateRule(t, domain.AutomationRule{
		Name:    "nag about overdue",
		Trigger: domain.TriggerTaskOverdue,
		Actions: []domain.Action{{Type: domain.ActionSendNotification, Parameters: map[string]any{"message": "{task.title} is overdue"}}},
	})
	env.mustCreateTask(t, engine.TaskCreateOptions{Title: "Slipped", DueDate: "2023-12-20"})

	first, err := env.Engine.RunScheduledScan(env.Ctx)
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if first.UsersScanned != 1 || first.RecordsWritten != 1 {
		t.Fatalf("expected one user and one record, got %+v", first)
	}
	// Same rule, task and day: the dedup key blocks a second execution.
	second, err := env.Engine.RunScheduledScan(env.Ctx)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if second.RecordsWritten != 0 {
		t.Fatalf("expected dedup to suppress records, got %d", second.RecordsWritten)
	}
	if n := env.executionCount(t); n != 1 {
		t.Fatalf("expected a single stored execution, got %d", n)
	}

	// Next day the window rolls over and the rule fires again.
	env.Engine.Now = func() time.Time { return time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC) }
	third, err := env.Engine.RunScheduledScan(env.Ctx)
	if err != nil {
		t.Fatalf("third scan: %v", err)
	}
	if third.RecordsWritten != 1 {
		t.Fatalf("expected a new record on the next day, got %d", third.RecordsWritten)
	}
}

func TestDueSoonScanUsesLookahead(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateRule(t, domain.AutomationRule{
		Name:    "heads up",
		Trigger: domain.TriggerDueDateApproaching,
		Actions: []domain.Action{{Type: domain.ActionSendNotification, Parameters: map[string]any{"message": "due soon: {task.title}"}}},
	})
	env.mustCreateTask(t, engine.TaskCreateOptions{Title: "Inside window", DueDate: "2024-01-02"})
	env.mustCreateTask(t, engine.TaskCreateOptions{Title: "Outside window", DueDate: "2024-02-01"})

	summary, err := env.Engine.RunScheduledScan(env.Ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if summary.RecordsWritten != 1 {
		t.Fatalf("expected only the task inside the look-ahead window, got %d records", summary.RecordsWritten)
	}
}

func TestSubtasksInheritParent(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateRule(t, domain.AutomationRule{
		Name:    "break down deliveries",
		Trigger: domain.TriggerTaskCompleted,
		Actions: []domain.Action{{
			Type: domain.ActionCreateSubtasks,
			Parameters: map[string]any{
				"subtasks": []any{
					map[string]any{"title": "Invoice {task.title}"},
					map[string]any{"title": "Archive notes", "priority": "low"},
				},
			},
		}},
	})
	task := env.mustCreateTask(t, engine.TaskCreateOptions{Title: "Delivery", Tag: "client-work", ClientID: "client-9"})

	_, records, err := env.Engine.SetTaskStatus(env.Ctx, task.ID, "completed")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(records) != 1 || records[0].Status != domain.ExecutionSuccess {
		t.Fatalf("expected success, got %+v", records)
	}
	ids, _ := records[0].ExecutedActions[0].Result["created_subtask_ids"].([]string)
	if len(ids) != 2 {
		t.Fatalf("expected two subtasks, got %v", records[0].ExecutedActions[0].Result)
	}
	first, err := env.Engine.Tasks.GetTask(env.Ctx, ids[0])
	if err != nil {
		t.Fatalf("get subtask: %v", err)
	}
	if first.ParentID == nil || *first.ParentID != task.ID {
		t.Fatalf("expected parent link, got %+v", first.ParentID)
	}
	if first.Tag == nil || *first.Tag != "client-work" {
		t.Fatalf("expected inherited tag, got %v", first.Tag)
	}
	if first.ClientID == nil || *first.ClientID != "client-9" {
		t.Fatalf("expected inherited client, got %v", first.ClientID)
	}
	if first.Title != "Invoice Delivery" {
		t.Fatalf("expected interpolated subtask title, got %q", first.Title)
	}
}

func TestUpdateDependenciesAutoStart(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateRule(t, domain.AutomationRule{
		Name:    "unblock dependents",
		Trigger: domain.TriggerTaskCompleted,
		Actions: []domain.Action{{Type: domain.ActionUpdateDependencies, Parameters: map[string]any{"auto_start": true}}},
	})
	blocker := env.mustCreateTask(t, engine.TaskCreateOptions{Title: "Blocker"})
	waiting := env.mustCreateTask(t, engine.TaskCreateOptions{Title: "Waiting"})
	if _, err := env.Engine.Tasks.CreateDependency(env.Ctx, waiting.ID, blocker.ID); err != nil {
		t.Fatalf("create dependency: %v", err)
	}

	_, records, err := env.Engine.SetTaskStatus(env.Ctx, blocker.ID, "completed")
	if err != nil {
		t.Fatalf("complete blocker: %v", err)
	}
	if len(records) != 1 || records[0].Status != domain.ExecutionSuccess {
		t.Fatalf("expected success, got %+v", records)
	}
	started, err := env.Engine.Tasks.GetTask(env.Ctx, waiting.ID)
	if err != nil {
		t.Fatalf("get dependent: %v", err)
	}
	if started.Status != "in_progress" {
		t.Fatalf("expected dependent auto-started, got %s", started.Status)
	}
}

func TestDryRunExecutesNoActions(t *testing.T) {
	env := newTestEnv(t)
	rule := env.mustCreateRule(t, domain.AutomationRule{
		Name:       "high only",
		Trigger:    domain.TriggerTaskCompleted,
		Conditions: map[string]any{"task.priority": map[string]any{"in": []any{"high", "urgent"}}},
		Actions:    []domain.Action{{Type: domain.ActionUpdatePriority, Parameters: map[string]any{"priority": "low"}}},
	})
	matching := env.mustCreateTask(t, engine.TaskCreateOptions{Title: "Hot", Priority: "high"})
	other := env.mustCreateTask(t, engine.TaskCreateOptions{Title: "Cold", Priority: "low"})

	report, err := env.Engine.TestRule(env.Ctx, rule, matching.ID)
	if err != nil {
		t.Fatalf("test rule: %v", err)
	}
	if !report.Validation.IsValid || !report.Matched {
		t.Fatalf("expected valid + matched, got %+v", report)
	}
	report, err = env.Engine.TestRule(env.Ctx, rule, other.ID)
	if err != nil {
		t.Fatalf("test rule: %v", err)
	}
	if report.Matched {
		t.Fatalf("expected no match for low priority task")
	}
	// Dry runs never write records or touch the task.
	if n := env.executionCount(t); n != 0 {
		t.Fatalf("expected no executions, got %d", n)
	}
	unchanged, _ := env.Engine.Tasks.GetTask(env.Ctx, matching.ID)
	if unchanged.Priority != "high" {
		t.Fatalf("dry run must not mutate the task, got %s", unchanged.Priority)
	}
}

func TestCreateRuleRejectsMissingActions(t *testing.T) {
	env := newTestEnv(t)
	_, res, err := env.Engine.CreateRule(env.Ctx, domain.AutomationRule{
		UserID:  "tester",
		Name:    "empty",
		Trigger: domain.TriggerTaskCompleted,
	})
	if err == nil {
		t.Fatalf("expected rejection")
	}
	found := false
	for _, msg := range res.Errors {
		if msg == "at least one action is required" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected action-count error, got %v", res.Errors)
	}
	var ve engine.RuleValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected RuleValidationError, got %T", err)
	}
	if !strings.Contains(ve.Error(), "at least one action") {
		t.Fatalf("unexpected message: %s", ve.Error())
	}
}

func TestRuleExecutionStats(t *testing.T) {
	env := newTestEnv(t)
	rule := env.mustCreateRule(t, domain.AutomationRule{
		Name:    "count me",
		Trigger: domain.TriggerTaskCompleted,
		Actions: []domain.Action{{Type: domain.ActionLogActivity, Parameters: map[string]any{"description": "fired"}}},
	})
	for _, title := range []string{"one", "two"} {
		task := env.mustCreateTask(t, engine.TaskCreateOptions{Title: title})
		if _, _, err := env.Engine.SetTaskStatus(env.Ctx, task.ID, "completed"); err != nil {
			t.Fatalf("complete %s: %v", title, err)
		}
	}
	stored, err := env.Engine.Repo.GetRule(env.Ctx, rule.ID)
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if stored.ExecutionCount != 2 {
		t.Fatalf("expected execution_count 2, got %d", stored.ExecutionCount)
	}
	if stored.LastExecuted == nil || *stored.LastExecuted == "" {
		t.Fatalf("expected last_executed set")
	}
}

package engine

import (
	"context"
	"fmt"
	"time"

	"taskpilot/internal/domain"
)

// Event-driven entry points. The host application calls these synchronously
// when it observes a task event; each builds a TriggerContext and hands it to
// the orchestrator.

// FireTaskCompleted runs task_completed rules for a just-completed task.
func (e Engine) FireTaskCompleted(ctx context.Context, task domain.Task, previous *domain.Task) ([]domain.ExecutionRecord, error) {
	return e.HandleEvent(ctx, TriggerContext{
		Event:        domain.TriggerTaskCompleted,
		Task:         task,
		PreviousTask: previous,
	})
}

// FireStatusChanged runs status_changed rules with the pre-change snapshot
// available to changed_to / changed_from conditions.
func (e Engine) FireStatusChanged(ctx context.Context, task domain.Task, previous *domain.Task) ([]domain.ExecutionRecord, error) {
	return e.HandleEvent(ctx, TriggerContext{
		Event:        domain.TriggerStatusChanged,
		Task:         task,
		PreviousTask: previous,
	})
}

// FireTimeTracked runs time_tracked rules for a logged time entry.
func (e Engine) FireTimeTracked(ctx context.Context, task domain.Task, entry domain.TimeEntry) ([]domain.ExecutionRecord, error) {
	return e.HandleEvent(ctx, TriggerContext{
		Event:     domain.TriggerTimeTracked,
		Task:      task,
		TimeEntry: &entry,
	})
}

// ScanSummary reports one time-driven scan pass.
type ScanSummary struct {
	UsersScanned   int `json:"users_scanned"`
	TasksScanned   int `json:"tasks_scanned"`
	RecordsWritten int `json:"records_written"`
}

// RunScheduledScan is the time-driven path: for every user with an active
// task_overdue or due_date_approaching rule, find tasks past due or inside
// the look-ahead window and run the orchestrator once per task. Users are
// iterated sequentially and per-invocation batch caps keep repository load
// bounded; re-running inside the same window is safe thanks to the execution
// dedup key.
func (e Engine) RunScheduledScan(ctx context.Context) (ScanSummary, error) {
	var summary ScanSummary
	users, err := e.Rules.ListUsersWithActiveTriggers(ctx,
		[]string{domain.TriggerTaskOverdue, domain.TriggerDueDateApproaching},
		e.Config.Scan.MaxUsersPerScan)
	if err != nil {
		return summary, fmt.Errorf("list users with scheduled rules: %w", err)
	}
	now := e.now()
	lookahead := time.Duration(e.Config.Scan.LookaheadDays) * 24 * time.Hour
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.UsersScanned++

		overdue, err := e.Tasks.QueryOverdueTasks(ctx, userID, now, e.Config.Scan.MaxTasksPerUser)
		if err != nil {
			e.log().Error("scan overdue tasks", "user_id", userID, "error", err)
			continue
		}
		for _, task := range overdue {
			summary.TasksScanned++
			records, err := e.HandleEvent(ctx, TriggerContext{Event: domain.TriggerTaskOverdue, Task: task})
			if err != nil {
				e.log().Error("overdue scan", "task_id", task.ID, "error", err)
				continue
			}
			summary.RecordsWritten += len(records)
		}

		dueSoon, err := e.Tasks.QueryTasksDueWithin(ctx, userID, now, now.Add(lookahead), e.Config.Scan.MaxTasksPerUser)
		if err != nil {
			e.log().Error("scan due-soon tasks", "user_id", userID, "error", err)
			continue
		}
		for _, task := range dueSoon {
			summary.TasksScanned++
			records, err := e.HandleEvent(ctx, TriggerContext{Event: domain.TriggerDueDateApproaching, Task: task})
			if err != nil {
				e.log().Error("due-soon scan", "task_id", task.ID, "error", err)
				continue
			}
			summary.RecordsWritten += len(records)
		}
	}
	e.log().Info("scheduled scan complete",
		"users", summary.UsersScanned, "tasks", summary.TasksScanned, "records", summary.RecordsWritten)
	return summary, nil
}

// TestReport is the dry-run outcome for a rule: structural validation plus
// whether the conditions match a concrete task. No actions run.
type TestReport struct {
	Validation ValidationResult `json:"validation"`
	Matched    bool             `json:"matched"`
}

// TestRule validates a rule and evaluates its conditions against the given
// task without executing anything.
func (e Engine) TestRule(ctx context.Context, rule domain.AutomationRule, taskID string) (TestReport, error) {
	report := TestReport{Validation: Validate(rule)}
	task, err := e.Tasks.GetTask(ctx, taskID)
	if err != nil {
		return report, err
	}
	tc := TriggerContext{Event: rule.Trigger, Task: task}
	report.Matched = EvaluateConditions(rule.Conditions, tc.buildRoot(e.now()))
	return report, nil
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path"
	"time"

	"github.com/google/uuid"

	"taskpilot/internal/domain"
)

// ActionResult is the small per-action report folded into the execution
// record ("created_task_id", "notifications_sent", ...).
type ActionResult map[string]any

// UnknownActionTypeError marks an action tag the dispatcher has no executor
// for.
type UnknownActionTypeError struct {
	Type string
}

func (e UnknownActionTypeError) Error() string {
	return fmt.Sprintf("unknown action type %q", e.Type)
}

type executorFunc func(ctx context.Context, e Engine, params map[string]any, tc TriggerContext, root map[string]any) (ActionResult, error)

// executors is the dispatch registry over the closed action-type set.
var executors = map[string]executorFunc{
	domain.ActionCreateTask:         execCreateTask,
	domain.ActionUpdateStatus:       execUpdateStatus,
	domain.ActionUpdatePriority:     execUpdatePriority,
	domain.ActionSendNotification:   execSendNotification,
	domain.ActionAssignUser:         execAssignUser,
	domain.ActionCreateFollowUp:     execCreateFollowUp,
	domain.ActionReschedule:         execReschedule,
	domain.ActionAddDependency:      execAddDependency,
	domain.ActionCreateSubtasks:     execCreateSubtasks,
	domain.ActionUpdateRelatedTasks: execUpdateRelatedTasks,
	domain.ActionUpdateDependencies: execUpdateDependencies,
	domain.ActionLogActivity:        execLogActivity,
	domain.ActionUpdateEstimates:    execUpdateEstimates,
	domain.ActionCreateReport:       execCreateReport,
	domain.ActionCreateReminder:     execCreateReminder,
}

// ExecuteAction dispatches one action by type. Parameters are interpolated
// against the trigger context before the executor sees them.
func (e Engine) ExecuteAction(ctx context.Context, action domain.Action, tc TriggerContext, root map[string]any) (ActionResult, error) {
	exec, ok := executors[action.Type]
	if !ok {
		return nil, UnknownActionTypeError{Type: action.Type}
	}
	params, _ := Interpolate(copyParams(action.Parameters), root).(map[string]any)
	return exec(ctx, e, params, tc, root)
}

func copyParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

func paramString(params map[string]any, key string) string {
	if v, ok := params[key]; ok {
		if s, isStr := v.(string); isStr {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}

func paramBool(params map[string]any, key string) bool {
	switch v := params[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	default:
		return false
	}
}

// newGeneratedTask seeds a machine-generated task from the triggering task:
// same owner, inherited client unless overridden, flagged with the configured
// confidence score.
func (e Engine) newGeneratedTask(parent domain.Task, params map[string]any) domain.Task {
	now := e.now().UTC().Format(time.RFC3339)
	confidence := e.Config.Engine.GeneratedConfidence
	t := domain.Task{
		ID:              uuid.New().String(),
		UserID:          parent.UserID,
		ClientID:        parent.ClientID,
		Title:           paramString(params, "title"),
		Description:     paramString(params, "description"),
		Status:          "pending",
		Priority:        "medium",
		AIGenerated:     true,
		ConfidenceScore: &confidence,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if clientID := paramString(params, "client_id"); clientID != "" {
		t.ClientID = &clientID
	}
	if p := paramString(params, "priority"); p != "" {
		t.Priority = p
	}
	if tag := paramString(params, "tag"); tag != "" {
		t.Tag = &tag
	}
	if due := paramString(params, "due_date"); due != "" {
		t.DueDate = ResolveDueDate(due, e.now())
	}
	return t
}

func execCreateTask(ctx context.Context, e Engine, params map[string]any, tc TriggerContext, _ map[string]any) (ActionResult, error) {
	t := e.newGeneratedTask(tc.Task, params)
	if t.Title == "" {
		return nil, errors.New("create_task: title is required")
	}
	if !domain.ValidPriority(t.Priority) {
		return nil, fmt.Errorf("create_task: invalid priority %q", t.Priority)
	}
	if err := e.Tasks.InsertTask(ctx, t); err != nil {
		return nil, fmt.Errorf("create_task: %w", err)
	}
	return ActionResult{"created_task_id": t.ID}, nil
}

func execCreateFollowUp(ctx context.Context, e Engine, params map[string]any, tc TriggerContext, root map[string]any) (ActionResult, error) {
	if paramString(params, "title") == "" {
		params["title"] = InterpolateString("Follow up on {task.title}", root)
	}
	t := e.newGeneratedTask(tc.Task, params)
	if t.Priority == "medium" && paramString(params, "priority") == "" {
		t.Priority = tc.Task.Priority
	}
	if t.DueDate == nil {
		t.DueDate = ResolveDueDate(e.Config.Engine.FollowUpDue, e.now())
	}
	if err := e.Tasks.InsertTask(ctx, t); err != nil {
		return nil, fmt.Errorf("create_follow_up: %w", err)
	}
	return ActionResult{"created_task_id": t.ID, "due_date": deref(t.DueDate)}, nil
}

func execCreateSubtasks(ctx context.Context, e Engine, params map[string]any, tc TriggerContext, _ map[string]any) (ActionResult, error) {
	list, ok := params["subtasks"].([]any)
	if !ok || len(list) == 0 {
		return nil, errors.New("create_subtasks: a non-empty subtask list is required")
	}
	var created []string
	for i, raw := range list {
		sub, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("create_subtasks: subtask %d is not an object", i)
		}
		t := e.newGeneratedTask(tc.Task, sub)
		if t.Title == "" {
			return nil, fmt.Errorf("create_subtasks: subtask %d is missing a title", i)
		}
		t.ParentID = &tc.Task.ID
		// Subtasks inherit the parent's tag unless the action overrides it.
		if t.Tag == nil {
			t.Tag = tc.Task.Tag
		}
		if err := e.Tasks.InsertTask(ctx, t); err != nil {
			return nil, fmt.Errorf("create_subtasks: %w", err)
		}
		created = append(created, t.ID)
	}
	return ActionResult{"created_subtask_ids": created, "count": len(created)}, nil
}

func execUpdateStatus(ctx context.Context, e Engine, params map[string]any, tc TriggerContext, _ map[string]any) (ActionResult, error) {
	status := paramString(params, "status")
	if !domain.ValidStatus(status) {
		return nil, fmt.Errorf("update_status: invalid status %q", status)
	}
	fields := map[string]any{"status": status}
	if status == "completed" {
		fields["completed_at"] = e.now().UTC().Format(time.RFC3339)
	}
	if err := e.Tasks.UpdateTaskFields(ctx, tc.Task.ID, fields); err != nil {
		return nil, fmt.Errorf("update_status: %w", err)
	}
	return ActionResult{"updated_task_id": tc.Task.ID, "new_status": status}, nil
}

func execUpdatePriority(ctx context.Context, e Engine, params map[string]any, tc TriggerContext, _ map[string]any) (ActionResult, error) {
	priority := paramString(params, "priority")
	if !domain.ValidPriority(priority) {
		return nil, fmt.Errorf("update_priority: invalid priority %q", priority)
	}
	if err := e.Tasks.UpdateTaskFields(ctx, tc.Task.ID, map[string]any{"priority": priority}); err != nil {
		return nil, fmt.Errorf("update_priority: %w", err)
	}
	return ActionResult{"updated_task_id": tc.Task.ID, "new_priority": priority}, nil
}

// resolveRecipients maps the recipient parameter to user ids: "assignees",
// "owner" (the default), or an explicit recipient id.
func resolveRecipients(params map[string]any, task domain.Task) []string {
	if id := paramString(params, "recipient_id"); id != "" {
		return []string{id}
	}
	switch recipient := paramString(params, "recipient"); recipient {
	case "assignees":
		if len(task.AssigneeIDs) > 0 {
			return task.AssigneeIDs
		}
		return []string{task.UserID}
	case "owner", "":
		return []string{task.UserID}
	default:
		return []string{recipient}
	}
}

func (e Engine) taskURL(taskID string) string {
	return path.Join(e.Config.Notifications.ActionURLBase, taskID)
}

func execSendNotification(ctx context.Context, e Engine, params map[string]any, tc TriggerContext, _ map[string]any) (ActionResult, error) {
	message := paramString(params, "message")
	if message == "" {
		return nil, errors.New("send_notification: message is required")
	}
	title := paramString(params, "title")
	if title == "" {
		title = "Task automation"
	}
	recipients := resolveRecipients(params, tc.Task)
	sent := 0
	for _, userID := range recipients {
		if _, err := e.Notifier.Notify(ctx, userID, title, message, tc.Task.ID, e.taskURL(tc.Task.ID)); err != nil {
			return ActionResult{"notifications_sent": sent}, fmt.Errorf("send_notification: %w", err)
		}
		sent++
	}
	return ActionResult{"notifications_sent": sent, "recipients": recipients}, nil
}

func execAssignUser(ctx context.Context, e Engine, params map[string]any, tc TriggerContext, _ map[string]any) (ActionResult, error) {
	userID := paramString(params, "user_id")
	if userID == "" {
		return nil, errors.New("assign_user: user_id is required")
	}
	id, err := e.Tasks.CreateAssignment(ctx, tc.Task.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("assign_user: %w", err)
	}
	return ActionResult{"assignment_id": id, "assigned_user_id": userID}, nil
}

func execReschedule(ctx context.Context, e Engine, params map[string]any, tc TriggerContext, _ map[string]any) (ActionResult, error) {
	spec := paramString(params, "due_date")
	if spec == "" {
		return nil, errors.New("reschedule: due_date is required")
	}
	due := ResolveDueDate(spec, e.now())
	if due == nil {
		return nil, fmt.Errorf("reschedule: unparseable due_date %q", spec)
	}
	if err := e.Tasks.UpdateTaskFields(ctx, tc.Task.ID, map[string]any{"due_date": *due}); err != nil {
		return nil, fmt.Errorf("reschedule: %w", err)
	}
	return ActionResult{"updated_task_id": tc.Task.ID, "new_due_date": *due}, nil
}

func execAddDependency(ctx context.Context, e Engine, params map[string]any, tc TriggerContext, _ map[string]any) (ActionResult, error) {
	dependsOn := paramString(params, "depends_on_task_id")
	if dependsOn == "" {
		return nil, errors.New("add_dependency: depends_on_task_id is required")
	}
	if _, err := e.Tasks.GetTask(ctx, dependsOn); err != nil {
		return nil, fmt.Errorf("add_dependency: dependency task %s: %w", dependsOn, err)
	}
	id, err := e.Tasks.CreateDependency(ctx, tc.Task.ID, dependsOn)
	if err != nil {
		return nil, fmt.Errorf("add_dependency: %w", err)
	}
	return ActionResult{"dependency_id": id, "depends_on_task_id": dependsOn}, nil
}

func execUpdateRelatedTasks(ctx context.Context, e Engine, params map[string]any, tc TriggerContext, _ map[string]any) (ActionResult, error) {
	field := paramString(params, "field")
	if field == "" {
		return nil, errors.New("update_related_tasks: field is required")
	}
	value, ok := params["value"]
	if !ok {
		return nil, errors.New("update_related_tasks: value is required")
	}
	var (
		updated int64
		err     error
	)
	switch {
	case tc.Task.ClientID != nil:
		updated, err = e.Tasks.BulkUpdateByClient(ctx, *tc.Task.ClientID, field, value, tc.Task.ID)
	case tc.Task.ParentID != nil:
		updated, err = e.Tasks.BulkUpdateByParent(ctx, *tc.Task.ParentID, field, value, tc.Task.ID)
	default:
		return ActionResult{"updated_count": 0}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update_related_tasks: %w", err)
	}
	return ActionResult{"updated_count": updated}, nil
}

func execUpdateDependencies(ctx context.Context, e Engine, params map[string]any, tc TriggerContext, _ map[string]any) (ActionResult, error) {
	// Only auto-start dependents of a just-completed task.
	if tc.Task.Status != "completed" || !paramBool(params, "auto_start") {
		return ActionResult{"started_task_ids": []string{}, "skipped": true}, nil
	}
	dependents, err := e.Tasks.QueryDependents(ctx, tc.Task.ID)
	if err != nil {
		return nil, fmt.Errorf("update_dependencies: %w", err)
	}
	started := []string{}
	for _, dep := range dependents {
		if dep.Status != "pending" {
			continue
		}
		if err := e.Tasks.UpdateTaskFields(ctx, dep.ID, map[string]any{"status": "in_progress"}); err != nil {
			return ActionResult{"started_task_ids": started}, fmt.Errorf("update_dependencies: %w", err)
		}
		started = append(started, dep.ID)
	}
	return ActionResult{"started_task_ids": started}, nil
}

func execLogActivity(ctx context.Context, e Engine, params map[string]any, tc TriggerContext, _ map[string]any) (ActionResult, error) {
	description := paramString(params, "description")
	if description == "" {
		return nil, errors.New("log_activity: description is required")
	}
	activityType := paramString(params, "activity_type")
	if activityType == "" {
		activityType = "automation"
	}
	metadata, _ := params["metadata"].(map[string]any)
	if err := e.Activity.Append(ctx, tc.Task.ID, tc.Task.UserID, activityType, description, metadata); err != nil {
		// Audit append failures are logged, not propagated.
		e.log().Warn("log_activity append failed", "task_id", tc.Task.ID, "error", err)
		return ActionResult{"logged": false}, nil
	}
	return ActionResult{"logged": true}, nil
}

func execUpdateEstimates(ctx context.Context, e Engine, params map[string]any, tc TriggerContext, _ map[string]any) (ActionResult, error) {
	var estimate int
	switch {
	case params["estimated_minutes"] != nil:
		f, ok := toFloat(params["estimated_minutes"])
		if !ok || f < 0 {
			return nil, fmt.Errorf("update_estimates: invalid estimated_minutes %v", params["estimated_minutes"])
		}
		estimate = int(f)
	case params["adjustment_percent"] != nil:
		pct, ok := toFloat(params["adjustment_percent"])
		if !ok {
			return nil, fmt.Errorf("update_estimates: invalid adjustment_percent %v", params["adjustment_percent"])
		}
		if tc.Task.EstimatedMinutes == nil {
			return nil, errors.New("update_estimates: task has no estimate to adjust")
		}
		estimate = int(math.Round(float64(*tc.Task.EstimatedMinutes) * (1 + pct/100)))
		if estimate < 0 {
			estimate = 0
		}
	default:
		return nil, errors.New("update_estimates: estimated_minutes or adjustment_percent is required")
	}
	if err := e.Tasks.UpdateTaskFields(ctx, tc.Task.ID, map[string]any{"estimated_minutes": estimate}); err != nil {
		return nil, fmt.Errorf("update_estimates: %w", err)
	}
	return ActionResult{"updated_task_id": tc.Task.ID, "new_estimate": estimate}, nil
}

func execCreateReport(ctx context.Context, e Engine, params map[string]any, tc TriggerContext, root map[string]any) (ActionResult, error) {
	title := paramString(params, "title")
	if title == "" {
		title = InterpolateString("Task report: {task.title}", root)
	}
	metadata := map[string]any{
		"task":    root["task"],
		"context": root["context"],
	}
	if err := e.Activity.Append(ctx, tc.Task.ID, tc.Task.UserID, "report", title, metadata); err != nil {
		return nil, fmt.Errorf("create_report: %w", err)
	}
	notificationID, err := e.Notifier.Notify(ctx, tc.Task.UserID, title,
		InterpolateString("Automation report for {task.title} ({task.status})", root),
		tc.Task.ID, e.taskURL(tc.Task.ID))
	if err != nil {
		return nil, fmt.Errorf("create_report: %w", err)
	}
	return ActionResult{"report_logged": true, "notification_id": notificationID}, nil
}

func execCreateReminder(ctx context.Context, e Engine, params map[string]any, tc TriggerContext, root map[string]any) (ActionResult, error) {
	message := paramString(params, "message")
	if message == "" {
		message = InterpolateString("Reminder: {task.title}", root)
	}
	remindSpec := paramString(params, "remind_at")
	if remindSpec == "" {
		remindSpec = "+1 day"
	}
	remindAt := ResolveDueDate(remindSpec, e.now())
	if remindAt == nil {
		return nil, fmt.Errorf("create_reminder: unparseable remind_at %q", remindSpec)
	}
	recipients := resolveRecipients(params, tc.Task)
	sent := 0
	for _, userID := range recipients {
		if _, err := e.Notifier.Notify(ctx, userID, "Reminder", message, tc.Task.ID, e.taskURL(tc.Task.ID)); err != nil {
			return ActionResult{"notifications_sent": sent}, fmt.Errorf("create_reminder: %w", err)
		}
		sent++
	}
	return ActionResult{"notifications_sent": sent, "remind_at": *remindAt}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskpilot/internal/domain"
)

// Task operations for the hosting application. These are thin writes against
// the task store that report the resulting events into the rule engine, so
// every caller (CLI, API, SDK) gets the same automation behavior.

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID               string
	UserID           string
	ClientID         string
	ParentID         string
	Title            string
	Description      string
	Priority         string
	Tag              string
	AssigneeIDs      []string
	DueDate          string
	EstimatedMinutes int
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.UserID == "" {
		return domain.Task{}, errors.New("user is required")
	}
	if opts.Priority == "" {
		opts.Priority = "medium"
	}
	if !domain.ValidPriority(opts.Priority) {
		return domain.Task{}, fmt.Errorf("invalid priority %q", opts.Priority)
	}
	if opts.ParentID != "" {
		if _, err := e.Tasks.GetTask(ctx, opts.ParentID); err != nil {
			return domain.Task{}, fmt.Errorf("parent task: %w", err)
		}
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:          id,
		UserID:      opts.UserID,
		ClientID:    optionalString(opts.ClientID),
		ParentID:    optionalString(opts.ParentID),
		Title:       opts.Title,
		Description: opts.Description,
		Status:      "pending",
		Priority:    opts.Priority,
		Tag:         optionalString(opts.Tag),
		AssigneeIDs: opts.AssigneeIDs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.DueDate != "" {
		due := ResolveDueDate(opts.DueDate, e.now())
		if due == nil {
			return domain.Task{}, fmt.Errorf("unparseable due date %q", opts.DueDate)
		}
		t.DueDate = due
	}
	if opts.EstimatedMinutes > 0 {
		t.EstimatedMinutes = &opts.EstimatedMinutes
	}
	if err := e.Tasks.InsertTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// SetTaskStatus updates a task's status and fires status_changed rules, plus
// task_completed rules when the new status is completed. The returned records
// are everything the automation run produced.
func (e Engine) SetTaskStatus(ctx context.Context, taskID, status string) (domain.Task, []domain.ExecutionRecord, error) {
	if !domain.ValidStatus(status) {
		return domain.Task{}, nil, fmt.Errorf("invalid status %q", status)
	}
	previous, err := e.Tasks.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, nil, err
	}
	if previous.Status == status {
		return previous, nil, nil
	}
	fields := map[string]any{"status": status}
	if status == "completed" {
		fields["completed_at"] = e.now().UTC().Format(time.RFC3339)
	}
	if err := e.Tasks.UpdateTaskFields(ctx, taskID, fields); err != nil {
		return domain.Task{}, nil, err
	}
	task, err := e.Tasks.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, nil, err
	}

	records, err := e.FireStatusChanged(ctx, task, &previous)
	if err != nil {
		e.log().Error("status_changed rules", "task_id", taskID, "error", err)
	}
	if status == "completed" {
		completed, err := e.FireTaskCompleted(ctx, task, &previous)
		if err != nil {
			e.log().Error("task_completed rules", "task_id", taskID, "error", err)
		}
		records = append(records, completed...)
	}
	return task, records, nil
}

// LogTime records a time entry against a task and fires time_tracked rules.
func (e Engine) LogTime(ctx context.Context, taskID, userID string, minutes int, description string) (domain.TimeEntry, []domain.ExecutionRecord, error) {
	if minutes <= 0 {
		return domain.TimeEntry{}, nil, errors.New("duration must be positive")
	}
	task, err := e.Tasks.GetTask(ctx, taskID)
	if err != nil {
		return domain.TimeEntry{}, nil, err
	}
	if userID == "" {
		userID = task.UserID
	}
	entry := domain.TimeEntry{
		ID:              uuid.New().String(),
		TaskID:          taskID,
		UserID:          userID,
		DurationMinutes: minutes,
		Description:     description,
		CreatedAt:       e.now().UTC().Format(time.RFC3339),
	}
	if err := e.insertTimeEntry(ctx, entry); err != nil {
		return domain.TimeEntry{}, nil, err
	}
	records, err := e.FireTimeTracked(ctx, task, entry)
	if err != nil {
		e.log().Error("time_tracked rules", "task_id", taskID, "error", err)
	}
	return entry, records, nil
}

// insertTimeEntry goes through the optional TimeEntryStore when the task
// store provides one.
func (e Engine) insertTimeEntry(ctx context.Context, entry domain.TimeEntry) error {
	store, ok := e.Tasks.(interface {
		InsertTimeEntry(ctx context.Context, te domain.TimeEntry) error
	})
	if !ok {
		return nil
	}
	return store.InsertTimeEntry(ctx, entry)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

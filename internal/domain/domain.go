package domain

// Trigger events a rule can subscribe to.
const (
	TriggerTaskCompleted      = "task_completed"
	TriggerTaskOverdue        = "task_overdue"
	TriggerStatusChanged      = "status_changed"
	TriggerTimeTracked        = "time_tracked"
	TriggerDueDateApproaching = "due_date_approaching"
)

// Triggers lists every recognized trigger event.
var Triggers = []string{
	TriggerTaskCompleted,
	TriggerTaskOverdue,
	TriggerStatusChanged,
	TriggerTimeTracked,
	TriggerDueDateApproaching,
}

// Action types form a closed set; the dispatcher rejects anything else.
const (
	ActionCreateTask         = "create_task"
	ActionUpdateStatus       = "update_status"
	ActionUpdatePriority     = "update_priority"
	ActionSendNotification   = "send_notification"
	ActionAssignUser         = "assign_user"
	ActionCreateFollowUp     = "create_follow_up"
	ActionReschedule         = "reschedule"
	ActionAddDependency      = "add_dependency"
	ActionCreateSubtasks     = "create_subtasks"
	ActionUpdateRelatedTasks = "update_related_tasks"
	ActionUpdateDependencies = "update_dependencies"
	ActionLogActivity        = "log_activity"
	ActionUpdateEstimates    = "update_estimates"
	ActionCreateReport       = "create_report"
	ActionCreateReminder     = "create_reminder"
)

// ActionTypes lists every recognized action type.
var ActionTypes = []string{
	ActionCreateTask,
	ActionUpdateStatus,
	ActionUpdatePriority,
	ActionSendNotification,
	ActionAssignUser,
	ActionCreateFollowUp,
	ActionReschedule,
	ActionAddDependency,
	ActionCreateSubtasks,
	ActionUpdateRelatedTasks,
	ActionUpdateDependencies,
	ActionLogActivity,
	ActionUpdateEstimates,
	ActionCreateReport,
	ActionCreateReminder,
}

// TaskStatuses and TaskPriorities are the enums update_status/update_priority
// parameters must come from.
var (
	TaskStatuses   = []string{"pending", "in_progress", "completed", "cancelled"}
	TaskPriorities = []string{"low", "medium", "high", "urgent"}
)

type Task struct {
	ID               string   `json:"id"`
	UserID           string   `json:"user_id"`
	ClientID         *string  `json:"client_id,omitempty"`
	ParentID         *string  `json:"parent_id,omitempty"`
	Title            string   `json:"title"`
	Description      string   `json:"description,omitempty"`
	Status           string   `json:"status" enum:"pending,in_progress,completed,cancelled"`
	Priority         string   `json:"priority" enum:"low,medium,high,urgent"`
	Tag              *string  `json:"tag,omitempty"`
	AssigneeIDs      []string `json:"assignee_ids,omitempty"`
	DueDate          *string  `json:"due_date,omitempty" format:"date-time"`
	EstimatedMinutes *int     `json:"estimated_minutes,omitempty"`
	AIGenerated      bool     `json:"ai_generated"`
	ConfidenceScore  *float64 `json:"confidence_score,omitempty"`
	CreatedAt        string   `json:"created_at" format:"date-time"`
	UpdatedAt        string   `json:"updated_at" format:"date-time"`
	CompletedAt      *string  `json:"completed_at,omitempty" format:"date-time"`
}

type TimeEntry struct {
	ID              string `json:"id"`
	TaskID          string `json:"task_id"`
	UserID          string `json:"user_id"`
	DurationMinutes int    `json:"duration_minutes"`
	Description     string `json:"description,omitempty"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

// Action is one step of a rule: a type tag plus an open parameter mapping
// whose shape depends on the type.
type Action struct {
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// AutomationRule is a user-authored rule: when `trigger` fires and every
// condition passes, the actions run in order.
type AutomationRule struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Trigger        string         `json:"trigger" enum:"task_completed,task_overdue,status_changed,time_tracked,due_date_approaching"`
	Conditions     map[string]any `json:"conditions,omitempty"`
	Actions        []Action       `json:"actions"`
	IsActive       bool           `json:"is_active"`
	ExecutionCount int64          `json:"execution_count"`
	LastExecuted   *string        `json:"last_executed,omitempty" format:"date-time"`
	CreatedAt      string         `json:"created_at" format:"date-time"`
	UpdatedAt      string         `json:"updated_at" format:"date-time"`
}

// ExecutedAction is the per-action slot of an execution record: the action as
// declared, plus either a result or an error.
type ExecutedAction struct {
	Action    Action         `json:"action"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp string         `json:"timestamp" format:"date-time"`
}

// Execution statuses.
const (
	ExecutionSuccess = "success"
	ExecutionPartial = "partial"
	ExecutionFailed  = "failed"
)

// ExecutionRecord is the immutable outcome of one rule run against one task.
type ExecutionRecord struct {
	ID              string           `json:"id"`
	RuleID          string           `json:"rule_id"`
	UserID          string           `json:"user_id"`
	TaskID          string           `json:"task_id"`
	Trigger         string           `json:"trigger"`
	ExecutedActions []ExecutedAction `json:"executed_actions,omitempty"`
	Status          string           `json:"status" enum:"success,partial,failed"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	ExecutedAt      string           `json:"executed_at" format:"date-time"`
}

type Notification struct {
	ID            string  `json:"id"`
	UserID        string  `json:"user_id"`
	Title         string  `json:"title"`
	Message       string  `json:"message"`
	RelatedTaskID *string `json:"related_task_id,omitempty"`
	ActionURL     string  `json:"action_url,omitempty"`
	Read          bool    `json:"read"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

type Activity struct {
	ID           int64  `json:"id"`
	TaskID       string `json:"task_id"`
	UserID       string `json:"user_id"`
	ActivityType string `json:"activity_type"`
	Description  string `json:"description"`
	MetadataJSON string `json:"metadata_json,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ValidTrigger reports whether s is a recognized trigger event.
func ValidTrigger(s string) bool { return contains(Triggers, s) }

// ValidActionType reports whether s is a recognized action type.
func ValidActionType(s string) bool { return contains(ActionTypes, s) }

// ValidStatus reports whether s is a recognized task status.
func ValidStatus(s string) bool { return contains(TaskStatuses, s) }

// ValidPriority reports whether s is a recognized task priority.
func ValidPriority(s string) bool { return contains(TaskPriorities, s) }

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

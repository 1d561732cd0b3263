package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"taskpilot/internal/config"
	"taskpilot/internal/domain"
	"taskpilot/internal/events"
	"taskpilot/internal/notify"
	"taskpilot/internal/repo"
)

// TaskStore is the engine's view of the task repository. The engine never
// caches task state; every run reads through this interface.
type TaskStore interface {
	GetTask(ctx context.Context, id string) (domain.Task, error)
	InsertTask(ctx context.Context, t domain.Task) error
	UpdateTaskFields(ctx context.Context, id string, fields map[string]any) error
	QueryOverdueTasks(ctx context.Context, userID string, asOf time.Time, limit int) ([]domain.Task, error)
	QueryTasksDueWithin(ctx context.Context, userID string, from, to time.Time, limit int) ([]domain.Task, error)
	CreateDependency(ctx context.Context, taskID, dependsOnID string) (string, error)
	QueryDependents(ctx context.Context, taskID string) ([]domain.Task, error)
	CreateAssignment(ctx context.Context, taskID, userID string) (string, error)
	BulkUpdateByClient(ctx context.Context, clientID, field string, value any, excludeID string) (int64, error)
	BulkUpdateByParent(ctx context.Context, parentID, field string, value any, excludeID string) (int64, error)
}

// RuleStore loads rules and owns the engine's only persisted mutations: the
// execution record and the per-rule counter.
type RuleStore interface {
	ListActiveRulesByTrigger(ctx context.Context, userID, trigger string) ([]domain.AutomationRule, error)
	ListUsersWithActiveTriggers(ctx context.Context, triggers []string, limit int) ([]string, error)
	IncrementExecution(ctx context.Context, ruleID string, at time.Time) error
	RecordExecution(ctx context.Context, rec domain.ExecutionRecord, dedupKey string) error
	ExecutionExists(ctx context.Context, dedupKey string) (bool, error)
}

// Notifier delivers in-app notifications.
type Notifier interface {
	Notify(ctx context.Context, userID, title, message, relatedTaskID, actionURL string) (string, error)
}

// ActivityLog appends audit entries. Append failures never fail an action.
type ActivityLog interface {
	Append(ctx context.Context, taskID, userID, activityType, description string, metadata map[string]any) error
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Tasks    TaskStore
	Rules    RuleStore
	Notifier Notifier
	Activity ActivityLog
	Config   *config.Config
	Now      func() time.Time
	Log      *slog.Logger
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:       db,
		Repo:     r,
		Tasks:    r,
		Rules:    r,
		Notifier: notify.Service{DB: db},
		Activity: events.Writer{DB: db},
		Config:   cfg,
		Now:      time.Now,
		Log:      slog.Default(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

// scheduledTriggers are the triggers the time-driven scan fires; only these
// carry a dedup key so an overlapping scan cannot double-execute.
var scheduledTriggers = map[string]bool{
	domain.TriggerTaskOverdue:        true,
	domain.TriggerDueDateApproaching: true,
}

// HandleEvent runs every matching active rule for the trigger context and
// returns the execution records that were written. Rules are independent: a
// failing rule does not stop the others. An error return means rules could
// not even be loaded.
func (e Engine) HandleEvent(ctx context.Context, tc TriggerContext) ([]domain.ExecutionRecord, error) {
	if !domain.ValidTrigger(tc.Event) {
		return nil, fmt.Errorf("unknown trigger event %q", tc.Event)
	}
	rules, err := e.Rules.ListActiveRulesByTrigger(ctx, tc.Task.UserID, tc.Event)
	if err != nil {
		return nil, fmt.Errorf("load rules for %s: %w", tc.Event, err)
	}
	now := e.now()
	root := tc.buildRoot(now)
	var records []domain.ExecutionRecord
	for _, rule := range rules {
		rec, executed, err := e.executeRule(ctx, rule, tc, root, now)
		if err != nil {
			// Pre-action failures surface as a failed record with a
			// top-level message rather than a partial action listing.
			e.log().Error("rule execution", "rule_id", rule.ID, "task_id", tc.Task.ID, "error", err)
			if recErr := e.RecordRuleFailure(ctx, rule, tc, err.Error()); recErr != nil {
				e.log().Error("record rule failure", "rule_id", rule.ID, "error", recErr)
			}
			continue
		}
		if !executed {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// executeRule runs one rule against one trigger context. The second return is
// false when nothing was recorded: unmatched conditions are a no-op, and a
// dedup hit on a scheduled trigger is a silent skip.
func (e Engine) executeRule(ctx context.Context, rule domain.AutomationRule, tc TriggerContext, root map[string]any, now time.Time) (domain.ExecutionRecord, bool, error) {
	dedupKey := ""
	if scheduledTriggers[tc.Event] {
		dedupKey = fmt.Sprintf("%s|%s|%s|%s", rule.ID, tc.Task.ID, tc.Event, now.UTC().Format("2006-01-02"))
		exists, err := e.Rules.ExecutionExists(ctx, dedupKey)
		if err != nil {
			return domain.ExecutionRecord{}, false, fmt.Errorf("dedup check: %w", err)
		}
		if exists {
			e.log().Debug("scan dedup skip", "rule_id", rule.ID, "task_id", tc.Task.ID, "trigger", tc.Event)
			return domain.ExecutionRecord{}, false, nil
		}
	}

	// Evaluating: unmatched conditions are a no-op, not a failure.
	if !EvaluateConditions(rule.Conditions, root) {
		return domain.ExecutionRecord{}, false, nil
	}

	rec := domain.ExecutionRecord{
		ID:         uuid.New().String(),
		RuleID:     rule.ID,
		UserID:     rule.UserID,
		TaskID:     tc.Task.ID,
		Trigger:    tc.Event,
		ExecutedAt: now.UTC().Format(time.RFC3339),
	}

	// Acting: actions run in declared order; a failing action is recorded
	// and the rest still run.
	succeeded, failed := 0, 0
	for _, action := range rule.Actions {
		outcome := domain.ExecutedAction{
			Action:    action,
			Timestamp: e.now().UTC().Format(time.RFC3339),
		}
		result, err := e.ExecuteAction(ctx, action, tc, root)
		if err != nil {
			outcome.Error = err.Error()
			failed++
		} else {
			outcome.Result = result
			succeeded++
		}
		rec.ExecutedActions = append(rec.ExecutedActions, outcome)
	}

	switch {
	case failed == 0 && succeeded > 0:
		rec.Status = domain.ExecutionSuccess
	case succeeded > 0:
		rec.Status = domain.ExecutionPartial
	default:
		rec.Status = domain.ExecutionFailed
		rec.ErrorMessage = "no action succeeded"
	}

	// Recording: persist the outcome, then bump the rule's stats.
	if err := e.Rules.RecordExecution(ctx, rec, dedupKey); err != nil {
		if errors.Is(err, repo.ErrDuplicateExecution) {
			// Another scan won the race for this window.
			return domain.ExecutionRecord{}, false, nil
		}
		return domain.ExecutionRecord{}, false, fmt.Errorf("record execution: %w", err)
	}
	if err := e.Rules.IncrementExecution(ctx, rule.ID, now); err != nil {
		e.log().Error("increment execution count", "rule_id", rule.ID, "error", err)
	}
	return rec, true, nil
}

// RecordRuleFailure writes a failed execution record for an error that struck
// before any action ran (rule loading aside, which produces no record at
// all).
func (e Engine) RecordRuleFailure(ctx context.Context, rule domain.AutomationRule, tc TriggerContext, message string) error {
	rec := domain.ExecutionRecord{
		ID:           uuid.New().String(),
		RuleID:       rule.ID,
		UserID:       rule.UserID,
		TaskID:       tc.Task.ID,
		Trigger:      tc.Event,
		Status:       domain.ExecutionFailed,
		ErrorMessage: message,
		ExecutedAt:   e.now().UTC().Format(time.RFC3339),
	}
	return e.Rules.RecordExecution(ctx, rec, "")
}

package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"taskpilot/internal/domain"
)

const ruleColumns = `id, user_id, name, COALESCE(description,''), trigger_event, conditions_json, actions_json,
	is_active, execution_count, last_executed, created_at, updated_at`

func scanRule(row interface{ Scan(...any) error }) (domain.AutomationRule, error) {
	var rule domain.AutomationRule
	var conditionsJSON, actionsJSON string
	var lastExecuted sql.NullString
	var isActive int
	err := row.Scan(&rule.ID, &rule.UserID, &rule.Name, &rule.Description, &rule.Trigger,
		&conditionsJSON, &actionsJSON, &isActive, &rule.ExecutionCount, &lastExecuted, &rule.CreatedAt, &rule.UpdatedAt)
	if err == sql.ErrNoRows {
		return rule, ErrNotFound
	}
	if err != nil {
		return rule, err
	}
	rule.IsActive = isActive != 0
	if lastExecuted.Valid {
		rule.LastExecuted = &lastExecuted.String
	}
	if err := json.Unmarshal([]byte(conditionsJSON), &rule.Conditions); err != nil {
		return rule, fmt.Errorf("rule %s conditions: %w", rule.ID, err)
	}
	if err := json.Unmarshal([]byte(actionsJSON), &rule.Actions); err != nil {
		return rule, fmt.Errorf("rule %s actions: %w", rule.ID, err)
	}
	return rule, nil
}

func (r Repo) InsertRule(ctx context.Context, rule domain.AutomationRule) error {
	conditionsJSON, actionsJSON, err := marshalRuleBody(rule)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO automation_rules(id, user_id, name, description, trigger_event,
		conditions_json, actions_json, is_active, execution_count, last_executed, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		rule.ID, rule.UserID, rule.Name, nullable(rule.Description), rule.Trigger,
		conditionsJSON, actionsJSON, boolInt(rule.IsActive), rule.ExecutionCount, nullablePtr(rule.LastExecuted),
		rule.CreatedAt, rule.UpdatedAt)
	return err
}

func (r Repo) UpdateRule(ctx context.Context, rule domain.AutomationRule) error {
	conditionsJSON, actionsJSON, err := marshalRuleBody(rule)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE automation_rules SET name=?, description=?, trigger_event=?,
		conditions_json=?, actions_json=?, is_active=?, updated_at=? WHERE id=?`,
		rule.Name, nullable(rule.Description), rule.Trigger, conditionsJSON, actionsJSON,
		boolInt(rule.IsActive), rule.UpdatedAt, rule.ID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalRuleBody(rule domain.AutomationRule) (string, string, error) {
	conditions := rule.Conditions
	if conditions == nil {
		conditions = map[string]any{}
	}
	cb, err := json.Marshal(conditions)
	if err != nil {
		return "", "", fmt.Errorf("marshal conditions: %w", err)
	}
	ab, err := json.Marshal(rule.Actions)
	if err != nil {
		return "", "", fmt.Errorf("marshal actions: %w", err)
	}
	return string(cb), string(ab), nil
}

func (r Repo) GetRule(ctx context.Context, id string) (domain.AutomationRule, error) {
	return scanRule(r.DB.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM automation_rules WHERE id=?`, id))
}

func (r Repo) DeleteRule(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM automation_rules WHERE id=?`, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListRules(ctx context.Context, userID string) ([]domain.AutomationRule, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+ruleColumns+` FROM automation_rules WHERE user_id=? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	return collectRules(rows)
}

// ListActiveRulesByTrigger returns a user's active rules for one trigger
// event, oldest first so execution order is stable.
func (r Repo) ListActiveRulesByTrigger(ctx context.Context, userID, trigger string) ([]domain.AutomationRule, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+ruleColumns+` FROM automation_rules
		WHERE user_id=? AND trigger_event=? AND is_active=1 ORDER BY created_at ASC`, userID, trigger)
	if err != nil {
		return nil, err
	}
	return collectRules(rows)
}

// ListUsersWithActiveTriggers returns distinct user ids holding at least one
// active rule on any of the given triggers.
func (r Repo) ListUsersWithActiveTriggers(ctx context.Context, triggers []string, limit int) ([]string, error) {
	if len(triggers) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(triggers)), ",")
	args := make([]any, 0, len(triggers)+1)
	for _, t := range triggers {
		args = append(args, t)
	}
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT user_id FROM automation_rules
		WHERE is_active=1 AND trigger_event IN (%s) ORDER BY user_id LIMIT ?`, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func collectRules(rows *sql.Rows) ([]domain.AutomationRule, error) {
	defer rows.Close()
	var res []domain.AutomationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rule)
	}
	return res, rows.Err()
}

// IncrementExecution bumps a rule's execution counter and stamps
// last_executed.
func (r Repo) IncrementExecution(ctx context.Context, ruleID string, at time.Time) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE automation_rules SET execution_count=execution_count+1, last_executed=? WHERE id=?`,
		at.UTC().Format(time.RFC3339), ruleID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ErrDuplicateExecution marks a dedup-key collision on RecordExecution.
var ErrDuplicateExecution = fmt.Errorf("execution already recorded for window")

// RecordExecution persists an execution record. A non-empty dedupKey is
// enforced unique so an overlapping scheduled scan cannot record the same
// rule/task/trigger/day twice.
func (r Repo) RecordExecution(ctx context.Context, rec domain.ExecutionRecord, dedupKey string) error {
	actionsJSON, err := json.Marshal(rec.ExecutedActions)
	if err != nil {
		return fmt.Errorf("marshal executed actions: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO rule_executions(id, rule_id, user_id, task_id, trigger_event,
		executed_actions_json, status, error_message, dedup_key, executed_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.RuleID, rec.UserID, rec.TaskID, rec.Trigger,
		string(actionsJSON), rec.Status, nullable(rec.ErrorMessage), nullable(dedupKey), rec.ExecutedAt)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return ErrDuplicateExecution
	}
	return err
}

// ExecutionExists reports whether a record with the dedup key is already
// present.
func (r Repo) ExecutionExists(ctx context.Context, dedupKey string) (bool, error) {
	if dedupKey == "" {
		return false, nil
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT 1 FROM rule_executions WHERE dedup_key=? LIMIT 1`, dedupKey)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), nil
}

const executionColumns = `id, rule_id, user_id, task_id, trigger_event, executed_actions_json, status, COALESCE(error_message,''), executed_at`

func scanExecution(row interface{ Scan(...any) error }) (domain.ExecutionRecord, error) {
	var rec domain.ExecutionRecord
	var actionsJSON string
	err := row.Scan(&rec.ID, &rec.RuleID, &rec.UserID, &rec.TaskID, &rec.Trigger, &actionsJSON, &rec.Status, &rec.ErrorMessage, &rec.ExecutedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(actionsJSON), &rec.ExecutedActions); err != nil {
		return rec, fmt.Errorf("execution %s actions: %w", rec.ID, err)
	}
	return rec, nil
}

func (r Repo) ListExecutionsByRule(ctx context.Context, ruleID string, limit int) ([]domain.ExecutionRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+executionColumns+` FROM rule_executions WHERE rule_id=? ORDER BY executed_at DESC LIMIT ?`, ruleID, limit)
	if err != nil {
		return nil, err
	}
	return collectExecutions(rows)
}

func (r Repo) ListExecutionsByTask(ctx context.Context, taskID string, limit int) ([]domain.ExecutionRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+executionColumns+` FROM rule_executions WHERE task_id=? ORDER BY executed_at DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, err
	}
	return collectExecutions(rows)
}

func collectExecutions(rows *sql.Rows) ([]domain.ExecutionRecord, error) {
	defer rows.Close()
	var res []domain.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

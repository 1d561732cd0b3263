package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskpilot/internal/domain"
)

const taskColumns = `id, user_id, client_id, parent_id, title, COALESCE(description,''), status, priority, tag,
	assignee_ids_json, due_date, estimated_minutes, ai_generated, confidence_score, created_at, updated_at, completed_at`

func scanTask(row interface{ Scan(...any) error }) (domain.Task, error) {
	var t domain.Task
	var clientID, parentID, tag, assignees, dueDate, completedAt sql.NullString
	var estimated sql.NullInt64
	var confidence sql.NullFloat64
	var aiGenerated int
	err := row.Scan(&t.ID, &t.UserID, &clientID, &parentID, &t.Title, &t.Description, &t.Status, &t.Priority, &tag,
		&assignees, &dueDate, &estimated, &aiGenerated, &confidence, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if clientID.Valid {
		t.ClientID = &clientID.String
	}
	if parentID.Valid {
		t.ParentID = &parentID.String
	}
	if tag.Valid {
		t.Tag = &tag.String
	}
	if assignees.Valid && assignees.String != "" {
		_ = json.Unmarshal([]byte(assignees.String), &t.AssigneeIDs)
	}
	if dueDate.Valid {
		t.DueDate = &dueDate.String
	}
	if estimated.Valid {
		v := int(estimated.Int64)
		t.EstimatedMinutes = &v
	}
	t.AIGenerated = aiGenerated != 0
	if confidence.Valid {
		t.ConfidenceScore = &confidence.Float64
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, t domain.Task) error {
	var assignees any
	if len(t.AssigneeIDs) > 0 {
		b, err := json.Marshal(t.AssigneeIDs)
		if err != nil {
			return err
		}
		assignees = string(b)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tasks(id, user_id, client_id, parent_id, title, description, status, priority, tag,
		assignee_ids_json, due_date, estimated_minutes, ai_generated, confidence_score, created_at, updated_at, completed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.UserID, nullablePtr(t.ClientID), nullablePtr(t.ParentID), t.Title, nullable(t.Description),
		t.Status, t.Priority, nullablePtr(t.Tag), assignees, nullablePtr(t.DueDate), t.EstimatedMinutes,
		boolInt(t.AIGenerated), t.ConfidenceScore, t.CreatedAt, t.UpdatedAt, nullablePtr(t.CompletedAt))
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

// taskFieldColumns is the allowlist of externally updatable task fields,
// keyed by their JSON names.
var taskFieldColumns = map[string]string{
	"title":             "title",
	"description":       "description",
	"status":            "status",
	"priority":          "priority",
	"tag":               "tag",
	"client_id":         "client_id",
	"due_date":          "due_date",
	"estimated_minutes": "estimated_minutes",
	"completed_at":      "completed_at",
}

// UpdateTaskFields applies a partial update. Unknown field names error rather
// than silently dropping, since action parameters feed this path.
func (r Repo) UpdateTaskFields(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	var (
		sets []string
		args []any
	)
	for name, value := range fields {
		col, ok := taskFieldColumns[name]
		if !ok {
			return fmt.Errorf("task field %s is not updatable", name)
		}
		sets = append(sets, col+"=?")
		args = append(args, value)
	}
	sets = append(sets, "updated_at=?")
	args = append(args, time.Now().UTC().Format(time.RFC3339))
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE tasks SET %s WHERE id=?`, strings.Join(sets, ",")), args...)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE user_id=? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	return collectTasks(rows)
}

// QueryOverdueTasks returns open tasks whose due date has passed as of asOf.
func (r Repo) QueryOverdueTasks(ctx context.Context, userID string, asOf time.Time, limit int) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE user_id=? AND due_date IS NOT NULL AND due_date < ? AND status NOT IN ('completed','cancelled')
		ORDER BY due_date ASC LIMIT ?`,
		userID, asOf.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, err
	}
	return collectTasks(rows)
}

// QueryTasksDueWithin returns open tasks due inside [from, to].
func (r Repo) QueryTasksDueWithin(ctx context.Context, userID string, from, to time.Time, limit int) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE user_id=? AND due_date IS NOT NULL AND due_date >= ? AND due_date <= ? AND status NOT IN ('completed','cancelled')
		ORDER BY due_date ASC LIMIT ?`,
		userID, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, err
	}
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]domain.Task, error) {
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// CreateDependency records that taskID depends on dependsOnID.
func (r Repo) CreateDependency(ctx context.Context, taskID, dependsOnID string) (string, error) {
	id := uuid.New().String()
	_, err := r.DB.ExecContext(ctx, `INSERT INTO task_dependencies(id, task_id, depends_on_task_id, created_at) VALUES (?,?,?,?)`,
		id, taskID, dependsOnID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", err
	}
	return id, nil
}

// QueryDependents returns the tasks that depend on taskID.
func (r Repo) QueryDependents(ctx context.Context, taskID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE id IN (SELECT task_id FROM task_dependencies WHERE depends_on_task_id=?)`, taskID)
	if err != nil {
		return nil, err
	}
	return collectTasks(rows)
}

// CreateAssignment records a task/user assignment relationship.
func (r Repo) CreateAssignment(ctx context.Context, taskID, userID string) (string, error) {
	id := uuid.New().String()
	_, err := r.DB.ExecContext(ctx, `INSERT INTO task_assignments(id, task_id, user_id, created_at) VALUES (?,?,?,?)`,
		id, taskID, userID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", err
	}
	return id, nil
}

// BulkUpdateByClient sets one field on all of a client's open tasks except
// excludeID, returning how many rows changed.
func (r Repo) BulkUpdateByClient(ctx context.Context, clientID, field string, value any, excludeID string) (int64, error) {
	col, ok := taskFieldColumns[field]
	if !ok {
		return 0, fmt.Errorf("task field %s is not updatable", field)
	}
	res, err := r.DB.ExecContext(ctx,
		fmt.Sprintf(`UPDATE tasks SET %s=?, updated_at=? WHERE client_id=? AND id<>? AND status NOT IN ('completed','cancelled')`, col),
		value, time.Now().UTC().Format(time.RFC3339), clientID, excludeID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// BulkUpdateByParent sets one field on all sibling/child tasks of parentID
// except excludeID.
func (r Repo) BulkUpdateByParent(ctx context.Context, parentID, field string, value any, excludeID string) (int64, error) {
	col, ok := taskFieldColumns[field]
	if !ok {
		return 0, fmt.Errorf("task field %s is not updatable", field)
	}
	res, err := r.DB.ExecContext(ctx,
		fmt.Sprintf(`UPDATE tasks SET %s=?, updated_at=? WHERE (parent_id=? OR id=?) AND id<>? AND status NOT IN ('completed','cancelled')`, col),
		value, time.Now().UTC().Format(time.RFC3339), parentID, parentID, excludeID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) InsertTimeEntry(ctx context.Context, te domain.TimeEntry) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO time_entries(id, task_id, user_id, duration_minutes, description, created_at) VALUES (?,?,?,?,?,?)`,
		te.ID, te.TaskID, te.UserID, te.DurationMinutes, nullable(te.Description), te.CreatedAt)
	return err
}

package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"taskpilot/internal/domain"
)

// Writer appends to the per-task activity log.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Append inserts one activity entry.
func (w Writer) Append(ctx context.Context, taskID, userID, activityType, description string, metadata map[string]any) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if metadata == nil {
		metadata = map[string]any{}
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal activity metadata: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO activities(task_id, user_id, activity_type, description, metadata_json, created_at) VALUES (?,?,?,?,?,?)`,
		taskID, userID, activityType, description, string(data), ts)
	return err
}

// ListByTask returns a task's activity entries, newest first.
func (w Writer) ListByTask(ctx context.Context, taskID string, limit int) ([]domain.Activity, error) {
	rows, err := w.DB.QueryContext(ctx, `SELECT id, task_id, user_id, activity_type, description, COALESCE(metadata_json,''), created_at
		FROM activities WHERE task_id=? ORDER BY created_at DESC, id DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Activity
	for rows.Next() {
		var a domain.Activity
		if err := rows.Scan(&a.ID, &a.TaskID, &a.UserID, &a.ActivityType, &a.Description, &a.MetadataJSON, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

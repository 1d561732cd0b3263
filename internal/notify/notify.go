// Package notify is the in-app notification store used by the
// send_notification and create_reminder actions. Outbound email delivery is a
// separate service and not handled here.
package notify

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"taskpilot/internal/domain"
)

type Service struct {
	DB  *sql.DB
	Now func() time.Time
}

// Notify stores one notification for a user and returns its id.
func (s Service) Notify(ctx context.Context, userID, title, message string, relatedTaskID, actionURL string) (string, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	id := uuid.New().String()
	var related any
	if relatedTaskID != "" {
		related = relatedTaskID
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO notifications(id, user_id, title, message, related_task_id, action_url, read, created_at)
		VALUES (?,?,?,?,?,?,0,?)`,
		id, userID, title, message, related, actionURL, now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", err
	}
	return id, nil
}

// ListByUser returns a user's notifications, newest first.
func (s Service) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	query := `SELECT id, user_id, title, message, related_task_id, COALESCE(action_url,''), read, created_at FROM notifications WHERE user_id=?`
	if unreadOnly {
		query += ` AND read=0`
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	rows, err := s.DB.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var related sql.NullString
		var read int
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &related, &n.ActionURL, &read, &n.CreatedAt); err != nil {
			return nil, err
		}
		if related.Valid {
			n.RelatedTaskID = &related.String
		}
		n.Read = read != 0
		res = append(res, n)
	}
	return res, rows.Err()
}

// MarkRead flags a notification as read.
func (s Service) MarkRead(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE notifications SET read=1 WHERE id=?`, id)
	return err
}

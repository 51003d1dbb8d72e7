package postgres

import (
	"context"
	"errors"
	"fmt"

	"freelancehub/internal/model"
	"freelancehub/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type notificationRepo struct {
	db *pgxpool.Pool
}

const selectNotification = `
	SELECT id, user_id, event_id, type, title, message, priority, action_required, is_read,
	       project_id, milestone_id, bid_id, payment_id, created_at, read_at
	FROM notifications
`

func scanNotification(row pgx.Row) (*model.Notification, error) {
	var n model.Notification
	err := row.Scan(
		&n.ID, &n.UserID, &n.EventID, &n.Type, &n.Title, &n.Message, &n.Priority, &n.ActionRequired, &n.IsRead,
		&n.ProjectID, &n.MilestoneID, &n.BidID, &n.PaymentID, &n.CreatedAt, &n.ReadAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// Persist 重复投递的事件命中 (event_id, user_id) 唯一约束，返回已有记录
func (r *notificationRepo) Persist(ctx context.Context, n *model.Notification) (bool, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO notifications (user_id, event_id, type, title, message, priority, action_required,
		                           project_id, milestone_id, bid_id, payment_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (event_id, user_id) DO NOTHING
		RETURNING id, created_at
	`, n.UserID, n.EventID, n.Type, n.Title, n.Message, n.Priority, n.ActionRequired,
		n.ProjectID, n.MilestoneID, n.BidID, n.PaymentID,
	).Scan(&n.ID, &n.CreatedAt)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("failed to insert notification: %w", err)
	}

	existing, err := scanNotification(r.db.QueryRow(ctx, selectNotification+`
		WHERE event_id = $1 AND user_id = $2
	`, n.EventID, n.UserID))
	if err != nil {
		return false, fmt.Errorf("failed to load existing notification: %w", err)
	}
	*n = *existing
	return false, nil
}

func (r *notificationRepo) ListByUser(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]*model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, selectNotification+`
		WHERE user_id = $1 AND (NOT $2::boolean OR is_read = FALSE)
		ORDER BY id DESC
		LIMIT $3
	`, userID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var out []*model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *notificationRepo) MarkRead(ctx context.Context, userID, id int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications
		SET is_read = TRUE, read_at = COALESCE(read_at, NOW())
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *notificationRepo) Delete(ctx context.Context, userID, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

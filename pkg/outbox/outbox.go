package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

var ErrEventNotFound = errors.New("outbox event not found")

// Event 表示一个待发布的事件
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   *int64
	RoutingKey    string
	Payload       json.RawMessage
	Status        string
	RetryCount    int
	NextRetryAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Source 是 Dispatcher 和 ReplayService 读取/更新事件的存储
type Source interface {
	GetPendingEvents(ctx context.Context, limit int) ([]*Event, error)
	MarkAsSent(ctx context.Context, eventID int64) error
	MarkAsFailed(ctx context.Context, eventID int64, maxRetries int) error
	GetEventByID(ctx context.Context, eventID int64) (*Event, error)
	ReplayEvent(ctx context.Context, eventID int64) error
	GetFailedEvents(ctx context.Context, limit int) ([]*Event, error)
}

// Querier 是 pgx.Tx 和 pgxpool.Pool 的公共子集
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// NextAttempt 计算一次发布失败后的状态：
// 达到 maxRetries 后置为 failed，否则按 5s × retryCount 线性退避
func NextAttempt(retryCount, maxRetries int, now time.Time) (string, *time.Time) {
	if retryCount >= maxRetries {
		return StatusFailed, nil
	}
	next := now.Add(time.Duration(retryCount) * 5 * time.Second)
	return StatusPending, &next
}

// Repository 是 Postgres 上的 outbox_events 表
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// InsertEvent 在业务事务中插入事件，保证与状态变更一起提交
func (r *Repository) InsertEvent(ctx context.Context, tx Querier, event *Event) error {
	if event.Status == "" {
		event.Status = StatusPending
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, routing_key, payload, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`,
		event.AggregateType,
		event.AggregateID,
		event.RoutingKey,
		event.Payload,
		event.Status,
	).Scan(&event.ID, &event.CreatedAt, &event.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

const selectEventColumns = `
	SELECT id, aggregate_type, aggregate_id, routing_key, payload, status,
	       retry_count, next_retry_at, created_at, updated_at
	FROM outbox_events
`

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	err := row.Scan(
		&e.ID,
		&e.AggregateType,
		&e.AggregateID,
		&e.RoutingKey,
		&e.Payload,
		&e.Status,
		&e.RetryCount,
		&e.NextRetryAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *Repository) queryEvents(ctx context.Context, query string, args ...any) ([]*Event, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetPendingEvents 获取到期的待发送事件
func (r *Repository) GetPendingEvents(ctx context.Context, limit int) ([]*Event, error) {
	return r.queryEvents(ctx, selectEventColumns+`
		WHERE status = 'pending'
		AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		ORDER BY id ASC
		LIMIT $1
	`, limit)
}

func (r *Repository) MarkAsSent(ctx context.Context, eventID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'sent', updated_at = NOW()
		WHERE id = $1
	`, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event as sent: %w", err)
	}
	return nil
}

// MarkAsFailed 增加重试次数并安排下一次发布
func (r *Repository) MarkAsFailed(ctx context.Context, eventID int64, maxRetries int) error {
	var retryCount int
	err := r.db.QueryRow(ctx, `SELECT retry_count FROM outbox_events WHERE id = $1`, eventID).Scan(&retryCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrEventNotFound
		}
		return fmt.Errorf("failed to get retry count: %w", err)
	}

	retryCount++
	status, nextRetryAt := NextAttempt(retryCount, maxRetries, time.Now())

	_, err = r.db.Exec(ctx, `
		UPDATE outbox_events
		SET status = $1, retry_count = $2, next_retry_at = $3, updated_at = NOW()
		WHERE id = $4
	`, status, retryCount, nextRetryAt, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}
	return nil
}

func (r *Repository) GetEventByID(ctx context.Context, eventID int64) (*Event, error) {
	e, err := scanEvent(r.db.QueryRow(ctx, selectEventColumns+` WHERE id = $1`, eventID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return e, nil
}

// ReplayEvent 把事件重置为 pending，由 dispatcher 重新发布
func (r *Repository) ReplayEvent(ctx context.Context, eventID int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'pending', retry_count = 0, next_retry_at = NULL, updated_at = NOW()
		WHERE id = $1
	`, eventID)
	if err != nil {
		return fmt.Errorf("failed to replay event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// GetFailedEvents 获取所有已放弃重试的事件（管理接口使用）
func (r *Repository) GetFailedEvents(ctx context.Context, limit int) ([]*Event, error) {
	return r.queryEvents(ctx, selectEventColumns+`
		WHERE status = 'failed'
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
}

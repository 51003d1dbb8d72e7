// Package notify 把生命周期事件转换为站内通知：先持久化，再尽力推送
package notify

import (
	"context"
	"fmt"

	mqcontracts "freelancehub/contracts/mq"
	"freelancehub/internal/model"
	"freelancehub/internal/repository"
	"freelancehub/pkg/logger"
	"freelancehub/pkg/metrics"

	"go.uber.org/zap"
)

// Pusher 实时推送通道，失败不影响通知持久化
type Pusher interface {
	Push(ctx context.Context, room string, msg mqcontracts.NotificationPushPayload) error
}

// RoomKey 用户的推送房间
func RoomKey(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

type Dispatcher struct {
	repo   repository.NotificationRepository
	pusher Pusher
	logger *zap.Logger
}

func NewDispatcher(repo repository.NotificationRepository, pusher Pusher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{repo: repo, pusher: pusher, logger: logger}
}

// Dispatch 为事件的每个接收者写入通知。重复投递时已存在的通知不会再次推送。
// 只有持久化失败会返回错误。
func (d *Dispatcher) Dispatch(ctx context.Context, e *mqcontracts.LifecycleEvent) ([]*model.Notification, error) {
	log := logger.WithTrace(ctx, d.logger).With(
		zap.String("event_id", e.EventID),
		zap.String("event_type", e.Type),
	)

	notifications := Build(e)
	if len(notifications) == 0 {
		log.Debug("No notifications for event")
		return nil, nil
	}

	for _, n := range notifications {
		created, err := d.repo.Persist(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("failed to persist notification for user %d: %w", n.UserID, err)
		}
		if !created {
			log.Debug("Notification already persisted", zap.Int64("user_id", n.UserID), zap.Int64("notification_id", n.ID))
			continue
		}
		d.push(ctx, log, n)
	}
	return notifications, nil
}

func (d *Dispatcher) push(ctx context.Context, log *zap.Logger, n *model.Notification) {
	if d.pusher == nil {
		return
	}
	msg := mqcontracts.NotificationPushPayload{
		Type: n.Type,
		Notification: mqcontracts.PushedInboxItem{
			ID:             n.ID,
			UserID:         n.UserID,
			Type:           n.Type,
			Title:          n.Title,
			Message:        n.Message,
			Priority:       n.Priority,
			ActionRequired: n.ActionRequired,
			ProjectID:      n.ProjectID,
			MilestoneID:    n.MilestoneID,
			BidID:          n.BidID,
			PaymentID:      n.PaymentID,
			CreatedAt:      n.CreatedAt,
		},
	}
	if err := d.pusher.Push(ctx, RoomKey(n.UserID), msg); err != nil {
		metrics.IncrementNotificationPush("failed")
		log.Warn("Failed to push notification",
			zap.Int64("user_id", n.UserID),
			zap.Int64("notification_id", n.ID),
			zap.Error(err),
		)
		return
	}
	metrics.IncrementNotificationPush("sent")
}

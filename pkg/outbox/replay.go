package outbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ReplayService 把事件重新放回发布队列（管理接口使用）
type ReplayService struct {
	source Source
	logger *zap.Logger
}

func NewReplayService(source Source, logger *zap.Logger) *ReplayService {
	return &ReplayService{source: source, logger: logger}
}

// ReplayEvent 重置指定事件，下一轮 dispatcher 扫描时重新发布
func (s *ReplayService) ReplayEvent(ctx context.Context, eventID int64) error {
	if _, err := s.source.GetEventByID(ctx, eventID); err != nil {
		return fmt.Errorf("failed to get event: %w", err)
	}
	if err := s.source.ReplayEvent(ctx, eventID); err != nil {
		return err
	}
	s.logger.Info("Outbox event scheduled for replay", zap.Int64("event_id", eventID))
	return nil
}

// ReplayFailedEvents 重置最多 limit 个失败事件，返回成功重置的数量
func (s *ReplayService) ReplayFailedEvents(ctx context.Context, limit int) (int, error) {
	events, err := s.source.GetFailedEvents(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to get failed events: %w", err)
	}

	replayed := 0
	for _, event := range events {
		if err := s.source.ReplayEvent(ctx, event.ID); err != nil {
			s.logger.Warn("Failed to replay outbox event", zap.Int64("event_id", event.ID), zap.Error(err))
			continue
		}
		replayed++
	}
	return replayed, nil
}

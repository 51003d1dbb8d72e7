package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// LocalBus 是进程内的发布端，mq.url 为空时替代 RabbitMQ。
// 发布即同步调用 handler，handler 返回的错误会让 outbox 事件稍后重试。
type LocalBus struct {
	handler MessageHandler
	logger  *zap.Logger
}

func NewLocalBus(handler MessageHandler, logger *zap.Logger) *LocalBus {
	return &LocalBus{handler: handler, logger: logger}
}

func (b *LocalBus) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("local bus marshal: %w", err)
	}
	if b.handler == nil {
		b.logger.Debug("Local bus has no handler, dropping event", zap.String("routing_key", routingKey))
		return nil
	}
	return b.handler(ctx, routingKey, body)
}

func (b *LocalBus) IsConnected() bool { return true }

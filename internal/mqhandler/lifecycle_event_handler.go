package mqhandler

import (
	"context"
	"encoding/json"
	"time"

	mqcontracts "freelancehub/contracts/mq"
	"freelancehub/internal/notify"
	"freelancehub/pkg/logger"
	"freelancehub/pkg/util"

	"go.uber.org/zap"
)

const notifyHandlerName = "notify"

// DLQPublisher 死信发布，pkg/mq.Publisher 实现了它
type DLQPublisher interface {
	PublishToDLQ(routingKey string, payload []byte, originalError, failedAt string) error
}

// LifecycleEventHandler 消费生命周期事件并写入站内通知
type LifecycleEventHandler struct {
	dispatcher   *notify.Dispatcher
	deduper      *util.Deduper
	retryCounter *util.RetryCounter
	dlq          DLQPublisher
	maxRetries   int64
	logger       *zap.Logger
}

func NewLifecycleEventHandler(
	dispatcher *notify.Dispatcher,
	deduper *util.Deduper,
	retryCounter *util.RetryCounter,
	dlq DLQPublisher,
	maxRetries int64,
	logger *zap.Logger,
) *LifecycleEventHandler {
	return &LifecycleEventHandler{
		dispatcher:   dispatcher,
		deduper:      deduper,
		retryCounter: retryCounter,
		dlq:          dlq,
		maxRetries:   maxRetries,
		logger:       logger,
	}
}

// Handle 实现 mq.MessageHandler。返回 nil 表示 ack（成功、重复或已进入死信），
// 返回错误表示 nack 并重新入队。
func (h *LifecycleEventHandler) Handle(ctx context.Context, routingKey string, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger).With(zap.String("routing_key", routingKey))

	var e mqcontracts.LifecycleEvent
	if err := json.Unmarshal(raw, &e); err != nil {
		log.Error("Invalid lifecycle event payload, sending to DLQ", zap.Error(err))
		h.sendToDLQ(log, routingKey, raw, err)
		return nil
	}
	if e.Type == "" {
		e.Type = routingKey
	}

	if !h.deduper.AcquireOnce(ctx, notifyHandlerName, e.EventID) {
		log.Info("Duplicate lifecycle event skipped", zap.String("event_id", e.EventID))
		return nil
	}

	notifications, err := h.dispatcher.Dispatch(ctx, &e)
	if err != nil {
		return h.handleFailure(ctx, log, routingKey, raw, e.EventID, err)
	}

	_ = h.retryCounter.Reset(ctx, util.FormatRetryKey(notifyHandlerName, e.EventID))
	log.Info("Lifecycle event notified",
		zap.String("event_id", e.EventID),
		zap.Int("notifications", len(notifications)),
	)
	return nil
}

func (h *LifecycleEventHandler) handleFailure(ctx context.Context, log *zap.Logger, routingKey string, raw []byte, eventID string, err error) error {
	// 释放去重键，重新投递时才能再次处理
	h.deduper.Release(ctx, notifyHandlerName, eventID)

	retryKey := util.FormatRetryKey(notifyHandlerName, eventID)
	retryCount, _ := h.retryCounter.IncrementAndGet(ctx, retryKey)
	isRetryable, errType := util.IsRetryableError(err)

	log.Warn("Failed to notify lifecycle event",
		zap.String("event_id", eventID),
		zap.String("error_type", errType),
		zap.Bool("retryable", isRetryable),
		zap.Int64("retry", retryCount),
		zap.Error(err),
	)

	if util.ShouldRetry(retryCount, h.maxRetries, isRetryable) {
		return err
	}
	h.sendToDLQ(log, routingKey, raw, err)
	_ = h.retryCounter.Reset(ctx, retryKey)
	return nil
}

func (h *LifecycleEventHandler) sendToDLQ(log *zap.Logger, routingKey string, raw []byte, cause error) {
	if h.dlq == nil {
		log.Warn("No DLQ configured, dropping message")
		return
	}
	if err := h.dlq.PublishToDLQ(routingKey, raw, cause.Error(), time.Now().UTC().Format(time.RFC3339)); err != nil {
		log.Error("Failed to publish message to DLQ", zap.Error(err))
	}
}

package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"freelancehub/pkg/logger"
	"freelancehub/pkg/metrics"
	"freelancehub/pkg/trace"

	"go.uber.org/zap"
)

// Publisher 是事件的投递端（RabbitMQ publisher 或进程内 bus）
type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// Dispatcher 负责从 outbox 中读取事件并发布到 MQ
type Dispatcher struct {
	source     Source
	publisher  Publisher
	logger     *zap.Logger
	maxRetries int
	interval   time.Duration
	batchSize  int
}

func NewDispatcher(source Source, publisher Publisher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		source:     source,
		publisher:  publisher,
		logger:     logger,
		maxRetries: 5,
		interval:   time.Second,
		batchSize:  100,
	}
}

func (d *Dispatcher) WithMaxRetries(maxRetries int) *Dispatcher {
	if maxRetries > 0 {
		d.maxRetries = maxRetries
	}
	return d
}

func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Dispatcher) WithBatchSize(batchSize int) *Dispatcher {
	if batchSize > 0 {
		d.batchSize = batchSize
	}
	return d
}

// Start 阻塞运行直到 ctx 取消，应在 goroutine 中调用
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Starting Outbox Dispatcher",
		zap.Int("max_retries", d.maxRetries),
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Outbox Dispatcher stopped")
			return
		case <-ticker.C:
			d.ProcessPending(ctx)
		}
	}
}

// ProcessPending 发布一批到期事件，返回发布成功的数量
func (d *Dispatcher) ProcessPending(ctx context.Context) int {
	events, err := d.source.GetPendingEvents(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("Failed to get pending events", zap.Error(err))
		return 0
	}
	if len(events) == 0 {
		return 0
	}

	d.logger.Debug("Processing pending events", zap.Int("count", len(events)))

	sent := 0
	for _, event := range events {
		if ctx.Err() != nil {
			return sent
		}
		if err := d.publish(ctx, event); err != nil {
			metrics.IncrementOutboxPublished(event.RoutingKey, "error")
			d.logger.Error("Failed to publish event",
				zap.Int64("event_id", event.ID),
				zap.String("routing_key", event.RoutingKey),
				zap.Int("retry_count", event.RetryCount),
				zap.Error(err),
			)
			if err := d.source.MarkAsFailed(ctx, event.ID, d.maxRetries); err != nil {
				d.logger.Error("Failed to mark event as failed",
					zap.Int64("event_id", event.ID),
					zap.Error(err),
				)
			}
			continue
		}

		metrics.IncrementOutboxPublished(event.RoutingKey, "sent")
		if err := d.source.MarkAsSent(ctx, event.ID); err != nil {
			// 已发布但未标记：下一轮会重复发布，由消费端去重
			d.logger.Error("Failed to mark event as sent",
				zap.Int64("event_id", event.ID),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent
}

func (d *Dispatcher) publish(ctx context.Context, event *Event) error {
	if traceID := traceIDFromPayload(event.Payload); traceID != "" {
		ctx = trace.WithContext(ctx, traceID)
	}

	logger.WithTrace(ctx, d.logger).Debug("Publishing outbox event",
		zap.Int64("event_id", event.ID),
		zap.String("routing_key", event.RoutingKey),
	)

	if err := d.publisher.PublishWithContext(ctx, event.RoutingKey, json.RawMessage(event.Payload)); err != nil {
		return fmt.Errorf("failed to publish to MQ: %w", err)
	}
	return nil
}

package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"freelancehub/pkg/metrics"
	"freelancehub/pkg/trace"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// MessageHandler 处理一条消息，routingKey 为消息投递时使用的路由键
type MessageHandler func(ctx context.Context, routingKey string, data json.RawMessage) error

type Consumer struct {
	channel     *amqp091.Channel
	queue       amqp091.Queue
	routingKeys []string
	consumerTag string
	handler     MessageHandler
	conn        *amqp091.Connection
	logger      *zap.Logger
	stopped     atomic.Bool
}

// NewConsumer creates a consumer whose queue is bound to every given routing key.
func NewConsumer(url, queueName string, routingKeys []string, logger *zap.Logger) (*Consumer, error) {
	if len(routingKeys) == 0 {
		return nil, fmt.Errorf("consumer %s: no routing keys", queueName)
	}

	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	fail := func(format string, err error) (*Consumer, error) {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf(format, err)
	}

	if err := declareExchanges(ch); err != nil {
		return fail("consumer setup: %w", err)
	}
	q, err := declareQueue(ch, ExchangeName, queueName, routingKeys)
	if err != nil {
		return fail("consumer setup: %w", err)
	}
	if _, err := declareQueue(ch, DLQExchangeName, queueName+".dlq", routingKeys); err != nil {
		return fail("consumer setup: %w", err)
	}

	// 一次只取一条，保证 Nack 重新入队后不会积压在本地
	if err := ch.Qos(1, 0, false); err != nil {
		return fail("failed to set qos: %w", err)
	}

	logger.Info("Consumer initialized",
		zap.Strings("routing_keys", routingKeys),
		zap.String("queue", queueName),
		zap.String("exchange", ExchangeName),
	)

	return &Consumer{
		conn:        conn,
		channel:     ch,
		queue:       q,
		routingKeys: routingKeys,
		consumerTag: queueName + "-consumer",
		logger:      logger,
	}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

// IsConnected reports whether the underlying AMQP connection is still open.
func (c *Consumer) IsConnected() bool {
	return c.conn != nil && !c.conn.IsClosed() && !c.stopped.Load()
}

// Stop cancels the delivery stream; StartConsuming returns once in-flight messages are settled.
func (c *Consumer) Stop() {
	if c.stopped.Swap(true) {
		return
	}
	if c.channel != nil {
		if err := c.channel.Cancel(c.consumerTag, false); err != nil {
			c.logger.Warn("Failed to cancel consumer", zap.String("queue", c.queue.Name), zap.Error(err))
		}
	}
}

func (c *Consumer) Close() {
	c.Stop()
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming starts consuming messages. This method blocks and should be called in a goroutine.
func (c *Consumer) StartConsuming() error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		c.consumerTag,
		false, // 手动ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.Strings("routing_keys", c.routingKeys),
		zap.String("queue", c.queue.Name),
	)

	// 每条消息都必须被 ack 或 nack
	for msg := range deliveries {
		c.handleDelivery(msg)
	}

	c.logger.Info("Consumer delivery channel closed", zap.String("queue", c.queue.Name))
	return nil
}

func (c *Consumer) handleDelivery(msg amqp091.Delivery) {
	start := time.Now()
	ctx := context.Background()
	if traceID, ok := msg.Headers[trace.HeaderName].(string); ok && traceID != "" {
		ctx = trace.WithContext(ctx, traceID)
	}

	defer func() {
		metrics.RecordMQConsumeLatency(msg.RoutingKey, c.queue.Name, time.Since(start))
	}()

	// handler panic 时拒绝消息并重新入队
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Handler panic recovered",
				zap.String("routing_key", msg.RoutingKey),
				zap.String("queue", c.queue.Name),
				zap.Any("panic", r),
			)
			if err := msg.Nack(false, true); err != nil {
				c.logger.Error("Failed to nack message after panic",
					zap.String("routing_key", msg.RoutingKey),
					zap.Error(err),
				)
			}
		}
	}()

	if err := c.handler(ctx, msg.RoutingKey, msg.Body); err != nil {
		c.logger.Error("Handler error",
			zap.String("routing_key", msg.RoutingKey),
			zap.String("queue", c.queue.Name),
			zap.Error(err),
		)
		if err := msg.Nack(false, true); err != nil {
			c.logger.Error("Failed to nack message",
				zap.String("routing_key", msg.RoutingKey),
				zap.Error(err),
			)
		}
		return
	}

	if err := msg.Ack(false); err != nil {
		c.logger.Error("Failed to ack message",
			zap.String("routing_key", msg.RoutingKey),
			zap.Error(err),
		)
		return
	}
	c.logger.Debug("Message processed successfully",
		zap.String("routing_key", msg.RoutingKey),
		zap.String("queue", c.queue.Name),
	)
}

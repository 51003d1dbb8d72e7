package mq

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

// 生命周期事件走 topic exchange，routing key 即事件类型；处理失败的消息进入同名的 .dlq
const (
	ExchangeName    = "freelancehub.lifecycle"
	DLQExchangeName = ExchangeName + ".dlq"
)

func NewConnection(url string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// declareExchanges 声明事件 exchange 和死信 exchange，两者都是 durable topic
func declareExchanges(ch *amqp091.Channel) error {
	for _, name := range []string{ExchangeName, DLQExchangeName} {
		if err := ch.ExchangeDeclare(name, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", name, err)
		}
	}
	return nil
}

// declareQueue 声明 durable 队列并绑定到 exchange 上的每个 routing key
func declareQueue(ch *amqp091.Channel, exchange, queueName string, routingKeys []string) (amqp091.Queue, error) {
	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}
	for _, key := range routingKeys {
		if err := ch.QueueBind(q.Name, key, exchange, false, nil); err != nil {
			return amqp091.Queue{}, fmt.Errorf("failed to bind queue %s to %s: %w", q.Name, key, err)
		}
	}
	return q, nil
}

// PublishToDLQ 把无法处理的消息连同失败原因写入死信 exchange，routing key 保持不变
func (p *Publisher) PublishToDLQ(routingKey string, payload []byte, originalError, failedAt string) error {
	if !p.IsConnected() {
		return fmt.Errorf("publish %s to dlq: publisher is not connected", routingKey)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.channel.Publish(
		DLQExchangeName,
		routingKey,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp091.Persistent,
			Headers: amqp091.Table{
				"x-original-error":       originalError,
				"x-failed-at":            failedAt,
				"x-original-routing-key": routingKey,
			},
		},
	)
}

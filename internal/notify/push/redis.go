package push

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mqcontracts "freelancehub/contracts/mq"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ChannelPrefix Redis 频道为 push:<room>
const ChannelPrefix = "push:"

// RedisPusher notifier 进程没有 websocket 连接，通过 Redis 把消息转给 API 进程
type RedisPusher struct {
	rdb *redis.Client
}

func NewRedisPusher(rdb *redis.Client) *RedisPusher {
	return &RedisPusher{rdb: rdb}
}

func (p *RedisPusher) Push(ctx context.Context, room string, msg mqcontracts.NotificationPushPayload) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %w", err)
	}
	if err := p.rdb.Publish(ctx, ChannelPrefix+room, data).Err(); err != nil {
		return fmt.Errorf("failed to publish push message: %w", err)
	}
	return nil
}

// Relay 订阅 push:* 并把消息写入本进程的 Hub
type Relay struct {
	rdb    *redis.Client
	hub    *Hub
	logger *zap.Logger
}

func NewRelay(rdb *redis.Client, hub *Hub, logger *zap.Logger) *Relay {
	return &Relay{rdb: rdb, hub: hub, logger: logger}
}

// Start 阻塞直到 ctx 取消
func (r *Relay) Start(ctx context.Context) error {
	sub := r.rdb.PSubscribe(ctx, ChannelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe push channels: %w", err)
	}
	r.logger.Info("Push relay subscribed", zap.String("pattern", ChannelPrefix+"*"))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			room := strings.TrimPrefix(msg.Channel, ChannelPrefix)
			if err := r.hub.broadcast(room, []byte(msg.Payload)); err != nil {
				r.logger.Warn("Failed to relay push message", zap.String("room", room), zap.Error(err))
			}
		}
	}
}

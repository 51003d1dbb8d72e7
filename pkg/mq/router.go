package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Router 按 routing key 分发消息到对应 handler
type Router struct {
	routes map[string]MessageHandler
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		routes: make(map[string]MessageHandler),
		logger: logger,
	}
}

func (r *Router) Register(routingKey string, h MessageHandler) {
	r.routes[routingKey] = h
}

// RoutingKeys 返回所有已注册的路由键，用于绑定队列
func (r *Router) RoutingKeys() []string {
	keys := make([]string, 0, len(r.routes))
	for k := range r.routes {
		keys = append(keys, k)
	}
	return keys
}

// Handle implements MessageHandler. Unknown routing keys are dropped.
func (r *Router) Handle(ctx context.Context, routingKey string, data json.RawMessage) (err error) {
	h, ok := r.routes[routingKey]
	if !ok {
		r.logger.Warn("No handler for routing key", zap.String("routing_key", routingKey))
		return nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Router handler panic recovered",
				zap.String("routing_key", routingKey),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()

	return h(ctx, routingKey, data)
}

// Chain 依次执行 handler，遇到第一个错误即返回
func Chain(handlers ...MessageHandler) MessageHandler {
	return func(ctx context.Context, routingKey string, data json.RawMessage) error {
		for _, h := range handlers {
			if err := h(ctx, routingKey, data); err != nil {
				return err
			}
		}
		return nil
	}
}

package push

import (
	"context"

	mqcontracts "freelancehub/contracts/mq"
	"freelancehub/pkg/circuitbreaker"
)

type Pusher interface {
	Push(ctx context.Context, room string, msg mqcontracts.NotificationPushPayload) error
}

// BreakerPusher 推送通道连续失败时直接跳过推送，避免拖慢通知处理
type BreakerPusher struct {
	next Pusher
	cb   *circuitbreaker.CircuitBreaker
}

func NewBreakerPusher(next Pusher, cfg circuitbreaker.Config) *BreakerPusher {
	return &BreakerPusher{next: next, cb: circuitbreaker.NewCircuitBreaker(cfg)}
}

func (p *BreakerPusher) Push(ctx context.Context, room string, msg mqcontracts.NotificationPushPayload) error {
	return p.cb.Execute(func() error {
		return p.next.Push(ctx, room, msg)
	})
}

func (p *BreakerPusher) State() circuitbreaker.State {
	return p.cb.GetState()
}

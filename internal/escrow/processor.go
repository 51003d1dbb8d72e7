package escrow

import (
	"context"

	"freelancehub/internal/model"

	"github.com/google/uuid"
)

// Processor 外部支付通道。Hold 返回交易流水号
type Processor interface {
	Hold(ctx context.Context, p *model.EscrowPayment) (string, error)
	Release(ctx context.Context, p *model.EscrowPayment) error
}

// SimulatedProcessor 不接入真实支付，只生成交易流水号
type SimulatedProcessor struct{}

func (SimulatedProcessor) Hold(_ context.Context, _ *model.EscrowPayment) (string, error) {
	return "sim_" + uuid.NewString(), nil
}

func (SimulatedProcessor) Release(_ context.Context, _ *model.EscrowPayment) error {
	return nil
}

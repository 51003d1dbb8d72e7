package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"freelancehub/internal/apperr"
	"freelancehub/internal/model"
	"freelancehub/internal/repository"
	"freelancehub/pkg/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var DefaultCommissionRate = decimal.RequireFromString("0.05")

type Config struct {
	CommissionRate decimal.Decimal
	// FeeAccountUserID 非 0 时平台佣金记入该账户的流水，否则只记录在付款上
	FeeAccountUserID int64
}

// Ledger 托管资金：注资冻结、批准放款（扣除平台佣金）以及资金流水
type Ledger struct {
	rate       decimal.Decimal
	feeAccount int64
	processor  Processor
	logger     *zap.Logger
	now        func() time.Time
}

func NewLedger(cfg Config, processor Processor, logger *zap.Logger) (*Ledger, error) {
	rate := cfg.CommissionRate
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("commission rate must be in [0, 1), got %s", rate)
	}
	if processor == nil {
		processor = SimulatedProcessor{}
	}
	return &Ledger{
		rate:       rate,
		feeAccount: cfg.FeeAccountUserID,
		processor:  processor,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (l *Ledger) CommissionRate() decimal.Decimal { return l.rate }

// Split 计算平台佣金和自由职业者实得金额，佣金四舍五入到分
func (l *Ledger) Split(amount decimal.Decimal) (fee, net decimal.Decimal) {
	fee = amount.Mul(l.rate).Round(2)
	return fee, amount.Sub(fee)
}

// Fund 为里程碑冻结托管资金并记录客户的负向流水。
// 已存在 held/released/completed 付款时不重复扣款，返回已有付款和 already_done 错误。
func (l *Ledger) Fund(ctx context.Context, tx repository.Tx, project *model.Project, m *model.Milestone) (*model.EscrowPayment, error) {
	existing, err := tx.Payments().FindActive(ctx, m.ID)
	switch {
	case err == nil:
		return existing, apperr.AlreadyDone("milestone %d is already funded (payment %d is %s)", m.ID, existing.ID, existing.Status)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, apperr.Persistence("find escrow payment", err)
	}

	now := l.now()
	p := &model.EscrowPayment{
		MilestoneID:  m.ID,
		ProjectID:    project.ID,
		ClientID:     project.ClientID,
		FreelancerID: project.FreelancerID(),
		Amount:       m.Amount,
		Status:       model.PaymentPending,
		CreatedAt:    now,
	}
	if err := tx.Payments().Insert(ctx, p); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperr.AlreadyDone("milestone %d is already funded", m.ID)
		}
		return nil, apperr.Persistence("insert escrow payment", err)
	}

	txnID, err := l.processor.Hold(ctx, p)
	if err != nil {
		return nil, apperr.Persistence("hold escrow funds", err)
	}
	p.TransactionID = txnID
	p.Status = model.PaymentHeld
	p.PaidAt = &now
	if err := tx.Payments().Update(ctx, p); err != nil {
		return nil, apperr.Persistence("update escrow payment", err)
	}

	if err := tx.Ledger().Append(ctx, &model.LedgerTransaction{
		UserID:      project.ClientID,
		PaymentID:   p.ID,
		MilestoneID: m.ID,
		EntryType:   model.LedgerFundHold,
		Amount:      m.Amount.Neg(),
		Description: fmt.Sprintf("Escrow hold for milestone %q", m.Title),
		CreatedAt:   now,
	}); err != nil {
		return nil, apperr.Persistence("append ledger entry", err)
	}

	amount, _ := p.Amount.Float64()
	metrics.AddEscrowAmount("held", amount)
	l.logger.Info("Escrow funds held",
		zap.Int64("milestone_id", m.ID),
		zap.Int64("payment_id", p.ID),
		zap.String("amount", p.Amount.String()),
		zap.String("transaction_id", p.TransactionID),
	)
	return p, nil
}

// Release 把 held 付款放给自由职业者，扣除平台佣金。
// 付款不是 held 状态时为幂等空操作，返回 already_done。
func (l *Ledger) Release(ctx context.Context, tx repository.Tx, m *model.Milestone) (*model.EscrowPayment, error) {
	p, err := tx.Payments().FindActive(ctx, m.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("no escrow payment held for milestone %d", m.ID)
		}
		return nil, apperr.Persistence("find escrow payment", err)
	}
	if p.Status != model.PaymentHeld {
		return p, apperr.AlreadyDone("escrow payment %d for milestone %d is already %s", p.ID, m.ID, p.Status)
	}

	if err := l.processor.Release(ctx, p); err != nil {
		return nil, apperr.Persistence("release escrow funds", err)
	}

	now := l.now()
	fee, net := l.Split(p.Amount)
	p.PlatformFee = fee
	p.FreelancerAmount = net
	p.Status = model.PaymentReleased
	p.ReleasedAt = &now
	if err := tx.Payments().Update(ctx, p); err != nil {
		return nil, apperr.Persistence("update escrow payment", err)
	}

	if err := tx.Ledger().Append(ctx, &model.LedgerTransaction{
		UserID:      p.FreelancerID,
		PaymentID:   p.ID,
		MilestoneID: m.ID,
		EntryType:   model.LedgerEscrowRelease,
		Amount:      net,
		Description: fmt.Sprintf("Payment for milestone %q (fee %s)", m.Title, fee),
		CreatedAt:   now,
	}); err != nil {
		return nil, apperr.Persistence("append ledger entry", err)
	}

	if l.feeAccount != 0 && fee.IsPositive() {
		if err := tx.Ledger().Append(ctx, &model.LedgerTransaction{
			UserID:      l.feeAccount,
			PaymentID:   p.ID,
			MilestoneID: m.ID,
			EntryType:   model.LedgerPlatformFee,
			Amount:      fee,
			Description: fmt.Sprintf("Platform commission for milestone %q", m.Title),
			CreatedAt:   now,
		}); err != nil {
			return nil, apperr.Persistence("append fee ledger entry", err)
		}
	}

	released, _ := net.Float64()
	commission, _ := fee.Float64()
	metrics.AddEscrowAmount("released", released)
	metrics.AddEscrowAmount("commission", commission)
	l.logger.Info("Escrow funds released",
		zap.Int64("milestone_id", m.ID),
		zap.Int64("payment_id", p.ID),
		zap.String("amount", p.Amount.String()),
		zap.String("platform_fee", fee.String()),
		zap.String("freelancer_amount", net.String()),
	)
	return p, nil
}

// Package lifecycle 实现计划审批和里程碑状态机。
// 每个变更操作都在一个事务内完成：锁定项目行、校验角色和前置状态、
// 写入新状态，并把生命周期事件写入 outbox。
package lifecycle

import (
	"context"
	"errors"
	"time"

	mqcontracts "freelancehub/contracts/mq"
	"freelancehub/internal/apperr"
	"freelancehub/internal/escrow"
	"freelancehub/internal/model"
	"freelancehub/internal/plan"
	"freelancehub/internal/repository"
	"freelancehub/pkg/logger"
	"freelancehub/pkg/metrics"
	"freelancehub/pkg/rbac"
	"freelancehub/pkg/trace"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Service struct {
	store     repository.Store
	validator *plan.Validator
	ledger    *escrow.Ledger
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(store repository.Store, validator *plan.Validator, ledger *escrow.Ledger, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		validator: validator,
		ledger:    ledger,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// PlanResult 计划操作的结果，AlreadyDone 表示幂等重放
type PlanResult struct {
	Plan        *model.Plan        `json:"plan"`
	Milestones  []*model.Milestone `json:"milestones,omitempty"`
	AlreadyDone bool               `json:"already_done"`
}

// MilestoneResult 里程碑操作的结果
type MilestoneResult struct {
	Milestone   *model.Milestone     `json:"milestone"`
	Payment     *model.EscrowPayment `json:"payment,omitempty"`
	Next        *model.Milestone     `json:"next_milestone,omitempty"`
	AlreadyDone bool                 `json:"already_done"`
	// PendingStep 非空时批准已记录，但后续步骤失败，等待重试
	PendingStep model.ApprovalStep `json:"pending_step,omitempty"`
	// ProjectFinished 最后一个里程碑完成
	ProjectFinished bool `json:"project_finished,omitempty"`
}

// run 执行一个事务性操作并记录结果指标
func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context, tx repository.Tx) error) error {
	err := s.store.InTx(ctx, fn)
	if err != nil {
		if _, ok := apperr.As(err); !ok {
			err = apperr.Persistence(op, err)
		}
		kind := apperr.KindOf(err)
		metrics.RecordOperation(op, string(kind))
		log := logger.WithTrace(ctx, s.logger)
		if kind == apperr.KindPersistence {
			log.Error("Lifecycle operation failed", zap.String("operation", op), zap.Error(err))
		} else {
			log.Info("Lifecycle operation rejected", zap.String("operation", op), zap.String("kind", string(kind)), zap.Error(err))
		}
		return err
	}
	metrics.RecordOperation(op, "ok")
	return nil
}

func repoErr(op string, err error, format string, args ...any) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(format, args...)
	}
	return apperr.Persistence(op, err)
}

func (s *Service) lockProject(ctx context.Context, tx repository.Tx, projectID int64) (*model.Project, error) {
	p, err := tx.Projects().Lock(ctx, projectID)
	if err != nil {
		return nil, repoErr("lock project", err, "project %d not found", projectID)
	}
	return p, nil
}

// lockMilestone 先找到里程碑所属项目并加锁，再在锁内重新读取里程碑
func (s *Service) lockMilestone(ctx context.Context, tx repository.Tx, milestoneID int64) (*model.Project, *model.Milestone, error) {
	m, err := tx.Milestones().Get(ctx, milestoneID)
	if err != nil {
		return nil, nil, repoErr("get milestone", err, "milestone %d not found", milestoneID)
	}
	p, err := s.lockProject(ctx, tx, m.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	m, err = tx.Milestones().Get(ctx, milestoneID)
	if err != nil {
		return nil, nil, repoErr("get milestone", err, "milestone %d not found", milestoneID)
	}
	return p, m, nil
}

func authorize(userID int64, p *model.Project, permission string) error {
	if err := rbac.CheckPermission(userID, p.Participants(), permission); err != nil {
		return apperr.Permission(err)
	}
	return nil
}

func (s *Service) newEvent(ctx context.Context, eventType string, p *model.Project) *mqcontracts.LifecycleEvent {
	return &mqcontracts.LifecycleEvent{
		EventID:      uuid.NewString(),
		Type:         eventType,
		ProjectID:    p.ID,
		ProjectTitle: p.Title,
		ClientID:     p.ClientID,
		FreelancerID: p.FreelancerID(),
		BidID:        p.BidID(),
		TraceID:      trace.FromContext(ctx),
		OccurredAt:   s.now(),
	}
}

func withMilestone(e *mqcontracts.LifecycleEvent, m *model.Milestone) *mqcontracts.LifecycleEvent {
	id := m.ID
	amount := m.Amount
	e.MilestoneID = &id
	e.MilestoneTitle = m.Title
	e.Amount = &amount
	return e
}

func withPayment(e *mqcontracts.LifecycleEvent, p *model.EscrowPayment) *mqcontracts.LifecycleEvent {
	if p == nil {
		return e
	}
	id := p.ID
	e.PaymentID = &id
	if !p.PlatformFee.IsZero() || !p.FreelancerAmount.IsZero() {
		fee, net := p.PlatformFee, p.FreelancerAmount
		e.PlatformFee = &fee
		e.FreelancerNet = &net
	}
	return e
}

func emit(ctx context.Context, tx repository.Tx, e *mqcontracts.LifecycleEvent) error {
	if err := tx.Events().Append(ctx, e); err != nil {
		return apperr.Persistence("append lifecycle event", err)
	}
	return nil
}

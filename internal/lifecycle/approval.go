package lifecycle

import (
	"context"
	"errors"

	mqcontracts "freelancehub/contracts/mq"
	"freelancehub/internal/apperr"
	"freelancehub/internal/model"
	"freelancehub/internal/repository"
	"freelancehub/pkg/logger"
	"freelancehub/pkg/metrics"
	"freelancehub/pkg/rbac"
	"freelancehub/pkg/trace"

	"go.uber.org/zap"
)

// ApproveMilestone 客户批准已提交的里程碑。
// 批准本身在第一个事务中记录，随后按 released → completed → done 逐步推进，
// 每一步单独提交并更新进度标记；失败的步骤由重复调用或 Sweeper 从标记处继续。
func (s *Service) ApproveMilestone(ctx context.Context, userID, milestoneID int64) (*MilestoneResult, error) {
	var (
		res  MilestoneResult
		saga *model.ApprovalSaga
	)
	err := s.run(ctx, "approve_milestone", func(ctx context.Context, tx repository.Tx) error {
		p, m, err := s.lockMilestone(ctx, tx, milestoneID)
		if err != nil {
			return err
		}
		if err := authorize(userID, p, rbac.PermissionReviewMilestone); err != nil {
			return err
		}
		res.Milestone = m

		existing, err := tx.Approvals().Get(ctx, m.ID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return apperr.Persistence("get approval", err)
		}

		switch {
		case m.Status == model.MilestoneApproved || m.Status == model.MilestoneCompleted:
			res.AlreadyDone = true
			if existing != nil && !existing.Finished() {
				saga = existing
			}
			return nil
		case m.Status != model.MilestoneSubmitted:
			return apperr.Ordering("milestone %d is %s; only a submitted milestone can be approved", m.ID, m.Status)
		}
		if err := s.requirePredecessorsResolved(ctx, tx, m, "approved"); err != nil {
			return err
		}

		now := s.now()
		m.Status = model.MilestoneApproved
		m.ApprovedAt = &now
		if err := tx.Milestones().Update(ctx, m); err != nil {
			return apperr.Persistence("update milestone", err)
		}

		saga = &model.ApprovalSaga{
			MilestoneID: m.ID,
			ProjectID:   p.ID,
			ActorID:     userID,
			LastStep:    model.ApprovalApproved,
			TraceID:     trace.FromContext(ctx),
		}
		if err := tx.Approvals().Save(ctx, saga); err != nil {
			return apperr.Persistence("save approval", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if saga != nil {
		out := s.advance(ctx, saga)
		res.PendingStep = out.pending
		res.ProjectFinished = out.projectFinished
		res.Next = out.next
		if out.milestone != nil {
			res.Milestone = out.milestone
		}
		if out.payment != nil {
			res.Payment = out.payment
		}
	}
	if res.Payment == nil {
		res.Payment = s.activePayment(ctx, milestoneID)
	}
	return &res, nil
}

type sagaOutcome struct {
	milestone       *model.Milestone
	payment         *model.EscrowPayment
	next            *model.Milestone
	pending         model.ApprovalStep
	projectFinished bool
}

type sagaStep struct {
	name model.ApprovalStep
	from model.ApprovalStep
	run  func(ctx context.Context, tx repository.Tx, p *model.Project, m *model.Milestone, out *sagaOutcome) error
}

func (s *Service) sagaSteps() []sagaStep {
	return []sagaStep{
		{name: model.ApprovalReleased, from: model.ApprovalApproved, run: s.stepRelease},
		{name: model.ApprovalCompleted, from: model.ApprovalReleased, run: s.stepComplete},
		{name: model.ApprovalDone, from: model.ApprovalCompleted, run: s.stepActivateNext},
	}
}

// advance 从进度标记处继续执行剩余步骤。遇到失败时记录错误并停止，
// 返回的 pending 为尚未完成的步骤
func (s *Service) advance(ctx context.Context, saga *model.ApprovalSaga) sagaOutcome {
	if saga.TraceID != "" && trace.FromContext(ctx) == "" {
		ctx = trace.WithContext(ctx, saga.TraceID)
	}
	log := logger.WithTrace(ctx, s.logger).With(zap.Int64("milestone_id", saga.MilestoneID))

	var out sagaOutcome
	for _, step := range s.sagaSteps() {
		if saga.LastStep != step.from {
			continue
		}
		err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			p, m, err := s.lockMilestone(ctx, tx, saga.MilestoneID)
			if err != nil {
				return err
			}
			current, err := tx.Approvals().Get(ctx, saga.MilestoneID)
			if err != nil {
				return apperr.Persistence("get approval", err)
			}
			// 其他请求或 Sweeper 已推进过这一步
			if current.LastStep != step.from {
				*saga = *current
				return errSkipStep
			}
			if err := step.run(ctx, tx, p, m, &out); err != nil {
				return err
			}
			current.LastStep = step.name
			current.LastError = ""
			if err := tx.Approvals().Save(ctx, current); err != nil {
				return apperr.Persistence("save approval", err)
			}
			*saga = *current
			return nil
		})
		if errors.Is(err, errSkipStep) {
			continue
		}
		if err != nil {
			metrics.IncrementApprovalStepFailure(string(step.name))
			log.Warn("Approval step failed, will be retried",
				zap.String("step", string(step.name)),
				zap.Int("attempts", saga.Attempts+1),
				zap.Error(err),
			)
			s.recordStepFailure(ctx, saga, err)
			out.pending = step.name
			return out
		}
		log.Debug("Approval step completed", zap.String("step", string(step.name)))
	}
	if !saga.Finished() {
		out.pending = nextStep(saga.LastStep)
	}
	return out
}

var errSkipStep = errors.New("approval step already applied")

func nextStep(last model.ApprovalStep) model.ApprovalStep {
	switch last {
	case model.ApprovalApproved:
		return model.ApprovalReleased
	case model.ApprovalReleased:
		return model.ApprovalCompleted
	case model.ApprovalCompleted:
		return model.ApprovalDone
	default:
		return ""
	}
}

func (s *Service) recordStepFailure(ctx context.Context, saga *model.ApprovalSaga, cause error) {
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		current, err := tx.Approvals().Get(ctx, saga.MilestoneID)
		if err != nil {
			return err
		}
		current.Attempts++
		current.LastError = cause.Error()
		if err := tx.Approvals().Save(ctx, current); err != nil {
			return err
		}
		*saga = *current
		return nil
	})
	if err != nil {
		logger.WithTrace(ctx, s.logger).Error("Failed to record approval step failure",
			zap.Int64("milestone_id", saga.MilestoneID),
			zap.Error(err),
		)
	}
}

func (s *Service) stepRelease(ctx context.Context, tx repository.Tx, _ *model.Project, m *model.Milestone, out *sagaOutcome) error {
	payment, err := s.ledger.Release(ctx, tx, m)
	if err != nil && !apperr.IsAlreadyDone(err) {
		return err
	}
	out.payment = payment
	return nil
}

func (s *Service) stepComplete(ctx context.Context, tx repository.Tx, p *model.Project, m *model.Milestone, out *sagaOutcome) error {
	payment, err := tx.Payments().FindActive(ctx, m.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return apperr.Persistence("find escrow payment", err)
	}
	if m.Status != model.MilestoneCompleted {
		now := s.now()
		m.Status = model.MilestoneCompleted
		m.CompletedAt = &now
		if err := tx.Milestones().Update(ctx, m); err != nil {
			return apperr.Persistence("update milestone", err)
		}
	}
	if err := emit(ctx, tx, withPayment(withMilestone(s.newEvent(ctx, mqcontracts.EventMilestoneCompleted, p), m), payment)); err != nil {
		return err
	}
	out.milestone = m
	out.payment = payment
	return nil
}

// stepActivateNext 激活按创建顺序的下一个里程碑；没有可激活的且全部完成时发出项目完成信号
func (s *Service) stepActivateNext(ctx context.Context, tx repository.Tx, p *model.Project, m *model.Milestone, out *sagaOutcome) error {
	list, err := tx.Milestones().ListByProject(ctx, p.ID)
	if err != nil {
		return apperr.Persistence("list milestones", err)
	}
	out.milestone = m

	next := model.NextAfter(list, m.ID)
	if next != nil && next.Status.Activatable() {
		next.Status = model.MilestoneInProgress
		if err := tx.Milestones().Update(ctx, next); err != nil {
			return apperr.Persistence("activate next milestone", err)
		}
		out.next = next
		return emit(ctx, tx, withMilestone(s.newEvent(ctx, mqcontracts.EventMilestoneActivated, p), next))
	}

	// 下一个里程碑无需激活时，检查是否已全部完成
	for _, other := range list {
		if other.Status != model.MilestoneCompleted {
			return nil
		}
	}
	e := s.newEvent(ctx, mqcontracts.EventProjectMilestonesCompleted, p)
	e.MilestoneCount = len(list)
	if err := emit(ctx, tx, e); err != nil {
		return err
	}
	out.projectFinished = true
	return nil
}

func (s *Service) activePayment(ctx context.Context, milestoneID int64) *model.EscrowPayment {
	var payment *model.EscrowPayment
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := tx.Payments().FindActive(ctx, milestoneID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		payment = p
		return nil
	})
	if err != nil {
		logger.WithTrace(ctx, s.logger).Warn("Failed to load escrow payment for approval result",
			zap.Int64("milestone_id", milestoneID),
			zap.Error(err),
		)
	}
	return payment
}

// ResumeApprovals 继续执行未完成的批准流程，返回本轮推进到 done 的数量
func (s *Service) ResumeApprovals(ctx context.Context, limit int) (int, error) {
	var pending []*model.ApprovalSaga
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		pending, err = tx.Approvals().ListUnfinished(ctx, limit)
		return err
	})
	if err != nil {
		return 0, apperr.Persistence("list unfinished approvals", err)
	}

	finished := 0
	for _, saga := range pending {
		if ctx.Err() != nil {
			break
		}
		if out := s.advance(ctx, saga); out.pending == "" {
			finished++
		}
	}
	return finished, nil
}

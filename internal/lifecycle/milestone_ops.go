package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mqcontracts "freelancehub/contracts/mq"
	"freelancehub/internal/apperr"
	"freelancehub/internal/model"
	"freelancehub/internal/plan"
	"freelancehub/internal/repository"
	"freelancehub/pkg/logger"
	"freelancehub/pkg/rbac"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CreateMilestoneInput struct {
	Title       string
	Description string
	Amount      decimal.Decimal
	Deadline    *time.Time
}

// CreateMilestone 在计划批准后追加单个里程碑，检查顺序为：
// 计划已批准、标题在计划中、标题唯一、金额上限、截止日期上限、前序里程碑已解决
func (s *Service) CreateMilestone(ctx context.Context, userID, projectID int64, in CreateMilestoneInput) (*MilestoneResult, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Amount = in.Amount.Round(2)
	if in.Deadline != nil {
		d := plan.DateOnly(*in.Deadline)
		in.Deadline = &d
	}

	var res MilestoneResult
	err := s.run(ctx, "create_milestone", func(ctx context.Context, tx repository.Tx) error {
		p, err := s.lockProject(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if err := authorize(userID, p, rbac.PermissionCreateMilestone); err != nil {
			return err
		}

		var fields []apperr.FieldError
		if in.Title == "" {
			fields = append(fields, apperr.FieldError{Field: "title", Message: "is required"})
		}
		if !in.Amount.IsPositive() {
			fields = append(fields, apperr.FieldError{Field: "amount", Message: "must be greater than 0"})
		}
		if len(fields) > 0 {
			return apperr.Validation(fields)
		}

		pl, err := tx.Plans().Get(ctx, projectID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return apperr.Persistence("get plan", err)
		}
		if pl == nil || pl.Status != model.PlanApproved {
			status := model.PlanNone
			if pl != nil {
				status = pl.Status
			}
			return apperr.Ordering("milestones can only be created after the plan is approved (plan status: %s)", status)
		}

		if !pl.HasStep(in.Title) {
			return apperr.PlanCompliance("milestone title %q is not part of the approved plan (allowed: %s)",
				in.Title, strings.Join(pl.StepTitles(), ", "))
		}

		existing, err := tx.Milestones().ListByProject(ctx, projectID)
		if err != nil {
			return apperr.Persistence("list milestones", err)
		}
		sum := decimal.Zero
		for _, m := range existing {
			if m.Title == in.Title {
				return apperr.Invalid("title", "milestone %q already exists in project %d", in.Title, projectID)
			}
			sum = sum.Add(m.Amount)
		}

		ceiling, label := p.BudgetCeiling()
		if total := sum.Add(in.Amount); total.GreaterThan(ceiling) {
			return apperr.BudgetExceeded("total milestone amount %s (existing %s + new %s) exceeds %s %s",
				total, sum, in.Amount, label, ceiling)
		}

		if in.Deadline != nil {
			if c, ok := plan.Ceiling(p, pl.Steps); ok && in.Deadline.After(c.Date) {
				return apperr.ScheduleExceeded("milestone deadline %s is after the ceiling date %s (%s)",
					in.Deadline.Format("2006-01-02"), c.Date.Format("2006-01-02"), c.Source)
			}
		}

		for _, m := range existing {
			if !m.Status.Resolved() {
				return apperr.Ordering("milestone %d %q is still %s; it must be approved before another milestone is created",
					m.ID, m.Title, m.Status)
			}
		}

		m := &model.Milestone{
			ProjectID:   projectID,
			Title:       in.Title,
			Description: in.Description,
			Amount:      in.Amount,
			Deadline:    in.Deadline,
			Status:      model.MilestonePending,
		}
		if err := tx.Milestones().Insert(ctx, m); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return apperr.Invalid("title", "milestone %q already exists in project %d", in.Title, projectID)
			}
			return apperr.Persistence("insert milestone", err)
		}

		if err := emit(ctx, tx, withMilestone(s.newEvent(ctx, mqcontracts.EventMilestoneCreated, p), m)); err != nil {
			return err
		}
		res.Milestone = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// FundMilestone 客户为里程碑注资。已有托管付款时返回 AlreadyDone，不重复扣款。
func (s *Service) FundMilestone(ctx context.Context, userID, milestoneID int64) (*MilestoneResult, error) {
	var res MilestoneResult
	err := s.run(ctx, "fund_milestone", func(ctx context.Context, tx repository.Tx) error {
		p, m, err := s.lockMilestone(ctx, tx, milestoneID)
		if err != nil {
			return err
		}
		if err := authorize(userID, p, rbac.PermissionFundMilestone); err != nil {
			return err
		}
		res.Milestone = m

		existing, err := tx.Payments().FindActive(ctx, m.ID)
		switch {
		case err == nil:
			res.Payment = existing
			res.AlreadyDone = true
			return nil
		case !errors.Is(err, repository.ErrNotFound):
			return apperr.Persistence("find escrow payment", err)
		}

		if m.Status != model.MilestonePending && m.Status != model.MilestoneInProgress {
			return apperr.Ordering("milestone %d is %s and cannot be funded", m.ID, m.Status)
		}

		payment, err := s.ledger.Fund(ctx, tx, p, m)
		if err != nil {
			if apperr.IsAlreadyDone(err) {
				res.Payment = payment
				res.AlreadyDone = true
				return nil
			}
			return err
		}

		// 自动激活但尚未注资的里程碑保持 in_progress
		if m.Status == model.MilestonePending {
			m.Status = model.MilestoneFunded
		}
		if err := tx.Milestones().Update(ctx, m); err != nil {
			return apperr.Persistence("update milestone", err)
		}

		if err := emit(ctx, tx, withPayment(withMilestone(s.newEvent(ctx, mqcontracts.EventMilestoneFunded, p), m), payment)); err != nil {
			return err
		}
		res.Payment = payment
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.AlreadyDone {
		logger.WithTrace(ctx, s.logger).Info("Milestone already funded", zap.Int64("milestone_id", milestoneID))
	}
	return &res, nil
}

// SubmitMilestone 自由职业者提交工作成果，必须已有托管资金
func (s *Service) SubmitMilestone(ctx context.Context, userID, milestoneID int64, attachments []model.Attachment) (*MilestoneResult, error) {
	var res MilestoneResult
	err := s.run(ctx, "submit_milestone", func(ctx context.Context, tx repository.Tx) error {
		p, m, err := s.lockMilestone(ctx, tx, milestoneID)
		if err != nil {
			return err
		}
		if err := authorize(userID, p, rbac.PermissionSubmitMilestone); err != nil {
			return err
		}
		res.Milestone = m

		if m.Status == model.MilestoneSubmitted {
			res.AlreadyDone = true
			return nil
		}
		if err := s.requirePredecessorsResolved(ctx, tx, m, "submitted"); err != nil {
			return err
		}

		payment, err := tx.Payments().FindActive(ctx, m.ID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.Ordering("milestone %d has not been funded; work cannot be submitted before escrow is held", m.ID)
			}
			return apperr.Persistence("find escrow payment", err)
		}

		switch m.Status {
		case model.MilestoneInProgress, model.MilestoneFunded, model.MilestoneRevisionRequested:
		default:
			return apperr.Ordering("milestone %d is %s and cannot be submitted", m.ID, m.Status)
		}

		cleaned, err := cleanAttachments(attachments)
		if err != nil {
			return err
		}
		if len(cleaned) > 0 {
			if err := tx.Milestones().AddAttachments(ctx, m.ID, cleaned); err != nil {
				return apperr.Persistence("add attachments", err)
			}
		}

		now := s.now()
		m.Status = model.MilestoneSubmitted
		m.SubmittedAt = &now
		if err := tx.Milestones().Update(ctx, m); err != nil {
			return apperr.Persistence("update milestone", err)
		}

		if err := emit(ctx, tx, withPayment(withMilestone(s.newEvent(ctx, mqcontracts.EventMilestoneSubmitted, p), m), payment)); err != nil {
			return err
		}

		fresh, err := tx.Milestones().Get(ctx, m.ID)
		if err != nil {
			return apperr.Persistence("reload milestone", err)
		}
		res.Milestone = fresh
		res.Payment = payment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// requirePredecessorsResolved 按创建顺序，前面的里程碑全部批准后才能提交或批准当前里程碑
func (s *Service) requirePredecessorsResolved(ctx context.Context, tx repository.Tx, m *model.Milestone, action string) error {
	list, err := tx.Milestones().ListByProject(ctx, m.ProjectID)
	if err != nil {
		return apperr.Persistence("list milestones", err)
	}
	if prev := model.UnresolvedBefore(list, m.ID); prev != nil {
		return apperr.Ordering("milestone %d cannot be %s while earlier milestone %q is %s", m.ID, action, prev.Title, prev.Status)
	}
	return nil
}

func cleanAttachments(in []model.Attachment) ([]model.Attachment, error) {
	var (
		out    []model.Attachment
		fields []apperr.FieldError
	)
	for i, a := range in {
		a.FileName = strings.TrimSpace(a.FileName)
		a.Reference = strings.TrimSpace(a.Reference)
		if a.FileName == "" {
			fields = append(fields, apperr.FieldError{Field: fmt.Sprintf("attachments[%d].file_name", i), Message: "is required"})
		}
		if a.Reference == "" {
			fields = append(fields, apperr.FieldError{Field: fmt.Sprintf("attachments[%d].reference", i), Message: "is required"})
		}
		out = append(out, a)
	}
	if len(fields) > 0 {
		return nil, apperr.Validation(fields)
	}
	return out, nil
}

// RequestMilestoneRevision 客户退回已提交的里程碑，托管资金保持冻结
func (s *Service) RequestMilestoneRevision(ctx context.Context, userID, milestoneID int64, notes string) (*MilestoneResult, error) {
	notes = strings.TrimSpace(notes)
	var res MilestoneResult
	err := s.run(ctx, "request_milestone_revision", func(ctx context.Context, tx repository.Tx) error {
		p, m, err := s.lockMilestone(ctx, tx, milestoneID)
		if err != nil {
			return err
		}
		if err := authorize(userID, p, rbac.PermissionReviewMilestone); err != nil {
			return err
		}
		if notes == "" {
			return apperr.Invalid("notes", "is required")
		}
		if m.Status != model.MilestoneSubmitted {
			return apperr.Ordering("milestone %d is %s; only a submitted milestone can be sent back for revision", m.ID, m.Status)
		}

		m.Status = model.MilestoneRevisionRequested
		m.ReviewNotes = notes
		if err := tx.Milestones().Update(ctx, m); err != nil {
			return apperr.Persistence("update milestone", err)
		}

		e := withMilestone(s.newEvent(ctx, mqcontracts.EventMilestoneRevisionRequested, p), m)
		e.Note = notes
		if err := emit(ctx, tx, e); err != nil {
			return err
		}
		res.Milestone = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

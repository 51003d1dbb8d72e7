package lifecycle

import (
	"context"
	"errors"
	"strings"

	mqcontracts "freelancehub/contracts/mq"
	"freelancehub/internal/apperr"
	"freelancehub/internal/model"
	"freelancehub/internal/plan"
	"freelancehub/internal/repository"
	"freelancehub/pkg/logger"
	"freelancehub/pkg/rbac"

	"go.uber.org/zap"
)

func requireActiveProject(p *model.Project) error {
	if p.Bid == nil || p.Bid.FreelancerID == 0 {
		return apperr.Ordering("project %d has no accepted bid", p.ID)
	}
	if p.Status == model.ProjectCancelled || p.Status == model.ProjectCompleted {
		return apperr.Ordering("project %d is %s", p.ID, p.Status)
	}
	return nil
}

// SubmitPlan 自由职业者提交或替换计划。已批准的计划不能再修改。
func (s *Service) SubmitPlan(ctx context.Context, userID, projectID int64, overview string, steps []model.PlanStep) (*PlanResult, error) {
	var res PlanResult
	err := s.run(ctx, "submit_plan", func(ctx context.Context, tx repository.Tx) error {
		p, err := s.lockProject(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if err := authorize(userID, p, rbac.PermissionSubmitPlan); err != nil {
			return err
		}
		if err := requireActiveProject(p); err != nil {
			return err
		}

		current, err := tx.Plans().Get(ctx, projectID)
		switch {
		case err == nil:
			if current.Status == model.PlanApproved {
				return apperr.Ordering("plan for project %d is already approved and can no longer be edited", projectID)
			}
		case errors.Is(err, repository.ErrNotFound):
		default:
			return apperr.Persistence("get plan", err)
		}

		normalized, err := s.validator.Validate(p, steps)
		if err != nil {
			return err
		}

		now := s.now()
		pl := &model.Plan{
			ProjectID:    projectID,
			FreelancerID: userID,
			Summary:      plan.Summarize(overview, normalized),
			Steps:        normalized,
			Status:       model.PlanSubmitted,
			SubmittedAt:  &now,
		}
		if err := tx.Plans().Save(ctx, pl); err != nil {
			return apperr.Persistence("save plan", err)
		}

		e := s.newEvent(ctx, mqcontracts.EventPlanSubmitted, p)
		total := pl.Summary.TotalAmount
		e.Amount = &total
		e.MilestoneCount = len(normalized)
		if err := emit(ctx, tx, e); err != nil {
			return err
		}
		res.Plan = pl
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.WithTrace(ctx, s.logger).Info("Plan submitted",
		zap.Int64("project_id", projectID),
		zap.Int("steps", len(res.Plan.Steps)),
		zap.String("total_amount", res.Plan.Summary.TotalAmount.String()),
	)
	return &res, nil
}

// ApprovePlan 客户批准计划并按步骤物化里程碑。
// 重复调用会再次执行幂等物化并返回 AlreadyDone。
func (s *Service) ApprovePlan(ctx context.Context, userID, projectID int64) (*PlanResult, error) {
	var res PlanResult
	err := s.run(ctx, "approve_plan", func(ctx context.Context, tx repository.Tx) error {
		p, err := s.lockProject(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if err := authorize(userID, p, rbac.PermissionReviewPlan); err != nil {
			return err
		}
		pl, err := tx.Plans().Get(ctx, projectID)
		if err != nil {
			return repoErr("get plan", err, "project %d has no plan", projectID)
		}

		switch pl.Status {
		case model.PlanApproved:
			res.AlreadyDone = true
		case model.PlanSubmitted:
			now := s.now()
			pl.Status = model.PlanApproved
			pl.ReviewedAt = &now
			pl.ReviewNote = ""
			if err := tx.Plans().Save(ctx, pl); err != nil {
				return apperr.Persistence("save plan", err)
			}
		default:
			return apperr.Ordering("plan for project %d is %s; only a submitted plan can be approved", projectID, pl.Status)
		}

		created, err := s.materialize(ctx, tx, pl)
		if err != nil {
			return err
		}

		if !res.AlreadyDone {
			e := s.newEvent(ctx, mqcontracts.EventPlanApproved, p)
			e.MilestoneCount = len(pl.Steps)
			if err := emit(ctx, tx, e); err != nil {
				return err
			}
		}

		list, err := tx.Milestones().ListByProject(ctx, projectID)
		if err != nil {
			return apperr.Persistence("list milestones", err)
		}
		res.Plan = pl
		res.Milestones = list

		if created > 0 {
			logger.WithTrace(ctx, s.logger).Info("Milestones materialized from plan",
				zap.Int64("project_id", projectID),
				zap.Int("created", created),
			)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// materialize 为每个尚无同名里程碑的计划步骤创建 pending 里程碑，返回新建数量
func (s *Service) materialize(ctx context.Context, tx repository.Tx, pl *model.Plan) (int, error) {
	existing, err := tx.Milestones().ListByProject(ctx, pl.ProjectID)
	if err != nil {
		return 0, apperr.Persistence("list milestones", err)
	}
	titles := make(map[string]bool, len(existing))
	for _, m := range existing {
		titles[m.Title] = true
	}

	deadlines := plan.Deadlines(pl.Steps)
	created := 0
	for i, step := range pl.Steps {
		if titles[step.Title] {
			continue
		}
		m := &model.Milestone{
			ProjectID:   pl.ProjectID,
			Title:       step.Title,
			Description: step.Description,
			Amount:      step.Amount,
			Deadline:    deadlines[i],
			Status:      model.MilestonePending,
		}
		if err := tx.Milestones().Insert(ctx, m); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				continue
			}
			return created, apperr.Persistence("insert milestone", err)
		}
		titles[step.Title] = true
		created++
	}
	return created, nil
}

// RequestPlanRevision 客户退回计划并附上修改意见
func (s *Service) RequestPlanRevision(ctx context.Context, userID, projectID int64, note string) (*PlanResult, error) {
	note = strings.TrimSpace(note)
	var res PlanResult
	err := s.run(ctx, "request_plan_revision", func(ctx context.Context, tx repository.Tx) error {
		p, err := s.lockProject(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if err := authorize(userID, p, rbac.PermissionReviewPlan); err != nil {
			return err
		}
		if note == "" {
			return apperr.Invalid("note", "is required")
		}
		pl, err := tx.Plans().Get(ctx, projectID)
		if err != nil {
			return repoErr("get plan", err, "project %d has no plan", projectID)
		}
		if pl.Status != model.PlanSubmitted {
			return apperr.Ordering("plan for project %d is %s; only a submitted plan can be sent back for revision", projectID, pl.Status)
		}

		now := s.now()
		pl.Status = model.PlanRevisionRequested
		pl.ReviewNote = note
		pl.ReviewedAt = &now
		if err := tx.Plans().Save(ctx, pl); err != nil {
			return apperr.Persistence("save plan", err)
		}

		e := s.newEvent(ctx, mqcontracts.EventPlanRevisionRequested, p)
		e.Note = note
		if err := emit(ctx, tx, e); err != nil {
			return err
		}
		res.Plan = pl
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

package lifecycle

import (
	"context"
	"errors"

	"freelancehub/internal/apperr"
	"freelancehub/internal/model"
	"freelancehub/internal/repository"
	"freelancehub/pkg/rbac"
)

// MilestoneView 里程碑及其当前托管付款
type MilestoneView struct {
	*model.Milestone
	Payment *model.EscrowPayment `json:"payment,omitempty"`
}

func (s *Service) GetPlan(ctx context.Context, userID, projectID int64) (*model.Plan, error) {
	var pl *model.Plan
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := tx.Projects().Get(ctx, projectID)
		if err != nil {
			return repoErr("get project", err, "project %d not found", projectID)
		}
		if err := authorize(userID, p, rbac.PermissionReadProject); err != nil {
			return err
		}
		pl, err = tx.Plans().Get(ctx, projectID)
		if err != nil {
			return repoErr("get plan", err, "project %d has no plan", projectID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pl, nil
}

// ListMilestones 按创建顺序返回项目的里程碑
func (s *Service) ListMilestones(ctx context.Context, userID, projectID int64) ([]MilestoneView, error) {
	var out []MilestoneView
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := tx.Projects().Get(ctx, projectID)
		if err != nil {
			return repoErr("get project", err, "project %d not found", projectID)
		}
		if err := authorize(userID, p, rbac.PermissionReadProject); err != nil {
			return err
		}
		list, err := tx.Milestones().ListByProject(ctx, projectID)
		if err != nil {
			return apperr.Persistence("list milestones", err)
		}
		out = make([]MilestoneView, 0, len(list))
		for _, m := range list {
			v := MilestoneView{Milestone: m}
			payment, err := tx.Payments().FindActive(ctx, m.ID)
			switch {
			case err == nil:
				v.Payment = payment
			case !errors.Is(err, repository.ErrNotFound):
				return apperr.Persistence("find escrow payment", err)
			}
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListLedger 返回用户自己的资金流水，最新的在前
func (s *Service) ListLedger(ctx context.Context, userID int64, limit int) ([]*model.LedgerTransaction, error) {
	var out []*model.LedgerTransaction
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		out, err = tx.Ledger().ListByUser(ctx, userID, limit)
		return err
	})
	if err != nil {
		return nil, apperr.Persistence("list ledger", err)
	}
	return out, nil
}

// CompleteProject 消费 project.milestones_completed 事件，全部里程碑完成后把项目置为 completed
func (s *Service) CompleteProject(ctx context.Context, projectID int64) (bool, error) {
	changed := false
	err := s.run(ctx, "complete_project", func(ctx context.Context, tx repository.Tx) error {
		p, err := s.lockProject(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if p.Status == model.ProjectCompleted {
			return nil
		}
		if p.Status == model.ProjectCancelled {
			return apperr.Ordering("project %d is cancelled", projectID)
		}
		list, err := tx.Milestones().ListByProject(ctx, projectID)
		if err != nil {
			return apperr.Persistence("list milestones", err)
		}
		if len(list) == 0 {
			return apperr.Ordering("project %d has no milestones", projectID)
		}
		for _, m := range list {
			if m.Status != model.MilestoneCompleted {
				return apperr.Ordering("milestone %d %q is still %s", m.ID, m.Title, m.Status)
			}
		}
		if err := tx.Projects().UpdateStatus(ctx, projectID, model.ProjectCompleted); err != nil {
			return apperr.Persistence("update project status", err)
		}
		changed = true
		return nil
	})
	return changed, err
}

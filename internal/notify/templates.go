package notify

import (
	"fmt"

	mqcontracts "freelancehub/contracts/mq"
	"freelancehub/internal/model"

	"github.com/shopspring/decimal"
)

// Build 根据生命周期事件生成每个接收者的站内通知。
// 只有接收者必须采取下一步行动时 ActionRequired 为 true。
func Build(e *mqcontracts.LifecycleEvent) []*model.Notification {
	var out []*model.Notification
	add := func(userID int64, priority string, action bool, title, format string, args ...any) {
		if userID == 0 {
			return
		}
		projectID := e.ProjectID
		out = append(out, &model.Notification{
			UserID:         userID,
			EventID:        e.EventID,
			Type:           e.Type,
			Title:          title,
			Message:        fmt.Sprintf(format, args...),
			Priority:       priority,
			ActionRequired: action,
			ProjectID:      &projectID,
			MilestoneID:    e.MilestoneID,
			BidID:          e.BidID,
			PaymentID:      e.PaymentID,
		})
	}

	switch e.Type {
	case mqcontracts.EventPlanSubmitted:
		add(e.ClientID, model.PriorityHigh, true, "Project plan submitted",
			"The freelancer submitted a plan with %d stages totalling %s for %q. Review it to continue.",
			e.MilestoneCount, money(e.Amount), e.ProjectTitle)
	case mqcontracts.EventPlanApproved:
		add(e.FreelancerID, model.PriorityNormal, false, "Plan approved",
			"Your plan for %q was approved and %d milestones were created.", e.ProjectTitle, e.MilestoneCount)
	case mqcontracts.EventPlanRevisionRequested:
		add(e.FreelancerID, model.PriorityHigh, true, "Plan revision requested",
			"The client asked for changes to your plan for %q: %s", e.ProjectTitle, e.Note)
	case mqcontracts.EventMilestoneCreated:
		add(e.ClientID, model.PriorityLow, false, "New milestone",
			"Milestone %q (%s) was added to %q.", e.MilestoneTitle, money(e.Amount), e.ProjectTitle)
	case mqcontracts.EventMilestoneFunded:
		add(e.FreelancerID, model.PriorityNormal, false, "Milestone funded",
			"%s is now held in escrow for %q. You can start working on it.", money(e.Amount), e.MilestoneTitle)
	case mqcontracts.EventMilestoneSubmitted:
		add(e.ClientID, model.PriorityHigh, true, "Milestone submitted for review",
			"Work for %q was submitted. Approve it or request a revision.", e.MilestoneTitle)
	case mqcontracts.EventMilestoneRevisionRequested:
		add(e.FreelancerID, model.PriorityHigh, true, "Milestone revision requested",
			"The client requested changes to %q: %s", e.MilestoneTitle, e.Note)
	case mqcontracts.EventMilestoneCompleted:
		add(e.FreelancerID, model.PriorityNormal, false, "Payment released",
			"%q was approved. %s was released to you (platform fee %s).",
			e.MilestoneTitle, money(e.FreelancerNet), money(e.PlatformFee))
		add(e.ClientID, model.PriorityNormal, false, "Milestone completed",
			"%q is complete and %s was released from escrow.", e.MilestoneTitle, money(e.Amount))
	case mqcontracts.EventMilestoneActivated:
		add(e.FreelancerID, model.PriorityNormal, false, "Next milestone started",
			"%q is now in progress.", e.MilestoneTitle)
	case mqcontracts.EventProjectMilestonesCompleted:
		for _, id := range []int64{e.ClientID, e.FreelancerID} {
			add(id, model.PriorityNormal, false, "All milestones completed",
				"All %d milestones of %q are completed.", e.MilestoneCount, e.ProjectTitle)
		}
	}
	return out
}

func money(d *decimal.Decimal) string {
	if d == nil {
		return "0.00"
	}
	return d.StringFixed(2)
}

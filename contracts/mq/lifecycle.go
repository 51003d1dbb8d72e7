package mq

import (
	"time"

	"github.com/shopspring/decimal"
)

// 生命周期事件的 routing key，同时也是 LifecycleEvent.Type
const (
	EventPlanSubmitted         = "plan.submitted"
	EventPlanApproved          = "plan.approved"
	EventPlanRevisionRequested = "plan.revision_requested"

	EventMilestoneCreated           = "milestone.created"
	EventMilestoneFunded            = "milestone.funded"
	EventMilestoneSubmitted         = "milestone.submitted"
	EventMilestoneRevisionRequested = "milestone.revision_requested"
	EventMilestoneCompleted         = "milestone.completed"
	EventMilestoneActivated         = "milestone.activated"

	EventProjectMilestonesCompleted = "project.milestones_completed"
)

// LifecycleEventTypes 通知服务订阅的全部事件
var LifecycleEventTypes = []string{
	EventPlanSubmitted,
	EventPlanApproved,
	EventPlanRevisionRequested,
	EventMilestoneCreated,
	EventMilestoneFunded,
	EventMilestoneSubmitted,
	EventMilestoneRevisionRequested,
	EventMilestoneCompleted,
	EventMilestoneActivated,
	EventProjectMilestonesCompleted,
}

// LifecycleEvent 由状态变更在同一事务内写入 outbox
type LifecycleEvent struct {
	EventID        string           `json:"event_id"`
	Type           string           `json:"type"`
	ProjectID      int64            `json:"project_id"`
	ProjectTitle   string           `json:"project_title,omitempty"`
	ClientID       int64            `json:"client_id"`
	FreelancerID   int64            `json:"freelancer_id"`
	BidID          *int64           `json:"bid_id,omitempty"`
	MilestoneID    *int64           `json:"milestone_id,omitempty"`
	MilestoneTitle string           `json:"milestone_title,omitempty"`
	PaymentID      *int64           `json:"payment_id,omitempty"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	PlatformFee    *decimal.Decimal `json:"platform_fee,omitempty"`
	FreelancerNet  *decimal.Decimal `json:"freelancer_amount,omitempty"`
	Note           string           `json:"note,omitempty"`
	MilestoneCount int              `json:"milestone_count,omitempty"`
	TraceID        string           `json:"trace_id,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`
}

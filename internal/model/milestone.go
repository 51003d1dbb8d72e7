package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type MilestoneStatus string

const (
	MilestonePending           MilestoneStatus = "pending"
	MilestoneFunded            MilestoneStatus = "funded"
	MilestoneInProgress        MilestoneStatus = "in_progress"
	MilestoneSubmitted         MilestoneStatus = "submitted"
	MilestoneApproved          MilestoneStatus = "approved"
	MilestoneRevisionRequested MilestoneStatus = "revision_requested"
	MilestoneCompleted         MilestoneStatus = "completed"
)

// Resolved 已批准或已完成的里程碑不再阻塞后续里程碑的创建
func (s MilestoneStatus) Resolved() bool {
	return s == MilestoneApproved || s == MilestoneCompleted
}

// Activatable 前一个里程碑完成后可以自动进入 in_progress
func (s MilestoneStatus) Activatable() bool {
	return s == MilestonePending || s == MilestoneFunded
}

type Attachment struct {
	ID          int64     `json:"id,omitempty"`
	MilestoneID int64     `json:"milestone_id,omitempty"`
	FileName    string    `json:"file_name" validate:"required"`
	Reference   string    `json:"reference" validate:"required"`
	CreatedAt   time.Time `json:"created_at"`
}

type Milestone struct {
	ID          int64           `json:"id"`
	ProjectID   int64           `json:"project_id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Deadline    *time.Time      `json:"deadline,omitempty"`
	Status      MilestoneStatus `json:"status"`
	ReviewNotes string          `json:"review_notes,omitempty"`
	SubmittedAt *time.Time      `json:"submitted_at,omitempty"`
	ApprovedAt  *time.Time      `json:"approved_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Attachments []Attachment    `json:"attachments"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NextAfter 返回按创建顺序排在 id 之后的里程碑，list 必须已按 (created_at, id) 排序
func NextAfter(list []*Milestone, id int64) *Milestone {
	for i, m := range list {
		if m.ID == id {
			if i+1 < len(list) {
				return list[i+1]
			}
			return nil
		}
	}
	return nil
}

// UnresolvedBefore 返回排在 id 之前且尚未批准的第一个里程碑，list 的排序要求同 NextAfter
func UnresolvedBefore(list []*Milestone, id int64) *Milestone {
	for _, m := range list {
		if m.ID == id {
			return nil
		}
		if !m.Status.Resolved() {
			return m
		}
	}
	return nil
}

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PlanStatus string

const (
	PlanNone              PlanStatus = "none"
	PlanSubmitted         PlanStatus = "submitted"
	PlanApproved          PlanStatus = "approved"
	PlanRevisionRequested PlanStatus = "revision_requested"
)

// PlanStep 计划中的一个阶段，批准后一对一生成里程碑
type PlanStep struct {
	Title         string          `json:"title" validate:"required"`
	Description   string          `json:"description" validate:"required"`
	Amount        decimal.Decimal `json:"amount" validate:"gt=0"`
	EstimatedDays int             `json:"estimated_days" validate:"gt=0"`
	StartDate     time.Time       `json:"start_date" validate:"required"`
	EndDate       time.Time       `json:"end_date" validate:"required"`
	Deliverables  []string        `json:"deliverables" validate:"min=1,dive,required"`
}

// PlanSummary 计划的结构化摘要，提交时根据 steps 计算
type PlanSummary struct {
	Overview      string          `json:"overview"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	TotalDays     int             `json:"total_days"`
	StepCount     int             `json:"step_count"`
	EarliestStart *time.Time      `json:"earliest_start,omitempty"`
	LatestEnd     *time.Time      `json:"latest_end,omitempty"`
}

type Plan struct {
	ProjectID    int64       `json:"project_id"`
	FreelancerID int64       `json:"freelancer_id"`
	Summary      PlanSummary `json:"summary"`
	Steps        []PlanStep  `json:"steps"`
	Status       PlanStatus  `json:"status"`
	ReviewNote   string      `json:"review_note,omitempty"`
	SubmittedAt  *time.Time  `json:"submitted_at,omitempty"`
	ReviewedAt   *time.Time  `json:"reviewed_at,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

func (p *Plan) HasStep(title string) bool {
	for _, s := range p.Steps {
		if s.Title == title {
			return true
		}
	}
	return false
}

func (p *Plan) StepTitles() []string {
	titles := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		titles[i] = s.Title
	}
	return titles
}

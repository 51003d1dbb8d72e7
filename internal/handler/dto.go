package handler

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"freelancehub/internal/lifecycle"
	"freelancehub/internal/model"

	"github.com/shopspring/decimal"
)

// Date 接受 2006-01-02 或 RFC3339
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	d.Time = t
	return nil
}

type PlanStepRequest struct {
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	EstimatedDays int             `json:"estimated_days"`
	StartDate     Date            `json:"start_date"`
	EndDate       Date            `json:"end_date"`
	Deliverables  []string        `json:"deliverables"`
}

type SubmitPlanRequest struct {
	Overview string            `json:"overview"`
	Steps    []PlanStepRequest `json:"steps"`
}

func (r SubmitPlanRequest) steps() []model.PlanStep {
	out := make([]model.PlanStep, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = model.PlanStep{
			Title:         s.Title,
			Description:   s.Description,
			Amount:        s.Amount,
			EstimatedDays: s.EstimatedDays,
			StartDate:     s.StartDate.Time,
			EndDate:       s.EndDate.Time,
			Deliverables:  s.Deliverables,
		}
	}
	return out
}

type PlanRevisionRequest struct {
	Note string `json:"note"`
}

type CreateMilestoneRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Deadline    *Date           `json:"deadline"`
}

func (r CreateMilestoneRequest) input() lifecycle.CreateMilestoneInput {
	in := lifecycle.CreateMilestoneInput{
		Title:       r.Title,
		Description: r.Description,
		Amount:      r.Amount,
	}
	if r.Deadline != nil && !r.Deadline.IsZero() {
		d := r.Deadline.Time
		in.Deadline = &d
	}
	return in
}

type AttachmentRequest struct {
	FileName  string `json:"file_name"`
	Reference string `json:"reference"`
}

type SubmitMilestoneRequest struct {
	Attachments []AttachmentRequest `json:"attachments"`
}

func (r SubmitMilestoneRequest) attachments() []model.Attachment {
	out := make([]model.Attachment, len(r.Attachments))
	for i, a := range r.Attachments {
		out[i] = model.Attachment{FileName: a.FileName, Reference: a.Reference}
	}
	return out
}

type MilestoneRevisionRequest struct {
	Notes string `json:"notes"`
}

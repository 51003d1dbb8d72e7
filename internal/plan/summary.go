package plan

import (
	"strings"
	"time"

	"freelancehub/internal/model"

	"github.com/shopspring/decimal"
)

// DateOnly 把时间截断为 UTC 日期
func DateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SpanDays 包含首尾两天的天数
func SpanDays(start, end time.Time) int {
	return int(DateOnly(end).Sub(DateOnly(start)).Hours()/24) + 1
}

// Normalize 去掉首尾空白、丢弃空交付物、日期截断到天
func Normalize(steps []model.PlanStep) []model.PlanStep {
	out := make([]model.PlanStep, len(steps))
	for i, s := range steps {
		s.Title = strings.TrimSpace(s.Title)
		s.Description = strings.TrimSpace(s.Description)
		s.StartDate = DateOnly(s.StartDate)
		s.EndDate = DateOnly(s.EndDate)
		deliverables := make([]string, 0, len(s.Deliverables))
		for _, d := range s.Deliverables {
			if d = strings.TrimSpace(d); d != "" {
				deliverables = append(deliverables, d)
			}
		}
		s.Deliverables = deliverables
		s.Amount = s.Amount.Round(2)
		out[i] = s
	}
	return out
}

func TotalAmount(steps []model.PlanStep) decimal.Decimal {
	total := decimal.Zero
	for _, s := range steps {
		total = total.Add(s.Amount)
	}
	return total
}

func TotalDays(steps []model.PlanStep) int {
	total := 0
	for _, s := range steps {
		total += s.EstimatedDays
	}
	return total
}

// Summarize 根据步骤计算结构化摘要
func Summarize(overview string, steps []model.PlanStep) model.PlanSummary {
	sum := model.PlanSummary{
		Overview:    strings.TrimSpace(overview),
		TotalAmount: TotalAmount(steps),
		TotalDays:   TotalDays(steps),
		StepCount:   len(steps),
	}
	if start, ok := earliestStart(steps); ok {
		sum.EarliestStart = &start
	}
	for _, s := range steps {
		if s.EndDate.IsZero() {
			continue
		}
		if sum.LatestEnd == nil || s.EndDate.After(*sum.LatestEnd) {
			end := s.EndDate
			sum.LatestEnd = &end
		}
	}
	return sum
}

// Deadlines 物化里程碑时的截止日期：最早开始日期 + 累计预估天数
func Deadlines(steps []model.PlanStep) []*time.Time {
	out := make([]*time.Time, len(steps))
	start, ok := earliestStart(steps)
	if !ok {
		return out
	}
	cumulative := 0
	for i, s := range steps {
		cumulative += s.EstimatedDays
		d := start.AddDate(0, 0, cumulative)
		out[i] = &d
	}
	return out
}

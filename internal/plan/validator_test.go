package plan

import (
	"testing"
	"time"

	"freelancehub/internal/apperr"
	"freelancehub/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func testProject(bidAmount string, deliveryDays int) *model.Project {
	p := &model.Project{
		ID:       1,
		ClientID: 10,
		Budget:   decimal.RequireFromString("5000"),
		Status:   model.ProjectInProgress,
		Bid:      &model.AcceptedBid{BidID: 3, FreelancerID: 20, DeliveryDays: deliveryDays},
	}
	if bidAmount != "" {
		p.Bid.Amount = decimal.NewNullDecimal(decimal.RequireFromString(bidAmount))
	}
	return p
}

func step(title, amount string, days int, start, end string) model.PlanStep {
	return model.PlanStep{
		Title:         title,
		Description:   title + " work",
		Amount:        decimal.RequireFromString(amount),
		EstimatedDays: days,
		StartDate:     day(start),
		EndDate:       day(end),
		Deliverables:  []string{title + ".zip"},
	}
}

func TestValidate_AcceptsCompliantPlan(t *testing.T) {
	v := NewValidator()
	steps, err := v.Validate(testProject("1000", 20), []model.PlanStep{
		step("  Design ", "400", 5, "2024-03-01", "2024-03-05"),
		step("Build", "600", 10, "2024-03-06", "2024-03-15"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Design", steps[0].Title)
}

func TestValidate_CollectsEveryFieldError(t *testing.T) {
	v := NewValidator()
	bad := model.PlanStep{
		Title:         " ",
		Amount:        decimal.Zero,
		EstimatedDays: 0,
		StartDate:     day("2024-03-10"),
		EndDate:       day("2024-03-01"),
		Deliverables:  []string{"  "},
	}
	_, err := v.Validate(testProject("1000", 20), []model.PlanStep{step("Design", "100", 2, "2024-03-01", "2024-03-02"), bad})

	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, e.Kind)

	fields := map[string]bool{}
	for _, f := range e.Fields {
		fields[f.Field] = true
	}
	for _, want := range []string{
		"steps[1].title",
		"steps[1].description",
		"steps[1].amount",
		"steps[1].estimated_days",
		"steps[1].deliverables",
		"steps[1].end_date",
	} {
		assert.True(t, fields[want], "missing field error %s in %v", want, e.Fields)
	}
	assert.False(t, fields["steps[0].title"])
}

func TestValidate_WindowShorterThanEstimate(t *testing.T) {
	_, err := NewValidator().Validate(testProject("1000", 20), []model.PlanStep{
		step("Design", "100", 5, "2024-03-01", "2024-03-03"),
	})
	e, ok := apperr.As(err)
	require.True(t, ok)
	require.Len(t, e.Fields, 1)
	assert.Equal(t, "steps[0].end_date", e.Fields[0].Field)
	assert.Contains(t, e.Fields[0].Message, "3 days")
}

func TestValidate_DuplicateTitles(t *testing.T) {
	_, err := NewValidator().Validate(testProject("1000", 20), []model.PlanStep{
		step("Design", "100", 1, "2024-03-01", "2024-03-01"),
		step("Design", "100", 1, "2024-03-02", "2024-03-02"),
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "steps[1].title")
}

func TestValidate_BudgetExceeded(t *testing.T) {
	_, err := NewValidator().Validate(testProject("1000", 0), []model.PlanStep{
		step("Design", "500", 5, "2024-03-01", "2024-03-05"),
		step("Build", "700", 5, "2024-03-06", "2024-03-10"),
	})
	assert.Equal(t, apperr.KindBudgetExceeded, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "total stage amount 1200 exceeds accepted bid amount 1000")
}

func TestValidate_BudgetFallsBackToProjectBudget(t *testing.T) {
	_, err := NewValidator().Validate(testProject("", 0), []model.PlanStep{
		step("Design", "5001", 5, "2024-03-01", "2024-03-05"),
	})
	assert.Equal(t, apperr.KindBudgetExceeded, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "project budget 5000")
}

func TestValidate_DeliveryDaysCeiling(t *testing.T) {
	_, err := NewValidator().Validate(testProject("1000", 20), []model.PlanStep{
		step("Design", "500", 25, "2024-03-01", "2024-03-25"),
	})
	assert.Equal(t, apperr.KindScheduleExceeded, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "20 days")
}

func TestValidate_StepEndsAfterCeilingDate(t *testing.T) {
	_, err := NewValidator().Validate(testProject("1000", 10), []model.PlanStep{
		step("Design", "500", 3, "2024-03-01", "2024-03-03"),
		step("Build", "500", 5, "2024-03-08", "2024-03-15"),
	})
	assert.Equal(t, apperr.KindScheduleExceeded, apperr.KindOf(err))
	assert.Contains(t, err.Error(), `step 2 "Build"`)
	assert.Contains(t, err.Error(), "2024-03-11")
}

func TestValidate_DeadlineFallback(t *testing.T) {
	p := testProject("1000", 0)
	deadline := day("2024-03-10")
	p.Deadline = &deadline

	_, err := NewValidator().Validate(p, []model.PlanStep{
		step("Design", "500", 3, "2024-03-09", "2024-03-12"),
	})
	assert.Equal(t, apperr.KindScheduleExceeded, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "project deadline")
}

func TestCeiling_ProjectStartFallback(t *testing.T) {
	p := testProject("1000", 7)
	start := day("2024-05-01")
	p.StartDate = &start

	c, ok := Ceiling(p, nil)
	require.True(t, ok)
	assert.Equal(t, day("2024-05-08"), c.Date)

	_, ok = Ceiling(testProject("1000", 0), nil)
	assert.False(t, ok)
}

func TestSummarizeAndDeadlines(t *testing.T) {
	steps := []model.PlanStep{
		step("Design", "400", 5, "2024-03-01", "2024-03-05"),
		step("Build", "600", 10, "2024-03-06", "2024-03-15"),
	}
	sum := Summarize(" overview ", steps)
	assert.Equal(t, "overview", sum.Overview)
	assert.True(t, sum.TotalAmount.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, 15, sum.TotalDays)
	assert.Equal(t, 2, sum.StepCount)
	assert.Equal(t, day("2024-03-15"), *sum.LatestEnd)

	deadlines := Deadlines(steps)
	assert.Equal(t, day("2024-03-06"), *deadlines[0])
	assert.Equal(t, day("2024-03-16"), *deadlines[1])
}

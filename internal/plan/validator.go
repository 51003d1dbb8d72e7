package plan

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"freelancehub/internal/apperr"
	"freelancehub/internal/model"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Validator 在持久化之前检查计划：逐字段校验、金额上限、工期上限。
// 无副作用，不访问存储。
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return &Validator{validate: v}
}

// Validate returns the normalized steps, or the first failing check.
// Per-field problems are collected across every step and reported together.
func (v *Validator) Validate(project *model.Project, steps []model.PlanStep) ([]model.PlanStep, error) {
	steps = Normalize(steps)

	if fields := v.checkFields(steps); len(fields) > 0 {
		return nil, apperr.Validation(fields)
	}
	if err := CheckBudget(project, steps); err != nil {
		return nil, err
	}
	if err := CheckSchedule(project, steps); err != nil {
		return nil, err
	}
	return steps, nil
}

func (v *Validator) checkFields(steps []model.PlanStep) []apperr.FieldError {
	if len(steps) == 0 {
		return []apperr.FieldError{{Field: "steps", Message: "at least one step is required"}}
	}

	var out []apperr.FieldError
	seen := make(map[string]int, len(steps))
	for i, s := range steps {
		prefix := fmt.Sprintf("steps[%d].", i)

		if err := v.validate.Struct(s); err != nil {
			if verrs, ok := err.(validator.ValidationErrors); ok {
				for _, fe := range verrs {
					out = append(out, apperr.FieldError{Field: prefix + fe.Field(), Message: describe(fe)})
				}
			} else {
				out = append(out, apperr.FieldError{Field: prefix[:len(prefix)-1], Message: err.Error()})
			}
		}

		if !s.StartDate.IsZero() && !s.EndDate.IsZero() {
			if s.EndDate.Before(s.StartDate) {
				out = append(out, apperr.FieldError{
					Field:   prefix + "end_date",
					Message: fmt.Sprintf("must not be before start_date %s", s.StartDate.Format(dateLayout)),
				})
			} else if span := SpanDays(s.StartDate, s.EndDate); s.EstimatedDays > 0 && span < s.EstimatedDays {
				out = append(out, apperr.FieldError{
					Field:   prefix + "end_date",
					Message: fmt.Sprintf("date window of %d days is shorter than estimated_days %d", span, s.EstimatedDays),
				})
			}
		}

		if s.Title != "" {
			if j, dup := seen[s.Title]; dup {
				out = append(out, apperr.FieldError{
					Field:   prefix + "title",
					Message: fmt.Sprintf("duplicates steps[%d].title %q", j, s.Title),
				})
			} else {
				seen[s.Title] = i
			}
		}
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "min":
		return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// CheckBudget 步骤金额总和不能超过已接受投标金额（或项目预算）
func CheckBudget(project *model.Project, steps []model.PlanStep) error {
	total := TotalAmount(steps)
	ceiling, label := project.BudgetCeiling()
	if total.GreaterThan(ceiling) {
		return apperr.BudgetExceeded("total stage amount %s exceeds %s %s", total.String(), label, ceiling.String())
	}
	return nil
}

// CheckSchedule 工期总和不超过投标交付天数，且每个步骤的结束日期不晚于上限日期
func CheckSchedule(project *model.Project, steps []model.PlanStep) error {
	if days := project.DeliveryDays(); days > 0 {
		if total := TotalDays(steps); total > days {
			return apperr.ScheduleExceeded("total estimated duration of %d days exceeds the bid delivery duration of %d days", total, days)
		}
	}

	c, ok := Ceiling(project, steps)
	if !ok {
		return nil
	}
	for i, s := range steps {
		if s.EndDate.After(c.Date) {
			return apperr.ScheduleExceeded("step %d %q ends on %s, after the ceiling date %s (%s)",
				i+1, s.Title, s.EndDate.Format(dateLayout), c.Date.Format(dateLayout), c.Source)
		}
	}
	return nil
}

// DateCeiling 计划和里程碑日期不能超过的上限
type DateCeiling struct {
	Date   time.Time
	Source string
}

// Ceiling 已知交付天数时为 (最早步骤开始日期，否则项目开始日期) + 交付天数，
// 否则为项目截止日期；两者都无法计算时返回 false
func Ceiling(project *model.Project, steps []model.PlanStep) (DateCeiling, bool) {
	if days := project.DeliveryDays(); days > 0 {
		base, ok := earliestStart(steps)
		source := "earliest plan start"
		if !ok && project.StartDate != nil {
			base, ok = DateOnly(*project.StartDate), true
			source = "project start date"
		}
		if ok {
			return DateCeiling{
				Date:   base.AddDate(0, 0, days),
				Source: fmt.Sprintf("%s + %d delivery days", source, days),
			}, true
		}
	}
	if project.Deadline != nil {
		return DateCeiling{Date: DateOnly(*project.Deadline), Source: "project deadline"}, true
	}
	return DateCeiling{}, false
}

func earliestStart(steps []model.PlanStep) (time.Time, bool) {
	var earliest time.Time
	for _, s := range steps {
		if s.StartDate.IsZero() {
			continue
		}
		if earliest.IsZero() || s.StartDate.Before(earliest) {
			earliest = s.StartDate
		}
	}
	return earliest, !earliest.IsZero()
}

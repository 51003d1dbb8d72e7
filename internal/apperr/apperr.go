package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind 业务错误分类
type Kind string

const (
	KindValidation       Kind = "validation"
	KindBudgetExceeded   Kind = "budget_exceeded"
	KindScheduleExceeded Kind = "schedule_exceeded"
	KindPlanCompliance   Kind = "plan_compliance"
	KindOrdering         Kind = "ordering"
	KindPermission       Kind = "permission"
	KindNotFound         Kind = "not_found"
	KindAlreadyDone      Kind = "already_done"
	KindPersistence      Kind = "persistence"
)

// FieldError 单个字段的校验错误，Field 形如 steps[1].amount
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Error struct {
	Kind    Kind         `json:"kind"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
	Err     error        `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable 只有存储层故障值得消费端重试
func (e *Error) Retryable() bool { return e.Kind == KindPersistence }

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(fields []FieldError) *Error {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return &Error{
		Kind:    KindValidation,
		Message: strings.Join(parts, "; "),
		Fields:  fields,
	}
}

func Invalid(field, format string, args ...any) *Error {
	return Validation([]FieldError{{Field: field, Message: fmt.Sprintf(format, args...)}})
}

func BudgetExceeded(format string, args ...any) *Error {
	return newf(KindBudgetExceeded, format, args...)
}

func ScheduleExceeded(format string, args ...any) *Error {
	return newf(KindScheduleExceeded, format, args...)
}

func PlanCompliance(format string, args ...any) *Error {
	return newf(KindPlanCompliance, format, args...)
}

func Ordering(format string, args ...any) *Error {
	return newf(KindOrdering, format, args...)
}

func Permission(err error) *Error {
	return &Error{Kind: KindPermission, Message: err.Error(), Err: err}
}

func NotFound(format string, args ...any) *Error {
	return newf(KindNotFound, format, args...)
}

func AlreadyDone(format string, args ...any) *Error {
	return newf(KindAlreadyDone, format, args...)
}

func Persistence(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Message: op, Err: err}
}

// As 提取 *Error
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf 返回错误分类，非业务错误视为 persistence
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindPersistence
}

func IsAlreadyDone(err error) bool {
	return KindOf(err) == KindAlreadyDone
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindBudgetExceeded, KindScheduleExceeded, KindPlanCompliance:
		return http.StatusUnprocessableEntity
	case KindOrdering:
		return http.StatusConflict
	case KindPermission:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyDone:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

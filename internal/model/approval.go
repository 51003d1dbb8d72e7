package model

import "time"

// ApprovalStep 里程碑批准流程中最后完成的一步
type ApprovalStep string

const (
	ApprovalApproved  ApprovalStep = "approved"
	ApprovalReleased  ApprovalStep = "released"
	ApprovalCompleted ApprovalStep = "completed"
	ApprovalDone      ApprovalStep = "done"
)

type ApprovalSaga struct {
	MilestoneID int64        `json:"milestone_id"`
	ProjectID   int64        `json:"project_id"`
	ActorID     int64        `json:"actor_id"`
	LastStep    ApprovalStep `json:"last_step"`
	Attempts    int          `json:"attempts"`
	LastError   string       `json:"last_error,omitempty"`
	TraceID     string       `json:"trace_id,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (s *ApprovalSaga) Finished() bool {
	return s.LastStep == ApprovalDone
}

package repository

import (
	"context"
	"errors"

	mqcontracts "freelancehub/contracts/mq"
	"freelancehub/internal/model"
	"freelancehub/pkg/outbox"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// Store 是生命周期引擎的持久化入口。所有状态变更都在 InTx 中执行，
// fn 返回错误时整个事务回滚，不留下部分可见状态。
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Notifications() NotificationRepository
	Outbox() outbox.Source
	Ping(ctx context.Context) error
}

// Tx 一个事务内可用的仓储
type Tx interface {
	Projects() ProjectRepository
	Plans() PlanRepository
	Milestones() MilestoneRepository
	Payments() PaymentRepository
	Ledger() LedgerRepository
	Approvals() ApprovalRepository
	Events() EventWriter
}

type ProjectRepository interface {
	// Lock 读取项目并加行锁，同一项目上的变更因此串行执行
	Lock(ctx context.Context, id int64) (*model.Project, error)
	Get(ctx context.Context, id int64) (*model.Project, error)
	Create(ctx context.Context, p *model.Project) error
	UpdateStatus(ctx context.Context, id int64, status model.ProjectStatus) error
}

type PlanRepository interface {
	Get(ctx context.Context, projectID int64) (*model.Plan, error)
	Save(ctx context.Context, p *model.Plan) error
}

type MilestoneRepository interface {
	// ListByProject 按 (created_at, id) 升序返回，包含附件
	ListByProject(ctx context.Context, projectID int64) ([]*model.Milestone, error)
	Get(ctx context.Context, id int64) (*model.Milestone, error)
	// Insert 标题在项目内已存在时返回 ErrConflict
	Insert(ctx context.Context, m *model.Milestone) error
	Update(ctx context.Context, m *model.Milestone) error
	AddAttachments(ctx context.Context, milestoneID int64, attachments []model.Attachment) error
}

type PaymentRepository interface {
	// FindActive 返回 held/released/completed 状态的付款，没有时返回 ErrNotFound
	FindActive(ctx context.Context, milestoneID int64) (*model.EscrowPayment, error)
	Insert(ctx context.Context, p *model.EscrowPayment) error
	Update(ctx context.Context, p *model.EscrowPayment) error
}

type LedgerRepository interface {
	Append(ctx context.Context, t *model.LedgerTransaction) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]*model.LedgerTransaction, error)
	ListByMilestone(ctx context.Context, milestoneID int64) ([]*model.LedgerTransaction, error)
}

type ApprovalRepository interface {
	Get(ctx context.Context, milestoneID int64) (*model.ApprovalSaga, error)
	Save(ctx context.Context, s *model.ApprovalSaga) error
	ListUnfinished(ctx context.Context, limit int) ([]*model.ApprovalSaga, error)
}

// EventWriter 把生命周期事件写入 outbox
type EventWriter interface {
	Append(ctx context.Context, event *mqcontracts.LifecycleEvent) error
}

type NotificationRepository interface {
	// Persist 按 (event_id, user_id) 幂等写入，重复投递时返回已有记录且 created=false
	Persist(ctx context.Context, n *model.Notification) (created bool, err error)
	ListByUser(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]*model.Notification, error)
	MarkRead(ctx context.Context, userID, id int64) error
	Delete(ctx context.Context, userID, id int64) error
}

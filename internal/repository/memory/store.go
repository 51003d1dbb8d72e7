// Package memory 是进程内存储，用于本地开发和测试。
// 所有事务在一把全局锁下串行执行，fn 出错时恢复事务开始前的快照。
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	mqcontracts "freelancehub/contracts/mq"
	"freelancehub/internal/model"
	"freelancehub/internal/repository"
	"freelancehub/pkg/outbox"
)

type state struct {
	seq           int64
	projects      map[int64]model.Project
	plans         map[int64]model.Plan
	milestones    map[int64]model.Milestone
	attachments   map[int64][]model.Attachment
	payments      map[int64]model.EscrowPayment
	ledger        []model.LedgerTransaction
	approvals     map[int64]model.ApprovalSaga
	events        map[int64]outbox.Event
	notifications map[int64]model.Notification
}

func newState() *state {
	return &state{
		projects:      map[int64]model.Project{},
		plans:         map[int64]model.Plan{},
		milestones:    map[int64]model.Milestone{},
		attachments:   map[int64][]model.Attachment{},
		payments:      map[int64]model.EscrowPayment{},
		approvals:     map[int64]model.ApprovalSaga{},
		events:        map[int64]outbox.Event{},
		notifications: map[int64]model.Notification{},
	}
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	c := &state{
		seq:           s.seq,
		projects:      cloneMap(s.projects),
		plans:         cloneMap(s.plans),
		milestones:    cloneMap(s.milestones),
		attachments:   make(map[int64][]model.Attachment, len(s.attachments)),
		payments:      cloneMap(s.payments),
		ledger:        append([]model.LedgerTransaction(nil), s.ledger...),
		approvals:     cloneMap(s.approvals),
		events:        cloneMap(s.events),
		notifications: cloneMap(s.notifications),
	}
	for k, v := range s.attachments {
		c.attachments[k] = append([]model.Attachment(nil), v...)
	}
	return c
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

type Store struct {
	mu    sync.Mutex
	st    *state
	now   func() time.Time
	clock time.Time
}

func NewStore() *Store {
	return &Store{st: newState(), now: time.Now}
}

var _ repository.Store = (*Store)(nil)

// tick 返回严格递增的时间戳，保证创建顺序稳定
func (s *Store) tick() time.Time {
	t := s.now()
	if !t.After(s.clock) {
		t = s.clock.Add(time.Microsecond)
	}
	s.clock = t
	return t
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.st.clone()
	clock := s.clock
	if err := fn(ctx, &tx{s: s}); err != nil {
		s.st = snapshot
		s.clock = clock
		return err
	}
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Notifications() repository.NotificationRepository { return notificationRepo{s: s} }

func (s *Store) Outbox() outbox.Source { return outboxSource{s: s} }

type tx struct{ s *Store }

func (t *tx) Projects() repository.ProjectRepository     { return projectRepo{t.s} }
func (t *tx) Plans() repository.PlanRepository           { return planRepo{t.s} }
func (t *tx) Milestones() repository.MilestoneRepository { return milestoneRepo{t.s} }
func (t *tx) Payments() repository.PaymentRepository     { return paymentRepo{t.s} }
func (t *tx) Ledger() repository.LedgerRepository        { return ledgerRepo{t.s} }
func (t *tx) Approvals() repository.ApprovalRepository   { return approvalRepo{t.s} }
func (t *tx) Events() repository.EventWriter             { return eventWriter{t.s} }

type projectRepo struct{ s *Store }

func (r projectRepo) Lock(ctx context.Context, id int64) (*model.Project, error) {
	return r.Get(ctx, id)
}

func (r projectRepo) Get(_ context.Context, id int64) (*model.Project, error) {
	p, ok := r.s.st.projects[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if p.Bid != nil {
		bid := *p.Bid
		p.Bid = &bid
	}
	return &p, nil
}

func (r projectRepo) Create(_ context.Context, p *model.Project) error {
	if p.ID == 0 {
		p.ID = r.s.st.nextID()
	} else if _, exists := r.s.st.projects[p.ID]; exists {
		return repository.ErrConflict
	} else if p.ID > r.s.st.seq {
		r.s.st.seq = p.ID
	}
	if p.Status == "" {
		p.Status = model.ProjectOpenForBids
	}
	p.CreatedAt = r.s.tick()
	stored := *p
	if p.Bid != nil {
		bid := *p.Bid
		stored.Bid = &bid
	}
	r.s.st.projects[p.ID] = stored
	return nil
}

func (r projectRepo) UpdateStatus(_ context.Context, id int64, status model.ProjectStatus) error {
	p, ok := r.s.st.projects[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Status = status
	r.s.st.projects[id] = p
	return nil
}

type planRepo struct{ s *Store }

func (r planRepo) Get(_ context.Context, projectID int64) (*model.Plan, error) {
	p, ok := r.s.st.plans[projectID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	p.Steps = copySteps(p.Steps)
	return &p, nil
}

func (r planRepo) Save(_ context.Context, p *model.Plan) error {
	p.UpdatedAt = r.s.tick()
	stored := *p
	stored.Steps = copySteps(p.Steps)
	r.s.st.plans[p.ProjectID] = stored
	return nil
}

func copySteps(in []model.PlanStep) []model.PlanStep {
	if in == nil {
		return nil
	}
	out := make([]model.PlanStep, len(in))
	for i, step := range in {
		step.Deliverables = append([]string(nil), step.Deliverables...)
		out[i] = step
	}
	return out
}

type milestoneRepo struct{ s *Store }

func (r milestoneRepo) load(m model.Milestone) *model.Milestone {
	m.Attachments = append([]model.Attachment{}, r.s.st.attachments[m.ID]...)
	return &m
}

func (r milestoneRepo) ListByProject(_ context.Context, projectID int64) ([]*model.Milestone, error) {
	var out []*model.Milestone
	for _, m := range r.s.st.milestones {
		if m.ProjectID == projectID {
			out = append(out, r.load(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r milestoneRepo) Get(_ context.Context, id int64) (*model.Milestone, error) {
	m, ok := r.s.st.milestones[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.load(m), nil
}

func (r milestoneRepo) Insert(_ context.Context, m *model.Milestone) error {
	for _, existing := range r.s.st.milestones {
		if existing.ProjectID == m.ProjectID && existing.Title == m.Title {
			return repository.ErrConflict
		}
	}
	m.ID = r.s.st.nextID()
	m.CreatedAt = r.s.tick()
	m.UpdatedAt = m.CreatedAt
	stored := *m
	stored.Attachments = nil
	r.s.st.milestones[m.ID] = stored
	return nil
}

func (r milestoneRepo) Update(_ context.Context, m *model.Milestone) error {
	if _, ok := r.s.st.milestones[m.ID]; !ok {
		return repository.ErrNotFound
	}
	m.UpdatedAt = r.s.tick()
	stored := *m
	stored.Attachments = nil
	r.s.st.milestones[m.ID] = stored
	return nil
}

func (r milestoneRepo) AddAttachments(_ context.Context, milestoneID int64, attachments []model.Attachment) error {
	if _, ok := r.s.st.milestones[milestoneID]; !ok {
		return repository.ErrNotFound
	}
	for _, a := range attachments {
		a.ID = r.s.st.nextID()
		a.MilestoneID = milestoneID
		a.CreatedAt = r.s.tick()
		r.s.st.attachments[milestoneID] = append(r.s.st.attachments[milestoneID], a)
	}
	return nil
}

type paymentRepo struct{ s *Store }

func (r paymentRepo) FindActive(_ context.Context, milestoneID int64) (*model.EscrowPayment, error) {
	for _, p := range r.s.st.payments {
		if p.MilestoneID == milestoneID && p.Status.Active() {
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r paymentRepo) Insert(_ context.Context, p *model.EscrowPayment) error {
	p.ID = r.s.st.nextID()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.s.tick()
	}
	r.s.st.payments[p.ID] = *p
	return nil
}

func (r paymentRepo) Update(_ context.Context, p *model.EscrowPayment) error {
	if _, ok := r.s.st.payments[p.ID]; !ok {
		return repository.ErrNotFound
	}
	if p.Status.Active() {
		for id, other := range r.s.st.payments {
			if id != p.ID && other.MilestoneID == p.MilestoneID && other.Status.Active() {
				return repository.ErrConflict
			}
		}
	}
	r.s.st.payments[p.ID] = *p
	return nil
}

type ledgerRepo struct{ s *Store }

func (r ledgerRepo) Append(_ context.Context, t *model.LedgerTransaction) error {
	for _, existing := range r.s.st.ledger {
		if existing.PaymentID == t.PaymentID && existing.EntryType == t.EntryType {
			return repository.ErrConflict
		}
	}
	t.ID = r.s.st.nextID()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = r.s.tick()
	}
	r.s.st.ledger = append(r.s.st.ledger, *t)
	return nil
}

func (r ledgerRepo) ListByUser(_ context.Context, userID int64, limit int) ([]*model.LedgerTransaction, error) {
	var out []*model.LedgerTransaction
	for i := len(r.s.st.ledger) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if t := r.s.st.ledger[i]; t.UserID == userID {
			out = append(out, &t)
		}
	}
	return out, nil
}

func (r ledgerRepo) ListByMilestone(_ context.Context, milestoneID int64) ([]*model.LedgerTransaction, error) {
	var out []*model.LedgerTransaction
	for _, t := range r.s.st.ledger {
		if t.MilestoneID == milestoneID {
			t := t
			out = append(out, &t)
		}
	}
	return out, nil
}

type approvalRepo struct{ s *Store }

func (r approvalRepo) Get(_ context.Context, milestoneID int64) (*model.ApprovalSaga, error) {
	a, ok := r.s.st.approvals[milestoneID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (r approvalRepo) Save(_ context.Context, a *model.ApprovalSaga) error {
	a.UpdatedAt = r.s.tick()
	r.s.st.approvals[a.MilestoneID] = *a
	return nil
}

func (r approvalRepo) ListUnfinished(_ context.Context, limit int) ([]*model.ApprovalSaga, error) {
	var out []*model.ApprovalSaga
	for _, a := range r.s.st.approvals {
		if !a.Finished() {
			a := a
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type eventWriter struct{ s *Store }

func (w eventWriter) Append(_ context.Context, e *mqcontracts.LifecycleEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal lifecycle event: %w", err)
	}
	now := w.s.tick()
	id := w.s.st.nextID()
	aggregateID := e.ProjectID
	w.s.st.events[id] = outbox.Event{
		ID:            id,
		AggregateType: "project",
		AggregateID:   &aggregateID,
		RoutingKey:    e.Type,
		Payload:       payload,
		Status:        outbox.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return nil
}

package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqcontracts "freelancehub/contracts/mq"
	"freelancehub/internal/apperr"
	"freelancehub/internal/escrow"
	"freelancehub/internal/model"
	"freelancehub/internal/plan"
	"freelancehub/internal/repository"
	"freelancehub/internal/repository/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	clientID     int64 = 10
	freelancerID int64 = 20
	strangerID   int64 = 30
	projectID    int64 = 1
)

type flakyProcessor struct {
	escrow.SimulatedProcessor
	failRelease bool
}

func (p *flakyProcessor) Release(ctx context.Context, pay *model.EscrowPayment) error {
	if p.failRelease {
		return errors.New("payment gateway unavailable")
	}
	return nil
}

type env struct {
	t         *testing.T
	ctx       context.Context
	store     *memory.Store
	svc       *Service
	processor *flakyProcessor
}

func newEnv(t *testing.T, bidAmount string, deliveryDays int) *env {
	t.Helper()
	store := memory.NewStore()
	processor := &flakyProcessor{}
	ledger, err := escrow.NewLedger(escrow.Config{CommissionRate: escrow.DefaultCommissionRate}, processor, zap.NewNop())
	require.NoError(t, err)

	e := &env{
		t:         t,
		ctx:       context.Background(),
		store:     store,
		svc:       NewService(store, plan.NewValidator(), ledger, zap.NewNop()),
		processor: processor,
	}
	e.tx(func(ctx context.Context, tx repository.Tx) error {
		return tx.Projects().Create(ctx, &model.Project{
			ID:       projectID,
			ClientID: clientID,
			Title:    "Landing page",
			Budget:   decimal.NewFromInt(5000),
			Status:   model.ProjectInProgress,
			Bid: &model.AcceptedBid{
				BidID:        7,
				FreelancerID: freelancerID,
				Amount:       decimal.NewNullDecimal(decimal.RequireFromString(bidAmount)),
				DeliveryDays: deliveryDays,
			},
		})
	})
	return e
}

func (e *env) tx(fn func(ctx context.Context, tx repository.Tx) error) {
	e.t.Helper()
	require.NoError(e.t, e.store.InTx(e.ctx, fn))
}

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func planStep(title, amount string, days int, start, end string) model.PlanStep {
	return model.PlanStep{
		Title:         title,
		Description:   title + " phase",
		Amount:        decimal.RequireFromString(amount),
		EstimatedDays: days,
		StartDate:     date(start),
		EndDate:       date(end),
		Deliverables:  []string{title + " deliverable"},
	}
}

func twoSteps() []model.PlanStep {
	return []model.PlanStep{
		planStep("Design", "1000", 5, "2024-03-01", "2024-03-05"),
		planStep("Build", "1000", 10, "2024-03-06", "2024-03-15"),
	}
}

// approvedPlan submits and approves the two-step plan, returning its milestones.
func (e *env) approvedPlan() []*model.Milestone {
	e.t.Helper()
	_, err := e.svc.SubmitPlan(e.ctx, freelancerID, projectID, "two phases", twoSteps())
	require.NoError(e.t, err)
	res, err := e.svc.ApprovePlan(e.ctx, clientID, projectID)
	require.NoError(e.t, err)
	require.Len(e.t, res.Milestones, 2)
	return res.Milestones
}

func (e *env) milestone(id int64) *model.Milestone {
	var m *model.Milestone
	e.tx(func(ctx context.Context, tx repository.Tx) error {
		var err error
		m, err = tx.Milestones().Get(ctx, id)
		return err
	})
	return m
}

func (e *env) ledgerFor(milestoneID int64) []*model.LedgerTransaction {
	var out []*model.LedgerTransaction
	e.tx(func(ctx context.Context, tx repository.Tx) error {
		var err error
		out, err = tx.Ledger().ListByMilestone(ctx, milestoneID)
		return err
	})
	return out
}

func (e *env) eventTypes() []string {
	events, err := e.store.Outbox().GetPendingEvents(e.ctx, 1000)
	require.NoError(e.t, err)
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.RoutingKey)
	}
	return types
}

func (e *env) fundAndSubmit(milestoneID int64) {
	e.t.Helper()
	_, err := e.svc.FundMilestone(e.ctx, clientID, milestoneID)
	require.NoError(e.t, err)
	_, err = e.svc.SubmitMilestone(e.ctx, freelancerID, milestoneID, []model.Attachment{{FileName: "work.zip", Reference: "s3://bucket/work.zip"}})
	require.NoError(e.t, err)
}

func TestPlanRoundTrip_MaterializesStepsOnceInOrder(t *testing.T) {
	e := newEnv(t, "2000", 20)
	milestones := e.approvedPlan()

	assert.Equal(t, "Design", milestones[0].Title)
	assert.Equal(t, "Build", milestones[1].Title)
	assert.Equal(t, model.MilestonePending, milestones[0].Status)
	assert.Equal(t, date("2024-03-06"), *milestones[0].Deadline)
	assert.Equal(t, date("2024-03-16"), *milestones[1].Deadline)

	again, err := e.svc.ApprovePlan(e.ctx, clientID, projectID)
	require.NoError(t, err)
	assert.True(t, again.AlreadyDone)
	require.Len(t, again.Milestones, 2)
	assert.Equal(t, milestones[0].ID, again.Milestones[0].ID)

	assert.Equal(t, []string{mqcontracts.EventPlanSubmitted, mqcontracts.EventPlanApproved}, e.eventTypes())
}

func TestSubmitPlan_Permissions(t *testing.T) {
	e := newEnv(t, "2000", 20)
	_, err := e.svc.SubmitPlan(e.ctx, clientID, projectID, "", twoSteps())
	assert.Equal(t, apperr.KindPermission, apperr.KindOf(err))
	_, err = e.svc.SubmitPlan(e.ctx, strangerID, projectID, "", twoSteps())
	assert.Equal(t, apperr.KindPermission, apperr.KindOf(err))
	_, err = e.svc.SubmitPlan(e.ctx, freelancerID, 999, "", twoSteps())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestSubmitPlan_ScheduleCeiling(t *testing.T) {
	e := newEnv(t, "2000", 20)
	_, err := e.svc.SubmitPlan(e.ctx, freelancerID, projectID, "", []model.PlanStep{
		planStep("Everything", "1000", 25, "2024-03-01", "2024-03-25"),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindScheduleExceeded, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "20 days")

	_, err = e.svc.GetPlan(e.ctx, freelancerID, projectID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestPlanRevisionLoop(t *testing.T) {
	e := newEnv(t, "2000", 20)
	_, err := e.svc.RequestPlanRevision(e.ctx, clientID, projectID, "tighten scope")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = e.svc.SubmitPlan(e.ctx, freelancerID, projectID, "", twoSteps())
	require.NoError(t, err)

	_, err = e.svc.RequestPlanRevision(e.ctx, freelancerID, projectID, "nope")
	assert.Equal(t, apperr.KindPermission, apperr.KindOf(err))

	res, err := e.svc.RequestPlanRevision(e.ctx, clientID, projectID, "  tighten scope ")
	require.NoError(t, err)
	assert.Equal(t, model.PlanRevisionRequested, res.Plan.Status)
	assert.Equal(t, "tighten scope", res.Plan.ReviewNote)

	_, err = e.svc.ApprovePlan(e.ctx, clientID, projectID)
	assert.Equal(t, apperr.KindOrdering, apperr.KindOf(err))

	resubmitted, err := e.svc.SubmitPlan(e.ctx, freelancerID, projectID, "v2", twoSteps()[:1])
	require.NoError(t, err)
	assert.Equal(t, model.PlanSubmitted, resubmitted.Plan.Status)
	assert.Empty(t, resubmitted.Plan.ReviewNote)
	assert.Equal(t, 1, resubmitted.Plan.Summary.StepCount)

	_, err = e.svc.ApprovePlan(e.ctx, clientID, projectID)
	require.NoError(t, err)
	_, err = e.svc.SubmitPlan(e.ctx, freelancerID, projectID, "v3", twoSteps())
	assert.Equal(t, apperr.KindOrdering, apperr.KindOf(err))
}

func TestFundMilestone_Idempotent(t *testing.T) {
	e := newEnv(t, "2000", 20)
	ms := e.approvedPlan()

	_, err := e.svc.FundMilestone(e.ctx, freelancerID, ms[0].ID)
	assert.Equal(t, apperr.KindPermission, apperr.KindOf(err))

	first, err := e.svc.FundMilestone(e.ctx, clientID, ms[0].ID)
	require.NoError(t, err)
	assert.False(t, first.AlreadyDone)
	assert.Equal(t, model.MilestoneFunded, first.Milestone.Status)
	assert.Equal(t, model.PaymentHeld, first.Payment.Status)

	second, err := e.svc.FundMilestone(e.ctx, clientID, ms[0].ID)
	require.NoError(t, err)
	assert.True(t, second.AlreadyDone)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)

	entries := e.ledgerFor(ms[0].ID)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Amount.Equal(decimal.NewFromInt(-1000)))
}

func TestSubmitMilestone_RequiresFunding(t *testing.T) {
	e := newEnv(t, "2000", 20)
	ms := e.approvedPlan()

	_, err := e.svc.SubmitMilestone(e.ctx, freelancerID, ms[0].ID, nil)
	assert.Equal(t, apperr.KindOrdering, apperr.KindOf(err))

	_, err = e.svc.FundMilestone(e.ctx, clientID, ms[0].ID)
	require.NoError(t, err)

	_, err = e.svc.SubmitMilestone(e.ctx, clientID, ms[0].ID, nil)
	assert.Equal(t, apperr.KindPermission, apperr.KindOf(err))

	_, err = e.svc.SubmitMilestone(e.ctx, freelancerID, ms[0].ID, []model.Attachment{{FileName: " "}})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	res, err := e.svc.SubmitMilestone(e.ctx, freelancerID, ms[0].ID, []model.Attachment{{FileName: "mockups.pdf", Reference: "blob:1"}})
	require.NoError(t, err)
	assert.Equal(t, model.MilestoneSubmitted, res.Milestone.Status)
	require.Len(t, res.Milestone.Attachments, 1)
	assert.Equal(t, "mockups.pdf", res.Milestone.Attachments[0].FileName)

	again, err := e.svc.SubmitMilestone(e.ctx, freelancerID, ms[0].ID, []model.Attachment{{FileName: "dup.pdf", Reference: "blob:2"}})
	require.NoError(t, err)
	assert.True(t, again.AlreadyDone)
	assert.Len(t, e.milestone(ms[0].ID).Attachments, 1)
}

func TestApproveMilestone_ReleasesAndActivatesNext(t *testing.T) {
	e := newEnv(t, "2000", 20)
	ms := e.approvedPlan()
	e.fundAndSubmit(ms[0].ID)

	_, err := e.svc.ApproveMilestone(e.ctx, freelancerID, ms[0].ID)
	assert.Equal(t, apperr.KindPermission, apperr.KindOf(err))

	res, err := e.svc.ApproveMilestone(e.ctx, clientID, ms[0].ID)
	require.NoError(t, err)
	assert.False(t, res.AlreadyDone)
	assert.Empty(t, res.PendingStep)
	assert.Equal(t, model.MilestoneCompleted, res.Milestone.Status)
	require.NotNil(t, res.Payment)
	assert.Equal(t, model.PaymentReleased, res.Payment.Status)
	assert.True(t, res.Payment.FreelancerAmount.Equal(decimal.NewFromInt(950)))
	require.NotNil(t, res.Next)
	assert.Equal(t, ms[1].ID, res.Next.ID)
	assert.Equal(t, model.MilestoneInProgress, e.milestone(ms[1].ID).Status)

	again, err := e.svc.ApproveMilestone(e.ctx, clientID, ms[0].ID)
	require.NoError(t, err)
	assert.True(t, again.AlreadyDone)
	assert.Equal(t, model.PaymentReleased, again.Payment.Status)

	entries := e.ledgerFor(ms[0].ID)
	require.Len(t, entries, 2)
	assert.Equal(t, model.LedgerEscrowRelease, entries[1].EntryType)
	assert.True(t, entries[1].Amount.Equal(decimal.NewFromInt(950)))

	assert.Contains(t, e.eventTypes(), mqcontracts.EventMilestoneCompleted)
	assert.Contains(t, e.eventTypes(), mqcontracts.EventMilestoneActivated)
}

func TestApproveLastMilestone_SignalsProjectCompletion(t *testing.T) {
	e := newEnv(t, "2000", 20)
	ms := e.approvedPlan()
	e.fundAndSubmit(ms[0].ID)
	_, err := e.svc.ApproveMilestone(e.ctx, clientID, ms[0].ID)
	require.NoError(t, err)

	// 自动激活的里程碑注资后保持 in_progress
	funded, err := e.svc.FundMilestone(e.ctx, clientID, ms[1].ID)
	require.NoError(t, err)
	assert.Equal(t, model.MilestoneInProgress, funded.Milestone.Status)

	_, err = e.svc.SubmitMilestone(e.ctx, freelancerID, ms[1].ID, nil)
	require.NoError(t, err)
	res, err := e.svc.ApproveMilestone(e.ctx, clientID, ms[1].ID)
	require.NoError(t, err)
	assert.Nil(t, res.Next)
	assert.True(t, res.ProjectFinished)
	assert.Contains(t, e.eventTypes(), mqcontracts.EventProjectMilestonesCompleted)

	changed, err := e.svc.CompleteProject(e.ctx, projectID)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = e.svc.CompleteProject(e.ctx, projectID)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestMilestoneRevisionKeepsFundsHeld(t *testing.T) {
	e := newEnv(t, "2000", 20)
	ms := e.approvedPlan()
	e.fundAndSubmit(ms[0].ID)

	_, err := e.svc.RequestMilestoneRevision(e.ctx, clientID, ms[0].ID, "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	res, err := e.svc.RequestMilestoneRevision(e.ctx, clientID, ms[0].ID, "fix the header")
	require.NoError(t, err)
	assert.Equal(t, model.MilestoneRevisionRequested, res.Milestone.Status)
	assert.Equal(t, "fix the header", res.Milestone.ReviewNotes)

	_, err = e.svc.RequestMilestoneRevision(e.ctx, clientID, ms[0].ID, "again")
	assert.Equal(t, apperr.KindOrdering, apperr.KindOf(err))
	_, err = e.svc.ApproveMilestone(e.ctx, clientID, ms[0].ID)
	assert.Equal(t, apperr.KindOrdering, apperr.KindOf(err))

	views, err := e.svc.ListMilestones(e.ctx, freelancerID, projectID)
	require.NoError(t, err)
	require.NotNil(t, views[0].Payment)
	assert.Equal(t, model.PaymentHeld, views[0].Payment.Status)

	resubmitted, err := e.svc.SubmitMilestone(e.ctx, freelancerID, ms[0].ID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.MilestoneSubmitted, resubmitted.Milestone.Status)
}

func TestApproveMilestone_ResumesAfterReleaseFailure(t *testing.T) {
	e := newEnv(t, "2000", 20)
	ms := e.approvedPlan()
	e.fundAndSubmit(ms[0].ID)

	e.processor.failRelease = true
	res, err := e.svc.ApproveMilestone(e.ctx, clientID, ms[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalReleased, res.PendingStep)
	assert.Equal(t, model.MilestoneApproved, e.milestone(ms[0].ID).Status)
	assert.Len(t, e.ledgerFor(ms[0].ID), 1)

	var saga *model.ApprovalSaga
	e.tx(func(ctx context.Context, tx repository.Tx) error {
		var err error
		saga, err = tx.Approvals().Get(ctx, ms[0].ID)
		return err
	})
	assert.Equal(t, model.ApprovalApproved, saga.LastStep)
	assert.Equal(t, 1, saga.Attempts)
	assert.Contains(t, saga.LastError, "payment gateway unavailable")

	e.processor.failRelease = false
	finished, err := e.svc.ResumeApprovals(e.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, finished)

	assert.Equal(t, model.MilestoneCompleted, e.milestone(ms[0].ID).Status)
	assert.Equal(t, model.MilestoneInProgress, e.milestone(ms[1].ID).Status)
	assert.Len(t, e.ledgerFor(ms[0].ID), 2)

	finished, err = e.svc.ResumeApprovals(e.ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, finished)
}

func TestCreateMilestone_Invariants(t *testing.T) {
	e := newEnv(t, "2000", 20)

	_, err := e.svc.CreateMilestone(e.ctx, freelancerID, projectID, CreateMilestoneInput{Title: "Design", Amount: decimal.NewFromInt(100)})
	assert.Equal(t, apperr.KindOrdering, apperr.KindOf(err), "plan must be approved first")

	// 已批准计划，但只有 Design 被物化
	now := time.Now()
	e.tx(func(ctx context.Context, tx repository.Tx) error {
		steps := plan.Normalize(twoSteps())
		if err := tx.Plans().Save(ctx, &model.Plan{
			ProjectID:    projectID,
			FreelancerID: freelancerID,
			Steps:        steps,
			Summary:      plan.Summarize("", steps),
			Status:       model.PlanApproved,
			ReviewedAt:   &now,
		}); err != nil {
			return err
		}
		return tx.Milestones().Insert(ctx, &model.Milestone{
			ProjectID: projectID,
			Title:     "Design",
			Amount:    decimal.NewFromInt(1500),
			Status:    model.MilestoneInProgress,
		})
	})

	cases := []struct {
		name string
		in   CreateMilestoneInput
		kind apperr.Kind
		msg  string
	}{
		{"missing fields", CreateMilestoneInput{Title: " ", Amount: decimal.Zero}, apperr.KindValidation, "title"},
		{"not in plan", CreateMilestoneInput{Title: "Testing", Amount: decimal.NewFromInt(10)}, apperr.KindPlanCompliance, `"Testing"`},
		{"duplicate title", CreateMilestoneInput{Title: "Design", Amount: decimal.NewFromInt(10)}, apperr.KindValidation, "already exists"},
		{"over budget", CreateMilestoneInput{Title: "Build", Amount: decimal.NewFromInt(600)}, apperr.KindBudgetExceeded, "2100"},
		{"after ceiling", CreateMilestoneInput{Title: "Build", Amount: decimal.NewFromInt(500), Deadline: ptr(date("2024-03-30"))}, apperr.KindScheduleExceeded, "2024-03-21"},
		{"predecessor open", CreateMilestoneInput{Title: "Build", Amount: decimal.NewFromInt(500)}, apperr.KindOrdering, "in_progress"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.svc.CreateMilestone(e.ctx, freelancerID, projectID, tc.in)
			require.Error(t, err)
			assert.Equal(t, tc.kind, apperr.KindOf(err))
			assert.Contains(t, err.Error(), tc.msg)
		})
	}

	_, err = e.svc.CreateMilestone(e.ctx, clientID, projectID, CreateMilestoneInput{Title: "Build", Amount: decimal.NewFromInt(500)})
	assert.Equal(t, apperr.KindPermission, apperr.KindOf(err))

	e.tx(func(ctx context.Context, tx repository.Tx) error {
		list, err := tx.Milestones().ListByProject(ctx, projectID)
		if err != nil {
			return err
		}
		list[0].Status = model.MilestoneCompleted
		return tx.Milestones().Update(ctx, list[0])
	})

	res, err := e.svc.CreateMilestone(e.ctx, freelancerID, projectID, CreateMilestoneInput{
		Title:    "Build",
		Amount:   decimal.NewFromInt(500),
		Deadline: ptr(date("2024-03-20")),
	})
	require.NoError(t, err)
	assert.Equal(t, model.MilestonePending, res.Milestone.Status)
	assert.Contains(t, e.eventTypes(), mqcontracts.EventMilestoneCreated)
}

func TestEventsCarryTraceAndAmounts(t *testing.T) {
	e := newEnv(t, "2000", 20)
	ms := e.approvedPlan()
	_, err := e.svc.FundMilestone(e.ctx, clientID, ms[0].ID)
	require.NoError(t, err)

	events, err := e.store.Outbox().GetPendingEvents(e.ctx, 100)
	require.NoError(t, err)
	last := events[len(events)-1]
	require.Equal(t, mqcontracts.EventMilestoneFunded, last.RoutingKey)

	var payload mqcontracts.LifecycleEvent
	require.NoError(t, json.Unmarshal(last.Payload, &payload))
	assert.NotEmpty(t, payload.EventID)
	assert.Equal(t, clientID, payload.ClientID)
	assert.Equal(t, freelancerID, payload.FreelancerID)
	require.NotNil(t, payload.MilestoneID)
	assert.Equal(t, ms[0].ID, *payload.MilestoneID)
	require.NotNil(t, payload.PaymentID)
	assert.True(t, payload.Amount.Equal(decimal.NewFromInt(1000)))
}

func ptr[T any](v T) *T { return &v }

func TestLaterMilestone_WaitsForEarlierOne(t *testing.T) {
	e := newEnv(t, "2000", 20)
	ms := e.approvedPlan()

	// 提前注资允许
	funded, err := e.svc.FundMilestone(e.ctx, clientID, ms[1].ID)
	require.NoError(t, err)
	assert.Equal(t, model.MilestoneFunded, funded.Milestone.Status)

	_, err = e.svc.SubmitMilestone(e.ctx, freelancerID, ms[1].ID, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindOrdering, apperr.KindOf(err))
	assert.Contains(t, err.Error(), `"Design"`)
	assert.Equal(t, model.MilestoneFunded, e.milestone(ms[1].ID).Status)

	// 即使后面的里程碑已处于 submitted，也不能越过前一个被批准
	e.tx(func(ctx context.Context, tx repository.Tx) error {
		m, err := tx.Milestones().Get(ctx, ms[1].ID)
		if err != nil {
			return err
		}
		m.Status = model.MilestoneSubmitted
		return tx.Milestones().Update(ctx, m)
	})
	_, err = e.svc.ApproveMilestone(e.ctx, clientID, ms[1].ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindOrdering, apperr.KindOf(err))
	assert.Equal(t, model.MilestoneSubmitted, e.milestone(ms[1].ID).Status)
	for _, entry := range e.ledgerFor(ms[1].ID) {
		assert.NotEqual(t, model.LedgerEscrowRelease, entry.EntryType)
	}
}

func TestApproveEarlierMilestoneLast_SignalsProjectCompletion(t *testing.T) {
	e := newEnv(t, "2000", 20)
	ms := e.approvedPlan()
	e.fundAndSubmit(ms[0].ID)

	e.tx(func(ctx context.Context, tx repository.Tx) error {
		m, err := tx.Milestones().Get(ctx, ms[1].ID)
		if err != nil {
			return err
		}
		m.Status = model.MilestoneCompleted
		return tx.Milestones().Update(ctx, m)
	})

	res, err := e.svc.ApproveMilestone(e.ctx, clientID, ms[0].ID)
	require.NoError(t, err)
	assert.Empty(t, res.PendingStep)
	assert.Nil(t, res.Next)
	assert.True(t, res.ProjectFinished)
	assert.Equal(t, model.MilestoneCompleted, e.milestone(ms[0].ID).Status)
	assert.Contains(t, e.eventTypes(), mqcontracts.EventProjectMilestonesCompleted)
}

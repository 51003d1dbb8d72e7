package postgres

import (
	"context"
	"fmt"

	mqcontracts "freelancehub/contracts/mq"
	"freelancehub/internal/model"
	"freelancehub/pkg/outbox"

	"github.com/jackc/pgx/v5"
)

type approvalRepo struct {
	tx pgx.Tx
}

const selectApproval = `
	SELECT milestone_id, project_id, actor_id, last_step, attempts, last_error, trace_id, updated_at
	FROM approval_sagas
`

func scanApproval(row pgx.Row) (*model.ApprovalSaga, error) {
	var a model.ApprovalSaga
	err := row.Scan(&a.MilestoneID, &a.ProjectID, &a.ActorID, &a.LastStep, &a.Attempts, &a.LastError, &a.TraceID, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *approvalRepo) Get(ctx context.Context, milestoneID int64) (*model.ApprovalSaga, error) {
	a, err := scanApproval(r.tx.QueryRow(ctx, selectApproval+` WHERE milestone_id = $1`, milestoneID))
	if err != nil {
		return nil, mapErr(err)
	}
	return a, nil
}

func (r *approvalRepo) Save(ctx context.Context, a *model.ApprovalSaga) error {
	err := r.tx.QueryRow(ctx, `
		INSERT INTO approval_sagas (milestone_id, project_id, actor_id, last_step, attempts, last_error, trace_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (milestone_id) DO UPDATE SET
			last_step = EXCLUDED.last_step,
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			updated_at = NOW()
		RETURNING updated_at
	`, a.MilestoneID, a.ProjectID, a.ActorID, a.LastStep, a.Attempts, a.LastError, a.TraceID).Scan(&a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save approval: %w", mapErr(err))
	}
	return nil
}

func (r *approvalRepo) ListUnfinished(ctx context.Context, limit int) ([]*model.ApprovalSaga, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.tx.Query(ctx, selectApproval+`
		WHERE last_step <> 'done'
		ORDER BY updated_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}
	defer rows.Close()

	var out []*model.ApprovalSaga
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type eventWriter struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (w *eventWriter) Append(ctx context.Context, e *mqcontracts.LifecycleEvent) error {
	aggregateID := e.ProjectID
	if _, err := outbox.InsertEventInTx(ctx, w.tx, w.outbox, "project", &aggregateID, e.Type, e); err != nil {
		return fmt.Errorf("failed to append lifecycle event %s: %w", e.Type, err)
	}
	return nil
}

package postgres

import (
	"context"
	"fmt"

	"freelancehub/internal/model"
	"freelancehub/internal/repository"

	"github.com/jackc/pgx/v5"
)

type paymentRepo struct {
	tx pgx.Tx
}

// FindActive 部分唯一索引保证每个里程碑最多一条 held/released/completed 付款
func (r *paymentRepo) FindActive(ctx context.Context, milestoneID int64) (*model.EscrowPayment, error) {
	var p model.EscrowPayment
	err := r.tx.QueryRow(ctx, `
		SELECT id, milestone_id, project_id, client_id, freelancer_id, amount, platform_fee,
		       freelancer_amount, status, transaction_id, created_at, paid_at, released_at
		FROM escrow_payments
		WHERE milestone_id = $1 AND status IN ('held', 'released', 'completed')
	`, milestoneID).Scan(
		&p.ID, &p.MilestoneID, &p.ProjectID, &p.ClientID, &p.FreelancerID, &p.Amount, &p.PlatformFee,
		&p.FreelancerAmount, &p.Status, &p.TransactionID, &p.CreatedAt, &p.PaidAt, &p.ReleasedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (r *paymentRepo) Insert(ctx context.Context, p *model.EscrowPayment) error {
	err := r.tx.QueryRow(ctx, `
		INSERT INTO escrow_payments (milestone_id, project_id, client_id, freelancer_id, amount,
		                             platform_fee, freelancer_amount, status, transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`, p.MilestoneID, p.ProjectID, p.ClientID, p.FreelancerID, p.Amount,
		p.PlatformFee, p.FreelancerAmount, p.Status, p.TransactionID,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return mapErr(err)
	}
	return nil
}

func (r *paymentRepo) Update(ctx context.Context, p *model.EscrowPayment) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE escrow_payments
		SET platform_fee = $1, freelancer_amount = $2, status = $3, transaction_id = $4,
		    paid_at = $5, released_at = $6
		WHERE id = $7
	`, p.PlatformFee, p.FreelancerAmount, p.Status, p.TransactionID, p.PaidAt, p.ReleasedAt, p.ID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type ledgerRepo struct {
	tx pgx.Tx
}

const selectLedger = `
	SELECT id, user_id, payment_id, milestone_id, entry_type, amount, description, created_at
	FROM ledger_transactions
`

// Append 依赖 (payment_id, entry_type) 唯一约束，同一付款的同类流水只记一次
func (r *ledgerRepo) Append(ctx context.Context, t *model.LedgerTransaction) error {
	err := r.tx.QueryRow(ctx, `
		INSERT INTO ledger_transactions (user_id, payment_id, milestone_id, entry_type, amount, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, t.UserID, t.PaymentID, t.MilestoneID, t.EntryType, t.Amount, t.Description).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return mapErr(err)
	}
	return nil
}

func (r *ledgerRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]*model.LedgerTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, selectLedger+`
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, userID, limit)
}

func (r *ledgerRepo) ListByMilestone(ctx context.Context, milestoneID int64) ([]*model.LedgerTransaction, error) {
	return r.list(ctx, selectLedger+`
		WHERE milestone_id = $1
		ORDER BY id ASC
	`, milestoneID)
}

func (r *ledgerRepo) list(ctx context.Context, query string, args ...any) ([]*model.LedgerTransaction, error) {
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var out []*model.LedgerTransaction
	for rows.Next() {
		var t model.LedgerTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.PaymentID, &t.MilestoneID, &t.EntryType, &t.Amount, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

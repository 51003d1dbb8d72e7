package postgres

import (
	"context"
	"fmt"

	"freelancehub/internal/model"
	"freelancehub/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type projectRepo struct {
	tx pgx.Tx
}

const selectProject = `
	SELECT p.id, p.client_id, p.title, p.budget, p.start_date, p.deadline, p.status, p.created_at,
	       b.id, b.freelancer_id, b.amount, b.delivery_days
	FROM projects p
	LEFT JOIN bids b ON b.project_id = p.id AND b.status = 'accepted'
	WHERE p.id = $1
`

func scanProject(row pgx.Row) (*model.Project, error) {
	var (
		p            model.Project
		bidID        *int64
		freelancerID *int64
		bidAmount    decimal.NullDecimal
		deliveryDays *int
	)
	err := row.Scan(
		&p.ID, &p.ClientID, &p.Title, &p.Budget, &p.StartDate, &p.Deadline, &p.Status, &p.CreatedAt,
		&bidID, &freelancerID, &bidAmount, &deliveryDays,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	if bidID != nil && freelancerID != nil {
		p.Bid = &model.AcceptedBid{
			BidID:        *bidID,
			FreelancerID: *freelancerID,
			Amount:       bidAmount,
		}
		if deliveryDays != nil {
			p.Bid.DeliveryDays = *deliveryDays
		}
	}
	return &p, nil
}

// Lock 只锁项目行，投标行通过 LEFT JOIN 读取
func (r *projectRepo) Lock(ctx context.Context, id int64) (*model.Project, error) {
	return scanProject(r.tx.QueryRow(ctx, selectProject+` FOR UPDATE OF p`, id))
}

func (r *projectRepo) Get(ctx context.Context, id int64) (*model.Project, error) {
	return scanProject(r.tx.QueryRow(ctx, selectProject, id))
}

// Create 写入项目和已接受的投标，ID 为 0 时由序列生成
func (r *projectRepo) Create(ctx context.Context, p *model.Project) error {
	if p.Status == "" {
		p.Status = model.ProjectInProgress
	}
	var err error
	if p.ID > 0 {
		err = r.tx.QueryRow(ctx, `
			INSERT INTO projects (id, client_id, title, budget, start_date, deadline, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at
		`, p.ID, p.ClientID, p.Title, p.Budget, p.StartDate, p.Deadline, p.Status).Scan(&p.CreatedAt)
		if err == nil {
			_, err = r.tx.Exec(ctx, `SELECT setval('projects_id_seq', GREATEST((SELECT MAX(id) FROM projects), 1))`)
		}
	} else {
		err = r.tx.QueryRow(ctx, `
			INSERT INTO projects (client_id, title, budget, start_date, deadline, status)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, created_at
		`, p.ClientID, p.Title, p.Budget, p.StartDate, p.Deadline, p.Status).Scan(&p.ID, &p.CreatedAt)
	}
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", mapErr(err))
	}

	if p.Bid == nil {
		return nil
	}
	err = r.tx.QueryRow(ctx, `
		INSERT INTO bids (project_id, freelancer_id, amount, delivery_days, status)
		VALUES ($1, $2, $3, NULLIF($4, 0), 'accepted')
		RETURNING id
	`, p.ID, p.Bid.FreelancerID, p.Bid.Amount, p.Bid.DeliveryDays).Scan(&p.Bid.BidID)
	if err != nil {
		return fmt.Errorf("failed to insert accepted bid: %w", mapErr(err))
	}
	return nil
}

func (r *projectRepo) UpdateStatus(ctx context.Context, id int64, status model.ProjectStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE projects SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update project status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"freelancehub/internal/model"

	"github.com/jackc/pgx/v5"
)

type planRepo struct {
	tx pgx.Tx
}

func (r *planRepo) Get(ctx context.Context, projectID int64) (*model.Plan, error) {
	var (
		p       model.Plan
		summary []byte
		steps   []byte
	)
	err := r.tx.QueryRow(ctx, `
		SELECT project_id, freelancer_id, summary, steps, status, review_note,
		       submitted_at, reviewed_at, updated_at
		FROM project_plans
		WHERE project_id = $1
	`, projectID).Scan(
		&p.ProjectID, &p.FreelancerID, &summary, &steps, &p.Status, &p.ReviewNote,
		&p.SubmittedAt, &p.ReviewedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := json.Unmarshal(summary, &p.Summary); err != nil {
		return nil, fmt.Errorf("failed to decode plan summary: %w", err)
	}
	if err := json.Unmarshal(steps, &p.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode plan steps: %w", err)
	}
	return &p, nil
}

// Save 每个项目只有一份计划，重复提交覆盖旧内容
func (r *planRepo) Save(ctx context.Context, p *model.Plan) error {
	summary, err := json.Marshal(p.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode plan summary: %w", err)
	}
	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode plan steps: %w", err)
	}
	err = r.tx.QueryRow(ctx, `
		INSERT INTO project_plans (project_id, freelancer_id, summary, steps, status, review_note, submitted_at, reviewed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (project_id) DO UPDATE SET
			freelancer_id = EXCLUDED.freelancer_id,
			summary = EXCLUDED.summary,
			steps = EXCLUDED.steps,
			status = EXCLUDED.status,
			review_note = EXCLUDED.review_note,
			submitted_at = EXCLUDED.submitted_at,
			reviewed_at = EXCLUDED.reviewed_at,
			updated_at = NOW()
		RETURNING updated_at
	`, p.ProjectID, p.FreelancerID, summary, steps, p.Status, p.ReviewNote, p.SubmittedAt, p.ReviewedAt).Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save plan: %w", mapErr(err))
	}
	return nil
}

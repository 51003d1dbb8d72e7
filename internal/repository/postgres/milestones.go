package postgres

import (
	"context"
	"fmt"

	"freelancehub/internal/model"
	"freelancehub/internal/repository"

	"github.com/jackc/pgx/v5"
)

type milestoneRepo struct {
	tx pgx.Tx
}

const selectMilestone = `
	SELECT id, project_id, title, description, amount, deadline, status, review_notes,
	       submitted_at, approved_at, completed_at, created_at, updated_at
	FROM milestones
`

func scanMilestone(row pgx.Row) (*model.Milestone, error) {
	var m model.Milestone
	err := row.Scan(
		&m.ID, &m.ProjectID, &m.Title, &m.Description, &m.Amount, &m.Deadline, &m.Status, &m.ReviewNotes,
		&m.SubmittedAt, &m.ApprovedAt, &m.CompletedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Attachments = []model.Attachment{}
	return &m, nil
}

func (r *milestoneRepo) ListByProject(ctx context.Context, projectID int64) ([]*model.Milestone, error) {
	rows, err := r.tx.Query(ctx, selectMilestone+`
		WHERE project_id = $1
		ORDER BY created_at ASC, id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query milestones: %w", err)
	}
	defer rows.Close()

	var (
		out   []*model.Milestone
		index = map[int64]*model.Milestone{}
	)
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan milestone: %w", err)
		}
		out = append(out, m)
		index[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	attachments, err := r.attachments(ctx, `
		SELECT a.id, a.milestone_id, a.file_name, a.reference, a.created_at
		FROM milestone_attachments a
		JOIN milestones m ON m.id = a.milestone_id
		WHERE m.project_id = $1
		ORDER BY a.id ASC
	`, projectID)
	if err != nil {
		return nil, err
	}
	for _, a := range attachments {
		if m, ok := index[a.MilestoneID]; ok {
			m.Attachments = append(m.Attachments, a)
		}
	}
	return out, nil
}

func (r *milestoneRepo) Get(ctx context.Context, id int64) (*model.Milestone, error) {
	m, err := scanMilestone(r.tx.QueryRow(ctx, selectMilestone+` WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	attachments, err := r.attachments(ctx, `
		SELECT id, milestone_id, file_name, reference, created_at
		FROM milestone_attachments
		WHERE milestone_id = $1
		ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, err
	}
	m.Attachments = append(m.Attachments, attachments...)
	return m, nil
}

func (r *milestoneRepo) attachments(ctx context.Context, query string, arg int64) ([]model.Attachment, error) {
	rows, err := r.tx.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	defer rows.Close()

	var out []model.Attachment
	for rows.Next() {
		var a model.Attachment
		if err := rows.Scan(&a.ID, &a.MilestoneID, &a.FileName, &a.Reference, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Insert 依赖 (project_id, title) 唯一约束，并发重复创建返回 ErrConflict
func (r *milestoneRepo) Insert(ctx context.Context, m *model.Milestone) error {
	err := r.tx.QueryRow(ctx, `
		INSERT INTO milestones (project_id, title, description, amount, deadline, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, m.ProjectID, m.Title, m.Description, m.Amount, m.Deadline, m.Status).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	if m.Attachments == nil {
		m.Attachments = []model.Attachment{}
	}
	return nil
}

func (r *milestoneRepo) Update(ctx context.Context, m *model.Milestone) error {
	err := r.tx.QueryRow(ctx, `
		UPDATE milestones
		SET status = $1, review_notes = $2, submitted_at = $3, approved_at = $4, completed_at = $5,
		    deadline = $6, updated_at = NOW()
		WHERE id = $7
		RETURNING updated_at
	`, m.Status, m.ReviewNotes, m.SubmittedAt, m.ApprovedAt, m.CompletedAt, m.Deadline, m.ID).Scan(&m.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	return nil
}

func (r *milestoneRepo) AddAttachments(ctx context.Context, milestoneID int64, attachments []model.Attachment) error {
	batch := &pgx.Batch{}
	for _, a := range attachments {
		batch.Queue(`
			INSERT INTO milestone_attachments (milestone_id, file_name, reference)
			VALUES ($1, $2, $3)
		`, milestoneID, a.FileName, a.Reference)
	}
	br := r.tx.SendBatch(ctx, batch)
	defer br.Close()
	for range attachments {
		if _, err := br.Exec(); err != nil {
			if mapped := mapErr(err); mapped != err {
				return mapped
			}
			return fmt.Errorf("failed to insert attachment: %w", err)
		}
	}
	return nil
}

var _ repository.MilestoneRepository = (*milestoneRepo)(nil)

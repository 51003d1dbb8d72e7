// Package postgres 是生命周期引擎基于 pgx 的持久化实现
package postgres

import (
	"context"
	"errors"
	"fmt"

	"freelancehub/internal/repository"
	"freelancehub/pkg/outbox"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type Store struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewStore(db *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{db: db, outbox: outbox.NewRepository(db), logger: logger}
}

var _ repository.Store = (*Store)(nil)

// InTx 在一个 READ COMMITTED 事务中执行 fn，fn 出错时回滚并原样返回错误
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// 已提交时 Rollback 返回 ErrTxClosed，忽略
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("Failed to rollback transaction", zap.Error(rbErr))
		}
	}()

	if err := fn(ctx, &txRepos{tx: tx, outbox: s.outbox}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *Store) Notifications() repository.NotificationRepository {
	return &notificationRepo{db: s.db}
}

func (s *Store) Outbox() outbox.Source { return s.outbox }

type txRepos struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *txRepos) Projects() repository.ProjectRepository     { return &projectRepo{tx: t.tx} }
func (t *txRepos) Plans() repository.PlanRepository           { return &planRepo{tx: t.tx} }
func (t *txRepos) Milestones() repository.MilestoneRepository { return &milestoneRepo{tx: t.tx} }
func (t *txRepos) Payments() repository.PaymentRepository     { return &paymentRepo{tx: t.tx} }
func (t *txRepos) Ledger() repository.LedgerRepository        { return &ledgerRepo{tx: t.tx} }
func (t *txRepos) Approvals() repository.ApprovalRepository   { return &approvalRepo{tx: t.tx} }
func (t *txRepos) Events() repository.EventWriter {
	return &eventWriter{tx: t.tx, outbox: t.outbox}
}

// mapErr 把驱动错误转换为仓储层哨兵错误
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", repository.ErrConflict, pgErr.ConstraintName)
	}
	return err
}

package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper 定期恢复中断的里程碑批准流程
type Sweeper struct {
	service   *Service
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

func NewSweeper(service *Service, interval time.Duration, batchSize int, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Sweeper{service: service, interval: interval, batchSize: batchSize, logger: logger}
}

// Start 阻塞运行直到 ctx 取消
func (w *Sweeper) Start(ctx context.Context) {
	w.logger.Info("Starting approval sweeper", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Approval sweeper stopped")
			return
		case <-ticker.C:
			n, err := w.service.ResumeApprovals(ctx, w.batchSize)
			if err != nil {
				w.logger.Error("Failed to resume approvals", zap.Error(err))
				continue
			}
			if n > 0 {
				w.logger.Info("Resumed interrupted approvals", zap.Int("finished", n))
			}
		}
	}
}

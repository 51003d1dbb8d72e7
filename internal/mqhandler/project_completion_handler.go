package mqhandler

import (
	"context"
	"encoding/json"

	mqcontracts "freelancehub/contracts/mq"
	"freelancehub/pkg/logger"
	"freelancehub/pkg/util"

	"go.uber.org/zap"
)

// ProjectCompleter 由 lifecycle.Service 实现
type ProjectCompleter interface {
	CompleteProject(ctx context.Context, projectID int64) (bool, error)
}

// ProjectCompletionHandler 收到 project.milestones_completed 后把项目标记为 completed
type ProjectCompletionHandler struct {
	completer ProjectCompleter
	logger    *zap.Logger
}

func NewProjectCompletionHandler(completer ProjectCompleter, logger *zap.Logger) *ProjectCompletionHandler {
	return &ProjectCompletionHandler{completer: completer, logger: logger}
}

func (h *ProjectCompletionHandler) Handle(ctx context.Context, routingKey string, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var e mqcontracts.LifecycleEvent
	if err := json.Unmarshal(raw, &e); err != nil {
		log.Error("Invalid project completion payload (non-retryable)", zap.Error(err))
		return nil
	}

	changed, err := h.completer.CompleteProject(ctx, e.ProjectID)
	if err != nil {
		isRetryable, errType := util.IsRetryableError(err)
		log.Error("Failed to complete project",
			zap.Int64("project_id", e.ProjectID),
			zap.String("error_type", errType),
			zap.Bool("retryable", isRetryable),
			zap.Error(err),
		)
		if isRetryable {
			return err
		}
		return nil
	}

	if changed {
		log.Info("Project completed", zap.Int64("project_id", e.ProjectID))
	} else {
		log.Debug("Project already completed or not finished", zap.Int64("project_id", e.ProjectID))
	}
	return nil
}

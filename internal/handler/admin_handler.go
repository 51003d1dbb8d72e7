package handler

import (
	"errors"
	"net/http"
	"strconv"

	"freelancehub/internal/apperr"
	"freelancehub/pkg/outbox"
	"freelancehub/pkg/rbac"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AdminHandler struct {
	replayService *outbox.ReplayService
	admins        []int64
	logger        *zap.Logger
}

func NewAdminHandler(replayService *outbox.ReplayService, admins []int64, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		replayService: replayService,
		admins:        admins,
		logger:        logger,
	}
}

func (h *AdminHandler) authorize(c *gin.Context) bool {
	if err := rbac.CheckAdmin(currentUser(c), h.admins, rbac.PermissionReplayOutbox); err != nil {
		writeError(c, h.logger, apperr.Permission(err))
		return false
	}
	return true
}

// ReplayOutboxEvent 重放指定的 Outbox 事件
// POST /admin/outbox/replay?id=xxx
func (h *AdminHandler) ReplayOutboxEvent(c *gin.Context) {
	if !h.authorize(c) {
		return
	}
	eventID, err := strconv.ParseInt(c.Query("id"), 10, 64)
	if err != nil || eventID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "missing or invalid id parameter"})
		return
	}

	if err := h.replayService.ReplayEvent(c.Request.Context(), eventID); err != nil {
		if errors.Is(err, outbox.ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "outbox event not found"})
			return
		}
		h.logger.Error("Failed to replay event",
			zap.Int64("event_id", eventID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persistence", "message": "failed to replay event"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "replayed",
		"event_id": eventID,
	})
}

// ReplayFailedEvents 重放所有失败的事件
// POST /admin/outbox/replay-failed?limit=100
func (h *AdminHandler) ReplayFailedEvents(c *gin.Context) {
	if !h.authorize(c) {
		return
	}
	limit := queryLimit(c, 100, 1000)

	successCount, err := h.replayService.ReplayFailedEvents(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to replay failed events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persistence", "message": "failed to replay failed events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "completed",
		"success_count": successCount,
		"limit":         limit,
	})
}

package handler

import (
	"errors"
	"net/http"

	"freelancehub/internal/lifecycle"
	"freelancehub/internal/repository"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LedgerHandler 当前用户的资金流水
type LedgerHandler struct {
	svc    *lifecycle.Service
	logger *zap.Logger
}

func NewLedgerHandler(svc *lifecycle.Service, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{svc: svc, logger: logger}
}

// List GET /ledger?limit=50
func (h *LedgerHandler) List(c *gin.Context) {
	entries, err := h.svc.ListLedger(c.Request.Context(), currentUser(c), queryLimit(c, 50, 500))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// NotificationHandler 站内通知收件箱，只能操作自己的通知
type NotificationHandler struct {
	repo   repository.NotificationRepository
	logger *zap.Logger
}

func NewNotificationHandler(repo repository.NotificationRepository, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{repo: repo, logger: logger}
}

// List GET /notifications?unread=true&limit=50
func (h *NotificationHandler) List(c *gin.Context) {
	unread := c.Query("unread") == "true"
	items, err := h.repo.ListByUser(c.Request.Context(), currentUser(c), unread, queryLimit(c, 50, 200))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items})
}

// MarkRead POST /notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.repo.MarkRead(c.Request.Context(), currentUser(c), id); err != nil {
		h.inboxError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "read", "id": id})
}

// Delete DELETE /notifications/:id
func (h *NotificationHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.repo.Delete(c.Request.Context(), currentUser(c), id); err != nil {
		h.inboxError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": id})
}

func (h *NotificationHandler) inboxError(c *gin.Context, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "notification not found"})
		return
	}
	writeError(c, h.logger, err)
}

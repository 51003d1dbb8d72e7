package handler

import (
	"errors"
	"io"
	"net/http"

	"freelancehub/internal/lifecycle"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type MilestoneHandler struct {
	svc    *lifecycle.Service
	logger *zap.Logger
}

func NewMilestoneHandler(svc *lifecycle.Service, logger *zap.Logger) *MilestoneHandler {
	return &MilestoneHandler{svc: svc, logger: logger}
}

// List GET /projects/:id/milestones
func (h *MilestoneHandler) List(c *gin.Context) {
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}
	views, err := h.svc.ListMilestones(c.Request.Context(), currentUser(c), projectID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"milestones": views})
}

// Create POST /projects/:id/milestones
func (h *MilestoneHandler) Create(c *gin.Context) {
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req CreateMilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.CreateMilestone(c.Request.Context(), currentUser(c), projectID, req.input())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// Fund POST /milestones/:id/fund
func (h *MilestoneHandler) Fund(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	h.respond(c)(h.svc.FundMilestone(c.Request.Context(), currentUser(c), id))
}

// Submit POST /milestones/:id/submit
func (h *MilestoneHandler) Submit(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	// 请求体可以为空，附件为可选
	var req SubmitMilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return
	}
	h.respond(c)(h.svc.SubmitMilestone(c.Request.Context(), currentUser(c), id, req.attachments()))
}

// Approve POST /milestones/:id/approve
func (h *MilestoneHandler) Approve(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := h.svc.ApproveMilestone(c.Request.Context(), currentUser(c), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	// 批准已记录但放款等后续步骤待重试
	if res.PendingStep != "" {
		c.JSON(http.StatusAccepted, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// RequestRevision POST /milestones/:id/revision
func (h *MilestoneHandler) RequestRevision(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req MilestoneRevisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.respond(c)(h.svc.RequestMilestoneRevision(c.Request.Context(), currentUser(c), id, req.Notes))
}

func (h *MilestoneHandler) respond(c *gin.Context) func(*lifecycle.MilestoneResult, error) {
	return func(res *lifecycle.MilestoneResult, err error) {
		if err != nil {
			writeError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

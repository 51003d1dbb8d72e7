package handler

import (
	"net/http"

	"freelancehub/internal/lifecycle"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PlanHandler struct {
	svc    *lifecycle.Service
	logger *zap.Logger
}

func NewPlanHandler(svc *lifecycle.Service, logger *zap.Logger) *PlanHandler {
	return &PlanHandler{svc: svc, logger: logger}
}

// GetPlan GET /projects/:id/plan
func (h *PlanHandler) GetPlan(c *gin.Context) {
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}
	pl, err := h.svc.GetPlan(c.Request.Context(), currentUser(c), projectID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, pl)
}

// SubmitPlan PUT /projects/:id/plan
func (h *PlanHandler) SubmitPlan(c *gin.Context) {
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req SubmitPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.SubmitPlan(c.Request.Context(), currentUser(c), projectID, req.Overview, req.steps())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ApprovePlan POST /projects/:id/plan/approve
func (h *PlanHandler) ApprovePlan(c *gin.Context) {
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := h.svc.ApprovePlan(c.Request.Context(), currentUser(c), projectID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// RequestRevision POST /projects/:id/plan/revision
func (h *PlanHandler) RequestRevision(c *gin.Context) {
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req PlanRevisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.RequestPlanRevision(c.Request.Context(), currentUser(c), projectID, req.Note)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

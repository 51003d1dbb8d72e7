// Package handler gin 处理函数：解析请求、调用生命周期服务、把业务错误映射为 HTTP 状态码
package handler

import (
	"net/http"
	"strconv"

	"freelancehub/internal/apperr"
	"freelancehub/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ContextUserID 认证中间件写入的用户 ID
const ContextUserID = "user_id"

func currentUser(c *gin.Context) int64 {
	id, _ := c.Get(ContextUserID)
	uid, _ := id.(int64)
	return uid
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": string(apperr.KindValidation), "message": "invalid " + name + " parameter"})
		return 0, false
	}
	return id, true
}

func queryLimit(c *gin.Context, def, max int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   string(apperr.KindValidation),
		"message": "invalid request body: " + err.Error(),
	})
}

// writeError 业务错误带上分类和字段明细，持久化错误不向调用方暴露细节
func writeError(c *gin.Context, log *zap.Logger, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Persistence("request", err)
	}
	status := apperr.HTTPStatus(e.Kind)
	if e.Kind == apperr.KindPersistence {
		logger.WithTrace(c.Request.Context(), log).Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(status, gin.H{"error": string(e.Kind), "message": "internal error, please retry"})
		return
	}

	body := gin.H{"error": string(e.Kind), "message": e.Message}
	if len(e.Fields) > 0 {
		body["fields"] = e.Fields
	}
	c.JSON(status, body)
}

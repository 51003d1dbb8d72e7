package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"freelancehub/internal/handler"
	"freelancehub/pkg/logger"
	"freelancehub/pkg/metrics"
	"freelancehub/pkg/trace"
	"freelancehub/pkg/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := util.ExtractToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		userID, err := util.ParseJWT(token, jwtSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(handler.ContextUserID, userID)
		c.Next()
	}
}

// TraceMiddleware 复用请求头中的 trace ID，没有则生成，并回写到响应头
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, traceID := trace.Ensure(c.Request.Context(), c.GetHeader(trace.HeaderName))
		c.Request = c.Request.WithContext(ctx)
		c.Header(trace.HeaderName, traceID)
		c.Next()
	}
}

func AccessLogMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		metrics.RecordHTTPRequestDuration(c.Request.Method, path, strconv.Itoa(status), elapsed)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", elapsed),
		}
		if uid, ok := c.Get(handler.ContextUserID); ok {
			fields = append(fields, zap.Any("user_id", uid))
		}
		l := logger.WithTrace(c.Request.Context(), log)
		if status >= http.StatusInternalServerError {
			l.Warn("HTTP request", fields...)
			return
		}
		l.Debug("HTTP request", fields...)
	}
}

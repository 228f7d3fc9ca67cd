package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"userprofile/internal/auth"
	"userprofile/internal/logging"
	"userprofile/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

// RequestContext tags each request with an id, logs it once it completes and
// records the HTTP metrics.
func RequestContext(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(elapsed.Seconds())

		args := []any{
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration", elapsed,
			"size", c.Writer.Size(),
			"client_ip", c.ClientIP(),
		}
		if userID, ok := auth.UserIDFromContext(c); ok {
			args = append(args, "user_id", userID)
		}
		if status >= 500 {
			logger.Warn(ctx, "request completed", args...)
			return
		}
		logger.Debug(ctx, "request completed", args...)
	}
}

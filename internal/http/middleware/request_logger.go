package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const RequestIDHeader = "X-Request-ID"

// RequestLogger пишет одну строку на запрос и проставляет X-Request-ID.
func RequestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		c.Next()

		entry := log.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		})
		if v, ok := c.Get(ContextUserIDKey); ok {
			entry = entry.WithField("user_id", v)
		}
		switch {
		case c.Writer.Status() >= 500:
			entry.Error("HTTP запрос")
		case c.Writer.Status() >= 400:
			entry.Warn("HTTP запрос")
		default:
			entry.Debug("HTTP запрос")
		}
	}
}

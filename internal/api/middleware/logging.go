package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jobtrail/core/internal/services"
)

// RequestLogMiddleware records each API request in the log store
func RequestLogMiddleware(logService *services.LogService) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logService.LogAPIRequest(
			c.Request.Method,
			c.FullPath(),
			c.Writer.Status(),
			time.Since(start).Milliseconds(),
			c.ClientIP(),
			c.Request.UserAgent(),
		)
	}
}

package server

import (
	"time"

	"github.com/gin-gonic/gin"
)

func (h *Handler) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		h.logger.Infow("Request processed",
			"method", c.Request.Method,
			"path", path,
			"query", query,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
			"clientIP", c.ClientIP(),
		)

		if len(c.Errors) > 0 {
			h.logger.Errorw("Request errors", "errors", c.Errors.String())
		}
	}
}

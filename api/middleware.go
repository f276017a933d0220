package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/brushcast/brushcast/internal/slogging"
)

// RequestLogger logs each HTTP request with structured attributes. Server
// errors log at error level, everything else at info.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		}
		logger := slogging.Get()
		if c.Writer.Status() >= 500 {
			logger.ErrorCtx(c.Request.Context(), "http request", attrs...)
			return
		}
		logger.InfoCtx(c.Request.Context(), "http request", attrs...)
	}
}

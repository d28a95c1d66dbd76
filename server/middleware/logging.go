package middleware

import (
	"slices"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/rowstream/logger"
)

var probePaths = []string{"/health", "/alive", "/ready"}

// RequestLogger logs each completed request at a level chosen by its
// status. Probe endpoints are skipped. Streamed responses are logged when
// the stream ends, with the rows written if the handler recorded them under
// logger.FieldRows.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.WithComponent("http")
	}
	return func(c *gin.Context) {
		if slices.Contains(probePaths, c.Request.URL.Path) {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}
		status := c.Writer.Status()
		fields := logger.Fields(
			"method", c.Request.Method,
			"path", path,
			logger.FieldStatus, status,
			logger.FieldDuration, latency.String(),
			"client", c.ClientIP(),
		)
		if rows, ok := c.Get(logger.FieldRows); ok {
			fields[logger.FieldRows] = rows
		}
		if errs := c.Errors.ByType(gin.ErrorTypeAny); len(errs) > 0 {
			fields[logger.FieldError] = errs.Last().Error()
		}

		l := log.WithContext(c.Request.Context())
		switch {
		case status >= 500:
			l.Error("Request completed", fields)
		case status >= 400:
			l.Warn("Request completed", fields)
		default:
			l.Debug("Request completed", fields)
		}
	}
}

package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kbukum/rowstream/logger"
)

// HeaderRequestID is the request ID header, read from requests and echoed
// on responses.
const HeaderRequestID = "X-Request-Id"

// RequestID assigns each request an ID, keeping one sent by the client. The
// ID is stored on the gin context and on the request context, where
// logger.WithContext picks it up.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(logger.FieldRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Request = c.Request.WithContext(logger.ContextWithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

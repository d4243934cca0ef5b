package api

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mangohabit/feedcore/pkg/logging"
)

// Identity headers set by the authenticating proxy
const (
	HeaderUserID    = "X-User-ID"
	HeaderSessionID = "X-Session-ID"
	HeaderRequestID = "X-Request-ID"
)

const (
	userIDKey    = "mango.user_id"
	sessionIDKey = "mango.session_id"
)

// SessionMiddleware copies the identity headers into the gin context and tags
// every request with an id.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(HeaderRequestID, requestID)

		c.Set(userIDKey, c.GetHeader(HeaderUserID))
		c.Set(sessionIDKey, c.GetHeader(HeaderSessionID))
		c.Next()
	}
}

// userID returns the caller's user id or an error when it is missing
func userID(c *gin.Context) (string, error) {
	if id := c.GetString(userIDKey); id != "" {
		return id, nil
	}
	return "", NewError(ErrMissingIdentity, "missing "+HeaderUserID+" header")
}

// sessionID returns the caller's session id or an error when it is missing
func sessionID(c *gin.Context) (string, error) {
	if id := c.GetString(sessionIDKey); id != "" {
		return id, nil
	}
	return "", NewError(ErrMissingIdentity, "missing "+HeaderSessionID+" header")
}

// requestLogger is a gin middleware logging each request at debug level
func requestLogger() gin.HandlerFunc {
	logger := logging.WithComponent("http")
	return func(c *gin.Context) {
		c.Next()
		logger.Debug("Request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("request_id", c.Writer.Header().Get(HeaderRequestID)),
			zap.String("session_id", c.GetString(sessionIDKey)))
	}
}

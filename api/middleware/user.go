package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/vectordocs/pkg/logger"
)

// UserIDHeader carries the caller's identity, set by the gateway in front
// of this service.
const UserIDHeader = "X-User-Id"

const userIDKey = "userId"

// RequireUser rejects requests without a user id header.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(UserIDHeader)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "missing " + UserIDHeader + " header",
				"message": "Unauthorized",
			})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID returns the id stored by RequireUser.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// RequestLogger logs one line per request.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", c.FullPath()),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("latency", time.Since(start)),
		}
		if userID := UserID(c); userID != "" {
			fields = append(fields, logger.String("userId", userID))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Error("Request failed", fields...)
			return
		}
		log.Info("Request handled", fields...)
	}
}

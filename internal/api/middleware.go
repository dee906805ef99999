package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rapidworks/expertdesk/internal/auth"
	"github.com/rapidworks/expertdesk/internal/model"
)

const principalKey = "principal"

// TokenValidator validates a bearer token.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// extractToken reads the bearer token from the Authorization header, or from
// the token query parameter for WebSocket clients that cannot set headers.
func extractToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return c.Query("token")
}

// RequireAuth rejects requests without a valid token and stores the
// session principal on the context.
func RequireAuth(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newError(http.StatusUnauthorized, CodeUnauthorized, "missing bearer token"))
			return
		}
		claims, err := tokens.ValidateToken(token)
		if err != nil {
			HandleError(err, c)
			return
		}
		c.Set(principalKey, claims.Principal())
		c.Next()
	}
}

// principal returns the session principal set by RequireAuth.
func principal(c *gin.Context) model.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(model.Principal); ok {
			return p
		}
	}
	return model.Principal{}
}

// RequestLogger logs one line per request.
func RequestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		if p := principal(c); p.Email != "" {
			entry = entry.WithField("principal", p.Email)
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("request failed")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Info("request rejected")
		default:
			entry.Debug("request served")
		}
	}
}

package auth

import (
	"net/http"
	"strings"

	"engagement-platform/internal/audit"
	"engagement-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "
)

// RequireAccessToken verifies an access token and puts the caller's Principal on the
// request context. Role checks happen in internal/rbac.
//
// The request logger is re-scoped with the caller so engine logs below the HTTP layer
// say who fired the trigger.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		tok, ok := strings.CutPrefix(raw, bearerPrefix)
		if !ok || tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := m.Verify(tok, TokenTypeAccess, m.now())
		if err != nil {
			logger.FromGin(c).Debug("access token rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		p := Principal{UserID: claims.UserID, Role: claims.Role}
		l := logger.FromGin(c).With("actor_id", p.UserID, "actor_role", p.Role)
		c.Set("logger", l)

		ctx := WithPrincipal(c.Request.Context(), p)
		ctx = audit.WithClientIP(ctx, c.ClientIP())
		ctx = logger.With(ctx, l)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

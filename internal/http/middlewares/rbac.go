package middlewares

import (
	"net/http"

	"github.com/geocoder89/trajethub/internal/domain/principal"
	"github.com/gin-gonic/gin"
)

// RequireKind only lets tokens issued to the given principal kind through.
// It must run after RequireAuth.
func (m *AuthMiddleware) RequireKind(required principal.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		kind, ok := KindFromContext(c)

		if !ok || kind == "" {
			abortUnauthorized(c, "Missing identity context")
			return
		}
		if kind != required {
			abortWithError(c, http.StatusForbidden, "FORBIDDEN", string(required)+" account required")
			return
		}
		c.Next()
	}
}

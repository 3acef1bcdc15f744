package middlewares

import (
	"net/http"
	"strings"

	"github.com/geocoder89/trajethub/internal/auth"
	"github.com/geocoder89/trajethub/internal/domain/principal"
	"github.com/gin-gonic/gin"
)

const ctxIdentityKey = "auth.identity"

// TokenVerifier is satisfied by *auth.Manager.
type TokenVerifier interface {
	VerifyAccessToken(token string) (*auth.Claims, error)
}

type AuthMiddleware struct {
	tokens TokenVerifier
}

func NewAuthMiddleware(tokens TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.Header("WWW-Authenticate", `Bearer realm="trajethub"`)
	abortWithError(c, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

// bearerToken extracts the credentials of an "Authorization: Bearer" header.
// The scheme is matched case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c, "Missing or invalid Authorization header")
			return
		}

		claims, err := m.tokens.VerifyAccessToken(raw)
		if err != nil {
			abortUnauthorized(c, "Invalid or expired access token")
			return
		}

		c.Set(ctxIdentityKey, claims)
		c.Next()
	}
}

// IdentityFromContext returns the verified claims stored by RequireAuth.
func IdentityFromContext(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(ctxIdentityKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok && claims != nil
}

func PrincipalIDFromContext(c *gin.Context) (string, bool) {
	claims, ok := IdentityFromContext(c)
	if !ok {
		return "", false
	}
	return claims.PrincipalID, true
}

func KindFromContext(c *gin.Context) (principal.Kind, bool) {
	claims, ok := IdentityFromContext(c)
	if !ok {
		return "", false
	}
	return claims.Kind, true
}

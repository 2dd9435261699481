package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"realsync/api/internal/response"
	"realsync/api/internal/security"
)

const identityKey = "identity"

// Auth verifies the bearer access token and attaches its identity to the
// request. It never touches a store: the token alone is trusted until it expires.
func Auth(tokens *security.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			response.Abort(c, http.StatusUnauthorized, "No token provided")
			return
		}

		claims, err := tokens.ParseAccess(tokenStr)
		if err != nil {
			response.Abort(c, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		c.Set(identityKey, claims.Identity())
		c.Next()
	}
}

// CurrentIdentity returns the identity Auth attached, if any.
func CurrentIdentity(c *gin.Context) (security.Identity, bool) {
	val, exists := c.Get(identityKey)
	if !exists {
		return security.Identity{}, false
	}
	identity, ok := val.(security.Identity)
	return identity, ok
}

func bearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}

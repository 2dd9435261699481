package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"realsync/api/internal/models"
	"realsync/api/internal/response"
)

// RequireRoles must run after Auth.
func RequireRoles(roles ...models.Role) gin.HandlerFunc {
	roleSet := make(map[models.Role]struct{}, len(roles))
	for _, role := range roles {
		roleSet[role] = struct{}{}
	}

	return func(c *gin.Context) {
		identity, ok := CurrentIdentity(c)
		if !ok {
			response.Abort(c, http.StatusUnauthorized, "Authentication required")
			return
		}

		if _, ok := roleSet[identity.Role]; !ok {
			response.Abort(c, http.StatusForbidden, "Insufficient permissions")
			return
		}

		c.Next()
	}
}

package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/karripar/va-hybrid-api/internal/models"
	appErrors "github.com/karripar/va-hybrid-api/pkg/errors"
	"github.com/karripar/va-hybrid-api/pkg/response"
)

// SelfParam marks a route parameter naming the user who owns the resource.
const SelfParam = "SELF"

// RBAC enforces role-based access control for routes. Passing SelfParam also
// admits callers whose user id equals the userId path parameter.
func RBAC(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims, ok := claimsValue.(*models.JWTClaims)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		allowSelf := false
		allowedRoles := make(map[models.Role]struct{})

		for _, a := range allowed {
			if a == SelfParam {
				allowSelf = true
				continue
			}
			allowedRoles[models.Role(a)] = struct{}{}
		}

		if _, ok := allowedRoles[claims.Role]; ok {
			c.Next()
			return
		}

		if allowSelf && claims.Role != models.RoleGuest {
			if targetID := c.Param("userId"); targetID != "" && targetID == claims.UserID {
				c.Next()
				return
			}
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}

// RequireRoles is a helper that accepts a list of roles.
func RequireRoles(roles ...models.Role) gin.HandlerFunc {
	allowed := make([]string, len(roles))
	for i, r := range roles {
		allowed[i] = string(r)
	}
	return RBAC(allowed...)
}

// SelfOrAdmin admits admins and the user named by the userId path parameter.
func SelfOrAdmin() gin.HandlerFunc {
	return RBAC(string(models.RoleAdmin), SelfParam)
}

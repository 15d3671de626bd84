package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/stopka007/IoT-sub000/internal/models"
	"github.com/stopka007/IoT-sub000/internal/service"
)

// RequireRoles must run after Auth.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	roleSet := make(map[models.UserRole]struct{}, len(roles))
	for _, role := range roles {
		roleSet[role] = struct{}{}
	}

	return func(c *gin.Context) {
		principal, ok := CurrentPrincipal(c)
		if !ok {
			Fail(c, service.ErrMissingAuthHeader)
			return
		}

		if _, ok := roleSet[principal.Role]; !ok {
			Fail(c, service.ErrInsufficientRole)
			return
		}

		c.Next()
	}
}

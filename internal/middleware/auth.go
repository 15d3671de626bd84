package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/stopka007/IoT-sub000/internal/service"
)

const principalKey = "principal"

type Authenticator interface {
	Authenticate(header string) (service.Principal, error)
}

// Auth requires a valid bearer access token and stores the caller's
// principal on the context.
func Auth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := auth.Authenticate(c.GetHeader("Authorization"))
		if err != nil {
			Fail(c, err)
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// CurrentPrincipal returns the principal stored by Auth.
func CurrentPrincipal(c *gin.Context) (service.Principal, bool) {
	val, ok := c.Get(principalKey)
	if !ok {
		return service.Principal{}, false
	}
	principal, ok := val.(service.Principal)
	return principal, ok
}

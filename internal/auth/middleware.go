package auth

import (
	"bankledger/pkg/response"

	"github.com/gin-gonic/gin"
)

const principalKey = "auth.principal"

// Middleware rejects requests without a valid bearer token and stores the
// caller's Principal on the gin context.
func Middleware(issuer *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractBearer(c.GetHeader("Authorization"))
		if token == "" {
			response.Unauthorized(c, "missing token")
			return
		}

		p, err := issuer.Parse(token)
		if err != nil {
			response.Unauthorized(c, "invalid token")
			return
		}

		c.Set(principalKey, p)
		c.Next()
	}
}

// PrincipalFrom returns the caller set by Middleware.
func PrincipalFrom(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

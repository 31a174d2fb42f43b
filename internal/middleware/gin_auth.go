package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GinRequireAccessToken runs RequireAccessToken in a gin chain. Verified
// claims ride on c.Request's context; read them with ClaimsFromContext.
// A rejected token has already been answered, so the chain stops there.
func GinRequireAccessToken(m *AuthMiddleware) gin.HandlerFunc {
	return func(c *gin.Context) {
		admitted := false
		m.RequireAccessToken(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			admitted = true
			c.Request = r
		})).ServeHTTP(c.Writer, c.Request)

		if !admitted {
			c.Abort()
			return
		}
		c.Next()
	}
}

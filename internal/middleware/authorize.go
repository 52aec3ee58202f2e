package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"codex-bridge/internal/auth"
)

const authResultContextKey = "authResult"

// ResultFromContext returns the authorization result stored by the gates.
func ResultFromContext(c *gin.Context) (auth.Result, bool) {
	value, ok := c.Get(authResultContextKey)
	if !ok {
		return auth.Result{}, false
	}
	result, ok := value.(auth.Result)
	return result, ok
}

// RequireGeneral admits any authorized caller and stores the result for
// downstream scoping.
func RequireGeneral(a *auth.Authorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		result := a.Authorize(c.Request)
		if !result.Authorized {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}
		c.Set(authResultContextKey, result)
		c.Next()
	}
}

// RequireManagement admits only callers with management scope: loopback or
// the shared management token. Device tokens are not enough.
func RequireManagement(a *auth.Authorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		result := a.Authorize(c.Request)
		if !result.Authorized {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}
		if !result.Management {
			c.JSON(http.StatusForbidden, gin.H{"error": "Management scope required"})
			c.Abort()
			return
		}
		c.Set(authResultContextKey, result)
		c.Next()
	}
}

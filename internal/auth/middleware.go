package auth

import (
	"net/http"
	"strings"

	"github.com/examly/hallpass/internal/model"
	"github.com/gin-gonic/gin"
)

const contextUserKey = "auth_user"

// Middleware validates the bearer token and stores the acting user in
// the request context.
func Middleware(manager *JWTManager) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := manager.Validate(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		ctx.Set(contextUserKey, claims.User())
		ctx.Next()
	}
}

// CurrentUser returns the authenticated user set by Middleware.
func CurrentUser(ctx *gin.Context) (*model.User, bool) {
	v, ok := ctx.Get(contextUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*model.User)
	return user, ok
}

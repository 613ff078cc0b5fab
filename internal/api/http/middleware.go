package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/meshcall/core/internal/identity"
	"github.com/meshcall/core/internal/repository"
)

const ctxUserID = "userID"

// AuthRequired verifies the bearer token and stores the caller's user id on
// the request context.
func AuthRequired(tokens *identity.TokenManager) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		userID, err := tokens.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		ctx.Set(ctxUserID, userID)
		ctx.Next()
	}
}

// AdminRequired loads the authenticated user and refuses non-admins. It must
// run after AuthRequired.
func AdminRequired(users repository.UserRepository) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		userID := ctx.GetString(ctxUserID)
		user, err := users.GetByID(ctx.Request.Context(), userID)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
			return
		}
		if !user.IsAdmin() {
			ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		ctx.Next()
	}
}

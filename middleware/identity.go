package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/checkin/utils"
)

// ContextUserIDKey is the gin context key holding the resolved caller id.
const ContextUserIDKey = "user_id"

// Identity resolves who is calling. A valid bearer token names the user; a
// request without one acts as defaultUserID. A present but invalid token is rejected.
func Identity(defaultUserID string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authHeader := ctx.GetHeader("Authorization")
		if authHeader == "" {
			ctx.Set(ContextUserIDKey, defaultUserID)
			ctx.Next()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			utils.Error(ctx, http.StatusUnauthorized, 40101, "invalid authorization header format")
			ctx.Abort()
			return
		}

		claims, err := utils.ParseToken(strings.TrimSpace(parts[1]))
		if err != nil {
			utils.Error(ctx, http.StatusUnauthorized, 40102, "invalid token")
			ctx.Abort()
			return
		}

		ctx.Set(ContextUserIDKey, claims.Identity())
		ctx.Next()
	}
}

// UserID returns the id set by Identity, or "" when the middleware did not run.
func UserID(ctx *gin.Context) string {
	return ctx.GetString(ContextUserIDKey)
}

package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/meethub/backend/internal/auth"
	"github.com/meethub/backend/internal/errors"
	"github.com/meethub/backend/internal/models"
)

const (
	// ContextUserKey is where the authenticated user lands in the gin context
	ContextUserKey = "user"
	// ContextUserIDKey is where the authenticated user's ID lands
	ContextUserIDKey = "user_id"
)

// AuthRequired verifies the bearer token on every request and stores the
// resolved user in the context. Requests without a valid token are rejected
// with the AUTH_ERROR taxonomy code.
func AuthRequired(verifier auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ""
		if header := c.GetHeader("Authorization"); header != "" {
			if strings.HasPrefix(header, "Bearer ") {
				tokenString = strings.TrimPrefix(header, "Bearer ")
			} else {
				tokenString = header
			}
		}

		user, err := verifier.VerifyToken(c.Request.Context(), tokenString)
		if err != nil {
			apiErr, ok := errors.AsAPIError(err)
			if !ok {
				apiErr = errors.Auth("authentication failed")
			}
			c.AbortWithStatusJSON(apiErr.Status, gin.H{
				"error":   apiErr.Code,
				"message": apiErr.Message,
			})
			return
		}

		c.Set(ContextUserKey, user)
		c.Set(ContextUserIDKey, user.ID)
		c.Next()
	}
}

// CurrentUser returns the authenticated user from the gin context
func CurrentUser(c *gin.Context) (*models.User, bool) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	user, ok := value.(*models.User)
	return user, ok
}

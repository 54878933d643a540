package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/peonhq/dashboard/internal/models"
	"github.com/peonhq/dashboard/pkg/errors"
	"github.com/peonhq/dashboard/pkg/response"
)

// RequireAdmin rejects principals without the admin role.
func RequireAdmin() gin.HandlerFunc {
	return requireRole(func(u *models.User) bool { return u.IsAdmin() }, errors.ErrAdminRequired)
}

// RequireModerator rejects principals that may not moderate chat.
func RequireModerator() gin.HandlerFunc {
	return requireRole(func(u *models.User) bool { return u.IsModerator() }, errors.ErrForbidden.WithMessage("Moderator access required"))
}

func requireRole(allowed func(*models.User) bool, denied *errors.AppError) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !allowed(principal) {
			response.Error(c, denied)
			c.Abort()
			return
		}
		c.Next()
	}
}

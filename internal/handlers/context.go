package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/peonhq/dashboard/internal/middleware"
	"github.com/peonhq/dashboard/internal/models"
	"github.com/peonhq/dashboard/pkg/errors"
	"github.com/peonhq/dashboard/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentPrincipal returns the authenticated principal or writes a 401 and reports false.
func currentPrincipal(c *gin.Context) (*models.User, bool) {
	principal, ok := middleware.PrincipalFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return nil, false
	}
	return principal, true
}

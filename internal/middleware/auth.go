package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/peonhq/dashboard/internal/auth"
	"github.com/peonhq/dashboard/internal/auditctx"
	"github.com/peonhq/dashboard/internal/models"
	"github.com/peonhq/dashboard/pkg/errors"
	"github.com/peonhq/dashboard/pkg/metrics"
	"github.com/peonhq/dashboard/pkg/response"
)

const (
	CtxClaimsKey    = "authClaims"
	CtxUserIDKey    = "userID"
	CtxPrincipalKey = "principal"
)

// TokenAuthenticator resolves a bearer token to an active principal.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, *iauth.Claims, error)
}

// Auth enforces bearer token authentication and loads the principal record.
func Auth(authn TokenAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			metrics.AuthAttempts.WithLabelValues("missing").Inc()
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		principal, claims, err := authn.Authenticate(c.Request.Context(), token)
		if err != nil {
			metrics.AuthAttempts.WithLabelValues("rejected").Inc()
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized.WithInternal(err))
			c.Abort()
			return
		}
		metrics.AuthAttempts.WithLabelValues("ok").Inc()

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, principal.ID)
		c.Set(CtxPrincipalKey, principal)

		ctx := auditctx.WithActor(c.Request.Context(), auditctx.ForUser(principal, c.ClientIP()))
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// PrincipalFromContext returns the principal loaded by Auth.
func PrincipalFromContext(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(CtxPrincipalKey)
	if !ok {
		return nil, false
	}
	principal, ok := v.(*models.User)
	return principal, ok && principal != nil
}

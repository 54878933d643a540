package auth

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/peonhq/dashboard/internal/models"
)

var (
	// ErrInvalidToken is returned when a token fails signature, expiry or claim checks.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrInactivePrincipal is returned when the token subject no longer maps to an active user.
	ErrInactivePrincipal = errors.New("auth: principal not found or inactive")
)

// Authenticator turns a bearer token into the principal record it names.
type Authenticator struct {
	tokens *JWTService
	db     *gorm.DB
}

// NewAuthenticator wires token validation to the user store.
func NewAuthenticator(tokens *JWTService, db *gorm.DB) (*Authenticator, error) {
	if tokens == nil {
		return nil, errors.New("authenticator: jwt service is required")
	}
	if db == nil {
		return nil, errors.New("authenticator: db is required")
	}
	return &Authenticator{tokens: tokens, db: db}, nil
}

// Authenticate validates token and loads the active user it refers to.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*models.User, *Claims, error) {
	claims, err := a.tokens.ValidateAccessToken(token)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	user, err := a.LoadPrincipal(ctx, claims.UserID)
	if err != nil {
		return nil, nil, err
	}
	return user, claims, nil
}

// LoadPrincipal fetches an active user by id.
func (a *Authenticator) LoadPrincipal(ctx context.Context, userID string) (*models.User, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var user models.User
	err := a.db.WithContext(ctx).Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInactivePrincipal
	}
	if err != nil {
		return nil, fmt.Errorf("authenticator: load principal: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInactivePrincipal
	}
	return &user, nil
}

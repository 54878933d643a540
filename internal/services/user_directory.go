package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/peonhq/dashboard/internal/models"
	apperrors "github.com/peonhq/dashboard/pkg/errors"
)

// UserSummary is the public view of a principal shown in presence lists.
type UserSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// UserDirectory is the read-only view onto principals owned by the account subsystem.
type UserDirectory struct {
	db *gorm.DB
}

// NewUserDirectory constructs a UserDirectory.
func NewUserDirectory(db *gorm.DB) (*UserDirectory, error) {
	if db == nil {
		return nil, errors.New("user directory: db is required")
	}
	return &UserDirectory{db: db}, nil
}

// Get loads a principal by id.
func (d *UserDirectory) Get(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := d.db.WithContext(ensureContext(ctx)).Take(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound.WithMessage("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("user directory: get user: %w", err)
	}
	return &user, nil
}

// Summaries returns the principals among ids, ordered by username.
func (d *UserDirectory) Summaries(ctx context.Context, ids []string) ([]UserSummary, error) {
	ids = normaliseIDs(ids)
	if len(ids) == 0 {
		return []UserSummary{}, nil
	}

	var users []models.User
	if err := d.db.WithContext(ensureContext(ctx)).
		Where("id IN ?", ids).
		Order("username ASC").
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("user directory: list users: %w", err)
	}

	out := make([]UserSummary, 0, len(users))
	for _, user := range users {
		out = append(out, UserSummary{ID: user.ID, Username: user.Username, Role: user.Role})
	}
	return out, nil
}

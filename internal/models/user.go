package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Dashboard roles. Admins bypass every grant check; moderators may manage chat.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
	RoleUser      = "user"
)

// User is the principal record owned by the account subsystem. The gateway only reads it.
type User struct {
	ID           string    `gorm:"primaryKey;type:uuid" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	Role         string    `gorm:"not null;default:user" json:"role"`
	IsActive     bool      `gorm:"default:true" json:"is_active"`
	IsChatBanned bool      `gorm:"default:false" json:"is_chat_banned"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	ensureID(&u.ID)
	if strings.TrimSpace(u.Role) == "" {
		u.Role = RoleUser
	}
	return nil
}

// IsAdmin reports whether the user holds the administrative role.
func (u *User) IsAdmin() bool {
	return u != nil && strings.EqualFold(u.Role, RoleAdmin)
}

// IsModerator reports whether the user may moderate chat. Admins qualify.
func (u *User) IsModerator() bool {
	return u != nil && (u.IsAdmin() || strings.EqualFold(u.Role, RoleModerator))
}

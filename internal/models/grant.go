package models

import "gorm.io/gorm"

// Server grant permission levels.
const (
	ServerPermissionRead  = "read"
	ServerPermissionWrite = "write"
)

// InstanceGrant gives a user coarse access to every server under an orchestrator.
type InstanceGrant struct {
	BaseModel

	UserID         string  `gorm:"type:uuid;not null;uniqueIndex:idx_instance_grants_user_orch" json:"user_id"`
	OrchestratorID string  `gorm:"type:uuid;not null;uniqueIndex:idx_instance_grants_user_orch;index" json:"orchestrator_id"`
	GrantedBy      *string `gorm:"type:uuid" json:"granted_by,omitempty"`
}

// ServerGrant gives a user access to a single server. When any exist for a
// (user, orchestrator) pair they restrict listings to exactly those servers.
type ServerGrant struct {
	BaseModel

	UserID         string  `gorm:"type:uuid;not null;uniqueIndex:idx_server_grants_user_orch_server" json:"user_id"`
	OrchestratorID string  `gorm:"type:uuid;not null;uniqueIndex:idx_server_grants_user_orch_server;index" json:"orchestrator_id"`
	ServerUID      string  `gorm:"not null;uniqueIndex:idx_server_grants_user_orch_server" json:"server_uid"`
	Permission     string  `gorm:"not null;default:read" json:"permission"`
	GrantedBy      *string `gorm:"type:uuid" json:"granted_by,omitempty"`
}

// BeforeCreate assigns an id and defaults the permission level to read.
func (g *ServerGrant) BeforeCreate(tx *gorm.DB) error {
	if err := g.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if g.Permission == "" {
		g.Permission = ServerPermissionRead
	}
	return nil
}

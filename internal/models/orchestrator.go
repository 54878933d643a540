package models

import "time"

// Orchestrator is a remote game-server orchestrator reachable at BaseURL using APIKey.
type Orchestrator struct {
	BaseModel

	Name         string     `gorm:"uniqueIndex;not null" json:"name"`
	BaseURL      string     `gorm:"not null" json:"base_url"`
	APIKey       string     `gorm:"not null" json:"api_key,omitempty"`
	Description  string     `json:"description"`
	Version      string     `json:"version"`
	IsActive     bool       `gorm:"default:true;index" json:"is_active"`
	CreatedBy    *string    `gorm:"type:uuid" json:"created_by,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at"`
}

// Redacted returns a copy without the upstream credential.
func (o Orchestrator) Redacted() Orchestrator {
	o.APIKey = ""
	return o
}

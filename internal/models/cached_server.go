package models

import (
	"time"

	"gorm.io/datatypes"
)

// CachedServer is one row of an orchestrator's snapshot. Rows for an orchestrator
// are replaced as a set and never merged.
type CachedServer struct {
	OrchestratorID string         `gorm:"primaryKey;type:uuid" json:"orchestrator_id"`
	ServerUID      string         `gorm:"primaryKey" json:"server_uid"`
	Payload        datatypes.JSON `json:"payload"`
	SyncedAt       time.Time      `gorm:"index" json:"synced_at"`
}

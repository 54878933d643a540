package models

// AuditLog records a mutating or sensitive operation.
type AuditLog struct {
	BaseModel

	ActorID       *string `gorm:"type:uuid;index" json:"actor_id"`
	ActorUsername string  `json:"actor_username"`
	Action        string  `gorm:"not null;index" json:"action"`
	Category      string  `gorm:"not null;index" json:"category"`
	TargetType    string  `json:"target_type"`
	TargetID      string  `gorm:"index" json:"target_id"`
	Details       string  `json:"details"`
	IPAddress     string  `json:"ip_address"`
}

package models

// ChatMessage is a persisted global chat line.
type ChatMessage struct {
	BaseModel

	UserID   string `gorm:"type:uuid;not null;index" json:"user_id"`
	Username string `json:"username"`
	Message  string `gorm:"size:1000;not null" json:"message"`
}

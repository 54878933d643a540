package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/peonhq/dashboard/internal/models"
	apperrors "github.com/peonhq/dashboard/pkg/errors"
)

// Chat limits.
const (
	ChatHistorySize     = 50
	ChatDefaultLimit    = 50
	ChatMaxLimit        = 200
	ChatMaxMessageRunes = 1000
)

// Chat event types pushed to connected clients.
const (
	ChatEventMessage = "chat_message"
	ChatEventDeleted = "message_deleted"
	ChatEventCleared = "chat_cleared"
	ChatEventHistory = "chat_history"
	ChatEventOnline  = "user_online"
	ChatEventOffline = "user_offline"
	ChatEventError   = "error"
)

// Broadcaster fans an event out to every connected client.
type Broadcaster interface {
	Broadcast(event any)
}

// ChatMessageView is the client-facing shape of a chat line.
type ChatMessageView struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
}

// ChatService persists global chat and pushes changes to the presence hub.
type ChatService struct {
	db       *gorm.DB
	features *FeatureService
	hub      Broadcaster
	audit    Auditor
}

// NewChatService constructs a ChatService. hub may be nil when nothing listens.
func NewChatService(db *gorm.DB, features *FeatureService, hub Broadcaster, audit Auditor) (*ChatService, error) {
	if db == nil {
		return nil, errors.New("chat service: db is required")
	}
	if features == nil {
		return nil, errors.New("chat service: feature service is required")
	}
	return &ChatService{db: db, features: features, hub: hub, audit: audit}, nil
}

// Recent returns up to limit of the newest messages in ascending time order.
func (s *ChatService) Recent(ctx context.Context, limit int) ([]ChatMessageView, error) {
	ctx = ensureContext(ctx)

	if limit <= 0 {
		limit = ChatDefaultLimit
	}
	if limit > ChatMaxLimit {
		limit = ChatMaxLimit
	}

	var rows []models.ChatMessage
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("chat service: list messages: %w", err)
	}

	out := make([]ChatMessageView, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		out = append(out, chatView(rows[i]))
	}
	return out, nil
}

// Post stores a message from principal and broadcasts it.
func (s *ChatService) Post(ctx context.Context, principal *models.User, text string) (*ChatMessageView, error) {
	ctx = ensureContext(ctx)

	if principal == nil {
		return nil, apperrors.ErrUnauthorized
	}
	if err := s.requireChatEnabled(ctx); err != nil {
		return nil, err
	}
	if principal.IsChatBanned {
		return nil, apperrors.ErrForbidden.WithMessage("You are banned from chat")
	}

	text, err := NormaliseChatMessage(text)
	if err != nil {
		return nil, err
	}

	row := models.ChatMessage{
		UserID:   principal.ID,
		Username: principal.Username,
		Message:  text,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("chat service: create message: %w", err)
	}

	view := chatView(row)
	s.broadcast(map[string]any{"type": ChatEventMessage, "message": view})
	return &view, nil
}

// Delete removes one message. Moderators and admins only.
func (s *ChatService) Delete(ctx context.Context, principal *models.User, messageID string) error {
	ctx = ensureContext(ctx)

	if principal == nil {
		return apperrors.ErrUnauthorized
	}
	if !principal.IsModerator() {
		return apperrors.ErrForbidden.WithMessage("Moderator access required")
	}

	result := s.db.WithContext(ctx).Delete(&models.ChatMessage{}, "id = ?", strings.TrimSpace(messageID))
	if result.Error != nil {
		return fmt.Errorf("chat service: delete message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound.WithMessage("Message not found")
	}

	s.broadcast(map[string]any{"type": ChatEventDeleted, "message_id": messageID})
	recordAudit(s.audit, ctx, AuditEntry{
		Action:     "delete",
		Category:   AuditCategoryChat,
		TargetType: "chat_message",
		TargetID:   messageID,
		Details:    "Deleted chat message",
	})
	return nil
}

// Clear removes every message and returns how many were deleted. Admin only.
func (s *ChatService) Clear(ctx context.Context, principal *models.User) (int64, error) {
	ctx = ensureContext(ctx)

	if err := requireAdmin(principal); err != nil {
		return 0, err
	}

	result := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.ChatMessage{})
	if result.Error != nil {
		return 0, fmt.Errorf("chat service: clear messages: %w", result.Error)
	}

	s.broadcast(map[string]any{"type": ChatEventCleared})
	recordAudit(s.audit, ctx, AuditEntry{
		Action:     "clear",
		Category:   AuditCategoryChat,
		TargetType: "chat",
		Details:    fmt.Sprintf("Cleared %d chat messages", result.RowsAffected),
	})
	return result.RowsAffected, nil
}

// CleanupOlderThan removes messages older than the retention window in days.
func (s *ChatService) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	ctx = ensureContext(ctx)

	if retentionDays <= 0 {
		return 0, errors.New("chat service: retentionDays must be positive")
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.ChatMessage{})
	if result.Error != nil {
		return 0, fmt.Errorf("chat service: cleanup messages: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Enabled reports whether the chat feature flag is on.
func (s *ChatService) Enabled(ctx context.Context) (bool, error) {
	return s.features.IsEnabled(ctx, FeatureChat)
}

// NormaliseChatMessage trims text and enforces the length bounds.
func NormaliseChatMessage(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperrors.NewBadRequest("Message cannot be empty")
	}
	if utf8.RuneCountInString(text) > ChatMaxMessageRunes {
		return "", apperrors.NewBadRequest(fmt.Sprintf("Message too long (max %d characters)", ChatMaxMessageRunes))
	}
	return text, nil
}

func (s *ChatService) requireChatEnabled(ctx context.Context) error {
	enabled, err := s.Enabled(ctx)
	if err != nil {
		return err
	}
	if !enabled {
		return apperrors.ErrFeatureDisabled.WithMessage("Chat is disabled")
	}
	return nil
}

func (s *ChatService) broadcast(event any) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(event)
}

func chatView(row models.ChatMessage) ChatMessageView {
	return ChatMessageView{
		ID:        row.ID,
		Message:   row.Message,
		CreatedAt: row.CreatedAt,
		UserID:    row.UserID,
		Username:  row.Username,
	}
}

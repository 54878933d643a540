package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/peonhq/dashboard/internal/middleware"
	"github.com/peonhq/dashboard/internal/models"
	"github.com/peonhq/dashboard/internal/realtime"
	"github.com/peonhq/dashboard/internal/services"
	"github.com/peonhq/dashboard/pkg/errors"
	"github.com/peonhq/dashboard/pkg/logger"
	"github.com/peonhq/dashboard/pkg/response"
)

// Websocket close codes sent to rejected chat clients.
const (
	CloseInvalidToken = 4001
	CloseBanned       = 4003
)

// ChatHandler serves the global chat websocket and its REST fallback.
type ChatHandler struct {
	chat     *services.ChatService
	features *services.FeatureService
	users    *services.UserDirectory
	hub      *realtime.Hub
	authn    middleware.TokenAuthenticator
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewChatHandler constructs a ChatHandler.
func NewChatHandler(chat *services.ChatService, features *services.FeatureService, users *services.UserDirectory, hub *realtime.Hub, authn middleware.TokenAuthenticator, upgrader websocket.Upgrader) *ChatHandler {
	return &ChatHandler{
		chat:     chat,
		features: features,
		users:    users,
		hub:      hub,
		authn:    authn,
		upgrader: upgrader,
		log:      logger.WithModule("chat"),
	}
}

type postChatRequest struct {
	Message string `json:"message" validate:"required"`
}

type chatFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// GET /api/chat/messages
func (h *ChatHandler) List(c *gin.Context) {
	if !h.requireEnabled(c) {
		return
	}

	limit := parseIntQuery(c, "limit", services.ChatDefaultLimit)
	messages, err := h.chat.Recent(requestContext(c), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, messages)
}

// POST /api/chat/messages
func (h *ChatHandler) Post(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}

	var req postChatRequest
	if !bindAndValidate(c, &req) {
		return
	}

	message, err := h.chat.Post(requestContext(c), principal, req.Message)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, message)
}

// DELETE /api/chat/messages/:id
func (h *ChatHandler) Delete(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}

	if err := h.chat.Delete(requestContext(c), principal, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// POST /api/chat/clear
func (h *ChatHandler) Clear(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}

	count, err := h.chat.Clear(requestContext(c), principal)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": count})
}

// GET /api/chat/online
func (h *ChatHandler) Online(c *gin.Context) {
	ctx := requestContext(c)

	enabled, err := h.features.IsEnabled(ctx, services.FeatureOnlineUsers)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !enabled {
		response.Success(c, http.StatusOK, gin.H{"users": []services.UserSummary{}, "count": 0})
		return
	}

	users, err := h.users.Summaries(ctx, h.hub.Online())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"users": users, "count": len(users)})
}

// GET /api/ws/chat?token=
func (h *ChatHandler) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx := requestContext(c)
	principal, _, err := h.authn.Authenticate(ctx, strings.TrimSpace(c.Query("token")))
	if err != nil {
		closeWithCode(conn, CloseInvalidToken, "Invalid token")
		return
	}
	if principal.IsChatBanned {
		closeWithCode(conn, CloseBanned, "Banned from chat")
		return
	}

	h.serve(ctx, conn, principal)
}

func (h *ChatHandler) serve(ctx context.Context, conn *websocket.Conn, principal *models.User) {
	client := h.hub.Connect(principal.ID, conn)
	defer func() {
		if h.hub.Release(client) {
			h.hub.Broadcast(gin.H{
				"type":     services.ChatEventOffline,
				"user_id":  principal.ID,
				"username": principal.Username,
			})
		}
	}()

	h.hub.Broadcast(gin.H{
		"type":     services.ChatEventOnline,
		"user_id":  principal.ID,
		"username": principal.Username,
	})

	history, err := h.chat.Recent(ctx, services.ChatHistorySize)
	if err != nil {
		h.log.Warn("load chat history failed", zap.Error(err))
		history = []services.ChatMessageView{}
	}
	if err := client.Send(gin.H{"type": services.ChatEventHistory, "messages": history}); err != nil {
		return
	}

	conn.SetReadLimit(realtime.MaxMessageSize)
	for {
		var frame chatFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}

		switch frame.Type {
		case services.ChatEventMessage:
			if _, err := h.chat.Post(ctx, principal, frame.Message); err != nil {
				appErr := errors.FromError(err)
				if sendErr := client.Send(gin.H{"type": services.ChatEventError, "message": appErr.Message}); sendErr != nil {
					return
				}
			}
		case "ping":
			if err := client.Send(gin.H{"type": "pong"}); err != nil {
				return
			}
		}
	}
}

func (h *ChatHandler) requireEnabled(c *gin.Context) bool {
	enabled, err := h.chat.Enabled(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return false
	}
	if !enabled {
		response.Error(c, errors.ErrFeatureDisabled.WithMessage("Chat is disabled"))
		return false
	}
	return true
}

func closeWithCode(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

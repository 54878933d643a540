package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/peonhq/dashboard/internal/console"
	"github.com/peonhq/dashboard/internal/services"
	"github.com/peonhq/dashboard/pkg/logger"
	"github.com/peonhq/dashboard/pkg/response"
)

// ConsoleHandler serves console logs over REST and the live console websocket.
type ConsoleHandler struct {
	proxy    *services.ProxyService
	bridge   *console.Bridge
	upgrader websocket.Upgrader
}

// NewConsoleHandler constructs a ConsoleHandler.
func NewConsoleHandler(proxy *services.ProxyService, bridge *console.Bridge, upgrader websocket.Upgrader) *ConsoleHandler {
	return &ConsoleHandler{proxy: proxy, bridge: bridge, upgrader: upgrader}
}

// GET /api/console/:orch/:uid/logs
func (h *ConsoleHandler) Logs(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}

	lines := parseIntQuery(c, "lines", services.DefaultLogLines)
	result, err := h.proxy.Logs(requestContext(c), principal, c.Param("orch"), c.Param("uid"), lines)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// GET /api/console/ws/:orch/:uid?token=
func (h *ConsoleHandler) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.WithModule("console").Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	h.bridge.Serve(requestContext(c), conn, c.Param("orch"), c.Param("uid"), strings.TrimSpace(c.Query("token")))
}

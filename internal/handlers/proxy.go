package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/peonhq/dashboard/internal/services"
	"github.com/peonhq/dashboard/pkg/errors"
	"github.com/peonhq/dashboard/pkg/response"
)

const maxPassthroughBody = 1 << 20

// ProxyHandler serves /api/proxy. Orchestrator routes share one wildcard so the
// typed endpoints and the passthrough can coexist under /:orch.
type ProxyHandler struct {
	svc *services.ProxyService
}

// NewProxyHandler constructs a ProxyHandler.
func NewProxyHandler(svc *services.ProxyService) *ProxyHandler {
	return &ProxyHandler{svc: svc}
}

type serverActionRequest struct {
	Mode string `json:"mode" validate:"omitempty,oneof=full quick"`
}

// GET /api/proxy/plans
func (h *ProxyHandler) Plans(c *gin.Context) {
	plans, err := h.svc.Plans(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, plans)
}

// ANY /api/proxy/:orch/*path
func (h *ProxyHandler) Dispatch(c *gin.Context) {
	segments := strings.Split(strings.Trim(c.Param("path"), "/"), "/")
	method := c.Request.Method

	switch {
	case method == http.MethodGet && len(segments) == 1 && segments[0] == "servers":
		h.ListServers(c)
	case method == http.MethodGet && len(segments) == 3 && segments[0] == "server" && segments[1] == "info":
		h.ServerInfo(c, segments[2])
	case method == http.MethodGet && len(segments) == 3 && segments[0] == "server" && segments[1] == "stats":
		h.ServerStats(c, segments[2])
	case method == http.MethodPost && len(segments) == 1 && segments[0] == "deploy":
		h.Deploy(c)
	case method == http.MethodPut && len(segments) == 3 && segments[0] == "server":
		h.ServerAction(c, segments[1], segments[2])
	default:
		h.Passthrough(c)
	}
}

// GET /api/proxy/:orch/servers
func (h *ProxyHandler) ListServers(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}

	list, err := h.svc.ListServers(requestContext(c), principal, c.Param("orch"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, list)
}

// GET /api/proxy/:orch/server/info/:uid
func (h *ProxyHandler) ServerInfo(c *gin.Context, uid string) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}

	info, err := h.svc.ServerInfo(requestContext(c), principal, c.Param("orch"), uid)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, info)
}

// GET /api/proxy/:orch/server/stats/:uid
func (h *ProxyHandler) ServerStats(c *gin.Context, uid string) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}

	stats, err := h.svc.ServerStats(requestContext(c), principal, c.Param("orch"), uid)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// POST /api/proxy/:orch/deploy
func (h *ProxyHandler) Deploy(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}

	var req services.DeployRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.NewBadRequest("invalid JSON payload"))
		return
	}

	result, err := h.svc.Deploy(requestContext(c), principal, c.Param("orch"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// PUT /api/proxy/:orch/server/:action/:uid
func (h *ProxyHandler) ServerAction(c *gin.Context, action, uid string) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}

	var req serverActionRequest
	if c.Request.ContentLength > 0 && !bindAndValidate(c, &req) {
		return
	}

	result, err := h.svc.ServerAction(requestContext(c), principal, c.Param("orch"), action, uid, req.Mode)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// ANY /api/proxy/:orch/*path
func (h *ProxyHandler) Passthrough(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}

	var body []byte
	if c.Request.Body != nil {
		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPassthroughBody))
		if err != nil {
			response.Error(c, errors.NewBadRequest("unable to read request body"))
			return
		}
		body = raw
	}

	path := strings.TrimLeft(c.Param("path"), "/")
	if raw := c.Request.URL.RawQuery; raw != "" {
		path += "?" + raw
	}

	result, err := h.svc.Passthrough(requestContext(c), principal, c.Param("orch"), c.Request.Method, path, body)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Relay(c, result.StatusCode, result.Payload)
}

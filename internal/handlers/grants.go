package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/peonhq/dashboard/internal/services"
	"github.com/peonhq/dashboard/pkg/response"
)

// GrantHandler manages instance and server grants for administrators.
type GrantHandler struct {
	svc *services.GrantService
}

// NewGrantHandler constructs a GrantHandler.
func NewGrantHandler(svc *services.GrantService) *GrantHandler {
	return &GrantHandler{svc: svc}
}

// GET /api/admin/grants/users/:userID
func (h *GrantHandler) ListForUser(c *gin.Context) {
	grants, err := h.svc.ListGrants(requestContext(c), c.Param("userID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, grants)
}

// POST /api/admin/grants/instances
func (h *GrantHandler) GrantInstance(c *gin.Context) {
	var req services.InstanceGrantInput
	if !bindAndValidate(c, &req) {
		return
	}

	grant, err := h.svc.GrantInstance(requestContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, grant)
}

// DELETE /api/admin/grants/instances/:userID/:orchestratorID
func (h *GrantHandler) RevokeInstance(c *gin.Context) {
	if err := h.svc.RevokeInstance(requestContext(c), c.Param("userID"), c.Param("orchestratorID")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// POST /api/admin/grants/servers
func (h *GrantHandler) GrantServer(c *gin.Context) {
	var req services.ServerGrantInput
	if !bindAndValidate(c, &req) {
		return
	}

	grant, err := h.svc.GrantServer(requestContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, grant)
}

// DELETE /api/admin/grants/servers/:userID/:orchestratorID/:uid
func (h *GrantHandler) RevokeServer(c *gin.Context) {
	err := h.svc.RevokeServer(requestContext(c), c.Param("userID"), c.Param("orchestratorID"), c.Param("uid"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

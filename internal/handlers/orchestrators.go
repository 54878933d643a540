package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/peonhq/dashboard/internal/models"
	"github.com/peonhq/dashboard/internal/services"
	"github.com/peonhq/dashboard/pkg/response"
)

// OrchestratorHandler exposes the orchestrator registry.
type OrchestratorHandler struct {
	svc *services.OrchestratorService
}

// NewOrchestratorHandler constructs an OrchestratorHandler.
func NewOrchestratorHandler(svc *services.OrchestratorService) *OrchestratorHandler {
	return &OrchestratorHandler{svc: svc}
}

type testConnectionRequest struct {
	BaseURL string `json:"base_url" validate:"required,orchestrator_url"`
	APIKey  string `json:"api_key" validate:"required"`
}

// GET /api/orchestrators
func (h *OrchestratorHandler) List(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}

	orchs, err := h.svc.ListAccessible(requestContext(c), principal)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, redactAll(orchs))
}

// GET /api/orchestrators/:id
func (h *OrchestratorHandler) Get(c *gin.Context) {
	orch, err := h.svc.Get(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, orch.Redacted())
}

// POST /api/orchestrators
func (h *OrchestratorHandler) Create(c *gin.Context) {
	var req services.CreateOrchestratorInput
	if !bindAndValidate(c, &req) {
		return
	}

	orch, err := h.svc.Create(requestContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, orch.Redacted())
}

// PUT /api/orchestrators/:id
func (h *OrchestratorHandler) Update(c *gin.Context) {
	var req services.UpdateOrchestratorInput
	if !bindAndValidate(c, &req) {
		return
	}

	orch, err := h.svc.Update(requestContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, orch.Redacted())
}

// DELETE /api/orchestrators/:id
func (h *OrchestratorHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(requestContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// POST /api/orchestrators/test
func (h *OrchestratorHandler) TestConnection(c *gin.Context) {
	var req testConnectionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.svc.TestConnection(requestContext(c), req.BaseURL, req.APIKey)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

func redactAll(orchs []models.Orchestrator) []models.Orchestrator {
	out := make([]models.Orchestrator, 0, len(orchs))
	for _, orch := range orchs {
		out = append(out, orch.Redacted())
	}
	return out
}

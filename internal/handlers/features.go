package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/peonhq/dashboard/internal/services"
	"github.com/peonhq/dashboard/pkg/errors"
	"github.com/peonhq/dashboard/pkg/response"
)

// FeatureHandler reads and updates feature flags.
type FeatureHandler struct {
	svc *services.FeatureService
}

// NewFeatureHandler constructs a FeatureHandler.
func NewFeatureHandler(svc *services.FeatureService) *FeatureHandler {
	return &FeatureHandler{svc: svc}
}

// GET /api/features, GET /api/admin/features
func (h *FeatureHandler) Get(c *gin.Context) {
	flags, err := h.svc.Features(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, flags)
}

// PUT /api/admin/features
func (h *FeatureHandler) Update(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}

	var changes map[string]bool
	if err := c.ShouldBindJSON(&changes); err != nil {
		response.Error(c, errors.NewBadRequest("feature flags must be a JSON object of booleans"))
		return
	}

	flags, err := h.svc.Update(requestContext(c), principal, changes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, flags)
}

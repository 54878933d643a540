package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/peonhq/dashboard/internal/services"
	"github.com/peonhq/dashboard/pkg/errors"
	"github.com/peonhq/dashboard/pkg/response"
)

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 200
)

// AuditHandler lists audit entries for administrators.
type AuditHandler struct {
	svc *services.AuditService
}

// NewAuditHandler constructs an AuditHandler.
func NewAuditHandler(svc *services.AuditService) *AuditHandler {
	return &AuditHandler{svc: svc}
}

// GET /api/audit
func (h *AuditHandler) List(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	if page < 1 {
		page = 1
	}
	per := parseIntQuery(c, "per_page", defaultAuditPageSize)
	if per < 1 {
		per = defaultAuditPageSize
	}
	if per > maxAuditPageSize {
		per = maxAuditPageSize
	}

	filters := services.AuditFilters{
		ActorID:  strings.TrimSpace(c.Query("actor_id")),
		Action:   strings.TrimSpace(c.Query("action")),
		Category: strings.TrimSpace(c.Query("category")),
	}
	if s := c.Query("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			filters.Since = &t
		}
	}
	if u := c.Query("until"); u != "" {
		if t, err := time.Parse(time.RFC3339, u); err == nil {
			filters.Until = &t
		}
	}

	logs, total, err := h.svc.List(requestContext(c), services.AuditListOptions{Page: page, PageSize: per, Filters: filters})
	if err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	totalPages := int((total + int64(per) - 1) / int64(per))
	response.SuccessWithMeta(c, http.StatusOK, logs, &response.Meta{
		Page:       page,
		PerPage:    per,
		Total:      int(total),
		TotalPages: totalPages,
	})
}

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/peonhq/dashboard/internal/monitoring"
	"github.com/peonhq/dashboard/pkg/response"
)

// Health runs the readiness probes. A down probe answers 503; a degraded one
// still answers 200 so load balancers keep routing.
func Health(manager *monitoring.HealthManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := manager.Evaluate(requestContext(c))

		status := "ok"
		if !report.Healthy() {
			status = string(report.Status)
		}
		payload := gin.H{
			"status": status,
			"time":   time.Now().UTC().Format(time.RFC3339),
			"checks": report.Checks,
		}

		code := http.StatusOK
		if report.Status == monitoring.StatusDown {
			code = http.StatusServiceUnavailable
		}
		response.Success(c, code, payload)
	}
}

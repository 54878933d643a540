package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/peonhq/dashboard/pkg/metrics"
)

const unmatchedRoute = "unmatched"

// Metrics records request latency by route template. Websocket upgrades are
// counted instead, since their duration is the session length. Requests that
// match no route share one label so probing cannot grow the series count.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		if isWebsocketUpgrade(c) {
			metrics.WebsocketUpgrades.WithLabelValues(route).Inc()
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		metrics.APILatency.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
	}
}

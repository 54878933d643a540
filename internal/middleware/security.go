package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// DefaultContentSecurityPolicy allows the dashboard's own origin plus websocket
// connections back to it for chat and console streams.
const DefaultContentSecurityPolicy = "default-src 'self'; connect-src 'self' ws: wss:; frame-ancestors 'none'"

const hstsValue = "max-age=31536000; includeSubDomains"

// SecurityHeaders hardens gateway responses. API replies are never cached since
// they are filtered per principal. HSTS is only sent over HTTPS, directly or
// behind a proxy reporting X-Forwarded-Proto. Websocket upgrades skip the
// document headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		if isSecureRequest(c) {
			c.Header("Strict-Transport-Security", hstsValue)
		}
		if isWebsocketUpgrade(c) {
			c.Next()
			return
		}

		c.Header("X-Frame-Options", "DENY")
		c.Header("Content-Security-Policy", DefaultContentSecurityPolicy)
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.Header("Cache-Control", "no-store")
		}
		c.Next()
	}
}

func isSecureRequest(c *gin.Context) bool {
	if c.Request.TLS != nil {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(c.GetHeader("X-Forwarded-Proto")), "https")
}

func isWebsocketUpgrade(c *gin.Context) bool {
	return strings.EqualFold(c.GetHeader("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(c.GetHeader("Connection")), "upgrade")
}

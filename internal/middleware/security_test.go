package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func securityRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(SecurityHeaders())
	r.GET("/api/orchestrators", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/ws/chat", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestSecurityHeaders(t *testing.T) {
	r := securityRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/orchestrators", nil))
	require.Equal(t, http.StatusOK, w.Code)

	header := w.Result().Header
	require.Equal(t, "DENY", header.Get("X-Frame-Options"))
	require.Equal(t, "nosniff", header.Get("X-Content-Type-Options"))
	require.Contains(t, header.Get("Content-Security-Policy"), "connect-src 'self' ws: wss:")
	require.Equal(t, "no-referrer", header.Get("Referrer-Policy"))
	require.Equal(t, "geolocation=(), microphone=(), camera=()", header.Get("Permissions-Policy"))
	require.Equal(t, "no-store", header.Get("Cache-Control"))
	require.Empty(t, header.Get("Strict-Transport-Security"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Empty(t, w.Result().Header.Get("Cache-Control"))
}

func TestSecurityHeadersBehindTLSProxy(t *testing.T) {
	r := securityRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/orchestrators", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, hstsValue, w.Result().Header.Get("Strict-Transport-Security"))
}

func TestSecurityHeadersWebsocketUpgrade(t *testing.T) {
	r := securityRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/ws/chat", nil)
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "keep-alive, Upgrade")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	header := w.Result().Header
	require.Equal(t, "nosniff", header.Get("X-Content-Type-Options"))
	require.Empty(t, header.Get("X-Frame-Options"))
	require.Empty(t, header.Get("Content-Security-Policy"))
	require.Empty(t, header.Get("Cache-Control"))
}

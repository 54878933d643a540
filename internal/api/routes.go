package api

import (
	"github.com/gin-gonic/gin"

	"github.com/peonhq/dashboard/internal/handlers"
	"github.com/peonhq/dashboard/internal/middleware"
)

func registerOrchestratorRoutes(api *gin.RouterGroup, deps Dependencies) {
	h := handlers.NewOrchestratorHandler(deps.Orchestrators)

	orchs := api.Group("/orchestrators")
	{
		orchs.GET("", h.List)
		orchs.POST("/test", middleware.RequireAdmin(), h.TestConnection)
		orchs.GET("/:id", middleware.RequireAdmin(), h.Get)
		orchs.POST("", middleware.RequireAdmin(), h.Create)
		orchs.PUT("/:id", middleware.RequireAdmin(), h.Update)
		orchs.DELETE("/:id", middleware.RequireAdmin(), h.Delete)
	}
}

func registerProxyRoutes(api *gin.RouterGroup, deps Dependencies) {
	h := handlers.NewProxyHandler(deps.Proxy)

	proxy := api.Group("/proxy")
	{
		proxy.GET("/plans", h.Plans)
		proxy.Any("/:orch/*path", h.Dispatch)
	}
}

func registerConsoleRoutes(api *gin.RouterGroup, h *handlers.ConsoleHandler) {
	api.GET("/console/:orch/:uid/logs", h.Logs)
}

func registerChatRoutes(api *gin.RouterGroup, h *handlers.ChatHandler) {
	chat := api.Group("/chat")
	{
		chat.GET("/messages", h.List)
		chat.POST("/messages", h.Post)
		chat.DELETE("/messages/:id", middleware.RequireModerator(), h.Delete)
		chat.POST("/clear", middleware.RequireAdmin(), h.Clear)
		chat.GET("/online", h.Online)
	}
}

func registerAdminRoutes(api *gin.RouterGroup, deps Dependencies) {
	features := handlers.NewFeatureHandler(deps.Features)
	grants := handlers.NewGrantHandler(deps.Grants)
	audit := handlers.NewAuditHandler(deps.Audit)

	api.GET("/features", features.Get)
	api.GET("/audit", middleware.RequireAdmin(), audit.List)

	admin := api.Group("/admin", middleware.RequireAdmin())
	{
		admin.GET("/features", features.Get)
		admin.PUT("/features", features.Update)

		admin.GET("/grants/users/:userID", grants.ListForUser)
		admin.POST("/grants/instances", grants.GrantInstance)
		admin.DELETE("/grants/instances/:userID/:orchestratorID", grants.RevokeInstance)
		admin.POST("/grants/servers", grants.GrantServer)
		admin.DELETE("/grants/servers/:userID/:orchestratorID/:uid", grants.RevokeServer)
	}
}

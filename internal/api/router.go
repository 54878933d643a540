package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/peonhq/dashboard/internal/app"
	iauth "github.com/peonhq/dashboard/internal/auth"
	"github.com/peonhq/dashboard/internal/console"
	"github.com/peonhq/dashboard/internal/handlers"
	"github.com/peonhq/dashboard/internal/middleware"
	"github.com/peonhq/dashboard/internal/monitoring"
	"github.com/peonhq/dashboard/internal/monitoring/checks"
	"github.com/peonhq/dashboard/internal/realtime"
	"github.com/peonhq/dashboard/internal/services"
)

// Dependencies carries the process-scoped components the HTTP surface is built on.
type Dependencies struct {
	DB            *gorm.DB
	Authenticator *iauth.Authenticator
	Orchestrators *services.OrchestratorService
	Grants        *services.GrantService
	Proxy         *services.ProxyService
	Features      *services.FeatureService
	Chat          *services.ChatService
	Audit         *services.AuditService
	Users         *services.UserDirectory
	Hub           *realtime.Hub
	Console       *console.Bridge
	RateStore     middleware.RateStore
	Health        *monitoring.HealthManager
}

func (d Dependencies) validate() error {
	switch {
	case d.DB == nil:
		return fmt.Errorf("database handle must be provided")
	case d.Authenticator == nil:
		return fmt.Errorf("authenticator must be provided")
	case d.Orchestrators == nil, d.Grants == nil, d.Proxy == nil:
		return fmt.Errorf("orchestrator services must be provided")
	case d.Features == nil, d.Chat == nil, d.Audit == nil, d.Users == nil:
		return fmt.Errorf("dashboard services must be provided")
	case d.Hub == nil:
		return fmt.Errorf("presence hub must be provided")
	case d.Console == nil:
		return fmt.Errorf("console bridge must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(cfg *app.Config, deps Dependencies) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.RateStore == nil {
		deps.RateStore = middleware.NewMemoryRateStore()
	}
	if deps.Health == nil {
		deps.Health = monitoring.NewHealthManager(checks.Database(deps.DB, 0), checks.Presence(deps.Hub))
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORSOrigins...))

	r.GET("/health", handlers.Health(deps.Health))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	upgrader := realtime.NewUpgrader(cfg.Server.WebsocketOrigins)

	// Websockets authenticate through the token query parameter.
	chatHandler := handlers.NewChatHandler(deps.Chat, deps.Features, deps.Users, deps.Hub, deps.Authenticator, upgrader)
	consoleHandler := handlers.NewConsoleHandler(deps.Proxy, deps.Console, upgrader)
	r.GET("/api/ws/chat", chatHandler.Stream)
	r.GET("/api/console/ws/:orch/:uid", consoleHandler.Stream)

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.Authenticator))
	api.Use(middleware.RateLimit(deps.RateStore, cfg.Server.RateLimit, time.Minute))

	registerOrchestratorRoutes(api, deps)
	registerProxyRoutes(api, deps)
	registerConsoleRoutes(api, consoleHandler)
	registerChatRoutes(api, chatHandler)
	registerAdminRoutes(api, deps)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

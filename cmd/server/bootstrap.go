package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/peonhq/dashboard/internal/api"
	"github.com/peonhq/dashboard/internal/app"
	"github.com/peonhq/dashboard/internal/app/maintenance"
	iauth "github.com/peonhq/dashboard/internal/auth"
	"github.com/peonhq/dashboard/internal/console"
	"github.com/peonhq/dashboard/internal/database"
	"github.com/peonhq/dashboard/internal/middleware"
	"github.com/peonhq/dashboard/internal/monitoring"
	"github.com/peonhq/dashboard/internal/monitoring/checks"
	"github.com/peonhq/dashboard/internal/orchestrator"
	"github.com/peonhq/dashboard/internal/permissions"
	"github.com/peonhq/dashboard/internal/realtime"
	"github.com/peonhq/dashboard/internal/services"
	"github.com/peonhq/dashboard/pkg/logger"
)

// runtimeStack bundles the process-scoped components used by the HTTP server.
type runtimeStack struct {
	DB           *gorm.DB
	Hub          *realtime.Hub
	Audit        *services.AuditDispatcher
	Synchronizer *maintenance.Synchronizer
	Cleaner      *maintenance.Cleaner
	Router       *gin.Engine
}

// bootstrapRuntime opens the database, builds every service and starts the background jobs.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mode
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}
	stack.DB = db

	if err := stack.build(ctx, cfg); err != nil {
		return nil, err
	}

	success = true
	return stack, nil
}

// build wires services on an already migrated database and starts background jobs.
func (s *runtimeStack) build(ctx context.Context, cfg *app.Config) error {
	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return fmt.Errorf("initialise jwt service: %w", err)
	}
	authn, err := iauth.NewAuthenticator(jwtSvc, s.DB)
	if err != nil {
		return fmt.Errorf("initialise authenticator: %w", err)
	}

	auditSvc, err := services.NewAuditService(s.DB)
	if err != nil {
		return fmt.Errorf("initialise audit service: %w", err)
	}
	s.Audit, err = services.NewAuditDispatcher(auditSvc, cfg.Audit.QueueSize)
	if err != nil {
		return fmt.Errorf("initialise audit dispatcher: %w", err)
	}
	s.Audit.Start()

	s.Hub = realtime.NewHub()

	client := orchestrator.NewClient(orchestrator.Options{
		Timeouts: orchestrator.Timeouts{Request: cfg.Orchestrators.RequestTimeout},
		Rewriter: orchestrator.ParseRewrites(cfg.Orchestrators.URLOverride),
	})

	resolver, err := permissions.NewResolver(s.DB)
	if err != nil {
		return fmt.Errorf("initialise access resolver: %w", err)
	}
	orchestrators, err := services.NewOrchestratorService(s.DB, client, s.Audit)
	if err != nil {
		return fmt.Errorf("initialise orchestrator service: %w", err)
	}
	grants, err := services.NewGrantService(s.DB, s.Audit)
	if err != nil {
		return fmt.Errorf("initialise grant service: %w", err)
	}
	snapshots, err := services.NewSnapshotStore(s.DB)
	if err != nil {
		return fmt.Errorf("initialise snapshot store: %w", err)
	}
	proxy, err := services.NewProxyService(orchestrators, resolver, client, snapshots, s.Audit, services.ProxyOptions{
		PlansDir: cfg.Orchestrators.PlansDir,
	})
	if err != nil {
		return fmt.Errorf("initialise proxy service: %w", err)
	}
	features, err := services.NewFeatureService(s.DB, s.Audit)
	if err != nil {
		return fmt.Errorf("initialise feature service: %w", err)
	}
	chat, err := services.NewChatService(s.DB, features, s.Hub, s.Audit)
	if err != nil {
		return fmt.Errorf("initialise chat service: %w", err)
	}
	users, err := services.NewUserDirectory(s.DB)
	if err != nil {
		return fmt.Errorf("initialise user directory: %w", err)
	}

	bridge, err := console.NewBridge(authn, proxy, client, console.Options{
		PollInterval: cfg.Console.PollInterval,
		ErrorBackoff: cfg.Console.ErrorBackoff,
		InitialLines: cfg.Console.InitialLines,
		FetchLines:   cfg.Console.FetchLines,
	})
	if err != nil {
		return fmt.Errorf("initialise console bridge: %w", err)
	}

	s.Synchronizer, err = maintenance.NewSynchronizer(orchestrators, client, snapshots,
		maintenance.WithSyncInterval(cfg.Orchestrators.SyncInterval),
		maintenance.WithSyncTimeout(cfg.Orchestrators.SyncTimeout),
	)
	if err != nil {
		return fmt.Errorf("initialise synchronizer: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("bootstrap interrupted: %w", err)
	}
	if err := s.Synchronizer.Start(); err != nil {
		return fmt.Errorf("start synchronizer: %w", err)
	}
	// The scheduler's first tick is one interval away.
	s.Synchronizer.Trigger()

	s.Cleaner = maintenance.NewCleaner(auditSvc, chat,
		maintenance.WithAuditRetentionDays(cfg.Audit.RetentionDays),
		maintenance.WithAuditSchedule(cfg.Audit.Schedule),
		maintenance.WithChatRetentionDays(cfg.Chat.RetentionDays),
		maintenance.WithChatSchedule(cfg.Chat.Schedule),
	)
	if err := s.Cleaner.Start(); err != nil {
		return fmt.Errorf("start maintenance jobs: %w", err)
	}

	health := monitoring.NewHealthManager(
		checks.Database(s.DB, 0),
		checks.Sync(s.Synchronizer, 3*cfg.Orchestrators.SyncInterval, nil),
		checks.Presence(s.Hub),
	)

	s.Router, err = api.NewRouter(cfg, api.Dependencies{
		DB:            s.DB,
		Authenticator: authn,
		Orchestrators: orchestrators,
		Grants:        grants,
		Proxy:         proxy,
		Features:      features,
		Chat:          chat,
		Audit:         auditSvc,
		Users:         users,
		Hub:           s.Hub,
		Console:       bridge,
		RateStore:     middleware.NewMemoryRateStore(),
		Health:        health,
	})
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}
	return nil
}

// Shutdown stops background jobs, closes live sockets and releases the database.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if s.Synchronizer != nil {
		if err := s.Synchronizer.Stop(ctx); err != nil {
			log.Warn("synchronizer shutdown", zap.Error(err))
		}
	}
	if s.Cleaner != nil {
		<-s.Cleaner.Stop().Done()
	}

	if s.Hub != nil {
		s.Hub.CloseAll()
	}

	if s.Audit != nil {
		if err := s.Audit.Stop(ctx); err != nil {
			log.Warn("audit dispatcher shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}

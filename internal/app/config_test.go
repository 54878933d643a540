package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peonhq/dashboard/internal/auth"
)

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata"))
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, []string{"https://dashboard.example.com"}, cfg.Server.CORSOrigins)
	require.Equal(t, 120, cfg.Server.RateLimit)
	require.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)

	require.Equal(t, "jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, "peon-accounts", cfg.Auth.JWT.Issuer)
	require.Equal(t, 30*time.Minute, cfg.Auth.JWT.TTL)

	require.Equal(t, time.Minute, cfg.Orchestrators.SyncInterval)
	require.Equal(t, 20*time.Second, cfg.Orchestrators.SyncTimeout)
	require.Equal(t, 15*time.Second, cfg.Orchestrators.RequestTimeout)
	require.Equal(t, "https://public.example.com=http://orchestrator:8080", cfg.Orchestrators.URLOverride)
	require.Equal(t, "/srv/plans", cfg.Orchestrators.PlansDir)

	require.Equal(t, 2*time.Second, cfg.Console.PollInterval)
	require.Equal(t, 10*time.Second, cfg.Console.ErrorBackoff)
	require.Equal(t, 10, cfg.Console.InitialLines)
	require.Equal(t, 50, cfg.Console.FetchLines)

	require.Equal(t, 64, cfg.Audit.QueueSize)
	require.Equal(t, 30, cfg.Audit.RetentionDays)
	require.Equal(t, "@daily", cfg.Audit.Schedule)
	require.Equal(t, 7, cfg.Chat.RetentionDays)

	require.Equal(t, "/var/log/peon/gateway.log", cfg.Logging.File)
	require.Equal(t, 50, cfg.Logging.MaxSizeMB)
	require.Equal(t, 3, cfg.Logging.MaxBackups)
	require.True(t, cfg.Logging.Compress)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8001, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "./data/peon.sqlite", cfg.Database.Path)
	require.Equal(t, 300*time.Second, cfg.Orchestrators.SyncInterval)
	require.Equal(t, 30*time.Second, cfg.Orchestrators.SyncTimeout)
	require.Equal(t, 30*time.Second, cfg.Orchestrators.RequestTimeout)
	require.Equal(t, 5*time.Second, cfg.Console.PollInterval)
	require.Equal(t, 20, cfg.Console.InitialLines)
	require.Equal(t, 256, cfg.Audit.QueueSize)
	require.Equal(t, 90, cfg.Audit.RetentionDays)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("PEON_SERVER_PORT", "9999")
	t.Setenv("PEON_ORCHESTRATORS_SYNC_INTERVAL", "45s")
	t.Setenv("ORCHESTRATOR_URL_OVERRIDE", "https://a.example.com=http://a:1")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 9999, cfg.Server.Port)
	require.Equal(t, 45*time.Second, cfg.Orchestrators.SyncInterval)
	require.Equal(t, "https://a.example.com=http://a:1", cfg.Orchestrators.URLOverride)
}

func TestDatabaseConnectionConfig(t *testing.T) {
	cfg := DatabaseConfig{
		Driver: "mysql",
		MySQL: DBAuthConfig{
			Host:     "mysql.internal",
			Port:     3307,
			Database: "peon",
			Username: "gateway",
			Password: "pw",
		},
		Pool: DBPoolConfig{MaxOpenConns: 8, ConnMaxLifetime: time.Minute},
	}

	conn := cfg.ConnectionConfig()
	require.Equal(t, "mysql", conn.Driver)
	require.Equal(t, "mysql.internal", conn.Host)
	require.Equal(t, 3307, conn.Port)
	require.Equal(t, "peon", conn.Name)
	require.Equal(t, "gateway", conn.User)
	require.Equal(t, 8, conn.Pool.MaxOpenConns)
	require.Equal(t, time.Minute, conn.Pool.ConnMaxLifetime)

	sqlite := DatabaseConfig{Driver: "sqlite", Path: "/tmp/peon.sqlite"}.ConnectionConfig()
	require.Equal(t, "/tmp/peon.sqlite", sqlite.Path)
	require.Empty(t, sqlite.Host)
}

func TestAuthConfigAdapters(t *testing.T) {
	cfg := AuthConfig{JWT: JWTSettings{Secret: "secret", Issuer: "issuer", TTL: 30 * time.Minute}}
	require.Equal(t, auth.JWTConfig{
		Secret:         "secret",
		Issuer:         "issuer",
		AccessTokenTTL: 30 * time.Minute,
	}, cfg.JWTServiceConfig())

	var empty AuthConfig
	require.Equal(t, auth.DefaultAccessTokenTTL, empty.JWTServiceConfig().AccessTokenTTL)
}

func TestConfigureLogging(t *testing.T) {
	require.NoError(t, ConfigureLogging("debug", LoggingConfig{}))
	require.NoError(t, ConfigureLogging("", LoggingConfig{File: filepath.Join(t.TempDir(), "gateway.log")}))
}

package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/peonhq/dashboard/internal/auth"
	"github.com/peonhq/dashboard/internal/database"
)

// Config represents the runtime configuration for the dashboard gateway.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Orchestrators OrchestratorsConfig `mapstructure:"orchestrators"`
	Console       ConsoleConfig       `mapstructure:"console"`
	Audit         AuditConfig         `mapstructure:"audit"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port             int           `mapstructure:"port"`
	LogLevel         string        `mapstructure:"log_level"`
	CORSOrigins      []string      `mapstructure:"cors_origins"`
	WebsocketOrigins []string      `mapstructure:"websocket_origins"`
	RateLimit        int           `mapstructure:"rate_limit"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
	Pool     DBPoolConfig `mapstructure:"pool"`
}

// DBPoolConfig bounds the connection pool for postgres and mysql.
type DBPoolConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	Database string            `mapstructure:"database"`
	Username string            `mapstructure:"username"`
	Password string            `mapstructure:"password"`
	Options  map[string]string `mapstructure:"options"`
}

// AuthConfig captures token validation settings.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// OrchestratorsConfig controls upstream calls and the cache synchronizer.
type OrchestratorsConfig struct {
	SyncInterval   time.Duration `mapstructure:"sync_interval"`
	SyncTimeout    time.Duration `mapstructure:"sync_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	URLOverride    string        `mapstructure:"url_override"`
	PlansDir       string        `mapstructure:"plans_dir"`
}

// ConsoleConfig tunes the console polling fallback.
type ConsoleConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`
	InitialLines int           `mapstructure:"initial_lines"`
	FetchLines   int           `mapstructure:"fetch_lines"`
}

// AuditConfig controls the audit queue and retention job.
type AuditConfig struct {
	QueueSize     int    `mapstructure:"queue_size"`
	RetentionDays int    `mapstructure:"retention_days"`
	Schedule      string `mapstructure:"cleanup_schedule"`
}

// ChatConfig controls chat retention.
type ChatConfig struct {
	RetentionDays int    `mapstructure:"retention_days"`
	Schedule      string `mapstructure:"cleanup_schedule"`
}

// LoggingConfig configures the optional rotating log file.
type LoggingConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
// A .env file in the working directory is loaded first when present.
func LoadConfig(paths ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("PEON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("orchestrators.url_override", "PEON_ORCHESTRATORS_URL_OVERRIDE", "ORCHESTRATOR_URL_OVERRIDE"); err != nil {
		return nil, fmt.Errorf("config: bind env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8001)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.websocket_origins", []string{})
	v.SetDefault("server.rate_limit", 300)
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/peon.sqlite")
	v.SetDefault("database.pool.max_open_conns", 20)
	v.SetDefault("database.pool.max_idle_conns", 5)
	v.SetDefault("database.pool.conn_max_lifetime", "30m")

	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.issuer", "")
	v.SetDefault("auth.jwt.access_token_ttl", "24h")

	v.SetDefault("orchestrators.sync_interval", "300s")
	v.SetDefault("orchestrators.sync_timeout", "30s")
	v.SetDefault("orchestrators.request_timeout", "30s")
	v.SetDefault("orchestrators.url_override", "")
	v.SetDefault("orchestrators.plans_dir", "./plans")

	v.SetDefault("console.poll_interval", "5s")
	v.SetDefault("console.error_backoff", "10s")
	v.SetDefault("console.initial_lines", 20)
	v.SetDefault("console.fetch_lines", 50)

	v.SetDefault("audit.queue_size", 256)
	v.SetDefault("audit.retention_days", 90)
	v.SetDefault("audit.cleanup_schedule", "@daily")

	v.SetDefault("chat.retention_days", 30)
	v.SetDefault("chat.cleanup_schedule", "@daily")

	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", false)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// ConnectionConfig converts the selected driver settings into a database.Config.
func (c DatabaseConfig) ConnectionConfig() database.Config {
	cfg := database.Config{
		Driver: c.Driver,
		Path:   c.Path,
		DSN:    c.DSN,
	}

	var host DBAuthConfig
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case "postgres", "postgresql":
		host = c.Postgres
	case "mysql", "mariadb":
		host = c.MySQL
	default:
		return cfg
	}

	cfg.Host = host.Host
	cfg.Port = host.Port
	cfg.Name = host.Database
	cfg.User = host.Username
	cfg.Password = host.Password
	cfg.Options = host.Options
	cfg.Pool = database.PoolConfig{
		MaxOpenConns:    c.Pool.MaxOpenConns,
		MaxIdleConns:    c.Pool.MaxIdleConns,
		ConnMaxLifetime: c.Pool.ConnMaxLifetime,
	}
	return cfg
}

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}

	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: ttl,
	}
}

package app

import (
	"strings"

	"github.com/peonhq/dashboard/pkg/logger"
)

// ConfigureLogging initialises the global logger with the provided level, defaulting to info,
// and attaches the rotating file sink when one is configured.
func ConfigureLogging(level string, cfg LoggingConfig) error {
	level = strings.TrimSpace(level)
	if level == "" {
		level = "info"
	}
	return logger.InitWithOptions(logger.Options{
		Level:      level,
		File:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	})
}

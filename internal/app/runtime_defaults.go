package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	jwtSecretBytes = 48
	defaultIssuer  = "peon-dashboard"
)

// ApplyRuntimeDefaults fills values the gateway cannot run without and repairs
// settings that contradict each other. The returned map names each touched key
// with a reason, never the value, so callers can log it.
func ApplyRuntimeDefaults(cfg *Config) (map[string]string, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	applied := make(map[string]string)

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		secret, err := generateHexKey(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		applied["auth.jwt.secret"] = "generated; only tokens minted by this process will validate"

		// Self-minted tokens carry an issuer; externally minted ones may not.
		if strings.TrimSpace(cfg.Auth.JWT.Issuer) == "" {
			cfg.Auth.JWT.Issuer = defaultIssuer
			applied["auth.jwt.issuer"] = "defaulted to " + defaultIssuer
		}
	}

	orch := &cfg.Orchestrators
	if orch.SyncInterval > 0 && orch.SyncTimeout > orch.SyncInterval {
		orch.SyncTimeout = orch.SyncInterval
		applied["orchestrators.sync_timeout"] = "capped at sync_interval"
	}

	console := &cfg.Console
	if console.FetchLines > 0 && console.InitialLines > console.FetchLines {
		console.InitialLines = console.FetchLines
		applied["console.initial_lines"] = "capped at fetch_lines"
	}

	return applied, nil
}

func generateHexKey(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

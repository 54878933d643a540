package services

import (
	"context"
	"strings"

	"github.com/peonhq/dashboard/internal/models"
	apperrors "github.com/peonhq/dashboard/pkg/errors"
)

func normaliseIDs(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func requireAdmin(principal *models.User) error {
	if principal == nil {
		return apperrors.ErrUnauthorized
	}
	if !principal.IsAdmin() {
		return apperrors.ErrAdminRequired
	}
	return nil
}

func stringPtr(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

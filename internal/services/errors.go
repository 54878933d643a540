package services

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/peonhq/dashboard/internal/orchestrator"
	apperrors "github.com/peonhq/dashboard/pkg/errors"
)

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique") ||
		strings.Contains(lower, "duplicate") ||
		strings.Contains(lower, "constraint")
}

// upstreamError maps an orchestrator client failure onto the API error taxonomy.
// fallback is used when a non-success reply carries no readable detail.
func upstreamError(err error, fallback string) error {
	if err == nil {
		return nil
	}
	if orchestrator.IsTimeout(err) {
		return apperrors.ErrGatewayTimeout.WithInternal(err)
	}
	if status, ok := orchestrator.AsStatus(err); ok {
		detail := status.Detail
		if detail == "" {
			detail = fallback
		}
		return apperrors.NewUpstream(status.StatusCode, detail).WithInternal(err)
	}
	return apperrors.ErrUpstreamUnavailable.WithInternal(err)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/peonhq/dashboard/internal/models"
	"github.com/peonhq/dashboard/internal/orchestrator"
)

// SnapshotStore holds the cached server lists, one replaceable set per orchestrator.
type SnapshotStore struct {
	db *gorm.DB
}

// NewSnapshotStore constructs a SnapshotStore.
func NewSnapshotStore(db *gorm.DB) (*SnapshotStore, error) {
	if db == nil {
		return nil, errors.New("snapshot store: db is required")
	}
	return &SnapshotStore{db: db}, nil
}

// ReplaceSnapshot swaps the cached set for orchestratorID with servers and stamps
// the orchestrator's last sync time, all in one transaction. Rows of other
// orchestrators are untouched. Concurrent replaces of the same orchestrator are
// last-writer-wins. Duplicate uids in servers collapse to the last occurrence.
func (s *SnapshotStore) ReplaceSnapshot(ctx context.Context, orchestratorID string, servers []orchestrator.Server, syncedAt time.Time) error {
	ctx = ensureContext(ctx)
	syncedAt = syncedAt.UTC()

	rows := make([]models.CachedServer, 0, len(servers))
	index := make(map[string]int, len(servers))
	for _, server := range servers {
		payload, err := server.JSON()
		if err != nil {
			return fmt.Errorf("snapshot store: encode server: %w", err)
		}
		row := models.CachedServer{
			OrchestratorID: orchestratorID,
			ServerUID:      server.UID(),
			Payload:        payload,
			SyncedAt:       syncedAt,
		}
		if i, ok := index[row.ServerUID]; ok {
			rows[i] = row
			continue
		}
		index[row.ServerUID] = len(rows)
		rows = append(rows, row)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("orchestrator_id = ?", orchestratorID).Delete(&models.CachedServer{}).Error; err != nil {
			return fmt.Errorf("clear snapshot: %w", err)
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, 200).Error; err != nil {
				return fmt.Errorf("insert snapshot: %w", err)
			}
		}
		if err := tx.Model(&models.Orchestrator{}).
			Where("id = ?", orchestratorID).
			Update("last_synced_at", syncedAt).Error; err != nil {
			return fmt.Errorf("stamp last sync: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("snapshot store: replace %s: %w", orchestratorID, err)
	}
	return nil
}

// Snapshot returns the cached rows for orchestratorID ordered by server uid.
func (s *SnapshotStore) Snapshot(ctx context.Context, orchestratorID string) ([]models.CachedServer, error) {
	var rows []models.CachedServer
	if err := s.db.WithContext(ensureContext(ctx)).
		Where("orchestrator_id = ?", orchestratorID).
		Order("server_uid ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("snapshot store: load %s: %w", orchestratorID, err)
	}
	return rows, nil
}

// Count returns the total number of cached server rows.
func (s *SnapshotStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ensureContext(ctx)).Model(&models.CachedServer{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("snapshot store: count: %w", err)
	}
	return count, nil
}

package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/peonhq/dashboard/pkg/logger"
	"github.com/peonhq/dashboard/pkg/metrics"
)

// DefaultAuditQueueSize bounds the number of pending audit entries.
const DefaultAuditQueueSize = 256

const auditWriteTimeout = 5 * time.Second

// AuditDispatcher records audit entries on a background worker so callers never
// block on, or fail because of, the audit store. A full queue drops the entry.
type AuditDispatcher struct {
	store *AuditService
	queue chan AuditEntry
	log   *zap.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	done    chan struct{}
}

// NewAuditDispatcher wraps store with a queue of the given capacity.
func NewAuditDispatcher(store *AuditService, size int) (*AuditDispatcher, error) {
	if store == nil {
		return nil, errors.New("audit dispatcher: store is required")
	}
	if size <= 0 {
		size = DefaultAuditQueueSize
	}
	return &AuditDispatcher{
		store: store,
		queue: make(chan AuditEntry, size),
		log:   logger.WithModule("audit"),
		done:  make(chan struct{}),
	}, nil
}

// Start launches the worker. Calling Start twice is a no-op.
func (d *AuditDispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	go d.run()
}

// Record enqueues entry without blocking.
func (d *AuditDispatcher) Record(ctx context.Context, entry AuditEntry) {
	if d == nil {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.queue <- entry:
	default:
		metrics.AuditDropped.Inc()
		d.log.Warn("audit queue full, dropping entry",
			zap.String("action", entry.Action),
			zap.String("category", entry.Category),
		)
	}
}

// Stop stops accepting entries and waits for queued ones to be written or ctx to end.
func (d *AuditDispatcher) Stop(ctx context.Context) error {
	ctx = ensureContext(ctx)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	started := d.started
	close(d.queue)
	d.mu.Unlock()

	if !started {
		return nil
	}

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *AuditDispatcher) run() {
	defer close(d.done)
	for entry := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
		if err := d.store.Log(ctx, entry); err != nil {
			d.log.Warn("failed to write audit entry", zap.String("action", entry.Action), zap.Error(err))
		}
		cancel()
	}
}

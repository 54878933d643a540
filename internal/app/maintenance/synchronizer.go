package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/peonhq/dashboard/internal/models"
	"github.com/peonhq/dashboard/internal/orchestrator"
	"github.com/peonhq/dashboard/pkg/logger"
	"github.com/peonhq/dashboard/pkg/metrics"
)

const (
	defaultSyncInterval = 300 * time.Second
	defaultSyncTimeout  = 30 * time.Second
)

// OrchestratorSource lists the orchestrators to synchronise.
type OrchestratorSource interface {
	ListActive(ctx context.Context) ([]models.Orchestrator, error)
}

// ServerFetcher retrieves one orchestrator's full server list.
type ServerFetcher interface {
	ListServersWithTimeout(ctx context.Context, orch *models.Orchestrator, timeout time.Duration) ([]orchestrator.Server, error)
}

// SnapshotWriter replaces one orchestrator's cached server set.
type SnapshotWriter interface {
	ReplaceSnapshot(ctx context.Context, orchestratorID string, servers []orchestrator.Server, syncedAt time.Time) error
	Count(ctx context.Context) (int64, error)
}

// SyncOption customises the Synchronizer.
type SyncOption func(*Synchronizer)

// WithSyncInterval sets the period between sync cycles.
func WithSyncInterval(interval time.Duration) SyncOption {
	return func(s *Synchronizer) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithSyncTimeout bounds each orchestrator fetch.
func WithSyncTimeout(timeout time.Duration) SyncOption {
	return func(s *Synchronizer) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithSyncCron injects a preconfigured cron instance, primarily for testing.
func WithSyncCron(c *cron.Cron) SyncOption {
	return func(s *Synchronizer) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithSyncClock overrides the clock used to stamp snapshots.
func WithSyncClock(now func() time.Time) SyncOption {
	return func(s *Synchronizer) {
		if now != nil {
			s.now = now
		}
	}
}

// Synchronizer periodically refreshes the cached server list of every active
// orchestrator. A failing orchestrator keeps its previous snapshot and never
// affects the others.
type Synchronizer struct {
	source    OrchestratorSource
	fetcher   ServerFetcher
	snapshots SnapshotWriter
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger

	interval time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	running bool
	status  SyncStatus

	entry    cron.EntryID
	baseCtx  context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// SyncStatus summarises completed sync cycles.
type SyncStatus struct {
	TotalRuns           int       `json:"total_runs"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastRunAt           time.Time `json:"last_run_at"`
	LastError           string    `json:"last_error,omitempty"`
}

// NewSynchronizer constructs a Synchronizer.
func NewSynchronizer(source OrchestratorSource, fetcher ServerFetcher, snapshots SnapshotWriter, opts ...SyncOption) (*Synchronizer, error) {
	if source == nil || fetcher == nil || snapshots == nil {
		return nil, errors.New("synchronizer: source, fetcher and snapshots are required")
	}

	s := &Synchronizer{
		source:    source,
		fetcher:   fetcher,
		snapshots: snapshots,
		now:       time.Now,
		interval:  defaultSyncInterval,
		timeout:   defaultSyncTimeout,
		log:       logger.WithModule("sync"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	}
	return s, nil
}

// Start schedules the sync job every interval. The first cycle runs one interval after Start.
func (s *Synchronizer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	spec := fmt.Sprintf("@every %s", s.interval)
	entry, err := s.cron.AddFunc(spec, s.runScheduled)
	if err != nil {
		s.cancel()
		return fmt.Errorf("synchronizer: schedule: %w", err)
	}
	s.entry = entry

	s.cron.Start()
	s.running = true
	s.log.Info("synchronizer started", zap.Duration("interval", s.interval))
	return nil
}

// Trigger runs one cycle in the background under the scheduler's lifetime.
// It reports false when the synchronizer is not running.
func (s *Synchronizer) Trigger() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	ctx := s.baseCtx
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("triggered sync incomplete", zap.Error(err))
		}
	}()
	return true
}

func (s *Synchronizer) runScheduled() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	ctx := s.baseCtx
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	if err := s.RunOnce(ctx); err != nil {
		s.log.Warn("sync cycle finished with errors", zap.Error(err))
	}
}

// Stop halts the scheduler, cancels in-flight cycles and waits for them to
// return or ctx to end.
func (s *Synchronizer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.cron.Remove(s.entry)
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan struct{})
	go func() {
		<-s.cron.Stop().Done()
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs one sync cycle across every active orchestrator concurrently.
// Failures are collected and returned together; they never abort the cycle.
func (s *Synchronizer) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	orchestrators, err := s.source.ListActive(ctx)
	if err != nil {
		metrics.SyncRuns.WithLabelValues("error").Inc()
		err = fmt.Errorf("synchronizer: list orchestrators: %w", err)
		s.recordRun(err)
		return err
	}

	var (
		mu   sync.Mutex
		errs error
	)
	group, groupCtx := errgroup.WithContext(ctx)
	for i := range orchestrators {
		orch := orchestrators[i]
		group.Go(func() error {
			if err := s.syncOne(groupCtx, &orch); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()

	if count, err := s.snapshots.Count(ctx); err == nil {
		metrics.CachedServers.Set(float64(count))
	}

	s.recordRun(errs)
	if errs != nil {
		metrics.SyncRuns.WithLabelValues("partial").Inc()
		return errs
	}
	metrics.SyncRuns.WithLabelValues("ok").Inc()
	return nil
}

// Status reports the outcome of the cycles run so far.
func (s *Synchronizer) Status() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Synchronizer) recordRun(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.TotalRuns++
	s.status.LastRunAt = s.now().UTC()
	if err != nil {
		s.status.ConsecutiveFailures++
		s.status.LastError = err.Error()
		return
	}
	s.status.ConsecutiveFailures = 0
	s.status.LastError = ""
}

func (s *Synchronizer) syncOne(ctx context.Context, orch *models.Orchestrator) error {
	servers, err := s.fetcher.ListServersWithTimeout(ctx, orch, s.timeout)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("sync %s: abandoned: %w", orch.Name, ctx.Err())
	}
	if err != nil {
		s.log.Warn("failed to fetch servers",
			zap.String("orchestrator", orch.Name),
			zap.Error(err),
		)
		return fmt.Errorf("sync %s: %w", orch.Name, err)
	}

	if err := s.snapshots.ReplaceSnapshot(ctx, orch.ID, servers, s.now()); err != nil {
		s.log.Error("failed to store snapshot",
			zap.String("orchestrator", orch.Name),
			zap.Error(err),
		)
		return fmt.Errorf("sync %s: %w", orch.Name, err)
	}

	s.log.Debug("synced orchestrator",
		zap.String("orchestrator", orch.Name),
		zap.Int("servers", len(servers)),
	)
	return nil
}

package maintenance

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/peonhq/dashboard/pkg/logger"
)

const (
	defaultAuditRetentionDays = 90
	defaultChatRetentionDays  = 30
	defaultAuditSpec          = "@daily"
	defaultChatSpec           = "@daily"
)

// RetentionPruner deletes records older than a number of days.
type RetentionPruner interface {
	CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

// Cleaner prunes stale audit entries and chat history on a schedule.
type Cleaner struct {
	audit RetentionPruner
	chat  RetentionPruner
	cron  *cron.Cron
	log   *zap.Logger

	auditRetention int
	chatRetention  int
	auditSchedule  string
	chatSchedule   string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.auditRetention = days
		}
	}
}

// WithChatRetentionDays adjusts how long chat messages are retained.
func WithChatRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.chatRetention = days
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// WithChatSchedule overrides the cron specification for chat retention enforcement.
func WithChatSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.chatSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner. A nil pruner skips the corresponding job.
func NewCleaner(audit, chat RetentionPruner, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		audit:          audit,
		chat:           chat,
		auditRetention: defaultAuditRetentionDays,
		chatRetention:  defaultChatRetentionDays,
		auditSchedule:  defaultAuditSpec,
		chatSchedule:   defaultChatSpec,
		log:            logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return cleaner
}

// Start registers the retention jobs and launches the scheduler when at least one is enabled.
func (c *Cleaner) Start() error {
	if c.audit == nil && c.chat == nil {
		return nil
	}

	if c.audit != nil {
		if _, err := c.cron.AddFunc(c.auditSchedule, func() {
			c.prune(context.Background(), "audit", c.audit, c.auditRetention)
		}); err != nil {
			return err
		}
	}

	if c.chat != nil {
		if _, err := c.cron.AddFunc(c.chatSchedule, func() {
			c.prune(context.Background(), "chat", c.chat, c.chatRetention)
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every configured retention job sequentially.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if c.audit != nil {
		if _, err := c.audit.CleanupOlderThan(ctx, c.auditRetention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if c.chat != nil {
		if _, err := c.chat.CleanupOlderThan(ctx, c.chatRetention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (c *Cleaner) prune(ctx context.Context, name string, pruner RetentionPruner, days int) {
	removed, err := pruner.CleanupOlderThan(ctx, days)
	if err != nil {
		c.log.Warn("retention cleanup failed", zap.String("job", name), zap.Error(err))
		return
	}
	if removed > 0 {
		c.log.Info("retention cleanup removed records", zap.String("job", name), zap.Int64("removed", removed))
	}
}

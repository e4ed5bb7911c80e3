package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gopkg.in/robfig/cron.v2"
)

// pruneTimeout bounds one pruning run.
const pruneTimeout = time.Minute

// HistoryPruner deletes state history older than a retention window on a
// cron schedule.
type HistoryPruner struct {
	repo      StateHistoryRepository
	retention time.Duration
	schedule  string
	logger    Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
}

// NewHistoryPruner creates a pruner. schedule is any spec cron.v2 accepts,
// such as "@every 1h" or "0 30 3 * * *". A zero retention disables pruning.
func NewHistoryPruner(repo StateHistoryRepository, retention time.Duration, schedule string) *HistoryPruner {
	return &HistoryPruner{
		repo:      repo,
		retention: retention,
		schedule:  schedule,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for pruning runs.
func (p *HistoryPruner) SetLogger(logger Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// Start schedules the job. It returns an error for an invalid schedule.
func (p *HistoryPruner) Start() error {
	if p.retention <= 0 {
		p.logger.Info("state history pruning disabled")
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		return nil
	}

	c := cron.New()
	id, err := c.AddFunc(p.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
		defer cancel()
		//nolint:errcheck // logged inside Prune
		p.Prune(ctx)
	})
	if err != nil {
		return fmt.Errorf("scheduling history pruning %q: %w", p.schedule, err)
	}
	c.Start()

	p.cron = c
	p.entryID = id
	p.logger.Info("state history pruning scheduled",
		"schedule", p.schedule,
		"retention", p.retention.String(),
	)
	return nil
}

// Stop cancels the schedule. A run in progress is not interrupted.
func (p *HistoryPruner) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron == nil {
		return
	}
	p.cron.Remove(p.entryID)
	p.cron.Stop()
	p.cron = nil
}

// Prune deletes entries older than the retention window now.
func (p *HistoryPruner) Prune(ctx context.Context) (int64, error) {
	if p.retention <= 0 {
		return 0, nil
	}
	n, err := p.repo.PruneHistory(ctx, p.retention)
	if err != nil {
		p.logger.Error("state history pruning failed", "error", err)
		return 0, err
	}
	if n > 0 {
		p.logger.Info("state history pruned", "deleted", n)
	}
	return n, nil
}

package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"stellar-hq/hermes/pkg/config"
)

// Pruner deletes request log rows past the retention window on a cron
// schedule.
type Pruner struct {
	storage Storage
	cfg     *config.AuditConfig
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
}

// NewPruner creates a retention pruner over the given store.
func NewPruner(storage Storage, cfg *config.AuditConfig) *Pruner {
	return &Pruner{
		storage: storage,
		cfg:     cfg,
		cron:    cron.New(),
		logger:  slog.Default().With("component", "storage.pruner"),
	}
}

// Start schedules pruning according to the configured cron expression.
// An empty schedule or a non-positive retention disables the pruner.
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.PruneSchedule == "" || p.cfg.RetentionDays <= 0 {
		p.logger.Info("audit retention pruning disabled")
		return nil
	}

	if _, err := cron.ParseStandard(p.cfg.PruneSchedule); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", p.cfg.PruneSchedule, err)
	}

	if _, err := p.cron.AddFunc(p.cfg.PruneSchedule, func() {
		p.runOnce(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	p.cron.Start()
	p.running = true

	p.logger.Info("audit retention pruner started",
		"schedule", p.cfg.PruneSchedule,
		"retention_days", p.cfg.RetentionDays,
	)

	go func() {
		<-ctx.Done()
		p.Stop()
	}()

	return nil
}

// Stop halts the scheduler, waiting for an in-flight prune to finish.
func (p *Pruner) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	<-p.cron.Stop().Done()
	p.running = false
	p.logger.Info("audit retention pruner stopped")
}

// PruneNow runs one pruning pass immediately.
func (p *Pruner) PruneNow(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -p.cfg.RetentionDays)
	return p.storage.PruneRequestLogs(ctx, cutoff)
}

func (p *Pruner) runOnce(ctx context.Context) {
	start := time.Now()
	pruned, err := p.PruneNow(ctx)
	if err != nil {
		p.logger.Error("audit pruning failed", "error", err)
		return
	}
	p.logger.Info("audit pruning completed",
		"pruned", pruned,
		"duration", time.Since(start),
	)
}

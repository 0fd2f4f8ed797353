// Package payrun drives scheduled execution runs against the ledger. A cron
// expression decides when a run fires; each run walks the ledger front and
// pays out whatever is due.
package payrun

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/payroll_ledger/internal/app/services/ledger"
	"github.com/R3E-Network/payroll_ledger/internal/app/system"
	"github.com/R3E-Network/payroll_ledger/pkg/logger"
)

// DefaultBatchLimit caps how many ledger positions one run visits.
const DefaultBatchLimit = 256

// Runner fires ledger execution runs on a cron schedule.
type Runner struct {
	manager  *ledger.Manager
	schedule string
	actor    string
	limit    int
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	inRun   bool
}

var _ system.Service = (*Runner)(nil)

// New builds a runner. The schedule is a standard five-field cron
// expression; actor is the principal stamped on executions and events.
func New(manager *ledger.Manager, schedule, actor string, limit int, log *logger.Logger) (*Runner, error) {
	if manager == nil {
		return nil, fmt.Errorf("ledger manager is required")
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", schedule, err)
	}
	if actor == "" {
		actor = "payrun"
	}
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	if log == nil {
		log = logger.NewDefault("payrun")
	}
	return &Runner{
		manager:  manager,
		schedule: schedule,
		actor:    actor,
		limit:    limit,
		log:      log,
	}, nil
}

func (r *Runner) Name() string { return "payrun" }

// Start arms the cron schedule. Idempotent.
func (r *Runner) Start(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(r.schedule, r.fire); err != nil {
		return fmt.Errorf("arm schedule: %w", err)
	}
	c.Start()
	r.cron = c
	r.running = true

	r.log.WithField("schedule", r.schedule).Info("payrun schedule armed")
	return nil
}

// Stop disarms the schedule and waits for an in-flight run to finish.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	c := r.cron
	r.cron = nil
	r.running = false
	r.mu.Unlock()

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fire executes one run. Runs never overlap; if a tick lands while the
// previous run is still settling payments it is skipped.
func (r *Runner) fire() {
	r.mu.Lock()
	if r.inRun {
		r.mu.Unlock()
		r.log.Warn("previous payrun still in flight; skipping tick")
		return
	}
	r.inRun = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inRun = false
		r.mu.Unlock()
	}()

	r.RunOnce(context.Background())
}

// RunOnce performs a single execution run immediately, outside the schedule.
func (r *Runner) RunOnce(ctx context.Context) {
	report, err := r.manager.ExecuteBatch(ctx, r.actor, r.limit)
	if err != nil {
		r.log.WithError(err).Warn("payrun failed")
		return
	}
	if report.Executed > 0 || report.Failed > 0 {
		r.log.Infof("payrun settled %d payments (%d failed, %d skipped)", report.Executed, report.Failed, report.Skipped)
	}
}

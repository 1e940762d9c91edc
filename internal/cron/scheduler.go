package cron

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kandev/dispatchd/internal/common/logger"
	"github.com/kandev/dispatchd/internal/taskqueue"
	v1 "github.com/kandev/dispatchd/pkg/api/v1"
)

const defaultAppTickInterval = 30 * time.Second

// appScheduler is the in-process "app" mode driver: a ticker-driven loop
// that parses each enabled cronjob's expression with a standard 5-field
// parser, computes due schedules on each tick, and fires them directly
// through the Task Queue, with no external orchestrator dependency.
type appScheduler struct {
	store    Store
	queue    TaskCreator
	parser   cron.Parser
	interval time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	nextRun map[string]time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newAppScheduler(st Store, queue TaskCreator, rawInterval string) *appScheduler {
	interval := defaultAppTickInterval
	if d, err := time.ParseDuration(rawInterval); err == nil && d > 0 {
		interval = d
	}
	return &appScheduler{
		store:    st,
		queue:    queue,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		interval: interval,
		nextRun:  make(map[string]time.Time),
		log:      logger.Default().WithFields(zap.String("component", "cron-app-scheduler")),
	}
}

func (a *appScheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.wg.Add(1)
	go a.loop(runCtx)
}

func (a *appScheduler) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

// loop fires immediately on start, then on every tick, mirroring the
// reconciler's "check due schedules on each tick" contract.
func (a *appScheduler) loop(ctx context.Context) {
	defer a.wg.Done()

	a.tick(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *appScheduler) tick(ctx context.Context) {
	jobs, err := a.store.ListEnabledCronjobs(ctx)
	if err != nil {
		a.log.Error("list enabled cronjobs failed", zap.Error(err))
		return
	}

	now := time.Now()
	for _, job := range jobs {
		a.maybeFire(ctx, job, now)
	}
}

// maybeFire fires job once its computed next-run time has passed,
// tracking next-run in memory since the persisted Cronjob carries no
// last-run bookkeeping of its own.
func (a *appScheduler) maybeFire(ctx context.Context, job *v1.Cronjob, now time.Time) {
	sched, err := a.parser.Parse(job.CronExpr)
	if err != nil {
		a.log.Error("invalid cron expression", zap.String("cronjob_id", job.ID), zap.Error(err))
		return
	}

	a.mu.Lock()
	next, seen := a.nextRun[job.ID]
	if !seen {
		next = sched.Next(now.Add(-time.Second))
		a.nextRun[job.ID] = next
	}
	a.mu.Unlock()

	if now.Before(next) {
		return
	}

	if _, err := a.queue.Create(ctx, job.TenantID, taskqueue.CreateRequest{
		Title:     job.Template.Title,
		Prompt:    job.Template.Prompt,
		AgentType: job.Template.AgentType,
		Priority:  job.Template.Priority,
		Metadata:  job.Template.Metadata,
	}); err != nil {
		a.log.Error("cron fire failed to create task", zap.String("cronjob_id", job.ID), zap.Error(err))
		return
	}

	a.mu.Lock()
	a.nextRun[job.ID] = sched.Next(now)
	a.mu.Unlock()

	a.log.Info("cron fired", zap.String("cronjob_id", job.ID))
}

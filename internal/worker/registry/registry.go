// Package registry tracks connected workers: their declared capabilities,
// owned codebases, and liveness, and runs the background sweep that reaps
// tasks abandoned by a worker whose heartbeat has gone stale.
package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/dispatchd/internal/common/logger"
	v1 "github.com/kandev/dispatchd/pkg/api/v1"
)

// TaskReaper is the Task Queue's reap entry point, invoked once per
// abandoned claim discovered during a liveness sweep.
type TaskReaper interface {
	Reap(ctx context.Context, tenantID, taskID string) error
}

// ClaimLister lets the sweep ask the store which tasks a worker currently
// holds, without the registry needing a full store.Store dependency. The
// before cutoff excludes claims younger than the grace period.
type ClaimLister interface {
	ListClaimedByWorker(ctx context.Context, tenantID, workerID string, before time.Time) ([]string, error)
}

// entry is one connected worker's bookkeeping record.
type entry struct {
	worker   v1.Worker
	tenantID string
	lastSeen time.Time
}

// Registry is a thread-safe, in-memory directory of connected workers,
// keyed by worker id.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*entry

	reaper TaskReaper
	claims ClaimLister
	log    *logger.Logger

	livenessTimeout time.Duration
	sweepInterval   time.Duration
	claimGrace      time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Registry. livenessTimeout is how long a worker may go
// without a heartbeat before it is considered gone; sweepInterval is how
// often the background loop checks; claimGrace is how long after being
// claimed a task is protected from reaping when its worker goes stale.
func New(reaper TaskReaper, claims ClaimLister, livenessTimeout, sweepInterval, claimGrace time.Duration) *Registry {
	return &Registry{
		workers:         make(map[string]*entry),
		reaper:          reaper,
		claims:          claims,
		log:             logger.Default().WithFields(zap.String("component", "worker-registry")),
		livenessTimeout: livenessTimeout,
		sweepInterval:   sweepInterval,
		claimGrace:      claimGrace,
		stopCh:          make(chan struct{}),
	}
}

// Start launches the background liveness-sweep loop.
func (r *Registry) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.sweepLoop(ctx)
}

func (r *Registry) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Registry) sweepLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep evicts workers past their liveness timeout and reaps any task
// they still held a claim on.
func (r *Registry) sweep(ctx context.Context) {
	now := time.Now()

	var stale []*entry
	r.mu.Lock()
	for id, e := range r.workers {
		if now.Sub(e.lastSeen) > r.livenessTimeout {
			stale = append(stale, e)
			delete(r.workers, id)
		}
	}
	r.mu.Unlock()

	for _, e := range stale {
		r.log.Warn("worker liveness timeout, reaping claims",
			zap.String("worker_id", e.worker.ID), zap.Duration("since_last_seen", now.Sub(e.lastSeen)))

		if r.claims == nil || r.reaper == nil {
			continue
		}
		taskIDs, err := r.claims.ListClaimedByWorker(ctx, e.tenantID, e.worker.ID, now.Add(-r.claimGrace))
		if err != nil {
			r.log.Error("failed to list claims for stale worker", zap.Error(err))
			continue
		}
		for _, taskID := range taskIDs {
			if err := r.reaper.Reap(ctx, e.tenantID, taskID); err != nil {
				r.log.Error("failed to reap task", zap.String("task_id", taskID), zap.Error(err))
			}
		}
	}
}

// Register records a newly-connected worker or refreshes its declaration.
func (r *Registry) Register(tenantID string, w v1.Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w.LastSeen = time.Now()
	r.workers[w.ID] = &entry{worker: w, tenantID: tenantID, lastSeen: w.LastSeen}
}

// Heartbeat refreshes a worker's liveness timestamp.
func (r *Registry) Heartbeat(workerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.workers[workerID]
	if !ok {
		return false
	}
	e.lastSeen = time.Now()
	return true
}

// Unregister removes a worker immediately, e.g. on clean disconnect.
func (r *Registry) Unregister(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, workerID)
}

// Get returns the worker's last-known declaration.
func (r *Registry) Get(workerID string) (v1.Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.workers[workerID]
	if !ok {
		return v1.Worker{}, false
	}
	return e.worker, true
}

// List returns a snapshot of every connected worker for a tenant.
func (r *Registry) List(tenantID string) []v1.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]v1.Worker, 0, len(r.workers))
	for _, e := range r.workers {
		if e.tenantID == tenantID {
			out = append(out, e.worker)
		}
	}
	return out
}

// HasEligibleWorker reports whether any connected worker can serve a task
// with the given codebase, required capabilities, target agent name, and
// personality.
func (r *Registry) HasEligibleWorker(codebaseID string, requiredCaps []string, targetAgentName, personality string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.workers {
		if !workerOwnsCodebase(e.worker, codebaseID) {
			continue
		}
		if targetAgentName != "" && e.worker.DisplayName != targetAgentName {
			continue
		}
		if personality != "" && e.worker.Personality != personality {
			continue
		}
		if !hasAllCapabilities(e.worker.Capabilities, requiredCaps) {
			continue
		}
		return true
	}
	return false
}

// workerOwnsCodebase reports whether the worker's declared set covers the
// task's codebase; global-pool tasks require an explicit "global" entry
// in the declaration.
func workerOwnsCodebase(w v1.Worker, codebaseID string) bool {
	want := codebaseID
	if codebaseID == v1.GlobalCodebase {
		want = v1.GlobalCodebaseSentinel
	}
	for _, c := range w.Codebases {
		if c == want {
			return true
		}
	}
	return false
}

func hasAllCapabilities(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]bool, len(have))
	for _, c := range have {
		set[c] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

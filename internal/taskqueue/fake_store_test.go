package taskqueue

import (
	"context"
	"sync"
	"time"

	"github.com/kandev/dispatchd/internal/common/apperrors"
	"github.com/kandev/dispatchd/internal/store"
	v1 "github.com/kandev/dispatchd/pkg/api/v1"
)

// fakeStore is an in-memory store.Store used by the Task Queue's own unit
// tests, colocated with the interface's consumer.
type fakeStore struct {
	mu         sync.Mutex
	tasks      map[string]*v1.Task
	codebases  map[string]*v1.Codebase
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:     make(map[string]*v1.Task),
		codebases: make(map[string]*v1.Codebase),
	}
}

func (f *fakeStore) UpsertCodebase(ctx context.Context, tenantID string, cb *v1.Codebase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codebases[cb.ID] = cb
	return nil
}
func (f *fakeStore) GetCodebase(ctx context.Context, tenantID, id string) (*v1.Codebase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cb, ok := f.codebases[id]
	if !ok {
		return nil, apperrors.NotFound("codebase not found")
	}
	return cb, nil
}
func (f *fakeStore) DeleteCodebase(ctx context.Context, tenantID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.codebases, id)
	return nil
}
func (f *fakeStore) ListCodebases(ctx context.Context, tenantID string) ([]*v1.Codebase, error) {
	return nil, nil
}

func (f *fakeStore) UpsertTask(ctx context.Context, tenantID string, task *v1.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *task
	f.tasks[task.ID] = &cp
	return nil
}

func (f *fakeStore) GetTask(ctx context.Context, tenantID, id string) (*v1.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, apperrors.NotFound("task not found")
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) ListTasks(ctx context.Context, tenantID string, filter store.TaskFilter) ([]*v1.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*v1.Task
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeStore) ClaimTask(ctx context.Context, tenantID, taskID, workerID string) (store.ClaimResult, *v1.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok {
		return store.ClaimNotFound, nil, nil
	}
	if !t.Status.Claimable() {
		cp := *t
		return store.ClaimAlreadyClaimed, &cp, nil
	}
	t.Status = v1.TaskAssigned
	t.WorkerID = workerID
	cp := *t
	return store.ClaimSucceeded, &cp, nil
}

func (f *fakeStore) ReleaseTask(ctx context.Context, tenantID, taskID, workerID string, terminalStatus v1.TaskStatus, result, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok {
		return apperrors.NotFound("task not found")
	}
	if t.WorkerID != workerID {
		return apperrors.Conflict("worker mismatch")
	}
	if t.Status.Terminal() {
		if t.Status == terminalStatus {
			return nil
		}
		return apperrors.Conflict("already terminal")
	}
	t.Status = terminalStatus
	t.Result = result
	t.Error = errMsg
	return nil
}

func (f *fakeStore) CancelTask(ctx context.Context, tenantID, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok {
		return apperrors.NotFound("task not found")
	}
	if !t.Status.Claimable() {
		return apperrors.Conflict("cannot cancel")
	}
	t.Status = v1.TaskCancelled
	return nil
}

func (f *fakeStore) ReapTask(ctx context.Context, tenantID, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok {
		return apperrors.NotFound("task not found")
	}
	t.Status = v1.TaskPending
	t.WorkerID = ""
	return nil
}

func (f *fakeStore) ListClaimedByWorker(ctx context.Context, tenantID, workerID string, before time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, t := range f.tasks {
		if t.WorkerID == workerID && !t.Status.Terminal() {
			out = append(out, t.ID)
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertWorker(ctx context.Context, tenantID string, w *v1.Worker) error { return nil }
func (f *fakeStore) GetWorker(ctx context.Context, tenantID, id string) (*v1.Worker, error) {
	return nil, apperrors.NotFound("not found")
}
func (f *fakeStore) ListWorkers(ctx context.Context, tenantID string) ([]*v1.Worker, error) { return nil, nil }
func (f *fakeStore) SetWorkerLiveness(ctx context.Context, tenantID, workerID string, now time.Time) error {
	return nil
}

func (f *fakeStore) UpsertSession(ctx context.Context, tenantID string, s *v1.Session) error { return nil }
func (f *fakeStore) GetSession(ctx context.Context, tenantID, id string) (*v1.Session, error) {
	return nil, apperrors.NotFound("not found")
}
func (f *fakeStore) GetActiveSessionForCodebase(ctx context.Context, tenantID, codebaseID string) (*v1.Session, error) {
	return nil, apperrors.NotFound("not found")
}
func (f *fakeStore) EndSession(ctx context.Context, tenantID, sessionID string) ([]*v1.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var cancelled []*v1.Task
	for _, t := range f.tasks {
		if t.SessionID == sessionID && !t.Status.Terminal() {
			t.Status = v1.TaskCancelled
			t.Error = "Session ended"
			cp := *t
			cancelled = append(cancelled, &cp)
		}
	}
	return cancelled, nil
}

func (f *fakeStore) UpsertCronjob(ctx context.Context, tenantID string, job *v1.Cronjob) error { return nil }
func (f *fakeStore) GetCronjob(ctx context.Context, tenantID, id string) (*v1.Cronjob, error) {
	return nil, apperrors.NotFound("not found")
}
func (f *fakeStore) DeleteCronjob(ctx context.Context, tenantID, id string) error { return nil }
func (f *fakeStore) ListCronjobs(ctx context.Context, tenantID string) ([]*v1.Cronjob, error) {
	return nil, nil
}
func (f *fakeStore) ListEnabledCronjobs(ctx context.Context) ([]*v1.Cronjob, error) { return nil, nil }

// fakePush is a no-eligible-worker-by-default push notifier fake.
type fakePush struct {
	mu          sync.Mutex
	eligible    bool
	notified    []string
	interrupted []string
	claimed     []string
}

func (f *fakePush) HasEligibleWorker(codebaseID string, caps []string, target, personality string) bool {
	return f.eligible
}
func (f *fakePush) NotifyTaskAvailable(task *v1.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, task.ID)
}
func (f *fakePush) NotifyInterrupt(task *v1.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupted = append(f.interrupted, task.ID)
}
func (f *fakePush) NotifyClaimed(task *v1.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimed = append(f.claimed, task.ID)
}

func (f *fakePush) notifiedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notified)
}

type fakeEvents struct {
	mu        sync.Mutex
	published []v1.Event
	err       error
}

func (f *fakeEvents) Publish(ctx context.Context, evt v1.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, evt)
	return nil
}

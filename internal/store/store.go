// Package store defines the control plane's persistence contract: every
// operation is scoped to a tenant context (or explicitly unscoped for
// administrative reconciliation paths) and every mutation is transactional
// and durable before it returns.
package store

import (
	"context"
	"time"

	v1 "github.com/kandev/dispatchd/pkg/api/v1"
)

// ClaimResult is the outcome of a single conditional claim attempt.
type ClaimResult string

const (
	ClaimSucceeded      ClaimResult = "claimed"
	ClaimAlreadyClaimed ClaimResult = "already_claimed"
	ClaimNotFound       ClaimResult = "not_found"
)

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	CodebaseID string
	Status     v1.TaskStatus
	SessionID  string
	Limit      int
}

// Store is the durable-persistence contract for all control-plane
// entities. Implementations enforce tenant row-level visibility: a call
// made with tenantID set only ever sees/affects rows owned by that
// tenant; tenantID == "" is administrative (unscoped) access reserved for
// reconciliation and cron firing.
type Store interface {
	UpsertCodebase(ctx context.Context, tenantID string, cb *v1.Codebase) error
	GetCodebase(ctx context.Context, tenantID, id string) (*v1.Codebase, error)
	DeleteCodebase(ctx context.Context, tenantID, id string) error
	ListCodebases(ctx context.Context, tenantID string) ([]*v1.Codebase, error)

	UpsertTask(ctx context.Context, tenantID string, task *v1.Task) error
	GetTask(ctx context.Context, tenantID, id string) (*v1.Task, error)
	ListTasks(ctx context.Context, tenantID string, filter TaskFilter) ([]*v1.Task, error)

	// ClaimTask performs one conditional UPDATE that succeeds iff the row
	// is still pending or queued. At most one caller observes
	// ClaimSucceeded for a given task id.
	ClaimTask(ctx context.Context, tenantID, taskID, workerID string) (ClaimResult, *v1.Task, error)

	// ReleaseTask is conditional on workerID matching the task's current
	// assignee; idempotent when the task is already in terminalStatus.
	ReleaseTask(ctx context.Context, tenantID, taskID, workerID string, terminalStatus v1.TaskStatus, result, errMsg string) error

	// CancelTask transitions a pre-claim task to cancelled; returns a
	// conflict error if the task has already been claimed or is terminal.
	CancelTask(ctx context.Context, tenantID, taskID string) error

	// ReapTask resets an abandoned claim back to pending, clearing the
	// worker assignment, as part of the liveness recovery path.
	ReapTask(ctx context.Context, tenantID, taskID string) error

	UpsertWorker(ctx context.Context, tenantID string, w *v1.Worker) error
	GetWorker(ctx context.Context, tenantID, id string) (*v1.Worker, error)
	ListWorkers(ctx context.Context, tenantID string) ([]*v1.Worker, error)
	SetWorkerLiveness(ctx context.Context, tenantID, workerID string, now time.Time) error
	// ListClaimedByWorker returns the ids of non-terminal tasks currently
	// assigned to workerID and claimed before the given cutoff, used by
	// the Worker Registry's liveness sweep; the cutoff is the claim grace
	// period that keeps a just-claimed task from being reaped the instant
	// its worker's channel closes.
	ListClaimedByWorker(ctx context.Context, tenantID, workerID string, before time.Time) ([]string, error)

	UpsertSession(ctx context.Context, tenantID string, s *v1.Session) error
	GetSession(ctx context.Context, tenantID, id string) (*v1.Session, error)
	// GetActiveSessionForCodebase returns the active session bound to the
	// codebase, or a not-found error when none exists; used to enforce at
	// most one active session per (tenant, codebase).
	GetActiveSessionForCodebase(ctx context.Context, tenantID, codebaseID string) (*v1.Session, error)
	// EndSession marks the session ended and cancels every non-terminal
	// task bound to it in the same transaction, returning the tasks that
	// were cancelled.
	EndSession(ctx context.Context, tenantID, sessionID string) ([]*v1.Task, error)

	UpsertCronjob(ctx context.Context, tenantID string, job *v1.Cronjob) error
	GetCronjob(ctx context.Context, tenantID, id string) (*v1.Cronjob, error)
	DeleteCronjob(ctx context.Context, tenantID, id string) error
	ListCronjobs(ctx context.Context, tenantID string) ([]*v1.Cronjob, error)
	// ListEnabledCronjobs is an administrative, cross-tenant read used by
	// the Cron Reconciler.
	ListEnabledCronjobs(ctx context.Context) ([]*v1.Cronjob, error)
}

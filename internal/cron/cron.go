// Package cron implements the Cron Reconciler: it keeps persisted
// schedules in sync with either an in-process ticker scheduler or
// external orchestrator CronJob resources, depending on the configured
// driver, and materializes tasks through the Router and Task Queue when
// a schedule fires.
package cron

import (
	"context"
	"crypto/subtle"
	"fmt"

	"go.uber.org/zap"
	"k8s.io/client-go/kubernetes"

	"github.com/kandev/dispatchd/internal/common/apperrors"
	"github.com/kandev/dispatchd/internal/common/logger"
	"github.com/kandev/dispatchd/internal/taskqueue"
	v1 "github.com/kandev/dispatchd/pkg/api/v1"
)

// Driver selects which scheduling mechanism backs the reconciler.
type Driver string

const (
	DriverApp      Driver = "app"
	DriverKnative  Driver = "knative"
	DriverDisabled Driver = "disabled"
)

// Config carries the reconciler's mode and timing/auth knobs.
type Config struct {
	Driver              Driver
	InternalToken       string
	DefaultNamespace    string
	AllowCrossNamespace bool
	AppTickInterval     string // duration string, parsed by the app scheduler
	TriggerBaseURL      string
}

// TaskCreator is the Task Queue's view the reconciler fires cronjobs
// through.
type TaskCreator interface {
	Create(ctx context.Context, tenantID string, req taskqueue.CreateRequest) (*v1.Task, error)
}

// Store is the narrow cronjob persistence surface the reconciler needs.
type Store interface {
	UpsertCronjob(ctx context.Context, tenantID string, job *v1.Cronjob) error
	GetCronjob(ctx context.Context, tenantID, id string) (*v1.Cronjob, error)
	DeleteCronjob(ctx context.Context, tenantID, id string) error
	ListCronjobs(ctx context.Context, tenantID string) ([]*v1.Cronjob, error)
	ListEnabledCronjobs(ctx context.Context) ([]*v1.Cronjob, error)
}

// ReconcileSummary is the outcome of a ReconcileAll pass.
type ReconcileSummary struct {
	Checked    int      `json:"checked"`
	Reconciled int      `json:"reconciled"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

// Reconciler dispatches cronjob operations to the configured driver.
// At most one of its app/knative sub-reconcilers is non-nil, matching
// the selected mode; under the disabled driver both are nil.
type Reconciler struct {
	cfg   Config
	store Store
	queue TaskCreator
	log   *logger.Logger

	app     *appScheduler
	knative *knativeReconciler
}

// New constructs a Reconciler for cfg.Driver. clientset may be nil
// unless Driver is DriverKnative.
func New(cfg Config, st Store, queue TaskCreator, clientset kubernetes.Interface) *Reconciler {
	r := &Reconciler{
		cfg:   cfg,
		store: st,
		queue: queue,
		log:   logger.Default().WithFields(zap.String("component", "cron-reconciler")),
	}
	switch cfg.Driver {
	case DriverApp:
		r.app = newAppScheduler(st, queue, cfg.AppTickInterval)
	case DriverKnative:
		r.knative = newKnativeReconciler(cfg, clientset)
	}
	return r
}

// Start launches the in-process ticker scheduler when Driver is
// DriverApp; otherwise it is a no-op.
func (r *Reconciler) Start(ctx context.Context) {
	if r.app != nil {
		r.app.Start(ctx)
	}
}

func (r *Reconciler) Stop() {
	if r.app != nil {
		r.app.Stop()
	}
}

// ReconcileCronjob materializes job's desired external state. A no-op
// under app and disabled drivers, since those modes never create
// external CronJob resources.
func (r *Reconciler) ReconcileCronjob(ctx context.Context, job *v1.Cronjob) error {
	switch r.cfg.Driver {
	case DriverKnative:
		return r.knative.reconcile(ctx, job)
	case DriverApp, DriverDisabled:
		return nil
	default:
		return fmt.Errorf("cron: unknown driver %q", r.cfg.Driver)
	}
}

// DeleteCronjob removes job's external resource, if any.
func (r *Reconciler) DeleteCronjob(ctx context.Context, tenantID, cronjobID string) error {
	if r.cfg.Driver == DriverKnative {
		return r.knative.delete(ctx, tenantID, cronjobID)
	}
	return nil
}

// ReconcileAll reconciles every enabled cronjob and summarizes the
// outcome. A no-op returning zeroed counters when the driver is
// disabled.
func (r *Reconciler) ReconcileAll(ctx context.Context) ReconcileSummary {
	if r.cfg.Driver == DriverDisabled {
		return ReconcileSummary{}
	}

	jobs, err := r.store.ListEnabledCronjobs(ctx)
	if err != nil {
		return ReconcileSummary{Failed: 1, Errors: []string{err.Error()}}
	}

	summary := ReconcileSummary{Checked: len(jobs)}
	for _, job := range jobs {
		if err := r.ReconcileCronjob(ctx, job); err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", job.ID, err))
			r.log.Error("cronjob reconcile failed", zap.String("cronjob_id", job.ID), zap.Error(err))
			continue
		}
		summary.Reconciled++
	}
	return summary
}

// Fire is the internal trigger endpoint's entry point: it looks the
// cronjob up administratively (unscoped, since the external scheduler
// callback carries no tenant context), validates it is still enabled,
// and materializes a task from its template through the Task Queue.
func (r *Reconciler) Fire(ctx context.Context, cronjobID string) error {
	if r.cfg.Driver == DriverDisabled {
		return apperrors.Forbidden("cron reconciler is disabled")
	}

	job, err := r.store.GetCronjob(ctx, "", cronjobID)
	if err != nil {
		return err
	}
	if !job.Enabled {
		return apperrors.Conflict("cronjob is disabled")
	}

	_, err = r.queue.Create(ctx, job.TenantID, taskqueue.CreateRequest{
		Title:     job.Template.Title,
		Prompt:    job.Template.Prompt,
		AgentType: job.Template.AgentType,
		Priority:  job.Template.Priority,
		Metadata:  job.Template.Metadata,
	})
	return err
}

// ValidateInternalToken compares the presented shared secret against the
// configured internal token in constant time.
func (r *Reconciler) ValidateInternalToken(presented string) bool {
	if r.cfg.InternalToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(r.cfg.InternalToken)) == 1
}

package cron

import (
	"context"
	"crypto/sha256"
	"fmt"
	"regexp"

	"go.uber.org/zap"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/kandev/dispatchd/internal/common/logger"
	v1 "github.com/kandev/dispatchd/pkg/api/v1"
)

var namespaceComponentRe = regexp.MustCompile(`[^a-z0-9-]+`)

// knativeReconciler turns persisted cronjobs into external
// k8s.io/api/batch/v1.CronJob resources whose sole job is to perform an
// authenticated HTTP callback into the control plane's internal trigger
// endpoint at fire time.
type knativeReconciler struct {
	cfg       Config
	clientset kubernetes.Interface
	log       *logger.Logger
}

func newKnativeReconciler(cfg Config, clientset kubernetes.Interface) *knativeReconciler {
	return &knativeReconciler{
		cfg:       cfg,
		clientset: clientset,
		log:       logger.Default().WithFields(zap.String("component", "cron-knative-reconciler")),
	}
}

// externalName derives a deterministic, length-bounded, DNS-safe name
// from the cronjob id so reconciliation is create-or-patch keyed by
// name rather than requiring a stored mapping.
func externalName(cronjobID string) string {
	sum := sha256.Sum256([]byte(cronjobID))
	return fmt.Sprintf("dispatchd-cron-%x", sum[:4])
}

func (r *knativeReconciler) namespaceFor(tenantID string) string {
	if r.cfg.AllowCrossNamespace && tenantID != "" {
		suffix := namespaceComponentRe.ReplaceAllString(tenantID, "-")
		return fmt.Sprintf("%s-%s", r.cfg.DefaultNamespace, suffix)
	}
	return r.cfg.DefaultNamespace
}

func (r *knativeReconciler) buildCronJob(job *v1.Cronjob, name, namespace string) *batchv1.CronJob {
	suspend := !job.Enabled
	backoffLimit := int32(0)
	startingDeadline := int64(60)
	successLimit := int32(3)
	failureLimit := int32(1)

	triggerURL := fmt.Sprintf("%s/v1/cron/internal/%s/trigger", r.cfg.TriggerBaseURL, job.ID)

	spec := batchv1.CronJobSpec{
		Schedule:                   job.CronExpr,
		Suspend:                    &suspend,
		ConcurrencyPolicy:          batchv1.ForbidConcurrent,
		StartingDeadlineSeconds:    &startingDeadline,
		SuccessfulJobsHistoryLimit: &successLimit,
		FailedJobsHistoryLimit:     &failureLimit,
		JobTemplate: batchv1.JobTemplateSpec{
			Spec: batchv1.JobSpec{
				BackoffLimit: &backoffLimit,
				Template: corev1.PodTemplateSpec{
					Spec: corev1.PodSpec{
						RestartPolicy: corev1.RestartPolicyNever,
						Containers: []corev1.Container{
							{
								Name:  "trigger",
								Image: "curlimages/curl:8.9.1",
								Command: []string{
									"curl", "-fsS", "-X", "POST",
									"-H", fmt.Sprintf("X-Dispatchd-Cron-Token: %s", r.cfg.InternalToken),
									triggerURL,
								},
							},
						},
					},
				},
			},
		},
	}
	if job.Timezone != "" {
		spec.TimeZone = &job.Timezone
	}

	return &batchv1.CronJob{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels: map[string]string{
				"app.kubernetes.io/managed-by": "dispatchd",
				"dispatchd.io/cronjob":         job.ID,
			},
		},
		Spec: spec,
	}
}

// reconcile reads before writing, so repeated calls for an unchanged
// cronjob converge to the same external resource (create-or-patch).
func (r *knativeReconciler) reconcile(ctx context.Context, job *v1.Cronjob) error {
	name := externalName(job.ID)
	ns := r.namespaceFor(job.TenantID)
	desired := r.buildCronJob(job, name, ns)

	existing, err := r.clientset.BatchV1().CronJobs(ns).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			_, err := r.clientset.BatchV1().CronJobs(ns).Create(ctx, desired, metav1.CreateOptions{})
			return err
		}
		return err
	}

	existing.Spec = desired.Spec
	existing.Labels = desired.Labels
	_, err = r.clientset.BatchV1().CronJobs(ns).Update(ctx, existing, metav1.UpdateOptions{})
	return err
}

func (r *knativeReconciler) delete(ctx context.Context, tenantID, cronjobID string) error {
	name := externalName(cronjobID)
	ns := r.namespaceFor(tenantID)
	err := r.clientset.BatchV1().CronJobs(ns).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	return nil
}

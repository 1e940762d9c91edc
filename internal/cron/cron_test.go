package cron

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/kandev/dispatchd/internal/common/apperrors"
	"github.com/kandev/dispatchd/internal/taskqueue"
	v1 "github.com/kandev/dispatchd/pkg/api/v1"
)

// fakeCronStore is a minimal in-memory Store used by this package's tests.
type fakeCronStore struct {
	mu   sync.Mutex
	jobs map[string]*v1.Cronjob
}

func newFakeCronStore(jobs ...*v1.Cronjob) *fakeCronStore {
	s := &fakeCronStore{jobs: make(map[string]*v1.Cronjob)}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s
}

func (s *fakeCronStore) UpsertCronjob(ctx context.Context, tenantID string, job *v1.Cronjob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *fakeCronStore) GetCronjob(ctx context.Context, tenantID, id string) (*v1.Cronjob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.NotFound("cronjob not found")
	}
	return j, nil
}

func (s *fakeCronStore) DeleteCronjob(ctx context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *fakeCronStore) ListCronjobs(ctx context.Context, tenantID string) ([]*v1.Cronjob, error) {
	return s.ListEnabledCronjobs(ctx)
}

func (s *fakeCronStore) ListEnabledCronjobs(ctx context.Context) ([]*v1.Cronjob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*v1.Cronjob
	for _, j := range s.jobs {
		if j.Enabled {
			out = append(out, j)
		}
	}
	return out, nil
}

type fakeTaskCreator struct {
	mu       sync.Mutex
	requests []taskqueue.CreateRequest
}

func (f *fakeTaskCreator) Create(ctx context.Context, tenantID string, req taskqueue.CreateRequest) (*v1.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return &v1.Task{ID: "task-1", TenantID: tenantID, Title: req.Title}, nil
}

func TestFireMaterializesTaskFromTemplate(t *testing.T) {
	job := &v1.Cronjob{
		ID:       "job-1",
		TenantID: "tenant-a",
		CronExpr: "*/5 * * * *",
		Enabled:  true,
		Template: v1.TaskTemplate{Title: "health", Prompt: "ping", AgentType: "noop"},
	}
	st := newFakeCronStore(job)
	queue := &fakeTaskCreator{}
	r := New(Config{Driver: DriverApp}, st, queue, nil)

	err := r.Fire(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, queue.requests, 1)
	require.Equal(t, "health", queue.requests[0].Title)
}

func TestFireRejectsDisabledCronjob(t *testing.T) {
	job := &v1.Cronjob{ID: "job-1", TenantID: "tenant-a", Enabled: false}
	st := newFakeCronStore(job)
	queue := &fakeTaskCreator{}
	r := New(Config{Driver: DriverApp}, st, queue, nil)

	err := r.Fire(context.Background(), "job-1")
	require.Error(t, err)
	require.True(t, apperrors.IsConflict(err))
}

func TestFireRejectsWhenDisabledDriver(t *testing.T) {
	st := newFakeCronStore()
	queue := &fakeTaskCreator{}
	r := New(Config{Driver: DriverDisabled}, st, queue, nil)

	err := r.Fire(context.Background(), "anything")
	require.Error(t, err)
}

func TestReconcileAllDisabledDriverIsNoop(t *testing.T) {
	st := newFakeCronStore(&v1.Cronjob{ID: "job-1", Enabled: true, CronExpr: "* * * * *"})
	r := New(Config{Driver: DriverDisabled}, st, &fakeTaskCreator{}, nil)

	summary := r.ReconcileAll(context.Background())
	require.Equal(t, ReconcileSummary{}, summary)
}

func TestReconcileAllAppModeChecksEveryEnabledJob(t *testing.T) {
	st := newFakeCronStore(
		&v1.Cronjob{ID: "job-1", Enabled: true, CronExpr: "* * * * *"},
		&v1.Cronjob{ID: "job-2", Enabled: false, CronExpr: "* * * * *"},
	)
	r := New(Config{Driver: DriverApp}, st, &fakeTaskCreator{}, nil)

	summary := r.ReconcileAll(context.Background())
	require.Equal(t, 1, summary.Checked)
	require.Equal(t, 1, summary.Reconciled)
	require.Equal(t, 0, summary.Failed)
}

func TestValidateInternalToken(t *testing.T) {
	r := New(Config{Driver: DriverDisabled, InternalToken: "s3cr3t"}, newFakeCronStore(), &fakeTaskCreator{}, nil)

	require.True(t, r.ValidateInternalToken("s3cr3t"))
	require.False(t, r.ValidateInternalToken("wrong"))
	require.False(t, r.ValidateInternalToken(""))
}

func TestKnativeReconcile_ConvergesToSingleCronJob(t *testing.T) {
	job := &v1.Cronjob{
		ID:       "job-1",
		TenantID: "tenant-a",
		CronExpr: "*/5 * * * *",
		Enabled:  true,
		Template: v1.TaskTemplate{Title: "health", Prompt: "ping", AgentType: "noop"},
	}
	clientset := fake.NewSimpleClientset()
	cfg := Config{
		Driver:           DriverKnative,
		DefaultNamespace: "jobs",
		InternalToken:    "s3cr3t",
		TriggerBaseURL:   "http://dispatchd.internal",
	}
	r := New(cfg, newFakeCronStore(job), &fakeTaskCreator{}, clientset)

	require.NoError(t, r.ReconcileCronjob(context.Background(), job))
	require.NoError(t, r.ReconcileCronjob(context.Background(), job), "reconcile must be idempotent")

	list, err := clientset.BatchV1().CronJobs("jobs").List(context.Background(), metav1.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)

	cj := list.Items[0]
	require.Equal(t, externalName("job-1"), cj.Name)
	require.Equal(t, "*/5 * * * *", cj.Spec.Schedule)
	require.False(t, *cj.Spec.Suspend, "enabled cronjob must not be suspended")

	// Disabling the cronjob flips suspend on the existing resource.
	job.Enabled = false
	require.NoError(t, r.ReconcileCronjob(context.Background(), job))
	updated, err := clientset.BatchV1().CronJobs("jobs").Get(context.Background(), cj.Name, metav1.GetOptions{})
	require.NoError(t, err)
	require.True(t, *updated.Spec.Suspend)
}

func TestKnativeDelete_NotFoundIsSuccess(t *testing.T) {
	cfg := Config{Driver: DriverKnative, DefaultNamespace: "jobs"}
	r := New(cfg, newFakeCronStore(), &fakeTaskCreator{}, fake.NewSimpleClientset())
	require.NoError(t, r.DeleteCronjob(context.Background(), "tenant-a", "never-reconciled"))
}

func TestExternalNameIsDeterministicAndDNSSafe(t *testing.T) {
	a := externalName("job-1")
	b := externalName("job-1")
	c := externalName("job-2")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Regexp(t, `^[a-z0-9-]{1,63}$`, a)
}

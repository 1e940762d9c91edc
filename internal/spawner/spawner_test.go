package spawner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/fake"
)

const testServiceTemplate = `
apiVersion: v1
kind: Service
metadata:
  labels:
    session: "${SESSION_ID}"
spec:
  selector:
    dispatchd.io/session: "${SESSION_ID}"
  ports:
    - name: http
      port: 80
      targetPort: 8080
`

const testRuleTemplate = `
apiVersion: dispatchd.kandev.io/v1
kind: RoutingRule
metadata: {}
spec:
  codebaseId: "${CODEBASE_ID}"
`

func newTestSpawner(t *testing.T, templates map[string]string) (*Spawner, *fake.Clientset, *dynamicfake.FakeDynamicClient) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Namespace = "workers"

	cs := fake.NewSimpleClientset(&corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: cfg.TemplateConfigMap, Namespace: cfg.Namespace},
		Data:       templates,
	})

	scheme := runtime.NewScheme()
	gvrToListKind := map[schema.GroupVersionResource]string{
		cfg.RuleGVR: "RoutingRuleList",
	}
	dyn := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme, gvrToListKind)

	return New(cfg, cs, dyn), cs, dyn
}

func TestCreateSessionWorkerDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	s := New(cfg, fake.NewSimpleClientset(), dynamicfake.NewSimpleDynamicClient(runtime.NewScheme()))

	res, err := s.CreateSessionWorker(context.Background(), "sess-1", "tenant-a", "cb-1")
	require.NoError(t, err)
	require.True(t, res.Disabled)
}

func TestCreateSessionWorkerRejectsUnsafeSessionID(t *testing.T) {
	s, _, _ := newTestSpawner(t, map[string]string{
		templateKeyService:     testServiceTemplate,
		templateKeyRoutingRule: testRuleTemplate,
	})

	_, err := s.CreateSessionWorker(context.Background(), "Sess_1!", "tenant-a", "cb-1")
	require.Error(t, err)
	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	require.Equal(t, ErrClassRendering, spawnErr.Class)
}

func TestCreateSessionWorkerMissingRuleTemplateRollsBackService(t *testing.T) {
	s, cs, _ := newTestSpawner(t, map[string]string{
		templateKeyService: testServiceTemplate,
	})

	_, err := s.CreateSessionWorker(context.Background(), "sess-1", "tenant-a", "cb-1")
	require.Error(t, err)
	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	require.Equal(t, ErrClassConfigMissing, spawnErr.Class)

	_, err = cs.CoreV1().Services("workers").Get(context.Background(), "dispatchd-svc-sess-1", metav1.GetOptions{})
	require.Error(t, err, "the applied service must be rolled back when the rule cannot be rendered")
}

func TestCreateSessionWorkerConfigMissing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	s := New(cfg, fake.NewSimpleClientset(), dynamicfake.NewSimpleDynamicClient(runtime.NewScheme()))

	_, err := s.CreateSessionWorker(context.Background(), "sess-1", "tenant-a", "cb-1")
	require.Error(t, err)
	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	require.Equal(t, ErrClassConfigMissing, spawnErr.Class)
}

func TestCreateSessionWorkerIsIdempotent(t *testing.T) {
	s, _, _ := newTestSpawner(t, map[string]string{
		templateKeyService:     testServiceTemplate,
		templateKeyRoutingRule: testRuleTemplate,
	})

	ctx := context.Background()
	first, err := s.CreateSessionWorker(ctx, "sess-1", "tenant-a", "cb-1")
	require.NoError(t, err)
	require.Equal(t, "dispatchd-svc-sess-1", first.ServiceName)

	second, err := s.CreateSessionWorker(ctx, "sess-1", "tenant-a", "cb-1")
	require.NoError(t, err)
	require.Equal(t, first.ServiceName, second.ServiceName)
}

func TestCreateSessionWorkerSubstitutesPlaceholders(t *testing.T) {
	s, cs, dyn := newTestSpawner(t, map[string]string{
		templateKeyService:     testServiceTemplate,
		templateKeyRoutingRule: testRuleTemplate,
	})

	res, err := s.CreateSessionWorker(context.Background(), "sess-1", "tenant-a", "cb-1")
	require.NoError(t, err)
	require.Equal(t, "http://dispatchd-svc-sess-1.workers.svc.cluster.local", res.ExternalURL)

	svc, err := cs.CoreV1().Services("workers").Get(context.Background(), "dispatchd-svc-sess-1", metav1.GetOptions{})
	require.NoError(t, err)
	require.Equal(t, "sess-1", svc.Labels["session"], "template-declared label survives the managed-label merge")
	require.Equal(t, managedByValue, svc.Labels[labelManagedBy])
	require.Equal(t, "sess-1", svc.Spec.Selector["dispatchd.io/session"])

	rule, err := dyn.Resource(s.cfg.RuleGVR).Namespace("workers").Get(context.Background(), "dispatchd-rule-sess-1", metav1.GetOptions{})
	require.NoError(t, err)
	codebase, _, _ := unstructured.NestedString(rule.Object, "spec", "codebaseId")
	require.Equal(t, "cb-1", codebase)
}

func TestGetWorkerStatusNotFound(t *testing.T) {
	s, _, _ := newTestSpawner(t, map[string]string{
		templateKeyService:     testServiceTemplate,
		templateKeyRoutingRule: testRuleTemplate,
	})

	status, err := s.GetWorkerStatus(context.Background(), "nope")
	require.NoError(t, err)
	require.Equal(t, StatusNotFound, status)
}

func TestGetWorkerStatusFromEndpoints(t *testing.T) {
	s, cs, _ := newTestSpawner(t, map[string]string{
		templateKeyService:     testServiceTemplate,
		templateKeyRoutingRule: testRuleTemplate,
	})
	ctx := context.Background()
	_, err := s.CreateSessionWorker(ctx, "sess-1", "tenant-a", "cb-1")
	require.NoError(t, err)

	// No Endpoints object yet: the backend is still pending.
	status, err := s.GetWorkerStatus(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, status)

	eps := &corev1.Endpoints{
		ObjectMeta: metav1.ObjectMeta{Name: "dispatchd-svc-sess-1", Namespace: "workers"},
		Subsets: []corev1.EndpointSubset{{
			NotReadyAddresses: []corev1.EndpointAddress{{IP: "10.0.0.5"}},
		}},
	}
	_, err = cs.CoreV1().Endpoints("workers").Create(ctx, eps, metav1.CreateOptions{})
	require.NoError(t, err)

	status, err = s.GetWorkerStatus(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, StatusCreating, status)

	eps.Subsets = []corev1.EndpointSubset{{
		Addresses: []corev1.EndpointAddress{{IP: "10.0.0.5"}},
	}}
	_, err = cs.CoreV1().Endpoints("workers").Update(ctx, eps, metav1.UpdateOptions{})
	require.NoError(t, err)

	status, err = s.GetWorkerStatus(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, StatusReady, status)

	eps.Subsets = nil
	_, err = cs.CoreV1().Endpoints("workers").Update(ctx, eps, metav1.UpdateOptions{})
	require.NoError(t, err)

	status, err = s.GetWorkerStatus(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, StatusScaledToZero, status)
}

func TestListSessionWorkersFiltersByTenantLabel(t *testing.T) {
	s, _, _ := newTestSpawner(t, map[string]string{
		templateKeyService:     testServiceTemplate,
		templateKeyRoutingRule: testRuleTemplate,
	})
	ctx := context.Background()
	_, err := s.CreateSessionWorker(ctx, "sess-1", "tenant-a", "cb-1")
	require.NoError(t, err)
	_, err = s.CreateSessionWorker(ctx, "sess-2", "tenant-b", "cb-2")
	require.NoError(t, err)

	workers, err := s.ListSessionWorkers(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, workers, 1)
	require.Equal(t, "sess-1", workers[0].SessionID)
}

func TestDeleteSessionWorkerIsNotFoundSafe(t *testing.T) {
	s, _, _ := newTestSpawner(t, map[string]string{
		templateKeyService:     testServiceTemplate,
		templateKeyRoutingRule: testRuleTemplate,
	})
	require.NoError(t, s.DeleteSessionWorker(context.Background(), "never-created"))
}

func TestCleanupIdleWorkersDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	s := New(cfg, fake.NewSimpleClientset(), dynamicfake.NewSimpleDynamicClient(runtime.NewScheme()))

	n, err := s.CleanupIdleWorkers(context.Background(), time.Hour)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

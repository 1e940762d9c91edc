// Package spawner implements the Session Worker Spawner: it reconciles
// "one external worker per session" intent against a Kubernetes
// orchestrator, rendering a typed core Service and an unstructured
// routing-rule custom resource per session from text templates and
// applying them through client-go.
package spawner

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"sigs.k8s.io/yaml"

	"go.uber.org/zap"

	"github.com/kandev/dispatchd/internal/common/logger"
)

// WorkerStatus is the spawner's normalized view of an external worker's
// lifecycle. A core Service carries no condition block, so readiness is
// derived from the service's Endpoints: ready addresses mean a running
// backend, not-ready addresses mean the backend is still coming up, and
// an addressless Endpoints object means the backend scaled away.
type WorkerStatus string

const (
	StatusDisabled     WorkerStatus = "disabled"
	StatusPending      WorkerStatus = "pending"
	StatusCreating     WorkerStatus = "creating"
	StatusReady        WorkerStatus = "ready"
	StatusRunning      WorkerStatus = "running"
	StatusScaledToZero WorkerStatus = "scaled_to_zero"
	StatusFailed       WorkerStatus = "failed"
	StatusNotFound     WorkerStatus = "not_found"
)

// ErrClass classifies a spawner failure for the caller's retry policy.
type ErrClass string

const (
	ErrClassConfigMissing ErrClass = "config_missing"  // fatal
	ErrClassRendering     ErrClass = "rendering_error" // fatal
	ErrClassPermission    ErrClass = "api_permission"  // fatal
	ErrClassConflict      ErrClass = "api_conflict"    // recoverable
	ErrClassTransient     ErrClass = "transient"       // retryable
)

// SpawnError carries a classification alongside the underlying cause so
// callers can decide whether to retry, surface a spawn failure, or treat
// the operation as a fatal misconfiguration.
type SpawnError struct {
	Class ErrClass
	Err   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawner: %s: %v", e.Class, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// SpawnResult is returned by CreateSessionWorker.
type SpawnResult struct {
	Disabled    bool
	ServiceName string
	RuleName    string
	ExternalURL string
}

// WorkerSummary describes one session worker for listing.
type WorkerSummary struct {
	SessionID   string
	TenantID    string
	ServiceName string
	Status      WorkerStatus
	CreatedAt   time.Time
}

// Config carries the spawner's feature flag, target namespace, template
// source, and the GroupVersionResource of the routing-rule custom
// resource it manages alongside the typed core Service.
type Config struct {
	Enabled           bool
	Namespace         string
	TemplateConfigMap string
	RuleGVR           schema.GroupVersionResource
	TemplateTTL       time.Duration
}

// DefaultConfig returns conservative defaults; callers still must set
// Enabled explicitly per the documented opt-in default.
func DefaultConfig() Config {
	return Config{
		Namespace:         "default",
		TemplateConfigMap: "dispatchd-session-templates",
		RuleGVR: schema.GroupVersionResource{
			Group: "dispatchd.kandev.io", Version: "v1", Resource: "routingrules",
		},
		TemplateTTL: 5 * time.Minute,
	}
}

const (
	templateKeyService     = "service"
	templateKeyRoutingRule = "routing_rule"
)

const (
	labelManagedBy = "app.kubernetes.io/managed-by"
	labelSession   = "dispatchd.io/session"
	labelTenant    = "dispatchd.io/tenant"
	managedByValue = "dispatchd"
)

const maxNameLength = 63

var dnsLabelRe = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]{0,61}[a-z0-9])?$`)

func validateDNSLabel(s string) error {
	if len(s) == 0 || len(s) > maxNameLength || !dnsLabelRe.MatchString(s) {
		return fmt.Errorf("%q is not a valid DNS label", s)
	}
	return nil
}

// sanitizePlaceholder constrains a substituted value to the DNS-label
// character class before it is spliced into a YAML template; textual
// substitution into YAML is an injection risk otherwise.
func sanitizePlaceholder(name, value string) (string, error) {
	if !dnsLabelRe.MatchString(value) {
		return "", fmt.Errorf("%s value %q is unsafe for template substitution", name, value)
	}
	return value, nil
}

func deterministicName(prefix, sessionID string) string {
	name := fmt.Sprintf("dispatchd-%s-%s", prefix, sessionID)
	if len(name) > maxNameLength {
		name = strings.TrimRight(name[:maxNameLength], "-")
	}
	return name
}

// Spawner reconciles per-session external workers. The service resource
// is a typed corev1.Service applied through the clientset; the
// routing-rule custom resource, whose Go types aren't vendored into this
// module, is managed as unstructured over the dynamic client.
type Spawner struct {
	cfg       Config
	clientset kubernetes.Interface
	dyn       dynamic.Interface
	log       *logger.Logger

	mu          sync.Mutex
	templates   map[string]string
	templatesAt time.Time
}

func New(cfg Config, clientset kubernetes.Interface, dyn dynamic.Interface) *Spawner {
	return &Spawner{
		cfg:       cfg,
		clientset: clientset,
		dyn:       dyn,
		log:       logger.Default().WithFields(zap.String("component", "spawner")),
	}
}

func (s *Spawner) loadTemplates(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.templates != nil && time.Since(s.templatesAt) < s.cfg.TemplateTTL {
		return s.templates, nil
	}

	cm, err := s.clientset.CoreV1().ConfigMaps(s.cfg.Namespace).Get(ctx, s.cfg.TemplateConfigMap, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, &SpawnError{Class: ErrClassConfigMissing, Err: err}
		}
		return nil, classifyAPIError(err)
	}

	s.templates = cm.Data
	s.templatesAt = time.Now()
	return s.templates, nil
}

func classifyAPIError(err error) error {
	switch {
	case apierrors.IsForbidden(err), apierrors.IsUnauthorized(err):
		return &SpawnError{Class: ErrClassPermission, Err: err}
	case apierrors.IsConflict(err), apierrors.IsAlreadyExists(err):
		return &SpawnError{Class: ErrClassConflict, Err: err}
	default:
		return &SpawnError{Class: ErrClassTransient, Err: err}
	}
}

// substitute looks up the named template and splices in the sanitized
// placeholder values. The rendered text is parsed once by the caller and
// never re-serialized.
func (s *Spawner) substitute(tmpls map[string]string, key, sessionID, tenantID, codebaseID string) (string, error) {
	raw, ok := tmpls[key]
	if !ok {
		return "", &SpawnError{Class: ErrClassConfigMissing, Err: fmt.Errorf("template %q not present in configmap %s", key, s.cfg.TemplateConfigMap)}
	}

	sid, err := sanitizePlaceholder("session_id", sessionID)
	if err != nil {
		return "", &SpawnError{Class: ErrClassRendering, Err: err}
	}
	tid := tenantID
	if tid == "" {
		tid = "none"
	}
	tid, err = sanitizePlaceholder("tenant_id", tid)
	if err != nil {
		return "", &SpawnError{Class: ErrClassRendering, Err: err}
	}
	cid := codebaseID
	if cid == "" {
		cid = "global"
	}
	cid, err = sanitizePlaceholder("codebase_id", cid)
	if err != nil {
		return "", &SpawnError{Class: ErrClassRendering, Err: err}
	}

	return strings.NewReplacer(
		"${SESSION_ID}", sid,
		"${TENANT_ID}", tid,
		"${CODEBASE_ID}", cid,
		"${WORKSPACE_PVC}", deterministicName("ws", sessionID),
	).Replace(raw), nil
}

// renderService parses the rendered service template into a typed
// corev1.Service and stamps the managed metadata onto it.
func renderService(rendered, name, namespace string, labels map[string]string) (*corev1.Service, error) {
	var svc corev1.Service
	if err := yaml.Unmarshal([]byte(rendered), &svc); err != nil {
		return nil, &SpawnError{Class: ErrClassRendering, Err: fmt.Errorf("parse rendered service template: %w", err)}
	}
	svc.Name = name
	svc.Namespace = namespace
	if svc.Labels == nil {
		svc.Labels = make(map[string]string, len(labels))
	}
	for k, v := range labels {
		svc.Labels[k] = v
	}
	return &svc, nil
}

// renderRule parses the rendered routing-rule template into an
// unstructured object, merging managed labels with the template's own.
func renderRule(rendered, name, namespace string, labels map[string]string) (*unstructured.Unstructured, error) {
	var obj map[string]interface{}
	if err := yaml.Unmarshal([]byte(rendered), &obj); err != nil {
		return nil, &SpawnError{Class: ErrClassRendering, Err: fmt.Errorf("parse rendered routing_rule template: %w", err)}
	}
	u := &unstructured.Unstructured{Object: obj}
	u.SetName(name)
	u.SetNamespace(namespace)
	merged := u.GetLabels()
	if merged == nil {
		merged = make(map[string]string, len(labels))
	}
	for k, v := range labels {
		merged[k] = v
	}
	u.SetLabels(merged)
	return u, nil
}

func labelsFor(sessionID, tenantID string) map[string]string {
	return map[string]string{
		labelManagedBy: managedByValue,
		labelSession:   sessionID,
		labelTenant:    tenantID,
	}
}

// CreateSessionWorker applies the service and routing-rule resources for
// one session. An AlreadyExists on either is treated as success; a
// failure to create the rule after the service succeeded rolls the
// service back.
func (s *Spawner) CreateSessionWorker(ctx context.Context, sessionID, tenantID, codebaseID string) (*SpawnResult, error) {
	if !s.cfg.Enabled {
		return &SpawnResult{Disabled: true}, nil
	}
	if err := validateDNSLabel(sessionID); err != nil {
		return nil, &SpawnError{Class: ErrClassRendering, Err: err}
	}

	tmpls, err := s.loadTemplates(ctx)
	if err != nil {
		return nil, err
	}

	ns := s.cfg.Namespace
	svcName := deterministicName("svc", sessionID)
	ruleName := deterministicName("rule", sessionID)
	labels := labelsFor(sessionID, tenantID)

	svcRendered, err := s.substitute(tmpls, templateKeyService, sessionID, tenantID, codebaseID)
	if err != nil {
		return nil, err
	}
	desired, err := renderService(svcRendered, svcName, ns, labels)
	if err != nil {
		return nil, err
	}

	services := s.clientset.CoreV1().Services(ns)
	applied, err := services.Create(ctx, desired, metav1.CreateOptions{})
	switch {
	case err == nil:
	case apierrors.IsAlreadyExists(err):
		applied, err = services.Get(ctx, svcName, metav1.GetOptions{})
		if err != nil {
			return nil, classifyAPIError(err)
		}
	default:
		return nil, classifyAPIError(err)
	}

	rollback := func() {
		if delErr := services.Delete(ctx, svcName, metav1.DeleteOptions{}); delErr != nil && !apierrors.IsNotFound(delErr) {
			s.log.Warn("rollback of service after routing-rule failure also failed",
				zap.String("session_id", sessionID), zap.Error(delErr))
		}
	}

	ruleRendered, err := s.substitute(tmpls, templateKeyRoutingRule, sessionID, tenantID, codebaseID)
	if err != nil {
		rollback()
		return nil, err
	}
	rule, err := renderRule(ruleRendered, ruleName, ns, labels)
	if err != nil {
		rollback()
		return nil, err
	}

	ruleRes := s.dyn.Resource(s.cfg.RuleGVR).Namespace(ns)
	if _, err := ruleRes.Create(ctx, rule, metav1.CreateOptions{}); err != nil && !apierrors.IsAlreadyExists(err) {
		rollback()
		return nil, classifyAPIError(err)
	}

	return &SpawnResult{
		ServiceName: svcName,
		RuleName:    ruleName,
		ExternalURL: externalURL(applied),
	}, nil
}

// externalURL resolves the address clients should use: a load-balancer
// ingress when one has been assigned, the cluster-local DNS name
// otherwise.
func externalURL(svc *corev1.Service) string {
	if svc == nil {
		return ""
	}
	for _, ing := range svc.Status.LoadBalancer.Ingress {
		if ing.Hostname != "" {
			return "http://" + ing.Hostname
		}
		if ing.IP != "" {
			return "http://" + ing.IP
		}
	}
	return fmt.Sprintf("http://%s.%s.svc.cluster.local", svc.Name, svc.Namespace)
}

// DeleteSessionWorker best-effort deletes the routing rule then the
// service; a 404 on either is treated as success.
func (s *Spawner) DeleteSessionWorker(ctx context.Context, sessionID string) error {
	if !s.cfg.Enabled {
		return nil
	}
	ns := s.cfg.Namespace
	ruleName := deterministicName("rule", sessionID)
	svcName := deterministicName("svc", sessionID)

	if err := s.dyn.Resource(s.cfg.RuleGVR).Namespace(ns).Delete(ctx, ruleName, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return classifyAPIError(err)
	}
	if err := s.clientset.CoreV1().Services(ns).Delete(ctx, svcName, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return classifyAPIError(err)
	}
	return nil
}

// GetWorkerStatus reports the external worker's lifecycle state for one
// session.
func (s *Spawner) GetWorkerStatus(ctx context.Context, sessionID string) (WorkerStatus, error) {
	if !s.cfg.Enabled {
		return StatusDisabled, nil
	}
	svcName := deterministicName("svc", sessionID)
	if _, err := s.clientset.CoreV1().Services(s.cfg.Namespace).Get(ctx, svcName, metav1.GetOptions{}); err != nil {
		if apierrors.IsNotFound(err) {
			return StatusNotFound, nil
		}
		return "", classifyAPIError(err)
	}
	return s.serviceStatus(ctx, svcName)
}

// serviceStatus derives a worker status from the service's Endpoints.
func (s *Spawner) serviceStatus(ctx context.Context, svcName string) (WorkerStatus, error) {
	eps, err := s.clientset.CoreV1().Endpoints(s.cfg.Namespace).Get(ctx, svcName, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return StatusPending, nil
		}
		return "", classifyAPIError(err)
	}

	var ready, notReady int
	for _, subset := range eps.Subsets {
		ready += len(subset.Addresses)
		notReady += len(subset.NotReadyAddresses)
	}
	switch {
	case ready > 0:
		return StatusReady, nil
	case notReady > 0:
		return StatusCreating, nil
	default:
		return StatusScaledToZero, nil
	}
}

// ListSessionWorkers lists session workers, optionally scoped to a
// tenant, filtered by the managed-by and tenant label selectors.
func (s *Spawner) ListSessionWorkers(ctx context.Context, tenantID string) ([]WorkerSummary, error) {
	if !s.cfg.Enabled {
		return nil, nil
	}

	sel := labelManagedBy + "=" + managedByValue
	if tenantID != "" {
		sel += "," + labelTenant + "=" + tenantID
	}

	list, err := s.clientset.CoreV1().Services(s.cfg.Namespace).List(ctx, metav1.ListOptions{LabelSelector: sel})
	if err != nil {
		return nil, classifyAPIError(err)
	}

	out := make([]WorkerSummary, 0, len(list.Items))
	for i := range list.Items {
		svc := &list.Items[i]
		status, err := s.serviceStatus(ctx, svc.Name)
		if err != nil {
			status = StatusPending
		}
		out = append(out, WorkerSummary{
			SessionID:   svc.Labels[labelSession],
			TenantID:    svc.Labels[labelTenant],
			ServiceName: svc.Name,
			Status:      status,
			CreatedAt:   svc.CreationTimestamp.Time,
		})
	}
	return out, nil
}

// CleanupIdleWorkers deletes every session worker older than maxAge,
// returning the count removed.
func (s *Spawner) CleanupIdleWorkers(ctx context.Context, maxAge time.Duration) (int, error) {
	if !s.cfg.Enabled {
		return 0, nil
	}
	workers, err := s.ListSessionWorkers(ctx, "")
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0
	for _, w := range workers {
		if w.CreatedAt.IsZero() || w.CreatedAt.After(cutoff) {
			continue
		}
		if err := s.DeleteSessionWorker(ctx, w.SessionID); err != nil {
			s.log.Warn("cleanup of idle session worker failed",
				zap.String("session_id", w.SessionID), zap.Error(err))
			continue
		}
		deleted++
	}
	return deleted, nil
}

// Package v1 holds the wire-level types shared between the control plane's
// HTTP surface, its internal components, and connected workers.
package v1

import "time"

// TaskStatus is a task's position in its lifecycle state machine.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskQueued    TaskStatus = "queued"
	TaskAssigned  TaskStatus = "assigned"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether s is a terminal status that never transitions.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// Claimable reports whether a task in status s may still be claimed.
func (s TaskStatus) Claimable() bool {
	return s == TaskPending || s == TaskQueued
}

// DeliveryRoute names which fabric carried a task's availability
// notification. Exactly one route is chosen per task at create time.
type DeliveryRoute string

const (
	RoutePush  DeliveryRoute = "push"
	RouteEvent DeliveryRoute = "event"
	RouteNone  DeliveryRoute = "none"
)

// Complexity is the Router's inferred or overridden complexity band.
type Complexity string

const (
	ComplexityQuick    Complexity = "quick"
	ComplexityStandard Complexity = "standard"
	ComplexityDeep     Complexity = "deep"
)

// ModelTier is the Router's resolved compute tier.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierBalanced ModelTier = "balanced"
	TierHeavy    ModelTier = "heavy"
)

// ModelSource records how a task's resolved model reference was chosen.
type ModelSource string

const (
	ModelSourceExplicit    ModelSource = "explicit"
	ModelSourcePersonality ModelSource = "personality"
	ModelSourceTier        ModelSource = "tier"
	ModelSourceUnresolved  ModelSource = "unresolved"
)

// GlobalCodebase is the sentinel codebase id for unassigned/global work.
const GlobalCodebase = ""

// GlobalCodebaseSentinel is the entry a worker includes in its declared
// codebase set to opt in to global-pool (null-codebase) tasks.
const GlobalCodebaseSentinel = "global"

// Metadata is a tagged union: well-known keys are typed fields, everything
// else is carried opaquely in Extras and preserved end to end.
type Metadata struct {
	Routing           *RoutingMetadata       `json:"routing,omitempty"`
	ModelRef          string                 `json:"model_ref,omitempty"`
	Model             string                 `json:"model,omitempty"`
	TargetAgentName   string                 `json:"target_agent_name,omitempty"`
	WorkerPersonality string                 `json:"worker_personality,omitempty"`
	Complexity        Complexity             `json:"complexity,omitempty"`
	ModelTier         ModelTier              `json:"model_tier,omitempty"`
	TenantID          string                 `json:"tenant_id,omitempty"`
	SessionID         string                 `json:"session_id,omitempty"`
	NotifyEmail       string                 `json:"notify_email,omitempty"`
	Knative           bool                   `json:"knative,omitempty"`
	Extras            map[string]interface{} `json:"extras,omitempty"`
}

// RoutingMetadata is the sub-object the Router writes into a task's
// metadata describing the decision it made.
type RoutingMetadata struct {
	Complexity        Complexity    `json:"complexity"`
	ModelTier         ModelTier     `json:"model_tier"`
	ModelRef          string        `json:"model_ref,omitempty"`
	ModelSource       ModelSource   `json:"model_source"`
	TargetAgentName   string        `json:"target_agent_name,omitempty"`
	WorkerPersonality string        `json:"worker_personality,omitempty"`
	PolicyVersion     string        `json:"policy_version"`
	DeliveryRoute     DeliveryRoute `json:"delivery_route,omitempty"`
}

// Task is the durable representation of one unit of work.
type Task struct {
	ID                   string     `json:"id"`
	TenantID             string     `json:"tenant_id"`
	CodebaseID           string     `json:"codebase_id,omitempty"`
	Title                string     `json:"title"`
	Prompt               string     `json:"prompt"`
	AgentType            string     `json:"agent_type,omitempty"`
	Priority             int        `json:"priority"`
	RequestedModelRef    string     `json:"requested_model_ref,omitempty"`
	ResolvedModelRef     string     `json:"resolved_model_ref,omitempty"`
	TargetAgentName      string     `json:"target_agent_name,omitempty"`
	WorkerPersonality    string     `json:"worker_personality,omitempty"`
	RequiredCapabilities []string   `json:"required_capabilities,omitempty"`
	Status               TaskStatus `json:"status"`
	WorkerID             string     `json:"worker_id,omitempty"`
	SessionID            string     `json:"session_id,omitempty"`
	Result               string     `json:"result,omitempty"`
	Error                string     `json:"error,omitempty"`
	Metadata             Metadata   `json:"metadata"`
	CreatedAt            time.Time  `json:"created_at"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}

// Worker is a connected agent-runtime process. Capabilities, codebases,
// personality, and supported models are self-reported and advisory for
// routing.
type Worker struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	DisplayName     string    `json:"display_name"`
	Personality     string    `json:"personality,omitempty"`
	Capabilities    []string  `json:"capabilities"`
	Codebases       []string  `json:"codebases"`
	SupportedModels []string  `json:"supported_models"`
	Status          string    `json:"status"`
	LastSeen        time.Time `json:"last_seen"`
}

// Codebase is an opaque workspace identifier, usually owned by one worker.
type Codebase struct {
	ID           string `json:"id"`
	TenantID     string `json:"tenant_id"`
	Name         string `json:"name"`
	Path         string `json:"path,omitempty"`
	OwningWorker string `json:"owning_worker_id,omitempty"`
	Status       string `json:"status"`
}

// SessionStatus is a session's lifecycle state.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// Session groups tasks sharing one external per-session worker instance.
type Session struct {
	ID                  string        `json:"id"`
	TenantID            string        `json:"tenant_id"`
	CodebaseID          string        `json:"codebase_id"`
	Status              SessionStatus `json:"status"`
	ExternalServiceName string        `json:"external_service_name,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	EndedAt             *time.Time    `json:"ended_at,omitempty"`
}

// TaskTemplate is the blueprint a cronjob materializes into a task on fire.
type TaskTemplate struct {
	Title     string                 `json:"title"`
	Prompt    string                 `json:"prompt"`
	AgentType string                 `json:"agent_type,omitempty"`
	Priority  int                    `json:"priority,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Cronjob is a persisted schedule that materializes tasks on fire.
type Cronjob struct {
	ID        string       `json:"id"`
	TenantID  string       `json:"tenant_id"`
	CronExpr  string       `json:"cron_expr"`
	Timezone  string       `json:"timezone,omitempty"`
	Enabled   bool         `json:"enabled"`
	Template  TaskTemplate `json:"task_template"`
	CreatedAt time.Time    `json:"created_at"`
}

// RoutingDecision is the Router's pure-function output.
type RoutingDecision struct {
	Complexity           Complexity  `json:"complexity"`
	ModelTier            ModelTier   `json:"model_tier"`
	ModelRef             string      `json:"model_ref,omitempty"`
	ModelSource          ModelSource `json:"model_source"`
	TargetAgentName      string      `json:"target_agent_name,omitempty"`
	WorkerPersonality    string      `json:"worker_personality,omitempty"`
	RequiredCapabilities []string    `json:"required_capabilities,omitempty"`
}

// Event is the outbound envelope posted to the external event bus.
type Event struct {
	SpecVersion string                 `json:"specversion"`
	Type        string                 `json:"type"`
	Source      string                 `json:"source"`
	ID          string                 `json:"id"`
	Time        time.Time              `json:"time"`
	SessionID   string                 `json:"sessionid,omitempty"`
	Data        map[string]interface{} `json:"data"`
}

const (
	EventTaskCreated    = "task.created"
	EventTaskUpdated    = "task.updated"
	EventSessionCreated = "session.created"
	EventSessionEnded   = "session.ended"
)

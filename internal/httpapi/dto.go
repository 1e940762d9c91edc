package httpapi

import v1 "github.com/kandev/dispatchd/pkg/api/v1"

// createTaskRequest is the wire body for POST /v1/tasks.
type createTaskRequest struct {
	CodebaseID           string                 `json:"codebase_id"`
	Title                string                 `json:"title" binding:"required"`
	Prompt               string                 `json:"prompt" binding:"required"`
	AgentType            string                 `json:"agent_type"`
	Files                []string               `json:"files"`
	Priority             int                    `json:"priority"`
	ModelRef             string                 `json:"model_ref"`
	WorkerPersonality    string                 `json:"worker_personality"`
	TargetAgentName      string                 `json:"target_agent_name"`
	RequiredCapabilities []string               `json:"required_capabilities"`
	SessionID            string                 `json:"session_id"`
	Metadata             map[string]interface{} `json:"metadata"`
}

// claimTaskRequest is the wire body for POST /v1/worker/tasks/claim.
type claimTaskRequest struct {
	TaskID   string `json:"task_id" binding:"required"`
	WorkerID string `json:"worker_id" binding:"required"`
}

// releaseTaskRequest is the wire body for POST /v1/worker/tasks/release.
type releaseTaskRequest struct {
	TaskID    string        `json:"task_id" binding:"required"`
	WorkerID  string        `json:"worker_id" binding:"required"`
	Status    v1.TaskStatus `json:"status" binding:"required"`
	Result    string        `json:"result"`
	Error     string        `json:"error"`
	SessionID string        `json:"session_id"`
	ModelUsed string        `json:"model_used"`
}

// updateCodebasesRequest is the wire body for PUT /v1/worker/codebases.
type updateCodebasesRequest struct {
	WorkerID        string   `json:"worker_id" binding:"required"`
	DisplayName     string   `json:"display_name"`
	Personality     string   `json:"personality"`
	Capabilities    []string `json:"capabilities"`
	Codebases       []string `json:"codebases"`
	SupportedModels []string `json:"supported_models"`
}

// heartbeatRequest is the wire body for POST /v1/worker/heartbeat.
type heartbeatRequest struct {
	WorkerID string `json:"worker_id" binding:"required"`
}

// upsertCodebaseRequest is the wire body for PUT /v1/codebases.
type upsertCodebaseRequest struct {
	ID             string `json:"id" binding:"required"`
	Name           string `json:"name" binding:"required"`
	Path           string `json:"path"`
	OwningWorkerID string `json:"owning_worker_id"`
	Status         string `json:"status"`
}

// createSessionRequest is the wire body for POST /v1/sessions.
type createSessionRequest struct {
	CodebaseID string `json:"codebase_id"`
}

// createCronjobRequest is the wire body for POST /v1/cronjobs.
type createCronjobRequest struct {
	CronExpr string          `json:"cron_expr" binding:"required"`
	Timezone string          `json:"timezone"`
	Enabled  bool            `json:"enabled"`
	Template v1.TaskTemplate `json:"task_template" binding:"required"`
}

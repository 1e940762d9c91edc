package v1

// Stream event names written over a worker's push channel.
const (
	StreamConnected     = "connected"
	StreamHeartbeat     = "heartbeat"
	StreamTaskAvailable = "task_available"
	StreamTaskClaimed   = "task_claimed"
	StreamTaskInterrupt = "task_interrupt"
)

// ConnectedEvent is the first frame written on a newly opened stream,
// carrying the logical channel id assigned to the connection.
type ConnectedEvent struct {
	WorkerID  string `json:"worker_id"`
	ChannelID string `json:"channel_id"`
}

// HeartbeatEvent is the periodic keep-alive frame.
type HeartbeatEvent struct {
	Time int64 `json:"ts"`
}

// TaskAvailableEvent is the minimal routing tuple advertised when a task
// becomes claimable. It deliberately excludes the prompt; the worker
// pulls the full task via a claim request.
type TaskAvailableEvent struct {
	TaskID               string   `json:"task_id"`
	CodebaseID           string   `json:"codebase_id,omitempty"`
	Title                string   `json:"title"`
	Priority             int      `json:"priority"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	TargetAgentName      string   `json:"target_agent_name,omitempty"`
	WorkerPersonality    string   `json:"worker_personality,omitempty"`
	ModelRef             string   `json:"model_ref,omitempty"`
}

// TaskClaimedEvent informs other connected workers a task is no longer
// available.
type TaskClaimedEvent struct {
	TaskID   string `json:"task_id"`
	WorkerID string `json:"worker_id"`
}

// TaskInterruptEvent is the advisory cancel routed to the worker holding
// a claimed task.
type TaskInterruptEvent struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason,omitempty"`
}

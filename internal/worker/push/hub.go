// Package push implements the Push Fabric: one long-lived server-sent
// response per connected worker, over which the control plane advertises
// newly available tasks, advisory interrupts, and periodic heartbeats.
package push

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/dispatchd/internal/common/logger"
	v1 "github.com/kandev/dispatchd/pkg/api/v1"
)

// frame is one server-sent-events text frame: "event: <name>\ndata: <json>\n\n".
type frame struct {
	event string
	data  []byte
}

func encodeFrame(event string, payload interface{}) (frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return frame{}, err
	}
	return frame{event: event, data: data}, nil
}

func (f frame) WriteTo(buf *bytes.Buffer) {
	buf.WriteString("event: ")
	buf.WriteString(f.event)
	buf.WriteString("\ndata: ")
	buf.Write(f.data)
	buf.WriteString("\n\n")
}

// channel is one worker's outbound stream state: a bounded buffer drained
// by a single writer goroutine, so fan-out from request-handling
// goroutines is always a non-blocking send.
type channel struct {
	id          string
	workerID    string
	tenantID    string
	codebases   map[string]bool
	caps        map[string]bool
	targetName  string
	personality string

	out      chan frame
	done     chan struct{}
	lastSeen time.Time

	mu      sync.Mutex
	dropped int // count of dropped task_available frames, backpressure metric
}

const defaultChannelBufferSize = 64

func newChannel(tenantID, workerID string, codebases, caps []string, targetName, personality string, bufferSize int) *channel {
	if bufferSize <= 0 {
		bufferSize = defaultChannelBufferSize
	}
	cbSet := make(map[string]bool, len(codebases))
	for _, c := range codebases {
		cbSet[c] = true
	}
	capSet := make(map[string]bool, len(caps))
	for _, c := range caps {
		capSet[c] = true
	}
	return &channel{
		id:          uuid.NewString(),
		workerID:    workerID,
		tenantID:    tenantID,
		codebases:   cbSet,
		caps:        capSet,
		targetName:  targetName,
		personality: personality,
		out:         make(chan frame, bufferSize),
		done:        make(chan struct{}),
		lastSeen:    time.Now(),
	}
}

// send enqueues a frame without blocking for long. If the buffer is full
// and f is a task_available frame, the oldest queued frame is dropped to
// make room and the drop is counted; that frame may be of any kind,
// including a heartbeat. Any other frame waits up to 50ms for room and is
// discarded, uncounted, if none frees up.
func (c *channel) send(f frame) {
	select {
	case c.out <- f:
		return
	default:
	}

	if f.event != v1.StreamTaskAvailable {
		// Buffer briefly; control frames are rare and small.
		select {
		case c.out <- f:
		case <-time.After(50 * time.Millisecond):
		}
		return
	}

	c.mu.Lock()
	c.dropped++
	c.mu.Unlock()

	select {
	case <-c.out:
	default:
	}
	select {
	case c.out <- f:
	default:
	}
}

func (c *channel) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *channel) idleSince() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastSeen)
}

// EligibilityFilter decides whether a task is routable to a channel
// matching the worker's declared codebases/capabilities/target
// name/personality.
type EligibilityFilter struct {
	CodebaseID           string
	RequiredCapabilities []string
	TargetAgentName      string
	WorkerPersonality    string
}

func (c *channel) matches(f EligibilityFilter) bool {
	if f.CodebaseID == v1.GlobalCodebase {
		if !c.codebases[v1.GlobalCodebaseSentinel] {
			return false
		}
	} else if !c.codebases[f.CodebaseID] {
		return false
	}
	if f.TargetAgentName != "" && f.TargetAgentName != c.targetName {
		return false
	}
	if f.WorkerPersonality != "" && f.WorkerPersonality != c.personality {
		return false
	}
	for _, required := range f.RequiredCapabilities {
		if !c.caps[required] {
			return false
		}
	}
	return true
}

// Hub is the Push Fabric: a registry of per-worker channels plus the
// heartbeat and liveness-sweep loops, serving one-directional SSE
// framing.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]*channel

	heartbeatInterval time.Duration
	livenessTimeout   time.Duration
	bufferSize        int

	log *logger.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewHub(heartbeatInterval, livenessTimeout time.Duration, bufferSize int) *Hub {
	return &Hub{
		channels:          make(map[string]*channel),
		heartbeatInterval: heartbeatInterval,
		livenessTimeout:   livenessTimeout,
		bufferSize:        bufferSize,
		log:               logger.Default().WithFields(zap.String("component", "push-fabric")),
		stopCh:            make(chan struct{}),
	}
}

// Connect registers a new worker channel, replacing any previous channel
// for the same worker id, and enqueues the initial connected frame.
func (h *Hub) Connect(tenantID, workerID string, codebases, capabilities []string, targetName, personality string) *channel {
	ch := newChannel(tenantID, workerID, codebases, capabilities, targetName, personality, h.bufferSize)

	h.mu.Lock()
	if old, ok := h.channels[workerID]; ok {
		close(old.done)
	}
	h.channels[workerID] = ch
	h.mu.Unlock()

	connected, _ := encodeFrame(v1.StreamConnected, v1.ConnectedEvent{WorkerID: workerID, ChannelID: ch.id})
	ch.send(connected)
	return ch
}

// Disconnect unregisters a worker's channel, e.g. on socket close.
func (h *Hub) Disconnect(workerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.channels[workerID]; ok {
		close(ch.done)
		delete(h.channels, workerID)
	}
}

// Heartbeat acknowledges liveness for workerID, e.g. from a separate
// short-lived heartbeat-ack request per the connection protocol.
func (h *Hub) Heartbeat(workerID string) {
	h.mu.RLock()
	ch, ok := h.channels[workerID]
	h.mu.RUnlock()
	if ok {
		ch.touch()
	}
}

// HasEligibleWorker implements the Task Queue's PushNotifier eligibility
// check by scanning connected channels.
func (h *Hub) HasEligibleWorker(codebaseID string, requiredCapabilities []string, targetAgentName, personality string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	filter := EligibilityFilter{
		CodebaseID:           codebaseID,
		RequiredCapabilities: requiredCapabilities,
		TargetAgentName:      targetAgentName,
		WorkerPersonality:    personality,
	}
	for _, ch := range h.channels {
		if ch.matches(filter) {
			return true
		}
	}
	return false
}

// NotifyTaskAvailable fans a task_available frame out to every eligible
// channel; a non-blocking send per channel. The frame carries the minimal
// routing tuple, never the prompt.
func (h *Hub) NotifyTaskAvailable(task *v1.Task) {
	f, err := encodeFrame(v1.StreamTaskAvailable, v1.TaskAvailableEvent{
		TaskID:               task.ID,
		CodebaseID:           task.CodebaseID,
		Title:                task.Title,
		Priority:             task.Priority,
		RequiredCapabilities: task.RequiredCapabilities,
		TargetAgentName:      task.TargetAgentName,
		WorkerPersonality:    task.WorkerPersonality,
		ModelRef:             task.ResolvedModelRef,
	})
	if err != nil {
		return
	}
	filter := EligibilityFilter{
		CodebaseID:           task.CodebaseID,
		RequiredCapabilities: task.RequiredCapabilities,
		TargetAgentName:      task.TargetAgentName,
		WorkerPersonality:    task.WorkerPersonality,
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.channels {
		if ch.matches(filter) {
			ch.send(f)
		}
	}
}

// NotifyInterrupt routes an advisory interrupt to the worker currently
// holding the task's claim.
func (h *Hub) NotifyInterrupt(task *v1.Task) {
	if task.WorkerID == "" {
		return
	}
	h.mu.RLock()
	ch, ok := h.channels[task.WorkerID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	f, err := encodeFrame(v1.StreamTaskInterrupt, v1.TaskInterruptEvent{TaskID: task.ID, Reason: "cancel requested"})
	if err != nil {
		return
	}
	ch.send(f)
}

// NotifyClaimed informs connected channels a task was claimed, so other
// workers drop it from their "available" view.
func (h *Hub) NotifyClaimed(task *v1.Task) {
	f, err := encodeFrame(v1.StreamTaskClaimed, v1.TaskClaimedEvent{TaskID: task.ID, WorkerID: task.WorkerID})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.channels {
		ch.send(f)
	}
}

// Start launches the heartbeat and liveness-sweep background loops.
func (h *Hub) Start() {
	h.wg.Add(2)
	go h.heartbeatLoop()
	go h.sweepLoop()
}

func (h *Hub) Stop() {
	close(h.stopCh)
	h.wg.Wait()
}

func (h *Hub) heartbeatLoop() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case now := <-ticker.C:
			hb, _ := encodeFrame(v1.StreamHeartbeat, v1.HeartbeatEvent{Time: now.Unix()})
			h.mu.RLock()
			for _, ch := range h.channels {
				ch.send(hb)
			}
			h.mu.RUnlock()
		}
	}
}

// sweepLoop closes channels whose worker has gone silent past the
// liveness timeout.
func (h *Hub) sweepLoop() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.livenessTimeout / 3)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.sweepStale()
		}
	}
}

func (h *Hub) sweepStale() {
	var stale []string
	h.mu.RLock()
	for id, ch := range h.channels {
		if ch.idleSince() > h.livenessTimeout {
			stale = append(stale, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range stale {
		h.log.Warn("worker channel liveness timeout, closing", zap.String("worker_id", id))
		h.Disconnect(id)
	}
}

// Stream returns the channel's outbound frame stream and done signal for
// the HTTP handler's write loop to drain.
func (c *channel) Stream() (<-chan frame, <-chan struct{}) {
	return c.out, c.done
}

// Frame exposes the read side for the HTTP layer without leaking the
// unexported frame type's construction.
type Frame = frame

// WorkerID returns the channel's owning worker id.
func (c *channel) WorkerID() string { return c.workerID }

// Channel is the exported handle the HTTP layer holds for one connection.
type Channel = channel

// DroppedCount reports the backpressure drop counter for tests/metrics.
func (c *channel) DroppedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

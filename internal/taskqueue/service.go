package taskqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kandev/dispatchd/internal/common/apperrors"
	"github.com/kandev/dispatchd/internal/common/logger"
	"github.com/kandev/dispatchd/internal/router"
	"github.com/kandev/dispatchd/internal/store"
	v1 "github.com/kandev/dispatchd/pkg/api/v1"
)

// PushNotifier is the Task Queue's view of the Push Fabric: it can report
// whether a worker is currently eligible to receive a given task, and
// fan-out the two event kinds the queue emits over the stream.
type PushNotifier interface {
	HasEligibleWorker(codebaseID string, requiredCapabilities []string, targetAgentName, personality string) bool
	NotifyTaskAvailable(task *v1.Task)
	NotifyInterrupt(task *v1.Task)
	NotifyClaimed(task *v1.Task)
}

// EventPublisher is the Task Queue's view of the Event Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, evt v1.Event) error
}

const pendingRegistrationSentinel = "pending-registration"

// CreateRequest is the validated input to Service.Create.
type CreateRequest struct {
	CodebaseID           string
	Title                string
	Prompt               string
	AgentType            string
	Files                []string
	Priority             int
	ModelRef             string
	WorkerPersonality    string
	TargetAgentName      string
	RequiredCapabilities []string
	SessionID            string
	Metadata             map[string]interface{}
}

// Service orchestrates the Task Queue's operations: materializing tasks,
// fanning out notifications, and arbitrating single-delivery via the
// Store's conditional claim.
type Service struct {
	store     store.Store
	routerCfg router.Config
	push      PushNotifier
	events    EventPublisher
	eventsOn  bool
	log       *logger.Logger

	mu    sync.Mutex
	heaps map[string]*Heap // codebase id -> heap; "" is the global pool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewService(st store.Store, cfg router.Config, push PushNotifier, events EventPublisher, eventsOn bool) *Service {
	return &Service{
		store:     st,
		routerCfg: cfg,
		push:      push,
		events:    events,
		eventsOn:  eventsOn,
		log:       logger.Default(),
		heaps:     make(map[string]*Heap),
		stopCh:    make(chan struct{}),
	}
}

func (s *Service) heapFor(codebaseID string) *Heap {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.heaps[codebaseID]
	if !ok {
		h = NewHeap()
		s.heaps[codebaseID] = h
	}
	return h
}

// Create validates the codebase reference, runs the Router, persists the
// task, and, after the durable commit, notifies via exactly one delivery
// route, recording the choice in metadata.
func (s *Service) Create(ctx context.Context, tenantID string, req CreateRequest) (*v1.Task, error) {
	if req.Title == "" || req.Prompt == "" {
		return nil, apperrors.BadRequest("title and prompt are required")
	}

	if req.CodebaseID != "" && req.CodebaseID != pendingRegistrationSentinel {
		if _, err := s.store.GetCodebase(ctx, tenantID, req.CodebaseID); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeNotFound, "unknown codebase", err)
		}
	}

	in := router.Input{
		Prompt:               req.Prompt,
		AgentType:            req.AgentType,
		Files:                req.Files,
		WorkerPersonality:    req.WorkerPersonality,
		TargetAgentName:      req.TargetAgentName,
		ModelRef:             req.ModelRef,
		RequiredCapabilities: req.RequiredCapabilities,
		Metadata:             req.Metadata,
	}
	decision, meta := router.Route(in, s.routerCfg)
	meta.TenantID = tenantID
	meta.SessionID = req.SessionID

	task := &v1.Task{
		ID:                   uuid.NewString(),
		TenantID:             tenantID,
		CodebaseID:           req.CodebaseID,
		Title:                req.Title,
		Prompt:               req.Prompt,
		AgentType:            req.AgentType,
		Priority:             req.Priority,
		RequestedModelRef:    req.ModelRef,
		ResolvedModelRef:     decision.ModelRef,
		TargetAgentName:      decision.TargetAgentName,
		WorkerPersonality:    decision.WorkerPersonality,
		RequiredCapabilities: decision.RequiredCapabilities,
		Status:               v1.TaskPending,
		SessionID:            req.SessionID,
		Metadata:             meta,
		CreatedAt:            time.Now(),
	}

	route := s.chooseDeliveryRoute(task)
	task.Metadata.Routing.DeliveryRoute = route

	if err := s.store.UpsertTask(ctx, tenantID, task); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to persist task", err)
	}

	s.notify(ctx, task, route)
	return task, nil
}

// chooseDeliveryRoute picks exactly one route per task at create time:
// knative-tagged tasks go to the event bus outright when the event
// feature is enabled, push when an
// eligible worker is already connected, event bus when the feature is
// enabled and no worker is connected (the per-session dynamic worker
// case), otherwise none.
func (s *Service) chooseDeliveryRoute(task *v1.Task) v1.DeliveryRoute {
	if task.Metadata.Knative && s.eventsOn {
		return v1.RouteEvent
	}
	if s.push != nil && s.push.HasEligibleWorker(task.CodebaseID, task.RequiredCapabilities, task.TargetAgentName, task.WorkerPersonality) {
		return v1.RoutePush
	}
	if s.eventsOn {
		return v1.RouteEvent
	}
	return v1.RouteNone
}

func (s *Service) notify(ctx context.Context, task *v1.Task, route v1.DeliveryRoute) {
	switch route {
	case v1.RoutePush:
		s.heapFor(task.CodebaseID).Enqueue(queuedTaskFrom(task)) //nolint:errcheck // best-effort cache
		if s.push != nil {
			s.push.NotifyTaskAvailable(task)
		}
	case v1.RouteEvent:
		if s.events == nil {
			return
		}
		err := s.events.Publish(ctx, v1.Event{
			SpecVersion: "1.0",
			Type:        v1.EventTaskCreated,
			Source:      "dispatchd/taskqueue",
			ID:          uuid.NewString(),
			Time:        time.Now(),
			SessionID:   task.SessionID,
			Data:        map[string]interface{}{"task_id": task.ID, "codebase_id": task.CodebaseID},
		})
		if err != nil {
			// The event bus was this task's sole delivery route; no
			// worker will ever hear about it, so the failure becomes the
			// task's terminal state.
			s.log.WithTaskID(task.ID).WithError(err).Error("event delivery route failed, failing task")
			task.Status = v1.TaskFailed
			task.Error = "event delivery failed: " + err.Error()
			now := time.Now()
			task.CompletedAt = &now
			if persistErr := s.store.UpsertTask(ctx, task.TenantID, task); persistErr != nil {
				s.log.WithTaskID(task.ID).WithError(persistErr).Error("failed to persist event-delivery failure")
			}
		}
	}
}

// Claim arbitrates single-delivery via the Store's one conditional write.
func (s *Service) Claim(ctx context.Context, tenantID, taskID, workerID string) (*v1.Task, error) {
	result, task, err := s.store.ClaimTask(ctx, tenantID, taskID, workerID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "claim failed", err)
	}
	switch result {
	case store.ClaimSucceeded:
		s.heapFor(task.CodebaseID).Remove(taskID)
		if s.push != nil {
			s.push.NotifyClaimed(task)
		}
		return task, nil
	case store.ClaimAlreadyClaimed:
		return nil, apperrors.Conflict("already_claimed")
	default:
		return nil, apperrors.NotFound("task not found")
	}
}

// ReleaseRequest is a worker's status report for a claimed task.
type ReleaseRequest struct {
	TaskID    string
	WorkerID  string
	Status    v1.TaskStatus
	Result    string
	Error     string
	SessionID string // optional, attached on a RUNNING report
	ModelUsed string // optional, the model the worker actually ran
}

// Release records a worker-reported status transition.
func (s *Service) Release(ctx context.Context, tenantID string, req ReleaseRequest) error {
	status := req.Status
	if status != v1.TaskCompleted && status != v1.TaskFailed && status != v1.TaskCancelled && status != v1.TaskRunning {
		return apperrors.BadRequest("invalid release status")
	}
	if err := s.store.ReleaseTask(ctx, tenantID, req.TaskID, req.WorkerID, status, req.Result, req.Error); err != nil {
		return err
	}

	// A RUNNING report may attach the session the worker bound the task
	// to, and the model it actually chose when routing left it open.
	if status == v1.TaskRunning && (req.SessionID != "" || req.ModelUsed != "") {
		task, err := s.store.GetTask(ctx, tenantID, req.TaskID)
		if err == nil {
			changed := false
			if req.SessionID != "" && task.SessionID == "" {
				task.SessionID = req.SessionID
				changed = true
			}
			if req.ModelUsed != "" && task.ResolvedModelRef == "" {
				task.ResolvedModelRef = req.ModelUsed
				changed = true
			}
			if changed {
				if err := s.store.UpsertTask(ctx, tenantID, task); err != nil {
					s.log.WithTaskID(req.TaskID).WithError(err).Warn("failed to attach running-report details")
				}
			}
		}
	}

	if status.Terminal() && s.events != nil {
		_ = s.events.Publish(ctx, v1.Event{
			SpecVersion: "1.0",
			Type:        v1.EventTaskUpdated,
			Source:      "dispatchd/taskqueue",
			ID:          uuid.NewString(),
			Time:        time.Now(),
			Data:        map[string]interface{}{"task_id": req.TaskID, "status": status, "worker_id": req.WorkerID},
		})
	}
	return nil
}

// Cancel cancels a pre-claim task, or routes an advisory interrupt to the
// owning worker if the task has already been claimed.
func (s *Service) Cancel(ctx context.Context, tenantID, taskID string) error {
	task, err := s.store.GetTask(ctx, tenantID, taskID)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return apperrors.Conflict("task already terminal")
	}
	if task.Status.Claimable() {
		if err := s.store.CancelTask(ctx, tenantID, taskID); err != nil {
			return err
		}
		s.heapFor(task.CodebaseID).Remove(taskID)
		return nil
	}
	if s.push != nil {
		s.push.NotifyInterrupt(task)
	}
	return nil
}

// EndSession transitions every non-terminal task of the session to
// cancelled and publishes session.ended.
func (s *Service) EndSession(ctx context.Context, tenantID, sessionID string) ([]*v1.Task, error) {
	cancelled, err := s.store.EndSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	for _, t := range cancelled {
		s.heapFor(t.CodebaseID).Remove(t.ID)
	}
	if s.events != nil {
		_ = s.events.Publish(ctx, v1.Event{
			SpecVersion: "1.0",
			Type:        v1.EventSessionEnded,
			Source:      "dispatchd/taskqueue",
			ID:          uuid.NewString(),
			Time:        time.Now(),
			SessionID:   sessionID,
			Data:        map[string]interface{}{"session_id": sessionID, "cancelled_count": len(cancelled)},
		})
	}
	return cancelled, nil
}

// Reap is the Worker Registry's liveness-recovery callback: it resets an
// abandoned claim back to pending and re-advertises the task.
func (s *Service) Reap(ctx context.Context, tenantID, taskID string) error {
	if err := s.store.ReapTask(ctx, tenantID, taskID); err != nil {
		return err
	}
	task, err := s.store.GetTask(ctx, tenantID, taskID)
	if err != nil {
		return err
	}
	route := s.chooseDeliveryRoute(task)
	s.notify(ctx, task, route)
	return nil
}

func (s *Service) List(ctx context.Context, tenantID string, filter store.TaskFilter) ([]*v1.Task, error) {
	return s.store.ListTasks(ctx, tenantID, filter)
}

func (s *Service) Get(ctx context.Context, tenantID, taskID string) (*v1.Task, error) {
	return s.store.GetTask(ctx, tenantID, taskID)
}

package httpapi

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kandev/dispatchd/internal/common/apperrors"
	v1 "github.com/kandev/dispatchd/pkg/api/v1"
)

// streamTasks handles GET /v1/worker/tasks/stream: it registers a push
// channel for the declared worker and drains it as a server-sent-events
// response for the lifetime of the connection.
func (s *Server) streamTasks(c *gin.Context) {
	workerID := c.GetHeader("worker_id")
	if workerID == "" {
		writeError(c, apperrors.BadRequest("worker_id header is required"))
		return
	}
	displayName := c.GetHeader("worker_name")
	personality := c.GetHeader("worker_personality")
	codebases := splitHeaderList(c.GetHeader("codebases"))
	caps := splitHeaderList(c.GetHeader("capabilities"))

	s.registry.Register(tenantID(c), v1.Worker{
		ID:           workerID,
		TenantID:     tenantID(c),
		DisplayName:  displayName,
		Personality:  personality,
		Capabilities: caps,
		Codebases:    codebases,
		Status:       "connected",
	})

	ch := s.hub.Connect(tenantID(c), workerID, codebases, caps, displayName, personality)
	frames, done := ch.Stream()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			s.hub.Disconnect(workerID)
			return false
		case <-done:
			return false
		case f, ok := <-frames:
			if !ok {
				return false
			}
			var buf bytes.Buffer
			f.WriteTo(&buf)
			_, _ = w.Write(buf.Bytes())
			return true
		}
	})
}

func splitHeaderList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// updateWorkerCodebases handles PUT /v1/worker/codebases: a worker's
// periodic re-declaration of what it owns and can run.
func (s *Server) updateWorkerCodebases(c *gin.Context) {
	var req updateCodebasesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.BadRequest(err.Error()))
		return
	}

	s.registry.Register(tenantID(c), v1.Worker{
		ID:              req.WorkerID,
		TenantID:        tenantID(c),
		DisplayName:     req.DisplayName,
		Personality:     req.Personality,
		Capabilities:    req.Capabilities,
		Codebases:       req.Codebases,
		SupportedModels: req.SupportedModels,
		Status:          "connected",
	})
	c.Status(http.StatusNoContent)
}

// workerHeartbeat handles POST /v1/worker/heartbeat: the short-lived
// liveness ack that keeps both the push channel and the registry entry
// from being reaped, persisted best-effort as the worker's last-seen.
func (s *Server) workerHeartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.BadRequest(err.Error()))
		return
	}

	if !s.registry.Heartbeat(req.WorkerID) {
		writeError(c, apperrors.NotFound("worker is not connected"))
		return
	}
	s.hub.Heartbeat(req.WorkerID)
	if err := s.store.SetWorkerLiveness(c.Request.Context(), tenantID(c), req.WorkerID, time.Now()); err != nil {
		s.log.WithWorkerID(req.WorkerID).WithError(err).Warn("failed to persist worker liveness")
	}
	c.Status(http.StatusNoContent)
}

// listWorkers handles GET /v1/workers: the tenant's currently connected
// workers as the registry sees them.
func (s *Server) listWorkers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workers": s.registry.List(tenantID(c))})
}

// getWorkerConfig handles GET /v1/worker/config: the model-resolver
// settings a worker needs for its own subcall resolution.
func (s *Server) getWorkerConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.workerConfig)
}

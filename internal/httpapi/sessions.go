package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/dispatchd/internal/common/apperrors"
	v1 "github.com/kandev/dispatchd/pkg/api/v1"
)

// createSession handles POST /v1/sessions: it persists the session and,
// when the spawner is enabled, reconciles its per-session external
// worker before responding.
func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.BadRequest(err.Error()))
		return
	}

	if req.CodebaseID != "" {
		existing, err := s.store.GetActiveSessionForCodebase(c.Request.Context(), tenantID(c), req.CodebaseID)
		if err == nil && existing != nil {
			writeError(c, apperrors.Conflict("codebase already has an active session"))
			return
		}
		if err != nil && !apperrors.IsNotFound(err) {
			writeError(c, apperrors.Wrap(apperrors.CodeInternal, "failed to check active sessions", err))
			return
		}
	}

	session := &v1.Session{
		ID:         uuid.NewString(),
		TenantID:   tenantID(c),
		CodebaseID: req.CodebaseID,
		Status:     v1.SessionActive,
		CreatedAt:  time.Now(),
	}

	if s.spawner != nil {
		result, err := s.spawner.CreateSessionWorker(c.Request.Context(), session.ID, session.TenantID, session.CodebaseID)
		if err != nil {
			writeError(c, translateSpawnError(err))
			return
		}
		if !result.Disabled {
			session.ExternalServiceName = result.ServiceName
		}
	}

	if err := s.store.UpsertSession(c.Request.Context(), tenantID(c), session); err != nil {
		writeError(c, apperrors.Wrap(apperrors.CodeInternal, "failed to persist session", err))
		return
	}
	c.JSON(http.StatusCreated, session)
}

// getSession handles GET /v1/sessions/:id, including the external
// worker's normalized status when the spawner is enabled.
func (s *Server) getSession(c *gin.Context) {
	session, err := s.store.GetSession(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{"session": session}
	if s.spawner != nil {
		status, err := s.spawner.GetWorkerStatus(c.Request.Context(), session.ID)
		if err != nil {
			s.log.WithError(err).Warn("failed to read session worker status",
				zap.String("session_id", session.ID))
		} else {
			resp["worker_status"] = status
		}
	}
	c.JSON(http.StatusOK, resp)
}

// endSession handles POST /v1/sessions/:id/end: it cancels every
// non-terminal task bound to the session and tears down its external
// worker, if any.
func (s *Server) endSession(c *gin.Context) {
	sessionID := c.Param("id")

	cancelled, err := s.queue.EndSession(c.Request.Context(), tenantID(c), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}

	if s.spawner != nil {
		if err := s.spawner.DeleteSessionWorker(c.Request.Context(), sessionID); err != nil {
			s.log.Warn("failed to tear down session worker", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"cancelled_tasks": len(cancelled)})
}

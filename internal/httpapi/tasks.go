package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kandev/dispatchd/internal/common/apperrors"
	"github.com/kandev/dispatchd/internal/store"
	"github.com/kandev/dispatchd/internal/taskqueue"
	v1 "github.com/kandev/dispatchd/pkg/api/v1"
)

// createTask handles POST /v1/tasks.
func (s *Server) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.BadRequest(err.Error()))
		return
	}

	task, err := s.queue.Create(c.Request.Context(), tenantID(c), taskqueue.CreateRequest{
		CodebaseID:           req.CodebaseID,
		Title:                req.Title,
		Prompt:               req.Prompt,
		AgentType:            req.AgentType,
		Files:                req.Files,
		Priority:             req.Priority,
		ModelRef:             req.ModelRef,
		WorkerPersonality:    req.WorkerPersonality,
		TargetAgentName:      req.TargetAgentName,
		RequiredCapabilities: req.RequiredCapabilities,
		SessionID:            req.SessionID,
		Metadata:             req.Metadata,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

// listTasks handles GET /v1/tasks, filtered by optional query params.
func (s *Server) listTasks(c *gin.Context) {
	filter := store.TaskFilter{
		CodebaseID: c.Query("codebase_id"),
		SessionID:  c.Query("session_id"),
	}
	if statusParam := c.Query("status"); statusParam != "" {
		filter.Status = v1.TaskStatus(statusParam)
	}
	if limitParam := c.Query("limit"); limitParam != "" {
		if limit, err := strconv.Atoi(limitParam); err == nil {
			filter.Limit = limit
		}
	}

	tasks, err := s.queue.List(c.Request.Context(), tenantID(c), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// getTask handles GET /v1/tasks/:id.
func (s *Server) getTask(c *gin.Context) {
	task, err := s.queue.Get(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// cancelTask handles POST /v1/tasks/:id/cancel.
func (s *Server) cancelTask(c *gin.Context) {
	if err := s.queue.Cancel(c.Request.Context(), tenantID(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// claimTask handles POST /v1/worker/tasks/claim.
func (s *Server) claimTask(c *gin.Context) {
	var req claimTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.BadRequest(err.Error()))
		return
	}
	task, err := s.queue.Claim(c.Request.Context(), tenantID(c), req.TaskID, req.WorkerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// releaseTask handles POST /v1/worker/tasks/release.
func (s *Server) releaseTask(c *gin.Context) {
	var req releaseTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.BadRequest(err.Error()))
		return
	}
	if err := s.queue.Release(c.Request.Context(), tenantID(c), taskqueue.ReleaseRequest{
		TaskID:    req.TaskID,
		WorkerID:  req.WorkerID,
		Status:    req.Status,
		Result:    req.Result,
		Error:     req.Error,
		SessionID: req.SessionID,
		ModelUsed: req.ModelUsed,
	}); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kandev/dispatchd/internal/common/apperrors"
	v1 "github.com/kandev/dispatchd/pkg/api/v1"
)

// upsertCodebase handles PUT /v1/codebases: registering or updating a
// workspace a worker intends to serve.
func (s *Server) upsertCodebase(c *gin.Context) {
	var req upsertCodebaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.BadRequest(err.Error()))
		return
	}
	if tenantID(c) == "" {
		writeError(c, apperrors.BadRequest("tenant header is required"))
		return
	}

	status := req.Status
	if status == "" {
		status = "active"
	}
	cb := &v1.Codebase{
		ID:           req.ID,
		TenantID:     tenantID(c),
		Name:         req.Name,
		Path:         req.Path,
		OwningWorker: req.OwningWorkerID,
		Status:       status,
	}
	if err := s.store.UpsertCodebase(c.Request.Context(), tenantID(c), cb); err != nil {
		writeError(c, apperrors.Wrap(apperrors.CodeInternal, "failed to persist codebase", err))
		return
	}
	c.JSON(http.StatusOK, cb)
}

// listCodebases handles GET /v1/codebases.
func (s *Server) listCodebases(c *gin.Context) {
	codebases, err := s.store.ListCodebases(c.Request.Context(), tenantID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"codebases": codebases})
}

// deleteCodebase handles DELETE /v1/codebases/:id.
func (s *Server) deleteCodebase(c *gin.Context) {
	if err := s.store.DeleteCodebase(c.Request.Context(), tenantID(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

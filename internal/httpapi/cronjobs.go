package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kandev/dispatchd/internal/common/apperrors"
	v1 "github.com/kandev/dispatchd/pkg/api/v1"
)

// createCronjob handles POST /v1/cronjobs.
func (s *Server) createCronjob(c *gin.Context) {
	var req createCronjobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.BadRequest(err.Error()))
		return
	}

	job := &v1.Cronjob{
		ID:        uuid.NewString(),
		TenantID:  tenantID(c),
		CronExpr:  req.CronExpr,
		Timezone:  req.Timezone,
		Enabled:   req.Enabled,
		Template:  req.Template,
		CreatedAt: time.Now(),
	}

	if err := s.store.UpsertCronjob(c.Request.Context(), tenantID(c), job); err != nil {
		writeError(c, apperrors.Wrap(apperrors.CodeInternal, "failed to persist cronjob", err))
		return
	}
	if s.cron != nil {
		if err := s.cron.ReconcileCronjob(c.Request.Context(), job); err != nil {
			writeError(c, apperrors.Wrap(apperrors.CodeUpstreamUnavail, "failed to reconcile cronjob", err))
			return
		}
	}
	c.JSON(http.StatusCreated, job)
}

// listCronjobs handles GET /v1/cronjobs.
func (s *Server) listCronjobs(c *gin.Context) {
	jobs, err := s.store.ListCronjobs(c.Request.Context(), tenantID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cronjobs": jobs})
}

// deleteCronjob handles DELETE /v1/cronjobs/:id.
func (s *Server) deleteCronjob(c *gin.Context) {
	id := c.Param("id")
	if s.cron != nil {
		if err := s.cron.DeleteCronjob(c.Request.Context(), tenantID(c), id); err != nil {
			writeError(c, apperrors.Wrap(apperrors.CodeUpstreamUnavail, "failed to delete external cronjob resource", err))
			return
		}
	}
	if err := s.store.DeleteCronjob(c.Request.Context(), tenantID(c), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// triggerCronjob handles POST /v1/cron/internal/:id/trigger: the callback
// invoked by the external scheduler when a cronjob fires. Authenticated by a shared secret
// rather than tenant context, since the caller is the scheduler itself.
func (s *Server) triggerCronjob(c *gin.Context) {
	if s.cron == nil {
		writeError(c, apperrors.Forbidden("cron reconciler is disabled"))
		return
	}
	token := c.GetHeader("X-Dispatchd-Cron-Token")
	if !s.cron.ValidateInternalToken(token) {
		writeError(c, apperrors.Unauthorized("invalid internal trigger token"))
		return
	}
	if err := s.cron.Fire(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

package httpapi

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/kandev/dispatchd/internal/common/apperrors"
	"github.com/kandev/dispatchd/internal/spawner"
)

// writeError classifies err through the AppError taxonomy and writes a
// sanitized JSON body; diagnostic detail (err.Err) never reaches the
// client, only structured logs do.
func writeError(c *gin.Context, err error) {
	appErr := apperrors.AsAppError(err)
	c.JSON(appErr.HTTPStatus, gin.H{
		"error": gin.H{
			"code":    appErr.Code,
			"message": appErr.Message,
		},
	})
}

// translateSpawnError maps the spawner's error classification onto the
// control plane's taxonomy: missing-config and rendering failures surface
// as internal errors, permission failures as upstream_forbidden, and
// conflict/transient classes as a retryable upstream_unavailable.
func translateSpawnError(err error) error {
	var se *spawner.SpawnError
	if !errors.As(err, &se) {
		return apperrors.Wrap(apperrors.CodeInternal, "session worker provisioning failed", err)
	}
	switch se.Class {
	case spawner.ErrClassConfigMissing, spawner.ErrClassRendering:
		return apperrors.Wrap(apperrors.CodeInternal, "session worker template is misconfigured", se)
	case spawner.ErrClassPermission:
		return apperrors.Wrap(apperrors.CodeUpstreamForbidden, "session worker provisioning forbidden", se)
	case spawner.ErrClassConflict, spawner.ErrClassTransient:
		return apperrors.Wrap(apperrors.CodeUpstreamUnavail, "session worker provisioning temporarily unavailable", se)
	default:
		return apperrors.Wrap(apperrors.CodeInternal, "session worker provisioning failed", se)
	}
}

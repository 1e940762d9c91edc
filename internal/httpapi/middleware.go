package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/kandev/dispatchd/internal/common/logger"
	"github.com/kandev/dispatchd/internal/common/tracing"
)

const (
	tenantHeader     = "X-Tenant-ID"
	tenantContextKey = "tenant_id"
)

// TenantContext resolves the request's tenant scope from the tenant
// header. An absent header resolves to "", the administrative/unscoped
// context; callers that require a tenant reject that case explicitly.
func TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(tenantContextKey, c.GetHeader(tenantHeader))
		c.Next()
	}
}

func tenantID(c *gin.Context) string {
	v, _ := c.Get(tenantContextKey)
	s, _ := v.(string)
	return s
}

// RequestLogger logs every request's method, path, status, and duration.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("tenant_id", tenantID(c)),
		)
	}
}

// Recovery converts a panic in a handler into a 500 instead of crashing
// the server, logging full context for diagnosis.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": gin.H{"code": "internal", "message": "an internal error occurred"},
				})
			}
		}()
		c.Next()
	}
}

// OtelTracing wraps each request in an OTel span. When tracing is
// disabled (no OTEL_EXPORTER_OTLP_ENDPOINT), this is a no-op.
func OtelTracing(serverName string) gin.HandlerFunc {
	tracer := tracing.Tracer(serverName)

	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		spanName := fmt.Sprintf("%s %s", c.Request.Method, path)

		ctx, span := tracer.Start(c.Request.Context(), spanName)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			semconv.HTTPRequestMethodKey.String(c.Request.Method),
			semconv.HTTPRouteKey.String(path),
			semconv.HTTPResponseStatusCodeKey.Int(status),
			attribute.Int("http.response.size", c.Writer.Size()),
		)
		if status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		}
	}
}

// CORS permits cross-origin browser clients to reach the control plane.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-Tenant-ID, worker_id, worker_name, capabilities, codebases")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

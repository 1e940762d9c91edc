// Package httpapi is the thin HTTP Surface adapter: it binds external
// JSON requests to the Task Queue, Worker Registry, Push Fabric, Session
// Worker Spawner, and Cron Reconciler, translating their errors into the
// control plane's AppError taxonomy, served by gin-gonic/gin.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/dispatchd/internal/common/logger"
	"github.com/kandev/dispatchd/internal/cron"
	"github.com/kandev/dispatchd/internal/spawner"
	"github.com/kandev/dispatchd/internal/store"
	"github.com/kandev/dispatchd/internal/taskqueue"
	"github.com/kandev/dispatchd/internal/worker/push"
	"github.com/kandev/dispatchd/internal/worker/registry"
)

// WorkerConfig is the model-resolver configuration served to workers via
// GET /v1/worker/config; the control plane holds it but never interprets
// it; subcall model resolution happens worker-side.
type WorkerConfig struct {
	DefaultSubcallModelRef    string            `json:"default_subcall_model_ref,omitempty"`
	FallbackChain             []string          `json:"fallback_chain,omitempty"`
	ControllerFallbackAllowed bool              `json:"controller_fallback_allowed"`
	PersonalityToModel        map[string]string `json:"personality_to_model,omitempty"`
}

// Server holds every dependency the HTTP Surface dispatches to. None of
// its handlers hold business logic of their own; they bind, delegate,
// and translate.
type Server struct {
	queue        *taskqueue.Service
	registry     *registry.Registry
	hub          *push.Hub
	store        store.Store
	spawner      *spawner.Spawner
	cron         *cron.Reconciler
	workerConfig WorkerConfig
	log          *logger.Logger
}

// New constructs a Server. spawner and cron may be nil when those
// features are disabled; handlers degrade gracefully in that case.
func New(queue *taskqueue.Service, reg *registry.Registry, hub *push.Hub, st store.Store, sp *spawner.Spawner, cr *cron.Reconciler, wc WorkerConfig) *Server {
	return &Server{
		queue:        queue,
		registry:     reg,
		hub:          hub,
		store:        st,
		spawner:      sp,
		cron:         cr,
		workerConfig: wc,
		log:          logger.Default().WithFields(zap.String("component", "http-api")),
	}
}

// NewRouter builds the gin engine with one route group per resource.
func (s *Server) NewRouter() *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(s.log), Recovery(s.log), OtelTracing("dispatchd-api"), CORS(), TenantContext())

	r.GET("/healthz", s.healthz)

	v1group := r.Group("/v1")
	{
		tasks := v1group.Group("/tasks")
		tasks.POST("", s.createTask)
		tasks.GET("", s.listTasks)
		tasks.GET("/:id", s.getTask)
		tasks.POST("/:id/cancel", s.cancelTask)

		worker := v1group.Group("/worker")
		worker.GET("/tasks/stream", s.streamTasks)
		worker.POST("/tasks/claim", s.claimTask)
		worker.POST("/tasks/release", s.releaseTask)
		worker.POST("/heartbeat", s.workerHeartbeat)
		worker.PUT("/codebases", s.updateWorkerCodebases)
		worker.GET("/config", s.getWorkerConfig)

		v1group.GET("/workers", s.listWorkers)

		codebases := v1group.Group("/codebases")
		codebases.PUT("", s.upsertCodebase)
		codebases.GET("", s.listCodebases)
		codebases.DELETE("/:id", s.deleteCodebase)

		sessions := v1group.Group("/sessions")
		sessions.POST("", s.createSession)
		sessions.GET("/:id", s.getSession)
		sessions.POST("/:id/end", s.endSession)

		cronjobs := v1group.Group("/cronjobs")
		cronjobs.POST("", s.createCronjob)
		cronjobs.GET("", s.listCronjobs)
		cronjobs.DELETE("/:id", s.deleteCronjob)

		v1group.POST("/cron/internal/:id/trigger", s.triggerCronjob)
	}

	return r
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now()})
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/kandev/dispatchd/internal/common/config"
	"github.com/kandev/dispatchd/internal/common/database"
	"github.com/kandev/dispatchd/internal/common/logger"
	"github.com/kandev/dispatchd/internal/common/tracing"
	"github.com/kandev/dispatchd/internal/cron"
	"github.com/kandev/dispatchd/internal/events"
	"github.com/kandev/dispatchd/internal/events/bus"
	"github.com/kandev/dispatchd/internal/httpapi"
	"github.com/kandev/dispatchd/internal/router"
	"github.com/kandev/dispatchd/internal/spawner"
	"github.com/kandev/dispatchd/internal/store"
	"github.com/kandev/dispatchd/internal/taskqueue"
	"github.com/kandev/dispatchd/internal/worker/push"
	"github.com/kandev/dispatchd/internal/worker/registry"
	v1 "github.com/kandev/dispatchd/pkg/api/v1"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck
	logger.SetDefault(log)

	log.Info("starting dispatchd control plane")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Connect to Postgres and ensure schema
	db, err := database.NewDB(ctx, cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	st := store.NewPostgresStore(db)
	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatal("failed to ensure schema", zap.Error(err))
	}
	log.Info("connected to database")

	// 4. Construct the event fabric: an in-process bus (NATS when
	// configured, in-memory otherwise) fanned out alongside the outbound
	// HTTP Event Publisher.
	var eventBus bus.EventBus
	if cfg.Events.NATSURL != "" {
		natsBus, err := bus.NewNATSEventBus(bus.NATSConfig{
			URL:           cfg.Events.NATSURL,
			ClientID:      "dispatchd",
			MaxReconnects: 10,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to nats event bus", zap.Error(err))
		}
		eventBus = natsBus
	} else {
		eventBus = bus.NewMemoryEventBus(log)
	}
	defer eventBus.Close()

	eventsCfg := events.DefaultConfig()
	eventsCfg.Enabled = cfg.Events.Enabled
	eventsCfg.Endpoint = cfg.Events.BusURL
	publisher := events.NewFanout(eventBus, events.NewPublisher(eventsCfg))

	// 5. Construct the Push Fabric
	heartbeat := time.Duration(cfg.Push.HeartbeatIntervalSeconds) * time.Second
	liveness := time.Duration(cfg.Push.LivenessTimeoutSeconds) * time.Second
	hub := push.NewHub(heartbeat, liveness, cfg.Push.ChannelBufferSize)
	hub.Start()
	defer hub.Stop()

	// 6. Construct the Task Queue ahead of the Worker Registry, since the
	// registry's liveness sweep reaps abandoned claims through it.
	routerCfg := router.DefaultConfig()
	routerCfg.AutoModel = cfg.Routing.AutoModel
	routerCfg.ModelPerTier = modelPerTierFromConfig(cfg.Routing.ModelPerTier)
	routerCfg.PersonalityToAgent = cfg.Routing.PersonalityToAgent
	routerCfg.PersonalityToModel = cfg.Routing.PersonalityToModel
	routerCfg.AgentTypeCapabilities = cfg.Routing.AgentTypeCapabilities

	queue := taskqueue.NewService(st, routerCfg, hub, publisher, cfg.Events.Enabled)
	queue.Start(ctx, time.Duration(cfg.Queue.SweepIntervalSeconds)*time.Second)
	defer queue.Stop()

	sweepInterval := liveness / 3
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	claimGrace := time.Duration(cfg.Push.ClaimGraceSeconds) * time.Second
	reg := registry.New(queue, st, liveness, sweepInterval, claimGrace)
	reg.Start(ctx)
	defer reg.Stop()

	// 7. Construct the Session Worker Spawner, only if k8s connectivity is
	// configured and the feature is enabled.
	var sp *spawner.Spawner
	if cfg.Spawner.Enabled {
		clientset, dyn, err := newKubeClients()
		if err != nil {
			log.Fatal("spawner enabled but kubernetes client construction failed", zap.Error(err))
		}
		spawnerCfg := spawner.DefaultConfig()
		spawnerCfg.Enabled = true
		spawnerCfg.Namespace = cfg.Spawner.Namespace
		spawnerCfg.TemplateConfigMap = cfg.Spawner.TemplateConfigMap
		sp = spawner.New(spawnerCfg, clientset, dyn)
		log.Info("session worker spawner enabled", zap.String("namespace", spawnerCfg.Namespace))

		// Idle-worker garbage collection loop.
		cleanupInterval := time.Duration(cfg.Spawner.CleanupIntervalMinutes) * time.Minute
		idleMaxAge := time.Duration(cfg.Spawner.IdleMaxAgeHours) * time.Hour
		go func() {
			ticker := time.NewTicker(cleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n, err := sp.CleanupIdleWorkers(ctx, idleMaxAge); err != nil {
						log.Warn("idle session worker cleanup failed", zap.Error(err))
					} else if n > 0 {
						log.Info("cleaned up idle session workers", zap.Int("deleted", n))
					}
				}
			}
		}()
	}

	// 8. Construct the Cron Reconciler
	var cronClientset kubernetes.Interface
	if cron.Driver(cfg.Cron.Driver) == cron.DriverKnative {
		clientset, _, err := newKubeClients()
		if err != nil {
			log.Fatal("cron knative driver requires kubernetes client", zap.Error(err))
		}
		cronClientset = clientset
	}
	cronCfg := cron.Config{
		Driver:              cron.Driver(cfg.Cron.Driver),
		InternalToken:       cfg.Cron.InternalToken,
		DefaultNamespace:    cfg.Cron.DefaultNamespace,
		AllowCrossNamespace: cfg.Cron.AllowCrossNamespace,
		AppTickInterval:     cfg.Cron.AppTickInterval,
		TriggerBaseURL:      cfg.Cron.TriggerBaseURL,
	}
	reconciler := cron.New(cronCfg, st, queue, cronClientset)
	reconciler.Start(ctx)
	defer reconciler.Stop()
	log.Info("cron reconciler started", zap.String("driver", cfg.Cron.Driver))

	// 9. Build the HTTP surface
	srv := httpapi.New(queue, reg, hub, st, sp, reconciler, httpapi.WorkerConfig{
		DefaultSubcallModelRef:    cfg.Routing.DefaultSubcallModelRef,
		FallbackChain:             cfg.Routing.FallbackChain,
		ControllerFallbackAllowed: cfg.Routing.ControllerFallbackAllowed,
		PersonalityToModel:        cfg.Routing.PersonalityToModel,
	})
	handler := srv.NewRouter()

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	// 10. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down dispatchd control plane")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", zap.Error(err))
	}

	log.Info("dispatchd control plane stopped")
}

func modelPerTierFromConfig(m map[string]string) map[v1.ModelTier]string {
	out := make(map[v1.ModelTier]string, len(m))
	for tier, model := range m {
		out[v1.ModelTier(tier)] = model
	}
	return out
}

// newKubeClients resolves an in-cluster config when running inside a pod,
// falling back to the local kubeconfig for development.
func newKubeClients() (kubernetes.Interface, dynamic.Interface, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := os.Getenv("KUBECONFIG")
		if kubeconfig == "" {
			home, _ := os.UserHomeDir()
			kubeconfig = home + "/.kube/config"
		}
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve kubernetes config: %w", err)
		}
	}
	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("build kubernetes clientset: %w", err)
	}
	dyn, err := dynamic.NewForConfig(restCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("build kubernetes dynamic client: %w", err)
	}
	return clientset, dyn, nil
}

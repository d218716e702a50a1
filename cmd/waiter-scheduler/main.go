// Command waiter-scheduler runs the scheduler core process: one
// Kubernetes-backed backend per configured cluster, optionally fronted by the
// composite router, each driving its own watch workers and syncer, behind
// /health and /metrics HTTP endpoints. Grounded on the teacher's
// cmd/fakeexecutor/main.go signal-driven shutdown-channel pattern.
package main

import (
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/waiter-project/scheduler/internal/common/armadacontext"
	"github.com/waiter-project/scheduler/internal/common/health"
	"github.com/waiter-project/scheduler/internal/common/task"
	"github.com/waiter-project/scheduler/internal/scheduler/authorizer"
	"github.com/waiter-project/scheduler/internal/scheduler/client"
	"github.com/waiter-project/scheduler/internal/scheduler/composite"
	"github.com/waiter-project/scheduler/internal/scheduler/configuration"
	"github.com/waiter-project/scheduler/internal/scheduler/k8sbackend"
	"github.com/waiter-project/scheduler/internal/scheduler"
	"github.com/waiter-project/scheduler/internal/scheduler/syncer"
)

const shutdownTimeout = 30 * time.Second

func init() {
	configuration.RegisterFlags()
	pflag.Parse()
}

func main() {
	configuration.ConfigureLogging()

	var cfg configuration.Configuration
	configuration.Load(&cfg)

	if len(cfg.Backends) == 0 {
		log.Fatal("no backends configured")
	}

	ctx, cancel := armadacontext.WithCancel(armadacontext.Background())
	taskManager := task.NewBackgroundTaskManager(ctx, "waiter_scheduler_")

	backends := map[string]scheduler.Scheduler{}
	checkers := health.NewMultiChecker()
	for tag, backendCfg := range cfg.Backends {
		backend := startKubernetesBackend(ctx, tag, backendCfg, taskManager)
		backends[tag] = backend
		checkers.Add(tag, backend.HealthChecker())
	}

	defaultTag := cfg.Composite.DefaultTag
	if defaultTag == "" {
		for tag := range backends {
			defaultTag = tag
			break
		}
	}

	var sched scheduler.Scheduler
	if len(backends) == 1 {
		for _, backend := range backends {
			sched = backend
		}
	} else {
		composed, err := composite.New(backends, defaultTag)
		if err != nil {
			log.Fatalf("failed to build composite scheduler: %s", err)
		}
		sched = composed
	}
	_ = sched // available for an eventual router/autoscaler HTTP surface; out of scope here.

	shutdownChannel := make(chan os.Signal, 1)
	signal.Notify(shutdownChannel, syscall.SIGINT, syscall.SIGTERM)

	healthServer := startHealthServer(cfg.HealthPort, checkers)
	metricsServer := startMetricsServer(cfg.MetricPort)

	<-shutdownChannel
	log.Info("shutdown signal received")
	cancel()
	if taskManager.StopAll(shutdownTimeout) {
		log.Warn("timed out waiting for background workers to stop")
	}
	_ = healthServer.Close()
	_ = metricsServer.Close()
}

// startKubernetesBackend wires one configured backend: an orchestrator
// client (with an optional auth-refresh worker), the Kubernetes-backed
// scheduler, its watch workers and its syncer.
func startKubernetesBackend(ctx *armadacontext.Context, tag string, cfg configuration.Kubernetes, taskManager *task.BackgroundTaskManager) *k8sbackend.KubernetesScheduler {
	refresh := resolveAuthRefresh(cfg.Authentication.ActionFn)
	refreshInterval := time.Duration(cfg.Authentication.RefreshDelayMins) * time.Minute

	orchestratorClient := client.New(
		cfg.Url,
		client.Options{ConnTimeout: cfg.HttpOptions.ConnTimeout, SocketTimeout: cfg.HttpOptions.SocketTimeout},
		refresh,
		refreshInterval,
		taskManager,
	)

	backend := k8sbackend.New(cfg, orchestratorClient, authorizer.New(cfg.Authorizer.Kind))
	backend.StartWatchers(armadacontext.WithLogField(ctx, "backend", tag))

	s := syncer.New(backend, 8)
	interval := time.Duration(cfg.SchedulerSyncerIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s.Start(taskManager, interval)
	backend.AttachSyncer(func() scheduler.SyncerState { return s.RetrieveSyncerState() })

	return backend
}

// resolveAuthRefresh looks up a named token-refresh function. No concrete
// refresh backends are wired yet, so any configured name other than empty
// logs a warning and runs without auth-refresh rather than failing startup.
func resolveAuthRefresh(actionFn string) client.TokenRefreshFunc {
	if actionFn == "" {
		return nil
	}
	log.Warnf("authentication.action-fn %q is not a recognised refresh function, starting without auth-refresh", actionFn)
	return nil
}

func startHealthServer(port int, checker health.Checker) *http.Server {
	mux := http.NewServeMux()
	health.SetupHttpMux(mux, checker)
	srv := &http.Server{Addr: portAddr(port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("health server stopped: %s", err)
		}
	}()
	return srv
}

func startMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: portAddr(port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server stopped: %s", err)
		}
	}()
	return srv
}

func portAddr(port int) string {
	if port == 0 {
		port = 8080
	}
	return ":" + strconv.Itoa(port)
}

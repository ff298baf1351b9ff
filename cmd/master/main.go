// Command master runs the dispatcher process: the Data Info Provider,
// Task Analyser and Scheduler wired into one internal/runtime.Runtime,
// fronted by the inbound control-plane HTTP API and a Consul worker
// Watcher (spec §5/§9).
package main

import (
	"context"
	stlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/compsweave/taskrt/internal/api"
	"github.com/compsweave/taskrt/internal/config"
	"github.com/compsweave/taskrt/internal/datamodel"
	"github.com/compsweave/taskrt/internal/discovery"
	"github.com/compsweave/taskrt/internal/runtime"
	"github.com/compsweave/taskrt/internal/scheduler"
	"github.com/compsweave/taskrt/internal/telemetry"
	"github.com/compsweave/taskrt/internal/transport"
	"github.com/compsweave/taskrt/pkg/wire"
)

func main() {
	configPath := "configs/master.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadMasterConfig(configPath)
	if err != nil {
		stlog.Fatalf("load master config: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.Telemetry.LogLevel, cfg.Telemetry.Development)
	if err != nil {
		stlog.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	shutdownTracing, err := telemetry.InitTracing(context.Background(), telemetry.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		logger.Fatal("init tracing", zap.Error(err))
	}

	trans, err := transport.Connect(transport.Config{URL: cfg.NATS.URL, AckWait: cfg.NATS.AckWait}, logger)
	if err != nil {
		logger.Fatal("connect nats", zap.Error(err))
	}
	defer trans.Close()

	rt := runtime.New(policyFactory(cfg.Scheduler.Policy, logger), scheduler.Options{
		MaxWait:       cfg.Scheduler.StarvationWait,
		BumpInterval:  cfg.Scheduler.StarvationBump,
		CancelTimeout: cfg.Scheduler.CancelTimeout,
	}, trans, logger)

	completions, err := trans.SubscribeCompletions(func(msg wire.Completion) error {
		success := msg.Status == "done"
		produced := make([]scheduler.ProducedRenaming, 0, len(msg.ProducedRenamings))
		for _, p := range msg.ProducedRenamings {
			produced = append(produced, scheduler.ProducedRenaming{DII: datamodel.DII(p.DII), Bytes: p.Bytes})
		}
		rt.ActionCompleted(datamodel.TaskID(msg.TaskID), success, msg.Profiling.WallMs, msg.Profiling.BytesTransferred, produced)
		return nil
	})
	if err != nil {
		logger.Fatal("subscribe completions", zap.Error(err))
	}
	defer completions.Stop()

	started, err := trans.SubscribeStarted(func(msg wire.TaskStarted) error {
		rt.AckStart(datamodel.TaskID(msg.TaskID))
		return nil
	})
	if err != nil {
		logger.Fatal("subscribe started", zap.Error(err))
	}
	defer started.Stop()

	consulClient, err := discovery.Connect(cfg.Consul.Address, logger)
	if err != nil {
		logger.Fatal("connect consul", zap.Error(err))
	}

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	watcher := discovery.NewWatcher(consulClient, rt, logger)
	go watcher.Run(watchCtx)

	cancelSweep := startCancelSweepTicker(rt)
	defer cancelSweep()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	api.NewHandler(rt, logger).RegisterRoutes(r)

	srv := &http.Server{Addr: cfg.API.ListenAddr, Handler: r}
	go func() {
		logger.Info("master control-plane listening", zap.String("addr", cfg.API.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")

	cancelWatch()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown", zap.Error(err))
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Error("tracing shutdown", zap.Error(err))
	}
	logger.Info("master stopped")
}

// policyFactory maps the scheduler.policy config value (§6 Config
// surface: fifo | locality | data | full_graph) to the Policy it selects.
// An unrecognized name is a config error, not a silent fallback to fifo.
func policyFactory(name string, log *zap.Logger) func(scheduler.SuccessorGraph) scheduler.Policy {
	switch name {
	case "", "fifo":
		return func(scheduler.SuccessorGraph) scheduler.Policy { return scheduler.NewFIFOScheduler() }
	case "locality", "data":
		return func(scheduler.SuccessorGraph) scheduler.Policy { return scheduler.NewDataScheduler() }
	case "full_graph", "fullgraph":
		return func(graph scheduler.SuccessorGraph) scheduler.Policy { return scheduler.NewFullGraphScheduler(graph) }
	default:
		log.Fatal("unknown scheduler.policy", zap.String("policy", name))
		return nil
	}
}

// startCancelSweepTicker drives Runtime.SweepCancelTimeouts periodically
// so SCHEDULED/RUNNING cancellations that never ack still free their
// worker's resources (spec §4.4 Cancellation).
func startCancelSweepTicker(rt *runtime.Runtime) func() {
	ticker := time.NewTicker(10 * time.Second)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				rt.SweepCancelTimeouts()
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}

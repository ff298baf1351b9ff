// Command worker-agent runs one worker: the Worker Data Manager, a task
// Executor, and the NATS dispatch/cancel subscriptions that feed
// internal/jobrunner, fronted by the data-pull HTTP surface other workers'
// internal/transfer.Provider calls into (spec §5/§6).
package main

import (
	"context"
	stlog "log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/compsweave/taskrt/internal/api"
	"github.com/compsweave/taskrt/internal/config"
	"github.com/compsweave/taskrt/internal/datamanager"
	"github.com/compsweave/taskrt/internal/discovery"
	"github.com/compsweave/taskrt/internal/executor"
	"github.com/compsweave/taskrt/internal/jobrunner"
	"github.com/compsweave/taskrt/internal/storage"
	"github.com/compsweave/taskrt/internal/telemetry"
	"github.com/compsweave/taskrt/internal/transfer"
	"github.com/compsweave/taskrt/internal/transport"
	"github.com/compsweave/taskrt/pkg/wire"
)

func main() {
	configPath := "configs/worker.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadWorkerConfig(configPath)
	if err != nil {
		stlog.Fatalf("load worker config: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.Telemetry.LogLevel, cfg.Telemetry.Development)
	if err != nil {
		stlog.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()
	logger = logger.With(zap.String("worker_id", cfg.WorkerID))

	shutdownTracing, err := telemetry.InitTracing(context.Background(), telemetry.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		logger.Fatal("init tracing", zap.Error(err))
	}

	if err := os.MkdirAll(cfg.WorkspaceDir, 0o755); err != nil {
		logger.Fatal("create workspace dir", zap.Error(err))
	}

	backend := buildStorageBackend(cfg.Storage, logger)
	if backend != nil {
		if err := backend.Init(""); err != nil {
			logger.Fatal("storage backend init failed", zap.Error(err))
		}
		defer backend.Finish()
	}

	transferProvider := transfer.New(transfer.Options{
		WorkspaceDir: cfg.WorkspaceDir,
		Parallelism:  cfg.Transfer.Parallelism,
	}, logger)
	defer transferProvider.Close()

	dm := datamanager.New(datamanager.Options{
		WorkerID:           cfg.WorkerID,
		WorkspaceDir:       cfg.WorkspaceDir,
		Transfer:           transferProvider,
		Storage:            backend,
		AllowNonAtomicMove: cfg.Transfer.AllowNonAtomicMove,
		Log:                telemetry.NewSugared(logger),
	})

	exec, err := buildExecutor(cfg.Executor, logger)
	if err != nil {
		logger.Fatal("build executor", zap.Error(err))
	}

	trans, err := transport.Connect(transport.Config{URL: cfg.NATS.URL, AckWait: cfg.NATS.AckWait}, logger)
	if err != nil {
		logger.Fatal("connect nats", zap.Error(err))
	}
	defer trans.Close()

	runner := &jobrunner.Runner{
		WorkspaceRoot: cfg.WorkspaceDir,
		DM:            dm,
		Exec:          exec,
		Started:       trans.PublishStarted,
		Complete:      trans.PublishCompletion,
		Log:           logger,
	}

	dispatchSub, err := trans.SubscribeDispatch(cfg.WorkerID, func(msg wire.JobDispatch) error {
		go func() {
			if err := runner.HandleDispatch(context.Background(), msg); err != nil {
				logger.Error("job run failed", zap.Uint64("task_id", msg.TaskID), zap.Error(err))
			}
		}()
		return nil
	})
	if err != nil {
		logger.Fatal("subscribe dispatch", zap.Error(err))
	}
	defer dispatchSub.Stop()

	cancelSub, err := trans.SubscribeCancel(cfg.WorkerID, func(msg wire.CancelTask) error {
		runner.Cancel(msg.TaskID)
		return nil
	})
	if err != nil {
		logger.Fatal("subscribe cancel", zap.Error(err))
	}
	defer cancelSub.Stop()

	consulClient, err := discovery.Connect(cfg.Consul.Address, logger)
	if err != nil {
		logger.Fatal("connect consul", zap.Error(err))
	}

	host, port := listenHostPort(cfg.API.ListenAddr)
	cores, memoryMB := cfg.Cores, cfg.MemoryMB
	if c, err := cpu.Counts(true); err == nil && c > 0 {
		cores = float64(c)
	}
	if v, err := mem.VirtualMemory(); err == nil {
		memoryMB = float64(v.Total) / 1024 / 1024
	}

	if err := discovery.RegisterWorker(consulClient, discovery.WorkerRegistration{
		WorkerID:        cfg.WorkerID,
		Kind:            cfg.Kind,
		Address:         host,
		Port:            port,
		Cores:           cores,
		MemoryMB:        memoryMB,
		StorageMB:       cfg.StorageMB,
		Accelerators:    cfg.Accelerators,
		HealthCheckPath: "/healthz",
	}, logger); err != nil {
		logger.Fatal("register worker", zap.Error(err))
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	api.NewDataHandler(dm, logger).RegisterRoutes(r)

	srv := &http.Server{Addr: cfg.API.ListenAddr, Handler: r}
	go func() {
		logger.Info("worker data surface listening", zap.String("addr", cfg.API.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")

	if err := discovery.DeregisterWorker(consulClient, cfg.WorkerID, logger); err != nil {
		logger.Error("deregister worker", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown", zap.Error(err))
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Error("tracing shutdown", zap.Error(err))
	}
	logger.Info("worker stopped")
}

func buildStorageBackend(cfg config.StorageConfig, logger *zap.Logger) datamanager.StorageCollaborator {
	switch cfg.Backend {
	case "minio":
		return storage.NewMinIOBackend(storage.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
		}, logger)
	case "postgres":
		return storage.NewPostgresBackend(storage.PostgresConfig{
			DSN:       cfg.Postgres.DSN,
			TableName: cfg.Postgres.TableName,
		}, logger)
	default:
		return nil
	}
}

func buildExecutor(cfg config.ExecutorConfig, logger *zap.Logger) (executor.Executor, error) {
	script := executor.NewScriptExecutor(binDir(), cfg.GraceTimeout, logger)
	if cfg.Type != "docker" {
		return script, nil
	}
	docker, err := executor.NewDockerExecutor(cfg.DockerEndpoint, logger)
	if err != nil {
		return nil, err
	}
	return &executor.Composite{Script: script, Docker: docker}, nil
}

func binDir() string {
	if dir := os.Getenv("TASKRT_BIN_DIR"); dir != "" {
		return dir
	}
	return "./bin"
}

// listenHostPort splits cfg.API.ListenAddr into the host/port pair Consul
// registers, falling back to the local loopback address when the listen
// addr names no host (e.g. ":8081"), grounded on
// provider-registry-service's RegisterService split (spec §6 Config
// surface).
func listenHostPort(listenAddr string) (string, int) {
	host, portStr, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "127.0.0.1", 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "127.0.0.1", 0
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return host, port
}

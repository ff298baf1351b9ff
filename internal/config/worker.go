package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ExecutorConfig selects and configures the worker's task execution
// backend, mirroring provider-daemon's ExecutorSettings.
type ExecutorConfig struct {
	Type           string `yaml:"type"` // "docker" or "script"
	DockerEndpoint string `yaml:"docker_endpoint,omitempty"`
	GraceTimeout   time.Duration `yaml:"grace_timeout"` // SIGTERM-to-SIGKILL grace period (spec §5, default 10s)
}

// WorkerConfig is the per-worker agent's configuration root.
type WorkerConfig struct {
	WorkerID     string          `yaml:"worker_id"`
	Kind         string          `yaml:"kind"`
	WorkspaceDir string          `yaml:"workspace_dir"`
	Executor     ExecutorConfig  `yaml:"executor"`
	Transfer     TransferConfig  `yaml:"transfer"`
	Storage      StorageConfig   `yaml:"storage"`
	NATS         NATSConfig      `yaml:"nats"`
	Consul       ConsulConfig    `yaml:"consul"`
	API          APIConfig       `yaml:"api"`
	Telemetry    TelemetryConfig `yaml:"telemetry"`

	Cores        float64 `yaml:"cores"`
	MemoryMB     float64 `yaml:"memory_mb"`
	StorageMB    float64 `yaml:"storage_mb"`
	Accelerators float64 `yaml:"accelerators"`
}

func defaultWorkerConfig() *WorkerConfig {
	hostname, _ := os.Hostname()
	return &WorkerConfig{
		WorkerID:     "worker-" + hostname,
		Kind:         "cpu",
		WorkspaceDir: filepath.Join(os.TempDir(), "taskrt-worker"),
		Executor: ExecutorConfig{
			Type:         "script",
			GraceTimeout: 10 * time.Second,
		},
		Transfer: TransferConfig{
			Parallelism:        0, // resolved to min(#cores, 8) at startup
			AllowNonAtomicMove: true,
		},
		NATS:   NATSConfig{URL: "nats://localhost:4222", AckWait: 60 * time.Second},
		Consul: ConsulConfig{Address: "127.0.0.1:8500"},
		API:    APIConfig{ListenAddr: ":8081"},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			ServiceName: "taskrt-worker",
		},
		Cores:    4,
		MemoryMB: 8192,
	}
}

// LoadWorkerConfig reads path, writing a default file first if it does not
// exist, and filling zero-valued fields from defaults otherwise.
func LoadWorkerConfig(path string) (*WorkerConfig, error) {
	defaults := defaultWorkerConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefault(path, defaults); err != nil {
			return nil, err
		}
		return defaults, nil
	} else if err != nil {
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg WorkerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	applyWorkerDefaults(&cfg, defaults)
	return &cfg, nil
}

func applyWorkerDefaults(cfg, defaults *WorkerConfig) {
	if cfg.WorkerID == "" {
		cfg.WorkerID = defaults.WorkerID
	}
	if cfg.Kind == "" {
		cfg.Kind = defaults.Kind
	}
	if cfg.WorkspaceDir == "" {
		cfg.WorkspaceDir = defaults.WorkspaceDir
	}
	if cfg.Executor.Type == "" {
		cfg.Executor.Type = defaults.Executor.Type
	}
	if cfg.Executor.GraceTimeout == 0 {
		cfg.Executor.GraceTimeout = defaults.Executor.GraceTimeout
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = defaults.NATS.URL
	}
	if cfg.NATS.AckWait == 0 {
		cfg.NATS.AckWait = defaults.NATS.AckWait
	}
	if cfg.Consul.Address == "" {
		cfg.Consul.Address = defaults.Consul.Address
	}
	if cfg.API.ListenAddr == "" {
		cfg.API.ListenAddr = defaults.API.ListenAddr
	}
	if cfg.Telemetry.LogLevel == "" {
		cfg.Telemetry.LogLevel = defaults.Telemetry.LogLevel
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = defaults.Telemetry.ServiceName
	}
	if cfg.Cores == 0 {
		cfg.Cores = defaults.Cores
	}
	if cfg.MemoryMB == 0 {
		cfg.MemoryMB = defaults.MemoryMB
	}
}

// Package config implements YAML configuration loading for the master and
// worker processes, grounded on provider-daemon/internal/config: a
// default config file is written on first run, and fields left
// zero-valued on subsequent loads are filled in from defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SchedulerConfig is the §6 Config surface's scheduler.* block.
type SchedulerConfig struct {
	Policy           string        `yaml:"policy"` // fifo | locality | data | full_graph
	MaxRetries       int           `yaml:"max_retries"`
	CancelTimeout    time.Duration `yaml:"cancel_timeout"`
	StarvationWait   time.Duration `yaml:"starvation_wait"`
	StarvationBump   time.Duration `yaml:"starvation_bump"`
}

// TransferConfig is the §6 Config surface's transfer.* block.
type TransferConfig struct {
	Parallelism        int  `yaml:"parallelism"`
	AllowNonAtomicMove bool `yaml:"allow_non_atomic_move"`
}

// StorageConfig is the §6 Config surface's storage.* block. Backend is
// "minio", "postgres", or empty (PSCO support disabled silently).
type StorageConfig struct {
	Backend  string `yaml:"backend"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type PostgresConfig struct {
	DSN       string `yaml:"dsn"`
	TableName string `yaml:"table_name"`
}

// NATSConfig configures the transport layer's connection.
type NATSConfig struct {
	URL     string        `yaml:"url"`
	AckWait time.Duration `yaml:"ack_wait"`
}

// ConsulConfig configures discovery.
type ConsulConfig struct {
	Address string `yaml:"address"`
}

// APIConfig configures the inbound control-plane HTTP surface.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// TelemetryConfig configures logging level and OTel export.
type TelemetryConfig struct {
	LogLevel        string `yaml:"log_level"`
	Development     bool   `yaml:"development"`
	OTLPEndpoint    string `yaml:"otlp_endpoint,omitempty"` // empty selects the stdout exporter
	ServiceName     string `yaml:"service_name"`
}

// MasterConfig is the master process's configuration root.
type MasterConfig struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Storage   StorageConfig   `yaml:"storage"`
	NATS      NATSConfig      `yaml:"nats"`
	Consul    ConsulConfig    `yaml:"consul"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

func defaultMasterConfig() *MasterConfig {
	return &MasterConfig{
		Scheduler: SchedulerConfig{
			Policy:         "fifo",
			MaxRetries:     2,
			CancelTimeout:  30 * time.Second,
			StarvationWait: 60 * time.Second,
			StarvationBump: 30 * time.Second,
		},
		Storage: StorageConfig{
			Backend: "",
			MinIO:   MinIOConfig{Endpoint: "localhost:9000", Bucket: "taskrt-pscos"},
		},
		NATS: NATSConfig{URL: "nats://localhost:4222", AckWait: 60 * time.Second},
		Consul: ConsulConfig{Address: "127.0.0.1:8500"},
		API:    APIConfig{ListenAddr: ":8080"},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			ServiceName: "taskrt-master",
		},
	}
}

// LoadMasterConfig reads path, writing a default file first if it does not
// exist, and filling zero-valued fields from defaults otherwise.
func LoadMasterConfig(path string) (*MasterConfig, error) {
	defaults := defaultMasterConfig()

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

	var cfg MasterConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	applyMasterDefaults(&cfg, defaults)
	return &cfg, nil
}

func applyMasterDefaults(cfg, defaults *MasterConfig) {
	if cfg.Scheduler.Policy == "" {
		cfg.Scheduler.Policy = defaults.Scheduler.Policy
	}
	if cfg.Scheduler.CancelTimeout == 0 {
		cfg.Scheduler.CancelTimeout = defaults.Scheduler.CancelTimeout
	}
	if cfg.Scheduler.StarvationWait == 0 {
		cfg.Scheduler.StarvationWait = defaults.Scheduler.StarvationWait
	}
	if cfg.Scheduler.StarvationBump == 0 {
		cfg.Scheduler.StarvationBump = defaults.Scheduler.StarvationBump
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
}

func writeDefault(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("config: marshal defaults: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write default %s: %w", path, err)
	}
	return nil
}

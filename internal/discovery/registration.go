// Package discovery implements Consul-based worker registration and
// health-driven workerAdded/workerRemoved notifications for the Scheduler
// (spec §4.4), grounded on scheduler-orchestrator-service/internal/consul
// and provider-registry-service's equivalent.
package discovery

import (
	"fmt"

	consulapi "github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

// Connect establishes a connection to the Consul agent at address, pinging
// it to confirm connectivity before returning.
func Connect(address string, log *zap.Logger) (*consulapi.Client, error) {
	cfg := consulapi.DefaultConfig()
	cfg.Address = address
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("discovery: create consul client: %w", err)
	}
	if _, err := client.Agent().Self(); err != nil {
		return nil, fmt.Errorf("discovery: ping consul agent at %s: %w", address, err)
	}
	log.Info("connected to consul agent", zap.String("address", address))
	return client, nil
}

// WorkerRegistration describes one worker agent's Consul service
// registration: its capacity metadata feeds the Scheduler's
// resource-aware worker profile via runtime.WorkerJoined (SPEC_FULL §3
// Supplemented features).
type WorkerRegistration struct {
	WorkerID            string
	Kind                string
	Address             string
	Port                int
	Tags                []string
	Cores               float64
	MemoryMB            float64
	StorageMB           float64
	Accelerators        float64
	HealthCheckPath     string
	HealthCheckInterval string
	HealthCheckTimeout  string
}

const ServiceName = "taskrt-worker"

// RegisterWorker registers a worker agent with Consul under ServiceName,
// attaching an HTTP health check.
func RegisterWorker(client *consulapi.Client, r WorkerRegistration, log *zap.Logger) error {
	checkAddr := r.Address
	if checkAddr == "" || checkAddr == "0.0.0.0" {
		checkAddr = "127.0.0.1"
	}

	reg := &consulapi.AgentServiceRegistration{
		ID:      r.WorkerID,
		Name:    ServiceName,
		Address: r.Address,
		Port:    r.Port,
		Tags:    append([]string{"kind=" + r.Kind}, r.Tags...),
		Meta: map[string]string{
			"kind":         r.Kind,
			"cores":        fmt.Sprintf("%g", r.Cores),
			"memory_mb":    fmt.Sprintf("%g", r.MemoryMB),
			"storage_mb":   fmt.Sprintf("%g", r.StorageMB),
			"accelerators": fmt.Sprintf("%g", r.Accelerators),
		},
		Check: &consulapi.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d%s", checkAddr, r.Port, r.HealthCheckPath),
			Interval:                       orDefault(r.HealthCheckInterval, "10s"),
			Timeout:                        orDefault(r.HealthCheckTimeout, "5s"),
			DeregisterCriticalServiceAfter: "1m",
		},
	}

	if err := client.Agent().ServiceRegister(reg); err != nil {
		return fmt.Errorf("discovery: register worker %s: %w", r.WorkerID, err)
	}
	log.Info("registered worker with consul", zap.String("worker_id", r.WorkerID), zap.String("kind", r.Kind))
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// DeregisterWorker removes workerID's registration, called on graceful
// worker shutdown.
func DeregisterWorker(client *consulapi.Client, workerID string, log *zap.Logger) error {
	if err := client.Agent().ServiceDeregister(workerID); err != nil {
		return fmt.Errorf("discovery: deregister worker %s: %w", workerID, err)
	}
	log.Info("deregistered worker from consul", zap.String("worker_id", workerID))
	return nil
}

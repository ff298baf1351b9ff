// Package wire holds the message shapes that travel between the master
// and worker agents over internal/transport (spec §6 Outbound/Inbound).
package wire

import "time"

// ParamWire is the wire-level encoding of one datamodel.Param, carrying
// only what a worker needs to fetch/execute/store it (spec §6 Inbound:
// "payload (file path | object-serialized bytes | storage id | collection
// sub-params)").
type ParamWire struct {
	Direction  string      `json:"direction"`
	Type       string      `json:"type"`
	Stream     string      `json:"stream,omitempty"`
	Prefix     string      `json:"prefix,omitempty"`
	FormalName string      `json:"formal_name"`
	ReadDII    string      `json:"read_dii,omitempty"`
	WriteDII   string      `json:"write_dii,omitempty"`
	StorageID  string      `json:"storage_id,omitempty"`
	Value      []byte      `json:"value,omitempty"`
	Sources    []SourceRef `json:"sources,omitempty"`
	Collection []ParamWire `json:"collection,omitempty"`
}

// SourceRef names a worker known to hold a live copy of a renaming.
type SourceRef struct {
	WorkerID string `json:"worker_id"`
	FilePath string `json:"file_path,omitempty"`
}

// ImplementationWire is the wire-level encoding of one
// datamodel.ImplementationCandidate.
type ImplementationWire struct {
	ID             string  `json:"id"`
	WorkerKind     string  `json:"worker_kind,omitempty"`
	Cores          float64 `json:"cores"`
	MemoryMB       float64 `json:"memory_mb"`
	StorageMB      float64 `json:"storage_mb"`
	Accelerators   float64 `json:"accelerators"`
	TimeoutMs      int64   `json:"timeout_ms"`
	MaxRetries     int     `json:"max_retries"`
	ContainerImage string  `json:"container_image,omitempty"`
}

// SubmitTask is the inbound submission RPC payload of spec §6:
// (appId, taskSignature, implementations[], params[]).
type SubmitTask struct {
	AppID           string               `json:"app_id"`
	Group           string               `json:"group,omitempty"`
	Signature       string               `json:"signature"`
	Priority        int                  `json:"priority"`
	Implementations []ImplementationWire `json:"implementations"`
	Params          []ParamWire          `json:"params"`
}

// JobDispatch is the outbound job message sent to a worker agent (spec §6
// Outbound): (renamings, source locations, implementation, sandbox path,
// tracing flags).
type JobDispatch struct {
	TaskID         uint64               `json:"task_id"`
	AppID          string               `json:"app_id"`
	Signature      string               `json:"signature"`
	Implementation ImplementationWire   `json:"implementation"`
	Params         []ParamWire          `json:"params"`
	SandboxPath    string               `json:"sandbox_path"`
	TraceEnabled   bool                 `json:"trace_enabled"`
	DispatchedAt   time.Time            `json:"dispatched_at"`
}

// Completion is the completion message a worker sends back (spec §6):
// (taskId, status, producedRenamings[], profilingRecord).
type Completion struct {
	TaskID            uint64             `json:"task_id"`
	Status            string             `json:"status"` // "done" | "failed"
	ErrorKind         string             `json:"error_kind,omitempty"`
	ProducedRenamings []ProducedRenaming `json:"produced_renamings,omitempty"`
	Profiling         ProfileEntry       `json:"profiling"`
}

// ProducedRenaming names one renaming a completed action wrote and its
// size, so the master can record it as resident on the worker that
// produced it (spec §4.4 dataLocalityScore).
type ProducedRenaming struct {
	DII   string `json:"dii"`
	Bytes int64  `json:"bytes"`
}

// ProfileEntry is the profilingRecord of spec §6, fed into the
// scheduler's rolling Profile.
type ProfileEntry struct {
	WallMs           int64 `json:"wall_ms"`
	BytesTransferred int64 `json:"bytes_transferred"`
}

// CancelTask is the outbound cancellation message of spec §6: (taskId).
type CancelTask struct {
	TaskID uint64 `json:"task_id"`
}

// TaskStarted is the inbound ack a worker sends once it has begun
// executing a SCHEDULED action, transitioning it to RUNNING (spec §4.3).
type TaskStarted struct {
	TaskID uint64 `json:"task_id"`
}

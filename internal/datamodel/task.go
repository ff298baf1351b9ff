package datamodel

import "time"

// TaskState is a position in the state machine of §4.3.
type TaskState int

const (
	TaskCreated TaskState = iota
	TaskWaiting
	TaskReady
	TaskScheduled
	TaskRunning
	TaskDone
	TaskFailed
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskCreated:
		return "CREATED"
	case TaskWaiting:
		return "WAITING"
	case TaskReady:
		return "READY"
	case TaskScheduled:
		return "SCHEDULED"
	case TaskRunning:
		return "RUNNING"
	case TaskDone:
		return "DONE"
	case TaskFailed:
		return "FAILED"
	case TaskCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether s is DONE, FAILED or CANCELLED.
func (s TaskState) IsTerminal() bool {
	return s == TaskDone || s == TaskFailed || s == TaskCancelled
}

// ResourceVector is the resource requirement/availability vector used by
// the scheduler's resourceScore (§4.4).
type ResourceVector struct {
	Cores          float64
	MemoryMB       float64
	StorageMB      float64
	Accelerators   float64
}

// ImplementationCandidate declares one way to run a task: its resource
// requirements and the worker kind it targets (§3 Task).
type ImplementationCandidate struct {
	ID           string
	WorkerKind   string
	Resources    ResourceVector
	TimeoutMs    int64
	MaxRetries   int
	ContainerImage string // non-empty selects the docker execution backend
}

// TaskID identifies an Action.
type TaskID uint64

// AppID identifies a submitting application/session.
type AppID string

// Task is an Action per §3/§4.3: implementation candidates, parameters,
// priority and current state.
type Task struct {
	ID              TaskID
	App             AppID
	Group           string
	Signature       string
	Implementations []ImplementationCandidate
	Params          []Param
	Priority        int
	SubmitPriority  int
	State           TaskState
	SubmittedAt     time.Time

	// DAG bookkeeping, owned by the Task Analyser's dispatcher thread.
	PendingPredecessors int
	Successors          map[TaskID]struct{}
	Attempt             int

	// Placement, owned by the Scheduler.
	WorkerID       string
	ImplementationID string
}

// EffectivePriority applies the starvation bump (§4.4), capped at
// SubmitPriority + 10 per the Open Questions resolution in spec.md §9.
func (t *Task) EffectivePriority(now time.Time, maxWait, bumpInterval time.Duration) int {
	if t.State != TaskReady {
		return t.Priority
	}
	waited := now.Sub(t.SubmittedAt)
	if waited <= maxWait {
		return t.Priority
	}
	bumps := int((waited - maxWait) / bumpInterval)
	eff := t.Priority + bumps
	ceiling := t.SubmitPriority + 10
	if eff > ceiling {
		eff = ceiling
	}
	return eff
}

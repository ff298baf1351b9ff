// Package scheduler implements the Scheduler (component D): the ready
// queue, per-worker action queues, scoring and placement, and the
// task-end/resource-change event reactions of spec §4.4.
package scheduler

import (
	"github.com/compsweave/taskrt/internal/datamodel"
)

// Score is the ordered, lexicographically-compared tuple of §4.4. Higher
// wins on every component in order.
type Score struct {
	Priority         int
	DataLocality     float64
	DataLocalityCount int // tie-break for DataLocality: count of present params (§4.4)
	Resource         float64
	Implementation   float64
}

// Less reports whether s scores strictly lower than other.
func (s Score) Less(other Score) bool {
	if s.Priority != other.Priority {
		return s.Priority < other.Priority
	}
	if s.DataLocality != other.DataLocality {
		return s.DataLocality < other.DataLocality
	}
	if s.DataLocalityCount != other.DataLocalityCount {
		return s.DataLocalityCount < other.DataLocalityCount
	}
	if s.Resource != other.Resource {
		return s.Resource < other.Resource
	}
	return s.Implementation < other.Implementation
}

// implementationScore is the 4th Score component of §4.4: the negative
// expected wall time of running action on worker, so a faster-expected
// placement outranks a slower one. Falls back from the (action, worker)
// pair's own mean to the action's class mean across all workers, and to 0
// (no preference) once neither has a sample yet.
func implementationScore(action *datamodel.Task, worker *WorkerView, profile *Profile) float64 {
	if profile == nil {
		return 0
	}
	if wall, ok := profile.ExpectedWallMs(action.Signature, worker.ID); ok {
		return -wall
	}
	if wall, ok := profile.ClassMeanWallMs(action.Signature); ok {
		return -wall
	}
	return 0
}

// Policy is the single pluggable operation every scheduler variant
// implements, plus the two lifecycle hooks (§4.4 Variants, §9). Shared
// infrastructure — the ready queue, worker bookkeeping, placement loop —
// lives in Engine and is identical across policies.
type Policy interface {
	// Score rates placing action on worker using implementation impl.
	Score(action *datamodel.Task, worker *WorkerView, impl *datamodel.ImplementationCandidate, profile *Profile) Score
	// OnActionReady is called once when action enters the ready queue.
	OnActionReady(action *datamodel.Task)
	// OnActionEnd is called once an action leaves RUNNING, successfully
	// or not.
	OnActionEnd(action *datamodel.Task, worker *WorkerView, success bool)
}

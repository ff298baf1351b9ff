package scheduler

import "github.com/compsweave/taskrt/internal/datamodel"

// FIFOScheduler is the baseline Policy of §4.4 Variants: priority only,
// every other score component flat so placement falls back to the
// queue-length/lexicographic tie-break in Engine.
type FIFOScheduler struct{}

func NewFIFOScheduler() *FIFOScheduler { return &FIFOScheduler{} }

func (FIFOScheduler) Score(action *datamodel.Task, worker *WorkerView, impl *datamodel.ImplementationCandidate, profile *Profile) Score {
	return Score{Priority: action.Priority}
}

func (FIFOScheduler) OnActionReady(action *datamodel.Task) {}

func (FIFOScheduler) OnActionEnd(action *datamodel.Task, worker *WorkerView, success bool) {}

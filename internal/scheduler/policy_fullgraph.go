package scheduler

import "github.com/compsweave/taskrt/internal/datamodel"

// FullGraphScheduler extends DataScheduler's locality scoring with a
// lookahead over action's direct successors: placing action where its
// successors' inputs will also already be resident is rewarded: the mean
// of the successors' resident bytes is added at lookaheadWeight (0.25) to
// action's own resident bytes, so a worker holding enough successor data
// can outrank one that holds action's own data (§4.4 Variants).
type FullGraphScheduler struct {
	graph SuccessorGraph
}

// SuccessorGraph is the minimal view into the Task Analyser's DAG that
// FullGraphScheduler needs: the direct successors of a task, by id.
type SuccessorGraph interface {
	Successors(id datamodel.TaskID) []*datamodel.Task
}

func NewFullGraphScheduler(graph SuccessorGraph) *FullGraphScheduler {
	return &FullGraphScheduler{graph: graph}
}

const lookaheadWeight = 0.25

func (s *FullGraphScheduler) Score(action *datamodel.Task, worker *WorkerView, impl *datamodel.ImplementationCandidate, profile *Profile) Score {
	ownBytes, ownCount := dataLocalityScore(action, worker)
	lookahead := s.successorLocality(action, worker)
	return Score{
		Priority:          action.Priority,
		DataLocality:       ownBytes + lookaheadWeight*lookahead,
		DataLocalityCount: ownCount,
		Resource:          resourceScore(worker.Available(), impl.Resources),
		Implementation:    implementationScore(action, worker, profile),
	}
}

func (s *FullGraphScheduler) successorLocality(action *datamodel.Task, worker *WorkerView) float64 {
	if s.graph == nil {
		return 0
	}
	successors := s.graph.Successors(action.ID)
	if len(successors) == 0 {
		return 0
	}
	var total float64
	for _, succ := range successors {
		bytes, _ := dataLocalityScore(succ, worker)
		total += bytes
	}
	return total / float64(len(successors))
}

func (s *FullGraphScheduler) OnActionReady(action *datamodel.Task) {}

func (s *FullGraphScheduler) OnActionEnd(action *datamodel.Task, worker *WorkerView, success bool) {}

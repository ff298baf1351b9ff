package scheduler

import (
	"testing"

	"github.com/compsweave/taskrt/internal/datamodel"
)

type fakeGraph struct {
	successors map[datamodel.TaskID][]*datamodel.Task
}

func (g *fakeGraph) Successors(id datamodel.TaskID) []*datamodel.Task {
	return g.successors[id]
}

func TestDataSchedulerPrefersResidentWorker(t *testing.T) {
	policy := NewDataScheduler()
	task := simpleTask(1, 1)
	task.Params = []datamodel.Param{
		{Access: datamodel.Access{DID: 10, Mode: datamodel.R}, ReadDII: "d10_v1"},
	}
	impl := &task.Implementations[0]

	hot := NewWorkerView("hot", "cpu", datamodel.ResourceVector{Cores: 4})
	hot.Present["d10_v1"] = 1024
	cold := NewWorkerView("cold", "cpu", datamodel.ResourceVector{Cores: 4})

	profile := NewProfile()
	hotScore := policy.Score(task, hot, impl, profile)
	coldScore := policy.Score(task, cold, impl, profile)

	if !coldScore.Less(hotScore) {
		t.Fatalf("expected hot worker to outscore cold worker: hot=%+v cold=%+v", hotScore, coldScore)
	}
}

func TestDataSchedulerSumsBytesNotCount(t *testing.T) {
	// S5: D1 (4096 bytes) lives on w1, D2 (512 bytes) lives on w2, and the
	// task reads both. Each worker is "present" for exactly one of the two
	// params, so a count-based score would tie at 1/2; summing bytes must
	// pick w1, which holds the larger of {size(D1), size(D2)}.
	policy := NewDataScheduler()
	task := simpleTask(1, 1)
	task.Params = []datamodel.Param{
		{Access: datamodel.Access{DID: 10, Mode: datamodel.R}, ReadDII: "d10_v1"},
		{Access: datamodel.Access{DID: 20, Mode: datamodel.R}, ReadDII: "d20_v1"},
	}
	impl := &task.Implementations[0]

	w1 := NewWorkerView("w1", "cpu", datamodel.ResourceVector{Cores: 4})
	w1.Present["d10_v1"] = 4096
	w2 := NewWorkerView("w2", "cpu", datamodel.ResourceVector{Cores: 4})
	w2.Present["d20_v1"] = 512

	profile := NewProfile()
	s1 := policy.Score(task, w1, impl, profile)
	s2 := policy.Score(task, w2, impl, profile)

	if !s2.Less(s1) {
		t.Fatalf("expected worker holding the larger renaming to outscore the other: w1=%+v w2=%+v", s1, s2)
	}
}

func TestImplementationScoreFallsBackToClassMeanThenZero(t *testing.T) {
	profile := NewProfile()
	w := NewWorkerView("w1", "cpu", datamodel.ResourceVector{Cores: 4})
	task := simpleTask(1, 1)

	if got := implementationScore(task, w, profile); got != 0 {
		t.Fatalf("expected 0 with no samples at all, got %v", got)
	}

	// A sample on a different worker seeds the class mean but not w1's own.
	profile.Record(task.Signature, "other", 100, 0, true)
	if got := implementationScore(task, w, profile); got != -100 {
		t.Fatalf("expected class-mean fallback of -100, got %v", got)
	}

	// Once w1 has its own sample, it takes priority over the class mean.
	profile.Record(task.Signature, w.ID, 10, 0, true)
	if got := implementationScore(task, w, profile); got != -10 {
		t.Fatalf("expected worker's own mean of -10 to win over the class mean, got %v", got)
	}
}

func TestFullGraphSchedulerRewardsSuccessorLocality(t *testing.T) {
	task := simpleTask(1, 1)
	succ := simpleTask(2, 1)
	succ.Params = []datamodel.Param{
		{Access: datamodel.Access{DID: 20, Mode: datamodel.R}, ReadDII: "d20_v1"},
	}
	graph := &fakeGraph{successors: map[datamodel.TaskID][]*datamodel.Task{1: {succ}}}
	policy := NewFullGraphScheduler(graph)
	impl := &task.Implementations[0]

	hot := NewWorkerView("hot", "cpu", datamodel.ResourceVector{Cores: 4})
	hot.Present["d20_v1"] = 512
	cold := NewWorkerView("cold", "cpu", datamodel.ResourceVector{Cores: 4})

	profile := NewProfile()
	hotScore := policy.Score(task, hot, impl, profile)
	coldScore := policy.Score(task, cold, impl, profile)

	if !coldScore.Less(hotScore) {
		t.Fatalf("expected lookahead to favour the worker holding the successor's input: hot=%+v cold=%+v", hotScore, coldScore)
	}
}

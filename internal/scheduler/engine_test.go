package scheduler

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/compsweave/taskrt/internal/datamodel"
)

type fakeDispatcher struct {
	ended      map[datamodel.TaskID]bool
	dispatched map[datamodel.TaskID]string
}

func (f *fakeDispatcher) TaskEnded(taskID datamodel.TaskID, success bool) {
	if f.ended == nil {
		f.ended = make(map[datamodel.TaskID]bool)
	}
	f.ended[taskID] = success
}

func (f *fakeDispatcher) Dispatch(workerID string, task *datamodel.Task, impl *datamodel.ImplementationCandidate) {
	if f.dispatched == nil {
		f.dispatched = make(map[datamodel.TaskID]string)
	}
	f.dispatched[task.ID] = workerID
}

func (f *fakeDispatcher) NotifyCancel(workerID string, taskID datamodel.TaskID) {}

func newTestEngine(policy Policy) (*Engine, *fakeDispatcher) {
	disp := &fakeDispatcher{}
	e := NewEngine(policy, disp, DefaultOptions(), zap.NewNop())
	return e, disp
}

func simpleTask(id datamodel.TaskID, priority int) *datamodel.Task {
	return &datamodel.Task{
		ID:        id,
		Signature: "add",
		Priority:  priority,
		State:     datamodel.TaskReady,
		Implementations: []datamodel.ImplementationCandidate{
			{ID: "impl0", Resources: datamodel.ResourceVector{Cores: 1, MemoryMB: 1}},
		},
		SubmittedAt: time.Now(),
	}
}

func TestSubmitActionPlacesOnFreeWorker(t *testing.T) {
	e, _ := newTestEngine(NewFIFOScheduler())
	w := NewWorkerView("w1", "cpu", datamodel.ResourceVector{Cores: 4, MemoryMB: 4096})
	e.WorkerAdded(w)

	task := simpleTask(1, 5)
	e.SubmitAction(task)

	if task.State != datamodel.TaskScheduled {
		t.Fatalf("expected SCHEDULED, got %v", task.State)
	}
	if task.WorkerID != "w1" {
		t.Fatalf("expected placement on w1, got %q", task.WorkerID)
	}
}

func TestSubmitActionQueuesWithoutCapacity(t *testing.T) {
	e, _ := newTestEngine(NewFIFOScheduler())
	w := NewWorkerView("w1", "cpu", datamodel.ResourceVector{Cores: 0, MemoryMB: 0})
	e.WorkerAdded(w)

	task := simpleTask(1, 5)
	e.SubmitAction(task)

	if task.State != datamodel.TaskReady {
		t.Fatalf("expected task to remain READY when no capacity, got %v", task.State)
	}
	if len(e.unassigned) != 1 {
		t.Fatalf("expected 1 queued task, got %d", len(e.unassigned))
	}
}

func TestActionCompletedFreesResourcesAndNotifies(t *testing.T) {
	e, disp := newTestEngine(NewFIFOScheduler())
	w := NewWorkerView("w1", "cpu", datamodel.ResourceVector{Cores: 1, MemoryMB: 1})
	e.WorkerAdded(w)

	task := simpleTask(1, 5)
	e.SubmitAction(task)
	e.AckStart(task.ID)

	e.ActionCompleted(task.ID, true, 120, 4096, nil)

	if !disp.ended[task.ID] {
		t.Fatalf("expected dispatcher to be notified of success")
	}
	if w.Used.Cores != 0 {
		t.Fatalf("expected resources released, used=%v", w.Used)
	}
}

func TestActionCompletedRecordsProducedRenamings(t *testing.T) {
	e, _ := newTestEngine(NewDataScheduler())
	w := NewWorkerView("w1", "cpu", datamodel.ResourceVector{Cores: 1, MemoryMB: 1})
	e.WorkerAdded(w)

	task := simpleTask(1, 5)
	e.SubmitAction(task)
	e.AckStart(task.ID)

	e.ActionCompleted(task.ID, true, 120, 4096, []ProducedRenaming{{DII: "d10_v1", Bytes: 2048}})

	if size, ok := w.Present["d10_v1"]; !ok || size != 2048 {
		t.Fatalf("expected produced renaming recorded on worker, present=%v", w.Present)
	}
}

func TestWorkerRemovedRequeuesLocalAndRunning(t *testing.T) {
	e, disp := newTestEngine(NewFIFOScheduler())
	w1 := NewWorkerView("w1", "cpu", datamodel.ResourceVector{Cores: 1, MemoryMB: 1})
	e.WorkerAdded(w1)

	retriable := simpleTask(1, 5)
	retriable.Implementations[0].MaxRetries = 1
	e.SubmitAction(retriable)
	e.AckStart(retriable.ID)

	queued := simpleTask(2, 5)
	e.SubmitAction(queued) // queues, no capacity left on w1

	e.WorkerRemoved("w1")

	if retriable.State != datamodel.TaskReady {
		t.Fatalf("expected retriable task requeued as READY, got %v", retriable.State)
	}
	if disp.ended[2] {
		t.Fatalf("task 2 was never running, should not be reported ended")
	}
}

func TestCancelRemovesFromQueue(t *testing.T) {
	e, _ := newTestEngine(NewFIFOScheduler())
	task := simpleTask(1, 5)
	e.mu.Lock()
	e.nextSeq++
	e.unassigned = append(e.unassigned, &entry{task: task, seq: e.nextSeq})
	e.mu.Unlock()

	e.Cancel(task.ID)

	if task.State != datamodel.TaskCancelled {
		t.Fatalf("expected CANCELLED, got %v", task.State)
	}
	if len(e.unassigned) != 0 {
		t.Fatalf("expected queue drained, got %d", len(e.unassigned))
	}
}

func TestDataLocalityScoreFavoursResidentWorker(t *testing.T) {
	task := simpleTask(1, 1)
	task.Params = []datamodel.Param{
		{Access: datamodel.Access{DID: 10, Mode: datamodel.R}, ReadDII: "d10_v1"},
	}

	cold := NewWorkerView("cold", "cpu", datamodel.ResourceVector{Cores: 4})
	hot := NewWorkerView("hot", "cpu", datamodel.ResourceVector{Cores: 4})
	hot.Present["d10_v1"] = 2048

	if bytes, count := dataLocalityScore(task, cold); bytes != 0 || count != 0 {
		t.Fatalf("expected 0 bytes/0 count locality on cold worker, got bytes=%v count=%v", bytes, count)
	}
	if bytes, count := dataLocalityScore(task, hot); bytes != 2048 || count != 1 {
		t.Fatalf("expected 2048 bytes/1 count locality on hot worker, got bytes=%v count=%v", bytes, count)
	}
}

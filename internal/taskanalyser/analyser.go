// Package taskanalyser implements the Task Analyser (component C): it
// consumes task submissions, calls the Data Info Provider to version each
// parameter, builds the implicit dependency DAG from the resulting DIIs,
// and emits ready/blocked transitions to the Scheduler (spec §4.2).
//
// Like the Data Info Provider it drives, the Analyser is meant to be owned
// by a single dispatcher goroutine (spec §5): all public methods take an
// internal mutex for the whole call, which is safe because none of them
// block while holding it — blocking waits (barriers, findWaitedTask)
// register a channel and release the lock before waiting on it.
package taskanalyser

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/compsweave/taskrt/internal/datainfo"
	"github.com/compsweave/taskrt/internal/datamodel"
)

// ReadyNotifier receives tasks the moment they become READY, implementing
// the Scheduler's onActionReady hook (spec §4.2, §9).
type ReadyNotifier interface {
	OnActionReady(task *datamodel.Task)
}

// Analyser is the Task Analyser.
type Analyser struct {
	dip *datainfo.Provider
	log *zap.Logger

	mu sync.Mutex

	tasks map[datamodel.TaskID]*datamodel.Task

	// producers maps a DII to the task(s) that hold it as a write target.
	// A slice rather than a single id because concurrent/commutative
	// write groups share one DII across several producers (§4.2 edge
	// cases).
	producers map[datamodel.DII][]datamodel.TaskID

	// pendingReaders tracks, per DID, the tasks currently holding a live
	// read access that has not yet called endTask — used to compute
	// write-after-read edges for plain W accesses, which the Data Info
	// Provider does not expose a predecessor-reader list for.
	pendingReaders map[datamodel.DID][]datamodel.TaskID

	appPending   map[datamodel.AppID]int
	groupPending map[string]int // key: string(app) + "/" + group

	appWaiters   map[datamodel.AppID][]chan struct{}
	groupWaiters map[string][]chan struct{}

	appTasks map[datamodel.AppID][]datamodel.TaskID

	sched ReadyNotifier

	// fatal is set once a DAG invariant violation is observed; once set,
	// the Analyser refuses new submissions (§4.2 Failure model, §7
	// CorruptSchedulerState propagation).
	fatal error
}

// New builds an Analyser against dip, notifying sched of ready tasks.
func New(dip *datainfo.Provider, sched ReadyNotifier, log *zap.Logger) *Analyser {
	return &Analyser{
		dip:            dip,
		sched:          sched,
		log:            log,
		tasks:          make(map[datamodel.TaskID]*datamodel.Task),
		producers:      make(map[datamodel.DII][]datamodel.TaskID),
		pendingReaders: make(map[datamodel.DID][]datamodel.TaskID),
		appPending:     make(map[datamodel.AppID]int),
		groupPending:   make(map[string]int),
		appWaiters:     make(map[datamodel.AppID][]chan struct{}),
		groupWaiters:   make(map[string][]chan struct{}),
		appTasks:       make(map[datamodel.AppID][]datamodel.TaskID),
	}
}

func groupKey(app datamodel.AppID, group string) string {
	return string(app) + "/" + group
}

// ProcessTask registers task, versions every parameter through the Data
// Info Provider, computes its predecessor count, and transitions it to
// READY immediately if it has none (spec §4.2).
func (a *Analyser) ProcessTask(task *datamodel.Task) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.fatal != nil {
		return a.fatal
	}

	task.State = datamodel.TaskCreated
	task.Successors = make(map[datamodel.TaskID]struct{})
	task.SubmitPriority = task.Priority

	for pi := range task.Params {
		leaves := task.Params[pi].Flatten()
		for _, leaf := range leaves {
			if err := a.registerLeaf(task, leaf); err != nil {
				return fmt.Errorf("processTask %d: %w", task.ID, err)
			}
		}
	}

	a.tasks[task.ID] = task
	a.appTasks[task.App] = append(a.appTasks[task.App], task.ID)
	a.appPending[task.App]++
	if task.Group != "" {
		a.groupPending[groupKey(task.App, task.Group)]++
	}

	if task.PendingPredecessors == 0 {
		a.markReady(task)
	} else {
		task.State = datamodel.TaskWaiting
	}
	return nil
}

func (a *Analyser) registerLeaf(task *datamodel.Task, leaf *datamodel.Param) error {
	res, err := a.dip.RegisterAccess(task.App, leaf.Access)
	if err != nil {
		return err
	}
	leaf.ReadDII, leaf.WriteDII = res.ReadDII, res.WriteDII

	did := leaf.Access.DID

	if res.HasRead {
		for _, producerID := range a.producers[res.ReadDII] {
			a.addEdge(producerID, task)
		}
	}

	if res.HasWrite {
		for _, readerID := range a.pendingReaders[did] {
			if readerID != task.ID {
				a.addEdge(readerID, task)
			}
		}
		a.producers[res.WriteDII] = append(a.producers[res.WriteDII], task.ID)
	}

	if res.HasRead {
		a.pendingReaders[did] = append(a.pendingReaders[did], task.ID)
	}

	return nil
}

// addEdge records that successor depends on producer, unless producer is
// already terminal (dependency already satisfied) or is the successor
// itself.
func (a *Analyser) addEdge(producerID datamodel.TaskID, successor *datamodel.Task) {
	if producerID == successor.ID {
		return
	}
	producer, ok := a.tasks[producerID]
	if !ok || producer.State.IsTerminal() {
		return
	}
	if _, dup := producer.Successors[successor.ID]; dup {
		return
	}
	producer.Successors[successor.ID] = struct{}{}
	successor.PendingPredecessors++
}

func (a *Analyser) markReady(task *datamodel.Task) {
	task.State = datamodel.TaskReady
	if a.sched != nil {
		a.sched.OnActionReady(task)
	}
}

// Successors returns the direct successor tasks of id still known to the
// Analyser, for the Scheduler's lookahead policy (§4.4 FullGraphScheduler).
func (a *Analyser) Successors(id datamodel.TaskID) []*datamodel.Task {
	a.mu.Lock()
	defer a.mu.Unlock()

	task, ok := a.tasks[id]
	if !ok {
		return nil
	}
	out := make([]*datamodel.Task, 0, len(task.Successors))
	for succID := range task.Successors {
		if succ, ok := a.tasks[succID]; ok {
			out = append(out, succ)
		}
	}
	return out
}

// TaskSnapshot is a read-only view of one task for the introspection
// endpoint of SPEC_FULL §3 Supplemented features (/v1/tasks/{id}).
type TaskSnapshot struct {
	ID               datamodel.TaskID
	App              datamodel.AppID
	Group            string
	Signature        string
	State            string
	Priority         int
	SubmitPriority   int
	Attempt          int
	WorkerID         string
	ImplementationID string
}

// Snapshot returns a value copy of task id's scalar fields.
func (a *Analyser) Snapshot(id datamodel.TaskID) (TaskSnapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tasks[id]
	if !ok {
		return TaskSnapshot{}, false
	}
	return TaskSnapshot{
		ID:               t.ID,
		App:              t.App,
		Group:            t.Group,
		Signature:        t.Signature,
		State:            t.State.String(),
		Priority:         t.Priority,
		SubmitPriority:   t.SubmitPriority,
		Attempt:          t.Attempt,
		WorkerID:         t.WorkerID,
		ImplementationID: t.ImplementationID,
	}, true
}

func (a *Analyser) removePendingReader(did datamodel.DID, taskID datamodel.TaskID) {
	list := a.pendingReaders[did]
	for i, id := range list {
		if id == taskID {
			a.pendingReaders[did] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Package runtime wires the Data Info Provider, Task Analyser and
// Scheduler into the single process-wide struct spec.md §9 Design Notes
// calls for ("keep the dispatcher owning {DIP, TA, Scheduler, workerSet}
// inside one process-wide runtime struct"), and owns the worker set the
// discovery Watcher drives.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	consulapi "github.com/hashicorp/consul/api"

	"github.com/compsweave/taskrt/internal/datainfo"
	"github.com/compsweave/taskrt/internal/datamodel"
	"github.com/compsweave/taskrt/internal/ids"
	"github.com/compsweave/taskrt/internal/scheduler"
	"github.com/compsweave/taskrt/internal/taskanalyser"
	"github.com/compsweave/taskrt/pkg/wire"
)

// JobPublisher is the outbound half of the NATS wire layer (spec §6
// Outbound): Runtime.Dispatch hands it the job message once the Scheduler
// places a task on a worker.
type JobPublisher interface {
	PublishDispatch(workerID string, msg wire.JobDispatch) error
	PublishCancel(workerID string, msg wire.CancelTask) error
}

// Runtime is the master process's single process-wide struct: every
// inbound request (submission, barrier, cancellation, worker
// join/leave) is a method call on this type. The calls arrive on several
// goroutines (HTTP handlers, transport subscriptions, the discovery
// Watcher, the cancel-timeout ticker); no single goroutine serialises
// them, and each component guards its own state with its own mutex.
type Runtime struct {
	log *zap.Logger

	alloc *ids.Allocator
	dip   *datainfo.Provider
	ta    *taskanalyser.Analyser
	sched *scheduler.Engine

	mu      sync.Mutex
	workers map[string]*scheduler.WorkerView // worker id -> view, keyed separately from Engine for Consul ServiceID lookups

	pub JobPublisher // nil disables wire dispatch, e.g. in tests
}

// New builds a Runtime around the policy policyFactory builds, given the
// Task Analyser's successor graph (needed by FullGraphScheduler's
// lookahead, spec §4.4). The Task Analyser notifies the Runtime itself of
// ready tasks rather than the Scheduler directly, so the Scheduler can be
// constructed after the Analyser it needs a graph view of. pub may be nil,
// e.g. in tests that never need a live dispatch.
func New(policyFactory func(scheduler.SuccessorGraph) scheduler.Policy, opts scheduler.Options, pub JobPublisher, log *zap.Logger) *Runtime {
	rt := &Runtime{
		log:     log,
		alloc:   ids.NewAllocator(),
		workers: make(map[string]*scheduler.WorkerView),
		pub:     pub,
	}
	rt.dip = datainfo.New(rt.alloc, log)
	rt.ta = taskanalyser.New(rt.dip, rt, log)
	rt.sched = scheduler.NewEngine(policyFactory(rt.ta), rt, opts, log)
	return rt
}

// OnActionReady implements taskanalyser.ReadyNotifier, forwarding to the
// Scheduler once it exists.
func (rt *Runtime) OnActionReady(task *datamodel.Task) {
	rt.sched.OnActionReady(task)
}

// TaskEnded implements scheduler.Dispatcher: once the Scheduler observes
// a RUNNING action reach a terminal outcome, the Task Analyser releases
// or cancels its successors (spec §4.2/§4.4).
func (rt *Runtime) TaskEnded(taskID datamodel.TaskID, success bool) {
	if err := rt.ta.EndTask(taskID, success); err != nil {
		rt.log.Error("endTask failed, scheduler state is now suspect", zap.Uint64("task_id", uint64(taskID)), zap.Error(err))
	}
}

// SubmitTask registers and versions a new task, handing it to the
// Scheduler once it has no unmet predecessors (spec §4.2).
func (rt *Runtime) SubmitTask(task *datamodel.Task) error {
	task.ID = rt.alloc.NewTaskID()
	task.SubmittedAt = now()
	return rt.ta.ProcessTask(task)
}

// RegisterData mints a fresh logical data identifier, implementing the
// inbound registerData RPC of spec §6.
func (rt *Runtime) RegisterData() datamodel.DID {
	return rt.dip.NewData()
}

// OpenFile implements the inbound openFile RPC: it pins the latest
// version of did and blocks until its producing task has committed,
// returning the renaming the caller should read from (spec §4.1/§6).
func (rt *Runtime) OpenFile(ctx context.Context, did datamodel.DID) (datamodel.DII, error) {
	dii, ticket, err := rt.dip.BlockDataAndGetResultFile(did)
	if err != nil {
		return "", err
	}
	if err := ticket.Await(ctx); err != nil {
		return "", err
	}
	return dii, nil
}

// CloseFile implements the inbound closeFile RPC: it releases the read
// pin OpenFile took out on dii.
func (rt *Runtime) CloseFile(dii datamodel.DII) {
	rt.dip.FinishAccess(dii)
}

// DeleteFile implements the inbound deleteFile RPC: it waits until did's
// latest version is committed, then marks every version of did obsolete
// (spec §4.1). It does not wait for outstanding readers of that version.
func (rt *Runtime) DeleteFile(ctx context.Context, did datamodel.DID) error {
	dii, ticket, err := rt.dip.BlockDataAndGetResultFile(did)
	if err != nil {
		return err
	}
	if err := rt.dip.WaitForDataReadyToDelete(ctx, did, ticket); err != nil {
		return err
	}
	rt.dip.FinishAccess(dii)
	return rt.dip.DeleteData(did)
}

// Barrier blocks until every task of app submitted so far is terminal.
func (rt *Runtime) Barrier(ctx context.Context, app datamodel.AppID) error {
	return rt.ta.Barrier(ctx, app)
}

// BarrierGroup is Barrier scoped to a group.
func (rt *Runtime) BarrierGroup(ctx context.Context, app datamodel.AppID, group string) error {
	return rt.ta.BarrierGroup(ctx, app, group)
}

// CancelTask cancels one task and propagates to its successors.
func (rt *Runtime) CancelTask(taskID datamodel.TaskID) {
	rt.sched.Cancel(taskID)
	rt.ta.CancelTask(taskID)
}

// CancelApplication cancels every pending task of app.
func (rt *Runtime) CancelApplication(app datamodel.AppID) {
	rt.ta.CancelApplication(app)
}

// AckStart records that a worker has begun executing a SCHEDULED action.
func (rt *Runtime) AckStart(taskID datamodel.TaskID) {
	rt.sched.AckStart(taskID)
}

// ActionCompleted records the outcome of a RUNNING action, freeing its
// worker's resources, recording any renamings it produced as resident on
// that worker, and triggering endTask via TaskEnded.
func (rt *Runtime) ActionCompleted(taskID datamodel.TaskID, success bool, wallMs, bytesTransferred int64, produced []scheduler.ProducedRenaming) {
	rt.sched.ActionCompleted(taskID, success, wallMs, bytesTransferred, produced)
}

// WorkerJoined implements discovery.WorkerObserver: a newly healthy
// Consul service entry becomes a Scheduler WorkerView.
func (rt *Runtime) WorkerJoined(entry *consulapi.ServiceEntry) {
	total := parseResourceMeta(entry.Service.Meta)
	kind := entry.Service.Meta["kind"]
	w := scheduler.NewWorkerView(entry.Service.ID, kind, total)

	rt.mu.Lock()
	rt.workers[entry.Service.ID] = w
	rt.mu.Unlock()

	rt.sched.WorkerAdded(w)
}

// WorkerLeft implements discovery.WorkerObserver.
func (rt *Runtime) WorkerLeft(workerID string) {
	rt.mu.Lock()
	delete(rt.workers, workerID)
	rt.mu.Unlock()

	rt.sched.WorkerRemoved(workerID)
}

// DescribeTask implements the /v1/tasks/{id} introspection endpoint of
// SPEC_FULL §3 Supplemented features, including the task's current
// effective priority after any starvation bump.
func (rt *Runtime) DescribeTask(id datamodel.TaskID) (TaskDescription, bool) {
	snap, ok := rt.ta.Snapshot(id)
	if !ok {
		return TaskDescription{}, false
	}
	desc := TaskDescription{TaskSnapshot: snap, EffectivePriority: snap.Priority}
	if eff, ok := rt.sched.EffectivePriority(id); ok {
		desc.EffectivePriority = eff
	}
	return desc, true
}

// TaskDescription is the Runtime's answer to DescribeTask.
type TaskDescription struct {
	taskanalyser.TaskSnapshot
	EffectivePriority int
}

// Dispatch implements scheduler.Dispatcher: once placeLocked assigns task
// to workerID, send it the job message over the wire layer (spec §6
// Outbound). Sending happens while the Scheduler still holds its own
// lock, so a slow or blocked publisher stalls placement; a production
// deployment would hand this off to a queue instead.
func (rt *Runtime) Dispatch(workerID string, task *datamodel.Task, impl *datamodel.ImplementationCandidate) {
	if rt.pub == nil {
		return
	}
	msg := toWireJobDispatch(task, impl)
	if err := rt.pub.PublishDispatch(workerID, msg); err != nil {
		rt.log.Error("dispatch publish failed", zap.Uint64("task_id", uint64(task.ID)), zap.String("worker_id", workerID), zap.Error(err))
	}
}

// NotifyCancel implements scheduler.Dispatcher: tell workerID to abort
// taskID, already SCHEDULED or RUNNING there (spec §6 Outbound
// Cancellation).
func (rt *Runtime) NotifyCancel(workerID string, taskID datamodel.TaskID) {
	if rt.pub == nil {
		return
	}
	if err := rt.pub.PublishCancel(workerID, wire.CancelTask{TaskID: uint64(taskID)}); err != nil {
		rt.log.Error("cancel publish failed", zap.Uint64("task_id", uint64(taskID)), zap.String("worker_id", workerID), zap.Error(err))
	}
}

// SweepCancelTimeouts runs the periodic cancel-timeout check of §4.4; the
// caller (cmd/master) ticks this on a timer.
func (rt *Runtime) SweepCancelTimeouts() {
	rt.sched.SweepCancelTimeouts()
}

func parseResourceMeta(meta map[string]string) datamodel.ResourceVector {
	var rv datamodel.ResourceVector
	parseFloat(meta["cores"], &rv.Cores)
	parseFloat(meta["memory_mb"], &rv.MemoryMB)
	parseFloat(meta["storage_mb"], &rv.StorageMB)
	parseFloat(meta["accelerators"], &rv.Accelerators)
	return rv
}

func parseFloat(s string, out *float64) {
	if s == "" {
		return
	}
	var v float64
	if _, err := fmt.Sscanf(s, "%g", &v); err == nil {
		*out = v
	}
}

// now is a seam so tests can avoid depending on wall-clock time.
var now = func() time.Time { return time.Now() }

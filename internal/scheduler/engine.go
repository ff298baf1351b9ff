package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/compsweave/taskrt/internal/datamodel"
)

// Dispatcher is the callback surface the Scheduler needs from the Task
// Analyser: it is notified once a RUNNING action reaches a terminal
// outcome so endTask can run (§4.2/§4.4 data flow).
type Dispatcher interface {
	TaskEnded(taskID datamodel.TaskID, success bool)

	// Dispatch is called once placeLocked assigns task to workerID,
	// still holding e.mu — implementations must not call back into the
	// Engine synchronously.
	Dispatch(workerID string, task *datamodel.Task, impl *datamodel.ImplementationCandidate)

	// NotifyCancel is called when Cancel finds taskID already placed on
	// workerID, so the worker can abort a SCHEDULED or RUNNING action.
	NotifyCancel(workerID string, taskID datamodel.TaskID)
}

// Engine is the shared Scheduler infrastructure of §4.4: the ready queue,
// per-worker action queues, and the task-end/resource-change reactions.
// Everything policy-specific is delegated to a Policy (§9).
type Engine struct {
	mu sync.Mutex

	policy  Policy
	profile *Profile
	log     *zap.Logger
	disp    Dispatcher

	workers    map[string]*WorkerView
	unassigned []*entry

	nextSeq int64

	maxWait      time.Duration
	bumpInterval time.Duration
	cancelTimeout time.Duration

	cancelled map[datamodel.TaskID]time.Time
}

type entry struct {
	task *datamodel.Task
	seq  int64
}

// Options configures starvation and cancellation timing (§4.4, §6 Config
// surface; defaults match spec.md: 60s/30s/30s).
type Options struct {
	MaxWait       time.Duration
	BumpInterval  time.Duration
	CancelTimeout time.Duration
}

// DefaultOptions returns spec.md's documented defaults.
func DefaultOptions() Options {
	return Options{MaxWait: 60 * time.Second, BumpInterval: 30 * time.Second, CancelTimeout: 30 * time.Second}
}

// NewEngine builds an Engine running the given policy.
func NewEngine(policy Policy, disp Dispatcher, opts Options, log *zap.Logger) *Engine {
	if opts.MaxWait <= 0 {
		opts = DefaultOptions()
	}
	return &Engine{
		policy:        policy,
		profile:       NewProfile(),
		log:           log,
		disp:          disp,
		workers:       make(map[string]*WorkerView),
		maxWait:       opts.MaxWait,
		bumpInterval:  opts.BumpInterval,
		cancelTimeout: opts.CancelTimeout,
		cancelled:     make(map[datamodel.TaskID]time.Time),
	}
}

// OnActionReady implements taskanalyser.ReadyNotifier: a task entering
// READY is handed straight to SubmitAction.
func (e *Engine) OnActionReady(task *datamodel.Task) {
	e.SubmitAction(task)
}

// SubmitAction places action into unassignedReady, or directly onto a
// worker if one has free slots now (§4.4).
func (e *Engine) SubmitAction(task *datamodel.Task) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextSeq++
	e.unassigned = append(e.unassigned, &entry{task: task, seq: e.nextSeq})
	e.policy.OnActionReady(task)
	e.placementPassLocked()
}

// WorkerAdded registers w and re-evaluates pending placements.
func (e *Engine) WorkerAdded(w *WorkerView) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workers[w.ID] = w
	e.log.Info("worker added", zap.String("worker_id", w.ID), zap.String("kind", w.Kind))
	e.placementPassLocked()
}

// WorkerRemoved drops workerID; its RUNNING actions are requeued as READY
// (entering retry, per §4.3, if retries remain) and its local queue
// re-enters unassignedReady (§4.4).
func (e *Engine) WorkerRemoved(workerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, ok := e.workers[workerID]
	if !ok {
		return
	}
	delete(e.workers, workerID)
	e.log.Warn("worker removed", zap.String("worker_id", workerID))

	for _, t := range w.Local {
		e.nextSeq++
		e.unassigned = append(e.unassigned, &entry{task: t, seq: e.nextSeq})
	}
	for _, t := range w.Running {
		e.requeueOrFailLocked(t, fmt.Errorf("worker %s removed while action %d was running", workerID, t.ID))
	}
	e.placementPassLocked()
}

// requeueOrFailLocked implements the retry policy of §4.3: an action with
// retry budget remaining goes back to unassignedReady; otherwise the
// action is reported FAILED. The cause is not classified, and the faulting
// worker is not excluded from the action's next placement.
func (e *Engine) requeueOrFailLocked(t *datamodel.Task, cause error) {
	t.Attempt++
	impl := selectedImplementation(t)
	maxRetries := 0
	if impl != nil {
		maxRetries = impl.MaxRetries
	}
	if t.Attempt <= maxRetries {
		t.State = datamodel.TaskReady
		e.nextSeq++
		e.unassigned = append(e.unassigned, &entry{task: t, seq: e.nextSeq})
		e.log.Warn("action requeued for retry", zap.Uint64("task_id", uint64(t.ID)), zap.Int("attempt", t.Attempt), zap.Error(cause))
		return
	}
	e.log.Error("action exhausted retries", zap.Uint64("task_id", uint64(t.ID)), zap.Error(cause))
	e.disp.TaskEnded(t.ID, false)
}

func selectedImplementation(t *datamodel.Task) *datamodel.ImplementationCandidate {
	for i := range t.Implementations {
		if t.Implementations[i].ID == t.ImplementationID {
			return &t.Implementations[i]
		}
	}
	if len(t.Implementations) > 0 {
		return &t.Implementations[0]
	}
	return nil
}

// ProducedRenaming names one renaming a completed action wrote and its
// size, fed into ActionCompleted so the worker that produced it is
// recorded as holding it for future dataLocalityScore lookups (§4.4).
type ProducedRenaming struct {
	DII   datamodel.DII
	Bytes int64
}

// ActionCompleted frees worker resources, records profiling samples and
// the renamings the action produced (a data-arrival event: §4.4 "Rescore
// triggered on data arrival"), pulls the next action for that worker, and
// notifies the Task Analyser.
func (e *Engine) ActionCompleted(taskID datamodel.TaskID, success bool, wallMs, bytesTransferred int64, produced []ProducedRenaming) {
	e.mu.Lock()

	var worker *WorkerView
	var task *datamodel.Task
	for _, w := range e.workers {
		if t, ok := w.Running[taskID]; ok {
			worker, task = w, t
			break
		}
	}
	if task == nil {
		e.mu.Unlock()
		e.log.Warn("actionCompleted for unknown/untracked task", zap.Uint64("task_id", uint64(taskID)))
		return
	}

	impl := selectedImplementation(task)
	if impl != nil {
		worker.release(impl.Resources)
	}
	delete(worker.Running, taskID)
	e.profile.Record(task.Signature, worker.ID, wallMs, bytesTransferred, success)
	if success {
		for _, p := range produced {
			worker.Present[p.DII] = p.Bytes
		}
	}
	e.policy.OnActionEnd(task, worker, success)
	delete(e.cancelled, taskID)

	e.placementPassLocked()
	e.mu.Unlock()

	e.disp.TaskEnded(taskID, success)
}

// Rescore re-orders unassignedReady on a data-arrival event without
// preempting RUNNING actions (§4.4).
func (e *Engine) Rescore() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.placementPassLocked()
}

// placementPassLocked is the core placement loop of §4.4: iterate
// unassignedReady in (effective) priority order, and for each pick the
// highest-scoring (worker, implementation) pair with free resources.
func (e *Engine) placementPassLocked() {
	if len(e.unassigned) == 0 || len(e.workers) == 0 {
		return
	}

	now := time.Now()
	sort.SliceStable(e.unassigned, func(i, j int) bool {
		pi := e.unassigned[i].task.EffectivePriority(now, e.maxWait, e.bumpInterval)
		pj := e.unassigned[j].task.EffectivePriority(now, e.maxWait, e.bumpInterval)
		if pi != pj {
			return pi > pj
		}
		return e.unassigned[i].seq < e.unassigned[j].seq
	})

	remaining := make([]*entry, 0, len(e.unassigned))
	for _, ent := range e.unassigned {
		if ent.task.State == datamodel.TaskCancelled {
			continue
		}
		workerID, implID, ok := e.bestPlacementLocked(ent.task, now)
		if !ok {
			remaining = append(remaining, ent)
			continue
		}
		e.placeLocked(ent.task, workerID, implID)
	}
	e.unassigned = remaining
}

// bestPlacementLocked finds the highest-scoring (worker, implementation)
// pair with sufficient free resources for task, breaking ties by smallest
// running queue then lexicographically smallest worker id (§4.4).
func (e *Engine) bestPlacementLocked(task *datamodel.Task, now time.Time) (workerID, implID string, ok bool) {
	var best Score
	haveBest := false
	bestQueueLen := -1

	for _, wID := range sortedWorkerIDs(e.workers) {
		w := e.workers[wID]
		if w.Degraded {
			continue
		}
		for i := range task.Implementations {
			impl := &task.Implementations[i]
			if impl.WorkerKind != "" && impl.WorkerKind != w.Kind {
				continue
			}
			if !w.Fits(impl.Resources) {
				continue
			}
			s := e.policy.Score(task, w, impl, e.profile)
			queueLen := len(w.Running) + len(w.Local)
			better := !haveBest || best.Less(s) ||
				(!s.Less(best) && !best.Less(s) && (queueLen < bestQueueLen || (queueLen == bestQueueLen && w.ID < workerID)))
			if better {
				best, haveBest = s, true
				workerID, implID = w.ID, impl.ID
				bestQueueLen = queueLen
			}
		}
	}
	return workerID, implID, haveBest
}

func (e *Engine) placeLocked(task *datamodel.Task, workerID, implID string) {
	w := e.workers[workerID]
	var impl *datamodel.ImplementationCandidate
	for i := range task.Implementations {
		if task.Implementations[i].ID == implID {
			impl = &task.Implementations[i]
			break
		}
	}
	if impl == nil {
		return
	}
	w.reserve(impl.Resources)
	task.WorkerID = workerID
	task.ImplementationID = implID
	task.State = datamodel.TaskScheduled
	w.Local = append(w.Local, task)
	e.disp.Dispatch(workerID, task, impl)
}

// AckStart transitions a SCHEDULED action to RUNNING once the worker
// confirms it started executing (§4.3).
func (e *Engine) AckStart(taskID datamodel.TaskID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, w := range e.workers {
		for i, t := range w.Local {
			if t.ID == taskID {
				t.State = datamodel.TaskRunning
				w.Local = append(w.Local[:i], w.Local[i+1:]...)
				w.Running[taskID] = t
				return
			}
		}
	}
}

// Cancel removes action from queues if READY, or fire-and-forget notifies
// its worker if SCHEDULED/RUNNING (§4.4 Cancellation). Resources are freed
// only once the caller later observes a worker ack or CancelTimeout
// elapses — see SweepCancelTimeouts.
func (e *Engine) Cancel(taskID datamodel.TaskID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, ent := range e.unassigned {
		if ent.task.ID == taskID {
			ent.task.State = datamodel.TaskCancelled
			e.unassigned = append(e.unassigned[:i], e.unassigned[i+1:]...)
			return
		}
	}
	for _, w := range e.workers {
		for _, t := range append(append([]*datamodel.Task{}, w.Local...), valuesOf(w.Running)...) {
			if t.ID == taskID {
				t.State = datamodel.TaskCancelled
				e.cancelled[taskID] = time.Now()
				e.disp.NotifyCancel(w.ID, taskID)
				return
			}
		}
	}
}

// EffectivePriority reports taskID's current effective priority, for the
// /v1/tasks/{id} introspection endpoint (SPEC_FULL §3 Supplemented
// features). Only meaningful while the task sits in unassignedReady.
func (e *Engine) EffectivePriority(taskID datamodel.TaskID) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ent := range e.unassigned {
		if ent.task.ID == taskID {
			return ent.task.EffectivePriority(time.Now(), e.maxWait, e.bumpInterval), true
		}
	}
	return 0, false
}

func valuesOf(m map[datamodel.TaskID]*datamodel.Task) []*datamodel.Task {
	out := make([]*datamodel.Task, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	return out
}

// SweepCancelTimeouts marks workers degraded (firing WorkerRemoved) for
// any cancelled action whose CancelTimeout has elapsed without a worker
// ack (§4.4 Cancellation). Intended to be called periodically by the
// timeout timer thread of §5.
func (e *Engine) SweepCancelTimeouts() {
	e.mu.Lock()
	now := time.Now()
	var toRemove []string
	for taskID, at := range e.cancelled {
		if now.Sub(at) < e.cancelTimeout {
			continue
		}
		for _, w := range e.workers {
			if _, ok := w.Running[taskID]; ok {
				w.Degraded = true
				toRemove = append(toRemove, w.ID)
			}
		}
		delete(e.cancelled, taskID)
	}
	e.mu.Unlock()

	for _, id := range toRemove {
		e.WorkerRemoved(id)
	}
}

package taskanalyser

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/compsweave/taskrt/internal/datamodel"
)

// EndTask finishes task's readDIIs and writeDIIs and releases its
// successors per §4.2. On success=false, writeDIIs are invalidated and
// successors are cancelled transitively rather than merely unblocked —
// a deliberately conservative reading of "successors whose access mode is
// R on that writeDII are cancelled transitively": we cancel every direct
// successor rather than threading per-edge provenance, which never
// violates §8 property 6 (it only cancels a superset of what the minimal
// reading would).
func (a *Analyser) EndTask(taskID datamodel.TaskID, success bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.fatal != nil {
		return a.fatal
	}

	task, ok := a.tasks[taskID]
	if !ok {
		return fmt.Errorf("endTask: unknown task %d", taskID)
	}
	if task.State.IsTerminal() {
		a.log.Warn("endTask on already-terminal task, ignored", zap.Uint64("task_id", uint64(taskID)))
		return nil
	}

	for pi := range task.Params {
		for _, leaf := range task.Params[pi].Flatten() {
			if leaf.ReadDII != "" {
				a.dip.FinishAccess(leaf.ReadDII)
				a.removePendingReader(leaf.Access.DID, taskID)
			}
		}
	}

	if success {
		task.State = datamodel.TaskDone
		for pi := range task.Params {
			for _, leaf := range task.Params[pi].Flatten() {
				if leaf.WriteDII != "" {
					a.dip.MarkProduced(leaf.WriteDII)
				}
			}
		}
		if err := a.releaseSuccessors(task); err != nil {
			a.fatal = err
			return err
		}
	} else {
		task.State = datamodel.TaskFailed
		for pi := range task.Params {
			for _, leaf := range task.Params[pi].Flatten() {
				if leaf.WriteDII != "" {
					a.dip.InvalidateWrite(leaf.WriteDII)
				}
			}
		}
		a.cancelSuccessorsTransitively(task)
	}

	a.finishBookkeeping(task)
	return nil
}

// releaseSuccessors decrements pending-predecessor counts and promotes any
// successor that reaches zero to READY. A count going negative violates
// the DAG invariant and is fatal (§4.2 Failure model): the caller stops
// accepting new submissions rather than continuing with corrupted state.
func (a *Analyser) releaseSuccessors(task *datamodel.Task) error {
	for succID := range task.Successors {
		succ, ok := a.tasks[succID]
		if !ok || succ.State.IsTerminal() {
			continue
		}
		succ.PendingPredecessors--
		if succ.PendingPredecessors < 0 {
			return fmt.Errorf("task %d pending-predecessor count went negative: %w", succID, datamodel.ErrCorruptSchedulerState)
		}
		if succ.PendingPredecessors == 0 && succ.State == datamodel.TaskWaiting {
			a.markReady(succ)
		}
	}
	return nil
}

// cancelSuccessorsTransitively marks every direct successor of task, and
// recursively their successors, CANCELLED.
func (a *Analyser) cancelSuccessorsTransitively(task *datamodel.Task) {
	for succID := range task.Successors {
		a.cancelTaskLocked(succID)
	}
}

func (a *Analyser) cancelTaskLocked(taskID datamodel.TaskID) {
	task, ok := a.tasks[taskID]
	if !ok || task.State.IsTerminal() {
		return
	}
	task.State = datamodel.TaskCancelled
	for pi := range task.Params {
		for _, leaf := range task.Params[pi].Flatten() {
			if leaf.WriteDII != "" {
				a.dip.InvalidateWrite(leaf.WriteDII)
			}
			if leaf.ReadDII != "" {
				a.dip.FinishAccess(leaf.ReadDII)
				a.removePendingReader(leaf.Access.DID, taskID)
			}
		}
	}
	a.finishBookkeeping(task)
	a.cancelSuccessorsTransitively(task)
}

// CancelTask cancels a single task (e.g. on external kill or a READY task
// being removed by the Scheduler, §4.4 Cancellation) and propagates to its
// successors.
func (a *Analyser) CancelTask(taskID datamodel.TaskID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelTaskLocked(taskID)
}

// finishBookkeeping decrements the per-app/per-group pending counts and
// fires any barrier waiters that are now satisfied. Must be called with
// the lock held, exactly once per task reaching a terminal state.
func (a *Analyser) finishBookkeeping(task *datamodel.Task) {
	a.appPending[task.App]--
	if a.appPending[task.App] <= 0 {
		a.fireAppWaiters(task.App)
	}
	if task.Group != "" {
		key := groupKey(task.App, task.Group)
		a.groupPending[key]--
		if a.groupPending[key] <= 0 {
			a.fireGroupWaiters(key)
		}
	}
}

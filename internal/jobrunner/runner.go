package jobrunner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/compsweave/taskrt/internal/datamanager"
	"github.com/compsweave/taskrt/internal/datamodel"
	"github.com/compsweave/taskrt/internal/executor"
	"github.com/compsweave/taskrt/pkg/wire"
)

// Runner drives one dispatched job through fetch, execute and store,
// mirroring provider-daemon's executeTask pipeline but split across the
// Worker Data Manager and Executor collaborators (spec §5).
type Runner struct {
	WorkspaceRoot string
	DM            *datamanager.Manager
	Exec          executor.Executor
	Started       func(wire.TaskStarted) error
	Complete      func(wire.Completion) error
	Log           *zap.Logger

	mu      sync.Mutex
	running map[uint64]context.CancelFunc
}

// Cancel aborts taskID's execution if it is currently running on this
// worker, grounded on provider-daemon's SIGTERM-then-SIGKILL cancellation
// path (spec §6 Outbound Cancellation). A no-op if taskID already
// finished or was never dispatched here.
func (r *Runner) Cancel(taskID uint64) {
	r.mu.Lock()
	cancel, ok := r.running[taskID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

func (r *Runner) track(taskID uint64, cancel context.CancelFunc) {
	r.mu.Lock()
	if r.running == nil {
		r.running = make(map[uint64]context.CancelFunc)
	}
	r.running[taskID] = cancel
	r.mu.Unlock()
}

func (r *Runner) untrack(taskID uint64) {
	r.mu.Lock()
	delete(r.running, taskID)
	r.mu.Unlock()
}

// HandleDispatch runs one job end to end. It never returns a transport
// error just because the task itself failed — a failed task still reports
// a "failed" Completion, which is success from the transport's point of
// view (spec §4.3: failure is a terminal Action outcome, not a delivery
// fault).
func (r *Runner) HandleDispatch(ctx context.Context, msg wire.JobDispatch) error {
	params := make([]datamodel.Param, 0, len(msg.Params))
	for _, p := range msg.Params {
		param, err := fromWireParam(p)
		if err != nil {
			return r.reportFailure(msg.TaskID, datamodel.KindSubmission, err)
		}
		params = append(params, param)
	}

	if r.Started != nil {
		if err := r.Started(wire.TaskStarted{TaskID: msg.TaskID}); err != nil {
			r.Log.Warn("failed to ack task start", zap.Uint64("task_id", msg.TaskID), zap.Error(err))
		}
	}

	workspacePath := filepath.Join(r.WorkspaceRoot, msg.SandboxPath)
	if err := os.MkdirAll(workspacePath, 0o755); err != nil {
		return r.reportFailure(msg.TaskID, datamodel.KindStorageBackend, err)
	}
	defer os.RemoveAll(workspacePath)

	if err := r.fetchAll(params); err != nil {
		return r.reportFailure(msg.TaskID, datamodel.KindOf(err), err)
	}

	args, err := r.materializeInputs(params, workspacePath)
	if err != nil {
		return r.reportFailure(msg.TaskID, datamodel.KindOf(err), err)
	}

	execCtx, cancel := context.WithCancel(ctx)
	r.track(msg.TaskID, cancel)
	res := r.Exec.Execute(execCtx, &msg, args, workspacePath)
	cancel()
	r.untrack(msg.TaskID)

	if res.Err != nil {
		r.Log.Warn("task execution failed", zap.Uint64("task_id", msg.TaskID), zap.Error(res.Err),
			zap.String("stdout", res.Stdout), zap.String("stderr", res.Stderr))
		return r.Complete(wire.Completion{
			TaskID:    msg.TaskID,
			Status:    "failed",
			ErrorKind: datamodel.KindTaskFailure.String(),
			Profiling: wire.ProfileEntry{WallMs: res.WallMs},
		})
	}

	produced, bytesOut, err := r.storeOutputs(params, workspacePath)
	if err != nil {
		return r.reportFailure(msg.TaskID, datamodel.KindStorageBackend, err)
	}

	return r.Complete(wire.Completion{
		TaskID:            msg.TaskID,
		Status:            "done",
		ProducedRenamings: produced,
		Profiling:         wire.ProfileEntry{WallMs: res.WallMs, BytesTransferred: bytesOut},
	})
}

func (r *Runner) reportFailure(taskID uint64, kind datamodel.ErrorKind, cause error) error {
	r.Log.Warn("task failed before execution", zap.Uint64("task_id", taskID), zap.Error(cause))
	return r.Complete(wire.Completion{TaskID: taskID, Status: "failed", ErrorKind: kind.String()})
}

// fetchAll pulls every read-side top-level and collection-leaf parameter
// onto this worker, returning the first error reported by any of them
// (spec §4.5).
func (r *Runner) fetchAll(params []datamodel.Param) error {
	var leaves []*datamodel.Param
	for i := range params {
		if params[i].Direction.ReadsData() && params[i].ReadDII != "" {
			leaves = append(leaves, &params[i])
		}
	}
	if len(leaves) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for idx, p := range leaves {
		wg.Add(1)
		r.DM.FetchParam(p, idx, fetchListener{
			done: func(err error) {
				defer wg.Done()
				if err == nil {
					return
				}
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			},
		})
	}
	wg.Wait()
	return firstErr
}

type fetchListener struct {
	done func(error)
}

func (l fetchListener) FetchedValue(datamodel.DII) { l.done(nil) }
func (l fetchListener) ErrorFetchingValue(renaming datamodel.DII, kind datamodel.ErrorKind) {
	l.done(datamodel.NewRuntimeError(kind, fmt.Errorf("fetch %s failed", renaming)))
}

// materializeInputs resolves each top-level param to one positional
// argument: the literal storage id for read-side PSCO/EXTERNAL_PSCO
// params, and a path into workspacePath for every other param, with the
// param's value written to that path first when it has a read side (spec
// §4.5 type-tag dispatch, adapted to the sandboxed process convention the
// Executor collaborators expect).
func (r *Runner) materializeInputs(params []datamodel.Param, workspacePath string) ([]string, error) {
	args := make([]string, 0, len(params))
	for i := range params {
		p := &params[i]
		arg, err := r.materializeOne(p, workspacePath)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func (r *Runner) materializeOne(p *datamodel.Param, workspacePath string) (string, error) {
	target := filepath.Join(workspacePath, p.FormalName)

	switch p.Type {
	case datamodel.TypePSCO, datamodel.TypeExternalPSCO:
		if p.Direction.ReadsData() {
			return p.StorageID, nil
		}
		return target, nil
	case datamodel.TypeBindingObject:
		if !p.Direction.ReadsData() {
			return target, nil
		}
	case datamodel.TypePrimitive, datamodel.TypeStream:
		if p.Direction.ReadsData() && p.ReadDII == "" {
			if err := os.WriteFile(target, p.Value, 0o644); err != nil {
				return "", datamodel.NewRuntimeError(datamodel.KindStorageBackend, err)
			}
			return target, nil
		}
	}

	if !p.Direction.ReadsData() {
		// Write-only: the target is created by the executed task itself.
		return target, nil
	}

	value, err := r.DM.LoadParam(p)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(target, value, 0o644); err != nil {
		return "", datamodel.NewRuntimeError(datamodel.KindStorageBackend, err)
	}
	return target, nil
}

// storeOutputs publishes every write-side top-level param's produced value
// back into the Data Manager's registers, returning the renamings it
// wrote (with their sizes, so the master can record them as resident on
// this worker for locality scoring) and the total bytes stored (fed into
// the completion's profiling record, spec §6/§4.4).
func (r *Runner) storeOutputs(params []datamodel.Param, workspacePath string) ([]wire.ProducedRenaming, int64, error) {
	var produced []wire.ProducedRenaming
	var total int64
	for i := range params {
		p := &params[i]
		if !p.Direction.WritesData() || p.WriteDII == "" {
			continue
		}
		target := filepath.Join(workspacePath, p.FormalName)
		value, err := os.ReadFile(target)
		if err != nil {
			return nil, 0, datamodel.NewRuntimeError(datamodel.KindStorageBackend, err)
		}
		if err := r.DM.StoreParam(p, value); err != nil {
			return nil, 0, err
		}
		produced = append(produced, wire.ProducedRenaming{DII: string(p.WriteDII), Bytes: int64(len(value))})
		total += int64(len(value))
	}
	return produced, total, nil
}

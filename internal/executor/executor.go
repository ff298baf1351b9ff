// Package executor runs one dispatched task inside a workspace directory,
// grounded on provider-daemon/internal/executor's ScriptExecutor, extended
// with a container-backed backend selected per task via
// ImplementationCandidate.ContainerImage (spec §3/§5).
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/compsweave/taskrt/pkg/wire"
)

// Result holds the outcome of one task execution, reported back to the
// master as a wire.Completion.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
	WallMs   int64
}

// Executor runs a dispatched job inside workspacePath, invoked with args
// (the task's parameters resolved to local file paths or literal values
// by internal/jobrunner, in formal-parameter order).
type Executor interface {
	Execute(ctx context.Context, job *wire.JobDispatch, args []string, workspacePath string) Result
}

// ScriptExecutor runs the task's signature as a local executable found on
// binDir, sending SIGTERM and waiting GraceTimeout before SIGKILL on
// cancellation (spec §5 worker lifecycle).
type ScriptExecutor struct {
	BinDir       string
	GraceTimeout time.Duration
	log          *zap.Logger
}

// NewScriptExecutor builds a ScriptExecutor that resolves task binaries
// under binDir.
func NewScriptExecutor(binDir string, graceTimeout time.Duration, log *zap.Logger) *ScriptExecutor {
	if graceTimeout <= 0 {
		graceTimeout = 10 * time.Second
	}
	return &ScriptExecutor{BinDir: binDir, GraceTimeout: graceTimeout, log: log}
}

func (se *ScriptExecutor) Execute(ctx context.Context, job *wire.JobDispatch, args []string, workspacePath string) Result {
	binPath := se.BinDir + "/" + job.Signature

	cmd := exec.Command(binPath, args...)
	cmd.Dir = workspacePath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	se.log.Info("starting task execution", zap.Uint64("task_id", job.TaskID), zap.String("signature", job.Signature))

	done := make(chan error, 1)
	if err := cmd.Start(); err != nil {
		return Result{Err: fmt.Errorf("start %s: %w", binPath, err), ExitCode: -1}
	}
	go func() { done <- cmd.Wait() }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		se.terminateGracefully(cmd, done)
		runErr = ctx.Err()
	}

	wall := time.Since(start).Milliseconds()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String(), WallMs: wall}

	switch e := runErr.(type) {
	case nil:
		res.ExitCode = 0
	case *exec.ExitError:
		res.ExitCode = e.ExitCode()
		res.Err = fmt.Errorf("task %d exited with code %d: %w", job.TaskID, res.ExitCode, e)
	default:
		res.ExitCode = -1
		res.Err = fmt.Errorf("task %d execution failed: %w", job.TaskID, runErr)
	}

	se.log.Info("task execution finished", zap.Uint64("task_id", job.TaskID), zap.Int64("wall_ms", wall), zap.Error(res.Err))
	return res
}

// Composite picks ScriptExecutor or Docker per job, based on whether the
// dispatched implementation names a container image.
type Composite struct {
	Script *ScriptExecutor
	Docker Executor // nil disables the container backend
}

func (c *Composite) Execute(ctx context.Context, job *wire.JobDispatch, args []string, workspacePath string) Result {
	if job.Implementation.ContainerImage != "" {
		if c.Docker == nil {
			return Result{Err: fmt.Errorf("task %d requests container image %q but no docker backend is configured", job.TaskID, job.Implementation.ContainerImage), ExitCode: -1}
		}
		return c.Docker.Execute(ctx, job, args, workspacePath)
	}
	return c.Script.Execute(ctx, job, args, workspacePath)
}

// terminateGracefully sends SIGTERM, then SIGKILL after GraceTimeout if
// the process has not exited (spec §5: "workers send SIGTERM, wait a
// grace period, then SIGKILL").
func (se *ScriptExecutor) terminateGracefully(cmd *exec.Cmd, done <-chan error) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
		return
	case <-time.After(se.GraceTimeout):
		_ = cmd.Process.Kill()
	}
}

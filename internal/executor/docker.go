package executor

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/compsweave/taskrt/pkg/wire"
)

// DockerExecutor runs a task inside a container built from
// ImplementationCandidate.ContainerImage, grounded on cmd/provider's
// executeDockerTask: bind-mount the workspace, create, start, wait,
// then remove the container.
type DockerExecutor struct {
	cli *client.Client
	log *zap.Logger
}

// NewDockerExecutor connects to the Docker daemon named by endpoint
// (empty selects DOCKER_HOST/the default socket).
func NewDockerExecutor(endpoint string, log *zap.Logger) (*DockerExecutor, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if endpoint != "" {
		opts = append(opts, client.WithHost(endpoint))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("executor: connect docker daemon: %w", err)
	}
	return &DockerExecutor{cli: cli, log: log}, nil
}

func (de *DockerExecutor) Execute(ctx context.Context, job *wire.JobDispatch, args []string, workspacePath string) Result {
	image := job.Implementation.ContainerImage
	start := time.Now()

	if err := de.pullImage(ctx, image); err != nil {
		return Result{Err: fmt.Errorf("pull image %s: %w", image, err), ExitCode: -1}
	}

	cfg := &container.Config{
		Image:        image,
		Cmd:          args,
		WorkingDir:   "/workspace",
		AttachStdout: true,
		AttachStderr: true,
	}
	hostCfg := &container.HostConfig{
		Binds: []string{fmt.Sprintf("%s:/workspace", workspacePath)},
		Resources: container.Resources{
			Memory:   int64(job.Implementation.MemoryMB) * 1024 * 1024,
			NanoCPUs: int64(job.Implementation.Cores * 1e9),
		},
		NetworkMode: "bridge",
	}

	resp, err := de.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return Result{Err: fmt.Errorf("create container: %w", err), ExitCode: -1}
	}
	defer de.cleanup(resp.ID)

	if err := de.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return Result{Err: fmt.Errorf("start container: %w", err), ExitCode: -1}
	}
	de.log.Info("container started", zap.Uint64("task_id", job.TaskID), zap.String("container_id", resp.ID), zap.String("image", image))

	statusCh, errCh := de.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		if err != nil {
			return Result{Err: fmt.Errorf("container wait: %w", err), ExitCode: -1, WallMs: time.Since(start).Milliseconds()}
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	case <-ctx.Done():
		_ = de.cli.ContainerStop(context.Background(), resp.ID, container.StopOptions{})
		return Result{Err: ctx.Err(), ExitCode: -2, WallMs: time.Since(start).Milliseconds()}
	}

	stdout, stderr := de.collectLogs(resp.ID)
	res := Result{Stdout: stdout, Stderr: stderr, ExitCode: exitCode, WallMs: time.Since(start).Milliseconds()}
	if exitCode != 0 {
		res.Err = fmt.Errorf("task %d container exited with code %d", job.TaskID, exitCode)
	}
	return res
}

func (de *DockerExecutor) pullImage(ctx context.Context, image string) error {
	reader, err := de.cli.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

func (de *DockerExecutor) collectLogs(containerID string) (stdout, stderr string) {
	logs, err := de.cli.ContainerLogs(context.Background(), containerID, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		de.log.Warn("failed to collect container logs", zap.String("container_id", containerID), zap.Error(err))
		return "", ""
	}
	defer logs.Close()
	b, _ := io.ReadAll(logs)
	return string(b), ""
}

func (de *DockerExecutor) cleanup(containerID string) {
	_ = de.cli.ContainerRemove(context.Background(), containerID, types.ContainerRemoveOptions{Force: true})
}

package agentrunner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/gao-dev/gaodev/internal/ceremony"
)

// DockerRunner is the container-based AgentRunner backend: each step or
// ceremony gets a fresh, disposable container, run to completion via
// ContainerWait since executing a step blocks until the agent finishes.
type DockerRunner struct {
	cli   *client.Client
	Image string
	Agent string
}

// NewDockerRunner constructs a DockerRunner against the local Docker
// daemon via the standard DOCKER_HOST/DOCKER_* environment.
func NewDockerRunner(image, agent string) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("agentrunner: docker client: %w", err)
	}
	return &DockerRunner{cli: cli, Image: image, Agent: agent}, nil
}

func (r *DockerRunner) Execute(ctx context.Context, req StepRequest) (StepResult, error) {
	output, exitCode, err := r.runContainer(ctx, req.Prompt, req.WorkDir, fmt.Sprintf("gaodev-step-%s", req.Step.Name))
	if err != nil {
		if outcome, ok := ctxErrToOutcome(ctx); ok {
			return StepResult{Diagnostics: output, Outcome: outcome}, nil
		}
		return StepResult{}, err
	}
	artifacts, err := changedFiles(req.WorkDir)
	if err != nil {
		return StepResult{}, err
	}
	return StepResult{Artifacts: artifacts, Outcome: outcomeFromExitCode(exitCode, artifacts), Diagnostics: output}, nil
}

func (r *DockerRunner) ExecuteCeremony(ctx context.Context, req ceremony.Request) (ceremony.Result, error) {
	started := time.Now()
	prompt := ceremonyPrompt(req)
	name := fmt.Sprintf("gaodev-ceremony-%s-%d", req.Type, req.EpicNum)

	output, _, err := r.runContainer(ctx, prompt, "", name)
	if err != nil {
		if _, ok := ctxErrToOutcome(ctx); ok {
			return ceremony.Result{Transcript: output, DurationMS: time.Since(started).Milliseconds()}, nil
		}
		return ceremony.Result{}, err
	}
	return ceremony.Result{Transcript: output, DurationMS: time.Since(started).Milliseconds(), Participants: []string{r.Agent}}, nil
}

// runContainer creates, starts, waits on, and removes a single disposable
// container running the openclaw CLI against prompt, returning its
// combined log output and exit code.
func (r *DockerRunner) runContainer(ctx context.Context, prompt, workDir, name string) (output string, exitCode int, err error) {
	ctxDir, err := os.MkdirTemp("", "gaodev-ctx-*")
	if err != nil {
		return "", -1, fmt.Errorf("agentrunner: create context dir: %w", err)
	}
	defer os.RemoveAll(ctxDir)
	if err := os.WriteFile(filepath.Join(ctxDir, "prompt.txt"), []byte(prompt), 0o644); err != nil {
		return "", -1, fmt.Errorf("agentrunner: write prompt: %w", err)
	}
	if err := os.WriteFile(filepath.Join(ctxDir, "script.sh"), []byte(openclawShellScript()), 0o755); err != nil {
		return "", -1, fmt.Errorf("agentrunner: write script: %w", err)
	}

	mounts := []mount.Mount{
		{Type: mount.TypeBind, Source: ctxDir, Target: "/gaodev-ctx", ReadOnly: true},
	}
	if workDir != "" {
		abs, absErr := filepath.Abs(workDir)
		if absErr == nil {
			mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: abs, Target: "/workspace"})
		}
	}

	resp, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image:      r.Image,
		Cmd:        []string{"sh", "/gaodev-ctx/script.sh", "/gaodev-ctx/prompt.txt", r.Agent},
		WorkingDir: "/workspace",
		Tty:        false,
	}, &container.HostConfig{Mounts: mounts, AutoRemove: false}, nil, nil, name)
	if err != nil {
		return "", -1, fmt.Errorf("agentrunner: create container: %w", err)
	}
	defer r.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", -1, fmt.Errorf("agentrunner: start container: %w", err)
	}

	statusCh, errCh := r.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case werr := <-errCh:
		if werr != nil {
			return r.collectLogs(resp.ID), -1, fmt.Errorf("agentrunner: wait for container: %w", werr)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	case <-ctx.Done():
		return r.collectLogs(resp.ID), -1, ctx.Err()
	}

	return r.collectLogs(resp.ID), exitCode, nil
}

func (r *DockerRunner) collectLogs(containerID string) string {
	logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logs, err := r.cli.ContainerLogs(logCtx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return ""
	}
	defer logs.Close()
	var stdout, stderr bytes.Buffer
	stdcopy.StdCopy(&stdout, &stderr, logs)
	return stdout.String() + stderr.String()
}

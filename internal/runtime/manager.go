// Package runtime provides Docker-backed workspace containers that
// generated file trees are mounted into and executed.
package runtime

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/codehive/codehive/internal/domain"
	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

const (
	workspaceDir    = "/workspace"
	stopTimeoutSecs = 10

	// Resource limits.
	memoryLimitBytes = 512 * 1024 * 1024 // 512MB
	cpuQuota         = 50000             // 0.5 CPU
	pidsLimit        = 256

	// Command output is truncated past this size.
	maxCommandOutput = 64 * 1024
)

// CommandResult carries the outcome of a workspace command.
type CommandResult struct {
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
}

// Manager defines the interface for managing workspace containers.
type Manager interface {
	// EnsureWorkspace ensures a container exists and is running for a project.
	EnsureWorkspace(ctx context.Context, projectID, currentContainerID string) (string, error)

	// MountFileTree copies a generated file tree into the workspace.
	MountFileTree(ctx context.Context, containerID string, tree domain.FileTree) error

	// RunCommand executes a command in the workspace and waits for it.
	RunCommand(ctx context.Context, containerID string, cmd domain.Command) (*CommandResult, error)

	// StartDetached launches a long-running command (dev servers) without waiting.
	StartDetached(ctx context.Context, containerID string, cmd domain.Command) error

	// StopWorkspace stops and removes a workspace container.
	StopWorkspace(ctx context.Context, containerID string) error

	// IsRunning checks if a container is currently running.
	IsRunning(ctx context.Context, containerID string) (bool, error)
}

// DockerManager implements Manager using the Docker API.
type DockerManager struct {
	cli     *client.Client
	image   string
	runtime string // Container runtime: "" = default (runc), "runsc" = gVisor
}

// NewDockerManager creates a new Docker-backed workspace manager.
func NewDockerManager(image, runtime string) (Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	slog.Info("Docker client initialized", "image", image, "runtime", orDefault(runtime))
	return &DockerManager{cli: cli, image: image, runtime: runtime}, nil
}

func orDefault(runtime string) string {
	if runtime == "" {
		return "default"
	}
	return runtime
}

// EnsureWorkspace ensures a container exists and is running for a project.
func (m *DockerManager) EnsureWorkspace(ctx context.Context, projectID, currentContainerID string) (string, error) {
	containerName := fmt.Sprintf("codehive-%s", projectID)
	volumeName := fmt.Sprintf("codehive-%s-data", projectID)

	inspect, err := m.cli.ContainerInspect(ctx, containerName)
	if err == nil {
		// A lingering named container the DB no longer points at is stale
		// and must be recycled instead of reused.
		if currentContainerID == "" || inspect.ID != currentContainerID {
			slog.Info("Found unbound workspace, recreating", "container_id", inspect.ID, "project_id", projectID)
			if err := m.StopWorkspace(ctx, inspect.ID); err != nil {
				slog.Warn("Failed to stop unbound workspace before recreation", "error", err, "container_id", inspect.ID)
			}
		} else {
			if inspect.State.Running {
				return inspect.ID, nil
			}
			slog.Info("Restarting stopped workspace", "container_id", inspect.ID, "project_id", projectID)
			if err := m.cli.ContainerStart(ctx, inspect.ID, container.StartOptions{}); err != nil {
				return "", fmt.Errorf("restart workspace %s: %w", inspect.ID, err)
			}
			return inspect.ID, nil
		}
	}

	slog.Info("Creating workspace container", "project_id", projectID, "volume", volumeName)

	config := &container.Config{
		Image:      m.image,
		WorkingDir: workspaceDir,
		Cmd:        []string{"sleep", "infinity"},
	}

	hostConfig := &container.HostConfig{
		Runtime: m.runtime,
		Mounts: []mount.Mount{{
			Type:   mount.TypeVolume,
			Source: volumeName,
			Target: workspaceDir,
		}},
		Resources: container.Resources{
			Memory:    memoryLimitBytes,
			CPUQuota:  cpuQuota,
			PidsLimit: ptr(int64(pidsLimit)),
		},
	}

	resp, err := m.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, containerName)
	if err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if removeErr := m.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); removeErr != nil && !errors.Is(removeErr, context.Canceled) {
			slog.Warn("Failed to remove workspace after start failure", "container_id", resp.ID, "error", removeErr)
		}
		return "", fmt.Errorf("start workspace %s: %w", resp.ID, err)
	}

	slog.Info("Workspace created and started", "container_id", resp.ID, "project_id", projectID)
	return resp.ID, nil
}

// MountFileTree copies a generated file tree into the workspace as a tar
// stream. Paths escaping the workspace root are skipped.
func (m *DockerManager) MountFileTree(ctx context.Context, containerID string, tree domain.FileTree) error {
	files := tree.Flatten()
	if len(files) == 0 {
		return nil
	}

	archive, err := tarArchive(files)
	if err != nil {
		return fmt.Errorf("build file tree archive: %w", err)
	}

	if err := m.cli.CopyToContainer(ctx, containerID, workspaceDir, archive, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copy file tree to workspace: %w", err)
	}
	return nil
}

func tarArchive(files map[string]string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	for name, contents := range files {
		if strings.HasPrefix(name, "..") || strings.HasPrefix(name, "/") {
			slog.Warn("Skipping file escaping workspace root", "path", name)
			continue
		}
		hdr := &tar.Header{
			Name:    name,
			Mode:    0644,
			Size:    int64(len(contents)),
			ModTime: time.Now(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("write tar header for %s: %w", name, err)
		}
		if _, err := tw.Write([]byte(contents)); err != nil {
			return nil, fmt.Errorf("write tar entry for %s: %w", name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar archive: %w", err)
	}
	return &buf, nil
}

// RunCommand executes a command in the workspace and waits for it to finish.
func (m *DockerManager) RunCommand(ctx context.Context, containerID string, cmd domain.Command) (*CommandResult, error) {
	argv := cmd.Argv()
	if argv == nil {
		return nil, fmt.Errorf("empty command")
	}

	execConfig := container.ExecOptions{
		Cmd:          argv,
		WorkingDir:   workspaceDir,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          true,
	}

	resp, err := m.cli.ContainerExecCreate(ctx, containerID, execConfig)
	if err != nil {
		return nil, fmt.Errorf("create exec: %w", err)
	}

	attachResp, err := m.cli.ContainerExecAttach(ctx, resp.ID, container.ExecStartOptions{Tty: true})
	if err != nil {
		return nil, fmt.Errorf("attach exec: %w", err)
	}
	defer attachResp.Close()

	output, err := io.ReadAll(io.LimitReader(attachResp.Reader, maxCommandOutput))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read command output: %w", err)
	}

	inspect, err := m.cli.ContainerExecInspect(ctx, resp.ID)
	if err != nil {
		return nil, fmt.Errorf("inspect exec: %w", err)
	}

	return &CommandResult{ExitCode: inspect.ExitCode, Output: string(output)}, nil
}

// StartDetached launches a long-running command without waiting for it.
func (m *DockerManager) StartDetached(ctx context.Context, containerID string, cmd domain.Command) error {
	argv := cmd.Argv()
	if argv == nil {
		return fmt.Errorf("empty command")
	}

	resp, err := m.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:        argv,
		WorkingDir: workspaceDir,
		Detach:     true,
	})
	if err != nil {
		return fmt.Errorf("create exec: %w", err)
	}

	if err := m.cli.ContainerExecStart(ctx, resp.ID, container.ExecStartOptions{Detach: true}); err != nil {
		return fmt.Errorf("start detached exec: %w", err)
	}
	return nil
}

// StopWorkspace stops and removes a workspace container. It is
// idempotent and handles concurrent calls gracefully.
func (m *DockerManager) StopWorkspace(ctx context.Context, containerID string) error {
	slog.Info("Stopping workspace", "container_id", containerID)

	_, err := m.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("inspect workspace %s: %w", containerID, err)
	}

	timeout := stopTimeoutSecs
	if err := m.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		if !errdefs.IsNotFound(err) {
			slog.Debug("Workspace stop returned error, continuing to remove", "container_id", containerID, "error", err)
		}
	}

	if err := m.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) || strings.Contains(err.Error(), "is already in progress") {
			return nil
		}
		if ctx.Err() != nil {
			slog.Debug("Context canceled during remove, workspace may still be removed", "container_id", containerID, "error", err)
			return nil
		}
		return fmt.Errorf("remove workspace %s: %w", containerID, err)
	}

	slog.Info("Workspace stopped and removed", "container_id", containerID)
	return nil
}

// IsRunning checks if a container is currently running.
func (m *DockerManager) IsRunning(ctx context.Context, containerID string) (bool, error) {
	inspect, err := m.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect workspace %s: %w", containerID, err)
	}
	return inspect.State.Running, nil
}

func ptr[T any](v T) *T {
	return &v
}

package docker

import (
	"context"
	"fmt"
)

// ManagedLabel marks containers started by retrainer.
const ManagedLabel = "retrainer.managed"

// ContainerOptions describes how a job container is created.
type ContainerOptions struct {
	Env        []string
	Cmd        []string
	Ports      map[string]string // hostPort -> containerPort
	Volumes    map[string]string // hostPath -> containerPath
	Labels     map[string]string
	WorkingDir string
	GPU        bool
	Memory     string // e.g., "4g", "512m"
	CPU        string // e.g., "2.0"
}

// ExitError is returned by WaitContainer when the container exits non-zero.
type ExitError struct {
	ContainerID string
	Code        int64
	Message     string
}

func (e *ExitError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("container %s exited with code %d: %s", shortID(e.ContainerID), e.Code, e.Message)
	}
	return fmt.Sprintf("container %s exited with code %d", shortID(e.ContainerID), e.Code)
}

// Client is the interface for running one-shot job containers.
type Client interface {
	// PullImage pulls a Docker image.
	PullImage(ctx context.Context, image string) error

	// CreateAndStartContainer creates and starts a container, returning its ID.
	CreateAndStartContainer(ctx context.Context, name, image string, opts ContainerOptions) (string, error)

	// WaitContainer blocks until the container stops. A non-zero exit is
	// reported as *ExitError.
	WaitContainer(ctx context.Context, containerID string) error

	// GetContainerLogs returns the last `tail` lines of container logs.
	GetContainerLogs(ctx context.Context, containerID string, tail int) (string, error)

	// RemoveContainer force-removes a container. Missing containers are not an error.
	RemoveContainer(ctx context.Context, containerID string) error

	// ListContainers returns IDs of stopped managed containers matching labels.
	ListContainers(ctx context.Context, labels map[string]string) ([]string, error)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

package docker

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// SDKClient implements Client using the official Docker Go SDK.
type SDKClient struct {
	cli *dockerclient.Client
}

// NewSDKClient creates an SDKClient configured from environment variables
// (DOCKER_HOST, DOCKER_TLS_VERIFY, DOCKER_CERT_PATH, DOCKER_API_VERSION).
func NewSDKClient() (*SDKClient, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker sdk client: %w", err)
	}
	return &SDKClient{cli: cli}, nil
}

func (c *SDKClient) Close() error {
	return c.cli.Close()
}

// Ping checks that the daemon is reachable.
func (c *SDKClient) Ping(ctx context.Context) error {
	if _, err := c.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker Ping: %w", err)
	}
	return nil
}

// CreateAndStartContainer creates and starts a container, returning its ID.
func (c *SDKClient) CreateAndStartContainer(ctx context.Context, name, img string, opts ContainerOptions) (string, error) {
	cfg, hostCfg := buildConfig(img, opts)

	resp, err := c.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("docker ContainerCreate: %w", err)
	}

	if err := c.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = c.cli.ContainerRemove(cleanupCtx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("docker ContainerStart: %w", err)
	}

	return resp.ID, nil
}

func buildConfig(img string, opts ContainerOptions) (*container.Config, *container.HostConfig) {
	portBindings := nat.PortMap{}
	exposedPorts := nat.PortSet{}
	for hostPort, containerPort := range opts.Ports {
		p := nat.Port(containerPort + "/tcp")
		exposedPorts[p] = struct{}{}
		portBindings[p] = []nat.PortBinding{{HostPort: hostPort}}
	}

	binds := make([]string, 0, len(opts.Volumes))
	for hostPath, containerPath := range opts.Volumes {
		binds = append(binds, hostPath+":"+containerPath)
	}

	labels := map[string]string{ManagedLabel: "true"}
	for k, v := range opts.Labels {
		labels[k] = v
	}

	cfg := &container.Config{
		Image:        img,
		Cmd:          opts.Cmd,
		Env:          opts.Env,
		Labels:       labels,
		ExposedPorts: exposedPorts,
		WorkingDir:   opts.WorkingDir,
	}

	// No restart policy: a failed training run must surface, not loop.
	hostCfg := &container.HostConfig{
		Binds:        binds,
		PortBindings: portBindings,
	}

	if opts.Memory != "" {
		if mem, err := parseMemory(opts.Memory); err == nil {
			hostCfg.Memory = mem
		}
	}

	if opts.CPU != "" {
		if cpus, err := strconv.ParseFloat(opts.CPU, 64); err == nil {
			hostCfg.NanoCPUs = int64(cpus * 1e9)
		}
	}

	// Equivalent to `--gpus all`.
	if opts.GPU {
		hostCfg.DeviceRequests = []container.DeviceRequest{
			{
				Driver:       "nvidia",
				Count:        -1,
				Capabilities: [][]string{{"gpu"}},
			},
		}
	}

	return cfg, hostCfg
}

func (c *SDKClient) WaitContainer(ctx context.Context, containerID string) error {
	statusCh, errCh := c.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("docker ContainerWait: %w", err)
		}
		return nil
	case st := <-statusCh:
		if st.StatusCode == 0 {
			return nil
		}
		exitErr := &ExitError{ContainerID: containerID, Code: st.StatusCode}
		if st.Error != nil {
			exitErr.Message = st.Error.Message
		}
		return exitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetContainerLogs returns the last tail lines of container logs (stdout+stderr combined).
func (c *SDKClient) GetContainerLogs(ctx context.Context, containerID string, tail int) (string, error) {
	logOpts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	}
	rc, err := c.cli.ContainerLogs(ctx, containerID, logOpts)
	if err != nil {
		return "", fmt.Errorf("docker ContainerLogs: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("reading container logs: %w", err)
	}
	return string(data), nil
}

func (c *SDKClient) RemoveContainer(ctx context.Context, containerID string) error {
	if err := c.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if !cerrdefs.IsNotFound(err) {
			return fmt.Errorf("docker ContainerRemove: %w", err)
		}
	}
	return nil
}

// ListContainers returns container IDs matching the given label filters.
// Running containers are skipped so a job still in flight is never removed.
func (c *SDKClient) ListContainers(ctx context.Context, labels map[string]string) ([]string, error) {
	f := filters.NewArgs()
	f.Add("label", ManagedLabel+"=true")
	for k, v := range labels {
		f.Add("label", fmt.Sprintf("%s=%s", k, v))
	}

	containers, err := c.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, fmt.Errorf("docker ContainerList: %w", err)
	}

	ids := make([]string, 0, len(containers))
	for _, ct := range containers {
		if ct.State != "running" && ct.State != "restarting" {
			ids = append(ids, ct.ID)
		}
	}
	return ids, nil
}

// PullImage pulls a Docker image using the SDK.
func (c *SDKClient) PullImage(ctx context.Context, img string) error {
	rc, err := c.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("docker ImagePull %s: %w", img, err)
	}
	defer rc.Close()
	// Output is JSON progress; draining it completes the pull.
	_, _ = io.Copy(io.Discard, rc)
	return nil
}

// parseMemory converts strings like "4g", "512m", "1024k" to bytes.
func parseMemory(s string) (int64, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty memory string")
	}
	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]
	var mult int64
	switch suffix {
	case 'g', 'G':
		mult = 1024 * 1024 * 1024
	case 'm', 'M':
		mult = 1024 * 1024
	case 'k', 'K':
		mult = 1024
	case 'b', 'B':
		mult = 1
	default:
		return strconv.ParseInt(s, 10, 64)
	}
	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory %q: %w", s, err)
	}
	return num * mult, nil
}

var _ Client = (*SDKClient)(nil)

package docker

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is an in-memory Client for tests. OnStart, if set, runs when a
// container starts and decides its exit code; it can write files into the
// container's host volumes to simulate a job's output.
type MockClient struct {
	mu         sync.Mutex
	Containers map[string]*MockContainer
	Pulled     []string
	Logs       string

	PullErr   error
	CreateErr error
	OnStart   func(c *MockContainer) int64
	// Block makes WaitContainer wait for ctx instead of returning.
	Block bool
}

type MockContainer struct {
	ID       string
	Name     string
	Image    string
	Status   string
	Options  ContainerOptions
	ExitCode int64
}

func NewMockClient() *MockClient {
	return &MockClient{Containers: make(map[string]*MockContainer)}
}

func (c *MockClient) PullImage(ctx context.Context, image string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PullErr != nil {
		return c.PullErr
	}
	c.Pulled = append(c.Pulled, image)
	return nil
}

func (c *MockClient) CreateAndStartContainer(ctx context.Context, name, image string, opts ContainerOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	if c.CreateErr != nil {
		c.mu.Unlock()
		return "", c.CreateErr
	}
	id := fmt.Sprintf("mock-container-%d", len(c.Containers)+1)
	ct := &MockContainer{ID: id, Name: name, Image: image, Status: "running", Options: opts}
	c.Containers[id] = ct
	onStart := c.OnStart
	c.mu.Unlock()

	var code int64
	if onStart != nil {
		code = onStart(ct)
	}

	c.mu.Lock()
	ct.ExitCode = code
	if !c.Block {
		ct.Status = "exited"
	}
	c.mu.Unlock()
	return id, nil
}

func (c *MockClient) WaitContainer(ctx context.Context, containerID string) error {
	c.mu.Lock()
	ct, ok := c.Containers[containerID]
	block := c.Block
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("container %s not found", containerID)
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if ct.ExitCode != 0 {
		return &ExitError{ContainerID: containerID, Code: ct.ExitCode}
	}
	return nil
}

func (c *MockClient) GetContainerLogs(ctx context.Context, containerID string, tail int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.Containers[containerID]; !ok {
		return "", fmt.Errorf("container %s not found", containerID)
	}
	return c.Logs, nil
}

func (c *MockClient) RemoveContainer(ctx context.Context, containerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.Containers, containerID)
	return nil
}

func (c *MockClient) ListContainers(ctx context.Context, labels map[string]string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for id, ct := range c.Containers {
		if ct.Status == "running" {
			continue
		}
		match := true
		for k, v := range labels {
			if ct.Options.Labels[k] != v {
				match = false
				break
			}
		}
		if match {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

var _ Client = (*MockClient)(nil)

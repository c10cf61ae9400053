package docker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMemory(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "4g", want: 4 << 30},
		{in: "512M", want: 512 << 20},
		{in: "1024k", want: 1 << 20},
		{in: "100b", want: 100},
		{in: "2048", want: 2048},
		{in: "xg", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseMemory(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildConfig(t *testing.T) {
	cfg, host := buildConfig("trainer:latest", ContainerOptions{
		Env:     []string{"DATA_PATH=s3://b/new/"},
		Cmd:     []string{"python", "train.py"},
		Ports:   map[string]string{"6006": "6006"},
		Volumes: map[string]string{"/tmp/work": "/work"},
		Labels:  map[string]string{"retrainer.cycle": "c1"},
		GPU:     true,
		Memory:  "2g",
		CPU:     "1.5",
	})

	assert.Equal(t, "trainer:latest", cfg.Image)
	assert.Equal(t, "true", cfg.Labels[ManagedLabel])
	assert.Equal(t, "c1", cfg.Labels["retrainer.cycle"])
	assert.Contains(t, cfg.ExposedPorts, nat.Port("6006/tcp"))
	assert.Equal(t, []string{"/tmp/work:/work"}, host.Binds)
	assert.Equal(t, int64(2<<30), host.Memory)
	assert.Equal(t, int64(1.5e9), host.NanoCPUs)
	require.Len(t, host.DeviceRequests, 1)
	assert.Equal(t, -1, host.DeviceRequests[0].Count)
}

func TestBuildConfig_InvalidLimitsIgnored(t *testing.T) {
	_, host := buildConfig("img", ContainerOptions{Memory: "lots", CPU: "many"})
	assert.Zero(t, host.Memory)
	assert.Zero(t, host.NanoCPUs)
	assert.Empty(t, host.DeviceRequests)
}

func TestExitError(t *testing.T) {
	err := &ExitError{ContainerID: "0123456789abcdef", Code: 2, Message: "oom"}
	assert.Equal(t, "container 0123456789ab exited with code 2: oom", err.Error())

	var exitErr *ExitError
	assert.True(t, errors.As(error(err), &exitErr))
}

func TestMockClient_Lifecycle(t *testing.T) {
	ctx := context.Background()
	c := NewMockClient()
	c.OnStart = func(ct *MockContainer) int64 {
		if ct.Image == "bad" {
			return 3
		}
		return 0
	}

	require.NoError(t, c.PullImage(ctx, "good"))
	assert.Equal(t, []string{"good"}, c.Pulled)

	id, err := c.CreateAndStartContainer(ctx, "job-1", "good", ContainerOptions{Labels: map[string]string{"k": "v"}})
	require.NoError(t, err)
	assert.NoError(t, c.WaitContainer(ctx, id))

	badID, err := c.CreateAndStartContainer(ctx, "job-2", "bad", ContainerOptions{})
	require.NoError(t, err)
	var exitErr *ExitError
	require.ErrorAs(t, c.WaitContainer(ctx, badID), &exitErr)
	assert.Equal(t, int64(3), exitErr.Code)

	ids, err := c.ListContainers(ctx, map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)

	require.NoError(t, c.RemoveContainer(ctx, id))
	require.NoError(t, c.RemoveContainer(ctx, id))
	assert.Len(t, c.Containers, 1)
}

func TestMockClient_BlockHonoursContext(t *testing.T) {
	c := NewMockClient()
	c.Block = true
	id, err := c.CreateAndStartContainer(context.Background(), "job", "img", ContainerOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.WaitContainer(ctx, id), context.DeadlineExceeded)
}

// Package metrics keeps in-process counters for retraining cycles and samples
// the host the training jobs run on. Both are served as JSON by `watch`.
package metrics

import (
	"context"
	"errors"
	"time"
)

var ErrUnsupported = errors.New("host metrics are not supported on this platform")

type Collector interface {
	Collect(ctx context.Context) (HostMetrics, error)
}

type HostMetrics struct {
	Memory    MemoryMetrics `json:"memory"`
	Disk      DiskMetrics   `json:"disk"`
	Load      LoadMetrics   `json:"load"`
	Timestamp time.Time     `json:"timestamp"`
}

type MemoryMetrics struct {
	Used      uint64  `json:"used"`
	Total     uint64  `json:"total"`
	Available uint64  `json:"available"`
	Percent   float64 `json:"percent"`
}

// DiskMetrics describes the filesystem holding the training work directory.
type DiskMetrics struct {
	Path    string  `json:"path"`
	Used    uint64  `json:"used"`
	Total   uint64  `json:"total"`
	Free    uint64  `json:"free"`
	Percent float64 `json:"percent"`
}

// LoadMetrics is the run-queue load average over 1, 5 and 15 minutes.
type LoadMetrics struct {
	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`
}

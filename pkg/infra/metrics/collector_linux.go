package metrics

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

type systemCollector struct {
	workDir string
	meminfo string
}

// NewCollector samples memory, load and the filesystem that holds workDir.
func NewCollector(workDir string) Collector {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &systemCollector{workDir: workDir, meminfo: "/proc/meminfo"}
}

func (c *systemCollector) Collect(ctx context.Context) (HostMetrics, error) {
	if err := ctx.Err(); err != nil {
		return HostMetrics{}, err
	}

	mem, err := c.memory()
	if err != nil {
		return HostMetrics{}, fmt.Errorf("memory: %w", err)
	}
	disk, err := c.disk()
	if err != nil {
		return HostMetrics{}, fmt.Errorf("disk %s: %w", c.workDir, err)
	}
	load, err := loadAverage()
	if err != nil {
		return HostMetrics{}, fmt.Errorf("load: %w", err)
	}

	return HostMetrics{
		Memory:    mem,
		Disk:      disk,
		Load:      load,
		Timestamp: time.Now(),
	}, nil
}

func (c *systemCollector) memory() (MemoryMetrics, error) {
	f, err := os.Open(c.meminfo)
	if err != nil {
		return MemoryMetrics{}, err
	}
	defer f.Close()

	fields, err := parseMeminfo(f)
	if err != nil {
		return MemoryMetrics{}, err
	}
	total, available := fields["MemTotal"], fields["MemAvailable"]
	if total == 0 {
		return MemoryMetrics{}, fmt.Errorf("MemTotal missing from %s", c.meminfo)
	}

	used := total - available
	return MemoryMetrics{
		Used:      used,
		Total:     total,
		Available: available,
		Percent:   percent(used, total),
	}, nil
}

// parseMeminfo reads "Key:   123 kB" lines into bytes.
func parseMeminfo(r io.Reader) (map[string]uint64, error) {
	out := make(map[string]uint64)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, rest, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		v, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			continue
		}
		if len(fields) > 1 && fields[1] == "kB" {
			v *= 1024
		}
		out[key] = v
	}
	return out, scanner.Err()
}

// disk reports the filesystem of the nearest existing ancestor of workDir,
// so a work directory that has not been created yet still has numbers.
func (c *systemCollector) disk() (DiskMetrics, error) {
	path := c.workDir
	var stat unix.Statfs_t
	for {
		err := unix.Statfs(path, &stat)
		if err == nil {
			break
		}
		parent := parentDir(path)
		if parent == path {
			return DiskMetrics{}, err
		}
		path = parent
	}

	bsize := uint64(stat.Bsize)
	total := uint64(stat.Blocks) * bsize
	used := total - uint64(stat.Bfree)*bsize
	return DiskMetrics{
		Path:    c.workDir,
		Used:    used,
		Total:   total,
		Free:    uint64(stat.Bavail) * bsize,
		Percent: percent(used, total),
	}, nil
}

func loadAverage() (LoadMetrics, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return LoadMetrics{}, err
	}
	// The kernel reports loads as fixed point with 16 fractional bits.
	const scale = float64(1 << 16)
	return LoadMetrics{
		Load1:  float64(info.Loads[0]) / scale,
		Load5:  float64(info.Loads[1]) / scale,
		Load15: float64(info.Loads[2]) / scale,
	}, nil
}

func percent(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func parentDir(p string) string {
	if p == "/" || p == "" {
		return "/"
	}
	return filepath.Dir(strings.TrimSuffix(p, "/"))
}

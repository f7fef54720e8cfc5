package ops

import (
	"context"
	"math"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostMetrics is a point-in-time snapshot of the ingestion host.
type HostMetrics struct {
	Time           int64   `json:"time"`
	CPUPercent     float64 `json:"cpu_percent"`
	Load1          float64 `json:"load1"`
	MemPercent     float64 `json:"mem_percent"`
	MemAvailableMB int64   `json:"mem_available_mb"`
	DiskPercent    float64 `json:"disk_percent"`
	DiskFreeGB     float64 `json:"disk_free_gb"`
	ServiceState   string  `json:"service_state"`
	SwimLogBytes   int64   `json:"swim_log_bytes"`
}

// HostCollector gathers HostMetrics. Individual probe failures leave their
// fields zero.
type HostCollector struct {
	DiskPath  string
	LogPath   string
	CPUSample time.Duration
	Service   *ServiceController
	Now       func() time.Time
}

// Collect samples CPU, load, memory and disk usage plus service state and the
// size of the live feed log.
func (h *HostCollector) Collect(ctx context.Context) HostMetrics {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	m := HostMetrics{Time: now().Unix()}

	sample := h.CPUSample
	if sample <= 0 {
		sample = 200 * time.Millisecond
	}
	if pct, err := cpu.PercentWithContext(ctx, sample, false); err == nil && len(pct) > 0 {
		m.CPUPercent = pct[0]
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		m.Load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		m.MemPercent = vm.UsedPercent
		m.MemAvailableMB = int64(vm.Available / (1024 * 1024))
	}
	diskPath := h.DiskPath
	if diskPath == "" {
		diskPath = "/"
	}
	if du, err := disk.UsageWithContext(ctx, diskPath); err == nil {
		m.DiskPercent = du.UsedPercent
		m.DiskFreeGB = math.Round(float64(du.Free)/(1<<30)*100) / 100
	}
	if h.Service != nil {
		m.ServiceState = h.Service.State(ctx)
	}
	m.SwimLogBytes = fileSize(h.LogPath)
	return m
}

func fileSize(path string) int64 {
	if path == "" {
		return 0
	}
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

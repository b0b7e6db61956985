package metrics

import (
	"fmt"
	"runtime"

	"github.com/prometheus/procfs"
)

// SystemStats is one sample of process and host state.
type SystemStats struct {
	HeapBytes   uint64
	RSSBytes    uint64
	MemoryRatio float64
	CPUSeconds  float64
	Load1       float64
	Load5       float64
	Load15      float64
	CPUCount    int
	Goroutines  int

	// Host is true when MemoryRatio and the load averages were read.
	Host bool
}

// SystemSampler reads SystemStats.
type SystemSampler interface {
	Sample() (SystemStats, error)
}

// ProcSampler samples the current process and host through /proc.
type ProcSampler struct {
	fs procfs.FS
}

// NewProcSampler opens the default /proc mount.
func NewProcSampler() (*ProcSampler, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs: %w", err)
	}
	return &ProcSampler{fs: fs}, nil
}

// Sample reads heap usage from the Go runtime and the rest from /proc.
// The memory ratio is 1 - MemAvailable/MemTotal.
func (s *ProcSampler) Sample() (SystemStats, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := SystemStats{
		HeapBytes:  ms.HeapAlloc,
		CPUCount:   runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
	}

	self, err := s.fs.Self()
	if err != nil {
		return stats, fmt.Errorf("failed to read process: %w", err)
	}
	stat, err := self.Stat()
	if err != nil {
		return stats, fmt.Errorf("failed to read process stat: %w", err)
	}
	stats.RSSBytes = uint64(stat.ResidentMemory())
	stats.CPUSeconds = stat.CPUTime()

	load, err := s.fs.LoadAvg()
	if err != nil {
		return stats, fmt.Errorf("failed to read load average: %w", err)
	}
	stats.Load1, stats.Load5, stats.Load15 = load.Load1, load.Load5, load.Load15

	mem, err := s.fs.Meminfo()
	if err != nil {
		return stats, fmt.Errorf("failed to read meminfo: %w", err)
	}
	if mem.MemTotal != nil && mem.MemAvailable != nil && *mem.MemTotal > 0 {
		stats.MemoryRatio = 1 - float64(*mem.MemAvailable)/float64(*mem.MemTotal)
	}
	stats.Host = true

	return stats, nil
}

// runtimeSampler is used where /proc is unavailable. It reports only what
// the Go runtime knows.
type runtimeSampler struct{}

func (runtimeSampler) Sample() (SystemStats, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return SystemStats{
		HeapBytes:  ms.HeapAlloc,
		RSSBytes:   ms.Sys,
		CPUCount:   runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
	}, nil
}

// Package telemetry samples system (and, where available, GPU-adjacent)
// counters on a fixed interval and forwards them to a callback, giving the
// "external GPU/system telemetry collectors calling into the core by
// callback" (spec §1) a concrete body. Samples are taken via gopsutil,
// grounded on the teacher's internal/collectors/metrics.go probe shape.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/breeze-rmm/selkies-agent/internal/logging"
	"github.com/breeze-rmm/selkies-agent/internal/workerpool"
)

var log = logging.L("telemetry")

// DefaultInterval matches the teacher's metrics collection cadence class
// (a few seconds, not sub-second) adapted for desktop-relay telemetry.
const DefaultInterval = 5 * time.Second

// Sample is the {cpu_percent, mem_percent, uptime_s} struct forwarded to
// DataChannelProtocol's gpu_stats/system_stats outbound tags.
type Sample struct {
	CPUPercent float64
	MemPercent float64
	UptimeS    float64
}

// Collector periodically samples system counters on a dedicated
// worker-pool task (spec §5: "GPU/System telemetry loops ... each run on a
// dedicated worker").
type Collector struct {
	pool     *workerpool.Pool
	interval time.Duration
	start    time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewCollector(pool *workerpool.Pool, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Collector{
		pool:     pool,
		interval: interval,
		start:    time.Now(),
		stopCh:   make(chan struct{}),
	}
}

// Start submits the sampling loop to the worker pool. onSample is invoked
// with each new Sample from the worker goroutine — callers must not block
// for long inside it.
func (c *Collector) Start(onSample func(Sample)) {
	c.pool.Submit(func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				sample, err := c.sample()
				if err != nil {
					log.Warn("telemetry sample failed", "error", err)
					continue
				}
				onSample(sample)
			}
		}
	})
}

// Stop ends the sampling loop. The worker pool's own Drain/Shutdown is
// responsible for joining the goroutine.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Collector) sample() (Sample, error) {
	percents, err := cpu.PercentWithContext(context.Background(), 0, false)
	cpuPercent := 0.0
	if err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}

	vmem, err := mem.VirtualMemoryWithContext(context.Background())
	memPercent := 0.0
	if err == nil {
		memPercent = vmem.UsedPercent
	}

	return Sample{
		CPUPercent: cpuPercent,
		MemPercent: memPercent,
		UptimeS:    time.Since(c.start).Seconds(),
	}, nil
}

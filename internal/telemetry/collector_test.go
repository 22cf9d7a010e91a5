package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/breeze-rmm/selkies-agent/internal/workerpool"
)

func TestCollectorSamplesOnInterval(t *testing.T) {
	pool := workerpool.New(2, 4)
	defer pool.Shutdown(context.Background())

	c := NewCollector(pool, 20*time.Millisecond)

	samples := make(chan Sample, 8)
	c.Start(func(s Sample) { samples <- s })

	select {
	case s := <-samples:
		if s.UptimeS < 0 {
			t.Fatalf("expected non-negative uptime, got %v", s.UptimeS)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a telemetry sample")
	}

	c.Stop()
}

func TestNewCollectorDefaultsInterval(t *testing.T) {
	pool := workerpool.New(1, 1)
	defer pool.Shutdown(context.Background())

	c := NewCollector(pool, 0)
	if c.interval != DefaultInterval {
		t.Fatalf("expected default interval %v, got %v", DefaultInterval, c.interval)
	}
}

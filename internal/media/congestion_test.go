package media

import (
	"testing"
	"time"
)

func TestEstimatorDegradesOnSustainedLoss(t *testing.T) {
	var got int
	e := NewEstimator(CongestionConfig{
		MinBitrate: 500_000, MaxBitrate: 5_000_000, InitialBitrate: 2_000_000,
		Cooldown:   time.Millisecond,
		OnEstimate: func(bps int) { got = bps },
	})

	for i := 0; i < 5; i++ {
		e.Update(50*time.Millisecond, 0.10)
		time.Sleep(2 * time.Millisecond)
	}

	if got == 0 {
		t.Fatal("expected a degrade callback to fire")
	}
	if got >= 2_000_000 {
		t.Fatalf("expected bitrate to drop below initial 2_000_000, got %d", got)
	}
}

func TestEstimatorUpgradesAfterStableCleanSamples(t *testing.T) {
	var got int
	e := NewEstimator(CongestionConfig{
		MinBitrate: 500_000, MaxBitrate: 5_000_000, InitialBitrate: 1_000_000,
		Cooldown:   time.Millisecond,
		OnEstimate: func(bps int) { got = bps },
	})

	for i := 0; i < 6; i++ {
		e.Update(20*time.Millisecond, 0.0)
		time.Sleep(2 * time.Millisecond)
	}

	if got == 0 {
		t.Fatal("expected an upgrade callback to fire")
	}
	if got <= 1_000_000 {
		t.Fatalf("expected bitrate to climb above initial 1_000_000, got %d", got)
	}
}

func TestEstimatorRespectsCooldown(t *testing.T) {
	calls := 0
	e := NewEstimator(CongestionConfig{
		MinBitrate: 500_000, MaxBitrate: 5_000_000, InitialBitrate: 2_000_000,
		Cooldown:   time.Hour,
		OnEstimate: func(bps int) { calls++ },
	})

	for i := 0; i < 5; i++ {
		e.Update(50*time.Millisecond, 0.10)
	}
	if calls > 1 {
		t.Fatalf("expected cooldown to suppress repeated adjustments, got %d calls", calls)
	}
}

func TestEstimatorSetBoundsClampsTarget(t *testing.T) {
	e := NewEstimator(CongestionConfig{MinBitrate: 500_000, MaxBitrate: 5_000_000, InitialBitrate: 4_000_000})
	e.SetBounds(500_000, 1_000_000)
	e.mu.Lock()
	target := e.target
	e.mu.Unlock()
	if target != 1_000_000 {
		t.Fatalf("expected target clamped to new max 1_000_000, got %d", target)
	}
}

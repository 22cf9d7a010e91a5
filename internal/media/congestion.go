package media

import (
	"sync"
	"time"

	"github.com/breeze-rmm/selkies-agent/internal/logging"
)

var congestionLog = logging.L("media.congestion")

// CongestionConfig configures the estimator. Grounded on the teacher's
// AdaptiveConfig (internal/remote/desktop/adaptive.go), trimmed to the
// fields this controller's bitrate estimator needs — quality presets and
// FPS scaling were specific to the teacher's Windows MFT encoder and have
// no counterpart in the GStreamer pipeline's dynamic setters.
type CongestionConfig struct {
	MinBitrate     int
	MaxBitrate     int
	InitialBitrate int
	Cooldown       time.Duration
	// OnEstimate receives a new estimated bitrate whenever RTT/loss samples
	// indicate the link should speed up or slow down. The caller is
	// responsible for invoking set_video_bitrate(bps, cc=true) — this type
	// never touches the pipeline directly, so feedback loops are only
	// suppressed by the caller not re-entering Update from inside the
	// callback (spec §4.5: "suppress feedback loops by not reconfiguring CC
	// from within CC-triggered callbacks").
	OnEstimate func(bps int)
}

// Estimator implements an AIMD bitrate estimator driven by RTCP RTT/loss
// samples, standing in for the "CC helper element" spec §4.5 describes as
// optionally present in the media library. Grounded on the teacher's
// AdaptiveBitrate: same EWMA-smoothed AIMD shape (multiplicative decrease on
// sustained loss, additive increase on sustained clean samples), stripped of
// the Windows-encoder-specific quality-preset and adaptive-FPS machinery.
type Estimator struct {
	mu         sync.Mutex
	minBitrate int
	maxBitrate int
	cooldown   time.Duration
	lastAdjust time.Time
	target     int
	onEstimate func(int)

	smoothedLoss float64
	smoothedRTT  time.Duration
	samples      int
	stableCount  int
}

const estimatorEWMAAlpha = 0.3

func NewEstimator(cfg CongestionConfig) *Estimator {
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 500 * time.Millisecond
	}
	initial := cfg.InitialBitrate
	if initial <= 0 {
		initial = cfg.MinBitrate
	}
	initial = clampInt(initial, cfg.MinBitrate, cfg.MaxBitrate)
	return &Estimator{
		minBitrate: cfg.MinBitrate,
		maxBitrate: cfg.MaxBitrate,
		cooldown:   cooldown,
		target:     initial,
		onEstimate: cfg.OnEstimate,
	}
}

// SetBounds updates the min/max bitrate bounds — called whenever
// set_video_bitrate reprograms the CC bands (spec §4.5).
func (e *Estimator) SetBounds(min, max int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.minBitrate, e.maxBitrate = min, max
	e.target = clampInt(e.target, min, max)
}

// Update feeds a new RTT/packet-loss sample from RTCP receiver reports.
func (e *Estimator) Update(rtt time.Duration, packetLoss float64) {
	if packetLoss < 0 {
		packetLoss = 0
	}
	if packetLoss > 1 {
		packetLoss = 1
	}

	e.mu.Lock()

	now := time.Now()
	if !e.lastAdjust.IsZero() && now.Sub(e.lastAdjust) < e.cooldown {
		e.updateEWMA(rtt, packetLoss)
		e.mu.Unlock()
		return
	}
	e.updateEWMA(rtt, packetLoss)

	if e.samples < 3 {
		e.mu.Unlock()
		return
	}

	loss := e.smoothedLoss
	rttSmoothed := e.smoothedRTT
	degrade := loss >= 0.05 || (rttSmoothed >= 300*time.Millisecond && loss >= 0.02)
	upgrade := loss <= 0.01

	if degrade {
		e.stableCount = 0
	} else if upgrade {
		e.stableCount++
	} else if e.stableCount > 0 {
		e.stableCount--
	}

	const stableRequired = 2
	newBitrate := e.target

	switch {
	case degrade:
		newBitrate = clampInt(int(float64(newBitrate)*0.70), e.minBitrate, e.maxBitrate)
	case e.stableCount >= stableRequired && e.target < e.maxBitrate:
		step := e.maxBitrate / 20
		if step < 100_000 {
			step = 100_000
		}
		newBitrate = clampInt(newBitrate+step, e.minBitrate, e.maxBitrate)
		e.stableCount = 0
	}

	if newBitrate == e.target {
		e.mu.Unlock()
		return
	}

	e.target = newBitrate
	e.lastAdjust = now
	cb := e.onEstimate
	e.mu.Unlock()

	congestionLog.Info("congestion estimate", "bitrate", newBitrate, "smoothedLoss", loss, "smoothedRTT", rttSmoothed)
	if cb != nil {
		cb(newBitrate)
	}
}

func (e *Estimator) updateEWMA(rtt time.Duration, loss float64) {
	e.samples++
	if e.samples == 1 {
		e.smoothedLoss = loss
		e.smoothedRTT = rtt
		return
	}
	e.smoothedLoss = estimatorEWMAAlpha*loss + (1-estimatorEWMAAlpha)*e.smoothedLoss
	e.smoothedRTT = time.Duration(estimatorEWMAAlpha*float64(rtt) + (1-estimatorEWMAAlpha)*float64(e.smoothedRTT))
}

func clampInt(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

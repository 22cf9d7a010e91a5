//go:build cgo

package media

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
)

// opusFrameDuration is opusenc's default 20ms frame size (spec §1: "an Opus
// audio track from the system mixer"). Grounded on the original's
// build_audio_pipeline (gstwebrtc_app.py), which leaves opusenc's frame-size
// property at its GStreamer default rather than overriding it.
const opusFrameDuration = 20 * time.Millisecond

// initGStreamer, gstLog, and EncodedFrame are shared with gst_pipeline.go.

// AudioPipeline wraps a pulsesrc -> opusenc capture/encode chain with
// appsink frame delivery, mirroring Pipeline's shape for the video side.
// Grounded on the original's build_audio_pipeline: pulsesrc with
// provide-clock=true feeding opusenc (fullband, cbr, inband-fec); RTP
// packetization itself is left to pion's TrackLocalStaticSample rather than
// GStreamer's rtpopuspay, matching how the video chain also stops at the
// encoded-frame boundary and lets pion packetize.
type AudioPipeline struct {
	mu    sync.Mutex
	state LifecycleState

	pipeline *gst.Pipeline
	appsink  *app.Sink
	opusenc  *gst.Element

	frameCh  chan EncodedFrame
	running  atomic.Bool
	stopOnce sync.Once
}

// NewAudioPipeline constructs (but does not start) the capture/encode chain
// for the requested channel count and bitrate.
func NewAudioPipeline(channels, bitrateBps int) (*AudioPipeline, error) {
	initGStreamer()

	pipelineStr := buildAudioPipelineString(channels, bitrateBps)
	gstPipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return nil, fmt.Errorf("media: parse audio pipeline: %w", err)
	}

	sinkElem, err := gstPipeline.GetElementByName("audiosink")
	if err != nil {
		gstPipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("media: missing audiosink element: %w", err)
	}
	appsink := app.SinkFromElement(sinkElem)
	if appsink == nil {
		gstPipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("media: audiosink element is not an appsink")
	}

	aenc, err := gstPipeline.GetElementByName("aenc")
	if err != nil {
		gstPipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("media: missing aenc element: %w", err)
	}

	return &AudioPipeline{
		state:    StateBuilding,
		pipeline: gstPipeline,
		appsink:  appsink,
		opusenc:  aenc,
		frameCh:  make(chan EncodedFrame, 8),
	}, nil
}

// buildAudioPipelineString assembles pulsesrc -> audioconvert -> audioresample
// -> capsfilter(channels) -> opusenc -> appsink, per the original's
// build_audio_pipeline property set (bandwidth=fullband, audio-type=generic,
// bitrate-type=cbr, inband-fec=true, max-payload-size=4000).
func buildAudioPipelineString(channels, bitrateBps int) string {
	if channels < 1 {
		channels = 2
	}
	return fmt.Sprintf(
		"pulsesrc provide-clock=true ! "+
			"audioconvert ! audioresample ! "+
			"capsfilter caps=audio/x-raw,channels=%d ! "+
			"opusenc name=aenc bandwidth=fullband audio-type=generic bitrate-type=cbr "+
			"inband-fec=true max-payload-size=4000 bitrate=%d ! "+
			"appsink name=audiosink",
		channels, bitrateBps)
}

// Start configures the appsink callback and transitions Building -> Playing.
func (p *AudioPipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.state.transition(StatePlaying); err != nil {
		return err
	}

	p.appsink.SetProperty("emit-signals", true)
	p.appsink.SetProperty("max-buffers", uint(4))
	p.appsink.SetProperty("drop", true)
	p.appsink.SetProperty("sync", false)
	p.appsink.SetCallbacks(&app.SinkCallbacks{NewSampleFunc: p.onNewSample})

	if err := p.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("media: set audio pipeline playing: %w", err)
	}
	p.running.Store(true)
	p.state = StatePlaying

	go p.watchBus()
	return nil
}

func (p *AudioPipeline) onNewSample(sink *app.Sink) gst.FlowReturn {
	if !p.running.Load() {
		return gst.FlowEOS
	}
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}
	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return gst.FlowOK
	}
	defer buffer.Unmap()

	data := make([]byte, len(mapInfo.Bytes()))
	copy(data, mapInfo.Bytes())

	frame := EncodedFrame{Data: data, Duration: opusFrameDuration}
	select {
	case p.frameCh <- frame:
	default:
		// drop under backpressure — low latency over completeness
	}
	return gst.FlowOK
}

func (p *AudioPipeline) watchBus() {
	bus := p.pipeline.GetPipelineBus()
	if bus == nil {
		return
	}
	for p.running.Load() {
		msg := bus.TimedPop(gst.ClockTime(100 * time.Millisecond))
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			gstLog.Info("audio pipeline EOS")
			p.Stop()
			return
		case gst.MessageError:
			if gerr := msg.ParseError(); gerr != nil {
				gstLog.Error("audio pipeline error", "error", gerr.Error())
			}
			p.Stop()
			return
		case gst.MessageWarning:
			if gwarn := msg.ParseWarning(); gwarn != nil {
				gstLog.Warn("audio pipeline warning", "warning", gwarn.Error())
			}
		}
	}
}

// Frames returns the channel of encoded Opus access units. Closed once Stop
// runs.
func (p *AudioPipeline) Frames() <-chan EncodedFrame { return p.frameCh }

// SetBitrate reprograms opusenc's bitrate property in place.
func (p *AudioPipeline) SetBitrate(bps int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.opusenc == nil {
		return fmt.Errorf("media: audio pipeline has no encoder element")
	}
	p.opusenc.SetProperty("bitrate", bps)
	return nil
}

// Stop transitions to Stopped, sets every element to null, and closes the
// frame channel.
func (p *AudioPipeline) Stop() {
	p.stopOnce.Do(func() {
		p.running.Store(false)
		p.mu.Lock()
		p.state = StateStopping
		if p.pipeline != nil {
			p.pipeline.SetState(gst.StateNull)
		}
		p.state = StateStopped
		p.mu.Unlock()
		close(p.frameCh)
	})
}

// State returns the current lifecycle state.
func (p *AudioPipeline) State() LifecycleState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

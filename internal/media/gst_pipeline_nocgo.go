//go:build !cgo

package media

import (
	"errors"
	"time"
)

// ErrCGORequired is returned by every Pipeline operation when built without
// CGO — go-gst's bindings require it. Grounded on helixml-helix's
// gst_pipeline_nocgo.go stub split.
var ErrCGORequired = errors.New("media: GStreamer support requires CGO")

// EncodedFrame mirrors the cgo build's type so callers compile either way.
type EncodedFrame struct {
	Data       []byte
	Duration   time.Duration
	IsKeyframe bool
}

// Pipeline is an inert stand-in when CGO is disabled.
type Pipeline struct{}

func NewPipeline(codec VideoCodec, family EncoderFamily, width, height, framerate, bitrateBps, gopFrames int) (*Pipeline, error) {
	return nil, ErrCGORequired
}

func (p *Pipeline) Start() error                             { return ErrCGORequired }
func (p *Pipeline) Frames() <-chan EncodedFrame               { return nil }
func (p *Pipeline) SetBitrate(bps int) error                  { return ErrCGORequired }
func (p *Pipeline) SetFramerate(width, height, fps int) error { return ErrCGORequired }
func (p *Pipeline) SetVBVBuffer(vbvBits int) error            { return ErrCGORequired }
func (p *Pipeline) ForceKeyframe() error                      { return ErrCGORequired }
func (p *Pipeline) Stop()                                     {}
func (p *Pipeline) State() LifecycleState                     { return StateStopped }

// AudioPipeline is an inert stand-in when CGO is disabled.
type AudioPipeline struct{}

func NewAudioPipeline(channels, bitrateBps int) (*AudioPipeline, error) {
	return nil, ErrCGORequired
}

func (p *AudioPipeline) Start() error                { return ErrCGORequired }
func (p *AudioPipeline) Frames() <-chan EncodedFrame  { return nil }
func (p *AudioPipeline) SetBitrate(bps int) error     { return ErrCGORequired }
func (p *AudioPipeline) Stop()                        {}
func (p *AudioPipeline) State() LifecycleState        { return StateStopped }

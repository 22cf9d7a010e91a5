package media

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/breeze-rmm/selkies-agent/internal/datachannel"
	"github.com/breeze-rmm/selkies-agent/internal/logging"
)

var ctrlLog = logging.L("media.controller")

const (
	playoutDelayURI       = "http://www.webrtc.org/experiments/rtp-hdrext/playout-delay"
	transportWideCCURI    = "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01"
	iceGatherTimeout      = 20 * time.Second
	keyframeRateLimit     = 500 * time.Millisecond
	dataChannelName       = "input"
	dataChannelMaxRetrans = 0
)

// ControllerConfig is the static configuration a Controller is built with.
// Dynamic parameters (framerate, bitrates, keyframe distance) are supplied
// through the dynamic setters once the pipeline is Playing.
type ControllerConfig struct {
	ICEServers []webrtc.ICEServer

	VideoCodec    VideoCodec
	EncoderFamily EncoderFamily
	Width         int
	Height        int
	Framerate     int
	VideoBitrate  int
	AudioBitrate  int
	AudioChannels int
	AudioEnabled  bool

	KeyframeDistanceSeconds float64 // -1 for infinite GOP
	VideoLossPct            float64
	AudioLossPct            float64
	CongestionControl       bool

	OnDataChannelOpen    func()
	OnDataChannelClose   func()
	OnDataChannelMessage func(string)
	OnStateChange        func(webrtc.PeerConnectionState)
	// OnICECandidate fires for each locally-gathered trickle candidate, in
	// production order (spec §5: "the first batch of ICE candidates are
	// sent in the order the media library produces them").
	OnICECandidate func(candidate string, sdpMLineIndex int)
}

// Controller owns one PeerConnection + one GStreamer encode Pipeline, wiring
// RTCP-driven keyframe forcing, congestion-control-driven bitrate estimation,
// and the single "input" data channel (spec §4.5/§4.6). Grounded on the
// teacher's Session/SessionManager (internal/remote/desktop/webrtc.go):
// same PeerConnection/track/RTCP-drain/data-channel shape, re-targeted from
// a DXGI/MFT capture+encode stack onto the GStreamer pipeline in this
// package, and from per-viewer multi-data-channel fan-out onto the spec's
// single comma-grammar "input" channel.
type Controller struct {
	cfg ControllerConfig

	mediaEngine *webrtc.MediaEngine
	api         *webrtc.API
	pc          *webrtc.PeerConnection

	videoTrack *webrtc.TrackLocalStaticSample
	audioTrack *webrtc.TrackLocalStaticSample
	dc         *webrtc.DataChannel

	pipeline      *Pipeline
	audioPipeline *AudioPipeline
	estimator     *Estimator

	playoutExtID int
	ccExtID      int

	mu            sync.Mutex
	state         PipelineState
	lastForcedKF  time.Time
	lastForceKFMu sync.Mutex

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewController builds the MediaEngine/API/PeerConnection/tracks/RTCP-drain/
// data channel, but does not build or start the GStreamer pipeline — that
// happens once the connection reaches Connected (see startStreaming),
// mirroring the teacher's "streaming starts on PeerConnectionStateConnected"
// comment.
func NewController(cfg ControllerConfig) (*Controller, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("media: register default codecs: %w", err)
	}
	if err := mediaEngine.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: playoutDelayURI}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("media: register playout-delay extension: %w", err)
	}
	if cfg.CongestionControl {
		if err := mediaEngine.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: transportWideCCURI}, webrtc.RTPCodecTypeVideo); err != nil {
			return nil, fmt.Errorf("media: register transport-wide-cc extension: %w", err)
		}
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("media: new peer connection: %w", err)
	}

	c := &Controller{
		cfg:         cfg,
		mediaEngine: mediaEngine,
		api:         api,
		pc:          pc,
		done:        make(chan struct{}),
		state: PipelineState{
			Lifecycle:        StateStopped,
			Framerate:        cfg.Framerate,
			VideoBitrate:     cfg.VideoBitrate,
			AudioBitrate:     cfg.AudioBitrate,
			KeyframeDistance: cfg.KeyframeDistanceSeconds,
			AudioChannels:    cfg.AudioChannels,
			Encoder:          string(cfg.EncoderFamily),
		},
	}

	if err := c.addTracks(); err != nil {
		_ = pc.Close()
		return nil, err
	}
	if err := c.openDataChannel(); err != nil {
		_ = pc.Close()
		return nil, err
	}
	if cfg.CongestionControl {
		min, max := CongestionBands(cfg.VideoBitrate, FECAudioBitrate(cfg.AudioBitrate, cfg.AudioLossPct))
		c.estimator = NewEstimator(CongestionConfig{
			MinBitrate: min, MaxBitrate: max, InitialBitrate: cfg.VideoBitrate,
			OnEstimate: func(bps int) { _ = c.SetVideoBitrate(bps, true) },
		})
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || cfg.OnICECandidate == nil {
			return
		}
		init := cand.ToJSON()
		mLineIndex := 0
		if init.SDPMLineIndex != nil {
			mLineIndex = int(*init.SDPMLineIndex)
		}
		cfg.OnICECandidate(init.Candidate, mLineIndex)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		ctrlLog.Info("peer connection state change", "state", state.String())
		if cfg.OnStateChange != nil {
			cfg.OnStateChange(state)
		}
		if state == webrtc.PeerConnectionStateConnected {
			c.startStreaming()
		}
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			c.Stop()
		}
	})

	return c, nil
}

func (c *Controller) addTracks() error {
	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: videoMimeType(c.cfg.VideoCodec), ClockRate: 90000},
		"video", "desktop",
	)
	if err != nil {
		return fmt.Errorf("media: new video track: %w", err)
	}
	c.videoTrack = videoTrack

	sender, err := c.pc.AddTrack(videoTrack)
	if err != nil {
		return fmt.Errorf("media: add video track: %w", err)
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.drainRTCP(sender)
	}()

	// Opus at 48kHz (spec.md §1, SPEC_FULL.md §6), grounded on the original's
	// build_audio_pipeline (opusenc feeding a 48000 clock-rate rtpopuspay).
	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: uint16(c.cfg.AudioChannels)},
		"audio", "desktop",
	)
	if err != nil {
		return fmt.Errorf("media: new audio track: %w", err)
	}
	c.audioTrack = audioTrack
	if _, err := c.pc.AddTrack(audioTrack); err != nil {
		return fmt.Errorf("media: add audio track: %w", err)
	}
	return nil
}

// videoMimeType maps a VideoCodec onto the pion MIME constant advertised on
// the video track.
func videoMimeType(codec VideoCodec) string {
	switch codec {
	case CodecH265:
		return webrtc.MimeTypeH265
	case CodecVP8:
		return webrtc.MimeTypeVP8
	case CodecVP9:
		return webrtc.MimeTypeVP9
	case CodecAV1:
		return webrtc.MimeTypeAV1
	default:
		return webrtc.MimeTypeH264
	}
}

// drainRTCP reads RTCP from the sender so it never blocks on backpressure,
// rate-limiting PLI/FIR-driven keyframe forcing to keyframeRateLimit.
// Grounded verbatim on the teacher's RTCP drain goroutine in webrtc.go,
// generalized to also feed RTT/loss samples into the congestion Estimator
// from the reception reports of ReceiverReport packets.
func (c *Controller) drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		pkts, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, pkt := range pkts {
			switch p := pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				c.maybeForceKeyframe()
			case *rtcp.ReceiverReport:
				for _, report := range p.Reports {
					if c.estimator != nil {
						lossFraction := float64(report.FractionLost) / 256.0
						rtt := time.Duration(report.Delay) * time.Millisecond
						c.estimator.Update(rtt, lossFraction)
					}
				}
			}
		}
	}
}

func (c *Controller) maybeForceKeyframe() {
	c.lastForceKFMu.Lock()
	defer c.lastForceKFMu.Unlock()
	if time.Since(c.lastForcedKF) < keyframeRateLimit {
		return
	}
	c.lastForcedKF = time.Now()
	c.mu.Lock()
	pipeline := c.pipeline
	c.mu.Unlock()
	if pipeline != nil {
		if err := pipeline.ForceKeyframe(); err != nil {
			ctrlLog.Warn("force keyframe failed", "error", err)
		}
	}
}

// openDataChannel opens the single reliable ordered "input" channel with
// max-retransmits=0, per spec §4.5.
func (c *Controller) openDataChannel() error {
	ordered := true
	maxRetrans := uint16(dataChannelMaxRetrans)
	dc, err := c.pc.CreateDataChannel(dataChannelName, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetrans,
	})
	if err != nil {
		return fmt.Errorf("media: create data channel: %w", err)
	}
	c.dc = dc

	dc.OnOpen(func() {
		if c.cfg.OnDataChannelOpen != nil {
			c.cfg.OnDataChannelOpen()
		}
	})
	dc.OnClose(func() {
		if c.cfg.OnDataChannelClose != nil {
			c.cfg.OnDataChannelClose()
		}
	})
	dc.OnError(func(err error) {
		ctrlLog.Warn("data channel error", "error", err)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			return
		}
		if c.cfg.OnDataChannelMessage != nil {
			c.cfg.OnDataChannelMessage(string(msg.Data))
		}
	})
	return nil
}

// SendDataChannelMessage marshals an outbound envelope and sends it, or
// drops it silently if the channel is not OPEN (spec §4.6).
func (c *Controller) SendDataChannelMessage(tag datachannel.OutboundTag, data interface{}) error {
	if c.dc == nil || c.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return nil
	}
	payload, err := datachannel.EncodeEnvelope(tag, data)
	if err != nil {
		return fmt.Errorf("media: encode envelope: %w", err)
	}
	return c.dc.SendText(string(payload))
}

// CreateOffer negotiates a local offer, waits for ICE gathering, applies the
// SDP munging pass, and returns the munged SDP to hand to the signaling
// layer.
func (c *Controller) CreateOffer() (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("media: create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("media: set local description: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	timer := time.NewTimer(iceGatherTimeout)
	defer timer.Stop()
	select {
	case <-gatherComplete:
	case <-timer.C:
		return "", fmt.Errorf("media: ICE gathering timed out after %s", iceGatherTimeout)
	case <-c.done:
		return "", fmt.Errorf("media: controller stopped during ICE gathering")
	}

	ld := c.pc.LocalDescription()
	if ld == nil {
		return "", fmt.Errorf("media: local description not available")
	}

	munged, err := MungeOffer(ld.SDP)
	if err != nil {
		ctrlLog.Warn("SDP munging failed, sending unmunged offer", "error", err)
		return ld.SDP, nil
	}

	c.resolveExtensionIDs()
	return munged, nil
}

// SetRemoteAnswer applies the viewer's SDP answer.
func (c *Controller) SetRemoteAnswer(sdp string) error {
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

// AddICECandidate applies a trickle ICE candidate received from the viewer
// over the signaling channel.
func (c *Controller) AddICECandidate(candidate string, sdpMLineIndex int) error {
	idx := uint16(sdpMLineIndex)
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate, SDPMLineIndex: &idx})
}

// SetRemoteOfferAndCreateAnswer handles the browser-is-offerer negotiation
// path: the signaling relay here treats whichever side calls SESSION as the
// caller, and the browser's JS client plays that role, so the agent answers
// rather than offers. The SDP munging pass applies equally to answers (the
// fmtp/rtx/ptime rewrites are payload-type-keyed, not offer/answer-specific).
func (c *Controller) SetRemoteOfferAndCreateAnswer(offerSDP string) (string, error) {
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		return "", fmt.Errorf("media: set remote offer: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("media: create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("media: set local description: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	timer := time.NewTimer(iceGatherTimeout)
	defer timer.Stop()
	select {
	case <-gatherComplete:
	case <-timer.C:
		return "", fmt.Errorf("media: ICE gathering timed out after %s", iceGatherTimeout)
	case <-c.done:
		return "", fmt.Errorf("media: controller stopped during ICE gathering")
	}

	ld := c.pc.LocalDescription()
	if ld == nil {
		return "", fmt.Errorf("media: local description not available")
	}

	munged, err := MungeOffer(ld.SDP)
	if err != nil {
		ctrlLog.Warn("SDP munging failed, sending unmunged answer", "error", err)
		return ld.SDP, nil
	}
	c.resolveExtensionIDs()
	return munged, nil
}

// resolveExtensionIDs reads back the negotiated header-extension IDs once
// local description is set, for use when writing them onto RTP packets via
// WriteSimulcastSample. ccExtID is recorded for completeness but not
// written per-packet here: TrackLocalStaticSample's sample-level API
// packetizes a whole frame at once, so there is no per-packet hook to carry
// a monotonically increasing transport-wide-cc sequence number the way a
// raw RTP writer could.
func (c *Controller) resolveExtensionIDs() {
	if id, _, ok := c.mediaEngine.GetHeaderExtensionID(webrtc.RTPHeaderExtensionCapability{URI: playoutDelayURI}); ok {
		c.playoutExtID = id
	}
	if c.cfg.CongestionControl {
		if id, _, ok := c.mediaEngine.GetHeaderExtensionID(webrtc.RTPHeaderExtensionCapability{URI: transportWideCCURI}); ok {
			c.ccExtID = id
		}
	}
}

// startStreaming builds and starts the GStreamer pipeline and begins
// pumping encoded frames into the video track once the PeerConnection
// reaches Connected.
func (c *Controller) startStreaming() {
	c.mu.Lock()
	if c.pipeline != nil {
		c.mu.Unlock()
		return
	}
	gopFrames := KeyframeFrameDistance(c.cfg.Framerate, c.cfg.KeyframeDistanceSeconds)
	fecVideo := FECVideoBitrate(c.cfg.VideoBitrate, c.cfg.VideoLossPct)
	pipeline, err := NewPipeline(c.cfg.VideoCodec, c.cfg.EncoderFamily, c.cfg.Width, c.cfg.Height, c.cfg.Framerate, fecVideo, gopFrames)
	if err != nil {
		c.mu.Unlock()
		ctrlLog.Error("failed to build pipeline", "error", err)
		return
	}
	c.pipeline = pipeline
	c.state.Lifecycle = StateBuilding

	var audioPipeline *AudioPipeline
	if c.cfg.AudioEnabled {
		fecAudio := FECAudioBitrate(c.cfg.AudioBitrate, c.cfg.AudioLossPct)
		audioPipeline, err = NewAudioPipeline(c.cfg.AudioChannels, fecAudio)
		if err != nil {
			ctrlLog.Error("failed to build audio pipeline", "error", err)
			audioPipeline = nil
		} else {
			c.audioPipeline = audioPipeline
		}
	}
	c.mu.Unlock()

	if err := pipeline.Start(); err != nil {
		ctrlLog.Error("failed to start pipeline", "error", err)
		return
	}
	c.mu.Lock()
	c.state.Lifecycle = StatePlaying
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.pumpFrames(pipeline)
	}()

	if audioPipeline != nil {
		if err := audioPipeline.Start(); err != nil {
			ctrlLog.Error("failed to start audio pipeline", "error", err)
			return
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.pumpAudio(audioPipeline)
		}()
	}
}

func (c *Controller) pumpFrames(pipeline *Pipeline) {
	frameDuration := time.Second / time.Duration(maxInt(c.cfg.Framerate, 1))
	extensions := c.frameExtensions()
	for frame := range pipeline.Frames() {
		sample := media.Sample{Data: frame.Data, Duration: frameDuration}
		if len(extensions) > 0 {
			_ = c.videoTrack.WriteSimulcastSample(sample, extensions)
		} else {
			_ = c.videoTrack.WriteSample(sample)
		}
	}
}

// pumpAudio forwards every Opus access unit pulled from the audio pipeline's
// appsink onto the audio track, mirroring pumpFrames for the video side.
func (c *Controller) pumpAudio(pipeline *AudioPipeline) {
	for frame := range pipeline.Frames() {
		_ = c.WriteAudioSample(frame.Data, frame.Duration)
	}
}

// frameExtensions builds the fixed per-frame RTP extensions this controller
// writes on every video sample: a 3-byte min=0/max=0 playout-delay payload
// (spec §4.5 — low-latency screen sharing, never buffered for more than
// zero frames of jitter).
func (c *Controller) frameExtensions() []rtp.Extension {
	if c.playoutExtID <= 0 {
		return nil
	}
	return []rtp.Extension{{ID: uint8(c.playoutExtID), Payload: []byte{0, 0, 0}}}
}

// WriteAudioSample forwards an Opus-encoded audio frame onto the audio
// track, whether pulled from the pulsesrc/opusenc AudioPipeline by pumpAudio
// or supplied directly by a caller that captures audio some other way.
func (c *Controller) WriteAudioSample(data []byte, duration time.Duration) error {
	if c.audioTrack == nil {
		return fmt.Errorf("media: no audio track")
	}
	return c.audioTrack.WriteSample(media.Sample{Data: data, Duration: duration})
}

// SetFramerate updates the pre-encoder capsfilter's framerate only; the
// encoder's GOP size and VBV buffer keep the values computed when the
// pipeline was built.
func (c *Controller) SetFramerate(f int) error {
	c.mu.Lock()
	c.cfg.Framerate = f
	c.state.Framerate = f
	pipeline := c.pipeline
	c.mu.Unlock()
	if pipeline == nil {
		return nil
	}
	return pipeline.SetFramerate(c.cfg.Width, c.cfg.Height, f)
}

// SetVideoBitrate updates the encoder bitrate and, when not congestion-
// triggered, the VBV buffer; when cc==false (a UI-driven change, not an
// estimator callback) and congestion control is enabled, also reprograms
// the estimator's min/max bands (spec §4.5 set_video_bitrate).
func (c *Controller) SetVideoBitrate(bps int, cc bool) error {
	c.mu.Lock()
	c.cfg.VideoBitrate = bps
	c.state.VideoBitrate = bps
	pipeline := c.pipeline
	estimator := c.estimator
	ccEnabled := c.cfg.CongestionControl
	audioBitrate := c.cfg.AudioBitrate
	audioLoss := c.cfg.AudioLossPct
	videoLoss := c.cfg.VideoLossPct
	framerate := c.cfg.Framerate
	family := c.cfg.EncoderFamily
	infiniteGOP := c.cfg.KeyframeDistanceSeconds == -1.0
	c.mu.Unlock()

	if ccEnabled && !cc && estimator != nil {
		fecAudio := FECAudioBitrate(audioBitrate, audioLoss)
		min, max := CongestionBands(bps, fecAudio)
		estimator.SetBounds(min, max)
	}

	if pipeline == nil {
		return nil
	}
	fecVideo := FECVideoBitrate(bps, videoLoss)
	if err := pipeline.SetBitrate(fecVideo); err != nil {
		return err
	}
	if !cc {
		vbv := VBVBufferBits(fecVideo, framerate, family, infiniteGOP)
		if err := pipeline.SetVBVBuffer(vbv); err != nil {
			return err
		}
	}
	return nil
}

// SetAudioBitrate updates the Opus encoder and, when congestion control is
// enabled, the estimator's bands (spec §4.5 set_audio_bitrate).
func (c *Controller) SetAudioBitrate(bps int) error {
	c.mu.Lock()
	c.cfg.AudioBitrate = bps
	c.state.AudioBitrate = bps
	estimator := c.estimator
	audioPipeline := c.audioPipeline
	videoBitrate := c.cfg.VideoBitrate
	audioLoss := c.cfg.AudioLossPct
	c.mu.Unlock()

	fecAudio := FECAudioBitrate(bps, audioLoss)
	if estimator != nil {
		min, max := CongestionBands(videoBitrate, fecAudio)
		estimator.SetBounds(min, max)
	}
	if audioPipeline != nil {
		return audioPipeline.SetBitrate(fecAudio)
	}
	return nil
}

// State returns a snapshot of the current PipelineState for the outbound
// `pipeline` data-channel tag.
func (c *Controller) State() PipelineState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stop tears down the pipeline and closes the peer connection.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		pipeline := c.pipeline
		audioPipeline := c.audioPipeline
		c.state.Lifecycle = StateStopping
		c.mu.Unlock()
		if pipeline != nil {
			pipeline.Stop()
		}
		if audioPipeline != nil {
			audioPipeline.Stop()
		}
		if c.pc != nil {
			_ = c.pc.Close()
		}
		c.wg.Wait()
		c.mu.Lock()
		c.state.Lifecycle = StateStopped
		c.mu.Unlock()
	})
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Package orchestrator wires every other package into one running agent:
// the signaling server and its loopback client, the WebRTC media
// controller, gamepad/input/cursor/clipboard/telemetry, and TURN
// credentials. Spec §9 notes that SignalingClient and MediaPipelineController
// refer to each other (each calls into the other); that cycle resolves here
// as message-passing — both publish outbound events to the Orchestrator,
// which routes them to the right destination, instead of holding a direct
// reference to each other.
package orchestrator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pion/webrtc/v3"

	"github.com/breeze-rmm/selkies-agent/internal/clipboard"
	"github.com/breeze-rmm/selkies-agent/internal/config"
	"github.com/breeze-rmm/selkies-agent/internal/cursor"
	"github.com/breeze-rmm/selkies-agent/internal/datachannel"
	"github.com/breeze-rmm/selkies-agent/internal/gamepad"
	"github.com/breeze-rmm/selkies-agent/internal/input"
	"github.com/breeze-rmm/selkies-agent/internal/logging"
	"github.com/breeze-rmm/selkies-agent/internal/media"
	"github.com/breeze-rmm/selkies-agent/internal/signaling"
	"github.com/breeze-rmm/selkies-agent/internal/telemetry"
	"github.com/breeze-rmm/selkies-agent/internal/turn"
	"github.com/breeze-rmm/selkies-agent/internal/workerpool"
	"github.com/breeze-rmm/selkies-agent/internal/x11display"
)

var log = logging.L("orchestrator")

// agentUID is the fixed identity the agent registers under with the
// signaling server. The browser side always calls SESSION against this
// UID, which makes the browser the session caller and, per the dispatch
// asymmetry in signaling.Server.handleSession (only the caller gets
// SESSION_OK), the WebRTC offerer — the agent answers.
const agentUID = "agent"

// Orchestrator owns the lifetime of every component and the glue between
// them. Grounded on the teacher's agentComponents/runAgent shape
// (cmd/breeze-agent/main.go): one struct holding every long-lived
// subsystem, start in dependency order, stop in reverse.
type Orchestrator struct {
	cfg *config.Config

	pool *workerpool.Pool

	signalServer *signaling.Server
	signalClient *signaling.Client
	rtcSource    *signaling.RtcConfigSource

	gamepads  *gamepad.Server
	injector  *input.Injector
	display   *x11display.Display
	clip      *clipboard.Bridge
	cursorMon *cursor.Monitor
	collector *telemetry.Collector

	overlayWatcher *fsnotify.Watcher

	mu              sync.Mutex
	ctrl            *media.Controller
	buttonMask      uint32
	cursorVisible   bool
	resizeEnabled   bool
	lastPingSent    time.Time
	lastClientFPS   int
	lastClientLatMs int
}

// New builds every component but starts none of them; call Start.
func New(cfg *config.Config) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:           cfg,
		pool:          workerpool.New(8, 64),
		gamepads:      gamepad.NewServer(cfg.JSSocketPath, cfg.EVSocketPath),
		cursorVisible: true,
		resizeEnabled: cfg.EnableResize,
	}

	o.clip = clipboard.New(clipboard.Policy(cfg.ClipboardPolicy), cfg.ClipboardReadCmd, cfg.ClipboardWriteCmd)

	if display, err := x11display.Open(); err != nil {
		log.Warn("x11display unavailable, resize commands will be ignored", "error", err)
	} else {
		o.display = display
	}

	injector, err := newInjector(cfg)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build injector: %w", err)
	}
	o.injector = injector

	if mon, err := cursor.Open(); err != nil {
		log.Warn("cursor monitor unavailable", "error", err)
	} else {
		mon.TargetWidth = cfg.CursorWidth
		mon.TargetHeight = cfg.CursorHeight
		o.cursorMon = mon
	}

	o.rtcSource = &signaling.RtcConfigSource{}
	if cfg.TurnSharedSecret != "" {
		o.rtcSource.HMACSecret = cfg.TurnSharedSecret
		o.rtcSource.HMACHost = cfg.TurnHost
		o.rtcSource.HMACPort = cfg.TurnPort
		o.rtcSource.HMACProtocol = turn.Protocol(cfg.TurnProtocol)
		o.rtcSource.HMACTLS = cfg.TurnTLS
		o.rtcSource.AuthUserHeader = "X-Selkies-User"
	} else {
		o.rtcSource.SetStatic(buildStaticRtcConfig(cfg))
	}

	o.signalServer = signaling.New(signaling.Config{
		Addr:              fmt.Sprintf("%s:%d", cfg.SignalingHost, cfg.SignalingPort),
		WebRoot:           cfg.SignalingWebRoot,
		BasicAuthUser:     cfg.BasicAuthUser,
		BasicAuthPassword: cfg.BasicAuthPassword,
		TLSCertPath:       cfg.SignalingTLSCert,
		TLSKeyPath:        cfg.SignalingTLSKey,
		RtcConfig:         o.rtcSource,
	})

	loopbackURL := fmt.Sprintf("ws://127.0.0.1:%d/ws", cfg.SignalingPort)
	o.signalClient = signaling.NewClient(loopbackURL, agentUID, signaling.ClientCallbacks{
		OnConnect: func() { log.Info("signaling client connected") },
		OnSession: func(peerID string, meta []byte) { log.Info("session paired", "meta", string(meta)) },
		OnSDP:     o.handleRemoteSDP,
		OnICE:     o.handleRemoteICE,
		OnError:   func(err error) { log.Warn("signaling client error", "error", err) },
	})

	return o, nil
}

func newInjector(cfg *config.Config) (*input.Injector, error) {
	if cfg.BrokeredInput {
		return input.NewBrokeredInjector(cfg.UinputSocketPath)
	}
	return input.NewDirectInjector()
}

// buildStaticRtcConfig builds the STUN-only fallback RtcConfig served at
// /turn when no TURN shared secret is configured.
func buildStaticRtcConfig(cfg *config.Config) turn.RtcConfig {
	stunHost := cfg.StunHost
	stunPort := cfg.StunPort
	if stunHost == "" {
		stunHost = "stun.l.google.com"
		stunPort = 19302
	}
	if stunPort == 0 {
		stunPort = 19302
	}
	return turn.RtcConfig{
		LifetimeDuration:   "86400s",
		IceTransportPolicy: "all",
		BlockStatus:        "NOT_BLOCKED",
		IceServers: []turn.ICEServer{
			{URLs: []string{fmt.Sprintf("stun:%s:%d", stunHost, stunPort)}},
		},
	}
}

// toWebRTCICEServers converts a turn.RtcConfig's iceServers into the shape
// pion/webrtc's PeerConnection constructor wants.
func toWebRTCICEServers(rtc turn.RtcConfig) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(rtc.IceServers))
	for _, s := range rtc.IceServers {
		out = append(out, webrtc.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	return out
}

// Start brings up every subsystem. The signaling server and loopback
// client run on their own goroutines; gamepad devices and the media
// controller are created on demand.
func (o *Orchestrator) Start() error {
	go func() {
		if err := o.signalServer.Start(); err != nil {
			log.Error("signaling server stopped", "error", err)
		}
	}()

	o.signalClient.Start()

	if o.cursorMon != nil {
		o.cursorMon.Start(o.handleCursorChange)
	}

	o.clip.Start(o.handleClipboardChange)

	o.collector = telemetry.NewCollector(o.pool, telemetry.DefaultInterval)
	o.collector.Start(o.handleTelemetrySample)

	if watcher, err := o.cfg.WatchOverlay(o.handleConfigOverlay); err != nil {
		log.Warn("json config overlay watch failed to start", "error", err)
	} else {
		o.overlayWatcher = watcher
	}

	log.Info("orchestrator started", "signalingAddr", o.cfg.SignalingHost, "signalingPort", o.cfg.SignalingPort, "uid", agentUID)
	return nil
}

// Stop tears down every subsystem. Safe to call once; further calls are a
// no-op beyond what each component already guards internally.
func (o *Orchestrator) Stop() {
	o.signalClient.Stop()
	o.signalServer.Stop()

	o.mu.Lock()
	ctrl := o.ctrl
	o.ctrl = nil
	o.mu.Unlock()
	if ctrl != nil {
		ctrl.Stop()
	}

	if o.cursorMon != nil {
		o.cursorMon.Stop()
	}
	o.clip.Stop()
	if o.collector != nil {
		o.collector.Stop()
	}
	o.gamepads.StopAll()
	if o.injector != nil {
		o.injector.Close()
	}
	if o.display != nil {
		o.display.Close()
	}
	if o.overlayWatcher != nil {
		o.overlayWatcher.Close()
	}

	o.pool.StopAccepting()
}

func (o *Orchestrator) currentController() *media.Controller {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ctrl
}

// handleRemoteSDP answers an incoming offer, tearing down any previous
// session's controller first — the agent only ever serves one active
// viewer at a time (spec §4.4/§4.5).
func (o *Orchestrator) handleRemoteSDP(payload signaling.SDPPayload) {
	if payload.Type != "offer" {
		log.Warn("unexpected SDP type from peer, ignoring", "type", payload.Type)
		return
	}

	o.mu.Lock()
	previous := o.ctrl
	o.ctrl = nil
	o.mu.Unlock()
	if previous != nil {
		previous.Stop()
	}

	videoCodec, encoderFamily := media.ParseEncoder(o.cfg.Encoder)

	rtc := o.buildRtcConfig()
	ctrl, err := media.NewController(media.ControllerConfig{
		ICEServers:              toWebRTCICEServers(rtc),
		VideoCodec:              videoCodec,
		EncoderFamily:           encoderFamily,
		Width:                   o.cfg.Width,
		Height:                  o.cfg.Height,
		Framerate:               o.cfg.Framerate,
		VideoBitrate:            o.cfg.VideoBitrate,
		AudioBitrate:            o.cfg.AudioBitrate,
		AudioChannels:           o.cfg.AudioChannels,
		AudioEnabled:            o.cfg.EnableAudio,
		KeyframeDistanceSeconds: o.cfg.KeyframeDistance,
		VideoLossPct:            o.cfg.VideoPacketLossPct,
		AudioLossPct:            o.cfg.AudioPacketLossPct,
		CongestionControl:       o.cfg.CongestionControl,
		OnDataChannelMessage:    o.handleDataChannelMessage,
		OnDataChannelOpen: func() {
			log.Info("input data channel open")
		},
		OnDataChannelClose: func() {
			log.Info("input data channel closed")
		},
		OnStateChange: func(state webrtc.PeerConnectionState) {
			log.Info("peer connection state", "state", state.String())
		},
		OnICECandidate: func(candidate string, sdpMLineIndex int) {
			if err := o.signalClient.SendICE(signaling.ICEPayload{Candidate: candidate, SDPMLineIndex: sdpMLineIndex}); err != nil {
				log.Warn("send ice candidate failed", "error", err)
			}
		},
	})
	if err != nil {
		log.Error("failed to build media controller", "error", err)
		return
	}

	answer, err := ctrl.SetRemoteOfferAndCreateAnswer(payload.SDP)
	if err != nil {
		log.Error("failed to negotiate answer", "error", err)
		ctrl.Stop()
		return
	}

	o.mu.Lock()
	o.ctrl = ctrl
	o.mu.Unlock()

	if err := o.signalClient.SendSDP(signaling.SDPPayload{Type: "answer", SDP: answer}); err != nil {
		log.Error("failed to send sdp answer", "error", err)
	}
}

func (o *Orchestrator) handleRemoteICE(payload signaling.ICEPayload) {
	ctrl := o.currentController()
	if ctrl == nil {
		log.Warn("ice candidate received with no active controller, dropping")
		return
	}
	if err := ctrl.AddICECandidate(payload.Candidate, payload.SDPMLineIndex); err != nil {
		log.Warn("add ice candidate failed", "error", err)
	}
}

func (o *Orchestrator) buildRtcConfig() turn.RtcConfig {
	if o.cfg.TurnSharedSecret != "" {
		return turn.MakeRtcConfig(o.cfg.TurnHost, o.cfg.TurnPort, o.cfg.TurnSharedSecret, agentUID, turn.Protocol(o.cfg.TurnProtocol), o.cfg.TurnTLS)
	}
	return buildStaticRtcConfig(o.cfg)
}

func (o *Orchestrator) handleCursorChange(payload cursor.Payload) {
	o.mu.Lock()
	visible := o.cursorVisible
	o.mu.Unlock()
	if !visible {
		return
	}
	ctrl := o.currentController()
	if ctrl == nil {
		return
	}
	_ = ctrl.SendDataChannelMessage(datachannel.TagCursor, datachannel.CursorPayload{
		CurData:  payload.CurData,
		HotX:     payload.HotX,
		HotY:     payload.HotY,
		Override: payload.Override,
	})
}

func (o *Orchestrator) handleClipboardChange(text string) {
	ctrl := o.currentController()
	if ctrl == nil {
		return
	}
	encoded, ok := datachannel.EncodeClipboardPayload([]byte(text))
	if !ok {
		log.Warn("clipboard payload exceeds data channel frame limit, dropping")
		return
	}
	_ = ctrl.SendDataChannelMessage(datachannel.TagClipboard, datachannel.ClipboardPayload{Data: encoded})
}

func (o *Orchestrator) handleTelemetrySample(sample telemetry.Sample) {
	ctrl := o.currentController()
	if ctrl == nil {
		return
	}
	payload := datachannel.SystemStatsPayload{CPUPercent: sample.CPUPercent, MemPercent: sample.MemPercent, UptimeS: sample.UptimeS}
	_ = ctrl.SendDataChannelMessage(datachannel.TagGPUStats, payload)
	_ = ctrl.SendDataChannelMessage(datachannel.TagSystemStats, payload)
}

// handleConfigOverlay re-applies the dynamic knobs the JSON overlay may
// have changed to the active controller, without tearing down the
// PeerConnection (spec §6).
func (o *Orchestrator) handleConfigOverlay(cfg *config.Config) {
	ctrl := o.currentController()
	if ctrl == nil {
		return
	}
	if err := ctrl.SetFramerate(cfg.Framerate); err != nil {
		log.Warn("overlay: set framerate failed", "error", err)
	}
	if err := ctrl.SetVideoBitrate(cfg.VideoBitrate, false); err != nil {
		log.Warn("overlay: set video bitrate failed", "error", err)
	}
	if err := ctrl.SetAudioBitrate(cfg.AudioBitrate); err != nil {
		log.Warn("overlay: set audio bitrate failed", "error", err)
	}
}

// handleDataChannelMessage dispatches one inbound "input" data-channel
// message to the component that owns its semantics (spec §4.6). Runs on
// the pion data-channel callback goroutine; every branch here must be
// non-blocking or offload to the worker pool.
func (o *Orchestrator) handleDataChannelMessage(raw string) {
	// _stats_video/_stats_audio carry a JSON tail that itself contains
	// commas, so it can't go through ParseCommand's blanket comma split —
	// peel the command name off the front first.
	if rest, ok := cutPrefix(raw, string(datachannel.CmdStatsVideo)+","); ok {
		log.Debug("client video stats", "json", rest)
		return
	}
	if rest, ok := cutPrefix(raw, string(datachannel.CmdStatsAudio)+","); ok {
		log.Debug("client audio stats", "json", rest)
		return
	}

	cmd, err := datachannel.ParseCommand(raw)
	if err != nil {
		log.Warn("malformed data channel message", "raw", raw, "error", err)
		return
	}

	switch cmd.Type {
	case datachannel.CmdPong:
		o.handlePong()
	case datachannel.CmdKeyDown:
		o.withKeysym(cmd.Args, o.injector.KeyDown)
	case datachannel.CmdKeyUp:
		o.withKeysym(cmd.Args, o.injector.KeyUp)
	case datachannel.CmdKeyRelease:
		for _, sym := range datachannel.StuckKeysToRelease() {
			if err := o.injector.KeyUp(sym); err != nil {
				log.Warn("release stuck key failed", "keysym", sym, "error", err)
			}
		}
	case datachannel.CmdMouseAbs:
		o.handleMouse(false, cmd.Args)
	case datachannel.CmdMouseRel:
		o.handleMouse(true, cmd.Args)
	case datachannel.CmdPointerVis:
		o.handlePointerVisibility(cmd.Args)
	case datachannel.CmdVideoBitrate:
		o.handleVideoBitrate(cmd.Args)
	case datachannel.CmdAudioBitrate:
		o.handleAudioBitrate(cmd.Args)
	case datachannel.CmdJoystick:
		o.handleJoystick(cmd.Args)
	case datachannel.CmdClipRead:
		o.handleClipboardRead()
	case datachannel.CmdClipWrite:
		o.handleClipboardWrite(cmd.Args)
	case datachannel.CmdResize:
		o.handleResize(cmd.Args)
	case datachannel.CmdScale:
		o.handleScale(cmd.Args)
	case datachannel.CmdArgFPS:
		o.handleArgFPS(cmd.Args)
	case datachannel.CmdArgResize:
		o.handleArgResize(cmd.Args)
	case datachannel.CmdClientFPS:
		o.handleClientFPS(cmd.Args)
	case datachannel.CmdClientLat:
		o.handleClientLat(cmd.Args)
	default:
		log.Warn("unrecognized data channel command", "type", cmd.Type)
	}
}

func cutPrefix(s, prefix string) (string, bool) {
	if strings.HasPrefix(s, prefix) {
		return s[len(prefix):], true
	}
	return "", false
}

func (o *Orchestrator) handlePong() {
	o.mu.Lock()
	start := o.lastPingSent
	o.mu.Unlock()
	if start.IsZero() {
		return
	}
	latencyMs := float64(time.Since(start).Milliseconds()) / 2
	ctrl := o.currentController()
	if ctrl == nil {
		return
	}
	_ = ctrl.SendDataChannelMessage(datachannel.TagLatency, datachannel.LatencyPayload{LatencyMs: latencyMs})
}

// SendPing dispatches the outbound `ping` tag; callers (e.g. a periodic
// ticker in cmd/selkies-agent) pair it with handlePong's round-trip
// measurement.
func (o *Orchestrator) SendPing() {
	ctrl := o.currentController()
	if ctrl == nil {
		return
	}
	now := time.Now()
	o.mu.Lock()
	o.lastPingSent = now
	o.mu.Unlock()
	_ = ctrl.SendDataChannelMessage(datachannel.TagPing, datachannel.PingPayload{Start: now.UnixMilli()})
}

func (o *Orchestrator) withKeysym(args []string, fn func(int) error) {
	if len(args) < 1 {
		log.Warn("keysym command missing argument")
		return
	}
	keysym, err := strconv.Atoi(args[0])
	if err != nil {
		log.Warn("invalid keysym", "arg", args[0], "error", err)
		return
	}
	if err := fn(keysym); err != nil {
		log.Warn("key injection failed", "keysym", keysym, "error", err)
	}
}

func (o *Orchestrator) handleMouse(relative bool, args []string) {
	ev, err := datachannel.ParseMouseEvent(relative, args)
	if err != nil {
		log.Warn("invalid mouse command", "error", err)
		return
	}

	if relative {
		if err := o.injector.MoveRelative(ev.X, ev.Y); err != nil {
			log.Warn("relative move failed", "error", err)
		}
	} else {
		if err := o.injector.MoveAbsolute(ev.X, ev.Y); err != nil {
			log.Warn("absolute move failed", "error", err)
		}
	}

	o.applyButtonMask(ev.ButtonMask)

	if ev.ScrollMagnitude != 0 {
		deltaY := 1
		magnitude := ev.ScrollMagnitude
		if magnitude < 0 {
			deltaY = -1
			magnitude = -magnitude
		}
		if err := o.injector.Scroll(deltaY, magnitude); err != nil {
			log.Warn("scroll failed", "error", err)
		}
	}
}

// buttonTransition is one button's press/release edge between two masks.
type buttonTransition struct {
	button int
	down   bool
}

// buttonTransitions diffs a new 3-bit button bitmask (bit 0 = left, bit 1 =
// middle, bit 2 = right) against the previously observed one and returns
// exactly the transitions that changed, since X11 has discrete press/
// release events rather than a level-triggered mask.
func buttonTransitions(previous, mask uint32) []buttonTransition {
	var out []buttonTransition
	changed := previous ^ mask
	for bit := 0; bit < 3; bit++ {
		flag := uint32(1) << uint(bit)
		if changed&flag == 0 {
			continue
		}
		out = append(out, buttonTransition{button: bit + 1, down: mask&flag != 0})
	}
	return out
}

func (o *Orchestrator) applyButtonMask(mask uint32) {
	o.mu.Lock()
	previous := o.buttonMask
	o.buttonMask = mask
	o.mu.Unlock()

	for _, t := range buttonTransitions(previous, mask) {
		if t.down {
			if err := o.injector.ButtonDown(t.button); err != nil {
				log.Warn("button down failed", "button", t.button, "error", err)
			}
		} else {
			if err := o.injector.ButtonUp(t.button); err != nil {
				log.Warn("button up failed", "button", t.button, "error", err)
			}
		}
	}
}

func (o *Orchestrator) handlePointerVisibility(args []string) {
	if len(args) < 1 {
		return
	}
	o.mu.Lock()
	o.cursorVisible = args[0] == "1"
	o.mu.Unlock()
}

func (o *Orchestrator) handleVideoBitrate(args []string) {
	bps, ok := parseIntArg(args, 0, "video bitrate")
	if !ok {
		return
	}
	if ctrl := o.currentController(); ctrl != nil {
		if err := ctrl.SetVideoBitrate(bps, false); err != nil {
			log.Warn("set video bitrate failed", "error", err)
		}
	}
}

func (o *Orchestrator) handleAudioBitrate(args []string) {
	bps, ok := parseIntArg(args, 0, "audio bitrate")
	if !ok {
		return
	}
	if ctrl := o.currentController(); ctrl != nil {
		if err := ctrl.SetAudioBitrate(bps); err != nil {
			log.Warn("set audio bitrate failed", "error", err)
		}
	}
}

func (o *Orchestrator) handleJoystick(args []string) {
	if len(args) < 1 {
		return
	}
	sub := datachannel.JoystickSub(args[0])
	rest := args[1:]

	switch sub {
	case datachannel.JSCreate:
		if len(rest) < 4 {
			log.Warn("js,c requires js_num, name_b64, num_axes, num_btns")
			return
		}
		index, err1 := strconv.Atoi(rest[0])
		nameBytes, err2 := datachannel.DecodeClipboardPayload(rest[1])
		numAxes, err3 := strconv.Atoi(rest[2])
		numBtns, err4 := strconv.Atoi(rest[3])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			log.Warn("js,c malformed arguments", "raw", rest)
			return
		}
		if _, err := o.gamepads.CreateDevice(index, string(nameBytes), numAxes, numBtns); err != nil {
			log.Warn("gamepad device create failed", "index", index, "error", err)
		}
	case datachannel.JSDestroy:
		if len(rest) < 1 {
			return
		}
		index, err := strconv.Atoi(rest[0])
		if err != nil {
			return
		}
		o.gamepads.DestroyDevice(index)
	case datachannel.JSButton:
		if len(rest) < 3 {
			return
		}
		index, err1 := strconv.Atoi(rest[0])
		btn, err2 := strconv.Atoi(rest[1])
		value, err3 := strconv.ParseFloat(rest[2], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return
		}
		if dev, ok := o.gamepads.Device(index); ok {
			dev.SendButton(btn, value)
		}
	case datachannel.JSAxis:
		if len(rest) < 3 {
			return
		}
		index, err1 := strconv.Atoi(rest[0])
		axis, err2 := strconv.Atoi(rest[1])
		value, err3 := strconv.ParseFloat(rest[2], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return
		}
		if dev, ok := o.gamepads.Device(index); ok {
			dev.SendAxis(axis, value)
		}
	default:
		log.Warn("unrecognized joystick subcommand", "sub", sub)
	}
}

func (o *Orchestrator) handleClipboardRead() {
	text, ok, err := o.clip.ReadNow()
	if err != nil {
		log.Warn("clipboard read failed", "error", err)
		return
	}
	if !ok {
		return
	}
	o.handleClipboardChange(text)
}

func (o *Orchestrator) handleClipboardWrite(args []string) {
	if len(args) < 1 {
		return
	}
	if err := o.clip.HandleInbound(args[0]); err != nil {
		log.Warn("clipboard write failed", "error", err)
	}
}

func (o *Orchestrator) handleResize(args []string) {
	if len(args) < 1 {
		return
	}
	o.resizeTo(args[0])
}

func (o *Orchestrator) resizeTo(whArg string) {
	o.mu.Lock()
	enabled := o.resizeEnabled
	o.mu.Unlock()
	if !enabled {
		return
	}
	w, h, err := datachannel.ParseResize(whArg)
	if err != nil {
		log.Warn("invalid resize argument", "arg", whArg, "error", err)
		return
	}
	if o.display == nil {
		log.Warn("resize requested but no display connection is open")
		return
	}
	if err := o.display.SetMode(w, h); err != nil {
		log.Warn("display resize failed", "error", err)
	}
}

// handleScale records the client's requested DPI scaling ratio. No
// component currently consumes it beyond telemetry-style logging; it is
// not a display server concept XRandR exposes per-client.
func (o *Orchestrator) handleScale(args []string) {
	if len(args) < 1 {
		return
	}
	ratio, err := strconv.ParseFloat(args[0], 64)
	if err != nil || math.IsNaN(ratio) {
		log.Warn("invalid scale ratio", "arg", args[0])
		return
	}
	log.Info("client requested dpi scale", "ratio", ratio)
}

func (o *Orchestrator) handleArgFPS(args []string) {
	fps, ok := parseIntArg(args, 0, "arg_fps")
	if !ok {
		return
	}
	if ctrl := o.currentController(); ctrl != nil {
		if err := ctrl.SetFramerate(fps); err != nil {
			log.Warn("set framerate failed", "error", err)
		}
	}
}

func (o *Orchestrator) handleArgResize(args []string) {
	if len(args) < 1 {
		return
	}
	enabled := args[0] == "true" || args[0] == "1"
	o.mu.Lock()
	o.resizeEnabled = enabled
	o.mu.Unlock()
	if enabled && len(args) >= 2 {
		o.resizeTo(args[1])
	}
}

func (o *Orchestrator) handleClientFPS(args []string) {
	fps, ok := parseIntArg(args, 0, "client fps")
	if !ok {
		return
	}
	o.mu.Lock()
	o.lastClientFPS = fps
	o.mu.Unlock()
}

func (o *Orchestrator) handleClientLat(args []string) {
	latMs, ok := parseIntArg(args, 0, "client latency")
	if !ok {
		return
	}
	o.mu.Lock()
	o.lastClientLatMs = latMs
	o.mu.Unlock()
}

func parseIntArg(args []string, index int, label string) (int, bool) {
	if index >= len(args) {
		log.Warn(label + " command missing argument")
		return 0, false
	}
	v, err := strconv.Atoi(args[index])
	if err != nil {
		log.Warn(label+" parse failed", "arg", args[index], "error", err)
		return 0, false
	}
	return v, true
}

package datachannel

import "encoding/json"

// OutboundTag enumerates the known outbound envelope tags from spec §4.6.
type OutboundTag string

const (
	TagPipeline    OutboundTag = "pipeline"
	TagSystem      OutboundTag = "system"
	TagSystemStats OutboundTag = "system_stats"
	TagGPUStats    OutboundTag = "gpu_stats"
	TagClipboard   OutboundTag = "clipboard"
	TagCursor      OutboundTag = "cursor"
	TagPing        OutboundTag = "ping"
	TagLatency     OutboundTag = "latency_measurement"
)

// Envelope is the `{"type": <tag>, "data": <object>}` outbound wire shape.
type Envelope struct {
	Type OutboundTag `json:"type"`
	Data interface{} `json:"data"`
}

// EncodeEnvelope serializes an outbound message. Send-state checking (the
// channel must be OPEN, or the message is dropped silently) is the sender's
// responsibility — see media.Controller.SendDataChannelMessage.
func EncodeEnvelope(tag OutboundTag, data interface{}) ([]byte, error) {
	return json.Marshal(Envelope{Type: tag, Data: data})
}

// ClipboardPayload is the outbound `clipboard` tag body.
type ClipboardPayload struct {
	Data string `json:"data"`
}

// CursorPayload is the outbound `cursor` tag body (spec §4.9/§3 CursorImage).
type CursorPayload struct {
	CurData  string  `json:"curdata"`
	HotX     float64 `json:"hotX"`
	HotY     float64 `json:"hotY"`
	Override *string `json:"override,omitempty"`
}

// PingPayload is the outbound `ping` tag body, echoed back as `pong`.
type PingPayload struct {
	Start int64 `json:"start"`
}

// LatencyPayload is the outbound `latency_measurement` tag body.
type LatencyPayload struct {
	LatencyMs float64 `json:"latency_ms"`
}

// PipelineStatsPayload mirrors PipelineState (spec §3) for the `pipeline` tag.
type PipelineStatsPayload struct {
	Framerate        int     `json:"framerate"`
	VideoBitrate     int     `json:"video_bitrate"`
	AudioBitrate     int     `json:"audio_bitrate"`
	KeyframeDistance float64 `json:"keyframe_distance"`
	AudioChannels    int     `json:"audio_channels"`
	Encoder          string  `json:"encoder"`
}

// SystemStatsPayload is the `system_stats`/`gpu_stats` outbound body shape
// produced by internal/telemetry.
type SystemStatsPayload struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemPercent float64 `json:"mem_percent"`
	UptimeS    float64 `json:"uptime_s"`
}

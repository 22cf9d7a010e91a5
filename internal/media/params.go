// Package media implements MediaPipelineController: a GStreamer-backed
// encode pipeline fed into a pion/webrtc PeerConnection, grounded on the
// teacher's internal/remote/desktop/webrtc.go session shape (RTCP drain,
// adaptive bitrate, data-channel wiring) adapted from a DXGI/MFT capture
// stack onto an X11/GStreamer one.
package media

import (
	"math"
	"strings"
)

// EncoderFamily groups encoders that share VBV-multiplier behavior.
type EncoderFamily string

const (
	FamilyX264     EncoderFamily = "x264"
	FamilyNVENC    EncoderFamily = "nvenc"
	FamilyVAAPI    EncoderFamily = "vaapi"
	FamilySoftware EncoderFamily = "software"
)

// VideoCodec is the codec the pipeline encodes into and the track advertises
// over SDP (spec.md §1: "a live H.264/H.265/VP8/VP9/AV1 video track").
type VideoCodec string

const (
	CodecH264 VideoCodec = "h264"
	CodecH265 VideoCodec = "h265"
	CodecVP8  VideoCodec = "vp8"
	CodecVP9  VideoCodec = "vp9"
	CodecAV1  VideoCodec = "av1"
)

// ParseEncoder maps the single config "encoder" string (e.g. "nvh264enc",
// "vp9enc") onto the codec it produces and the hardware/software family that
// produces it. Grounded on the original's single self.encoder knob
// (gstwebrtc_app.py's build_video_pipeline branches on encoder name alone),
// which conflates codec choice and hardware acceleration into one string.
func ParseEncoder(name string) (VideoCodec, EncoderFamily) {
	switch strings.ToLower(name) {
	case "nvh264enc", "nvenc":
		return CodecH264, FamilyNVENC
	case "vaapih264enc", "vaapi":
		return CodecH264, FamilyVAAPI
	case "x264enc", "x264":
		return CodecH264, FamilyX264
	case "nvh265enc":
		return CodecH265, FamilyNVENC
	case "vaapih265enc":
		return CodecH265, FamilyVAAPI
	case "x265enc", "h265":
		return CodecH265, FamilySoftware
	case "vp8enc", "vp8":
		return CodecVP8, FamilySoftware
	case "vp9enc", "vp9":
		return CodecVP9, FamilySoftware
	case "av1enc", "av1":
		return CodecAV1, FamilySoftware
	default:
		return CodecH264, FamilySoftware
	}
}

// KeyframeFrameDistance converts the user-facing keyframe_distance (seconds,
// or -1 for infinite GOP) into a frame-count GOP size.
//
// distance == -1.0 means "no periodic keyframes" (infinite GOP); otherwise
// the result is never allowed below 60 frames, so low framerates don't end
// up with keyframes every couple of frames.
func KeyframeFrameDistance(framerate int, distanceSeconds float64) int {
	if distanceSeconds == -1.0 {
		return -1
	}
	frames := int(math.Round(float64(framerate) * distanceSeconds))
	if frames < 60 {
		frames = 60
	}
	return frames
}

// FECVideoBitrate backs off the nominal video bitrate to keep the
// post-FEC link rate within budget.
func FECVideoBitrate(videoBitrate int, videoLossPct float64) int {
	return int(math.Round(float64(videoBitrate) / (1 + videoLossPct/100)))
}

// FECAudioBitrate grows the nominal audio encoder input so that, after FEC
// overhead, the wire bitrate matches the requested target.
func FECAudioBitrate(audioBitrate int, audioLossPct float64) int {
	return int(math.Round(float64(audioBitrate) * (1 + audioLossPct/100)))
}

// vbvMultiplier picks the encoder-family-dependent VBV buffer multiplier.
// Infinite-GOP streams (no periodic IDR) need a larger buffer since the
// decoder cannot fall back on a nearby keyframe to recover from underrun.
func vbvMultiplier(family EncoderFamily, infiniteGOP bool) float64 {
	switch {
	case infiniteGOP:
		return 3
	case family == FamilyNVENC:
		return 2
	case family == FamilyVAAPI:
		return 1.5
	default:
		return 1
	}
}

// VBVBufferBits computes the encoder's VBV (video buffering verifier)
// buffer size in bits, per spec: ceil(fec_video_bitrate / framerate) * multiplier.
func VBVBufferBits(fecVideoBitrate, framerate int, family EncoderFamily, infiniteGOP bool) int {
	if framerate <= 0 {
		framerate = 1
	}
	perFrame := math.Ceil(float64(fecVideoBitrate) / float64(framerate))
	return int(perFrame * vbvMultiplier(family, infiniteGOP))
}

// CongestionBands computes the min/max bitrate bounds handed to the
// congestion controller when set_video_bitrate is called with cc=true is
// NOT the caller — i.e. when a human/UI-driven bitrate change must also
// reprogram the CC estimator's bands (spec §4.5 set_video_bitrate).
func CongestionBands(videoBitrate, fecAudioBitrate int) (min, max int) {
	floor := 100_000 + fecAudioBitrate
	tenPct := int(math.Round(0.1*float64(videoBitrate))) + fecAudioBitrate
	min = floor
	if tenPct > min {
		min = tenPct
	}
	max = videoBitrate + fecAudioBitrate
	return min, max
}

package config

import (
	"fmt"
	"net/url"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"warning": true,
	"error": true,
}

var validTurnProtocols = map[string]bool{
	"udp": true,
	"tcp": true,
}

// ValidationResult separates config problems that must block startup
// (Fatals) from ones that are auto-corrected or merely suspicious
// (Warnings), matching the teacher's tiered validation model.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r *ValidationResult) HasFatals() bool { return len(r.Fatals) > 0 }

// AllErrors concatenates fatals and warnings, for callers that just want a
// flat list to display.
func (r *ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

// ValidateTiered checks the config for invalid values. Malformed values
// that would misconfigure network endpoints are fatal; everything else is
// clamped or defaulted and reported as a warning so startup can proceed.
func (c *Config) ValidateTiered() ValidationResult {
	var result ValidationResult

	if c.SignalingWebRoot != "" {
		if u, err := url.Parse(c.SignalingWebRoot); err == nil && u.IsAbs() {
			result.Fatals = append(result.Fatals, fmt.Errorf("signaling_web_root %q must be a local path, not a URL", c.SignalingWebRoot))
		}
	}

	if c.TurnProtocol != "" && !validTurnProtocols[strings.ToLower(c.TurnProtocol)] {
		result.Fatals = append(result.Fatals, fmt.Errorf("turn_protocol %q is not valid (use udp or tcp)", c.TurnProtocol))
	}

	if c.SignalingPort < 1 || c.SignalingPort > 65535 {
		result.Fatals = append(result.Fatals, fmt.Errorf("signaling_port %d is out of range", c.SignalingPort))
	}

	if (c.SignalingTLSCert == "") != (c.SignalingTLSKey == "") {
		result.Fatals = append(result.Fatals, fmt.Errorf("signaling_tls_cert and signaling_tls_key must both be set or both be empty"))
	}

	// Clamp to a sane range rather than fail startup over an operator typo.
	if c.Framerate < 1 {
		result.Warnings = append(result.Warnings, fmt.Errorf("framerate %d is below minimum 1, clamping", c.Framerate))
		c.Framerate = 1
	} else if c.Framerate > 144 {
		result.Warnings = append(result.Warnings, fmt.Errorf("framerate %d exceeds maximum 144, clamping", c.Framerate))
		c.Framerate = 144
	}

	if c.VideoBitrate < 100 {
		result.Warnings = append(result.Warnings, fmt.Errorf("video_bitrate %d is below minimum 100, clamping", c.VideoBitrate))
		c.VideoBitrate = 100
	}

	if c.AudioBitrate < 16 {
		result.Warnings = append(result.Warnings, fmt.Errorf("audio_bitrate %d is below minimum 16, clamping", c.AudioBitrate))
		c.AudioBitrate = 16
	}

	if c.KeyframeDistance <= 0 && c.KeyframeDistance != -1 {
		result.Warnings = append(result.Warnings, fmt.Errorf("keyframe_distance %v must be positive or -1 (infinite GOP), defaulting to 2.0", c.KeyframeDistance))
		c.KeyframeDistance = 2.0
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	return result
}

package config

import (
	"fmt"
	"strings"
	"testing"
)

func TestValidateTieredBadTurnProtocolIsFatal(t *testing.T) {
	cfg := Default()
	cfg.TurnProtocol = "sctp"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("invalid turn_protocol should be fatal")
	}
}

func TestValidateTieredMismatchedTLSPairIsFatal(t *testing.T) {
	cfg := Default()
	cfg.SignalingTLSCert = "/etc/selkies-agent/cert.pem"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("cert without key should be fatal")
	}
}

func TestValidateTieredBadPortIsFatal(t *testing.T) {
	cfg := Default()
	cfg.SignalingPort = 99999
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("out-of-range port should be fatal")
	}
}

func TestValidateTieredFramerateClampingIsWarning(t *testing.T) {
	cfg := Default()
	cfg.Framerate = 0
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped framerate should be warning, not fatal: %v", result.Fatals)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for clamped framerate")
	}
	if cfg.Framerate != 1 {
		t.Fatalf("Framerate = %d, want 1 (clamped)", cfg.Framerate)
	}
}

func TestValidateTieredHighFramerateClampingIsWarning(t *testing.T) {
	cfg := Default()
	cfg.Framerate = 999
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped framerate should be warning, not fatal: %v", result.Fatals)
	}
	if cfg.Framerate != 144 {
		t.Fatalf("Framerate = %d, want 144 (clamped)", cfg.Framerate)
	}
}

func TestValidateTieredKeyframeDistanceDefaulting(t *testing.T) {
	cfg := Default()
	cfg.KeyframeDistance = 0
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("invalid keyframe_distance should be warning: %v", result.Fatals)
	}
	if cfg.KeyframeDistance != 2.0 {
		t.Fatalf("KeyframeDistance = %v, want 2.0", cfg.KeyframeDistance)
	}
}

func TestValidateTieredUnknownLogLevelIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown log level should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for unknown log level")
	}
}

func TestValidateTieredInvalidLogFormatIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "xml"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("invalid log format should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for invalid log format")
	}
}

func TestHasFatals(t *testing.T) {
	r := ValidationResult{}
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.Fatals = append(r.Fatals, fmt.Errorf("test error"))
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

func TestAllErrorsReturnsBoth(t *testing.T) {
	cfg := Default()
	cfg.TurnProtocol = "bogus" // fatal
	cfg.Framerate = 0          // warning
	result := cfg.ValidateTiered()

	all := result.AllErrors()
	if len(all) < 2 {
		t.Fatalf("AllErrors() returned %d errors, expected at least 2 (fatals + warnings)", len(all))
	}
}

func TestValidConfigHasNoErrors(t *testing.T) {
	cfg := Default()
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("default config has fatals: %v", result.Fatals)
	}
	if len(result.Warnings) > 0 {
		t.Fatalf("default config has warnings: %v", result.Warnings)
	}
}

func TestApplyOverlayOverridesOnlyGivenKeys(t *testing.T) {
	cfg := Default()
	original := cfg.AudioBitrate

	overlay := []byte(`{"framerate": 60, "enable_audio": "false", "encoder": "nvh264enc"}`)
	if err := cfg.ApplyOverlay(overlay); err != nil {
		t.Fatal(err)
	}

	if cfg.Framerate != 60 {
		t.Fatalf("Framerate = %d, want 60", cfg.Framerate)
	}
	if cfg.EnableAudio {
		t.Fatal("expected enable_audio to be coerced to false")
	}
	if cfg.Encoder != "nvh264enc" {
		t.Fatalf("Encoder = %q, want nvh264enc", cfg.Encoder)
	}
	if cfg.AudioBitrate != original {
		t.Fatalf("AudioBitrate changed unexpectedly to %d", cfg.AudioBitrate)
	}
}

func TestApplyOverlayCoercesBoolVariants(t *testing.T) {
	cfg := Default()
	if err := cfg.ApplyOverlay([]byte(`{"enable_resize": "1"}`)); err != nil {
		t.Fatal(err)
	}
	if !cfg.EnableResize {
		t.Fatal("expected enable_resize to be coerced to true from \"1\"")
	}
	if err := cfg.ApplyOverlay([]byte(`{"enable_resize": false}`)); err != nil {
		t.Fatal(err)
	}
	if cfg.EnableResize {
		t.Fatal("expected enable_resize to be coerced to false from JSON bool")
	}
}

func TestApplyOverlayDoesNotReproduceEcoderTypo(t *testing.T) {
	cfg := Default()
	if err := cfg.ApplyOverlay([]byte(`{"encoder": "vp9enc"}`)); err != nil {
		t.Fatal(err)
	}
	if cfg.Encoder != "vp9enc" {
		t.Fatalf("Encoder = %q, want vp9enc (overlay must apply, not be silently dropped)", cfg.Encoder)
	}
}

func TestAllErrorsContainsSubstring(t *testing.T) {
	cfg := Default()
	cfg.SignalingPort = -1
	result := cfg.ValidateTiered()
	found := false
	for _, err := range result.AllErrors() {
		if strings.Contains(err.Error(), "signaling_port") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected signaling_port error in AllErrors()")
	}
}

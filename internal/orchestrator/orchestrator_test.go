package orchestrator

import (
	"testing"

	"github.com/breeze-rmm/selkies-agent/internal/config"
	"github.com/breeze-rmm/selkies-agent/internal/turn"
)

func TestButtonTransitionsOnlyChangedBits(t *testing.T) {
	transitions := buttonTransitions(0, 1) // left down
	if len(transitions) != 1 || transitions[0].button != 1 || !transitions[0].down {
		t.Fatalf("unexpected transitions: %+v", transitions)
	}
}

func TestButtonTransitionsRelease(t *testing.T) {
	transitions := buttonTransitions(1, 0) // left up
	if len(transitions) != 1 || transitions[0].button != 1 || transitions[0].down {
		t.Fatalf("unexpected transitions: %+v", transitions)
	}
}

func TestButtonTransitionsNoChange(t *testing.T) {
	if got := buttonTransitions(5, 5); len(got) != 0 {
		t.Fatalf("expected no transitions for identical masks, got %+v", got)
	}
}

func TestButtonTransitionsMultipleBits(t *testing.T) {
	// left+right down (bits 0 and 2) from nothing pressed.
	transitions := buttonTransitions(0, 5)
	if len(transitions) != 2 {
		t.Fatalf("expected 2 transitions, got %+v", transitions)
	}
	seen := map[int]bool{}
	for _, tr := range transitions {
		if !tr.down {
			t.Fatalf("expected both transitions to be presses, got %+v", tr)
		}
		seen[tr.button] = true
	}
	if !seen[1] || !seen[3] {
		t.Fatalf("expected buttons 1 and 3, got %+v", transitions)
	}
}

func TestBuildStaticRtcConfigDefaults(t *testing.T) {
	cfg := config.Default()
	rtc := buildStaticRtcConfig(cfg)
	if len(rtc.IceServers) != 1 {
		t.Fatalf("expected a single fallback STUN server, got %+v", rtc.IceServers)
	}
	if got := rtc.IceServers[0].URLs[0]; got != "stun:stun.l.google.com:19302" {
		t.Fatalf("unexpected stun url: %s", got)
	}
}

func TestBuildStaticRtcConfigHonorsOverride(t *testing.T) {
	cfg := config.Default()
	cfg.StunHost = "stun.example.com"
	cfg.StunPort = 3478
	rtc := buildStaticRtcConfig(cfg)
	if got := rtc.IceServers[0].URLs[0]; got != "stun:stun.example.com:3478" {
		t.Fatalf("unexpected stun url: %s", got)
	}
}

func TestToWebRTCICEServers(t *testing.T) {
	rtc := turn.RtcConfig{
		IceServers: []turn.ICEServer{
			{URLs: []string{"turn:example.com:3478"}, Username: "u", Credential: "c"},
		},
	}
	out := toWebRTCICEServers(rtc)
	if len(out) != 1 || out[0].Username != "u" || out[0].Credential != "c" {
		t.Fatalf("unexpected conversion: %+v", out)
	}
}

func TestCutPrefix(t *testing.T) {
	rest, ok := cutPrefix("_stats_video,{\"a\":1}", "_stats_video,")
	if !ok || rest != `{"a":1}` {
		t.Fatalf("unexpected cutPrefix result: %q %v", rest, ok)
	}
	if _, ok := cutPrefix("kd,65", "_stats_video,"); ok {
		t.Fatal("expected no match for unrelated prefix")
	}
}

func TestParseIntArg(t *testing.T) {
	if v, ok := parseIntArg([]string{"42"}, 0, "test"); !ok || v != 42 {
		t.Fatalf("expected 42, got %d ok=%v", v, ok)
	}
	if _, ok := parseIntArg(nil, 0, "test"); ok {
		t.Fatal("expected failure on missing argument")
	}
	if _, ok := parseIntArg([]string{"nope"}, 0, "test"); ok {
		t.Fatal("expected failure on non-numeric argument")
	}
}

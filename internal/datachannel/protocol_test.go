package datachannel

import (
	"strings"
	"testing"
)

func TestParseCommandBasic(t *testing.T) {
	cmd, err := ParseCommand("kd,65")
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Type != CmdKeyDown || len(cmd.Args) != 1 || cmd.Args[0] != "65" {
		t.Fatalf("unexpected parse: %+v", cmd)
	}
}

func TestParseJoystickCreate(t *testing.T) {
	cmd, err := ParseCommand("js,c,0,U2Vsa2llcw==,8,11")
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Type != "js" || cmd.Args[0] != "c" {
		t.Fatalf("unexpected parse: %+v", cmd)
	}
}

// Scenario 4 from spec §8: "r,1921x1081" evens to "1922x1082".
func TestParseResizeEvensDimensions(t *testing.T) {
	w, h, err := ParseResize("1921x1081")
	if err != nil {
		t.Fatal(err)
	}
	if w != 1922 || h != 1082 {
		t.Fatalf("got %dx%d, want 1922x1082", w, h)
	}
}

func TestParseResizeAlreadyEven(t *testing.T) {
	w, h, err := ParseResize("1920x1080")
	if err != nil {
		t.Fatal(err)
	}
	if w != 1920 || h != 1080 {
		t.Fatalf("got %dx%d, want 1920x1080 unchanged", w, h)
	}
}

func TestParseMouseEvent(t *testing.T) {
	ev, err := ParseMouseEvent(false, []string{"100", "200", "1", "0"})
	if err != nil {
		t.Fatal(err)
	}
	if ev.X != 100 || ev.Y != 200 || ev.ButtonMask != 1 || ev.Relative {
		t.Fatalf("unexpected parse: %+v", ev)
	}
}

func TestClipboardRoundTrip(t *testing.T) {
	encoded, ok := EncodeClipboardPayload([]byte("hello clipboard"))
	if !ok {
		t.Fatal("expected small payload to encode ok")
	}
	decoded, err := DecodeClipboardPayload(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded) != "hello clipboard" {
		t.Fatalf("round trip mismatch: %q", decoded)
	}
}

func TestClipboardOversizeDropped(t *testing.T) {
	big := strings.Repeat("a", 60000)
	_, ok := EncodeClipboardPayload([]byte(big))
	if ok {
		t.Fatal("expected oversize clipboard payload to be rejected")
	}
}

func TestApplyKeysymQuirk(t *testing.T) {
	keycodeForKeysym := func(keysym int) int {
		if keysym == 60 {
			return 94
		}
		return 0
	}
	if got := ApplyKeysymQuirk(60, keycodeForKeysym); got != 44 {
		t.Fatalf("expected quirk remap to 44, got %d", got)
	}
	if got := ApplyKeysymQuirk(65, keycodeForKeysym); got != 65 {
		t.Fatalf("non-quirk keysym should pass through, got %d", got)
	}
}

func TestStuckKeysToRelease(t *testing.T) {
	keys := StuckKeysToRelease()
	if len(keys) == 0 {
		t.Fatal("expected a non-empty stuck-key list")
	}
}

func TestEncodeEnvelope(t *testing.T) {
	data, err := EncodeEnvelope(TagCursor, CursorPayload{CurData: "abc", HotX: 1, HotY: 2})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"type":"cursor"`) {
		t.Fatalf("expected type tag in envelope: %s", data)
	}
}

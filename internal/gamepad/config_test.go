package gamepad

import "testing"

func TestConfigRecordSizeIsStable(t *testing.T) {
	if ConfigRecordSize != 1353 {
		t.Fatalf("ConfigRecordSize changed unexpectedly: got %d want 1353", ConfigRecordSize)
	}
}

func TestEncodeRecordLength(t *testing.T) {
	cfg := NewGamepadConfig("Test Gamepad", 8, 11)
	buf := cfg.EncodeRecord()
	if len(buf) != ConfigRecordSize {
		t.Fatalf("record length mismatch: got %d want %d", len(buf), ConfigRecordSize)
	}
}

func TestEncodeRecordTruncatesLongName(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	cfg := NewGamepadConfig(string(long), 4, 4)
	buf := cfg.EncodeRecord()
	if len(buf) != ConfigRecordSize {
		t.Fatalf("unexpected record length: %d", len(buf))
	}
}

// Scenario 3 from spec §8: a full unipolar trigger press on browser button 6
// maps to device axis 2 (ABS_Z) at ABS_MAX (32767).
func TestMapButtonTriggerScenario(t *testing.T) {
	cfg := NewGamepadConfig("Pad", 8, 11)
	mapping, ok := cfg.MapButton(6, 1.0)
	if !ok {
		t.Fatal("expected button 6 to map")
	}
	if !mapping.IsAxis || mapping.AxisIndex != 2 {
		t.Fatalf("expected axis mapping to axis 2, got %+v", mapping)
	}
	if mapping.AxisValue != AbsMax {
		t.Fatalf("expected ABS_MAX (%d), got %d", AbsMax, mapping.AxisValue)
	}
}

func TestMapButtonStandardButton(t *testing.T) {
	cfg := NewGamepadConfig("Pad", 8, 11)
	mapping, ok := cfg.MapButton(0, 1.0)
	if !ok || mapping.IsAxis || mapping.ButtonIndex != 0 {
		t.Fatalf("unexpected mapping for button 0: %+v %v", mapping, ok)
	}
}

func TestMapButtonOutOfRange(t *testing.T) {
	cfg := NewGamepadConfig("Pad", 2, 2)
	if _, ok := cfg.MapButton(20, 1.0); ok {
		t.Fatal("expected out-of-range button to be rejected")
	}
}

func TestMapAxisIdentity(t *testing.T) {
	cfg := NewGamepadConfig("Pad", 8, 11)
	axis, scaled, ok := cfg.MapAxis(0, -1.0)
	if !ok || axis != 0 {
		t.Fatalf("unexpected axis mapping: %d %v", axis, ok)
	}
	if scaled != AbsMin {
		t.Fatalf("expected ABS_MIN, got %d", scaled)
	}
}

// TestNewGamepadConfigUsesRealKernelCodes asserts the device descriptor's
// button/axis bytes are the real Linux evdev BTN_*/ABS_* codes (e.g.
// BTN_A=0x130, ABS_HAT0X=0x10), not the sequential 0..N-1 placeholders a
// generic identity mapping would produce.
func TestNewGamepadConfigUsesRealKernelCodes(t *testing.T) {
	cfg := NewGamepadConfig("Pad", 8, 11)

	wantButtons := []uint16{0x130, 0x131, 0x133, 0x134, 0x136, 0x137, 0x13a, 0x13b, 0x13c, 0x13d, 0x13e}
	if len(cfg.Buttons) != len(wantButtons) {
		t.Fatalf("expected %d button codes, got %d", len(wantButtons), len(cfg.Buttons))
	}
	for i, want := range wantButtons {
		if cfg.Buttons[i] != want {
			t.Errorf("button %d: expected code 0x%x, got 0x%x", i, want, cfg.Buttons[i])
		}
	}

	wantAxes := []uint8{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x10, 0x11}
	if len(cfg.Axes) != len(wantAxes) {
		t.Fatalf("expected %d axis codes, got %d", len(wantAxes), len(cfg.Axes))
	}
	for i, want := range wantAxes {
		if cfg.Axes[i] != want {
			t.Errorf("axis %d: expected code 0x%x, got 0x%x", i, want, cfg.Axes[i])
		}
	}
}

// TestDefaultRemapTableDPadAxes asserts the dpad axis-to-button mapping
// matches the original's axes_to_btn table: axis 6 (ABS_HAT0X) maps to
// DPad Left/Right (15/14), axis 7 (ABS_HAT0Y) maps to DPad Down/Up (13/12).
func TestDefaultRemapTableDPadAxes(t *testing.T) {
	remap := DefaultRemapTable()

	x, ok := remap.AxesToBtn[6]
	if !ok || x.Positive != 15 || x.Negative != 14 || !x.HasNeg {
		t.Fatalf("expected axis 6 -> (15, 14), got %+v", x)
	}

	y, ok := remap.AxesToBtn[7]
	if !ok || y.Positive != 13 || y.Negative != 12 || !y.HasNeg {
		t.Fatalf("expected axis 7 -> (13, 12), got %+v", y)
	}
}

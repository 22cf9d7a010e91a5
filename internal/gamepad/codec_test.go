package gamepad

import "testing"

func TestJsEventEncode(t *testing.T) {
	e := JsEvent{TimeMs: 0x01020304, Value: -1, Type: JSEventAxis, Number: 2}
	buf := e.Encode()
	if len(buf) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(buf))
	}
	if buf[6] != JSEventAxis || buf[7] != 2 {
		t.Fatalf("unexpected type/number bytes: %v", buf)
	}
}

func TestParseWordSize(t *testing.T) {
	if ws, ok := ParseWordSize(4); !ok || ws != WordSize32 {
		t.Fatalf("expected WordSize32, got %v %v", ws, ok)
	}
	if ws, ok := ParseWordSize(8); !ok || ws != WordSize64 {
		t.Fatalf("expected WordSize64, got %v %v", ws, ok)
	}
	if _, ok := ParseWordSize(6); ok {
		t.Fatal("expected word size 6 to be rejected")
	}
}

func TestEncodeInputEventWordSizes(t *testing.T) {
	buf32 := EncodeInputEvent(WordSize32, 1, 2, EVKey, 3, 1)
	if len(buf32) != WordSize32.inputEventSize() {
		t.Fatalf("32-bit event size mismatch: got %d want %d", len(buf32), WordSize32.inputEventSize())
	}
	buf64 := EncodeInputEvent(WordSize64, 1, 2, EVKey, 3, 1)
	if len(buf64) != WordSize64.inputEventSize() {
		t.Fatalf("64-bit event size mismatch: got %d want %d", len(buf64), WordSize64.inputEventSize())
	}
	if len(buf64) <= len(buf32) {
		t.Fatalf("64-bit event must be larger than 32-bit: %d vs %d", len(buf64), len(buf32))
	}
}

func TestEncodeEvPairIncludesSynReport(t *testing.T) {
	pair := EncodeEvPair(WordSize32, 10, 20, EVAbs, 2, 32767)
	if len(pair) != EvPairSize(WordSize32) {
		t.Fatalf("pair size mismatch: got %d want %d", len(pair), EvPairSize(WordSize32))
	}
	// second event starts immediately after the first input_event
	secondStart := WordSize32.inputEventSize()
	second := pair[secondStart:]
	typeOffset := WordSize32.timevalSize()
	gotType := uint16(second[typeOffset]) | uint16(second[typeOffset+1])<<8
	if gotType != EVSyn {
		t.Fatalf("expected terminator type EV_SYN, got %d", gotType)
	}
}

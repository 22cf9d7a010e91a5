package cursor

import (
	"testing"

	"github.com/jezek/xgb/xfixes"
)

// Scenario 6 from spec §8: an all-zero-pixel cursor yields override="none"
// and a well-formed PNG of the expected size.
func TestEncodeCursorImageInvisibleCursor(t *testing.T) {
	width, height := 4, 4
	reply := &xfixes.GetCursorImageReply{
		Width:       uint16(width),
		Height:      uint16(height),
		Xhot:        0,
		Yhot:        0,
		CursorImage: make([]uint32, width*height),
	}

	payload, err := encodeCursorImage(reply, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if payload.Override == nil || *payload.Override != "none" {
		t.Fatalf("expected override=none for all-zero cursor, got %+v", payload.Override)
	}
	if payload.CurData == "" {
		t.Fatal("expected a non-empty base64 PNG payload")
	}
}

func TestEncodeCursorImageVisibleCursorHasNoOverride(t *testing.T) {
	width, height := 2, 2
	reply := &xfixes.GetCursorImageReply{
		Width:       uint16(width),
		Height:      uint16(height),
		CursorImage: []uint32{0xffffffff, 0, 0, 0},
	}
	payload, err := encodeCursorImage(reply, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if payload.Override != nil {
		t.Fatalf("expected no override for a partially-opaque cursor, got %v", *payload.Override)
	}
}

// Scenario 5 from spec §8: two notify events carrying the same
// cursor_serial produce byte-identical curdata via a cache hit.
func TestHandleNotifyCacheHitReturnsIdenticalPayload(t *testing.T) {
	want := Payload{CurData: "cached-bytes", HotX: 1, HotY: 2}
	m := &Monitor{cache: map[uint32]Payload{42: want}}

	got, err := m.handleNotify(xfixes.CursorNotifyEvent{CursorSerial: 42})
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("expected cached payload to be returned verbatim, got %+v", got)
	}

	got2, err := m.handleNotify(xfixes.CursorNotifyEvent{CursorSerial: 42})
	if err != nil {
		t.Fatal(err)
	}
	if got2.CurData != got.CurData {
		t.Fatalf("expected identical curdata on repeated cache hit: %q vs %q", got.CurData, got2.CurData)
	}
}

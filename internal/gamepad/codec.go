// Package gamepad implements the virtual-gamepad subsystem: packing JS and
// EV kernel-struct-layout events for 32- or 64-bit peers, and the
// per-device Unix-domain-socket server that negotiates word size and
// broadcasts events. No teacher counterpart exists (the RMM agent has no
// gamepad concept); built fresh in the teacher's net.Conn-wrapping idiom
// (see internal/ipc/protocol.go for the style this follows).
package gamepad

import (
	"encoding/binary"
)

// JsEvent types, per the legacy Linux joystick API.
const (
	JSEventButton uint8 = 0x01
	JSEventAxis   uint8 = 0x02
)

// JsEvent is the legacy joystick API event: time_ms u32, value i16,
// type u8, number u8 — 8 bytes, native endianness, identical length on
// 32- and 64-bit clients (spec §3).
type JsEvent struct {
	TimeMs uint32
	Value  int16
	Type   uint8
	Number uint8
}

// Encode packs a JsEvent as 8 bytes ("I h B B" little-endian, matching the
// target architecture's struct js_event layout).
func (e JsEvent) Encode() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], e.TimeMs)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(e.Value))
	buf[6] = e.Type
	buf[7] = e.Number
	return buf
}

// evdev EV_* and SYN_* constants relevant to the pair encoding.
const (
	EVSyn uint16 = 0x00
	EVKey uint16 = 0x01
	EVAbs uint16 = 0x03

	SynReport uint16 = 0x00
)

// WordSize is the negotiated client integer width: 4 (32-bit) or 8 (64-bit).
// This is the sole signal distinguishing 32- from 64-bit clients (spec §9);
// it must never be inferred from any other field.
type WordSize int

const (
	WordSize32 WordSize = 4
	WordSize64 WordSize = 8
)

// ParseWordSize validates the single handshake byte a client sends after
// receiving the config record.
func ParseWordSize(b byte) (WordSize, bool) {
	switch b {
	case 4:
		return WordSize32, true
	case 8:
		return WordSize64, true
	default:
		return 0, false
	}
}

// timevalSize returns the encoded size of one input_event's embedded
// timeval, which is sec+usec each packed at the negotiated word size.
func (w WordSize) timevalSize() int { return int(w) * 2 }

// inputEventSize returns the encoded size of one input_event record:
// timeval + type(u16) + code(u16) + value(s32).
func (w WordSize) inputEventSize() int { return w.timevalSize() + 2 + 2 + 4 }

// EncodeInputEvent packs one struct input_event at the negotiated word size.
func EncodeInputEvent(w WordSize, sec, usec int64, evType, code uint16, value int32) []byte {
	buf := make([]byte, w.inputEventSize())
	offset := 0
	if w == WordSize32 {
		binary.LittleEndian.PutUint32(buf[offset:], uint32(sec))
		offset += 4
		binary.LittleEndian.PutUint32(buf[offset:], uint32(usec))
		offset += 4
	} else {
		binary.LittleEndian.PutUint64(buf[offset:], uint64(sec))
		offset += 8
		binary.LittleEndian.PutUint64(buf[offset:], uint64(usec))
		offset += 8
	}
	binary.LittleEndian.PutUint16(buf[offset:], evType)
	offset += 2
	binary.LittleEndian.PutUint16(buf[offset:], code)
	offset += 2
	binary.LittleEndian.PutUint32(buf[offset:], uint32(value))
	return buf
}

// EncodeEvPair packs the two back-to-back input_event records for one
// logical EV_KEY/EV_ABS event: the event itself followed by a
// EV_SYN/SYN_REPORT/0 terminator, per spec §3.
func EncodeEvPair(w WordSize, sec, usec int64, evType, code uint16, value int32) []byte {
	first := EncodeInputEvent(w, sec, usec, evType, code, value)
	second := EncodeInputEvent(w, sec, usec, EVSyn, SynReport, 0)
	out := make([]byte, 0, len(first)+len(second))
	out = append(out, first...)
	out = append(out, second...)
	return out
}

// EvPairSize returns the total byte length of one EncodeEvPair result at the
// given word size.
func EvPairSize(w WordSize) int { return 2 * w.inputEventSize() }

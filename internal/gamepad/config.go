package gamepad

import "encoding/binary"

// Axis value bounds for evdev ABS_* events (spec §3/§8 scenario 3: a full
// unipolar trigger press yields ABS_MAX=32767).
const (
	AbsMin int16 = -32767
	AbsMax int16 = 32767
)

// Linux evdev kernel event codes for the 11-button/8-axis Xbox360 wired
// controller layout, grounded on the original's input_event_codes-derived
// STANDARD_XPAD_CONFIG (src/selkies_gstreamer/gamepad.py) and XPAD_CONFIG
// (addons/js-interposer/js-interposer-test.py).
const (
	btnA      uint16 = 0x130
	btnB      uint16 = 0x131
	btnX      uint16 = 0x133
	btnY      uint16 = 0x134
	btnTL     uint16 = 0x136
	btnTR     uint16 = 0x137
	btnSelect uint16 = 0x13a
	btnStart  uint16 = 0x13b
	btnMode   uint16 = 0x13c
	btnThumbL uint16 = 0x13d
	btnThumbR uint16 = 0x13e

	absX    uint8 = 0x00
	absY    uint8 = 0x01
	absZ    uint8 = 0x02
	absRX   uint8 = 0x03
	absRY   uint8 = 0x04
	absRZ   uint8 = 0x05
	absHat0X uint8 = 0x10
	absHat0Y uint8 = 0x11
)

// standardXpadButtons and standardXpadAxes are the kernel codes for the
// standard 11-button/8-axis layout, in STANDARD_XPAD_CONFIG's declared
// order.
var (
	standardXpadButtons = []uint16{btnA, btnB, btnX, btnY, btnTL, btnTR, btnSelect, btnStart, btnMode, btnThumbL, btnThumbR}
	standardXpadAxes    = []uint8{absX, absY, absZ, absRX, absRY, absRZ, absHat0X, absHat0Y}
)

// Field sizes of the fixed-size config record (spec §6): name(255) +
// vendor/product/version(2 each) + num_btns/num_axes(2 each) +
// button codes (512 x u16) + axis codes (64 x u8).
const (
	nameFieldSize    = 255
	maxButtonCodes   = 512
	maxAxisCodes     = 64
	ConfigRecordSize = nameFieldSize + 2 + 2 + 2 + 2 + 2 + maxButtonCodes*2 + maxAxisCodes*1
)

// AxisToBtnPair describes one axes_to_btn[axis] entry: either a single
// button (trigger axis, unipolar) or a pair (bipolar, first entry positive).
type AxisToBtnPair struct {
	Positive int
	Negative int
	HasNeg   bool
}

// RemapTable is the browser-to-device remap table from spec §3 GamepadConfig.
type RemapTable struct {
	AxesToBtn   map[int]AxisToBtnPair // device axis index -> browser button(s)
	Axes        map[int]int           // browser axis index -> device axis index
	Btns        map[int]int           // browser button index -> device button index
	TriggerAxes map[int]bool          // device axis indices that are unipolar triggers
}

// DefaultRemapTable returns the conventional Xbox-style standard-gamepad
// mapping, reverse-engineered from the worked example in spec §8 scenario 3
// (browser button 6 -> device axis 2, a unipolar trigger, producing
// ABS_Z/32767 at full press).
func DefaultRemapTable() RemapTable {
	return RemapTable{
		AxesToBtn: map[int]AxisToBtnPair{
			2: {Positive: 6},                              // left trigger -> ABS_Z
			5: {Positive: 7},                              // right trigger -> ABS_RZ
			6: {Positive: 15, Negative: 14, HasNeg: true}, // dpad x: left/right
			7: {Positive: 13, Negative: 12, HasNeg: true}, // dpad y: down/up
		},
		Axes: map[int]int{
			0: 0, // left stick x
			1: 1, // left stick y
			3: 3, // right stick x
			4: 4, // right stick y
		},
		Btns: map[int]int{
			0: 0, 1: 1, 2: 2, 3: 3, // A B X Y
			4: 4, 5: 5, // LB RB
			8: 6, 9: 7, // Back/Select, Start
			10: 9, 11: 10, // L3 R3
		},
		TriggerAxes: map[int]bool{2: true, 5: true},
	}
}

// GamepadConfig is the per-device configuration sent to clients on connect
// and the server-side remap policy driving event translation.
type GamepadConfig struct {
	Name    string
	Vendor  uint16
	Product uint16
	Version uint16
	Buttons []uint16 // device button codes, length N_b <= 512
	Axes    []uint8  // device axis codes, length N_a <= 64
	Remap   RemapTable
}

// NewGamepadConfig builds a config for a freshly instantiated virtual
// gamepad (the "js,c" command). The device side always exposes the fixed
// 11-button/8-axis Xbox360 wired controller descriptor (STANDARD_XPAD_CONFIG
// in the original), independent of the numAxes/numBtns the browser reports
// for its own (17-button/4-axis) Gamepad API view — the remap table is what
// reconciles the two. numAxes/numBtns are accepted for API symmetry with the
// js,c wire command but do not change the emitted device codes.
func NewGamepadConfig(name string, numAxes, numBtns int) GamepadConfig {
	buttons := make([]uint16, len(standardXpadButtons))
	copy(buttons, standardXpadButtons)
	axes := make([]uint8, len(standardXpadAxes))
	copy(axes, standardXpadAxes)
	return GamepadConfig{
		Name:    name,
		Vendor:  0x045e, // Microsoft
		Product: 0x028e, // Xbox360 Wired Controller
		Version: 0x0001,
		Buttons: buttons,
		Axes:    axes,
		Remap:   DefaultRemapTable(),
	}
}

// EncodeRecord serializes the fixed-size config record sent to a client on
// connect, per spec §6/§4.7 step 1. The record's length never depends on
// N_b/N_a: short lists are zero-padded.
func (c GamepadConfig) EncodeRecord() []byte {
	buf := make([]byte, ConfigRecordSize)
	offset := 0

	nameBytes := []byte(c.Name)
	if len(nameBytes) > nameFieldSize-1 {
		nameBytes = nameBytes[:nameFieldSize-1]
	}
	copy(buf[offset:offset+nameFieldSize], nameBytes)
	// remaining bytes in the name field are already zero (null-padded)
	offset += nameFieldSize

	binary.LittleEndian.PutUint16(buf[offset:], c.Vendor)
	offset += 2
	binary.LittleEndian.PutUint16(buf[offset:], c.Product)
	offset += 2
	binary.LittleEndian.PutUint16(buf[offset:], c.Version)
	offset += 2

	binary.LittleEndian.PutUint16(buf[offset:], uint16(len(c.Buttons)))
	offset += 2
	binary.LittleEndian.PutUint16(buf[offset:], uint16(len(c.Axes)))
	offset += 2

	for i, code := range c.Buttons {
		if i >= maxButtonCodes {
			break
		}
		binary.LittleEndian.PutUint16(buf[offset+i*2:], code)
	}
	offset += maxButtonCodes * 2

	for i, code := range c.Axes {
		if i >= maxAxisCodes {
			break
		}
		buf[offset+i] = code
	}

	return buf
}

// normalizeAxis maps a browser axis value in [-1,1] to [ABS_MIN,ABS_MAX].
func normalizeAxis(v float64) int16 {
	if v > 1 {
		v = 1
	}
	if v < -1 {
		v = -1
	}
	return int16(v * float64(AbsMax))
}

// normalizeTrigger maps a unipolar [0,1] button value to [ABS_MIN,ABS_MAX].
func normalizeTrigger(v float64) int16 {
	if v > 1 {
		v = 1
	}
	if v < 0 {
		v = 0
	}
	return int16(float64(AbsMin) + v*float64(int(AbsMax)-int(AbsMin)))
}

// MapButton resolves an inbound browser button index to either a direct
// device button (with its remapped index) or an axis substitution, per
// spec §4.7 "Button-to-axis remapping".
type ButtonMapping struct {
	IsAxis      bool
	AxisIndex   int
	AxisValue   int16
	ButtonIndex int
	ok          bool
}

// MapButton implements the axes_to_btn / btns lookup and value scaling.
func (c GamepadConfig) MapButton(btnNum int, value float64) (ButtonMapping, bool) {
	for axis, pair := range c.Remap.AxesToBtn {
		if pair.Positive == btnNum {
			return c.scaledAxisMapping(axis, value, true), true
		}
		if pair.HasNeg && pair.Negative == btnNum {
			return c.scaledAxisMapping(axis, value, false), true
		}
	}

	deviceBtn, ok := c.Remap.Btns[btnNum]
	if !ok {
		deviceBtn = btnNum
	}
	if deviceBtn >= len(c.Buttons) {
		return ButtonMapping{}, false
	}
	return ButtonMapping{IsAxis: false, ButtonIndex: deviceBtn, ok: true}, true
}

func (c GamepadConfig) scaledAxisMapping(axis int, value float64, positive bool) ButtonMapping {
	if c.Remap.TriggerAxes[axis] {
		return ButtonMapping{IsAxis: true, AxisIndex: axis, AxisValue: normalizeTrigger(value), ok: true}
	}
	sign := 1.0
	if !positive {
		sign = -1.0
	}
	return ButtonMapping{IsAxis: true, AxisIndex: axis, AxisValue: normalizeAxis(value * sign), ok: true}
}

// MapAxis resolves an inbound browser axis index to a device axis index,
// rejecting out-of-range indices (spec §4.7 "Axis remapping").
func (c GamepadConfig) MapAxis(axisNum int, value float64) (deviceAxis int, scaled int16, ok bool) {
	deviceAxis, remapped := c.Remap.Axes[axisNum]
	if !remapped {
		deviceAxis = axisNum
	}
	if deviceAxis >= len(c.Axes) {
		return 0, 0, false
	}
	return deviceAxis, normalizeAxis(value), true
}

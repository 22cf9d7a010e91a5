// Package datachannel implements the bidirectional WebRTC data channel wire
// protocol: inbound comma-separated compact text commands, outbound JSON
// envelopes. Grounded on the teacher's webrtc.go handleInputMessage /
// handleControlMessage dispatch shape, adapted to the spec's flat comma
// grammar instead of JSON-per-message.
package datachannel

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// CommandType identifies the inbound command vocabulary from spec §4.6.
type CommandType string

const (
	CmdPong        CommandType = "pong"
	CmdKeyDown     CommandType = "kd"
	CmdKeyUp       CommandType = "ku"
	CmdKeyRelease  CommandType = "kr"
	CmdMouseAbs    CommandType = "m"
	CmdMouseRel    CommandType = "m2"
	CmdPointerVis  CommandType = "p"
	CmdVideoBitrate CommandType = "vb"
	CmdAudioBitrate CommandType = "ab"
	CmdJoystick    CommandType = "js"
	CmdClipRead    CommandType = "cr"
	CmdClipWrite   CommandType = "cw"
	CmdResize      CommandType = "r"
	CmdScale       CommandType = "s"
	CmdArgFPS      CommandType = "_arg_fps"
	CmdArgResize   CommandType = "_arg_resize"
	CmdClientFPS   CommandType = "_f"
	CmdClientLat   CommandType = "_l"
	CmdStatsVideo  CommandType = "_stats_video"
	CmdStatsAudio  CommandType = "_stats_audio"
)

// Command is a parsed inbound data-channel message.
type Command struct {
	Type CommandType
	Args []string
}

// JoystickSub distinguishes the js,<sub>,... inbound family.
type JoystickSub string

const (
	JSCreate  JoystickSub = "c"
	JSDestroy JoystickSub = "d"
	JSButton  JoystickSub = "b"
	JSAxis    JoystickSub = "a"
)

// ParseCommand splits a raw inbound message into its command type and
// arguments. The js family is a 2-level dispatch (js,<sub>,...) folded into
// Command.Type = "js" with Args[0] = sub, Args[1:] = the rest.
func ParseCommand(raw string) (Command, error) {
	parts := strings.Split(raw, ",")
	if len(parts) == 0 || parts[0] == "" {
		return Command{}, fmt.Errorf("empty command")
	}
	return Command{Type: CommandType(parts[0]), Args: parts[1:]}, nil
}

// MouseEvent is the parsed form of an m/m2 command.
type MouseEvent struct {
	X, Y            int
	ButtonMask      uint32
	ScrollMagnitude int
	Relative        bool
}

// ParseMouseEvent parses the x,y,button_mask,scroll_magnitude argument list
// shared by m and m2.
func ParseMouseEvent(relative bool, args []string) (MouseEvent, error) {
	if len(args) < 4 {
		return MouseEvent{}, fmt.Errorf("mouse command requires 4 args, got %d", len(args))
	}
	x, err := strconv.Atoi(args[0])
	if err != nil {
		return MouseEvent{}, fmt.Errorf("parse x: %w", err)
	}
	y, err := strconv.Atoi(args[1])
	if err != nil {
		return MouseEvent{}, fmt.Errorf("parse y: %w", err)
	}
	mask, err := strconv.ParseUint(args[2], 10, 32)
	if err != nil {
		return MouseEvent{}, fmt.Errorf("parse button mask: %w", err)
	}
	mag, err := strconv.Atoi(args[3])
	if err != nil {
		return MouseEvent{}, fmt.Errorf("parse scroll magnitude: %w", err)
	}
	return MouseEvent{X: x, Y: y, ButtonMask: uint32(mask), ScrollMagnitude: mag, Relative: relative}, nil
}

// ParseResize parses "WxH" and evens both dimensions, per spec §4.6 / §8
// scenario 4 ("r,1921x1081" -> on_resize("1922x1082")).
func ParseResize(arg string) (w, h int, err error) {
	ws, hs, _ := strings.Cut(arg, "x")
	wi, err := strconv.Atoi(ws)
	if err != nil {
		return 0, 0, fmt.Errorf("parse width: %w", err)
	}
	hi, err := strconv.Atoi(hs)
	if err != nil {
		return 0, 0, fmt.Errorf("parse height: %w", err)
	}
	return evenUp(wi), evenUp(hi), nil
}

func evenUp(v int) int {
	if v%2 != 0 {
		return v + 1
	}
	return v
}

// DecodeClipboardPayload base64-decodes a cw,<b64> argument.
func DecodeClipboardPayload(b64 string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(b64)
}

// maxClipboardBytes is the data-channel frame limit from spec §4.6: the
// clipboard tag is dropped with a warning above this size.
const maxClipboardBytes = 65400

// EncodeClipboardPayload base64-encodes an outbound clipboard payload.
// Returns ok=false when the encoded payload would exceed the frame limit.
func EncodeClipboardPayload(data []byte) (encoded string, ok bool) {
	encoded = base64.StdEncoding.EncodeToString(data)
	return encoded, len(encoded) <= maxClipboardBytes
}

// stuckModifierKeysyms is the fixed set released by "kr" (spec §4.6): all
// modifier keysyms plus f/F, m/M, Escape.
var stuckModifierKeysyms = []int{
	0xffe1, 0xffe2, // Shift_L, Shift_R
	0xffe3, 0xffe4, // Control_L, Control_R
	0xffe5, 0xffe6, // Caps_Lock, Shift_Lock
	0xffe7, 0xffe8, // Meta_L, Meta_R
	0xffe9, 0xffea, // Alt_L, Alt_R
	0xffeb, 0xffec, // Super_L, Super_R
	0x066, 0x046, // f, F
	0x06d, 0x04d, // m, M
	0xff1b, // Escape
}

// StuckKeysToRelease returns the fixed keysym list for the "kr" command.
func StuckKeysToRelease() []int {
	out := make([]int, len(stuckModifierKeysyms))
	copy(out, stuckModifierKeysyms)
	return out
}

// keysymLessThanRemap implements the keyboard mapping quirk from spec §4.6:
// keysym 60 ('<') mapping to keycode 94 is remapped to keysym 44 (',')
// before injection.
const (
	quirkSourceKeysym = 60
	quirkKeycode94    = 94
	quirkTargetKeysym = 44
)

// ApplyKeysymQuirk returns the keysym to actually inject, applying the
// keycode-94 remap quirk when it applies.
func ApplyKeysymQuirk(keysym int, keycodeForKeysym func(int) int) int {
	if keysym == quirkSourceKeysym && keycodeForKeysym != nil && keycodeForKeysym(keysym) == quirkKeycode94 {
		return quirkTargetKeysym
	}
	return keysym
}

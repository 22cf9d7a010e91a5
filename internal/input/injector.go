// Package input implements keyboard/pointer injection against the X11
// display named by DISPLAY, in either Direct (in-process X11/XTest calls)
// or Brokered (UDS datagram to a uinput proxy) mode, per spec §4.8. Direct
// mode is reworked from the teacher's xdotool-shelling LinuxInputHandler
// (internal/remote/desktop/input_linux.go) onto an in-process library
// instead of a subprocess per command.
package input

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/go-vgo/robotgo"
	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"github.com/jezek/xgb/xtest"

	"github.com/breeze-rmm/selkies-agent/internal/datachannel"
	"github.com/breeze-rmm/selkies-agent/internal/logging"
)

var log = logging.L("input")

// stuckModifierKeysyms is the fixed list released on startup: all modifier
// keysyms plus f/F, m/M, Escape (spec §4.8).
var stuckModifierKeysyms = []int{
	0xffe1, 0xffe2, // Shift_L, Shift_R
	0xffe3, 0xffe4, // Control_L, Control_R
	0xffe7, 0xffe8, // Meta_L, Meta_R
	0xffe9, 0xffea, // Alt_L, Alt_R
	0xffeb, 0xffec, // Super_L, Super_R
	0xffe5, 0xffe6, // Caps_Lock, Shift_Lock
	'f', 'F', 'm', 'M',
	0xff1b, // Escape
}

// Mode selects how keyboard/pointer events reach the X server.
type Mode int

const (
	ModeDirect Mode = iota
	ModeBrokered
)

// Injector injects input events into the desktop session.
type Injector struct {
	mode Mode

	conn   *xgb.Conn
	root   xproto.Window
	keymap *keymapCache

	brokerAddr *net.UnixAddr
	brokerConn *net.UnixConn
}

// NewDirectInjector opens an X11 connection and the XTest extension for
// in-process key/pointer injection.
func NewDirectInjector() (*Injector, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("input: connect: %w", err)
	}
	if err := xtest.Init(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("input: init xtest: %w", err)
	}

	setup := xproto.Setup(conn)
	root := setup.DefaultScreen(conn).Root

	inj := &Injector{
		mode:   ModeDirect,
		conn:   conn,
		root:   root,
		keymap: newKeymapCache(conn),
	}
	inj.releaseStuckKeys()
	return inj, nil
}

// NewBrokeredInjector dials a uinput proxy's UDS datagram socket. Used when
// the process cannot open /dev/uinput directly.
func NewBrokeredInjector(socketPath string) (*Injector, error) {
	addr := &net.UnixAddr{Name: socketPath, Net: "unixgram"}
	conn, err := net.DialUnix("unixgram", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("input: dial uinput broker: %w", err)
	}
	return &Injector{mode: ModeBrokered, brokerAddr: addr, brokerConn: conn}, nil
}

// Close releases the injector's resources.
func (inj *Injector) Close() {
	if inj.conn != nil {
		inj.conn.Close()
	}
	if inj.brokerConn != nil {
		inj.brokerConn.Close()
	}
}

// releaseStuckKeys sends a KeyRelease for every entry in
// stuckModifierKeysyms, best-effort (spec §4.8 startup cleanup).
func (inj *Injector) releaseStuckKeys() {
	for _, sym := range stuckModifierKeysyms {
		if err := inj.KeyUp(sym); err != nil {
			log.Warn("release stuck key failed", "keysym", sym, "error", err)
		}
	}
}

// KeyDown/KeyUp accept a keysym and resolve it to a keycode via the live
// X11 keyboard mapping before injecting a KeyPress/KeyRelease.
func (inj *Injector) KeyDown(keysym int) error { return inj.sendKey(keysym, true) }
func (inj *Injector) KeyUp(keysym int) error   { return inj.sendKey(keysym, false) }

func (inj *Injector) sendKey(keysym int, press bool) error {
	if inj.mode == ModeBrokered {
		evType := brokerKeyUp
		if press {
			evType = brokerKeyDown
		}
		return inj.sendBrokered(evType, keysym)
	}

	resolved := datachannel.ApplyKeysymQuirk(keysym, inj.keymap.KeycodeForKeysym)
	keycode := inj.keymap.KeycodeForKeysym(resolved)
	if keycode == 0 {
		return fmt.Errorf("input: no keycode bound to keysym %#x", resolved)
	}

	evType := byte(xproto.KeyRelease)
	if press {
		evType = byte(xproto.KeyPress)
	}
	return inj.fakeInput(evType, byte(keycode), 0, 0)
}

// MoveAbsolute moves the pointer to an absolute screen position.
func (inj *Injector) MoveAbsolute(x, y int) error {
	if inj.mode == ModeBrokered {
		return inj.sendBrokered(brokerMoveAbsolute, x, y)
	}
	robotgo.Move(x, y)
	return nil
}

// MoveRelative moves the pointer by a delta. Per spec §4.8, this must use
// XTest fake-input motion with detail=True (relative mode), not a
// position-tracking helper that reads the current position and computes an
// absolute target — that race loses deltas under concurrent motion.
func (inj *Injector) MoveRelative(dx, dy int) error {
	if inj.mode == ModeBrokered {
		return inj.sendBrokered(brokerMoveRelative, dx, dy)
	}
	return inj.fakeInput(byte(xproto.MotionNotify), 1, int16(dx), int16(dy))
}

// ButtonDown/ButtonUp inject a pointer button press/release. button is an
// X11 button number (1=left, 2=middle, 3=right, 4/5=scroll up/down).
func (inj *Injector) ButtonDown(button int) error { return inj.sendButton(button, true) }
func (inj *Injector) ButtonUp(button int) error   { return inj.sendButton(button, false) }

func (inj *Injector) sendButton(button int, press bool) error {
	if inj.mode == ModeBrokered {
		evType := brokerButtonUp
		if press {
			evType = brokerButtonDown
		}
		return inj.sendBrokered(evType, button)
	}
	name := robotgoButtonName(button)
	state := "up"
	if press {
		state = "down"
	}
	return robotgo.Toggle(name, state)
}

// Scroll injects a wheel event. magnitude multiplies the number of discrete
// clicks sent (spec §4.8 "scroll events multiply by the client-supplied
// magnitude").
func (inj *Injector) Scroll(deltaY int, magnitude int) error {
	if magnitude <= 0 {
		magnitude = 1
	}
	if inj.mode == ModeBrokered {
		return inj.sendBrokered(brokerScroll, deltaY*magnitude)
	}
	robotgo.Scroll(0, deltaY*magnitude)
	return nil
}

func robotgoButtonName(button int) string {
	switch button {
	case 2:
		return "center"
	case 3:
		return "right"
	default:
		return "left"
	}
}

// fakeInput issues one XTEST FakeInput request.
func (inj *Injector) fakeInput(evType, detail byte, rootX, rootY int16) error {
	cookie := xtest.FakeInput(inj.conn, evType, detail, xproto.TimeCurrentTime, inj.root, rootX, rootY, 0)
	return cookie.Check()
}

// Brokered wire format: one opcode byte, one count byte, then that many
// little-endian int32 values (the keysym or button number for key/button
// ops, x and y for moves, the scaled delta for scroll). There is no
// separate event-code field and no kwargs section.
const (
	brokerKeyDown      byte = 1
	brokerKeyUp        byte = 2
	brokerMoveAbsolute byte = 3
	brokerMoveRelative byte = 4
	brokerButtonDown   byte = 5
	brokerButtonUp     byte = 6
	brokerScroll       byte = 7
)

func (inj *Injector) sendBrokered(opType byte, values ...int) error {
	buf := new(bytes.Buffer)
	buf.WriteByte(opType)
	buf.WriteByte(byte(len(values)))
	for _, v := range values {
		binary.Write(buf, binary.LittleEndian, int32(v))
	}
	_, err := inj.brokerConn.Write(buf.Bytes())
	return err
}

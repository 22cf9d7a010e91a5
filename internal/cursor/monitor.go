// Package cursor implements CursorMonitor: subscribes to XFIXES
// DisplayCursorNotify on the root window and dispatches an outbound cursor
// message per change, caching encoded payloads by cursor serial (spec
// §4.9). Ported from the teacher's Win32 GetCursorInfo polling/composite
// shape (internal/remote/desktop/cursor_windows.go) onto XFIXES push
// events.
package cursor

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"time"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xfixes"
	"github.com/jezek/xgb/xproto"
	"golang.org/x/image/draw"

	"github.com/breeze-rmm/selkies-agent/internal/logging"
)

var log = logging.L("cursor")

// pollInterval is the cadence when no XFIXES events are pending (spec §4.9).
const pollInterval = 100 * time.Millisecond

// Payload is the dispatched cursor message body, matching
// datachannel.CursorPayload's field shape.
type Payload struct {
	CurData  string
	HotX     float64
	HotY     float64
	Override *string
}

// Monitor watches for cursor image changes and dispatches Payload values
// via its Sink callback.
type Monitor struct {
	conn *xgb.Conn
	root xproto.Window

	// TargetWidth/TargetHeight, if both non-zero, resize the cursor image
	// before encoding.
	TargetWidth, TargetHeight int

	mu    sync.Mutex
	cache map[uint32]Payload

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Open connects to the X server and selects DisplayCursorNotify events on
// the root window.
func Open() (*Monitor, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("cursor: connect: %w", err)
	}
	if err := xfixes.Init(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cursor: init xfixes: %w", err)
	}
	// XFIXES requires a version handshake before any other request.
	if _, err := xfixes.QueryVersion(conn, 5, 0).Reply(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cursor: xfixes query version: %w", err)
	}

	setup := xproto.Setup(conn)
	root := setup.DefaultScreen(conn).Root

	if err := xfixes.SelectCursorInputChecked(conn, root, xfixes.CursorNotifyMaskDisplayCursor).Check(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cursor: select cursor input: %w", err)
	}

	return &Monitor{
		conn:   conn,
		root:   root,
		cache:  make(map[uint32]Payload),
		stopCh: make(chan struct{}),
	}, nil
}

// Start runs the event loop on its own goroutine, dispatching each cursor
// change via onChange.
func (m *Monitor) Start(onChange func(Payload)) {
	m.wg.Add(1)
	go m.run(onChange)
}

// Stop ends the event loop and closes the X connection.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
	m.conn.Close()
}

func (m *Monitor) run(onChange func(Payload)) {
	defer m.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			for {
				ev, err := m.conn.PollForEvent()
				if err != nil {
					log.Warn("cursor poll error", "error", err)
					break
				}
				if ev == nil {
					break
				}
				notify, ok := ev.(xfixes.CursorNotifyEvent)
				if !ok {
					continue
				}
				payload, err := m.handleNotify(notify)
				if err != nil {
					log.Warn("cursor notify handling failed", "error", err)
					continue
				}
				onChange(payload)
			}
		}
	}
}

func (m *Monitor) handleNotify(ev xfixes.CursorNotifyEvent) (Payload, error) {
	serial := uint32(ev.CursorSerial)

	m.mu.Lock()
	cached, hit := m.cache[serial]
	m.mu.Unlock()
	if hit {
		return cached, nil
	}

	reply, err := xfixes.GetCursorImage(m.conn).Reply()
	if err != nil {
		return Payload{}, fmt.Errorf("get cursor image: %w", err)
	}

	payload, err := encodeCursorImage(reply, m.TargetWidth, m.TargetHeight)
	if err != nil {
		return Payload{}, err
	}

	m.mu.Lock()
	m.cache[serial] = payload
	m.mu.Unlock()

	return payload, nil
}

// encodeCursorImage unpacks XFIXES's ARGB pixel data ([R,G,B,A] per 32-bit
// value), optionally resizes, encodes as PNG, and computes the scaled
// hotspot. A cursor whose pixels are all zero is reported with
// override="none" (spec §4.9/§8 scenario 6).
func encodeCursorImage(reply *xfixes.GetCursorImageReply, targetW, targetH int) (Payload, error) {
	width := int(reply.Width)
	height := int(reply.Height)

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	allZero := true
	for i, px := range reply.CursorImage {
		r := byte(px >> 24)
		g := byte(px >> 16)
		b := byte(px >> 8)
		a := byte(px)
		if px != 0 {
			allZero = false
		}
		x := i % width
		y := i / width
		img.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: a})
	}

	hotX := float64(reply.Xhot)
	hotY := float64(reply.Yhot)

	var out image.Image = img
	if targetW > 0 && targetH > 0 && (targetW != width || targetH != height) {
		resized := image.NewNRGBA(image.Rect(0, 0, targetW, targetH))
		draw.CatmullRom.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Over, nil)
		out = resized
		if width > 0 {
			hotX = hotX * float64(targetW) / float64(width)
		}
		if height > 0 {
			hotY = hotY * float64(targetH) / float64(height)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return Payload{}, fmt.Errorf("encode cursor png: %w", err)
	}

	payload := Payload{
		CurData: base64.StdEncoding.EncodeToString(buf.Bytes()),
		HotX:    hotX,
		HotY:    hotY,
	}
	if allZero {
		none := "none"
		payload.Override = &none
	}
	return payload, nil
}

// Package x11display drives XRandR mode changes for the `r` data-channel
// command: given a requested (evened) width/height, pick the nearest
// supported output mode at or above that size and switch to it. Used
// opaquely by the orchestrator when resize is enabled (spec §1/§4.6).
package x11display

import (
	"fmt"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/randr"
	"github.com/jezek/xgb/xproto"

	"github.com/breeze-rmm/selkies-agent/internal/logging"
)

var log = logging.L("x11display")

// Display wraps an X connection and the RandR screen resources needed to
// change the root window's mode.
type Display struct {
	conn *xgb.Conn
	root xproto.Window
}

// Open connects to the X server named by DISPLAY and initializes the RandR
// extension.
func Open() (*Display, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("x11display: connect: %w", err)
	}
	if err := randr.Init(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("x11display: init randr: %w", err)
	}

	setup := xproto.Setup(conn)
	root := setup.DefaultScreen(conn).Root

	return &Display{conn: conn, root: root}, nil
}

// Close releases the X connection.
func (d *Display) Close() {
	d.conn.Close()
}

// SetMode changes the root window's mode to the nearest supported
// resolution greater than or equal to the requested size, on the first
// output RandR reports. If no mode matches, logs a warning and leaves the current mode
// unchanged (runtime-recoverable per spec §7).
func (d *Display) SetMode(width, height int) error {
	resources, err := randr.GetScreenResourcesCurrent(d.conn, d.root).Reply()
	if err != nil {
		return fmt.Errorf("x11display: get screen resources: %w", err)
	}
	if len(resources.Outputs) == 0 {
		return fmt.Errorf("x11display: no outputs reported")
	}

	output := resources.Outputs[0]
	outputInfo, err := randr.GetOutputInfo(d.conn, output, resources.ConfigTimestamp).Reply()
	if err != nil {
		return fmt.Errorf("x11display: get output info: %w", err)
	}
	if outputInfo.Crtc == 0 {
		return fmt.Errorf("x11display: output has no active CRTC")
	}

	mode, ok := bestMode(resources.Modes, outputInfo.Modes, width, height)
	if !ok {
		log.Warn("no matching display mode found, leaving current mode", "width", width, "height", height)
		return nil
	}

	crtcInfo, err := randr.GetCrtcInfo(d.conn, outputInfo.Crtc, resources.ConfigTimestamp).Reply()
	if err != nil {
		return fmt.Errorf("x11display: get crtc info: %w", err)
	}

	cookie := randr.SetCrtcConfig(
		d.conn,
		outputInfo.Crtc,
		resources.ConfigTimestamp,
		resources.ConfigTimestamp,
		crtcInfo.X, crtcInfo.Y,
		mode,
		crtcInfo.Rotation,
		[]randr.Output{output},
	)
	if _, err := cookie.Reply(); err != nil {
		return fmt.Errorf("x11display: set crtc config: %w", err)
	}

	log.Info("display mode changed", "width", width, "height", height)
	return nil
}

// bestMode picks, from candidateModeIDs whose dimensions are both >= the
// requested size, the one with the smallest total pixel count; on equal
// counts the earlier candidate wins.
func bestMode(allModes []randr.ModeInfo, candidateModeIDs []randr.Mode, width, height int) (randr.Mode, bool) {
	byID := make(map[randr.Mode]randr.ModeInfo, len(allModes))
	for _, m := range allModes {
		byID[randr.Mode(m.Id)] = m
	}

	var best randr.Mode
	var bestArea uint32
	found := false

	for _, id := range candidateModeIDs {
		info, ok := byID[id]
		if !ok {
			continue
		}
		if int(info.Width) < width || int(info.Height) < height {
			continue
		}
		area := uint32(info.Width) * uint32(info.Height)
		if !found || area < bestArea {
			best = id
			bestArea = area
			found = true
		}
	}

	return best, found
}

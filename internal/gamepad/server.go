package gamepad

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/breeze-rmm/selkies-agent/internal/logging"
)

var log = logging.L("gamepad")

// acceptTimeout bounds how long Accept blocks between polls, giving the
// stop flag a chance to be observed for cooperative shutdown (spec §5/§8).
const acceptTimeout = 750 * time.Millisecond

// client is one connected consumer of a device's broadcast set.
type client struct {
	conn     net.Conn
	wordSize WordSize
}

// Device is one virtual gamepad instance (index 0-3), owning a JS and an EV
// UDS listener. Events are broadcast to every connected client of each kind
// in the order SendButton/SendAxis are called, with no per-client
// reordering (spec §5).
type Device struct {
	Index  int
	Config GamepadConfig

	jsPath string
	evPath string

	mu        sync.Mutex
	jsClients map[net.Conn]*client
	evClients map[net.Conn]*client

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDevice constructs a virtual gamepad instance. Call Start to bind its
// two UDS listeners.
func NewDevice(index int, cfg GamepadConfig, jsPath, evPath string) (*Device, error) {
	return &Device{
		Index:     index,
		Config:    cfg,
		jsPath:    jsPath,
		evPath:    evPath,
		jsClients: make(map[net.Conn]*client),
		evClients: make(map[net.Conn]*client),
		stopCh:    make(chan struct{}),
	}, nil
}

// Start binds both listeners and begins accepting clients. An existing file
// at jsPath/evPath is unlinked first; if either exists and cannot be
// unlinked, bind fails (spec §4.7 shutdown semantics, applied symmetrically
// to startup).
func (d *Device) Start() error {
	jsListener, err := bindUnix(d.jsPath)
	if err != nil {
		return fmt.Errorf("bind js socket: %w", err)
	}
	evListener, err := bindUnix(d.evPath)
	if err != nil {
		jsListener.Close()
		os.Remove(d.jsPath)
		return fmt.Errorf("bind ev socket: %w", err)
	}

	d.wg.Add(2)
	go d.acceptLoop(jsListener, true)
	go d.acceptLoop(evListener, false)

	return nil
}

func bindUnix(path string) (*net.UnixListener, error) {
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return nil, err
		}
	}
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, err
	}
	return net.ListenUnix("unix", addr)
}

func (d *Device) acceptLoop(listener *net.UnixListener, isJS bool) {
	defer d.wg.Done()
	defer listener.Close()

	for {
		listener.SetDeadline(time.Now().Add(acceptTimeout))
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-d.stopCh:
				return
			default:
			}
			continue
		}
		go d.handshake(conn, isJS)
	}
}

// handshake implements spec §4.7 step 1-2: send the fixed config record,
// then read exactly one byte giving the client's word size.
func (d *Device) handshake(conn net.Conn, isJS bool) {
	record := d.Config.EncodeRecord()
	if _, err := conn.Write(record); err != nil {
		conn.Close()
		return
	}

	wsByte := make([]byte, 1)
	if _, err := conn.Read(wsByte); err != nil {
		conn.Close()
		return
	}
	wordSize, ok := ParseWordSize(wsByte[0])
	if !ok {
		log.Warn("gamepad client sent invalid word size byte", "byte", wsByte[0])
		conn.Close()
		return
	}

	c := &client{conn: conn, wordSize: wordSize}
	d.mu.Lock()
	if isJS {
		d.jsClients[conn] = c
	} else {
		d.evClients[conn] = c
	}
	d.mu.Unlock()

	log.Info("gamepad client connected", "device", d.Index, "js", isJS, "wordSize", wordSize)
}

// SendButton emits a button event, applying the remap table (spec §4.7
// "Button-to-axis remapping").
func (d *Device) SendButton(btnNum int, value float64) {
	mapping, ok := d.Config.MapButton(btnNum, value)
	if !ok {
		log.Warn("gamepad button out of range", "device", d.Index, "btn", btnNum)
		return
	}

	if mapping.IsAxis {
		d.broadcastAxisEvent(mapping.AxisIndex, mapping.AxisValue)
		return
	}
	pressed := value != 0
	d.broadcastButtonEvent(mapping.ButtonIndex, pressed)
}

// SendAxis emits an axis event, applying the remap table (spec §4.7
// "Axis remapping").
func (d *Device) SendAxis(axisNum int, value float64) {
	deviceAxis, scaled, ok := d.Config.MapAxis(axisNum, value)
	if !ok {
		log.Warn("gamepad axis out of range", "device", d.Index, "axis", axisNum)
		return
	}
	d.broadcastAxisEvent(deviceAxis, scaled)
}

// buttonEventCode resolves the real evdev BTN_* kernel code for a device
// button index, falling back to the raw index when out of range (callers
// already bounds-check via MapButton before reaching here).
func (d *Device) buttonEventCode(buttonIndex int) uint16 {
	if buttonIndex >= 0 && buttonIndex < len(d.Config.Buttons) {
		return d.Config.Buttons[buttonIndex]
	}
	return uint16(buttonIndex)
}

// axisEventCode resolves the real evdev ABS_* kernel code for a device axis
// index, falling back to the raw index when out of range.
func (d *Device) axisEventCode(axisIndex int) uint16 {
	if axisIndex >= 0 && axisIndex < len(d.Config.Axes) {
		return uint16(d.Config.Axes[axisIndex])
	}
	return uint16(axisIndex)
}

func (d *Device) broadcastButtonEvent(buttonIndex int, pressed bool) {
	now := time.Now()
	jsValue := int16(0)
	if pressed {
		jsValue = AbsMax
	}
	jsPayload := JsEvent{TimeMs: uint32(now.UnixMilli()), Value: jsValue, Type: JSEventButton, Number: uint8(buttonIndex)}.Encode()
	d.broadcastJS(jsPayload)

	evValue := int32(0)
	if pressed {
		evValue = 1
	}
	d.broadcastEV(now, EVKey, d.buttonEventCode(buttonIndex), evValue)
}

func (d *Device) broadcastAxisEvent(axisIndex int, value int16) {
	now := time.Now()
	jsPayload := JsEvent{TimeMs: uint32(now.UnixMilli()), Value: value, Type: JSEventAxis, Number: uint8(axisIndex)}.Encode()
	d.broadcastJS(jsPayload)
	d.broadcastEV(now, EVAbs, d.axisEventCode(axisIndex), int32(value))
}

func (d *Device) broadcastJS(payload []byte) {
	d.mu.Lock()
	snapshot := make([]*client, 0, len(d.jsClients))
	for _, c := range d.jsClients {
		snapshot = append(snapshot, c)
	}
	d.mu.Unlock()
	for _, c := range snapshot {
		d.writeOrDrop(c, true, payload)
	}
}

func (d *Device) broadcastEV(now time.Time, evType, evCode uint16, evValue int32) {
	sec := now.Unix()
	usec := int64(now.Nanosecond() / 1000)

	d.mu.Lock()
	snapshot := make([]*client, 0, len(d.evClients))
	for _, c := range d.evClients {
		snapshot = append(snapshot, c)
	}
	d.mu.Unlock()
	for _, c := range snapshot {
		payload := EncodeEvPair(c.wordSize, sec, usec, evType, evCode, evValue)
		d.writeOrDrop(c, false, payload)
	}
}

// writeOrDrop removes a client whose write fails (broken pipe / reset),
// per spec §4.7 disconnect handling.
func (d *Device) writeOrDrop(c *client, isJS bool, payload []byte) {
	if _, err := c.conn.Write(payload); err != nil {
		d.mu.Lock()
		if isJS {
			delete(d.jsClients, c.conn)
		} else {
			delete(d.evClients, c.conn)
		}
		d.mu.Unlock()
		c.conn.Close()
	}
}

// Stop unlinks both UDS paths and closes all client connections.
func (d *Device) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
	d.wg.Wait()

	d.mu.Lock()
	for conn := range d.jsClients {
		conn.Close()
	}
	for conn := range d.evClients {
		conn.Close()
	}
	d.mu.Unlock()

	os.Remove(d.jsPath)
	os.Remove(d.evPath)
}

// Server owns up to 4 virtual gamepad Devices (index 0-3), instantiated and
// destroyed on demand by DataChannelProtocol's js,c / js,d commands.
type Server struct {
	JSPathTemplate string // e.g. "/tmp/selkies_js%d.sock"
	EVPathTemplate string // e.g. "/tmp/selkies_event%d.sock"

	mu      sync.Mutex
	devices map[int]*Device
}

// NewServer constructs a gamepad server. Path templates must contain one %d
// verb for the device index.
func NewServer(jsPathTemplate, evPathTemplate string) *Server {
	return &Server{
		JSPathTemplate: jsPathTemplate,
		EVPathTemplate: evPathTemplate,
		devices:        make(map[int]*Device),
	}
}

// CreateDevice instantiates virtual gamepad js_num (the js,c command).
func (s *Server) CreateDevice(index int, name string, numAxes, numBtns int) (*Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.devices[index]; ok {
		existing.Stop()
		delete(s.devices, index)
	}

	cfg := NewGamepadConfig(name, numAxes, numBtns)
	dev, err := NewDevice(index, cfg, fmt.Sprintf(s.JSPathTemplate, index), fmt.Sprintf(s.EVPathTemplate, index))
	if err != nil {
		return nil, err
	}
	if err := dev.Start(); err != nil {
		return nil, err
	}
	s.devices[index] = dev
	return dev, nil
}

// DestroyDevice tears down virtual gamepad js_num (the js,d command).
func (s *Server) DestroyDevice(index int) {
	s.mu.Lock()
	dev, ok := s.devices[index]
	if ok {
		delete(s.devices, index)
	}
	s.mu.Unlock()
	if ok {
		dev.Stop()
	}
}

// Device returns the device at the given index, if instantiated.
func (s *Server) Device(index int) (*Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[index]
	return dev, ok
}

// StopAll tears down every instantiated device.
func (s *Server) StopAll() {
	s.mu.Lock()
	devices := make([]*Device, 0, len(s.devices))
	for _, dev := range s.devices {
		devices = append(devices, dev)
	}
	s.devices = make(map[int]*Device)
	s.mu.Unlock()

	for _, dev := range devices {
		dev.Stop()
	}
}

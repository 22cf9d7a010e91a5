package signaling

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// NoPeer is raised when the server responds "ERROR peer '<id>' not found".
// It is passed to OnError, and the client sends SESSION to that peer again
// 2 seconds after each such reply, until the client is stopped.
type NoPeer struct {
	PeerID string
}

func (e *NoPeer) Error() string { return fmt.Sprintf("peer %q not found", e.PeerID) }

// SDPEnvelope is the {"sdp": {type, sdp}} JSON message.
type SDPEnvelope struct {
	SDP *SDPPayload `json:"sdp"`
}

type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICEEnvelope is the {"ice": {sdpMLineIndex, candidate}} JSON message.
type ICEEnvelope struct {
	ICE *ICEPayload `json:"ice"`
}

type ICEPayload struct {
	SDPMLineIndex int    `json:"sdpMLineIndex"`
	Candidate     string `json:"candidate"`
}

// ClientCallbacks is the capability record a SignalingClient dispatches to,
// avoiding the reassigned-callback races named in spec §9.
type ClientCallbacks struct {
	OnConnect func()
	OnSession func(peerID string, meta []byte)
	OnSDP     func(payload SDPPayload)
	OnICE     func(payload ICEPayload)
	OnError   func(err error)
}

// Client is a thin loopback WebSocket client speaking the SignalingServer
// protocol from the media side. Grounded on the teacher's
// internal/websocket/client.go reconnect/backoff and read/write pump shape.
type Client struct {
	ServerURL string
	UID       string

	cb ClientCallbacks

	mu       sync.Mutex
	conn     *websocket.Conn
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewClient constructs a loopback signaling client.
func NewClient(serverURL, uid string, cb ClientCallbacks) *Client {
	return &Client{ServerURL: serverURL, UID: uid, cb: cb, stopCh: make(chan struct{})}
}

// Start connects and runs the reconnect loop until Stop is called.
func (c *Client) Start() {
	go c.reconnectLoop()
}

// Stop disconnects and halts reconnection.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
	})
}

func (c *Client) reconnectLoop() {
	const retryInterval = 2 * time.Second
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		if err := c.connectAndServe(); err != nil {
			if c.cb.OnError != nil {
				c.cb.OnError(err)
			}
		}

		select {
		case <-c.stopCh:
			return
		case <-time.After(retryInterval):
		}
	}
}

func (c *Client) connectAndServe() error {
	u, err := buildWSURL(c.ServerURL)
	if err != nil {
		return fmt.Errorf("build ws url: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("HELLO "+c.UID)); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleLine(string(data))
	}
}

func (c *Client) handleLine(line string) {
	switch {
	case line == "HELLO":
		if c.cb.OnConnect != nil {
			c.cb.OnConnect()
		}
	case strings.HasPrefix(line, "SESSION_OK"):
		rest := strings.TrimSpace(strings.TrimPrefix(line, "SESSION_OK"))
		var meta []byte
		if rest != "" {
			if decoded, err := base64.StdEncoding.DecodeString(rest); err == nil {
				meta = decoded
			}
		}
		if c.cb.OnSession != nil {
			c.cb.OnSession("", meta)
		}
	case strings.HasPrefix(line, "ERROR peer"):
		peerID := extractQuoted(line)
		if strings.Contains(line, "not found") {
			if c.cb.OnError != nil {
				c.cb.OnError(&NoPeer{PeerID: peerID})
			}
			go func() {
				select {
				case <-c.stopCh:
				case <-time.After(2 * time.Second):
					_ = c.SendSession(peerID)
				}
			}()
		} else if c.cb.OnError != nil {
			c.cb.OnError(fmt.Errorf("%s", line))
		}
	default:
		c.handleJSONEnvelope(line)
	}
}

func (c *Client) handleJSONEnvelope(line string) {
	var sdpEnv SDPEnvelope
	if err := json.Unmarshal([]byte(line), &sdpEnv); err == nil && sdpEnv.SDP != nil {
		if c.cb.OnSDP != nil {
			c.cb.OnSDP(*sdpEnv.SDP)
		}
		return
	}

	var iceEnv ICEEnvelope
	if err := json.Unmarshal([]byte(line), &iceEnv); err == nil && iceEnv.ICE != nil {
		if c.cb.OnICE != nil {
			c.cb.OnICE(*iceEnv.ICE)
		}
		return
	}
}

// SendSDP serializes and sends an SDP envelope to the paired peer.
func (c *Client) SendSDP(payload SDPPayload) error {
	data, err := json.Marshal(SDPEnvelope{SDP: &payload})
	if err != nil {
		return err
	}
	return c.send(data)
}

// SendICE serializes and sends an ICE candidate envelope.
func (c *Client) SendICE(payload ICEPayload) error {
	data, err := json.Marshal(ICEEnvelope{ICE: &payload})
	if err != nil {
		return err
	}
	return c.send(data)
}

// SendSession requests pairing with the given peer UID.
func (c *Client) SendSession(calleeUID string) error {
	return c.send([]byte("SESSION " + calleeUID))
}

func (c *Client) send(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func extractQuoted(s string) string {
	start := strings.IndexByte(s, '\'')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(s[start+1:], '\'')
	if end < 0 {
		return ""
	}
	return s[start+1 : start+1+end]
}

func buildWSURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		u.Scheme = "ws"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

// jitteredBackoff mirrors the teacher's exponential-backoff-with-jitter
// helper. Nothing calls it: the client reconnects on a fixed 2s interval and
// the turn monitors refresh on their own fixed Period.
func jitteredBackoff(attempt int, initial, max time.Duration, factor, jitterFactor float64) time.Duration {
	d := float64(initial)
	for i := 0; i < attempt; i++ {
		d *= factor
	}
	if d > float64(max) {
		d = float64(max)
	}
	jitter := d * jitterFactor * (rand.Float64()*2 - 1)
	result := time.Duration(d + jitter)
	if result < 0 {
		result = initial
	}
	return result
}

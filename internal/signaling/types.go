// Package signaling implements the WebSocket hub (SignalingServer) and the
// loopback client (SignalingClient) that speaks the same line-oriented text
// protocol from the media side.
package signaling

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Status is a peer's pairing state.
type Status int

const (
	StatusUnregistered Status = iota
	StatusIdle
	StatusInSession
	StatusInRoom
)

// Peer is a registered WebSocket endpoint. Created on HELLO, destroyed on
// disconnect. Invariant: a UID is present in at most one session and at most
// one room.
type Peer struct {
	UID        string
	Conn       *websocket.Conn
	RemoteAddr string
	Status     Status
	RoomID     string
	Meta       string // opaque base64 blob, stored verbatim

	writeMu sync.Mutex
}

// WriteText sends a text frame, serializing concurrent writers. gorilla's
// Conn forbids concurrent writes from multiple goroutines.
func (p *Peer) WriteText(msg string) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.Conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

// Room is a named set of peer UIDs. The name must be a single whitespace-free
// token and never the literal "session".
type Room struct {
	ID      string
	Members map[string]struct{}
}

// hub owns the peers/sessions/rooms tables. All mutating operations take
// mu, emulating the single-threaded event-loop ownership model from spec §5
// (peers/sessions/rooms "never shared across threads") within Go's
// goroutine-per-connection model.
type hub struct {
	mu         sync.Mutex
	peers      map[string]*Peer
	sessionOf  map[string]string
	rooms      map[string]*Room
}

func newHub() *hub {
	return &hub{
		peers:     make(map[string]*Peer),
		sessionOf: make(map[string]string),
		rooms:     make(map[string]*Room),
	}
}

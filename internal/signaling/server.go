package signaling

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/breeze-rmm/selkies-agent/internal/logging"
	"github.com/breeze-rmm/selkies-agent/internal/turn"
)

var log = logging.L("signaling")

// RtcConfigSource supplies the RTC config served at /turn. Either an HMAC
// generator or a static document may be configured; HMAC takes precedence.
type RtcConfigSource struct {
	HMACSecret     string
	HMACHost       string
	HMACPort       int
	HMACProtocol   turn.Protocol
	HMACTLS        bool
	AuthUserHeader string

	mu     sync.RWMutex
	static *turn.RtcConfig
}

// SetStatic installs a static RTC config document, served when no HMAC
// secret is configured.
func (s *RtcConfigSource) SetStatic(cfg turn.RtcConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.static = &cfg
}

// Config configures a Server.
type Config struct {
	Addr              string
	WebRoot           string
	BasicAuthUser     string
	BasicAuthPassword string
	KeepaliveTimeout  time.Duration
	TLSCertPath       string
	TLSKeyPath        string
	RtcConfig         *RtcConfigSource
}

// Server is the WebSocket hub: HELLO registration, SESSION pairing, ROOM
// broadcast, keepalive, HTTPS/basic-auth, and the /turn endpoint.
type Server struct {
	cfg      Config
	hub      *hub
	upgrader websocket.Upgrader
	cache    *fileCache

	httpServer *http.Server
	certMu     sync.Mutex
	certMtime  time.Time
	stopOnce   sync.Once
	stopCh     chan struct{}
}

// New constructs a Server. Call Start to begin accepting connections.
func New(cfg Config) *Server {
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = 30 * time.Second
	}
	return &Server{
		cfg: cfg,
		hub: newHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		cache:  newFileCache(5 * time.Minute),
		stopCh: make(chan struct{}),
	}
}

// Start runs the HTTP(S) server until Stop is called or the certificate
// changes (if TLS cert hot-reload is configured, Stop is invoked and the
// supervisor is expected to restart the process).
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/", s.handleHealth)
	mux.HandleFunc("/turn", s.handleTurn)
	mux.HandleFunc("/turn/", s.handleTurn)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/ws/", s.handleWS)
	mux.HandleFunc("/", s.handleDefault)

	var handler http.Handler = mux
	if s.cfg.BasicAuthUser != "" {
		handler = s.basicAuth(handler)
	}

	s.httpServer = &http.Server{Addr: s.cfg.Addr, Handler: handler}

	if s.cfg.TLSCertPath != "" && s.cfg.TLSKeyPath != "" {
		if info, err := os.Stat(s.cfg.TLSCertPath); err == nil {
			s.certMtime = info.ModTime()
		}
		go s.watchCert()
		log.Info("signaling server listening (tls)", "addr", s.cfg.Addr)
		return s.httpServer.ListenAndServeTLS(s.cfg.TLSCertPath, s.cfg.TLSKeyPath)
	}

	log.Info("signaling server listening", "addr", s.cfg.Addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.httpServer != nil {
			s.httpServer.Close()
		}
	})
}

func (s *Server) watchCert() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			info, err := os.Stat(s.cfg.TLSCertPath)
			if err != nil {
				continue
			}
			s.certMu.Lock()
			changed := info.ModTime().After(s.certMtime)
			if changed {
				s.certMtime = info.ModTime()
			}
			s.certMu.Unlock()
			if changed {
				log.Warn("tls certificate changed, stopping for supervisor restart")
				s.Stop()
				return
			}
		}
	}
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.BasicAuthUser)) == 1
		passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.BasicAuthPassword)) == 1
		if !ok || !userMatch || !passMatch {
			w.Header().Set("WWW-Authenticate", `Basic realm="selkies"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK\n")
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	src := s.cfg.RtcConfig
	if src == nil {
		http.NotFound(w, r)
		return
	}

	if src.HMACSecret != "" {
		user := r.Header.Get(src.AuthUserHeader)
		if user == "" {
			http.Error(w, "missing auth user header", http.StatusUnauthorized)
			return
		}
		cfg := turn.MakeRtcConfig(src.HMACHost, src.HMACPort, src.HMACSecret, user, src.HMACProtocol, src.HMACTLS)
		writeJSON(w, cfg)
		return
	}

	src.mu.RLock()
	static := src.static
	src.mu.RUnlock()
	if static == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, *static)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Warn("marshal json response failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleDefault(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/signalling") || strings.HasSuffix(r.URL.Path, "/signalling/") {
		s.handleWS(w, r)
		return
	}
	s.serveStatic(w, r)
}

func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) {
	if s.cfg.WebRoot == "" {
		http.NotFound(w, r)
		return
	}

	clean := filepath.Clean(r.URL.Path)
	if clean == "/" || clean == "." {
		clean = "/index.html"
	}
	full := filepath.Join(s.cfg.WebRoot, clean)
	if !strings.HasPrefix(full, filepath.Clean(s.cfg.WebRoot)+string(filepath.Separator)) && full != filepath.Clean(s.cfg.WebRoot) {
		http.NotFound(w, r)
		return
	}

	body, err := s.cache.Get(full)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", mimeByExt(full))
	w.Write(body)
}

func mimeByExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html":
		return "text/html"
	case ".js":
		return "text/javascript"
	case ".css":
		return "text/css"
	case ".ico":
		return "image/x-icon"
	default:
		if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
			return t
		}
		return "application/octet-stream"
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.servePeer(conn, r.RemoteAddr)
}

func (s *Server) servePeer(conn *websocket.Conn, remoteAddr string) {
	var peer *Peer
	defer func() {
		conn.Close()
		if peer != nil {
			s.cleanupPeer(peer)
		}
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.KeepaliveTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.KeepaliveTimeout))
		return nil
	})

	keepaliveDone := make(chan struct{})
	defer close(keepaliveDone)
	go s.keepalivePinger(conn, keepaliveDone)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.KeepaliveTimeout))

		line := string(data)
		if peer == nil {
			p, closeReason := s.handleHello(conn, remoteAddr, line)
			if closeReason != "" {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(1002, closeReason), time.Now().Add(time.Second))
				return
			}
			if p == nil {
				continue
			}
			peer = p
			continue
		}

		if violation := s.dispatch(peer, line); violation != "" {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(1002, violation), time.Now().Add(time.Second))
			return
		}
	}
}

func (s *Server) keepalivePinger(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.KeepaliveTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleHello(conn *websocket.Conn, remoteAddr, line string) (*Peer, string) {
	fields := strings.Fields(line)
	if len(fields) < 1 || fields[0] != "HELLO" {
		return nil, "expected HELLO"
	}
	if len(fields) < 2 || fields[1] == "" {
		return nil, "HELLO requires a non-empty uid"
	}
	uid := fields[1]
	meta := ""
	if len(fields) >= 3 {
		meta = fields[2]
	}

	s.hub.mu.Lock()
	if _, exists := s.hub.peers[uid]; exists {
		s.hub.mu.Unlock()
		return nil, fmt.Sprintf("uid %q already registered", uid)
	}
	peer := &Peer{UID: uid, Conn: conn, RemoteAddr: remoteAddr, Status: StatusIdle, Meta: meta}
	s.hub.peers[uid] = peer
	s.hub.mu.Unlock()

	peer.WriteText("HELLO")
	log.Info("peer registered", "uid", uid, "remoteAddr", remoteAddr)
	return peer, ""
}

// dispatch processes one inbound line from a registered peer. Returns a
// non-empty close reason on protocol violation.
func (s *Server) dispatch(peer *Peer, line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}

	switch fields[0] {
	case "SESSION":
		if len(fields) < 2 {
			return "SESSION requires a callee"
		}
		s.handleSession(peer, fields[1])
	case "ROOM":
		if len(fields) < 2 {
			return "ROOM requires an id"
		}
		s.handleRoomJoin(peer, fields[1])
	case "ROOM_PEER_MSG":
		if len(fields) < 3 {
			return ""
		}
		rest := strings.SplitN(line, " ", 3)
		if len(rest) == 3 {
			s.handleRoomPeerMsg(peer, rest[1], rest[2])
		}
	case "ROOM_PEER_LIST":
		s.handleRoomPeerList(peer)
	default:
		if peer.Status == StatusInSession {
			s.relayToSessionPeer(peer, line)
		}
	}
	return ""
}

func (s *Server) handleSession(peer *Peer, calleeUID string) {
	s.hub.mu.Lock()
	callee, ok := s.hub.peers[calleeUID]
	if !ok {
		s.hub.mu.Unlock()
		peer.WriteText(fmt.Sprintf("ERROR peer '%s' not found", calleeUID))
		return
	}
	if peer.Status != StatusIdle || callee.Status != StatusIdle {
		s.hub.mu.Unlock()
		peer.WriteText(fmt.Sprintf("ERROR peer '%s' busy", calleeUID))
		return
	}

	peer.Status = StatusInSession
	callee.Status = StatusInSession
	s.hub.sessionOf[peer.UID] = callee.UID
	s.hub.sessionOf[callee.UID] = peer.UID
	calleeMeta := callee.Meta
	s.hub.mu.Unlock()

	if calleeMeta != "" {
		peer.WriteText(fmt.Sprintf("SESSION_OK %s", calleeMeta))
	} else {
		peer.WriteText("SESSION_OK")
	}
	log.Info("session paired", "a", peer.UID, "b", callee.UID)
}

func isValidRoomID(id string) bool {
	if id == "" || id == "session" {
		return false
	}
	return len(strings.Fields(id)) == 1 && strings.TrimSpace(id) == id
}

func (s *Server) handleRoomJoin(peer *Peer, roomID string) {
	if !isValidRoomID(roomID) {
		peer.WriteText(fmt.Sprintf("ERROR invalid room id '%s'", roomID))
		return
	}

	s.hub.mu.Lock()
	room, ok := s.hub.rooms[roomID]
	if !ok {
		room = &Room{ID: roomID, Members: make(map[string]struct{})}
		s.hub.rooms[roomID] = room
	}
	existing := make([]string, 0, len(room.Members))
	for uid := range room.Members {
		existing = append(existing, uid)
	}
	room.Members[peer.UID] = struct{}{}
	peer.RoomID = roomID
	peer.Status = StatusInRoom
	s.hub.mu.Unlock()

	peer.WriteText(fmt.Sprintf("ROOM_OK %s", strings.Join(existing, " ")))

	s.hub.mu.Lock()
	members := make([]*Peer, 0, len(existing))
	for _, uid := range existing {
		if p, ok := s.hub.peers[uid]; ok {
			members = append(members, p)
		}
	}
	s.hub.mu.Unlock()

	for _, p := range members {
		p.WriteText(fmt.Sprintf("ROOM_PEER_JOINED %s", peer.UID))
	}
}

func (s *Server) handleRoomPeerMsg(peer *Peer, otherUID, payload string) {
	s.hub.mu.Lock()
	room, ok := s.hub.rooms[peer.RoomID]
	if !ok {
		s.hub.mu.Unlock()
		return
	}
	if _, inRoom := room.Members[otherUID]; !inRoom {
		s.hub.mu.Unlock()
		return
	}
	other, ok := s.hub.peers[otherUID]
	s.hub.mu.Unlock()
	if !ok {
		return
	}
	other.WriteText(fmt.Sprintf("ROOM_PEER_MSG %s %s", peer.UID, payload))
}

func (s *Server) handleRoomPeerList(peer *Peer) {
	s.hub.mu.Lock()
	room, ok := s.hub.rooms[peer.RoomID]
	var others []string
	if ok {
		for uid := range room.Members {
			if uid != peer.UID {
				others = append(others, uid)
			}
		}
	}
	s.hub.mu.Unlock()
	peer.WriteText(fmt.Sprintf("ROOM_PEER_LIST %s", strings.Join(others, " ")))
}

func (s *Server) relayToSessionPeer(peer *Peer, line string) {
	s.hub.mu.Lock()
	otherUID, ok := s.hub.sessionOf[peer.UID]
	var other *Peer
	if ok {
		other = s.hub.peers[otherUID]
	}
	s.hub.mu.Unlock()
	if other == nil {
		return
	}
	other.WriteText(line)
}

// cleanupPeer tears down session/room membership for a disconnected peer,
// per spec §4.3 failure semantics: breaks the paired peer's connection and
// broadcasts ROOM_PEER_LEFT to remaining room members.
func (s *Server) cleanupPeer(peer *Peer) {
	s.hub.mu.Lock()
	delete(s.hub.peers, peer.UID)

	var partner *Peer
	if otherUID, ok := s.hub.sessionOf[peer.UID]; ok {
		delete(s.hub.sessionOf, peer.UID)
		delete(s.hub.sessionOf, otherUID)
		partner = s.hub.peers[otherUID]
	}

	var roomMembers []*Peer
	if peer.RoomID != "" {
		if room, ok := s.hub.rooms[peer.RoomID]; ok {
			delete(room.Members, peer.UID)
			for uid := range room.Members {
				if p, ok := s.hub.peers[uid]; ok {
					roomMembers = append(roomMembers, p)
				}
			}
			if len(room.Members) == 0 {
				delete(s.hub.rooms, peer.RoomID)
			}
		}
	}
	s.hub.mu.Unlock()

	if partner != nil {
		partner.Conn.Close()
	}
	for _, p := range roomMembers {
		p.WriteText(fmt.Sprintf("ROOM_PEER_LEFT %s", peer.UID))
	}

	log.Info("peer disconnected", "uid", peer.UID)
}

// fileCache is a TTL cache memoizing static file bytes (no LRU eviction).
type fileCache struct {
	ttl time.Duration
	mu  sync.Mutex
	m   map[string]cacheEntry
}

type cacheEntry struct {
	body    []byte
	fetched time.Time
}

func newFileCache(ttl time.Duration) *fileCache {
	return &fileCache{ttl: ttl, m: make(map[string]cacheEntry)}
}

func (c *fileCache) Get(path string) ([]byte, error) {
	c.mu.Lock()
	entry, ok := c.m[path]
	c.mu.Unlock()
	if ok && time.Since(entry.fetched) < c.ttl {
		return entry.body, nil
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.m[path] = cacheEntry{body: body, fetched: time.Now()}
	c.mu.Unlock()
	return body, nil
}


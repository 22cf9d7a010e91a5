package signaling

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsOnlyHandler exposes the server's /ws upgrade handler directly, so tests
// can run against httptest.Server without going through Start()'s listener.
func wsOnlyHandler(s *Server) http.Handler {
	return http.HandlerFunc(s.handleWS)
}

func TestSessionPairingScenario(t *testing.T) {
	s := New(Config{KeepaliveTimeout: 5 * time.Second})
	srv := httptest.NewServer(wsOnlyHandler(s))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	connA, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial A: %v", err)
	}
	defer connA.Close()
	connA.WriteMessage(websocket.TextMessage, []byte("HELLO A"))
	readLine(t, connA) // HELLO

	connB, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial B: %v", err)
	}
	defer connB.Close()
	connB.WriteMessage(websocket.TextMessage, []byte("HELLO B"))
	readLine(t, connB) // HELLO

	connA.WriteMessage(websocket.TextMessage, []byte("SESSION B"))
	reply := readLine(t, connA)
	if !strings.HasPrefix(reply, "SESSION_OK") {
		t.Fatalf("expected SESSION_OK, got %q", reply)
	}

	connA.WriteMessage(websocket.TextMessage, []byte("hello from A"))
	relayed := readLine(t, connB)
	if relayed != "hello from A" {
		t.Fatalf("expected relay, got %q", relayed)
	}

	connA.Close()
	connB.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := connB.ReadMessage(); err == nil {
		t.Fatal("expected B's socket to be closed when A disconnects")
	}
}

func TestSessionNotFound(t *testing.T) {
	s := New(Config{KeepaliveTimeout: 5 * time.Second})
	srv := httptest.NewServer(wsOnlyHandler(s))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.WriteMessage(websocket.TextMessage, []byte("HELLO A"))
	readLine(t, conn)

	conn.WriteMessage(websocket.TextMessage, []byte("SESSION ghost"))
	reply := readLine(t, conn)
	if !strings.Contains(reply, "not found") {
		t.Fatalf("expected not found error, got %q", reply)
	}
}

func TestRoomJoinAndBroadcast(t *testing.T) {
	s := New(Config{KeepaliveTimeout: 5 * time.Second})
	srv := httptest.NewServer(wsOnlyHandler(s))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	connA, _, _ := websocket.DefaultDialer.Dial(wsURL, nil)
	defer connA.Close()
	connA.WriteMessage(websocket.TextMessage, []byte("HELLO A"))
	readLine(t, connA)
	connA.WriteMessage(websocket.TextMessage, []byte("ROOM lobby"))
	okLine := readLine(t, connA)
	if !strings.HasPrefix(okLine, "ROOM_OK") {
		t.Fatalf("expected ROOM_OK, got %q", okLine)
	}

	connB, _, _ := websocket.DefaultDialer.Dial(wsURL, nil)
	defer connB.Close()
	connB.WriteMessage(websocket.TextMessage, []byte("HELLO B"))
	readLine(t, connB)
	connB.WriteMessage(websocket.TextMessage, []byte("ROOM lobby"))
	readLine(t, connB)

	joined := readLine(t, connA)
	if joined != "ROOM_PEER_JOINED B" {
		t.Fatalf("expected ROOM_PEER_JOINED B, got %q", joined)
	}
}

func TestHelloRejectsDuplicateUID(t *testing.T) {
	s := New(Config{KeepaliveTimeout: 5 * time.Second})
	srv := httptest.NewServer(wsOnlyHandler(s))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	connA, _, _ := websocket.DefaultDialer.Dial(wsURL, nil)
	defer connA.Close()
	connA.WriteMessage(websocket.TextMessage, []byte("HELLO dup"))
	readLine(t, connA)

	connB, _, _ := websocket.DefaultDialer.Dial(wsURL, nil)
	defer connB.Close()
	connB.WriteMessage(websocket.TextMessage, []byte("HELLO dup"))
	connB.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := connB.ReadMessage()
	if err == nil {
		t.Fatal("expected close on duplicate uid")
	}
}

func readLine(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

package input

import (
	"net"
	"testing"
	"time"
)

func TestStuckModifierKeysymsIncludesEscapeAndFM(t *testing.T) {
	want := map[int]bool{0xff1b: false, 'f': false, 'F': false, 'm': false, 'M': false}
	for _, sym := range stuckModifierKeysyms {
		if _, ok := want[sym]; ok {
			want[sym] = true
		}
	}
	for sym, found := range want {
		if !found {
			t.Fatalf("expected keysym %#x in stuck-key list", sym)
		}
	}
}

func TestRobotgoButtonName(t *testing.T) {
	cases := map[int]string{1: "left", 2: "center", 3: "right"}
	for btn, want := range cases {
		if got := robotgoButtonName(btn); got != want {
			t.Fatalf("button %d: got %q want %q", btn, got, want)
		}
	}
}

func TestBrokeredInjectorEncodesMoveRelative(t *testing.T) {
	dir := t.TempDir()
	sockPath := dir + "/uinput.sock"

	serverAddr := &net.UnixAddr{Name: sockPath, Net: "unixgram"}
	serverConn, err := net.ListenUnixgram("unixgram", serverAddr)
	if err != nil {
		t.Fatal(err)
	}
	defer serverConn.Close()

	inj, err := NewBrokeredInjector(sockPath)
	if err != nil {
		t.Fatal(err)
	}
	defer inj.Close()

	if err := inj.MoveRelative(5, -3); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 64)
	serverConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := serverConn.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n < 2 || buf[0] != brokerMoveRelative {
		t.Fatalf("unexpected broker payload: %v", buf[:n])
	}
}

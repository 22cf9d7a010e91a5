package gamepad

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempSocketPaths(t *testing.T) (jsPath, evPath string) {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "js.sock"), filepath.Join(dir, "ev.sock")
}

func TestDeviceHandshakeAndBroadcast(t *testing.T) {
	jsPath, evPath := tempSocketPaths(t)
	cfg := NewGamepadConfig("Test Pad", 8, 11)
	dev, err := NewDevice(0, cfg, jsPath, evPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.Start(); err != nil {
		t.Fatal(err)
	}
	defer dev.Stop()

	conn, err := net.Dial("unix", jsPath)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	record := make([]byte, ConfigRecordSize)
	if _, err := readFull(conn, record); err != nil {
		t.Fatalf("reading config record: %v", err)
	}
	if _, err := conn.Write([]byte{4}); err != nil {
		t.Fatalf("writing word size: %v", err)
	}

	// give the handshake goroutine time to register the client
	time.Sleep(50 * time.Millisecond)

	dev.SendButton(6, 1.0) // scenario 3: trigger -> axis 2 event, not a button

	buf := make([]byte, 8)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readFull(conn, buf); err != nil {
		t.Fatalf("reading js event: %v", err)
	}
	if buf[6] != JSEventAxis || buf[7] != 2 {
		t.Fatalf("expected axis event on axis 2, got type=%d number=%d", buf[6], buf[7])
	}
}

func TestServerCreateAndDestroyDevice(t *testing.T) {
	dir := t.TempDir()
	srv := NewServer(filepath.Join(dir, "js%d.sock"), filepath.Join(dir, "ev%d.sock"))

	dev, err := srv.CreateDevice(0, "Pad 0", 8, 11)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := srv.Device(0); !ok {
		t.Fatal("expected device 0 to be registered")
	}

	srv.DestroyDevice(0)
	if _, ok := srv.Device(0); ok {
		t.Fatal("expected device 0 to be removed")
	}
	if _, err := os.Stat(dev.jsPath); err == nil {
		t.Fatal("expected js socket path to be unlinked")
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

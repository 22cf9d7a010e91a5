// Package clipboard implements ClipboardBridge: outbound polling of the X
// selection via an external CLI and inbound base64 payload writes, per spec
// §4.10. Reworked from the teacher's Provider interface shape
// (internal/remote/clipboard/clipboard_proxy.go), which delegated to a user
// helper over IPC, onto direct CLI shelling — this component has no
// separate user-session process to broker through.
package clipboard

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/breeze-rmm/selkies-agent/internal/logging"
)

var log = logging.L("clipboard")

const (
	pollInterval = 500 * time.Millisecond
	cliTimeout   = 3 * time.Second
)

// Policy controls which direction(s) the bridge is active for.
type Policy string

const (
	PolicyOut  Policy = "out"
	PolicyIn   Policy = "in"
	PolicyBoth Policy = "true"
)

func (p Policy) outbound() bool { return p == PolicyOut || p == PolicyBoth }
func (p Policy) inbound() bool  { return p == PolicyIn || p == PolicyBoth }

// Bridge polls the X selection for outbound changes and accepts inbound
// writes, each side gated by Policy.
type Bridge struct {
	Policy Policy

	readCmd  []string // CLI invocation that prints the current selection to stdout
	writeCmd []string // CLI invocation that reads the new selection from stdin

	mu       sync.Mutex
	lastSeen string

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a bridge. readCmd/writeCmd are the external selection CLI
// invocations (e.g. []string{"xclip", "-selection", "clipboard", "-o"} and
// []string{"xclip", "-selection", "clipboard", "-i"}).
func New(policy Policy, readCmd, writeCmd []string) *Bridge {
	return &Bridge{
		Policy:   policy,
		readCmd:  readCmd,
		writeCmd: writeCmd,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the outbound poll loop (if the policy enables it). onChange
// is invoked with the new selection text whenever it differs from the last
// observed value.
func (b *Bridge) Start(onChange func(string)) {
	if !b.Policy.outbound() {
		return
	}
	b.wg.Add(1)
	go b.pollLoop(onChange)
}

// Stop ends the poll loop.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
}

func (b *Bridge) pollLoop(onChange func(string)) {
	defer b.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			text, err := b.readSelection()
			if err != nil {
				log.Warn("clipboard read failed", "error", err)
				continue
			}

			b.mu.Lock()
			changed := text != b.lastSeen
			b.lastSeen = text
			b.mu.Unlock()

			if changed {
				onChange(text)
			}
		}
	}
}

// ReadNow performs an immediate out-of-cycle read of the X selection for the
// `cr` data-channel command, honoring the outbound policy gate the same way
// the poll loop does. Returns ok=false when the outbound policy is disabled.
func (b *Bridge) ReadNow() (text string, ok bool, err error) {
	if !b.Policy.outbound() {
		return "", false, nil
	}
	text, err = b.readSelection()
	if err != nil {
		return "", true, err
	}
	b.mu.Lock()
	b.lastSeen = text
	b.mu.Unlock()
	return text, true, nil
}

func (b *Bridge) readSelection() (string, error) {
	if len(b.readCmd) == 0 {
		return "", fmt.Errorf("clipboard: no read command configured")
	}
	ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.readCmd[0], b.readCmd[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("clipboard: read cli: %w", err)
	}
	return out.String(), nil
}

// HandleInbound decodes a `cw,<b64>` message body and writes it to the X
// selection, if the inbound policy is enabled (spec §4.10). b64 is the
// payload after the `cw,` prefix has been stripped by the caller.
func (b *Bridge) HandleInbound(b64 string) error {
	if !b.Policy.inbound() {
		return nil
	}
	if len(b.writeCmd) == 0 {
		return fmt.Errorf("clipboard: no write command configured")
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return fmt.Errorf("clipboard: decode inbound payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.writeCmd[0], b.writeCmd[1:]...)
	cmd.Stdin = bytes.NewReader(decoded)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("clipboard: write cli: %w", err)
	}
	return nil
}

package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Sink receives refreshed RTC configurations from any monitor variant.
// Mirrors the shared `{start(), stop(), on_rtc_config(...)}` contract in
// spec §4.2: monitors push, the orchestrator wires the sink.
type Sink interface {
	OnRtcConfig(stunURIs, turnURIs []string, raw RtcConfig)
}

// HMACMonitor regenerates credentials via GenerateCredential every period.
type HMACMonitor struct {
	Host     string
	Port     int
	Secret   string
	User     string
	Protocol Protocol
	TLS      bool
	Period   time.Duration

	sink   Sink
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHMACMonitor constructs an HMAC-periodic monitor. Period defaults to 60s.
func NewHMACMonitor(host string, port int, secret, user string, protocol Protocol, tls bool, period time.Duration, sink Sink) *HMACMonitor {
	if period <= 0 {
		period = 60 * time.Second
	}
	return &HMACMonitor{Host: host, Port: port, Secret: secret, User: user, Protocol: protocol, TLS: tls, Period: period, sink: sink}
}

func (m *HMACMonitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.Period)
		defer ticker.Stop()

		m.tick()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.tick()
			}
		}
	}()
}

func (m *HMACMonitor) tick() {
	cfg := MakeRtcConfig(m.Host, m.Port, m.Secret, m.User, m.Protocol, m.TLS)
	raw, err := json.Marshal(cfg)
	if err != nil {
		log.Warn("hmac monitor: marshal failed", "error", err)
		return
	}
	stunURIs, turnURIs, parsed, err := ParseRtcConfig(raw)
	if err != nil {
		log.Warn("hmac monitor: parse failed", "error", err)
		return
	}
	m.sink.OnRtcConfig(stunURIs, turnURIs, parsed)
}

func (m *HMACMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

// RESTMonitor issues a periodic HTTP GET against a TURN REST credential
// service and re-parses the response as an RtcConfig.
type RESTMonitor struct {
	URI              string
	AuthUserHeader   string
	User             string
	ProtocolHeader   string
	Protocol         Protocol
	TLSHeader        string
	TLS              bool
	Period           time.Duration
	Client           *http.Client

	sink   Sink
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRESTMonitor constructs a REST-periodic monitor. Period defaults to 60s.
func NewRESTMonitor(uri, authUserHeader, user, protocolHeader string, protocol Protocol, tlsHeader string, tls bool, period time.Duration, sink Sink) *RESTMonitor {
	if period <= 0 {
		period = 60 * time.Second
	}
	return &RESTMonitor{
		URI: uri, AuthUserHeader: authUserHeader, User: user,
		ProtocolHeader: protocolHeader, Protocol: protocol,
		TLSHeader: tlsHeader, TLS: tls, Period: period,
		Client: &http.Client{Timeout: 10 * time.Second}, sink: sink,
	}
}

func (m *RESTMonitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.Period)
		defer ticker.Stop()

		m.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.tick(ctx)
			}
		}
	}()
}

func (m *RESTMonitor) tick(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.URI, nil)
	if err != nil {
		log.Warn("rest monitor: build request failed", "error", err)
		return
	}
	if m.AuthUserHeader != "" {
		req.Header.Set(m.AuthUserHeader, m.User)
	}
	if m.ProtocolHeader != "" {
		req.Header.Set(m.ProtocolHeader, string(m.Protocol))
	}
	if m.TLSHeader != "" {
		req.Header.Set(m.TLSHeader, fmt.Sprintf("%t", m.TLS))
	}

	resp, err := m.Client.Do(req)
	if err != nil {
		log.Warn("rest monitor: request failed", "error", err)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Warn("rest monitor: read body failed", "error", err)
		return
	}
	if resp.StatusCode >= 500 {
		log.Warn("rest monitor: server error", "status", resp.StatusCode)
		return
	}

	stunURIs, turnURIs, parsed, err := ParseRtcConfig(body)
	if err != nil {
		log.Warn("rest monitor: parse failed", "error", err)
		return
	}
	m.sink.OnRtcConfig(stunURIs, turnURIs, parsed)
}

func (m *RESTMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

// FileMonitor watches a single RTC config file for fsnotify Write and Create
// events (it does not watch for close events) and re-reads/re-parses it on
// each one, falling back to a periodic stat poll if
// the native watch primitive cannot be established.
type FileMonitor struct {
	Path string

	sink    Sink
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewFileMonitor(path string, sink Sink) *FileMonitor {
	return &FileMonitor{Path: path, sink: sink}
}

func (m *FileMonitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	m.readAndDispatch()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("file monitor: falling back to stat polling", "error", err)
		go m.pollLoop(ctx)
		return
	}
	m.watcher = watcher
	if err := watcher.Add(m.Path); err != nil {
		log.Warn("file monitor: watch add failed, falling back to polling", "error", err)
		watcher.Close()
		m.watcher = nil
		go m.pollLoop(ctx)
		return
	}

	go func() {
		defer close(m.done)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					m.readAndDispatch()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("file monitor: watch error", "error", err)
			}
		}
	}()
}

func (m *FileMonitor) pollLoop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var lastMod time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(m.Path)
			if err != nil {
				continue
			}
			if info.ModTime().After(lastMod) {
				lastMod = info.ModTime()
				m.readAndDispatch()
			}
		}
	}
}

func (m *FileMonitor) readAndDispatch() {
	data, err := os.ReadFile(m.Path)
	if err != nil {
		log.Warn("file monitor: read failed", "error", err)
		return
	}
	stunURIs, turnURIs, parsed, err := ParseRtcConfig(data)
	if err != nil {
		log.Warn("file monitor: parse failed", "error", err)
		return
	}
	m.sink.OnRtcConfig(stunURIs, turnURIs, parsed)
}

func (m *FileMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

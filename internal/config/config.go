package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/breeze-rmm/selkies-agent/internal/logging"
)

var log = logging.L("config")

// Config covers every CLI flag / env var named in the external interface
// (SELKIES_<UPPER_SNAKE> env vars, cobra flags, viper keys all share the
// mapstructure tag below).
type Config struct {
	Framerate        int     `mapstructure:"framerate"`
	VideoBitrate     int     `mapstructure:"video_bitrate"`
	AudioBitrate     int     `mapstructure:"audio_bitrate"`
	Encoder          string  `mapstructure:"encoder"`
	GPUID            int     `mapstructure:"gpu_id"`
	KeyframeDistance float64 `mapstructure:"keyframe_distance"`
	EnableAudio      bool    `mapstructure:"enable_audio"`
	EnableResize     bool    `mapstructure:"enable_resize"`

	Width         int `mapstructure:"width"`
	Height        int `mapstructure:"height"`
	AudioChannels int `mapstructure:"audio_channels"`

	VideoPacketLossPct float64 `mapstructure:"video_packet_loss_pct"`
	AudioPacketLossPct float64 `mapstructure:"audio_packet_loss_pct"`
	CongestionControl  bool    `mapstructure:"congestion_control"`

	// ClipboardPolicy selects ClipboardBridge's direction(s): "out", "in", or
	// "true" (both). ClipboardReadCmd/WriteCmd are the external selection CLI
	// invocations it shells out to.
	ClipboardPolicy   string   `mapstructure:"clipboard_policy"`
	ClipboardReadCmd  []string `mapstructure:"clipboard_read_cmd"`
	ClipboardWriteCmd []string `mapstructure:"clipboard_write_cmd"`

	// CursorWidth/CursorHeight resize the captured cursor image before
	// encoding; 0 leaves it at its native size (spec §4.9).
	CursorWidth  int `mapstructure:"cursor_width"`
	CursorHeight int `mapstructure:"cursor_height"`

	TurnHost         string `mapstructure:"turn_host"`
	TurnPort         int    `mapstructure:"turn_port"`
	TurnSharedSecret string `mapstructure:"turn_shared_secret"`
	TurnUsername     string `mapstructure:"turn_username"`
	TurnProtocol     string `mapstructure:"turn_protocol"`
	TurnTLS          bool   `mapstructure:"turn_tls"`

	StunHost string `mapstructure:"stun_host"`
	StunPort int    `mapstructure:"stun_port"`

	SignalingHost    string `mapstructure:"signaling_host"`
	SignalingPort    int    `mapstructure:"signaling_port"`
	SignalingWebRoot string `mapstructure:"signaling_web_root"`
	SignalingTLSCert string `mapstructure:"signaling_tls_cert"`
	SignalingTLSKey  string `mapstructure:"signaling_tls_key"`

	BasicAuthUser     string `mapstructure:"basic_auth_user"`
	BasicAuthPassword string `mapstructure:"basic_auth_password"`

	// BrokeredInput selects InputInjector's Brokered mode (UDS datagram to a
	// uinput proxy at UinputSocketPath) instead of Direct in-process X11/
	// XTest calls (spec §4.8).
	BrokeredInput    bool   `mapstructure:"brokered_input"`
	UinputSocketPath string `mapstructure:"uinput_socket_path"`
	JSSocketPath     string `mapstructure:"js_socket_path"`
	EVSocketPath     string `mapstructure:"ev_socket_path"`

	// JSONConfig is the path to a JSON overlay file, re-applied on change
	// via fsnotify without restart (spec §6).
	JSONConfig string `mapstructure:"json_config"`

	// Logging configuration, in the teacher's ambient-stack style.
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`
}

func Default() *Config {
	return &Config{
		Framerate:        30,
		VideoBitrate:     8000,
		AudioBitrate:     128,
		Encoder:          "x264enc",
		GPUID:            0,
		KeyframeDistance: 2.0,
		EnableAudio:      true,
		EnableResize:     true,

		Width:         1920,
		Height:        1080,
		AudioChannels: 2,

		ClipboardPolicy:   "true",
		ClipboardReadCmd:  []string{"xclip", "-selection", "clipboard", "-o"},
		ClipboardWriteCmd: []string{"xclip", "-selection", "clipboard", "-i"},

		TurnProtocol: "udp",

		StunPort: 3478,

		SignalingHost:    "0.0.0.0",
		SignalingPort:    8080,
		SignalingWebRoot: "/opt/selkies/www",

		UinputSocketPath: "/tmp/selkies_uinput.sock",
		JSSocketPath:     "/tmp/selkies_js%d.sock",
		EVSocketPath:     "/tmp/selkies_event%d.sock",

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads configuration from a file (if cfgFile is given, or the default
// search path otherwise), overlays environment variables under the
// SELKIES_ prefix, applies a JSON overlay file if configured, and runs
// tiered validation. Fatal errors block startup; warnings are logged and
// the (possibly clamped) config is returned.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("selkies-agent")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SELKIES")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if cfg.JSONConfig != "" {
		if err := cfg.applyOverlayFile(cfg.JSONConfig); err != nil {
			log.Warn("json config overlay", "path", cfg.JSONConfig, "error", err)
		}
	}

	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %w", result.Fatals[0])
	}

	return cfg, nil
}

// WatchOverlay re-applies the JSON overlay file whenever it changes on
// disk, without requiring a process restart (spec §6). The caller owns the
// returned watcher's lifetime and should Close it on shutdown.
func (c *Config) WatchOverlay(onChange func(*Config)) (*fsnotify.Watcher, error) {
	if c.JSONConfig == "" {
		return nil, nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(c.JSONConfig)); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(c.JSONConfig) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := c.applyOverlayFile(c.JSONConfig); err != nil {
					log.Warn("json config overlay reload", "error", err)
					continue
				}
				if onChange != nil {
					onChange(c)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("json config overlay watch", "error", err)
			}
		}
	}()

	return watcher, nil
}

// overlayDoc mirrors the subset of keys the JSON overlay is allowed to
// touch (spec §6).
type overlayDoc struct {
	Framerate    *json.Number `json:"framerate"`
	VideoBitrate *json.Number `json:"video_bitrate"`
	AudioBitrate *json.Number `json:"audio_bitrate"`
	EnableAudio  *rawBool     `json:"enable_audio"`
	EnableResize *rawBool     `json:"enable_resize"`
	Encoder      *string      `json:"encoder"`
}

func (c *Config) applyOverlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.ApplyOverlay(data)
}

// ApplyOverlay unmarshals a JSON overlay document and overrides only the
// keys it contains. Deliberately assigns the overlay's "encoder" key to
// Config.Encoder (the distilled source this was built from had a typo,
// self.ecoder, that silently dropped this override — not reproduced here).
func (c *Config) ApplyOverlay(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc overlayDoc
	if err := dec.Decode(&doc); err != nil {
		return err
	}

	if doc.Framerate != nil {
		if v, err := doc.Framerate.Int64(); err == nil {
			c.Framerate = int(v)
		}
	}
	if doc.VideoBitrate != nil {
		if v, err := doc.VideoBitrate.Int64(); err == nil {
			c.VideoBitrate = int(v)
		}
	}
	if doc.AudioBitrate != nil {
		if v, err := doc.AudioBitrate.Int64(); err == nil {
			c.AudioBitrate = int(v)
		}
	}
	if doc.EnableAudio != nil {
		c.EnableAudio = doc.EnableAudio.value
	}
	if doc.EnableResize != nil {
		c.EnableResize = doc.EnableResize.value
	}
	if doc.Encoder != nil {
		c.Encoder = *doc.Encoder
	}

	return nil
}

// rawBool coerces "true"/"false"/"1"/"0" strings as well as JSON booleans,
// matching the loosely-typed overlay payloads the web client sends.
type rawBool struct {
	value bool
}

func (b *rawBool) UnmarshalJSON(data []byte) error {
	var asBool bool
	if err := json.Unmarshal(data, &asBool); err == nil {
		b.value = asBool
		return nil
	}
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		switch asString {
		case "true", "1":
			b.value = true
		case "false", "0":
			b.value = false
		default:
			return fmt.Errorf("rawBool: cannot parse %q as bool", asString)
		}
		return nil
	}
	return fmt.Errorf("rawBool: unsupported JSON value %s", data)
}

// GetDataDir returns the platform-specific data directory for the agent.
func GetDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Selkies", "data")
	case "darwin":
		return "/Library/Application Support/Selkies/data"
	default:
		return "/var/lib/selkies-agent"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Selkies")
	case "darwin":
		return "/Library/Application Support/Selkies"
	default:
		return "/etc/selkies-agent"
	}
}

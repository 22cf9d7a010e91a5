package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/selkies-agent/internal/config"
	"github.com/breeze-rmm/selkies-agent/internal/logging"
	"github.com/breeze-rmm/selkies-agent/internal/orchestrator"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "selkies-agent",
	Short: "Selkies desktop streaming agent",
	Long:  "selkies-agent exposes a Linux desktop session as an interactive WebRTC stream.",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the agent",
	Run: func(cmd *cobra.Command, args []string) {
		runAgent()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("selkies-agent v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default /etc/selkies-agent/selkies-agent.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogging sets up structured logging from config. Call after
// config.Load(). Grounded on the teacher's initLogging, trimmed: LogFile is
// opened in plain append mode (logging.RotatingWriter is not used here) and
// there is no log shipper.
func initLogging(cfg *config.Config) {
	var output *os.File = os.Stdout
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
		} else {
			output = f
		}
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")
}

// pingInterval paces the outbound `ping`/`pong` round-trip latency probe
// (spec §4.6's `pong` handler expects a prior `ping`).
const pingInterval = 3 * time.Second

func runAgent() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	initLogging(cfg)

	log.Info("starting selkies-agent",
		"version", version,
		"signalingAddr", fmt.Sprintf("%s:%d", cfg.SignalingHost, cfg.SignalingPort),
		"encoder", cfg.Encoder,
	)

	orch, err := orchestrator.New(cfg)
	if err != nil {
		log.Error("failed to build orchestrator", "error", err)
		os.Exit(1)
	}

	if err := orch.Start(); err != nil {
		log.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	pingStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingStop:
				return
			case <-ticker.C:
				orch.SendPing()
			}
		}
	}()

	log.Info("selkies-agent is running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down selkies-agent")
	close(pingStop)
	orch.Stop()
	log.Info("selkies-agent stopped")
}

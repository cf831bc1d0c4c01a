// ABOUTME: Root command, global flags and shared configuration
// ABOUTME: Loads the YAML config and sets up logging before any subcommand runs
package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/config"
	"github.com/Resonate-Protocol/resonate-transcoder/internal/log"
	"github.com/Resonate-Protocol/resonate-transcoder/internal/version"
)

var (
	// Global flags
	cfgFile  string
	logLevel string
	logFile  string
	useTUI   bool

	// Global configuration
	globalConfig *config.Config
	logCloser    io.Closer
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "transcoder",
	Short: "Decode, convert, encode and capture audio",
	Long: `transcoder converts audio between WAV, FLAC, Ogg Opus, Ogg Vorbis,
MP3 and headerless RAW PCM, records from capture devices and accepts
remote capture streams over WebSocket and RTP.

Inputs may be local paths, http(s) URLs or s3://bucket/key objects.
Outputs may be local paths or s3:// objects.

Configuration is read from transcoder.yaml (or --config) and overridden
by TRANSCODER_* environment variables, then by flags.

Examples:
  transcoder probe song.flac
  transcoder transcode song.flac song.opus --quality 60
  transcoder capture --device speech --vad --out speech.wav
  transcoder serve --rtp-port 5004 --tui`,
	Version:           version.Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

// Execute adds all child commands to the root command and runs it. SIGINT
// and SIGTERM cancel the command's context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./"+config.DefaultPath+" when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&useTUI, "tui", false, "show an interactive progress view")

	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(transcodeCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(versionCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFile != "" {
		cfg.Log.File = logFile
	}

	level, ok := log.ParseLevel(cfg.Log.Level)
	if !ok {
		return fmt.Errorf("unknown log level %q", cfg.Log.Level)
	}
	log.SetLevel(level)

	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("error opening log file: %w", err)
		}
		// The TUI owns the terminal, so logs only go to the file then.
		if useTUI {
			log.SetOutput(f)
		} else {
			log.SetOutput(io.MultiWriter(os.Stderr, f))
		}
		logCloser = f
	} else if useTUI {
		log.SetOutput(io.Discard)
	}

	globalConfig = cfg
	return nil
}

// getConfig returns the global configuration
func getConfig() *config.Config {
	return globalConfig
}

// Command agent runs a realtime voice conversation against the microphone
// and speakers.
//
// Usage:
//
//	agent [flags]
//
// Configuration is read from config.yml, then .env and the environment
// (OPENAI_API_KEY, REALTIME_URL, REALTIME_MODEL), then flags.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lokutor-ai/lokutor-realtime/pkg/orchestrator"
	"github.com/lokutor-ai/lokutor-realtime/pkg/providers/device"
	"github.com/lokutor-ai/lokutor-realtime/pkg/providers/transport"
)

var (
	configFile      string
	apiKey          string
	endpoint        string
	instructions    string
	voice           string
	outputDir       string
	threshold       float64
	echoSuppression bool
	verbose         bool
)

var rootCmd = &cobra.Command{
	Use:   "agent",
	Short: "Realtime voice assistant",
	Long: `Talk to a realtime assistant through your microphone and speakers.

Speech is detected locally, sent as one utterance per turn, and the
spoken reply is played back. Talking over the assistant interrupts it.

Example config file (config.yml):
  openai:
    api_key: sk-...
  vad:
    threshold: 0.02
    silence_duration: 1s
  response:
    voice: sage
  output_dir: transcripts`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configFile)
		if err != nil {
			return err
		}
		if err := applyFlags(cmd, cfg); err != nil {
			return err
		}
		if cfg.APIKey == "" {
			return errors.New("OPENAI_API_KEY must be set (environment, .env or openai.api_key in config)")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return run(ctx, cfg)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&configFile, "config", "c", "config.yml", "config file")
	f.StringVar(&apiKey, "api-key", "", "realtime API key (overrides config)")
	f.StringVar(&endpoint, "url", "", "realtime endpoint (overrides config)")
	f.StringVarP(&instructions, "instructions", "i", "", "assistant instructions")
	f.StringVar(&voice, "voice", "", "assistant voice (alloy, ash, ballad, coral, echo, sage, shimmer, verse)")
	f.StringVarP(&outputDir, "output-dir", "o", "", "directory for transcript files")
	f.Float64Var(&threshold, "threshold", 0, "speech RMS threshold (0-1)")
	f.BoolVar(&echoSuppression, "echo-suppression", false, "ignore microphone audio that echoes the speaker")
	f.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func applyFlags(cmd *cobra.Command, cfg *agentConfig) error {
	flags := cmd.Flags()
	if flags.Changed("api-key") {
		cfg.APIKey = apiKey
	}
	if flags.Changed("url") {
		cfg.URL = endpoint
	}
	if flags.Changed("instructions") {
		cfg.Session.Instructions = instructions
	}
	if flags.Changed("voice") {
		cfg.Session.Voice = orchestrator.Voice(voice)
	}
	if flags.Changed("output-dir") {
		cfg.OutputDir = outputDir
	}
	if flags.Changed("threshold") {
		if threshold <= 0 || threshold >= 1 {
			return fmt.Errorf("threshold must be between 0 and 1, got %v", threshold)
		}
		cfg.Session.VADThreshold = threshold
	}
	if echoSuppression {
		cfg.Session.EchoSuppression = true
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func run(ctx context.Context, cfg *agentConfig) error {
	logger := newLogger(cfg.LogLevel)
	ui := newConsole(os.Stdout)

	audio, err := device.NewMalgo(logger)
	if err != nil {
		return err
	}
	defer audio.Close()

	dialer := transport.NewWebSocketDialer(cfg.APIKey)
	if cfg.URL != "" {
		dialer.WithURL(cfg.URL)
	}
	if cfg.Model != "" {
		dialer.WithModel(cfg.Model)
	}

	conv := orchestrator.NewConversationWithConfig(dialer, audio, audio, cfg.Session, logger)
	if err := conv.SetVoiceByString(string(cfg.Session.Voice)); err != nil {
		return err
	}
	if cfg.OutputDir != "" {
		if err := conv.SaveTranscriptsTo(cfg.OutputDir); err != nil {
			return err
		}
	}
	conv.OnInterrupt(ui.interrupted)
	conv.OnEvent(ui.event)

	if err := conv.Start(ctx); err != nil {
		return err
	}
	defer conv.Close()

	ui.banner(cfg)
	err = conv.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	fmt.Fprintln(os.Stdout, helpStyle.Render("Shutting down..."))
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error:"), err)
		os.Exit(1)
	}
}

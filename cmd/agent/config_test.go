package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lokutor-ai/lokutor-realtime/pkg/orchestrator"
)

func TestLoadConfig_File(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("REALTIME_URL", "")
	t.Setenv("REALTIME_MODEL", "")
	t.Chdir(t.TempDir())

	path := filepath.Join(t.TempDir(), "config.yml")
	data := `openai:
  api_key: file-key
audio:
  echo_suppression: true
  echo_correlation: 0.7
vad:
  threshold: 0.05
  silence_duration: 1500ms
response:
  voice: coral
  max_tokens: 256
output_dir: transcripts
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIKey != "file-key" {
		t.Errorf("Expected api key from file, got %q", cfg.APIKey)
	}
	if !cfg.Session.EchoSuppression || cfg.Session.EchoCorrelation != 0.7 {
		t.Errorf("Expected echo suppression at 0.7, got %v / %f", cfg.Session.EchoSuppression, cfg.Session.EchoCorrelation)
	}
	if cfg.Session.VADThreshold != 0.05 {
		t.Errorf("Expected threshold 0.05, got %f", cfg.Session.VADThreshold)
	}
	if cfg.Session.SilenceDuration != 1500*time.Millisecond {
		t.Errorf("Expected silence 1.5s, got %v", cfg.Session.SilenceDuration)
	}
	if cfg.Session.Voice != orchestrator.VoiceCoral {
		t.Errorf("Expected voice coral, got %s", cfg.Session.Voice)
	}
	if cfg.Session.MaxOutputTokens != 256 {
		t.Errorf("Expected 256 max tokens, got %d", cfg.Session.MaxOutputTokens)
	}
	if cfg.OutputDir != "transcripts" {
		t.Errorf("Expected output dir from file, got %q", cfg.OutputDir)
	}

	defaults := orchestrator.DefaultConfig()
	if cfg.Session.MinSpeechDuration != defaults.MinSpeechDuration {
		t.Errorf("Expected unset fields to keep defaults, got min speech %v", cfg.Session.MinSpeechDuration)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("openai:\n  api_key: file-key\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("REALTIME_URL", "ws://localhost:9000")
	t.Setenv("REALTIME_MODEL", "")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIKey != "env-key" {
		t.Errorf("Expected env key to win, got %q", cfg.APIKey)
	}
	if cfg.URL != "ws://localhost:9000" {
		t.Errorf("Expected url from env, got %q", cfg.URL)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.yml"))
	if err != nil {
		t.Fatalf("Expected missing file to be ignored, got %v", err)
	}
	if cfg.Session.VADThreshold != orchestrator.DefaultConfig().VADThreshold {
		t.Errorf("Expected default threshold, got %f", cfg.Session.VADThreshold)
	}
}

func TestLoadConfig_BadYAML(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("openai: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Fatal("Expected parse error")
	}
}

func TestApplyFlags(t *testing.T) {
	cfg := &agentConfig{Session: orchestrator.DefaultConfig(), LogLevel: "info"}
	flags := rootCmd.Flags()
	for name, value := range map[string]string{
		"voice":     "verse",
		"threshold": "0.04",
		"verbose":   "true",
	} {
		if err := flags.Set(name, value); err != nil {
			t.Fatal(err)
		}
	}
	t.Cleanup(func() {
		verbose = false
		voice = ""
		threshold = 0
	})

	if err := applyFlags(rootCmd, cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Session.Voice != orchestrator.VoiceVerse {
		t.Errorf("Expected voice verse, got %s", cfg.Session.Voice)
	}
	if cfg.Session.VADThreshold != 0.04 {
		t.Errorf("Expected threshold 0.04, got %f", cfg.Session.VADThreshold)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected debug log level, got %s", cfg.LogLevel)
	}

	threshold = 1.5
	if err := applyFlags(rootCmd, cfg); err == nil {
		t.Error("Expected out of range threshold to be rejected")
	}
}

package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lokutor-ai/lokutor-realtime/pkg/orchestrator"
)

// fileConfig mirrors config.yml. Zero values leave the defaults in place.
type fileConfig struct {
	OpenAI struct {
		APIKey string `yaml:"api_key"`
		URL    string `yaml:"url"`
		Model  string `yaml:"model"`
	} `yaml:"openai"`

	Audio struct {
		CaptureRate     int     `yaml:"capture_rate"`
		PlaybackRate    int     `yaml:"playback_rate"`
		FrameSize       int     `yaml:"frame_size"`
		EchoSuppression bool    `yaml:"echo_suppression"`
		EchoCorrelation float64 `yaml:"echo_correlation"`
	} `yaml:"audio"`

	VAD struct {
		Threshold          float64       `yaml:"threshold"`
		SilenceDuration    time.Duration `yaml:"silence_duration"`
		MinSpeechDuration  time.Duration `yaml:"min_speech_duration"`
		PreRollDuration    time.Duration `yaml:"pre_roll_duration"`
		EchoGuardThreshold float64       `yaml:"echo_guard_threshold"`
	} `yaml:"vad"`

	Response struct {
		Instructions string  `yaml:"instructions"`
		Voice        string  `yaml:"voice"`
		Temperature  float64 `yaml:"temperature"`
		MaxTokens    int     `yaml:"max_tokens"`
	} `yaml:"response"`

	OutputDir string `yaml:"output_dir"`
	LogLevel  string `yaml:"log_level"`
}

// agentConfig is the resolved configuration for one run.
type agentConfig struct {
	APIKey    string
	URL       string
	Model     string
	OutputDir string
	LogLevel  string
	Session   orchestrator.Config
}

// loadConfig resolves defaults, then the YAML file at path, then .env and
// the process environment. A missing file at path is not an error.
func loadConfig(path string) (*agentConfig, error) {
	cfg := &agentConfig{
		Session:  orchestrator.DefaultConfig(),
		LogLevel: "info",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			var fc fileConfig
			if err := yaml.Unmarshal(data, &fc); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
			cfg.apply(fc)
		}
	}

	// .env never overrides variables already set in the environment
	_ = godotenv.Load()
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("REALTIME_URL"); v != "" {
		cfg.URL = v
	}
	if v := os.Getenv("REALTIME_MODEL"); v != "" {
		cfg.Model = v
	}
	return cfg, nil
}

func (c *agentConfig) apply(fc fileConfig) {
	setString(&c.APIKey, fc.OpenAI.APIKey)
	setString(&c.URL, fc.OpenAI.URL)
	setString(&c.Model, fc.OpenAI.Model)
	setString(&c.OutputDir, fc.OutputDir)
	setString(&c.LogLevel, fc.LogLevel)

	s := &c.Session
	setInt(&s.CaptureSampleRate, fc.Audio.CaptureRate)
	setInt(&s.PlaybackSampleRate, fc.Audio.PlaybackRate)
	setInt(&s.FrameSize, fc.Audio.FrameSize)
	s.EchoSuppression = s.EchoSuppression || fc.Audio.EchoSuppression
	setFloat(&s.EchoCorrelation, fc.Audio.EchoCorrelation)

	setFloat(&s.VADThreshold, fc.VAD.Threshold)
	setFloat(&s.EchoGuardThreshold, fc.VAD.EchoGuardThreshold)
	setDuration(&s.SilenceDuration, fc.VAD.SilenceDuration)
	setDuration(&s.MinSpeechDuration, fc.VAD.MinSpeechDuration)
	setDuration(&s.PreRollDuration, fc.VAD.PreRollDuration)

	setString(&s.Instructions, fc.Response.Instructions)
	if fc.Response.Voice != "" {
		s.Voice = orchestrator.Voice(fc.Response.Voice)
	}
	setFloat(&s.Temperature, fc.Response.Temperature)
	setInt(&s.MaxOutputTokens, fc.Response.MaxTokens)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}

package orchestrator

import (
	"context"
	"time"
)

type Logger interface {
	Debug(msg string, args ...interface{})

	Info(msg string, args ...interface{})

	Warn(msg string, args ...interface{})

	Error(msg string, args ...interface{})
}

type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// Conn is one open duplex event connection to the realtime service.
type Conn interface {
	// ReadEvent blocks until the next inbound message arrives.
	ReadEvent(ctx context.Context) ([]byte, error)
	// WriteEvent encodes v as a JSON message.
	WriteEvent(ctx context.Context, v interface{}) error
	Close() error
}

// Dialer opens connections to the realtime service.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// CaptureDevice delivers fixed-size blocks of normalized mono samples.
// onFrame runs on the device's real-time thread and must not retain frame.
type CaptureDevice interface {
	StartCapture(sampleRate, frameSize int, onFrame func(frame []float32)) error
	StopCapture() error
}

// PlaybackDevice opens output streams that pull fixed-size PCM16 blocks from
// render. render runs on the device's real-time thread.
type PlaybackDevice interface {
	OpenPlayback(sampleRate, frameSize int, render func(out []int16)) (OutputStream, error)
}

// OutputStream is a single open playback stream.
type OutputStream interface {
	Start() error
	Close() error
}

// TranscriptSink persists assistant transcript text. A final write for a
// response supersedes any partial write made for the same response.
type TranscriptSink interface {
	WriteTranscript(responseID, text string, final bool) error
}

type Voice string

const (
	VoiceAlloy   Voice = "alloy"
	VoiceAsh     Voice = "ash"
	VoiceBallad  Voice = "ballad"
	VoiceCoral   Voice = "coral"
	VoiceEcho    Voice = "echo"
	VoiceSage    Voice = "sage"
	VoiceShimmer Voice = "shimmer"
	VoiceVerse   Voice = "verse"
)

type Config struct {
	CaptureSampleRate  int
	PlaybackSampleRate int
	// FrameSize is the number of samples per capture and playback block.
	FrameSize int

	// Voice activity detection
	VADThreshold      float64
	SilenceDuration   time.Duration
	MinSpeechDuration time.Duration
	PreRollDuration   time.Duration
	// EchoGuardThreshold replaces VADThreshold while assistant audio was
	// rendered within EchoGuardWindow. Zero disables the guard.
	EchoGuardThreshold float64
	EchoGuardWindow    time.Duration
	// EchoSuppression ignores capture frames that correlate with recent
	// assistant playback above EchoCorrelation (0-1, lower is more
	// aggressive). Zero keeps the suppressor's default.
	EchoSuppression bool
	EchoCorrelation float64

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	OutboxSize     int

	// Response defaults merged under every response.create
	Instructions      string
	Modalities        []string
	Voice             Voice
	OutputAudioFormat string
	ToolChoice        string
	Temperature       float64
	MaxOutputTokens   int
}

func DefaultConfig() Config {
	return Config{
		CaptureSampleRate:  16000,
		PlaybackSampleRate: 24000,
		FrameSize:          1024,
		VADThreshold:       0.02,
		SilenceDuration:    time.Second,
		MinSpeechDuration:  500 * time.Millisecond,
		PreRollDuration:    500 * time.Millisecond,
		EchoGuardWindow:    250 * time.Millisecond,
		ConnectTimeout:     10 * time.Second,
		WriteTimeout:       10 * time.Second,
		OutboxSize:         256,
		Instructions:       "Please assist the user.",
		Modalities:         []string{"text", "audio"},
		Voice:              VoiceSage,
		OutputAudioFormat:  "pcm16",
		ToolChoice:         "auto",
		Temperature:        0.8,
		MaxOutputTokens:    1024,
	}
}

// RecorderConfig derives the recorder settings from c.
func (c Config) RecorderConfig() RecorderConfig {
	return RecorderConfig{
		SampleRate:         c.CaptureSampleRate,
		FrameSize:          c.FrameSize,
		Threshold:          c.VADThreshold,
		SilenceDuration:    c.SilenceDuration,
		MinSpeechDuration:  c.MinSpeechDuration,
		PreRollDuration:    c.PreRollDuration,
		EchoGuardThreshold: c.EchoGuardThreshold,
		EchoGuardWindow:    c.EchoGuardWindow,
	}
}

// PlayerConfig derives the playback settings from c.
func (c Config) PlayerConfig() PlayerConfig {
	cfg := DefaultPlayerConfig()
	cfg.SampleRate = c.PlaybackSampleRate
	cfg.BlockSize = c.FrameSize
	return cfg
}

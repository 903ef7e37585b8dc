package orchestrator

import (
	"context"
	"fmt"
	"sync"
)

// Conversation is the high level entry point: one voice session wired to a
// connection, a microphone and a speaker.
type Conversation struct {
	orch *Orchestrator

	mu       sync.Mutex
	response ResponseConfig
}

// NewConversation creates a conversation with default configuration
func NewConversation(dialer Dialer, capture CaptureDevice, playback PlaybackDevice) *Conversation {
	return NewConversationWithConfig(dialer, capture, playback, DefaultConfig(), nil)
}

// NewConversationWithConfig creates a conversation with custom configuration
// and logger. A nil logger disables logging.
func NewConversationWithConfig(dialer Dialer, capture CaptureDevice, playback PlaybackDevice, config Config, logger Logger) *Conversation {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	recorder := NewRecorder(capture, config.RecorderConfig(), logger)
	player := NewPlayer(playback, config.PlayerConfig(), logger)
	return &Conversation{
		orch: NewWithLogger(dialer, recorder, player, config, logger),
	}
}

// ID returns the conversation id.
func (c *Conversation) ID() string {
	return c.orch.ID()
}

// Orchestrator exposes the underlying session orchestrator.
func (c *Conversation) Orchestrator() *Orchestrator {
	return c.orch
}

// SetVoice sets the assistant voice for subsequent responses.
func (c *Conversation) SetVoice(voice Voice) {
	c.update(func(r *ResponseConfig) { r.Voice = voice })
}

// SetVoiceByString validates and sets the assistant voice.
func (c *Conversation) SetVoiceByString(voice string) error {
	v := Voice(voice)
	validVoices := map[Voice]bool{
		VoiceAlloy: true, VoiceAsh: true, VoiceBallad: true, VoiceCoral: true,
		VoiceEcho: true, VoiceSage: true, VoiceShimmer: true, VoiceVerse: true,
	}
	if !validVoices[v] {
		return fmt.Errorf("invalid voice: %s", voice)
	}
	c.SetVoice(v)
	return nil
}

// SetInstructions replaces the assistant instructions.
func (c *Conversation) SetInstructions(instructions string) {
	c.update(func(r *ResponseConfig) { r.Instructions = instructions })
}

// SetTemperature sets the sampling temperature for responses.
func (c *Conversation) SetTemperature(temperature float64) {
	c.update(func(r *ResponseConfig) { r.Temperature = &temperature })
}

// SetMaxOutputTokens caps the length of each response.
func (c *Conversation) SetMaxOutputTokens(n int) {
	c.update(func(r *ResponseConfig) { r.MaxOutputTokens = &n })
}

// SetTools offers tools to the assistant with the given tool choice.
func (c *Conversation) SetTools(tools []map[string]interface{}, choice string) {
	c.update(func(r *ResponseConfig) {
		r.Tools = tools
		r.ToolChoice = choice
	})
}

func (c *Conversation) update(fn func(*ResponseConfig)) {
	c.mu.Lock()
	fn(&c.response)
	cfg := c.response
	c.mu.Unlock()
	c.orch.SetResponseConfig(cfg)
}

// SaveTranscriptsTo writes assistant transcripts under dir.
func (c *Conversation) SaveTranscriptsTo(dir string) error {
	sink, err := NewFileTranscriptSink(dir, c.orch.ID())
	if err != nil {
		return err
	}
	c.orch.SetTranscriptSink(sink)
	return nil
}

// OnInterrupt registers fn to run whenever the user barges in.
func (c *Conversation) OnInterrupt(fn func(responseID string)) {
	c.orch.BargeIn().OnInterrupt(fn)
}

// OnEvent registers fn to observe every applied inbound event.
func (c *Conversation) OnEvent(fn func(Event)) {
	c.orch.SetEventObserver(fn)
}

// Start connects to the realtime service.
func (c *Conversation) Start(ctx context.Context) error {
	return c.orch.Connect(ctx)
}

// Run listens until ctx ends or the connection drops.
func (c *Conversation) Run(ctx context.Context) error {
	return c.orch.Run(ctx)
}

// Close ends the session and releases the audio devices.
func (c *Conversation) Close() error {
	return c.orch.Disconnect()
}

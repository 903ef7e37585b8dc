package orchestrator

import "sync"

// Interruptible is the part of the player barge-in drives.
type Interruptible interface {
	ForceRestart()
	// StopCurrentAudio ignores incoming audio for a short hold period.
	StopCurrentAudio()
}

// BargeIn interrupts assistant playback when the user starts speaking.
type BargeIn struct {
	player Interruptible
	send   func(eventType string, payload map[string]interface{}) error
	state  *StateStore
	logger Logger

	mu          sync.Mutex
	onInterrupt func(responseID string)
}

// NewBargeIn creates a coordinator acting on player and state. send emits
// outbound events.
func NewBargeIn(player Interruptible, send func(string, map[string]interface{}) error, state *StateStore, logger Logger) *BargeIn {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &BargeIn{player: player, send: send, state: state, logger: logger}
}

// OnInterrupt registers fn to run after each interruption.
func (b *BargeIn) OnInterrupt(fn func(responseID string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onInterrupt = fn
}

// Handle reacts to a speech-detected signal. If the assistant is speaking it
// cancels the in-flight response, restarts playback and clears
// AssistantSpeaking, reporting true. The cancelled response is retired so its
// in-flight deltas are dropped, and playback holds silence to absorb chunks
// already on the way. A failed cancel is logged and the interruption proceeds.
func (b *BargeIn) Handle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.state.Snapshot()
	if !st.AssistantSpeaking {
		return false
	}

	b.logger.Info("barge-in detected, interrupting assistant", "responseID", st.CurrentResponseID)

	if st.CurrentResponseID != "" {
		b.state.Retire(st.CurrentResponseID)
		err := b.send("response.cancel", map[string]interface{}{"response_id": st.CurrentResponseID})
		if err != nil {
			b.logger.Warn("error canceling response", "responseID", st.CurrentResponseID, "error", err)
		}
	}

	b.player.ForceRestart()
	b.player.StopCurrentAudio()
	b.state.Update(func(s *SessionState) { s.AssistantSpeaking = false })

	if b.onInterrupt != nil {
		b.onInterrupt(st.CurrentResponseID)
	}
	return true
}

package orchestrator

import "sync"

// SessionState is the per-session conversation state. Handlers receive it by
// value and change it only through a patch.
type SessionState struct {
	ProcessingInput   bool
	AssistantSpeaking bool
	CurrentResponseID string
	ExpectingAudio    bool
	FirstAudioChunk   bool
	ResponseText      string
}

// InitialSessionState returns the state of a freshly connected session.
func InitialSessionState() SessionState {
	return SessionState{FirstAudioChunk: true}
}

// StateStore serializes every mutation of a SessionState. It also remembers
// responses that were cancelled or completed so late events for them can be
// dropped.
type StateStore struct {
	mu      sync.Mutex
	state   SessionState
	retired map[string]bool
}

func NewStateStore() *StateStore {
	return &StateStore{state: InitialSessionState(), retired: make(map[string]bool)}
}

// Snapshot returns a copy of the current state.
func (s *StateStore) Snapshot() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Update applies patch atomically and returns the resulting state.
func (s *StateStore) Update(patch func(*SessionState)) SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	patch(&s.state)
	return s.state
}

// Retire marks responseID as finished. Empty ids are ignored.
func (s *StateStore) Retire(responseID string) {
	if responseID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retired[responseID] = true
}

// Retired reports whether responseID was cancelled or completed.
func (s *StateStore) Retired(responseID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retired[responseID]
}

// Reset restores the initial state and forgets retired responses.
func (s *StateStore) Reset() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = InitialSessionState()
	s.retired = make(map[string]bool)
	return s.state
}

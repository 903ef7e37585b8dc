package orchestrator

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

type sentEvent struct {
	Type    string
	Payload map[string]interface{}
}

type recordingSender struct {
	mu     sync.Mutex
	events []sentEvent
	err    error
}

func (r *recordingSender) send(eventType string, payload map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sentEvent{Type: eventType, Payload: payload})
	return r.err
}

func (r *recordingSender) sent() []sentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentEvent(nil), r.events...)
}

type countingPlayer struct {
	restarts atomic.Int32
	holds    atomic.Int32
}

func (c *countingPlayer) ForceRestart() {
	c.restarts.Add(1)
}

func (c *countingPlayer) StopCurrentAudio() {
	c.holds.Add(1)
}

func speakingStore(responseID string) *StateStore {
	store := NewStateStore()
	store.Update(func(s *SessionState) {
		s.AssistantSpeaking = true
		s.CurrentResponseID = responseID
	})
	return store
}

func TestBargeIn_CancelsSpeakingAssistant(t *testing.T) {
	sender := &recordingSender{}
	player := &countingPlayer{}
	store := speakingStore("resp_1")

	var interrupted string
	b := NewBargeIn(player, sender.send, store, nil)
	b.OnInterrupt(func(id string) { interrupted = id })

	if !b.Handle() {
		t.Fatal("Expected barge-in to interrupt")
	}
	if store.Snapshot().AssistantSpeaking {
		t.Error("Expected assistantSpeaking to be false after barge-in")
	}

	events := sender.sent()
	if len(events) != 1 {
		t.Fatalf("Expected exactly one event, got %d", len(events))
	}
	if events[0].Type != "response.cancel" {
		t.Errorf("Expected response.cancel, got %s", events[0].Type)
	}
	if events[0].Payload["response_id"] != "resp_1" {
		t.Errorf("Expected response_id resp_1, got %v", events[0].Payload["response_id"])
	}
	if player.restarts.Load() != 1 {
		t.Errorf("Expected one force restart, got %d", player.restarts.Load())
	}
	if player.holds.Load() != 1 {
		t.Errorf("Expected playback silence hold, got %d", player.holds.Load())
	}
	if !store.Retired("resp_1") {
		t.Error("Expected resp_1 to be retired")
	}
	if interrupted != "resp_1" {
		t.Errorf("Expected interrupt callback with resp_1, got %q", interrupted)
	}

	if b.Handle() {
		t.Error("Expected second barge-in to do nothing")
	}
	if len(sender.sent()) != 1 {
		t.Errorf("Expected cancel sent exactly once, got %d", len(sender.sent()))
	}
}

func TestBargeIn_IgnoredWhenAssistantSilent(t *testing.T) {
	sender := &recordingSender{}
	player := &countingPlayer{}
	b := NewBargeIn(player, sender.send, NewStateStore(), nil)

	if b.Handle() {
		t.Error("Expected no interruption while assistant is silent")
	}
	if len(sender.sent()) != 0 {
		t.Errorf("Expected no events, got %d", len(sender.sent()))
	}
	if player.restarts.Load() != 0 {
		t.Errorf("Expected no restarts, got %d", player.restarts.Load())
	}
}

func TestBargeIn_SendFailureIsNotFatal(t *testing.T) {
	sender := &recordingSender{err: errors.New("socket closed")}
	player := &countingPlayer{}
	store := speakingStore("resp_2")
	b := NewBargeIn(player, sender.send, store, nil)

	if !b.Handle() {
		t.Fatal("Expected barge-in to proceed despite send failure")
	}
	if player.restarts.Load() != 1 {
		t.Errorf("Expected one force restart, got %d", player.restarts.Load())
	}
	if store.Snapshot().AssistantSpeaking {
		t.Error("Expected assistantSpeaking to be false")
	}
}

func TestBargeIn_WithoutResponseID(t *testing.T) {
	sender := &recordingSender{}
	player := &countingPlayer{}
	b := NewBargeIn(player, sender.send, speakingStore(""), nil)

	if !b.Handle() {
		t.Fatal("Expected barge-in to interrupt")
	}
	if len(sender.sent()) != 0 {
		t.Errorf("Expected no cancel without a response id, got %d events", len(sender.sent()))
	}
	if player.restarts.Load() != 1 {
		t.Errorf("Expected one force restart, got %d", player.restarts.Load())
	}
}

func TestBargeIn_ConcurrentSignalsCancelOnce(t *testing.T) {
	sender := &recordingSender{}
	player := &countingPlayer{}
	b := NewBargeIn(player, sender.send, speakingStore("resp_3"), nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Handle()
		}()
	}
	wg.Wait()

	if len(sender.sent()) != 1 {
		t.Errorf("Expected one cancel, got %d", len(sender.sent()))
	}
	if player.restarts.Load() != 1 {
		t.Errorf("Expected one restart, got %d", player.restarts.Load())
	}
}

package orchestrator

import (
	"encoding/json"
	"fmt"
)

// EventKind enumerates the inbound event types the session reacts to.
// Anything else parses as EventUnknown.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventSessionCreated
	EventSessionUpdated
	EventSpeechStarted
	EventSpeechStopped
	EventBufferCommitted
	EventConversationItemCreated
	EventResponseCreated
	EventOutputItemAdded
	EventContentPartAdded
	EventAudioDelta
	EventAudioDone
	EventTranscriptDelta
	EventTextDelta
	EventResponseDone
	EventRateLimitsUpdated
	EventError
)

var eventKinds = map[string]EventKind{
	"session.created":                   EventSessionCreated,
	"session.updated":                   EventSessionUpdated,
	"input_audio_buffer.speech_started": EventSpeechStarted,
	"input_audio_buffer.speech_stopped": EventSpeechStopped,
	"input_audio_buffer.committed":      EventBufferCommitted,
	"conversation.item.created":         EventConversationItemCreated,
	"response.created":                  EventResponseCreated,
	"response.output_item.added":        EventOutputItemAdded,
	"response.content_part.added":       EventContentPartAdded,
	"response.audio.delta":              EventAudioDelta,
	"response.audio.done":               EventAudioDone,
	"response.audio_transcript.delta":   EventTranscriptDelta,
	"response.text.delta":               EventTextDelta,
	"response.done":                     EventResponseDone,
	"rate_limits.updated":               EventRateLimitsUpdated,
	"error":                             EventError,
}

var eventNames = func() map[EventKind]string {
	m := make(map[EventKind]string, len(eventKinds))
	for name, kind := range eventKinds {
		m[kind] = name
	}
	return m
}()

// String returns the wire type of k.
func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	if k == EventUnknown {
		return "unknown"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// KindOf maps a wire type string to its EventKind.
func KindOf(eventType string) EventKind {
	if k, ok := eventKinds[eventType]; ok {
		return k
	}
	return EventUnknown
}

// Event is one inbound message. Type keeps the raw wire type so unknown
// events stay observable.
type Event struct {
	Kind    EventKind
	Type    string
	Payload map[string]interface{}
}

// ParseEvent decodes a raw inbound message. Only malformed JSON is an error;
// unrecognized or missing types yield EventUnknown.
func ParseEvent(raw []byte) (Event, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Event{}, fmt.Errorf("parse event: %w", err)
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	typ, _ := payload["type"].(string)
	return Event{Kind: KindOf(typ), Type: typ, Payload: payload}, nil
}

// NewEvent builds an event from an already decoded payload.
func NewEvent(eventType string, payload map[string]interface{}) Event {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return Event{Kind: KindOf(eventType), Type: eventType, Payload: payload}
}

// Str returns the string field key, or "" when absent.
func (e Event) Str(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

// Object returns the nested object field key, or nil.
func (e Event) Object(key string) map[string]interface{} {
	m, _ := e.Payload[key].(map[string]interface{})
	return m
}

// ResponseID returns the top-level response_id carried by response events.
func (e Event) ResponseID() string {
	return e.Str("response_id")
}

// ResponseObjectID returns response.id from response.created and
// response.done.
func (e Event) ResponseObjectID() string {
	resp := e.Object("response")
	if resp == nil {
		return ""
	}
	id, _ := resp["id"].(string)
	return id
}

// ServiceError extracts the error object of an error event.
func (e Event) ServiceError() *ServiceError {
	obj := e.Object("error")
	str := func(key string) string {
		s, _ := obj[key].(string)
		return s
	}
	return &ServiceError{
		Type:    str("type"),
		Code:    str("code"),
		Message: str("message"),
		Param:   str("param"),
		EventID: str("event_id"),
	}
}

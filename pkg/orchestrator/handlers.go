package orchestrator

import (
	"encoding/base64"
)

// Playback is the part of the player event handlers may drive.
type Playback interface {
	ForceRestart()
	AddAudio(chunk []byte) error
}

// Recording is the part of the recorder event handlers may drive.
type Recording interface {
	ClearRecording()
}

// HandlerContext is what a handler sees while processing one inbound event.
// State is a snapshot taken at dispatch time; changes go through Update.
type HandlerContext struct {
	Recorder Recording
	Player   Playback
	State    SessionState
	Update   func(patch func(*SessionState)) SessionState
	// SaveTranscript is nil when no transcript sink is configured
	SaveTranscript func(responseID, text string, final bool) error
	Send           func(eventType string, payload map[string]interface{}) error
	// Retired reports responses that were cancelled or completed; Retire
	// marks one.
	Retired func(responseID string) bool
	Retire  func(responseID string)
	Logger  Logger
}

// sessionResetPayload is sent after every completed response.
func sessionResetPayload() map[string]interface{} {
	return map[string]interface{}{
		"session": map[string]interface{}{
			"tools":       []interface{}{},
			"temperature": 1.0,
		},
	}
}

// eventResponseID returns the response an event belongs to, from the
// top-level response_id or the embedded response object.
func eventResponseID(ev Event) string {
	if id := ev.ResponseID(); id != "" {
		return id
	}
	return ev.ResponseObjectID()
}

// stale reports whether ev belongs to a cancelled or completed response.
// The response.done of the response still current is not stale, so a
// cancelled response that was not yet replaced resets the session.
func stale(ev Event, hc HandlerContext) bool {
	id := eventResponseID(ev)
	if id == "" || hc.Retired == nil || !hc.Retired(id) {
		return false
	}
	return ev.Kind != EventResponseDone || id != hc.State.CurrentResponseID
}

// handleEvent applies the effect of ev and reports whether it was applied.
// Events of retired responses are dropped. Every EventKind has a case.
func handleEvent(ev Event, hc HandlerContext) bool {
	if stale(ev, hc) {
		hc.Logger.Debug("dropping event for finished response", "type", ev.Type, "responseID", eventResponseID(ev))
		return false
	}

	if id := ev.ResponseID(); id != "" && id != hc.State.CurrentResponseID {
		hc.State = hc.Update(func(s *SessionState) { s.CurrentResponseID = id })
	}

	switch ev.Kind {
	case EventSessionCreated:
		hc.Logger.Info("session created")
		if err := hc.Send("session.update", sessionResetPayload()); err != nil {
			hc.Logger.Warn("failed to send session update", "error", err)
		}

	case EventSessionUpdated:
		hc.Logger.Info("session updated")

	case EventSpeechStarted:
		hc.Logger.Info("speech started", "itemID", ev.Str("item_id"))

	case EventSpeechStopped:
		hc.Logger.Info("speech stopped", "itemID", ev.Str("item_id"))

	case EventBufferCommitted:
		hc.Logger.Info("audio buffer committed", "itemID", ev.Str("item_id"))

	case EventConversationItemCreated:
		hc.Logger.Debug("conversation item created", "previousItemID", ev.Str("previous_item_id"))

	case EventResponseCreated:
		handleResponseCreated(ev, hc)

	case EventOutputItemAdded:
		hc.Logger.Debug("output item added", "responseID", ev.ResponseID())

	case EventContentPartAdded:
		hc.Logger.Debug("content part added", "responseID", ev.ResponseID(), "itemID", ev.Str("item_id"))

	case EventAudioDelta:
		handleAudioDelta(ev, hc)

	case EventAudioDone:
		hc.Logger.Debug("audio stream done", "responseID", ev.ResponseID())

	case EventTranscriptDelta, EventTextDelta:
		handleTranscriptDelta(ev, hc)

	case EventResponseDone:
		handleResponseDone(ev, hc)

	case EventRateLimitsUpdated:
		hc.Logger.Debug("rate limits updated")

	case EventError:
		serr := ev.ServiceError()
		hc.Logger.Error("error from realtime service", "type", serr.Type, "code", serr.Code, "error", serr.Error())

	case EventUnknown:
		hc.Logger.Debug("unhandled event", "type", ev.Type)
	}
	return true
}

func handleResponseCreated(ev Event, hc HandlerContext) {
	id := ev.ResponseObjectID()
	hc.Update(func(s *SessionState) {
		if id != "" {
			s.CurrentResponseID = id
		}
		s.ExpectingAudio = true
		s.FirstAudioChunk = true
	})
	hc.Logger.Info("response created", "responseID", id)
}

func handleAudioDelta(ev Event, hc HandlerContext) {
	if hc.State.FirstAudioChunk || hc.State.ExpectingAudio {
		hc.Logger.Info("first audio delta received, restarting playback", "responseID", hc.State.CurrentResponseID)
		hc.Player.ForceRestart()
		hc.Update(func(s *SessionState) {
			s.FirstAudioChunk = false
			s.ExpectingAudio = false
			s.AssistantSpeaking = true
		})
	} else if !hc.State.AssistantSpeaking {
		hc.Update(func(s *SessionState) { s.AssistantSpeaking = true })
	}

	delta := ev.Str("delta")
	if delta == "" {
		hc.Logger.Warn("audio delta contained no audio data")
		return
	}
	chunk, err := base64.StdEncoding.DecodeString(delta)
	if err != nil {
		hc.Logger.Warn("failed to decode audio delta", "error", err)
		return
	}
	if err := hc.Player.AddAudio(chunk); err != nil {
		hc.Logger.Warn("failed to queue audio delta", "error", err)
	}
}

func handleTranscriptDelta(ev Event, hc HandlerContext) {
	delta := ev.Str("delta")
	if delta == "" {
		return
	}
	st := hc.Update(func(s *SessionState) { s.ResponseText += delta })
	hc.Logger.Debug("transcript delta", "delta", delta)

	if hc.SaveTranscript == nil || st.CurrentResponseID == "" {
		return
	}
	if err := hc.SaveTranscript(st.CurrentResponseID, st.ResponseText, false); err != nil {
		hc.Logger.Warn("failed to save partial transcript", "responseID", st.CurrentResponseID, "error", err)
	}
}

func handleResponseDone(ev Event, hc HandlerContext) {
	final := hc.Update(func(*SessionState) {})
	status, _ := ev.Object("response")["status"].(string)
	hc.Logger.Info("response complete", "responseID", final.CurrentResponseID, "status", status, "textLen", len(final.ResponseText))

	if hc.SaveTranscript != nil && final.CurrentResponseID != "" && final.ResponseText != "" {
		if err := hc.SaveTranscript(final.CurrentResponseID, final.ResponseText, true); err != nil {
			hc.Logger.Warn("failed to save final transcript", "responseID", final.CurrentResponseID, "error", err)
		}
	}

	if hc.Retire != nil {
		hc.Retire(final.CurrentResponseID)
		hc.Retire(eventResponseID(ev))
	}
	hc.Update(func(s *SessionState) { *s = InitialSessionState() })

	if err := hc.Send("session.update", sessionResetPayload()); err != nil {
		hc.Logger.Warn("failed to send session update", "error", err)
	}
}

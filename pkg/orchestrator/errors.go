package orchestrator

import (
	"errors"
	"fmt"
)

// Custom error types for better error discrimination
var (
	// ErrConnectTimeout is returned when the connection does not open in time
	ErrConnectTimeout = errors.New("timed out connecting to realtime service")

	// ErrAlreadyConnected is returned by Connect on an open session
	ErrAlreadyConnected = errors.New("already connected")

	// ErrNotConnected is returned when sending without an open connection
	ErrNotConnected = errors.New("not connected to realtime service")

	// ErrConnectionClosed wraps the read error that ended a session
	ErrConnectionClosed = errors.New("connection to realtime service closed")

	// ErrSendQueueFull is returned when the outbound queue cannot take another event
	ErrSendQueueFull = errors.New("outbound event queue full")

	// ErrNoAudio is returned when an utterance holds no samples
	ErrNoAudio = errors.New("no audio recorded")

	// ErrBusy is returned when an utterance arrives while another is being processed
	ErrBusy = errors.New("already processing input")

	// ErrDeviceUnavailable is returned when no audio device was configured
	ErrDeviceUnavailable = errors.New("audio device not configured")

	// ErrPlayerStopped is returned when audio is added to a stopped player
	ErrPlayerStopped = errors.New("playback engine not running")

	// ErrPlaybackQueueFull is returned when decoded audio could not be queued in time
	ErrPlaybackQueueFull = errors.New("playback queue full")
)

// ServiceError is the payload of an inbound error event.
type ServiceError struct {
	Type    string
	Code    string
	Message string
	Param   string
	EventID string
}

func (e *ServiceError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "Unknown error"
	}
	if e.Code != "" {
		return fmt.Sprintf("realtime: %s: %s", e.Code, msg)
	}
	if e.Type != "" {
		return fmt.Sprintf("realtime: %s: %s", e.Type, msg)
	}
	return "realtime: " + msg
}

package orchestrator

import (
	"time"

	"github.com/lokutor-ai/lokutor-realtime/pkg/audio"
)

// RMSVAD is a simple Root Mean Square based voice activity classifier.
// A frame is voiced when its RMS level is strictly above the threshold.
type RMSVAD struct {
	threshold float64
	lastRMS   float64

	// Echo guard: while assistant audio played recently, use a higher threshold
	echoThreshold float64
	echoWindow    time.Duration
	lastPlayback  func() time.Time
}

// NewRMSVAD creates a new RMS-based VAD
func NewRMSVAD(threshold float64) *RMSVAD {
	return &RMSVAD{threshold: threshold}
}

// LastRMS returns the RMS of the last processed frame
func (v *RMSVAD) LastRMS() float64 {
	return v.lastRMS
}

// SetEchoGuard raises the threshold to echoThreshold whenever lastPlayback
// reports audio rendered within window. A zero echoThreshold or nil
// lastPlayback disables the guard.
func (v *RMSVAD) SetEchoGuard(echoThreshold float64, window time.Duration, lastPlayback func() time.Time) {
	v.echoThreshold = echoThreshold
	v.echoWindow = window
	v.lastPlayback = lastPlayback
}

// IsVoiced measures frame and reports whether it counts as speech.
func (v *RMSVAD) IsVoiced(frame []float32) bool {
	v.lastRMS = audio.RMS(frame)
	return v.lastRMS > v.effectiveThreshold()
}

func (v *RMSVAD) effectiveThreshold() float64 {
	if v.echoThreshold <= v.threshold || v.lastPlayback == nil {
		return v.threshold
	}
	last := v.lastPlayback()
	if !last.IsZero() && time.Since(last) < v.echoWindow {
		return v.echoThreshold
	}
	return v.threshold
}

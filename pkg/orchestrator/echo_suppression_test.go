package orchestrator

import (
	"math"
	"math/rand"
	"testing"
	"time"
)

// generateSine returns amp-scaled PCM16 samples of a sine wave
func generateSine(freq float64, durationMs int, sampleRate int, amp float64) []int16 {
	n := sampleRate * durationMs / 1000
	out := make([]int16, n)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		out[i] = int16(amp * math.Sin(2*math.Pi*freq*t) * 32767)
	}
	return out
}

func toFrame(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

func TestEchoSuppressor_IsEchoCorrelation(t *testing.T) {
	es := NewEchoSuppressor(16000, nil)
	played := generateSine(440, 200, 16000, 0.8)
	es.RecordPlayedAudio(played, 16000)

	frame := toFrame(played[2048:3072])
	if corr := maxCorrelation(float64s(frame), es.played); corr <= es.threshold {
		t.Fatalf("expected high correlation for replayed audio; corr=%v threshold=%v", corr, es.threshold)
	}
	if !es.IsEcho(frame) {
		t.Fatal("IsEcho returned false for replayed audio")
	}

	rng := rand.New(rand.NewSource(1))
	noise := make([]float32, 1024)
	for i := range noise {
		noise[i] = float32(rng.Float64()*1.6 - 0.8)
	}
	if es.IsEcho(noise) {
		t.Fatal("unexpected echo detection for unrelated signal")
	}
}

func float64s(frame []float32) []float64 {
	out := make([]float64, len(frame))
	for i, s := range frame {
		out[i] = float64(s)
	}
	return out
}

func TestEchoSuppressor_WindowAndClear(t *testing.T) {
	es := NewEchoSuppressor(16000, nil)
	played := generateSine(440, 200, 16000, 0.8)
	frame := toFrame(played[2048:3072])

	es.RecordPlayedAudio(played, 16000)
	es.lastPlayed = time.Now().Add(-2 * time.Second)
	if es.IsEcho(frame) {
		t.Error("expected no echo once playback is outside the window")
	}

	es.RecordPlayedAudio(played, 16000)
	es.ClearEchoBuffer()
	if es.IsEcho(frame) {
		t.Error("expected no echo after clearing the buffer")
	}

	es.SetEnabled(false)
	es.RecordPlayedAudio(played, 16000)
	if es.IsEcho(frame) {
		t.Error("expected no echo while disabled")
	}
}

func TestEchoSuppressor_BoundedHistory(t *testing.T) {
	es := NewEchoSuppressor(16000, nil)
	es.RecordPlayedAudio(generateSine(440, 3000, 16000, 0.5), 16000)
	if len(es.played) != es.maxSamples {
		t.Errorf("expected history capped at %d, got %d", es.maxSamples, len(es.played))
	}
}

func TestEchoSuppressor_ResamplesPlayback(t *testing.T) {
	es := NewEchoSuppressor(16000, nil)
	es.RecordPlayedAudio(generateSine(440, 500, 24000, 0.5), 24000)

	if n := len(es.played); n != 8000 {
		t.Errorf("expected 8000 resampled samples, got %d", n)
	}
}

func TestRecorder_EchoSuppressorMasksPlayback(t *testing.T) {
	r := NewRecorder(nil, DefaultRecorderConfig(), nil)
	es := NewEchoSuppressor(16000, nil)
	r.SetEchoSuppressor(es)

	played := generateSine(440, 200, 16000, 0.8)
	es.RecordPlayedAudio(played, 16000)

	r.ProcessFrame(toFrame(played[2048:3072]))
	if r.IsSpeechActive() {
		t.Error("expected echoed playback not to trigger speech")
	}

	r.ProcessFrame(constFrame(1024, 0.3))
	if !r.IsSpeechActive() {
		t.Error("expected real speech to trigger")
	}
}

func TestOrchestrator_EchoCorrelationConfigured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EchoSuppression = true
	cfg.EchoCorrelation = 0.8
	o := New(&fakeDialer{}, nil, nil, cfg)

	es := o.Recorder().echo
	if es == nil {
		t.Fatal("expected recorder to carry an echo suppressor")
	}
	if es.threshold != 0.8 {
		t.Errorf("expected threshold 0.8, got %v", es.threshold)
	}
	if o.Player().echo != es {
		t.Error("expected player and recorder to share the suppressor")
	}

	es.SetThreshold(1.5)
	if es.threshold != 0.8 {
		t.Errorf("expected out of range threshold ignored, got %v", es.threshold)
	}
}

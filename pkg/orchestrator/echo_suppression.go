package orchestrator

import (
	"math"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-realtime/pkg/audio"
)

// EchoSuppressor detects speaker echo in microphone frames.
// It correlates capture frames with recently played assistant audio.
type EchoSuppressor struct {
	mu         sync.Mutex
	played     []float64 // recent playback at sampleRate, oldest first
	maxSamples int
	sampleRate int
	threshold  float64 // correlation above which a frame is echo
	window     time.Duration
	lastPlayed time.Time
	enabled    bool
	logger     Logger
}

// NewEchoSuppressor creates a suppressor comparing against capture audio at
// sampleRate. It keeps two seconds of playback history.
func NewEchoSuppressor(sampleRate int, logger Logger) *EchoSuppressor {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &EchoSuppressor{
		maxSamples: 2 * sampleRate,
		sampleRate: sampleRate,
		threshold:  0.55,
		window:     1200 * time.Millisecond,
		enabled:    true,
		logger:     logger,
	}
}

// RecordPlayedAudio appends samples handed to the speaker. Samples at a
// different rate are resampled to the capture rate first.
func (es *EchoSuppressor) RecordPlayedAudio(samples []int16, sampleRate int) {
	if len(samples) == 0 {
		return
	}

	converted, err := audio.Resample(samples, sampleRate, es.sampleRate)
	if err != nil {
		es.logger.Warn("echo reference resample failed", "error", err)
		return
	}

	es.mu.Lock()
	defer es.mu.Unlock()
	if !es.enabled {
		return
	}

	for _, s := range converted {
		es.played = append(es.played, float64(s)/32768.0)
	}
	if over := len(es.played) - es.maxSamples; over > 0 {
		es.played = append(es.played[:0], es.played[over:]...)
	}
	es.lastPlayed = time.Now()
}

// IsEcho reports whether frame mostly repeats recently played audio.
func (es *EchoSuppressor) IsEcho(frame []float32) bool {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.enabled || len(frame) == 0 || len(es.played) == 0 {
		return false
	}
	if time.Since(es.lastPlayed) > es.window {
		return false
	}

	input := make([]float64, len(frame))
	for i, s := range frame {
		input[i] = float64(s)
	}

	if maxCorrelation(input, es.played) > es.threshold {
		return true
	}
	// envelope match catches sibilants whose phase the room scrambles
	return maxEnvelopeCorrelation(input, es.played, 8) > es.threshold+0.05
}

// ClearEchoBuffer drops the playback history.
func (es *EchoSuppressor) ClearEchoBuffer() {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.played = es.played[:0]
}

// SetThreshold sets the correlation above which a frame is echo. Values
// outside 0-1 are ignored.
func (es *EchoSuppressor) SetThreshold(threshold float64) {
	es.mu.Lock()
	defer es.mu.Unlock()
	if threshold >= 0 && threshold <= 1 {
		es.threshold = threshold
	}
}

// SetEnabled enables or disables echo suppression
func (es *EchoSuppressor) SetEnabled(enabled bool) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.enabled = enabled
}

func calculateEnergy(samples []float64) float64 {
	energy := 0.0
	for _, s := range samples {
		energy += s * s
	}
	return energy
}

// maxCorrelation slides input over reference with a coarse stride and returns
// the best normalized correlation in [0, 1].
func maxCorrelation(input, reference []float64) float64 {
	compareLen := len(input)
	if compareLen > len(reference) {
		compareLen = len(reference)
	}
	if compareLen == 0 {
		return 0
	}

	in := input[:compareLen]
	inEnergy := calculateEnergy(in)
	if inEnergy == 0 {
		return 0
	}

	stride := compareLen / 4
	if stride < 8 {
		stride = 8
	}

	maxCorr := 0.0
	for pos := 0; pos+compareLen <= len(reference); pos += stride {
		seg := reference[pos : pos+compareLen]
		segEnergy := calculateEnergy(seg)
		if segEnergy == 0 {
			continue
		}
		dot := 0.0
		for i := range in {
			dot += in[i] * seg[i]
		}
		corr := dot / math.Sqrt(inEnergy*segEnergy)
		if corr > maxCorr {
			maxCorr = corr
			if maxCorr >= 0.999 {
				break
			}
		}
	}

	if maxCorr > 1 {
		maxCorr = 1
	}
	return maxCorr
}

func envelope(samples []float64, decimation int) []float64 {
	env := make([]float64, len(samples)/decimation)
	for i := range env {
		sum := 0.0
		for j := 0; j < decimation; j++ {
			sum += math.Abs(samples[i*decimation+j])
		}
		env[i] = sum
	}
	return env
}

// maxEnvelopeCorrelation compares the decimated absolute-value envelopes of
// the two signals.
func maxEnvelopeCorrelation(input, reference []float64, decimation int) float64 {
	inEnv := envelope(input, decimation)
	refEnv := envelope(reference, decimation)

	compareLen := len(inEnv)
	if compareLen > len(refEnv) {
		compareLen = len(refEnv)
	}
	if compareLen == 0 {
		return 0
	}
	inEnv = inEnv[:compareLen]

	inMean := 0.0
	for _, v := range inEnv {
		inMean += v
	}
	inMean /= float64(compareLen)

	inVar := 0.0
	for i := range inEnv {
		inEnv[i] -= inMean
		inVar += inEnv[i] * inEnv[i]
	}
	if inVar <= 0 {
		return 0
	}

	stride := compareLen / 4
	if stride < 2 {
		stride = 2
	}

	maxCorr := 0.0
	for pos := 0; pos+compareLen <= len(refEnv); pos += stride {
		refMean := 0.0
		for i := 0; i < compareLen; i++ {
			refMean += refEnv[pos+i]
		}
		refMean /= float64(compareLen)

		dot, refVar := 0.0, 0.0
		for i := 0; i < compareLen; i++ {
			r := refEnv[pos+i] - refMean
			dot += inEnv[i] * r
			refVar += r * r
		}
		if refVar > 0 {
			if corr := dot / math.Sqrt(inVar*refVar); corr > maxCorr {
				maxCorr = corr
			}
		}
	}
	return maxCorr
}

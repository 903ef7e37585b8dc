package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lokutor-ai/lokutor-realtime/pkg/audio"
)

type RecorderState int

const (
	// RecorderIdle waits for a voiced frame, filling the pre-roll.
	RecorderIdle RecorderState = iota
	// RecorderArmed collects an utterance until enough silence follows it.
	RecorderArmed
)

func (s RecorderState) String() string {
	switch s {
	case RecorderIdle:
		return "idle"
	case RecorderArmed:
		return "armed"
	}
	return fmt.Sprintf("RecorderState(%d)", int(s))
}

type RecorderConfig struct {
	SampleRate int
	FrameSize  int
	// Threshold is the normalized RMS level a frame must exceed to be voiced
	Threshold         float64
	SilenceDuration   time.Duration
	MinSpeechDuration time.Duration
	PreRollDuration   time.Duration

	EchoGuardThreshold float64
	EchoGuardWindow    time.Duration

	// FeedSize bounds the queue between the capture callback and the detector
	FeedSize int
}

func DefaultRecorderConfig() RecorderConfig {
	return DefaultConfig().RecorderConfig()
}

func (c RecorderConfig) framesPerSecond() float64 {
	if c.FrameSize <= 0 {
		return 0
	}
	return float64(c.SampleRate) / float64(c.FrameSize)
}

func (c RecorderConfig) durationFrames(d time.Duration) int {
	return int(d.Seconds() * c.framesPerSecond())
}

// Utterance is one detected speech segment, pre-roll included.
type Utterance struct {
	Frames []audio.Frame
	// PreRoll is the number of leading frames captured before detection
	PreRoll      int
	SpeechFrames int
	SampleRate   int
	StartedAt    time.Time
	Duration     time.Duration
}

// Len returns the number of frames in the utterance.
func (u Utterance) Len() int {
	return len(u.Frames)
}

// Samples concatenates all frames.
func (u Utterance) Samples() []int16 {
	n := 0
	for _, f := range u.Frames {
		n += len(f)
	}
	out := make([]int16, 0, n)
	for _, f := range u.Frames {
		out = append(out, f...)
	}
	return out
}

// WAV encodes the utterance as a mono PCM16 WAV file.
func (u Utterance) WAV() []byte {
	return audio.NewWavBuffer(audio.Int16ToBytes(u.Samples()), u.SampleRate)
}

// Recorder runs voice activity detection over capture frames and hands
// finished utterances to a callback.
type Recorder struct {
	cfg    RecorderConfig
	device CaptureDevice
	logger Logger

	silenceLimit    int
	minSpeechFrames int

	mu            sync.Mutex
	vad           *RMSVAD
	echo          *EchoSuppressor
	state         RecorderState
	preRoll       *audio.FrameRing
	frames        []audio.Frame
	preRollLen    int
	speechFrames  int
	silenceFrames int
	speechStart   time.Time
	onSpeech      func()
	onFinished    func(Utterance)

	listenMu  sync.Mutex
	listening bool
	cancel    context.CancelFunc
	done      chan struct{}
	dropped   atomic.Int64
}

// NewRecorder creates a recorder reading from device. device may be nil when
// frames are fed through ProcessFrame directly.
func NewRecorder(device CaptureDevice, cfg RecorderConfig, logger Logger) *Recorder {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if cfg.FeedSize <= 0 {
		cfg.FeedSize = 64
	}

	r := &Recorder{
		cfg:             cfg,
		device:          device,
		logger:          logger,
		silenceLimit:    cfg.durationFrames(cfg.SilenceDuration),
		minSpeechFrames: cfg.durationFrames(cfg.MinSpeechDuration),
		vad:             NewRMSVAD(cfg.Threshold),
		preRoll:         audio.NewFrameRing(cfg.durationFrames(cfg.PreRollDuration)),
	}

	logger.Info("speech detection parameters",
		"silenceFrames", r.silenceLimit,
		"minSpeechFrames", r.minSpeechFrames,
		"preRollFrames", r.preRoll.Cap())
	return r
}

// SetSpeechDetectedCallback registers fn to run once per Idle to Armed
// transition. fn runs on its own goroutine.
func (r *Recorder) SetSpeechDetectedCallback(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSpeech = fn
}

// SetRecordingFinishedCallback registers fn to receive each utterance that
// passes the minimum speech duration. fn runs on its own goroutine.
func (r *Recorder) SetRecordingFinishedCallback(fn func(Utterance)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFinished = fn
}

// SetPlaybackActivity enables the echo guard using lastRendered as the
// source of the most recent assistant playback time.
func (r *Recorder) SetPlaybackActivity(lastRendered func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad.SetEchoGuard(r.cfg.EchoGuardThreshold, r.cfg.EchoGuardWindow, lastRendered)
}

// SetEchoSuppressor makes frames that correlate with recent playback count
// as silence.
func (r *Recorder) SetEchoSuppressor(es *EchoSuppressor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.echo = es
}

// State returns the current detector state.
func (r *Recorder) State() RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// IsSpeechActive reports whether an utterance is being collected.
func (r *Recorder) IsSpeechActive() bool {
	return r.State() == RecorderArmed
}

// LastRMS returns the level of the most recent frame.
func (r *Recorder) LastRMS() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vad.LastRMS()
}

// ProcessFrame advances the detector by one capture frame.
func (r *Recorder) ProcessFrame(frame []float32) {
	pcm := audio.Frame(audio.Float32ToInt16(frame))

	var (
		detected   bool
		speechCb   func()
		finishedCb func(Utterance)
		finished   Utterance
		ended      bool
		tooShort   int
	)

	r.mu.Lock()
	voiced := r.vad.IsVoiced(frame)
	if voiced && r.echo != nil && r.echo.IsEcho(frame) {
		voiced = false
	}
	level := r.vad.LastRMS()

	switch r.state {
	case RecorderIdle:
		if !voiced {
			r.preRoll.Push(pcm)
			break
		}
		r.state = RecorderArmed
		r.speechStart = time.Now()
		r.speechFrames = 1
		r.silenceFrames = 0
		r.frames = append(r.preRoll.Frames(), pcm)
		r.preRollLen = r.preRoll.Len()
		r.preRoll.Reset()
		detected = true
		speechCb = r.onSpeech

	case RecorderArmed:
		r.frames = append(r.frames, pcm)
		if voiced {
			r.speechFrames++
			r.silenceFrames = 0
			break
		}
		r.silenceFrames++
		if r.silenceFrames <= r.silenceLimit {
			break
		}
		ended = true
		if r.speechFrames >= r.minSpeechFrames {
			finished = Utterance{
				Frames:       r.frames,
				PreRoll:      r.preRollLen,
				SpeechFrames: r.speechFrames,
				SampleRate:   r.cfg.SampleRate,
				StartedAt:    r.speechStart,
				Duration:     time.Since(r.speechStart),
			}
			finishedCb = r.onFinished
		} else {
			tooShort = r.speechFrames
		}
		r.resetLocked()
	}
	r.mu.Unlock()

	if detected {
		r.logger.Info("speech detected", "volume", level)
		if speechCb != nil {
			go speechCb()
		}
	}
	if !ended {
		return
	}
	if finished.Frames == nil {
		r.logger.Info("speech too short, ignoring", "frames", tooShort)
		return
	}
	r.logger.Info("speech ended",
		"duration", finished.Duration,
		"speechFrames", finished.SpeechFrames,
		"frames", finished.Len())
	if finishedCb != nil {
		go finishedCb(finished)
	}
}

// ClearRecording discards any in-progress utterance without firing callbacks.
func (r *Recorder) ClearRecording() {
	r.mu.Lock()
	r.resetLocked()
	r.mu.Unlock()
	r.logger.Debug("recording cleared")
}

func (r *Recorder) resetLocked() {
	r.state = RecorderIdle
	r.frames = nil
	r.preRollLen = 0
	r.speechFrames = 0
	r.silenceFrames = 0
	r.speechStart = time.Time{}
}

// StartListening opens the capture device and drives the detector from a
// dedicated goroutine until StopListening or ctx is done.
func (r *Recorder) StartListening(ctx context.Context) error {
	r.listenMu.Lock()
	defer r.listenMu.Unlock()

	if r.listening {
		return nil
	}
	if r.device == nil {
		return ErrDeviceUnavailable
	}

	feed := make(chan []float32, r.cfg.FeedSize)
	onFrame := func(frame []float32) {
		f := make([]float32, len(frame))
		copy(f, frame)
		select {
		case feed <- f:
		default:
			r.dropped.Add(1)
		}
	}

	if err := r.device.StartCapture(r.cfg.SampleRate, r.cfg.FrameSize, onFrame); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}

	lctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go r.listen(lctx, feed, done)

	r.cancel = cancel
	r.done = done
	r.listening = true
	r.logger.Info("started listening for speech")
	return nil
}

func (r *Recorder) listen(ctx context.Context, feed <-chan []float32, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-feed:
			r.ProcessFrame(frame)
			if n := r.dropped.Swap(0); n > 0 {
				r.logger.Warn("capture frames dropped", "count", n)
			}
		}
	}
}

// StopListening closes the capture device and stops the detector goroutine.
func (r *Recorder) StopListening() error {
	r.listenMu.Lock()
	defer r.listenMu.Unlock()

	if !r.listening {
		return nil
	}
	r.listening = false

	err := r.device.StopCapture()
	if err != nil {
		r.logger.Warn("error stopping capture", "error", err)
	}

	r.cancel()
	select {
	case <-r.done:
	case <-time.After(time.Second):
		r.logger.Warn("listen worker did not exit in time")
	}

	r.logger.Info("stopped listening for speech")
	return err
}

package orchestrator

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lokutor-ai/lokutor-realtime/pkg/audio"
)

type PlayerConfig struct {
	SampleRate int
	// BlockSize is the number of samples the device pulls per callback
	BlockSize int
	QueueSize int
	// RefillThreshold is the buffered duration below which the worker pulls
	// more chunks from the queue
	RefillThreshold time.Duration
	PollInterval    time.Duration
	// SilenceHold is how long StopCurrentAudio keeps discarding new chunks
	SilenceHold    time.Duration
	EnqueueTimeout time.Duration
	StopTimeout    time.Duration
}

func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		SampleRate:      24000,
		BlockSize:       1024,
		QueueSize:       256,
		RefillThreshold: 500 * time.Millisecond,
		PollInterval:    100 * time.Millisecond,
		SilenceHold:     200 * time.Millisecond,
		EnqueueTimeout:  2 * time.Second,
		StopTimeout:     time.Second,
	}
}

// lane is the queue owned by one playback generation. Closing done retires
// the generation; chunks still queued on it are never played.
type lane struct {
	generation uint64
	queue      chan []int16
	done       chan struct{}
}

// Player streams decoded assistant audio to a playback device. Each worker
// lifetime is tagged with a generation; a worker or stream whose generation
// is no longer current cannot touch the sample buffer.
type Player struct {
	cfg    PlayerConfig
	device PlaybackDevice
	logger Logger

	refillSamples int

	mu         sync.Mutex
	buf        audio.SampleBuffer
	generation uint64
	playing    bool
	stream     OutputStream
	lane       *lane
	holdTimer  *time.Timer

	echo *EchoSuppressor

	silenced     atomic.Bool
	needMore     chan struct{}
	workers      atomic.Int32
	lastRendered atomic.Int64
	wg           sync.WaitGroup
}

// NewPlayer creates a playback engine. device may be nil, in which case
// samples are only reachable through Render.
func NewPlayer(device PlaybackDevice, cfg PlayerConfig, logger Logger) *Player {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	defaults := DefaultPlayerConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaults.SampleRate
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = defaults.BlockSize
	}
	if cfg.RefillThreshold <= 0 {
		cfg.RefillThreshold = defaults.RefillThreshold
	}
	if cfg.SilenceHold <= 0 {
		cfg.SilenceHold = defaults.SilenceHold
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = defaults.EnqueueTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaults.StopTimeout
	}

	return &Player{
		cfg:           cfg,
		device:        device,
		logger:        logger,
		refillSamples: int(cfg.RefillThreshold.Seconds() * float64(cfg.SampleRate)),
		needMore:      make(chan struct{}, 1),
	}
}

// SetEchoSuppressor feeds every chunk handed to the device into es as echo
// reference. Call before Start.
func (p *Player) SetEchoSuppressor(es *EchoSuppressor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.echo = es
}

// Start launches a playback worker under a new generation. Calling Start on
// a running player does nothing.
func (p *Player) Start() {
	p.mu.Lock()
	if p.playing {
		p.mu.Unlock()
		return
	}
	p.playing = true
	p.silenced.Store(false)
	l := p.newLaneLocked()
	p.wg.Add(1)
	p.workers.Add(1)
	p.mu.Unlock()

	go p.worker(l)
	p.logger.Info("audio playback ready", "generation", l.generation)
}

// ForceRestart drops all queued and buffered audio, closes the active
// stream and starts a fresh worker under a new generation. Once it returns
// no sample from an earlier generation can be rendered. It is a no-op when
// the player is not running.
func (p *Player) ForceRestart() {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		p.logger.Debug("force restart ignored, player not running")
		return
	}
	old := p.stream
	p.stream = nil
	close(p.lane.done)
	p.buf.Reset()
	p.silenced.Store(false)
	l := p.newLaneLocked()
	p.wg.Add(1)
	p.workers.Add(1)
	p.mu.Unlock()

	go p.worker(l)

	if old != nil {
		if err := old.Close(); err != nil {
			p.logger.Warn("error closing playback stream", "error", err)
		}
	}
	if p.echo != nil {
		p.echo.ClearEchoBuffer()
	}
	p.logger.Info("playback restarted", "generation", l.generation)
}

// Stop halts the worker and releases the output stream. It waits up to
// StopTimeout for workers to exit.
func (p *Player) Stop() error {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return nil
	}
	p.playing = false
	close(p.lane.done)
	p.lane = nil
	p.generation++
	old := p.stream
	p.stream = nil
	p.buf.Reset()
	if p.holdTimer != nil {
		p.holdTimer.Stop()
		p.holdTimer = nil
	}
	p.mu.Unlock()

	var err error
	if old != nil {
		err = old.Close()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.cfg.StopTimeout):
		p.logger.Warn("playback workers did not exit in time", "active", p.workers.Load())
	}

	p.logger.Info("audio playback stopped")
	return err
}

// StopCurrentAudio silences output without restarting the worker. Queued and
// buffered audio is dropped and new chunks are ignored for SilenceHold.
func (p *Player) StopCurrentAudio() {
	p.silenced.Store(true)

	p.mu.Lock()
	l := p.lane
	p.buf.Reset()
	if p.holdTimer != nil {
		p.holdTimer.Stop()
	}
	p.holdTimer = time.AfterFunc(p.cfg.SilenceHold, func() {
		p.silenced.Store(false)
		p.logger.Debug("audio system ready for new audio")
	})
	p.mu.Unlock()

	if l != nil {
		drain(l.queue)
	}
	p.logger.Info("stopped current audio")
}

// AddAudio decodes chunk (raw PCM16 or WAV) and queues it for the current
// generation. Chunks arriving while output is silenced are discarded.
func (p *Player) AddAudio(chunk []byte) error {
	if p.silenced.Load() {
		return nil
	}

	samples, err := audio.DecodeChunk(chunk, p.cfg.SampleRate)
	if err != nil {
		return fmt.Errorf("decode audio chunk: %w", err)
	}
	if len(samples) == 0 {
		return nil
	}

	p.mu.Lock()
	l := p.lane
	p.mu.Unlock()
	if l == nil {
		return ErrPlayerStopped
	}

	timer := time.NewTimer(p.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case l.queue <- samples:
		return nil
	case <-l.done:
		return nil
	case <-timer.C:
		return ErrPlaybackQueueFull
	}
}

// Render fills out from the buffer of the current generation, zero-filling
// on underrun. It returns the number of real samples written.
func (p *Player) Render(out []int16) int {
	p.mu.Lock()
	gen := p.generation
	p.mu.Unlock()
	return p.render(gen, out)
}

func (p *Player) render(gen uint64, out []int16) int {
	p.mu.Lock()
	if gen != p.generation || p.silenced.Load() {
		p.mu.Unlock()
		for i := range out {
			out[i] = 0
		}
		return 0
	}
	n := p.buf.ReadInto(out)
	remaining := p.buf.Len()
	p.mu.Unlock()

	if n > 0 {
		p.lastRendered.Store(time.Now().UnixNano())
	}
	if remaining < p.refillSamples {
		select {
		case p.needMore <- struct{}{}:
		default:
		}
	}
	return n
}

// Generation returns the current playback generation.
func (p *Player) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// ActiveWorkers returns the number of worker goroutines still running,
// including stale ones that have not yet observed their retirement.
func (p *Player) ActiveWorkers() int {
	return int(p.workers.Load())
}

// Buffered returns the number of samples waiting to be rendered.
func (p *Player) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Len()
}

// IsPlaying reports whether the player has been started and not stopped.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// LastRenderedAt returns when non-silent audio was last handed to the device.
func (p *Player) LastRenderedAt() time.Time {
	ns := p.lastRendered.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (p *Player) newLaneLocked() *lane {
	p.generation++
	l := &lane{
		generation: p.generation,
		queue:      make(chan []int16, p.cfg.QueueSize),
		done:       make(chan struct{}),
	}
	p.lane = l
	return l
}

func (p *Player) worker(l *lane) {
	defer p.wg.Done()
	defer p.workers.Add(-1)

	p.logger.Debug("playback worker started", "generation", l.generation)
	defer p.logger.Debug("playback worker exited", "generation", l.generation)

	if p.device != nil {
		if err := p.openStream(l); err != nil {
			p.logger.Error("failed to open playback stream", "generation", l.generation, "error", err)
		}
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		default:
		}

		if p.silenced.Load() || p.Buffered() >= p.refillSamples {
			select {
			case <-l.done:
				return
			case <-p.needMore:
			case <-ticker.C:
			}
			continue
		}

		select {
		case <-l.done:
			return
		case samples := <-l.queue:
			if p.appendIfCurrent(l, samples) && p.echo != nil {
				p.echo.RecordPlayedAudio(samples, p.cfg.SampleRate)
			}
		case <-ticker.C:
		}
	}
}

func (p *Player) appendIfCurrent(l *lane, samples []int16) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lane != l || p.silenced.Load() {
		return false
	}
	p.buf.Append(samples)
	return true
}

// openStream runs outside p.mu since the device may invoke the render
// callback before Start returns.
func (p *Player) openStream(l *lane) error {
	stream, err := p.device.OpenPlayback(p.cfg.SampleRate, p.cfg.BlockSize, func(out []int16) {
		p.render(l.generation, out)
	})
	if err != nil {
		return err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return err
	}

	p.mu.Lock()
	if p.lane != l {
		p.mu.Unlock()
		p.logger.Debug("generation retired before stream opened", "generation", l.generation)
		return stream.Close()
	}
	p.stream = stream
	p.mu.Unlock()

	p.logger.Debug("playback stream started", "generation", l.generation)
	return nil
}

func drain(queue chan []int16) {
	for {
		select {
		case <-queue:
		default:
			return
		}
	}
}

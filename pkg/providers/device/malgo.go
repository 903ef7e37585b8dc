package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/lokutor-ai/lokutor-realtime/pkg/orchestrator"
)

var ErrCaptureRunning = errors.New("capture already running")

// Malgo provides microphone capture and speaker playback through miniaudio.
// One Malgo owns a single audio context shared by all of its devices.
type Malgo struct {
	ctx    *malgo.AllocatedContext
	logger orchestrator.Logger

	mu      sync.Mutex
	capture *malgo.Device
}

// NewMalgo initializes the audio backend.
func NewMalgo(logger orchestrator.Logger) (*Malgo, error) {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", orchestrator.ErrDeviceUnavailable, err)
	}
	return &Malgo{ctx: ctx, logger: logger}, nil
}

// StartCapture opens the default input device as 16-bit mono and delivers
// normalized frames of exactly frameSize samples.
func (m *Malgo) StartCapture(sampleRate, frameSize int, onFrame func(frame []float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capture != nil {
		return ErrCaptureRunning
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(sampleRate)
	cfg.PeriodSizeInFrames = uint32(frameSize)
	cfg.Alsa.NoMMap = 1

	blocks := newFrameBlocker(frameSize, onFrame)
	dev, err := malgo.InitDevice(m.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, _ uint32) {
			blocks.write(pInput)
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", orchestrator.ErrDeviceUnavailable, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("%w: %v", orchestrator.ErrDeviceUnavailable, err)
	}
	m.capture = dev
	m.logger.Info("capture started", "sampleRate", sampleRate, "frameSize", frameSize)
	return nil
}

// StopCapture closes the input device. It is safe to call when not capturing.
func (m *Malgo) StopCapture() error {
	m.mu.Lock()
	dev := m.capture
	m.capture = nil
	m.mu.Unlock()
	if dev == nil {
		return nil
	}
	err := dev.Stop()
	dev.Uninit()
	return err
}

// OpenPlayback opens the default output device as 16-bit mono. The stream
// stays paused until Start.
func (m *Malgo) OpenPlayback(sampleRate, frameSize int, render func(out []int16)) (orchestrator.OutputStream, error) {
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(sampleRate)
	cfg.PeriodSizeInFrames = uint32(frameSize)
	cfg.Alsa.NoMMap = 1

	fill := newBlockFiller(frameSize, render)
	dev, err := malgo.InitDevice(m.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, _ uint32) {
			fill.read(pOutput)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", orchestrator.ErrDeviceUnavailable, err)
	}
	return &outputStream{dev: dev}, nil
}

// Close stops capture and releases the audio context.
func (m *Malgo) Close() error {
	err := m.StopCapture()
	if uerr := m.ctx.Uninit(); uerr != nil && err == nil {
		err = uerr
	}
	m.ctx.Free()
	return err
}

type outputStream struct {
	dev  *malgo.Device
	once sync.Once
}

func (s *outputStream) Start() error {
	if err := s.dev.Start(); err != nil {
		return fmt.Errorf("%w: %v", orchestrator.ErrDeviceUnavailable, err)
	}
	return nil
}

func (s *outputStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.dev.Stop()
		s.dev.Uninit()
	})
	return err
}

// frameBlocker regroups little-endian PCM16 callback buffers of any length
// into normalized frames of a fixed size.
type frameBlocker struct {
	frame   []float32
	n       int
	odd     []byte
	onFrame func([]float32)
}

func newFrameBlocker(frameSize int, onFrame func([]float32)) *frameBlocker {
	return &frameBlocker{
		frame:   make([]float32, frameSize),
		odd:     make([]byte, 0, 1),
		onFrame: onFrame,
	}
}

func (b *frameBlocker) write(data []byte) {
	if len(b.odd) == 1 && len(data) > 0 {
		b.push(int16(binary.LittleEndian.Uint16([]byte{b.odd[0], data[0]})))
		b.odd = b.odd[:0]
		data = data[1:]
	}
	for len(data) >= 2 {
		b.push(int16(binary.LittleEndian.Uint16(data)))
		data = data[2:]
	}
	if len(data) == 1 {
		b.odd = append(b.odd, data[0])
	}
}

func (b *frameBlocker) push(s int16) {
	b.frame[b.n] = float32(s) / 32768.0
	b.n++
	if b.n == len(b.frame) {
		b.onFrame(b.frame)
		b.n = 0
	}
}

// blockFiller serves output buffers of any length from a render function
// that produces fixed-size blocks.
type blockFiller struct {
	block  []int16
	pos    int
	render func([]int16)
}

func newBlockFiller(blockSize int, render func([]int16)) *blockFiller {
	return &blockFiller{
		block:  make([]int16, blockSize),
		pos:    blockSize,
		render: render,
	}
}

func (f *blockFiller) read(out []byte) {
	for len(out) >= 2 {
		if f.pos == len(f.block) {
			f.render(f.block)
			f.pos = 0
		}
		n := copy16(out, f.block[f.pos:])
		f.pos += n
		out = out[2*n:]
	}
	for i := range out {
		out[i] = 0
	}
}

func copy16(dst []byte, src []int16) int {
	n := len(dst) / 2
	if len(src) < n {
		n = len(src)
	}
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(src[i]))
	}
	return n
}

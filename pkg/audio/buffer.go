package audio

// SampleBuffer is a growable FIFO of PCM16 samples feeding a fixed-size
// audio callback. It never blocks and never allocates on the read path.
// It is not safe for concurrent use; the owner serializes access.
type SampleBuffer struct {
	buf  []int16
	head int
}

// Append copies samples onto the tail of the buffer.
func (b *SampleBuffer) Append(samples []int16) {
	if len(samples) == 0 {
		return
	}
	if b.head > 0 && b.head >= len(b.buf)/2 {
		n := copy(b.buf, b.buf[b.head:])
		b.buf = b.buf[:n]
		b.head = 0
	}
	b.buf = append(b.buf, samples...)
}

// Len returns the number of buffered samples.
func (b *SampleBuffer) Len() int {
	return len(b.buf) - b.head
}

// ReadInto fills out from the front of the buffer and zero-fills whatever
// the buffer could not cover. It returns the number of real samples copied.
func (b *SampleBuffer) ReadInto(out []int16) int {
	n := copy(out, b.buf[b.head:])
	b.head += n
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	if b.head == len(b.buf) {
		b.buf = b.buf[:0]
		b.head = 0
	}
	return n
}

// Reset drops all buffered samples.
func (b *SampleBuffer) Reset() {
	b.buf = b.buf[:0]
	b.head = 0
}

// FrameRing keeps the most recent frames up to a fixed capacity, dropping
// the oldest on overflow. It is used as the pre-roll in front of detected
// speech. Not safe for concurrent use.
type FrameRing struct {
	frames []Frame
	start  int
	n      int
}

// NewFrameRing creates a ring holding at most capacity frames.
func NewFrameRing(capacity int) *FrameRing {
	if capacity < 0 {
		capacity = 0
	}
	return &FrameRing{frames: make([]Frame, capacity)}
}

// Push appends f, evicting the oldest frame when full.
func (r *FrameRing) Push(f Frame) {
	if len(r.frames) == 0 {
		return
	}
	if r.n < len(r.frames) {
		r.frames[(r.start+r.n)%len(r.frames)] = f
		r.n++
		return
	}
	r.frames[r.start] = f
	r.start = (r.start + 1) % len(r.frames)
}

// Frames returns the buffered frames, oldest first.
func (r *FrameRing) Frames() []Frame {
	out := make([]Frame, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.frames[(r.start+i)%len(r.frames)]
	}
	return out
}

// Len returns the number of frames held.
func (r *FrameRing) Len() int { return r.n }

// Cap returns the ring capacity.
func (r *FrameRing) Cap() int { return len(r.frames) }

// Reset empties the ring.
func (r *FrameRing) Reset() {
	for i := range r.frames {
		r.frames[i] = nil
	}
	r.start = 0
	r.n = 0
}

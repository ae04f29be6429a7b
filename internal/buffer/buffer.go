package buffer

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrShapeMismatch is returned by Append when a frame's width differs from the
// buffer's channel count. The buffer is left untouched
var ErrShapeMismatch = errors.New("frame width does not match buffer channel count")

// minGrowth is the initial per-channel allocation of an unbounded buffer
const minGrowth = 256

// Config holds construction parameters for a SampleBuffer
type Config struct {
	Channels   int     // Frame width, fixed for the buffer's lifetime
	SampleRate float64 // Nominal sampling rate in Hz
	Capacity   int     // Frames retained per channel; 0 keeps everything
}

// Window is an independent copy of the most recent samples of a buffer
type Window struct {
	Data       [][]float64 // channels x samples
	SampleRate float64
	End        time.Time // Timestamp of the newest frame, zero when empty
}

// Samples returns the number of frames in the window
func (w Window) Samples() int {
	if len(w.Data) == 0 {
		return 0
	}
	return len(w.Data[0])
}

// SampleBuffer is a multichannel sample history with one writer and any
// number of concurrent readers. Channel data is stored in parallel ring
// slices; readers always receive copies
type SampleBuffer struct {
	mu sync.RWMutex

	channels   int
	sampleRate float64
	capacity   int

	data [][]float64 // per-channel ring storage, all the same length
	head int         // index of the oldest retained frame
	size int         // retained frames

	total      uint64
	lastUpdate time.Time
	active     bool
}

// New creates a SampleBuffer. A bounded buffer allocates its ring up front
func New(cfg Config) (*SampleBuffer, error) {
	if cfg.Channels < 1 {
		return nil, fmt.Errorf("invalid channel count %d", cfg.Channels)
	}
	if cfg.SampleRate <= 0 || math.IsNaN(cfg.SampleRate) || math.IsInf(cfg.SampleRate, 0) {
		return nil, fmt.Errorf("invalid sample rate %v", cfg.SampleRate)
	}
	if cfg.Capacity < 0 {
		return nil, fmt.Errorf("invalid capacity %d", cfg.Capacity)
	}

	b := &SampleBuffer{
		channels:   cfg.Channels,
		sampleRate: cfg.SampleRate,
		capacity:   cfg.Capacity,
		data:       make([][]float64, cfg.Channels),
	}
	if cfg.Capacity > 0 {
		for ch := range b.data {
			b.data[ch] = make([]float64, cfg.Capacity)
		}
	}
	return b, nil
}

// Append stores frames in arrival order and records ts as the last update
// Every frame is validated before any is stored
func (b *SampleBuffer) Append(ts time.Time, frames ...[]float64) error {
	for i, frame := range frames {
		if len(frame) != b.channels {
			return fmt.Errorf("%w: frame %d has %d values, want %d", ErrShapeMismatch, i, len(frame), b.channels)
		}
	}
	if len(frames) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += uint64(len(frames))
	b.lastUpdate = ts
	b.active = true

	if b.capacity > 0 && len(frames) > b.capacity {
		// Only the newest capacity frames survive; write those into a fresh ring
		frames = frames[len(frames)-b.capacity:]
		b.head, b.size = 0, 0
	}
	if b.capacity == 0 {
		b.grow(b.size + len(frames))
	}

	ring := len(b.data[0])
	for _, frame := range frames {
		idx := (b.head + b.size) % ring
		for ch, v := range frame {
			b.data[ch][idx] = v
		}
		if b.size == ring {
			b.head = (b.head + 1) % ring
		} else {
			b.size++
		}
	}
	return nil
}

// grow linearises the ring into storage that holds at least need frames
func (b *SampleBuffer) grow(need int) {
	ring := len(b.data[0])
	if need <= ring {
		return
	}
	n := ring * 2
	if n < minGrowth {
		n = minGrowth
	}
	for n < need {
		n *= 2
	}
	for ch := range b.data {
		next := make([]float64, n)
		b.copyOut(next[:b.size], ch, b.head)
		b.data[ch] = next
	}
	b.head = 0
}

// copyOut copies len(dst) frames of channel ch starting at ring index start
func (b *SampleBuffer) copyOut(dst []float64, ch, start int) {
	src := b.data[ch]
	if len(src) == 0 {
		return
	}
	n := copy(dst, src[start:])
	if n < len(dst) {
		copy(dst[n:], src)
	}
}

// Window returns a copy of the newest seconds*rate frames, clamped to the
// retained history. It never fails; before any append it is empty
func (b *SampleBuffer) Window(seconds float64) Window {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	if seconds > 0 && !math.IsNaN(seconds) {
		want := seconds * b.sampleRate
		if want >= float64(b.size) {
			n = b.size
		} else {
			n = int(want)
		}
	}

	w := Window{
		Data:       make([][]float64, b.channels),
		SampleRate: b.sampleRate,
	}
	if b.size > 0 {
		w.End = b.lastUpdate
	}
	if n == 0 {
		for ch := range w.Data {
			w.Data[ch] = []float64{}
		}
		return w
	}

	start := (b.head + b.size - n) % len(b.data[0])
	for ch := range w.Data {
		w.Data[ch] = make([]float64, n)
		b.copyOut(w.Data[ch], ch, start)
	}
	return w
}

// IsActive reports whether any frame has ever been appended
func (b *SampleBuffer) IsActive() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// LastUpdate returns the timestamp passed to the most recent Append
func (b *SampleBuffer) LastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}

// Len returns the number of retained frames
func (b *SampleBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Total returns the number of frames ever appended, including evicted ones
func (b *SampleBuffer) Total() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}

// Channels returns the frame width
func (b *SampleBuffer) Channels() int {
	return b.channels
}

// Capacity returns the retention bound, 0 when unbounded
func (b *SampleBuffer) Capacity() int {
	return b.capacity
}

// SampleRate returns the nominal sampling rate
func (b *SampleBuffer) SampleRate() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sampleRate
}

// SetSampleRate replaces the nominal rate reported by the source
func (b *SampleBuffer) SetSampleRate(fs float64) error {
	if fs <= 0 || math.IsNaN(fs) || math.IsInf(fs, 0) {
		return fmt.Errorf("invalid sample rate %v", fs)
	}
	b.mu.Lock()
	b.sampleRate = fs
	b.mu.Unlock()
	return nil
}

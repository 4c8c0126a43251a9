// Package audio provides the sliding window buffer and sample format helpers
// for the realtime pipeline.
package audio

import "sync"

// Window is a fixed-capacity ring buffer of mono float32 samples holding the
// trailing span of captured audio. Once the capacity is exceeded the oldest
// samples are evicted first.
//
// Safe for one concurrent writer (the capture path calling Push) and one
// concurrent reader (the tick loop calling Snapshot). Snapshot never blocks
// the writer for longer than the copy.
type Window struct {
	mu         sync.Mutex
	buf        []float32
	start      int // index of the oldest sample
	length     int
	sampleRate int
	pushed     uint64 // total samples ever pushed, for offset accounting
}

// NewWindow creates a window holding at most capacity samples.
func NewWindow(capacity, sampleRate int) *Window {
	if capacity <= 0 {
		capacity = 1
	}
	return &Window{
		buf:        make([]float32, capacity),
		sampleRate: sampleRate,
	}
}

// SampleRate returns the declared sample rate of the buffered audio.
func (w *Window) SampleRate() int {
	return w.sampleRate
}

// Push appends samples, evicting the oldest ones beyond capacity. A push
// larger than the capacity leaves only the newest capacity samples.
func (w *Window) Push(samples []float32) {
	if len(samples) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pushed += uint64(len(samples))

	capacity := len(w.buf)
	if len(samples) >= capacity {
		copy(w.buf, samples[len(samples)-capacity:])
		w.start = 0
		w.length = capacity
		return
	}

	pos := (w.start + w.length) % capacity
	n := copy(w.buf[pos:], samples)
	if n < len(samples) {
		copy(w.buf, samples[n:])
	}

	w.length += len(samples)
	if w.length > capacity {
		w.start = (w.start + w.length - capacity) % capacity
		w.length = capacity
	}
}

// Len returns the number of buffered samples.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.length
}

// TotalPushed returns the total number of samples ever pushed, including
// evicted ones.
func (w *Window) TotalPushed() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pushed
}

// Snapshot returns a copy of the current contents in capture order. The copy
// is independent of the buffer; later pushes do not mutate it.
func (w *Window) Snapshot() []float32 {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]float32, w.length)
	n := copy(out, w.buf[w.start:min(w.start+w.length, len(w.buf))])
	if n < w.length {
		copy(out[n:], w.buf[:w.length-n])
	}
	return out
}

// Tail returns a copy of up to n of the newest samples. Used by the voice
// activity gate, which only inspects the end of the window.
func (w *Window) Tail(n int) []float32 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n > w.length {
		n = w.length
	}
	if n <= 0 {
		return nil
	}
	out := make([]float32, n)
	first := (w.start + w.length - n) % len(w.buf)
	c := copy(out, w.buf[first:min(first+n, len(w.buf))])
	if c < n {
		copy(out[c:], w.buf[:n-c])
	}
	return out
}

package history

import "sync"

// DefaultCapacity is the number of samples kept per metric.
const DefaultCapacity = 100

// Series is a fixed-capacity FIFO of the most recent samples of one metric.
// Appends past capacity evict the oldest sample. Order is arrival order.
type Series struct {
	mu    sync.RWMutex
	buf   []float64
	start int // index of the oldest sample
	n     int
}

// NewSeries creates a Series holding at most capacity samples.
// A non-positive capacity falls back to DefaultCapacity.
func NewSeries(capacity int) *Series {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Series{buf: make([]float64, capacity)}
}

// Append adds v, evicting the oldest sample when full.
func (s *Series) Append(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := len(s.buf)
	if s.n < c {
		s.buf[(s.start+s.n)%c] = v
		s.n++
		return
	}
	s.buf[s.start] = v
	s.start = (s.start + 1) % c
}

// Snapshot returns a copy of the samples, oldest first.
func (s *Series) Snapshot() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]float64, s.n)
	c := len(s.buf)
	for i := 0; i < s.n; i++ {
		out[i] = s.buf[(s.start+i)%c]
	}
	return out
}

// Len returns the number of samples currently held.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.n
}

// Cap returns the fixed capacity.
func (s *Series) Cap() int {
	return len(s.buf)
}

// Latest returns the most recent sample.
func (s *Series) Latest() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.n == 0 {
		return 0, false
	}
	return s.buf[(s.start+s.n-1)%len(s.buf)], true
}

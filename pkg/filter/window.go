package filter

import "gonum.org/v1/gonum/floats"

// MinWindow emits the lowest of the last size readings. The resistance
// sensor occasionally spikes for a single reading.
type MinWindow struct {
	size int
	buf  []float64
}

// NewMinWindow creates a window of the given size (at least 1).
func NewMinWindow(size int) *MinWindow {
	if size < 1 {
		size = 1
	}
	return &MinWindow{size: size, buf: make([]float64, 0, size)}
}

// Push adds a reading. ok is false until the window has filled.
func (w *MinWindow) Push(v float64) (min float64, ok bool) {
	if len(w.buf) == w.size {
		copy(w.buf, w.buf[1:])
		w.buf = w.buf[:w.size-1]
	}
	w.buf = append(w.buf, v)

	if len(w.buf) < w.size {
		return 0, false
	}
	return floats.Min(w.buf), true
}

// Flush ends the stream. It returns the minimum of every trailing partial
// window, oldest first, and empties the window. A full window of size n
// leaves n-1 partial windows; a window that never filled leaves one per
// buffered reading.
func (w *MinWindow) Flush() []float64 {
	start := 0
	if len(w.buf) == w.size {
		start = 1
	}

	var mins []float64
	for i := start; i < len(w.buf); i++ {
		mins = append(mins, floats.Min(w.buf[i:]))
	}
	w.buf = w.buf[:0]
	return mins
}

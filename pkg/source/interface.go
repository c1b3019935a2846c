package source

import (
	"time"

	"github.com/spop/grupetto/pkg/sensor"
)

// DefaultBufferSize is the default size for the frames channel buffer.
const DefaultBufferSize = 100

// Frame is one raw response from the sensor service, already routed to its channel.
type Frame struct {
	Channel   sensor.Channel
	Raw       string // Hex frame or wire.TimeoutSentinel
	Timestamp time.Time
}

// Source defines the interface for frame sources (serial bridge, mock or dead).
type Source interface {
	Connect() error
	Close() error
	Frames() <-chan Frame
	IsConnected() bool
}

var (
	_ Source = (*Serial)(nil)
	_ Source = (*Mock)(nil)
	_ Source = (*Dead)(nil)
)

// push delivers f without blocking. When the buffer is full the oldest
// queued frame is discarded; stale frames are worthless for a live display.
// Returns false if a frame was dropped.
func push(ch chan Frame, f Frame) bool {
	select {
	case ch <- f:
		return true
	default:
	}

	select {
	case <-ch:
	default:
	}

	select {
	case ch <- f:
	default:
	}
	return false
}

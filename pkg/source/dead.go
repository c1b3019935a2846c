package source

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Dead is a source that connects but never reports anything. It is used
// to exercise dead source detection.
type Dead struct {
	frames    chan Frame
	mu        sync.RWMutex
	connected bool
}

// NewDead creates a dead source.
func NewDead(log logrus.FieldLogger) *Dead {
	log.Warn("Using dead sensor source, values will not update")
	return &Dead{frames: make(chan Frame)}
}

func (d *Dead) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}
	d.connected = true
	return nil
}

func (d *Dead) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}
	d.connected = false
	close(d.frames)
	return nil
}

func (d *Dead) Frames() <-chan Frame {
	return d.frames
}

func (d *Dead) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

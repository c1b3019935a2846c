package source

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/spop/grupetto/pkg/config"
	"github.com/spop/grupetto/pkg/sensor"
	"github.com/spop/grupetto/pkg/wire"
)

// mockStepDegrees is the phase advance of the simulated sine waves per sample.
const mockStepDegrees = 10

// Mock simulates the sensor service for development without a bike.
// Each channel follows a sine wave between zero and its configured peak and
// is encoded into real wire frames.
type Mock struct {
	cfg *config.MockConfig

	frames    chan Frame
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool

	step int
}

// NewMock creates a new mock source.
func NewMock(cfg *config.MockConfig) *Mock {
	if cfg == nil {
		def := config.Default().Mock
		cfg = &def
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Mock{
		cfg:    cfg,
		frames: make(chan Frame, DefaultBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connect starts generating frames.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}

	m.connected = true
	go m.generateFrames()

	return nil
}

// Close stops the mock source.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil
	}

	m.cancel()
	m.connected = false
	close(m.frames)

	return nil
}

// Frames returns the channel for reading frames.
func (m *Mock) Frames() <-chan Frame {
	return m.frames
}

// IsConnected returns whether the mock is currently connected.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *Mock) generateFrames() {
	ticker := time.NewTicker(m.cfg.SampleRate)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.C:
			frames := m.generate(now)

			m.mu.RLock()
			if m.connected {
				for _, f := range frames {
					push(m.frames, f)
				}
			}
			m.mu.RUnlock()
		}
	}
}

// generate produces one frame per channel for the current phase.
func (m *Mock) generate(now time.Time) []Frame {
	degrees := float64((m.step % 37) * mockStepDegrees)
	m.step++
	wave := math.Sin(degrees*math.Pi/180) + 1

	peaks := map[sensor.Channel]float64{
		sensor.Power:      m.cfg.Power,
		sensor.Cadence:    m.cfg.Cadence,
		sensor.Resistance: m.cfg.Resistance,
	}

	frames := make([]Frame, 0, len(sensor.Channels))
	for _, c := range sensor.Channels {
		frames = append(frames, Frame{
			Channel:   c,
			Raw:       wire.EncodeValue(responseCommand(c), wave*peaks[c]/2),
			Timestamp: now,
		})
	}
	return frames
}

// responseCommand is the command id the sensor service answers with.
// Power is the only channel using the decimal encoding.
func responseCommand(c sensor.Channel) byte {
	if c == sensor.Power {
		return wire.DecimalCommandID
	}
	return byte(sensor.Descriptors[c].RequestCommand)
}

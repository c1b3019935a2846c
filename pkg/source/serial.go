// Package source provides raw sensor frames to the telemetry pipeline.
package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/spop/grupetto/pkg/sensor"
)

// DefaultBaudRate is the bridge's default baud rate.
const DefaultBaudRate = 115200

const (
	reconnectDelay    = time.Second
	maxReconnectDelay = 10 * time.Second
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial reads frames from a sensor bridge over a serial port.
//
// The bridge forwards each sensor service response as one line:
// <channel>,<frame>, e.g. "power,00 44 03 35 32 31" or "cadence,TIME_OUT".
// On connect the repeating request for every channel is sent as
// "REQ <command>". A failed read reopens the port with backoff until Close.
type Serial struct {
	port     string
	baudRate int
	bufSize  int
	log      logrus.FieldLogger

	open       func(name string, mode *serial.Mode) (serial.Port, error)
	retryDelay time.Duration

	conn      serial.Port
	frames    chan Frame
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
}

// NewSerial creates a new serial source with the specified port, baud rate, and buffer size.
func NewSerial(port string, baudRate int, bufSize int, log logrus.FieldLogger) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Serial{
		port:     port,
		baudRate: baudRate,
		bufSize:  bufSize,
		log:      log.WithField("source", "serial"),
		frames:   make(chan Frame, bufSize),

		open:       serial.Open,
		retryDelay: reconnectDelay,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Connect opens the serial port, requests all channels and starts reading frames.
func (s *Serial) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return fmt.Errorf("already connected")
	}

	port, err := s.dial()
	if err != nil {
		return err
	}

	s.conn = port
	s.connected = true

	go s.readFrames(port)

	return nil
}

// dial opens the port and requests all channels.
func (s *Serial) dial() (serial.Port, error) {
	port, err := s.open(s.port, &serial.Mode{BaudRate: s.baudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", s.port, err)
	}

	if _, err := io.WriteString(port, requestCommands()); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to send sensor requests: %w", err)
	}

	return port, nil
}

// Close closes the connection and stops reading frames.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}

	s.cancel()

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.log.WithError(err).Warn("Error closing serial port")
		}
		s.conn = nil
	}

	s.connected = false
	close(s.frames)

	return nil
}

// Frames returns the channel for reading frames.
func (s *Serial) Frames() <-chan Frame {
	return s.frames
}

// IsConnected returns whether the source is currently connected.
func (s *Serial) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// readFrames reads lines from the serial port and parses them into frames.
// When the port fails it is reopened until the source is closed.
func (s *Serial) readFrames(port serial.Port) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("Panic in readFrames: %v", r)
		}
	}()

	for {
		err := s.scan(port)
		if s.ctx.Err() != nil {
			return
		}
		if err == nil {
			err = io.EOF
		}
		s.log.WithError(err).Error("Error reading from serial port, reconnecting")

		port = s.reconnect(port)
		if port == nil {
			return
		}
	}
}

// scan forwards frames until the port stops delivering lines.
func (s *Serial) scan(port serial.Port) error {
	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		select {
		case <-s.ctx.Done():
			return nil
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		frame, err := parseLine(line, time.Now())
		if err != nil {
			s.log.WithError(err).Debugf("Failed to parse line %q", line)
			continue
		}

		s.mu.RLock()
		if s.connected {
			if !push(s.frames, frame) {
				s.log.Debug("Frames channel full, dropped oldest frame")
			}
		}
		s.mu.RUnlock()
	}
	return scanner.Err()
}

// reconnect closes the failed port and reopens it with exponential backoff.
// Returns nil once the source has been closed.
func (s *Serial) reconnect(failed serial.Port) serial.Port {
	s.mu.Lock()
	if s.conn == failed {
		failed.Close()
		s.conn = nil
	}
	s.mu.Unlock()

	delay := s.retryDelay
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case <-time.After(delay):
		}

		port, err := s.dial()
		if err != nil {
			s.log.WithError(err).Warnf("Reconnect failed, retrying in %s", min(delay*2, maxReconnectDelay))
			delay = min(delay*2, maxReconnectDelay)
			continue
		}

		s.mu.Lock()
		if !s.connected {
			s.mu.Unlock()
			port.Close()
			return nil
		}
		s.conn = port
		s.mu.Unlock()

		s.log.Info("Serial port reconnected")
		return port
	}
}

// parseLine parses a bridge line into a Frame.
// Format: <channel>,<frame>
func parseLine(line string, now time.Time) (Frame, error) {
	name, raw, ok := strings.Cut(line, ",")
	if !ok {
		return Frame{}, fmt.Errorf("invalid line format: missing channel separator")
	}

	channel, err := sensor.ParseChannel(name)
	if err != nil {
		return Frame{}, fmt.Errorf("invalid channel: %w", err)
	}

	return Frame{
		Channel:   channel,
		Raw:       strings.TrimSpace(raw),
		Timestamp: now,
	}, nil
}

// requestCommands builds the repeating request lines for every channel,
// ordered by command id.
func requestCommands() string {
	commands := make([]int, 0, len(sensor.Descriptors))
	for _, d := range sensor.Descriptors {
		commands = append(commands, d.RequestCommand)
	}
	sort.Ints(commands)

	var b strings.Builder
	for _, c := range commands {
		fmt.Fprintf(&b, "REQ %d\n", c)
	}
	return b.String()
}

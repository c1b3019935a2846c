package pipeline

import (
	"context"
	"time"

	"github.com/spop/grupetto/pkg/watchdog"
)

// Speed is the name of the derived speed quantity.
const Speed = "speed"

// Reading is one exposed value of a channel or derived quantity.
type Reading struct {
	Session   string    `json:"session"`
	Channel   string    `json:"channel"` // power, cadence, resistance or speed
	Raw       float64   `json:"raw"`     // Scaled value before filtering
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives readings and liveness events from a dedicated goroutine.
// A slow sink delays other sinks but never the channel filters.
type Sink interface {
	Name() string
	Publish(ctx context.Context, r Reading) error
	Alert(ctx context.Context, ev watchdog.Event) error
}

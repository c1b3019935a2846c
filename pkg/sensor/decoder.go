package sensor

import (
	"fmt"
	"time"

	"github.com/spop/grupetto/pkg/wire"
)

// Sample is a decoded, scaled channel value.
type Sample struct {
	Channel   Channel
	Value     float64
	Seq       uint64 // Arrival order within the channel, starting at 1
	Timestamp time.Time
}

// Decoder decodes frames for a single channel. It is not safe for
// concurrent use.
type Decoder struct {
	desc Descriptor
	seq  uint64
	now  func() time.Time
}

// NewDecoder creates a decoder for channel c.
func NewDecoder(c Channel) (*Decoder, error) {
	desc, ok := Lookup(c)
	if !ok {
		return nil, fmt.Errorf("no descriptor for %s", c)
	}
	return &Decoder{desc: desc, now: time.Now}, nil
}

// Channel returns the decoder's channel.
func (d *Decoder) Channel() Channel {
	return d.desc.Channel
}

// Decode converts a raw response into a Sample. Failures are returned as *Fault.
func (d *Decoder) Decode(raw string) (Sample, error) {
	if raw == wire.TimeoutSentinel {
		return Sample{}, &Fault{Kind: FaultTimeout, Channel: d.desc.Channel, Raw: raw}
	}

	frame, err := wire.DecodeFrame(raw)
	if err != nil {
		return Sample{}, &Fault{Kind: FaultParse, Channel: d.desc.Channel, Raw: raw, Err: err}
	}

	d.seq++
	return Sample{
		Channel:   d.desc.Channel,
		Value:     frame.Value / d.desc.Scale,
		Seq:       d.seq,
		Timestamp: d.now(),
	}, nil
}

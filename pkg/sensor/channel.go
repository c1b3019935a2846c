// Package sensor turns raw per-channel responses into scaled samples.
package sensor

import (
	"fmt"
	"strings"
)

// Channel is one of the measured quantities.
type Channel int

const (
	Power Channel = iota
	Cadence
	Resistance
)

// Channels lists every channel in display order.
var Channels = []Channel{Power, Cadence, Resistance}

var channelNames = map[Channel]string{
	Power:      "power",
	Cadence:    "cadence",
	Resistance: "resistance",
}

func (c Channel) String() string {
	if name, ok := channelNames[c]; ok {
		return name
	}
	return fmt.Sprintf("channel(%d)", int(c))
}

// ParseChannel parses a channel name. "rpm" is accepted for cadence.
func ParseChannel(s string) (Channel, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "rpm" {
		return Cadence, nil
	}
	for c, name := range channelNames {
		if name == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown channel %q", s)
}

// Descriptor describes how a channel is requested and scaled.
type Descriptor struct {
	Channel        Channel
	RequestCommand int     // Repeating request command sent to the sensor service
	Scale          float64 // Decoded values are divided by this
}

// Descriptors is the per-channel protocol table.
var Descriptors = map[Channel]Descriptor{
	Cadence:    {Channel: Cadence, RequestCommand: 1, Scale: 10},
	Power:      {Channel: Power, RequestCommand: 2, Scale: 10},
	Resistance: {Channel: Resistance, RequestCommand: 3, Scale: 10},
}

// Lookup returns the descriptor for c.
func Lookup(c Channel) (Descriptor, bool) {
	d, ok := Descriptors[c]
	return d, ok
}

package sensor

import (
	"errors"
	"fmt"
)

// FaultKind classifies a recoverable channel fault.
type FaultKind int

const (
	// FaultTimeout means the sensor service explicitly reported no data.
	FaultTimeout FaultKind = iota + 1
	// FaultParse means the frame could not be decoded.
	FaultParse
)

func (k FaultKind) String() string {
	switch k {
	case FaultTimeout:
		return "timeout"
	case FaultParse:
		return "parse"
	default:
		return fmt.Sprintf("fault(%d)", int(k))
	}
}

// Fault is a per-frame failure. It never ends the stream; callers log it
// and continue with the next frame.
type Fault struct {
	Kind    FaultKind
	Channel Channel
	Raw     string
	Err     error // Underlying decode error for FaultParse
}

func (f *Fault) Error() string {
	switch f.Kind {
	case FaultTimeout:
		return fmt.Sprintf("%s sensor timeout", f.Channel)
	case FaultParse:
		return fmt.Sprintf("cannot parse %s sensor output %q: %v", f.Channel, f.Raw, f.Err)
	default:
		return fmt.Sprintf("%s sensor %s", f.Channel, f.Kind)
	}
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// IsRecoverable reports whether err is a channel fault that should be
// logged and skipped.
func IsRecoverable(err error) bool {
	var fault *Fault
	return errors.As(err, &fault)
}

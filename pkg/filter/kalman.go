// Package filter contains the per-channel signal conditioning stages.
// None of the filters are safe for concurrent use; each one belongs to a
// single channel goroutine.
package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// SmoothFactor is the Kalman sensor noise. Heavier smoothing reacts to
// changes more slowly.
type SmoothFactor float64

const (
	SmoothHeavy   SmoothFactor = 32
	SmoothNormal  SmoothFactor = 16
	SmoothLight   SmoothFactor = 8
	SmoothMinimal SmoothFactor = 4
)

// CustomSmoothFactor returns a smoothing factor outside the presets.
func CustomSmoothFactor(noise float64) SmoothFactor {
	return SmoothFactor(noise)
}

// ParseSmoothFactor accepts a preset name or a positive number.
func ParseSmoothFactor(s string) (SmoothFactor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "heavy":
		return SmoothHeavy, nil
	case "normal", "":
		return SmoothNormal, nil
	case "light":
		return SmoothLight, nil
	case "minimal":
		return SmoothMinimal, nil
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid smoothing factor %q", s)
	}
	return CustomSmoothFactor(v), nil
}

// Kalman is a single state Kalman estimator.
type Kalman struct {
	processNoise   float64
	sensorNoise    SmoothFactor
	estimatedError float64
	gain           float64
	value          float64

	initialProcessNoise   float64
	initialSensorNoise    SmoothFactor
	initialEstimatedError float64
}

// NewKalman creates a filter starting at zero.
func NewKalman(processNoise float64, sensorNoise SmoothFactor, estimatedError float64) *Kalman {
	return &Kalman{
		processNoise:          processNoise,
		sensorNoise:           sensorNoise,
		estimatedError:        estimatedError,
		initialProcessNoise:   processNoise,
		initialSensorNoise:    sensorNoise,
		initialEstimatedError: estimatedError,
	}
}

// Update folds in one measurement and returns the new estimate.
// The first update only moves partway towards the measurement.
func (k *Kalman) Update(measurement float64) float64 {
	k.estimatedError += k.processNoise
	k.gain = k.estimatedError / (k.estimatedError + float64(k.sensorNoise))
	k.value += k.gain * (measurement - k.value)
	k.estimatedError *= 1 - k.gain
	return k.value
}

// ResetParameters restores the noise and error parameters to their initial
// values. The current estimate is kept.
func (k *Kalman) ResetParameters() {
	k.processNoise = k.initialProcessNoise
	k.sensorNoise = k.initialSensorNoise
	k.estimatedError = k.initialEstimatedError
}

// SetProcessNoise overrides the process noise for subsequent updates.
func (k *Kalman) SetProcessNoise(noise float64) {
	k.processNoise = noise
}

func (k *Kalman) Value() float64          { return k.value }
func (k *Kalman) Gain() float64           { return k.gain }
func (k *Kalman) EstimatedError() float64 { return k.estimatedError }
func (k *Kalman) ProcessNoise() float64   { return k.processNoise }

package filter

import (
	"math"
	"time"

	"github.com/spop/grupetto/pkg/config"
)

// Smoother converts a raw stream into a smoothed one.
type Smoother interface {
	Update(measurement float64) float64
}

var (
	_ Smoother = (*Kalman)(nil)
	_ Smoother = (*AdaptiveSmoother)(nil)
	_ Smoother = (*StaleResetSmoother)(nil)
)

// adaptiveNoiseDivisor converts idle milliseconds into extra process noise.
const adaptiveNoiseDivisor = 100000

// staleThreshold is the smallest magnitude that counts as a live reading.
const staleThreshold = 0.01

// AdaptiveSmoother raises the process noise the longer a channel has only
// reported zero, so the estimate catches up quickly once riding resumes.
type AdaptiveSmoother struct {
	kalman      *Kalman
	baseNoise   float64
	lastNonZero time.Time
	now         func() time.Time
}

// NewAdaptiveSmoother creates an adaptive smoother from configuration.
func NewAdaptiveSmoother(cfg config.SmoothingConfig, now func() time.Time) (*AdaptiveSmoother, error) {
	factor, err := ParseSmoothFactor(cfg.SensorNoise)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}

	return &AdaptiveSmoother{
		kalman:      NewKalman(cfg.ProcessNoise, factor, cfg.EstimatedError),
		baseNoise:   cfg.ProcessNoise,
		lastNonZero: now(),
		now:         now,
	}, nil
}

// Update implements Smoother.
func (s *AdaptiveSmoother) Update(measurement float64) float64 {
	now := s.now()
	if measurement > 0 {
		s.lastNonZero = now
	}

	idle := now.Sub(s.lastNonZero).Milliseconds()
	s.kalman.SetProcessNoise(s.baseNoise + float64(idle)/adaptiveNoiseDivisor)
	return s.kalman.Update(measurement)
}

// Kalman exposes the underlying filter.
func (s *AdaptiveSmoother) Kalman() *Kalman { return s.kalman }

// StaleResetSmoother resets the filter parameters when the input has been
// flat at zero for longer than the parameter timeout, preventing the
// estimated error from drifting during long silences.
type StaleResetSmoother struct {
	kalman     *Kalman
	timeout    time.Duration
	lastChange time.Time
	now        func() time.Time
}

// NewStaleResetSmoother creates a stale-reset smoother from configuration.
func NewStaleResetSmoother(cfg config.SmoothingConfig, now func() time.Time) (*StaleResetSmoother, error) {
	factor, err := ParseSmoothFactor(cfg.SensorNoise)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}

	return &StaleResetSmoother{
		kalman:     NewKalman(cfg.ProcessNoise, factor, cfg.EstimatedError),
		timeout:    cfg.ParameterTimeout,
		lastChange: now(),
		now:        now,
	}, nil
}

// Update implements Smoother.
func (s *StaleResetSmoother) Update(measurement float64) float64 {
	now := s.now()
	if now.Sub(s.lastChange) > s.timeout {
		s.kalman.ResetParameters()
	}
	if math.Abs(measurement) > staleThreshold {
		s.lastChange = now
	}

	return s.kalman.Update(measurement)
}

// Kalman exposes the underlying filter.
func (s *StaleResetSmoother) Kalman() *Kalman { return s.kalman }

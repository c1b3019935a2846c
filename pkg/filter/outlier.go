package filter

import "github.com/spop/grupetto/pkg/config"

// OutlierRejector drops single implausible power spikes.
//
// At low power a corrupted byte can decode as a large jump. A sample is
// rejected, and the last accepted value returned instead, when the baseline
// is below the threshold, the jump exceeds delta, and fewer than
// maxRejections samples in a row have already been rejected.
type OutlierRejector struct {
	threshold     float64
	delta         float64
	maxRejections int

	lastAccepted float64
	rejections   int
}

// NewOutlierRejector creates a rejector from configuration.
func NewOutlierRejector(cfg config.OutlierConfig) *OutlierRejector {
	return &OutlierRejector{
		threshold:     cfg.Threshold,
		delta:         cfg.Delta,
		maxRejections: cfg.MaxRejections,
	}
}

// Accept filters one sample and returns the value to pass downstream.
func (r *OutlierRejector) Accept(sample float64) float64 {
	if r.lastAccepted < r.threshold &&
		sample-r.lastAccepted > r.delta &&
		r.rejections < r.maxRejections {
		r.rejections++
		return r.lastAccepted
	}

	r.rejections = 0
	r.lastAccepted = sample
	return sample
}

// LastAccepted returns the most recent accepted value.
func (r *OutlierRejector) LastAccepted() float64 {
	return r.lastAccepted
}

// Rejections returns the number of consecutive rejected samples.
func (r *OutlierRejector) Rejections() int {
	return r.rejections
}

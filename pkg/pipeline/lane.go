package pipeline

import (
	"fmt"
	"time"

	"github.com/spop/grupetto/pkg/config"
	"github.com/spop/grupetto/pkg/filter"
	"github.com/spop/grupetto/pkg/sensor"
)

// lane is the filter chain of one channel. It is confined to one goroutine.
type lane struct {
	channel sensor.Channel
	mailbox chan sensor.Sample

	rejector *filter.OutlierRejector // power only
	window   *filter.MinWindow       // resistance only
	smoother filter.Smoother
}

func newLane(c sensor.Channel, cfg *config.Config, now func() time.Time) (*lane, error) {
	l := &lane{
		channel: c,
		mailbox: make(chan sensor.Sample, 1),
	}

	var err error
	switch c {
	case sensor.Power:
		l.rejector = filter.NewOutlierRejector(cfg.Outlier)
		l.smoother, err = filter.NewAdaptiveSmoother(cfg.Smoothing, now)
	case sensor.Cadence:
		l.smoother, err = filter.NewAdaptiveSmoother(cfg.Smoothing, now)
	case sensor.Resistance:
		l.window = filter.NewMinWindow(cfg.Resistance.WindowSize)
		l.smoother, err = filter.NewStaleResetSmoother(cfg.Smoothing, now)
	default:
		return nil, fmt.Errorf("no filter chain for %s", c)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s smoother: %w", c, err)
	}

	return l, nil
}

// process runs one sample through the chain. ok is false while the
// resistance window is still filling. rejected reports whether the power
// rejector replaced the sample.
func (l *lane) process(s sensor.Sample) (value float64, ok, rejected bool) {
	v := s.Value

	if l.rejector != nil {
		before := l.rejector.Rejections()
		v = l.rejector.Accept(v)
		rejected = l.rejector.Rejections() > before
	}

	if l.window != nil {
		v, ok = l.window.Push(v)
		if !ok {
			return 0, false, rejected
		}
	}

	return l.smoother.Update(v), true, rejected
}

// flushed is a reading produced when the stream ends.
type flushed struct {
	raw   float64
	value float64
}

// flush runs the trailing partial windows of the resistance window through
// the smoother. raw is the unsmoothed window minimum.
func (l *lane) flush() []flushed {
	if l.window == nil {
		return nil
	}

	var out []flushed
	for _, v := range l.window.Flush() {
		out = append(out, flushed{raw: v, value: l.smoother.Update(v)})
	}
	return out
}

// deliver places s in the mailbox, replacing an unconsumed older sample.
// Returns false if a sample was superseded.
func (l *lane) deliver(s sensor.Sample) bool {
	select {
	case l.mailbox <- s:
		return true
	default:
	}

	select {
	case <-l.mailbox:
	default:
	}

	select {
	case l.mailbox <- s:
	default:
	}
	return false
}

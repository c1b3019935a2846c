// Package pipeline turns raw sensor frames into filtered channel readings
// and dead source advisories.
//
// Frames are decoded on the caller's goroutine and handed to one goroutine
// per channel through a single slot mailbox, so a slow channel only ever
// sees its most recent sample. Every decoded sample resets the liveness
// watchdog.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/spop/grupetto/pkg/config"
	"github.com/spop/grupetto/pkg/derive"
	"github.com/spop/grupetto/pkg/monitor"
	"github.com/spop/grupetto/pkg/sensor"
	"github.com/spop/grupetto/pkg/source"
	"github.com/spop/grupetto/pkg/watchdog"
)

const (
	sinkQueueSize = 256
	sinkTimeout   = 5 * time.Second
)

// ErrAlreadyRunning is returned by every Run call after the first.
var ErrAlreadyRunning = errors.New("pipeline already running")

// Pipeline owns the per-channel filters and the watchdog.
type Pipeline struct {
	log      logrus.FieldLogger
	now      func() time.Time
	session  string
	unit     derive.Unit
	metrics  *monitor.Metrics
	watchdog *watchdog.Watchdog

	decoders map[sensor.Channel]*sensor.Decoder
	lanes    map[sensor.Channel]*lane

	mu     sync.RWMutex
	latest map[string]Reading

	cbMu     sync.RWMutex
	updates  []func(Reading)
	liveness []func(watchdog.Event)

	sinks []Sink
	queue chan dispatchItem

	running atomic.Bool
}

type dispatchItem struct {
	reading *Reading
	event   *watchdog.Event
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the clock used by the filters and the watchdog.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithMetrics records pipeline health in m.
func WithMetrics(m *monitor.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithSession sets the session id tagged on every reading.
func WithSession(id string) Option {
	return func(p *Pipeline) {
		p.session = id
	}
}

// WithSinks adds sinks that receive every reading and advisory.
func WithSinks(sinks ...Sink) Option {
	return func(p *Pipeline) {
		p.sinks = append(p.sinks, sinks...)
	}
}

// New creates a pipeline from configuration.
func New(cfg *config.Config, log logrus.FieldLogger, opts ...Option) (*Pipeline, error) {
	unit, err := derive.ParseUnit(cfg.HUD.SpeedUnit)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		log:      log,
		now:      time.Now,
		unit:     unit,
		decoders: make(map[sensor.Channel]*sensor.Decoder, len(sensor.Channels)),
		lanes:    make(map[sensor.Channel]*lane, len(sensor.Channels)),
		latest:   make(map[string]Reading),
		queue:    make(chan dispatchItem, sinkQueueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.session == "" {
		p.session = uuid.NewString()
	}
	if p.metrics == nil {
		p.metrics = monitor.New()
	}
	p.log = p.log.WithField("session", p.session)

	for _, c := range sensor.Channels {
		d, err := sensor.NewDecoder(c)
		if err != nil {
			return nil, err
		}
		p.decoders[c] = d

		l, err := newLane(c, cfg, p.now)
		if err != nil {
			return nil, err
		}
		p.lanes[c] = l
	}

	p.watchdog = watchdog.New(cfg.Watchdog, watchdog.WithClock(p.now))

	return p, nil
}

// Session returns the id tagged on every reading.
func (p *Pipeline) Session() string {
	return p.session
}

// Metrics returns the metrics the pipeline records into.
func (p *Pipeline) Metrics() *monitor.Metrics {
	return p.metrics
}

// OnUpdate registers a callback invoked for every reading. Callbacks run on
// the channel goroutines and must not block.
func (p *Pipeline) OnUpdate(fn func(Reading)) {
	p.cbMu.Lock()
	defer p.cbMu.Unlock()
	p.updates = append(p.updates, fn)
}

// OnLiveness registers a callback invoked for every dead source advisory.
func (p *Pipeline) OnLiveness(fn func(watchdog.Event)) {
	p.cbMu.Lock()
	defer p.cbMu.Unlock()
	p.liveness = append(p.liveness, fn)
}

// Latest returns the most recent reading of every channel and derived quantity.
func (p *Pipeline) Latest() map[string]Reading {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]Reading, len(p.latest))
	for k, v := range p.latest {
		out[k] = v
	}
	return out
}

// Advisory returns the dead source advisory currently shown, if any.
func (p *Pipeline) Advisory() (watchdog.Event, bool) {
	return p.watchdog.Active()
}

// Dismiss hides the current advisory. A later silence can raise a new one
// once the cooldown has passed.
func (p *Pipeline) Dismiss() {
	p.watchdog.Dismiss()
}

// Run processes frames until the channel is closed or ctx is cancelled.
// Samples already handed to a channel are filtered before Run returns.
// Returns ctx.Err() if the pipeline was cancelled. A pipeline runs once.
func (p *Pipeline) Run(ctx context.Context, frames <-chan source.Frame) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	p.metrics.SessionStarted.Set(float64(p.now().Unix()))
	p.log.Info("Pipeline started")

	wdCtx, cancelWatchdog := context.WithCancel(ctx)
	defer cancelWatchdog()

	var dispatcher sync.WaitGroup
	dispatcher.Go(func() { p.dispatch(ctx) })

	var liveness sync.WaitGroup
	liveness.Go(func() { p.watchdog.Run(wdCtx) })
	liveness.Go(func() { p.forwardLiveness(wdCtx) })

	var lanes sync.WaitGroup
	for _, l := range p.lanes {
		lanes.Go(func() { p.runLane(ctx, l) })
	}

	p.demux(ctx, frames)

	for _, l := range p.lanes {
		close(l.mailbox)
	}
	lanes.Wait()

	cancelWatchdog()
	liveness.Wait()

	close(p.queue)
	dispatcher.Wait()

	p.log.Info("Pipeline stopped")
	return ctx.Err()
}

func (p *Pipeline) demux(ctx context.Context, frames <-chan source.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			p.route(f)
		}
	}
}

// route decodes f and hands the sample to its channel.
func (p *Pipeline) route(f source.Frame) {
	name := f.Channel.String()
	p.metrics.FramesReceived.WithLabelValues(name).Inc()

	d, ok := p.decoders[f.Channel]
	if !ok {
		p.log.WithField("channel", name).Warn("Frame for unknown channel")
		return
	}

	s, err := d.Decode(f.Raw)
	if err != nil {
		p.handleFault(err)
		return
	}
	if !f.Timestamp.IsZero() {
		s.Timestamp = f.Timestamp
	}

	p.metrics.SamplesDecoded.WithLabelValues(name).Inc()
	p.watchdog.Arrive()

	if !p.lanes[f.Channel].deliver(s) {
		p.metrics.FramesDropped.Inc()
	}
}

func (p *Pipeline) handleFault(err error) {
	var fault *sensor.Fault
	if !errors.As(err, &fault) {
		p.log.WithError(err).Error("Unexpected decode error")
		return
	}

	p.metrics.Faults.WithLabelValues(fault.Channel.String(), fault.Kind.String()).Inc()

	entry := p.log.WithFields(logrus.Fields{
		"channel": fault.Channel.String(),
		"kind":    fault.Kind.String(),
	})
	if fault.Kind == sensor.FaultTimeout {
		entry.Debug(fault.Error())
		return
	}
	entry.Warn(fault.Error())
}

func (p *Pipeline) runLane(ctx context.Context, l *lane) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-l.mailbox:
			if !ok {
				for _, f := range l.flush() {
					p.publishChannel(l.channel, f.raw, f.value, p.now())
				}
				return
			}
			p.handleSample(l, s)
		}
	}
}

func (p *Pipeline) handleSample(l *lane, s sensor.Sample) {
	v, ok, rejected := l.process(s)
	if rejected {
		p.metrics.Rejections.Inc()
		p.log.WithFields(logrus.Fields{
			"channel":    l.channel.String(),
			"rejections": l.rejector.Rejections(),
		}).Warnf("Ignoring spurious sensor data %.1f", s.Value)
	}
	if !ok {
		return
	}

	p.publishChannel(l.channel, s.Value, v, s.Timestamp)
}

// publishChannel emits a channel reading and, for power, the derived speed.
func (p *Pipeline) publishChannel(c sensor.Channel, raw, value float64, ts time.Time) {
	p.emit(Reading{Channel: c.String(), Raw: raw, Value: value, Timestamp: ts})

	if c == sensor.Power {
		p.emit(Reading{
			Channel:   Speed,
			Raw:       derive.Speed(raw, p.unit),
			Value:     derive.Speed(value, p.unit),
			Timestamp: ts,
		})
	}
}

func (p *Pipeline) emit(r Reading) {
	r.Session = p.session

	p.mu.Lock()
	p.latest[r.Channel] = r
	p.mu.Unlock()

	p.metrics.ChannelValue.WithLabelValues(r.Channel).Set(r.Value)

	p.cbMu.RLock()
	callbacks := p.updates
	p.cbMu.RUnlock()
	for _, fn := range callbacks {
		fn(r)
	}

	if len(p.sinks) > 0 {
		p.enqueue(dispatchItem{reading: &r})
	}
}

func (p *Pipeline) forwardLiveness(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.watchdog.Events():
			p.metrics.LivenessAlerts.Inc()
			p.log.WithField("timeout_count", p.watchdog.Timeouts()).Warn(ev.Message)

			p.cbMu.RLock()
			callbacks := p.liveness
			p.cbMu.RUnlock()
			for _, fn := range callbacks {
				fn(ev)
			}

			if len(p.sinks) > 0 {
				p.enqueue(dispatchItem{event: &ev})
			}
		}
	}
}

// enqueue hands an item to the sink goroutine, discarding the oldest
// queued item when the sinks fall behind.
func (p *Pipeline) enqueue(item dispatchItem) {
	select {
	case p.queue <- item:
		return
	default:
	}

	select {
	case <-p.queue:
		p.log.Debug("Sink queue full, dropped oldest item")
	default:
	}

	select {
	case p.queue <- item:
	default:
	}
}

func (p *Pipeline) dispatch(ctx context.Context) {
	base := context.WithoutCancel(ctx)

	for item := range p.queue {
		start := time.Now()
		for _, s := range p.sinks {
			if err := p.deliverTo(base, s, item); err != nil {
				p.metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
				p.log.WithError(err).WithField("sink", s.Name()).Warn("Failed to deliver to sink")
			}
		}
		p.metrics.PublishDuration.Observe(time.Since(start).Seconds())
	}
}

func (p *Pipeline) deliverTo(base context.Context, s Sink, item dispatchItem) error {
	ctx, cancel := context.WithTimeout(base, sinkTimeout)
	defer cancel()

	switch {
	case item.reading != nil:
		return s.Publish(ctx, *item.reading)
	case item.event != nil:
		return s.Alert(ctx, *item.event)
	default:
		return fmt.Errorf("empty dispatch item")
	}
}

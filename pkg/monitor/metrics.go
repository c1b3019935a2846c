// Package monitor exposes pipeline health as prometheus metrics.
package monitor

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "grupetto"

// Metrics holds the pipeline collectors on a private registry so several
// pipelines (and tests) do not collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	FramesReceived  *prometheus.CounterVec
	SamplesDecoded  *prometheus.CounterVec
	Faults          *prometheus.CounterVec
	Rejections      prometheus.Counter
	LivenessAlerts  prometheus.Counter
	FramesDropped   prometheus.Counter
	ChannelValue    *prometheus.GaugeVec
	SinkErrors      *prometheus.CounterVec
	GoroutineCount  prometheus.Gauge
	MemoryUsage     prometheus.Gauge
	SessionStarted  prometheus.Gauge
	PublishDuration prometheus.Histogram
}

// New creates and registers the pipeline metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Raw frames received from the source.",
		}, []string{"channel"}),
		SamplesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_decoded_total",
			Help:      "Frames successfully decoded into samples.",
		}, []string{"channel"}),
		Faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_total",
			Help:      "Recoverable channel faults.",
		}, []string{"channel", "kind"}),
		Rejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "power_rejections_total",
			Help:      "Spurious power readings replaced by the last accepted value.",
		}),
		LivenessAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liveness_alerts_total",
			Help:      "Dead source advisories raised.",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_superseded_total",
			Help:      "Frames replaced by a newer one before processing.",
		}),
		ChannelValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_value",
			Help:      "Latest smoothed value per channel.",
		}, []string{"channel"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed deliveries to reading sinks.",
		}, []string{"sink"}),
		GoroutineCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines.",
		}),
		MemoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_usage_bytes",
			Help:      "Allocated heap memory.",
		}),
		SessionStarted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_start_timestamp_seconds",
			Help:      "Unix time the current pipeline session started.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Time spent delivering one reading to all sinks.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.FramesReceived,
		m.SamplesDecoded,
		m.Faults,
		m.Rejections,
		m.LivenessAlerts,
		m.FramesDropped,
		m.ChannelValue,
		m.SinkErrors,
		m.GoroutineCount,
		m.MemoryUsage,
		m.SessionStarted,
		m.PublishDuration,
	)

	return m
}

// Registry returns the registry holding the pipeline metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RunRuntimeMonitor samples goroutine and memory usage every period until
// ctx is cancelled.
func (m *Metrics) RunRuntimeMonitor(ctx context.Context, period time.Duration, log logrus.FieldLogger) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		m.sampleRuntime(log)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Metrics) sampleRuntime(log logrus.FieldLogger) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	goroutines := runtime.NumGoroutine()
	m.GoroutineCount.Set(float64(goroutines))
	m.MemoryUsage.Set(float64(memStats.Alloc))

	log.Debugf("Goroutines: %d, memory: %.2f MB", goroutines, float64(memStats.Alloc)/1024/1024)
}

package publish

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/spop/grupetto/pkg/config"
	"github.com/spop/grupetto/pkg/pipeline"
	"github.com/spop/grupetto/pkg/watchdog"
)

var _ pipeline.Sink = (*Influx)(nil)

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Influx records every reading as a point tagged with channel and session.
type Influx struct {
	client      influxdb2.Client
	writer      pointWriter
	measurement string
}

// NewInflux creates a recorder writing to the configured bucket.
func NewInflux(cfg config.InfluxConfig) *Influx {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Influx{
		client:      client,
		writer:      client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: cfg.Measurement,
	}
}

// Name implements pipeline.Sink.
func (i *Influx) Name() string { return "influx" }

// Publish writes one point per reading.
func (i *Influx) Publish(ctx context.Context, r pipeline.Reading) error {
	p := influxdb2.NewPoint(
		i.measurement,
		map[string]string{"channel": r.Channel, "session": r.Session},
		map[string]interface{}{"value": r.Value, "raw": r.Raw},
		r.Timestamp,
	)
	if err := i.writer.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("failed to write %s point: %w", r.Channel, err)
	}
	return nil
}

// Alert records an advisory as an event point.
func (i *Influx) Alert(ctx context.Context, ev watchdog.Event) error {
	p := influxdb2.NewPoint(
		i.measurement+"_advisory",
		nil,
		map[string]interface{}{"message": ev.Message},
		ev.Time,
	)
	if err := i.writer.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("failed to write advisory point: %w", err)
	}
	return nil
}

// Close releases the client.
func (i *Influx) Close() {
	if i.client != nil {
		i.client.Close()
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spop/grupetto/pkg/config"
	"github.com/spop/grupetto/pkg/hud"
	"github.com/spop/grupetto/pkg/monitor"
	"github.com/spop/grupetto/pkg/pipeline"
	"github.com/spop/grupetto/pkg/publish"
	"github.com/spop/grupetto/pkg/source"
)

const runtimeSamplePeriod = 10 * time.Second

// overrides are command line settings that take precedence over the config file.
type overrides struct {
	port     string
	mock     bool
	dead     bool
	logLevel string
}

func (o overrides) apply(cfg *config.Config) {
	if o.port != "" {
		cfg.Source.Port = o.port
	}
	switch {
	case o.dead:
		cfg.Source.Kind = config.SourceDead
	case o.mock:
		cfg.Source.Kind = config.SourceMock
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
}

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., /dev/ttyUSB0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Use simulated sensors instead of the serial bridge")
		deadFlag   = flag.Bool("dead", false, "Use a source that never reports, to check dead sensor detection")
		logFlag    = flag.String("log", "", "Log level override (debug, info, warn, error)")
		listFlag   = flag.Bool("list-ports", false, "List serial ports and exit")
		saveFlag   = flag.String("save-config", "", "Write the effective configuration to this file and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	overrides{
		port:     *portFlag,
		mock:     *mockFlag,
		dead:     *deadFlag,
		logLevel: *logFlag,
	}.apply(cfg)

	log := cfg.Log.NewLogger()

	if *listFlag {
		if err := listPorts(); err != nil {
			log.Fatal(err)
		}
		return
	}

	if *saveFlag != "" {
		if err := cfg.Save(*saveFlag); err != nil {
			log.Fatal(err)
		}
		log.Infof("Configuration written to %s", *saveFlag)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("Service stopped")
	}
	log.Info("Shutting down")
}

func listPorts() error {
	ports, err := source.Ports()
	if err != nil {
		return err
	}
	for _, p := range ports {
		fmt.Fprintln(os.Stdout, p.Name)
	}
	return nil
}

// run wires the source, pipeline, sinks and HUD together and blocks until
// ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	metrics := monitor.New()

	sinks, closeSinks, err := openSinks(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSinks()

	p, err := pipeline.New(cfg, log, pipeline.WithMetrics(metrics), pipeline.WithSinks(sinks...))
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := source.New(cfg, log)
	if err != nil {
		return err
	}
	if err := src.Connect(); err != nil {
		return fmt.Errorf("failed to connect %s source: %w", cfg.Source.Kind, err)
	}
	defer src.Close()

	log.WithFields(logrus.Fields{
		"source":  cfg.Source.Kind,
		"session": p.Session(),
	}).Info("Sensor source connected")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Go(func() { metrics.RunRuntimeMonitor(runCtx, runtimeSamplePeriod, log) })

	if cfg.HUD.Addr != "" {
		server := hud.New(cfg.HUD, p, log, metrics.Handler())
		wg.Go(func() {
			if err := server.Run(runCtx); err != nil {
				log.WithError(err).Error("HUD server stopped")
			}
		})
	}

	err = p.Run(runCtx, src.Frames())

	cancel()
	wg.Wait()

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

// openSinks connects the configured reading sinks.
func openSinks(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) ([]pipeline.Sink, func(), error) {
	var (
		sinks   []pipeline.Sink
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.Redis.Addr != "" {
		r, err := publish.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, closeAll, err
		}
		sinks = append(sinks, r)
		closers = append(closers, func() {
			if err := r.Close(); err != nil {
				log.WithError(err).Warn("Error closing redis connection")
			}
		})
		log.Infof("Publishing readings to redis at %s", cfg.Redis.Addr)
	}

	if cfg.Influx.URL != "" {
		i := publish.NewInflux(cfg.Influx)
		sinks = append(sinks, i)
		closers = append(closers, i.Close)
		log.Infof("Recording readings to influxdb at %s", cfg.Influx.URL)
	}

	return sinks, closeAll, nil
}
